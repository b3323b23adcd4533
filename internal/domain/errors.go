package domain

import "errors"

var (
	// ErrInvalidTransition — попытка недопустимого перехода состояния.
	// Не фатальна: вызывающий получает false и сам решает, что делать.
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrAlreadyProcessed — решение по заявке уже принято ранее (Double Decision)
	ErrAlreadyProcessed = errors.New("approval request already processed")

	// ErrNotFound — неизвестный agent/approval id. Фатальна для вызывающего шага.
	ErrNotFound = errors.New("record not found")

	// ErrApprovalTimeout — дедлайн ожидания решения оператора вышел
	ErrApprovalTimeout = errors.New("approval deadline exceeded")

	// ErrRecoveryExhausted — лимит попыток восстановления исчерпан, агент уходит в FAILED
	ErrRecoveryExhausted = errors.New("recovery attempts exhausted")
)
