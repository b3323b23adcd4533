package infra

const (
	// RedisNamespace Базовый префикс для изоляции данных проекта в Redis
	RedisNamespace = "saba"
)

// Каналы Pub/Sub (события)
const (
	// RedisChanCommands — единственный упорядоченный канал типизированных
	// команд администратора (CreateAgent, StopAgent, ApprovalResponse...).
	// Вычитывается одним циклом диспетчера оркестратора.
	RedisChanCommands = RedisNamespace + ":commands"

	// RedisChanNotify — канал уведомлений для админ-консоли
	// (запросы на апрув, алерты, статусы, отчеты об ошибках).
	RedisChanNotify = RedisNamespace + ":notifications"
)
