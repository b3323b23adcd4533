package notify

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/20SB/saba/internal/infra"
)

// Severity уведомления для админ-канала
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Kind — класс сообщения. Рендеринг и экранирование — забота канала-потребителя.
type Kind string

const (
	KindApprovalRequest Kind = "approval_request"
	KindStatusUpdate    Kind = "status_update"
	KindAlert           Kind = "alert"
	KindError           Kind = "error"
	KindSuccess         Kind = "success"
)

// Message — JSON-конверт уведомления. Адресация по имени агента.
type Message struct {
	ID        string    `json:"id"`
	Kind      Kind      `json:"kind"`
	Severity  Severity  `json:"severity"`
	AgentName string    `json:"agent_name"`
	Title     string    `json:"title"`
	Body      string    `json:"body"`
	// Для approval_request: оператору нужны id заявки и доступные действия
	ApprovalID string   `json:"approval_id,omitempty"`
	Actions    []string `json:"actions,omitempty"` // ["approve", "reject"]
	SentAt     time.Time `json:"sent_at"`
}

// Notifier — контракт админ-канала для всех движков оркестратора
type Notifier interface {
	ApprovalRequested(ctx context.Context, agentName, approvalID, details string)
	StatusUpdate(ctx context.Context, agentName, text string)
	Alert(ctx context.Context, agentName, text string, severity Severity)
	Error(ctx context.Context, agentName, text string)
	Success(ctx context.Context, agentName, text string)
}

// RedisNotifier публикует уведомления в Pub/Sub канал консоли.
// Если Redis недоступен, сообщение остается хотя бы в zap-логе (Fail-Safe).
type RedisNotifier struct {
	rdb    *redis.Client
	logger *zap.Logger
}

func NewRedisNotifier(rdb *redis.Client, logger *zap.Logger) *RedisNotifier {
	return &RedisNotifier{
		rdb:    rdb,
		logger: logger.With(zap.String("mod", "notifier")),
	}
}

func (n *RedisNotifier) publish(ctx context.Context, msg Message) {
	msg.ID = uuid.New().String()
	msg.SentAt = time.Now()

	n.logger.Info("admin notification",
		zap.String("kind", string(msg.Kind)),
		zap.String("severity", string(msg.Severity)),
		zap.String("agent", msg.AgentName),
		zap.String("title", msg.Title),
	)

	raw, err := json.Marshal(msg)
	if err != nil {
		n.logger.Error("failed to marshal notification", zap.Error(err))
		return
	}
	if err := n.rdb.Publish(ctx, infra.RedisChanNotify, raw).Err(); err != nil {
		n.logger.Warn("notification delivery failed", zap.Error(err))
	}
}

func (n *RedisNotifier) ApprovalRequested(ctx context.Context, agentName, approvalID, details string) {
	n.publish(ctx, Message{
		Kind:       KindApprovalRequest,
		Severity:   SeverityWarning,
		AgentName:  agentName,
		Title:      "Approval required",
		Body:       details,
		ApprovalID: approvalID,
		Actions:    []string{"approve", "reject"},
	})
}

func (n *RedisNotifier) StatusUpdate(ctx context.Context, agentName, text string) {
	n.publish(ctx, Message{Kind: KindStatusUpdate, Severity: SeverityInfo, AgentName: agentName, Title: "Status update", Body: text})
}

func (n *RedisNotifier) Alert(ctx context.Context, agentName, text string, severity Severity) {
	n.publish(ctx, Message{Kind: KindAlert, Severity: severity, AgentName: agentName, Title: "Alert", Body: text})
}

func (n *RedisNotifier) Error(ctx context.Context, agentName, text string) {
	n.publish(ctx, Message{Kind: KindError, Severity: SeverityCritical, AgentName: agentName, Title: "Error", Body: text})
}

func (n *RedisNotifier) Success(ctx context.Context, agentName, text string) {
	n.publish(ctx, Message{Kind: KindSuccess, Severity: SeverityInfo, AgentName: agentName, Title: "Success", Body: text})
}
