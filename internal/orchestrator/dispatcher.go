package orchestrator

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/20SB/saba/internal/domain"
	"github.com/20SB/saba/internal/infra"
)

const commandQueueSize = 1024

// Dispatcher — единственный упорядоченный цикл обработки команд оператора.
// "Живучий" подписчик Redis декодирует JSON-конверты и складывает их во
// внутреннюю очередь; цикл Run вычитывает ее последовательно, так что команды
// по одному агенту применяются в порядке публикации.
type Dispatcher struct {
	rdb      *redis.Client
	workflow *Workflow
	logger   *zap.Logger
	metrics  *Metrics

	queue chan domain.Command
}

func NewDispatcher(rdb *redis.Client, workflow *Workflow, logger *zap.Logger, metrics *Metrics) *Dispatcher {
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	return &Dispatcher{
		rdb:      rdb,
		workflow: workflow,
		logger:   logger.With(zap.String("mod", "dispatcher")),
		metrics:  metrics,
		queue:    make(chan domain.Command, commandQueueSize),
	}
}

// Enqueue кладет команду в очередь в обход Redis (для локальных вызовов).
// При переполнении команда отбрасывается с ошибкой в лог — backpressure
// на командном канале означает, что оркестратор уже не справляется.
func (d *Dispatcher) Enqueue(cmd domain.Command) bool {
	select {
	case d.queue <- cmd:
		return true
	default:
		d.logger.Error("command queue overflow, dropping command",
			zap.String("command_id", cmd.ID),
			zap.String("type", string(cmd.Type)))
		return false
	}
}

// Run блокирует до отмены контекста: поднимает подписчика и крутит цикл
// обработки. Команды выполняются последовательно; только CreateAgent
// уходит в фоновый pipeline внутри воркфлоу.
func (d *Dispatcher) Run(ctx context.Context) {
	go d.listen(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case cmd := <-d.queue:
			d.metrics.CommandsTotal.WithLabelValues(string(cmd.Type)).Inc()
			d.handle(ctx, cmd)
		}
	}
}

func (d *Dispatcher) handle(ctx context.Context, cmd domain.Command) {
	d.logger.Info("handling command",
		zap.String("command_id", cmd.ID),
		zap.String("type", string(cmd.Type)),
		zap.String("issued_by", cmd.IssuedBy))

	switch cmd.Type {
	case domain.CmdCreateAgent:
		d.workflow.HandleCreate(ctx, cmd)
	case domain.CmdStopAgent:
		d.workflow.HandleStop(ctx, cmd)
	case domain.CmdStartAgent:
		d.workflow.HandleStart(ctx, cmd)
	case domain.CmdDeleteAgent:
		d.workflow.HandleDelete(ctx, cmd)
	case domain.CmdApprovalResponse:
		d.workflow.HandleApprovalResponse(ctx, cmd)
	default:
		d.logger.Warn("unknown command type", zap.String("type", string(cmd.Type)))
	}
}

// listen — универсальный цикл "живучей" подписки на командный канал.
// Обрабатывает переподключения, логирование и разбор конвертов.
func (d *Dispatcher) listen(ctx context.Context) {
	channel := infra.RedisChanCommands

	for {
		if ctx.Err() != nil {
			return
		}

		pubsub := d.rdb.Subscribe(ctx, channel)

		// Проверка успешности подписки
		if _, err := pubsub.Receive(ctx); err != nil {
			if ctx.Err() != nil {
				pubsub.Close()
				return
			}
			d.logger.Error("failed to subscribe", zap.String("chan", channel), zap.Error(err))
			pubsub.Close()
			time.Sleep(5 * time.Second)
			continue
		}

		d.logger.Info("command channel subscribed", zap.String("chan", channel))
		ch := pubsub.Channel()

	loop:
		for {
			select {
			case <-ctx.Done():
				pubsub.Close()
				return
			case msg, ok := <-ch:
				if !ok {
					break loop // Канал закрыт, идем на переподключение
				}

				var cmd domain.Command
				if err := json.Unmarshal([]byte(msg.Payload), &cmd); err != nil {
					d.logger.Error("invalid command envelope",
						zap.String("payload", msg.Payload), zap.Error(err))
					continue
				}
				d.Enqueue(cmd)
			}
		}

		pubsub.Close()
		time.Sleep(1 * time.Second)
	}
}
