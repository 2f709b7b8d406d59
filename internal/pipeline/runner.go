package pipeline

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"personabot/internal/bus"
	"personabot/internal/domain"
	"personabot/internal/metrics"
	"personabot/internal/onebot"
)

const defaultTurnTimeout = 2 * time.Minute

// Sender delivers an outbound action to the platform through the bridge.
type Sender interface {
	SendAction(ctx context.Context, frame onebot.ActionFrame) error
}

// Runner subscribes the pipeline to the event bus and drives one run per
// inbound message. Concurrent turns are bounded; each turn stamps its
// conversation turns into memory and sends the reply through the bridge.
type Runner struct {
	pipeline *Pipeline
	bus      *bus.EventBus
	adapter  *onebot.Adapter
	sender   Sender
	memory   domain.MemoryStore
	logger   *slog.Logger

	timeout time.Duration
	sem     chan struct{}
	wg      sync.WaitGroup

	subID int64
	ctx   context.Context
}

// NewRunner wires a runner. maxConcurrent bounds in-flight turns; values
// below 1 mean a single turn at a time.
func NewRunner(p *Pipeline, b *bus.EventBus, adapter *onebot.Adapter, sender Sender, memory domain.MemoryStore, maxConcurrent int, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	return &Runner{
		pipeline: p,
		bus:      b,
		adapter:  adapter,
		sender:   sender,
		memory:   memory,
		logger:   logger,
		timeout:  defaultTurnTimeout,
		sem:      make(chan struct{}, maxConcurrent),
	}
}

// Start subscribes to inbound messages. ctx bounds every turn started after
// this call; cancelling it stops new work.
func (r *Runner) Start(ctx context.Context) {
	r.ctx = ctx
	r.subID = r.bus.Subscribe(bus.TopicMessageReceived, func(_ string, payload any) {
		msg, ok := payload.(domain.InternalMessage)
		if !ok {
			r.logger.Warn("unexpected payload on message topic")
			return
		}
		r.handle(msg)
	})
	r.logger.Info("pipeline runner started", "max_concurrent", cap(r.sem))
}

// Stop unsubscribes and waits for in-flight turns to finish.
func (r *Runner) Stop() {
	r.bus.Unsubscribe(bus.TopicMessageReceived, r.subID)
	r.wg.Wait()
	r.logger.Info("pipeline runner stopped")
}

func (r *Runner) handle(msg domain.InternalMessage) {
	// Register with the wait group before blocking on the semaphore so Stop
	// cannot return while a dispatched turn is still queued.
	r.wg.Add(1)
	defer r.wg.Done()

	select {
	case r.sem <- struct{}{}:
	case <-r.ctx.Done():
		return
	}
	defer func() { <-r.sem }()

	ctx, cancel := context.WithTimeout(r.ctx, r.timeout)
	defer cancel()

	metrics.MessagesTotal.Inc()
	start := time.Now()

	r.rememberTurn(ctx, msg.SenderID, msg.GroupID, "user", msg.Text)

	mc := NewContext(msg)
	r.pipeline.Run(ctx, mc)
	metrics.PipelineLatency.Observe(time.Since(start).Seconds())

	if mc.Err != nil {
		metrics.StageErrors.Inc()
		r.logger.Error("turn failed", "message_id", msg.ID, "error", mc.Err)
		return
	}
	if mc.Reply == "" {
		return
	}

	if err := r.sendReply(ctx, msg, mc.Reply); err != nil {
		r.logger.Error("reply send failed", "message_id", msg.ID, "error", err)
		return
	}
	metrics.RepliesTotal.Inc()
	r.rememberTurn(ctx, r.adapter.SelfID(), msg.GroupID, "bot", mc.Reply)

	r.bus.Publish(bus.TopicReplySent, domain.InternalMessage{
		ID:        uuid.NewString(),
		SenderID:  r.adapter.SelfID(),
		GroupID:   msg.GroupID,
		Text:      mc.Reply,
		Timestamp: time.Now(),
	})
}

func (r *Runner) sendReply(ctx context.Context, msg domain.InternalMessage, reply string) error {
	segments := onebot.TextSegments(reply)
	params := map[string]any{"message": segments}
	if msg.IsGroup() {
		params["detail_type"] = "group"
		params["group_id"] = msg.GroupID
		// Thread the reply in busy group chats.
		params["message"] = onebot.ReplyTo(msg.ID, segments)
	} else {
		params["detail_type"] = "private"
		params["user_id"] = msg.SenderID
	}
	return r.sender.SendAction(ctx, onebot.ActionFrame{
		Action: "send_message",
		Params: params,
		Echo:   uuid.NewString(),
	})
}

func (r *Runner) rememberTurn(ctx context.Context, senderID, groupID, role, content string) {
	if r.memory == nil || content == "" {
		return
	}
	_, err := r.memory.Add(ctx, domain.Record{
		SenderID:  senderID,
		GroupID:   groupID,
		Role:      role,
		Content:   content,
		CreatedAt: time.Now(),
	})
	if err != nil {
		r.logger.Warn("memory write failed", "role", role, "error", err)
	}
}
