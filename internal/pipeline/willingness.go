package pipeline

import (
	"context"
	"log/slog"

	"personabot/internal/domain"
	"personabot/internal/metrics"
	"personabot/internal/relationship"
	"personabot/internal/willing"
)

const activityWindow = 10

// willingnessChecker consults the willingness engine and suppresses the turn
// on a reject. On accept it records the chosen attitude for the composer and
// nudges the sender's relationship impression.
type willingnessChecker struct {
	engine    *willing.Engine
	relations *relationship.Manager
	memory    domain.MemoryStore
	selfID    string
	logger    *slog.Logger
}

func newWillingnessChecker(engine *willing.Engine, relations *relationship.Manager, memory domain.MemoryStore, selfID string, logger *slog.Logger) *willingnessChecker {
	if logger == nil {
		logger = slog.Default()
	}
	return &willingnessChecker{
		engine:    engine,
		relations: relations,
		memory:    memory,
		selfID:    selfID,
		logger:    logger,
	}
}

func (s *willingnessChecker) Name() string { return StageWillingness }

func (s *willingnessChecker) Process(ctx context.Context, mc *Context) error {
	if s.engine == nil {
		return nil
	}
	intent := mc.StringOutput(OutputIntent)
	recent, self := s.recentActivity(ctx, mc.Message)

	decision := s.engine.Evaluate(willing.Request{
		Message:     mc.Message,
		Intent:      intent,
		RecentTurns: recent,
		SelfTurns:   self,
	})
	mc.Outputs[OutputDecision] = decision
	mc.Outputs[OutputAttitude] = string(decision.Attitude)

	if !decision.Respond {
		metrics.WillingnessRejected.Inc()
		mc.ShouldReply = false
		return nil
	}
	metrics.WillingnessAccepted.Inc()
	if s.relations != nil {
		s.relations.Observe(mc.Message.SenderID, likabilityDelta(intent))
	}
	return nil
}

// recentActivity counts how many of the conversation's last turns the bot
// authored. Storage failures degrade to "no activity data".
func (s *willingnessChecker) recentActivity(ctx context.Context, msg domain.InternalMessage) (recent, self int) {
	if s.memory == nil {
		return 0, 0
	}
	records, err := s.memory.GetRecent(ctx, msg.ConversationKey(), activityWindow)
	if err != nil {
		s.logger.Warn("recent activity lookup failed", "key", msg.ConversationKey(), "error", err)
		return 0, 0
	}
	for _, rec := range records {
		if rec.Role == "bot" || rec.SenderID == s.selfID {
			self++
		}
	}
	return len(records), self
}

func likabilityDelta(intent string) float64 {
	switch intent {
	case "offensive":
		return -0.05
	case "greetings", "greeting_to_me":
		return 0.02
	default:
		return 0.01
	}
}
