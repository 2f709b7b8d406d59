package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"strings"
	"time"

	"personabot/internal/domain"
	"personabot/internal/emotion"
	"personabot/internal/metrics"
	"personabot/internal/persona"
)

const historyTurns = 8

// responseComposer assembles the final prompt from the persona, the sampled
// attitude, the current mood, recent conversation turns, and the internal
// thought, then asks the generation service for a reply. Generation failure,
// empty output, and oversized output all degrade to a canned fallback; the
// turn never errors out because the model misbehaved.
type responseComposer struct {
	generator domain.GenerationService
	memory    domain.MemoryStore
	emotions  *emotion.Machine
	persona   *persona.Persona
	logger    *slog.Logger
}

func newResponseComposer(gen domain.GenerationService, mem domain.MemoryStore, em *emotion.Machine, p *persona.Persona, logger *slog.Logger) *responseComposer {
	if logger == nil {
		logger = slog.Default()
	}
	if p == nil {
		p = persona.Default()
	}
	return &responseComposer{generator: gen, memory: mem, emotions: em, persona: p, logger: logger}
}

func (s *responseComposer) Name() string { return StageComposer }

func (s *responseComposer) Process(ctx context.Context, mc *Context) error {
	attitude := mc.StringOutput(OutputAttitude)

	reply, ok := s.generate(ctx, mc, attitude)
	if !ok {
		reply = s.fallback(attitude)
	}
	mc.Reply = reply
	return nil
}

func (s *responseComposer) generate(ctx context.Context, mc *Context, attitude string) (string, bool) {
	if s.generator == nil {
		return "", false
	}
	prompt := domain.Prompt{
		Messages:  s.buildMessages(ctx, mc, attitude),
		MaxTokens: 400,
	}

	start := time.Now()
	reply, err := s.generator.Generate(ctx, prompt)
	metrics.GenerationLatency.Observe(time.Since(start).Seconds())

	if err != nil {
		s.logger.Warn("reply generation failed, using fallback",
			"provider", s.generator.Name(), "error", err)
		return "", false
	}
	reply = strings.TrimSpace(reply)
	if reply == "" {
		s.logger.Warn("reply generation returned empty output")
		return "", false
	}
	if bound := s.persona.MaxReplyLength; bound > 0 && len([]rune(reply)) > bound {
		s.logger.Warn("reply generation exceeded length bound",
			"length", len([]rune(reply)), "bound", bound)
		return "", false
	}
	return reply, true
}

func (s *responseComposer) buildMessages(ctx context.Context, mc *Context, attitude string) []domain.PromptMessage {
	var sb strings.Builder
	sb.WriteString(s.persona.SystemPrompt)
	if attitude != "" {
		fmt.Fprintf(&sb, "\nRespond in a %s tone.", attitude)
	}
	if s.emotions != nil {
		st := s.emotions.Current()
		fmt.Fprintf(&sb, "\nYour current mood is %s (intensity %.2f).", st.Dominant, st.Intensity)
	}
	if thought := mc.StringOutput(OutputThought); thought != "" {
		fmt.Fprintf(&sb, "\nYour private thought about the message: %s", thought)
	}

	msgs := []domain.PromptMessage{{Role: "system", Content: sb.String()}}
	msgs = append(msgs, s.historyMessages(ctx, mc.Message)...)
	return append(msgs, domain.PromptMessage{Role: "user", Content: mc.Message.Text})
}

// historyMessages replays the newest conversation turns in chronological
// order. Storage failures degrade to an empty history.
func (s *responseComposer) historyMessages(ctx context.Context, msg domain.InternalMessage) []domain.PromptMessage {
	if s.memory == nil {
		return nil
	}
	records, err := s.memory.GetRecent(ctx, msg.ConversationKey(), historyTurns)
	if err != nil {
		s.logger.Warn("history lookup failed", "key", msg.ConversationKey(), "error", err)
		return nil
	}
	msgs := make([]domain.PromptMessage, 0, len(records))
	for i := len(records) - 1; i >= 0; i-- {
		role := "user"
		if records[i].Role == "bot" {
			role = "assistant"
		}
		msgs = append(msgs, domain.PromptMessage{Role: role, Content: records[i].Content})
	}
	return msgs
}

func (s *responseComposer) fallback(attitude string) string {
	list := s.persona.FallbacksFor(attitude)
	return list[rand.IntN(len(list))]
}
