package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"personabot/internal/domain"
	"personabot/internal/emotion"
	"personabot/internal/persona"
)

// intentImpacts maps classified intents to the emotion events they trigger.
// Intents without an entry leave the mood vector alone.
var intentImpacts = map[string]string{
	"greetings":      "greeting",
	"greeting_to_me": "greeting",
	"farewells":      "farewell",
	"questions":      "question",
	"help_seeking":   "question",
	"offensive":      "insult",
}

// thoughtGenerator builds a short internal monologue about the message —
// what the sender seems to want and how the bot feels about it — and routes
// the message's emotional impact into the mood vector. The generator is
// optional; without one (or on failure) a heuristic summary is used.
type thoughtGenerator struct {
	generator domain.GenerationService
	emotions  *emotion.Machine
	persona   *persona.Persona
	logger    *slog.Logger
}

func newThoughtGenerator(gen domain.GenerationService, em *emotion.Machine, p *persona.Persona, logger *slog.Logger) *thoughtGenerator {
	if logger == nil {
		logger = slog.Default()
	}
	if p == nil {
		p = persona.Default()
	}
	return &thoughtGenerator{generator: gen, emotions: em, persona: p, logger: logger}
}

func (s *thoughtGenerator) Name() string { return StageThought }

func (s *thoughtGenerator) Process(ctx context.Context, mc *Context) error {
	intent := mc.StringOutput(OutputIntent)

	if s.emotions != nil {
		if event, ok := intentImpacts[intent]; ok {
			level := 0.5
			if mc.Message.Addressed {
				level = 1.0
			}
			if _, err := s.emotions.ApplyEventImpact(event, level, truncate(mc.Message.Text, 60)); err != nil {
				s.logger.Warn("emotion impact failed", "event", event, "error", err)
			}
		}
	}

	thought := s.generateThought(ctx, mc, intent)
	if thought == "" {
		thought = s.heuristicThought(mc, intent)
	}
	mc.Outputs[OutputThought] = thought
	return nil
}

func (s *thoughtGenerator) generateThought(ctx context.Context, mc *Context, intent string) string {
	if s.generator == nil {
		return ""
	}
	mood := "neutral"
	if s.emotions != nil {
		mood = string(s.emotions.Current().Dominant)
	}
	prompt := domain.Prompt{
		Messages: []domain.PromptMessage{
			{Role: "system", Content: fmt.Sprintf(
				"You are %s. Write one or two sentences of private inner monologue "+
					"about the incoming message: what the sender wants and how you feel. "+
					"Current mood: %s. Do not address the sender.", s.persona.Name, mood)},
			{Role: "user", Content: mc.Message.Text},
		},
		MaxTokens: 120,
	}
	thought, err := s.generator.Generate(ctx, prompt)
	if err != nil {
		s.logger.Warn("thought generation failed, using heuristic",
			"provider", s.generator.Name(), "error", err)
		return ""
	}
	return strings.TrimSpace(thought)
}

func (s *thoughtGenerator) heuristicThought(mc *Context, intent string) string {
	mood := "neutral"
	if s.emotions != nil {
		mood = string(s.emotions.Current().Dominant)
	}
	subject := "the group"
	if !mc.Message.IsGroup() {
		subject = "this person"
	}
	return fmt.Sprintf("%s sent a %s message (%q). I feel %s about it.",
		subject, intent, truncate(mc.Message.Text, 60), mood)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "…"
}
