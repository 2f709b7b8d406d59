package domain

import "context"

// PromptMessage is one role-tagged entry of a structured prompt.
type PromptMessage struct {
	Role    string `json:"role"` // system | user | assistant
	Content string `json:"content"`
}

// Prompt is the structured input handed to the generation service.
type Prompt struct {
	Messages    []PromptMessage
	Model       string
	MaxTokens   int
	Temperature float64
}

// GenerationService turns a structured prompt into response text. The runtime
// treats it as an opaque collaborator: one call per turn, no internal retry.
// Callers degrade to a local fallback when it fails.
type GenerationService interface {
	Generate(ctx context.Context, prompt Prompt) (string, error)
	Name() string
}
