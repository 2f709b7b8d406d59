// Package pipeline runs each inbound message through an ordered list of
// stages. Stages communicate through a per-message Context; the driver
// applies fixed short-circuit rules after every stage.
package pipeline

import (
	"time"

	"personabot/internal/domain"
)

// Well-known output keys shared between stages.
const (
	OutputIntent   = "intent"
	OutputThought  = "thought"
	OutputAttitude = "attitude"
	OutputDecision = "decision"
)

// Context carries one message through a pipeline run. A run owns its context
// exclusively; stages never see the same context concurrently.
type Context struct {
	Message domain.InternalMessage

	// Outputs holds intermediate stage products keyed by the Output* consts.
	Outputs map[string]any

	// Reply is the final reply text. A non-empty reply after a stage ends
	// the run.
	Reply string

	// ShouldReply starts true; a stage sets it false to suppress the turn.
	ShouldReply bool

	// Err is the terminal error for this run, set by the driver when a
	// stage fails or panics.
	Err error

	CreatedAt time.Time
}

// NewContext builds a fresh per-message context.
func NewContext(msg domain.InternalMessage) *Context {
	return &Context{
		Message:     msg,
		Outputs:     make(map[string]any),
		ShouldReply: true,
		CreatedAt:   time.Now(),
	}
}

// StringOutput returns the named output if it is a string.
func (c *Context) StringOutput(key string) string {
	if v, ok := c.Outputs[key].(string); ok {
		return v
	}
	return ""
}
