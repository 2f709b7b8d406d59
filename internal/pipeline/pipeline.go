package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// Stage is one step of message processing. Process mutates the message
// context in place; an error ends the run for that message only.
type Stage interface {
	Name() string
	Process(ctx context.Context, mc *Context) error
}

type entry struct {
	stage   Stage
	enabled bool
}

// Pipeline executes stages strictly in list order with short-circuit checks
// after each one. The stage list itself is guarded; individual runs are
// sequential and own their context.
type Pipeline struct {
	logger *slog.Logger

	mu      sync.RWMutex
	entries []entry
}

// New creates an empty pipeline.
func New(logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{logger: logger}
}

// Add appends a stage. Stage names must be unique within the pipeline.
func (p *Pipeline) Add(s Stage) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, e := range p.entries {
		if e.stage.Name() == s.Name() {
			return fmt.Errorf("stage %q already present", s.Name())
		}
	}
	p.entries = append(p.entries, entry{stage: s, enabled: true})
	return nil
}

// Remove drops the named stage; it reports whether the stage was present.
func (p *Pipeline) Remove(name string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, e := range p.entries {
		if e.stage.Name() == name {
			p.entries = append(p.entries[:i], p.entries[i+1:]...)
			return true
		}
	}
	return false
}

// Enable re-activates a disabled stage.
func (p *Pipeline) Enable(name string) bool { return p.setEnabled(name, true) }

// Disable turns the named stage into a no-op pass-through.
func (p *Pipeline) Disable(name string) bool { return p.setEnabled(name, false) }

func (p *Pipeline) setEnabled(name string, enabled bool) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, e := range p.entries {
		if e.stage.Name() == name {
			p.entries[i].enabled = enabled
			return true
		}
	}
	return false
}

// Stages returns the current stage names in execution order.
func (p *Pipeline) Stages() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	names := make([]string, len(p.entries))
	for i, e := range p.entries {
		names[i] = e.stage.Name()
	}
	return names
}

// Reorder rearranges the stages to match names. The call fails without any
// change unless names is an exact permutation of the current stage set.
func (p *Pipeline) Reorder(names []string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(names) != len(p.entries) {
		return fmt.Errorf("reorder: got %d names, pipeline has %d stages", len(names), len(p.entries))
	}
	byName := make(map[string]entry, len(p.entries))
	for _, e := range p.entries {
		byName[e.stage.Name()] = e
	}
	reordered := make([]entry, 0, len(names))
	seen := make(map[string]bool, len(names))
	for _, name := range names {
		e, ok := byName[name]
		if !ok {
			return fmt.Errorf("reorder: unknown stage %q", name)
		}
		if seen[name] {
			return fmt.Errorf("reorder: duplicate stage %q", name)
		}
		seen[name] = true
		reordered = append(reordered, e)
	}
	p.entries = reordered
	return nil
}

// Run executes the pipeline for one message. After every stage it checks, in
// order: a stage error ends the run; a produced reply ends the run; an
// explicit do-not-reply signal clears any partial reply and ends the run.
// A full pass with no decision is logged, not an error.
func (p *Pipeline) Run(ctx context.Context, mc *Context) {
	p.mu.RLock()
	stages := append([]entry(nil), p.entries...)
	p.mu.RUnlock()

	for _, e := range stages {
		if !e.enabled {
			continue
		}
		if err := runStage(ctx, e.stage, mc); err != nil {
			mc.Err = fmt.Errorf("stage %s: %w", e.stage.Name(), err)
			p.logger.Error("pipeline stage failed",
				"stage", e.stage.Name(), "message_id", mc.Message.ID, "error", err)
			return
		}
		if mc.Reply != "" {
			return
		}
		if !mc.ShouldReply {
			mc.Reply = ""
			p.logger.Debug("pipeline suppressed reply",
				"stage", e.stage.Name(), "message_id", mc.Message.ID)
			return
		}
	}
	p.logger.Debug("pipeline finished without a decision", "message_id", mc.Message.ID)
}

// runStage isolates panics inside a stage so one bad turn cannot take down
// the pipeline.
func runStage(ctx context.Context, s Stage, mc *Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return s.Process(ctx, mc)
}
