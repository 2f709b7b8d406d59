package pipeline

import (
	"fmt"
	"log/slog"

	"personabot/internal/domain"
	"personabot/internal/emotion"
	"personabot/internal/persona"
	"personabot/internal/relationship"
	"personabot/internal/willing"
)

// Stage names recognized by the registry.
const (
	StageReadAir     = "read_air"
	StageThought     = "thought_generator"
	StageWillingness = "willingness_checker"
	StageComposer    = "response_composer"
)

// Deps bundles the collaborators stages may need. Constructors take what
// they use and ignore the rest.
type Deps struct {
	SelfID    string
	Generator domain.GenerationService
	Memory    domain.MemoryStore
	Emotions  *emotion.Machine
	Willing   *willing.Engine
	Relations *relationship.Manager
	Persona   *persona.Persona
	Logger    *slog.Logger
}

// Constructor builds one stage from the shared dependency set.
type Constructor func(Deps) Stage

// registry is populated at compile time; stages are configured by name, not
// loaded dynamically.
var registry = map[string]Constructor{
	StageReadAir:     func(d Deps) Stage { return newReadAir(d.SelfID, d.Logger) },
	StageThought:     func(d Deps) Stage { return newThoughtGenerator(d.Generator, d.Emotions, d.Persona, d.Logger) },
	StageWillingness: func(d Deps) Stage { return newWillingnessChecker(d.Willing, d.Relations, d.Memory, d.SelfID, d.Logger) },
	StageComposer:    func(d Deps) Stage { return newResponseComposer(d.Generator, d.Memory, d.Emotions, d.Persona, d.Logger) },
}

// DefaultStages is the stock execution order.
func DefaultStages() []string {
	return []string{StageReadAir, StageThought, StageWillingness, StageComposer}
}

// Build assembles a pipeline from stage names. Unknown names fail fast.
func Build(names []string, deps Deps) (*Pipeline, error) {
	if len(names) == 0 {
		names = DefaultStages()
	}
	if deps.Persona == nil {
		deps.Persona = persona.Default()
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	p := New(deps.Logger)
	for _, name := range names {
		ctor, ok := registry[name]
		if !ok {
			return nil, fmt.Errorf("unknown pipeline stage %q", name)
		}
		if err := p.Add(ctor(deps)); err != nil {
			return nil, err
		}
	}
	return p, nil
}
