package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"reflect"
	"testing"

	"personabot/internal/domain"
)

// fakeStage is a scriptable stage for driver tests.
type fakeStage struct {
	name string
	fn   func(mc *Context) error
	runs int
}

func (f *fakeStage) Name() string { return f.name }

func (f *fakeStage) Process(_ context.Context, mc *Context) error {
	f.runs++
	if f.fn != nil {
		return f.fn(mc)
	}
	return nil
}

func newTestPipeline(t *testing.T, stages ...*fakeStage) *Pipeline {
	t.Helper()
	p := New(slog.Default())
	for _, s := range stages {
		if err := p.Add(s); err != nil {
			t.Fatalf("Add(%s): %v", s.name, err)
		}
	}
	return p
}

func testMessage() domain.InternalMessage {
	return domain.InternalMessage{ID: "m1", SenderID: "u1", Text: "hello"}
}

func TestRun_SuppressSkipsLaterStages(t *testing.T) {
	s1 := &fakeStage{name: "one"}
	s2 := &fakeStage{name: "two", fn: func(mc *Context) error {
		mc.ShouldReply = false
		return nil
	}}
	s3 := &fakeStage{name: "three", fn: func(mc *Context) error {
		mc.Reply = "should never happen"
		return nil
	}}
	p := newTestPipeline(t, s1, s2, s3)

	mc := NewContext(testMessage())
	p.Run(context.Background(), mc)

	if s3.runs != 0 {
		t.Fatal("stage three ran after suppression")
	}
	if mc.Reply != "" {
		t.Fatalf("reply = %q, want empty", mc.Reply)
	}
	if mc.Err != nil {
		t.Fatalf("suppression is not an error, got %v", mc.Err)
	}
}

func TestRun_ReplyEndsRun(t *testing.T) {
	s1 := &fakeStage{name: "one", fn: func(mc *Context) error {
		mc.Reply = "done"
		return nil
	}}
	s2 := &fakeStage{name: "two"}
	p := newTestPipeline(t, s1, s2)

	mc := NewContext(testMessage())
	p.Run(context.Background(), mc)

	if s2.runs != 0 {
		t.Fatal("stage two ran after a reply was produced")
	}
	if mc.Reply != "done" {
		t.Fatalf("reply = %q", mc.Reply)
	}
}

func TestRun_StageErrorIsTerminal(t *testing.T) {
	boom := errors.New("boom")
	s1 := &fakeStage{name: "one", fn: func(mc *Context) error { return boom }}
	s2 := &fakeStage{name: "two"}
	p := newTestPipeline(t, s1, s2)

	mc := NewContext(testMessage())
	p.Run(context.Background(), mc)

	if !errors.Is(mc.Err, boom) {
		t.Fatalf("err = %v, want wrapped boom", mc.Err)
	}
	if s2.runs != 0 {
		t.Fatal("stage two ran after an error")
	}
}

func TestRun_PanicIsIsolated(t *testing.T) {
	s1 := &fakeStage{name: "one", fn: func(mc *Context) error { panic("kaput") }}
	s2 := &fakeStage{name: "two"}
	p := newTestPipeline(t, s1, s2)

	mc := NewContext(testMessage())
	p.Run(context.Background(), mc)

	if mc.Err == nil {
		t.Fatal("panic should surface as the context error")
	}
	if s2.runs != 0 {
		t.Fatal("stage two ran after a panic")
	}

	// A fresh context runs cleanly afterwards.
	mc2 := NewContext(testMessage())
	p.Disable("one")
	p.Run(context.Background(), mc2)
	if mc2.Err != nil {
		t.Fatalf("next turn should start clean, got %v", mc2.Err)
	}
}

func TestRun_DisabledStageIsNoOp(t *testing.T) {
	s1 := &fakeStage{name: "one"}
	p := newTestPipeline(t, s1)
	if !p.Disable("one") {
		t.Fatal("Disable returned false")
	}
	p.Run(context.Background(), NewContext(testMessage()))
	if s1.runs != 0 {
		t.Fatal("disabled stage ran")
	}
	if !p.Enable("one") {
		t.Fatal("Enable returned false")
	}
	p.Run(context.Background(), NewContext(testMessage()))
	if s1.runs != 1 {
		t.Fatalf("stage runs = %d after re-enable", s1.runs)
	}
}

func TestRun_NoDecisionIsNotAnError(t *testing.T) {
	p := newTestPipeline(t, &fakeStage{name: "one"}, &fakeStage{name: "two"})
	mc := NewContext(testMessage())
	p.Run(context.Background(), mc)
	if mc.Err != nil || mc.Reply != "" || !mc.ShouldReply {
		t.Fatalf("no-decision run mutated context: %+v", mc)
	}
}

func TestAdd_RejectsDuplicateNames(t *testing.T) {
	p := newTestPipeline(t, &fakeStage{name: "one"})
	if err := p.Add(&fakeStage{name: "one"}); err == nil {
		t.Fatal("duplicate stage name accepted")
	}
}

func TestRemove(t *testing.T) {
	p := newTestPipeline(t, &fakeStage{name: "one"}, &fakeStage{name: "two"})
	if !p.Remove("one") {
		t.Fatal("Remove returned false for a present stage")
	}
	if p.Remove("one") {
		t.Fatal("Remove returned true for an absent stage")
	}
	if got := p.Stages(); !reflect.DeepEqual(got, []string{"two"}) {
		t.Fatalf("stages = %v", got)
	}
}

func TestReorder(t *testing.T) {
	p := newTestPipeline(t,
		&fakeStage{name: "one"}, &fakeStage{name: "two"}, &fakeStage{name: "three"})

	cases := []struct {
		name  string
		order []string
		ok    bool
	}{
		{"valid permutation", []string{"three", "one", "two"}, true},
		{"wrong length", []string{"one", "two"}, false},
		{"unknown stage", []string{"one", "two", "four"}, false},
		{"duplicate stage", []string{"one", "one", "two"}, false},
	}
	for _, c := range cases {
		before := p.Stages()
		err := p.Reorder(c.order)
		if c.ok {
			if err != nil {
				t.Fatalf("%s: %v", c.name, err)
			}
			if got := p.Stages(); !reflect.DeepEqual(got, c.order) {
				t.Fatalf("%s: stages = %v, want %v", c.name, got, c.order)
			}
			continue
		}
		if err == nil {
			t.Fatalf("%s: expected error", c.name)
		}
		if got := p.Stages(); !reflect.DeepEqual(got, before) {
			t.Fatalf("%s: failed reorder must not change order: %v -> %v", c.name, before, got)
		}
	}
}

func TestBuild_UnknownStage(t *testing.T) {
	if _, err := Build([]string{"read_air", "mystery"}, Deps{SelfID: "bot"}); err == nil {
		t.Fatal("unknown stage name accepted")
	}
}

func TestBuild_DefaultOrder(t *testing.T) {
	p, err := Build(nil, Deps{SelfID: "bot"})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if got := p.Stages(); !reflect.DeepEqual(got, DefaultStages()) {
		t.Fatalf("stages = %v, want %v", got, DefaultStages())
	}
}
