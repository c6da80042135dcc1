package gec

import (
	"context"
	"errors"
	"testing"

	"github.com/talkie-dictation/talkie/internal/grammar"
	"github.com/talkie-dictation/talkie/internal/homophone"
)

type stubHomophone struct {
	out  string
	corr []homophone.Correction
	err  error
}

func (s stubHomophone) Correct(ctx context.Context, text string) (string, []homophone.Correction, error) {
	return s.out, s.corr, s.err
}

type stubPunctCap struct {
	out string
	err error
}

func (s stubPunctCap) Restore(ctx context.Context, text string) (string, error) { return s.out, s.err }

type stubGrammar struct {
	result grammar.Result
	err    error
}

func (s stubGrammar) Correct(ctx context.Context, text string) (grammar.Result, error) {
	return s.result, s.err
}

func TestProcessRunsEnabledStagesInOrder(t *testing.T) {
	hp := stubHomophone{out: "their car"}
	pc := stubPunctCap{out: "Their car."}
	gr := stubGrammar{result: grammar.Result{Text: "Their car.", Rewritten: true, EditRatio: 0.1}}

	p := New(hp, pc, gr, Toggles{Homophone: true, PunctCap: true, Grammar: true})
	res, err := p.Process(context.Background(), "there car")
	if err != nil {
		t.Fatal(err)
	}
	if res.Output != "Their car." {
		t.Errorf("Output = %q", res.Output)
	}
	if !res.Homophone.Ran || !res.PunctCap.Ran || !res.GrammarRewrote {
		t.Errorf("expected all stages to run: %+v", res)
	}

	snap := p.Snapshot()
	if snap.Utterances.Load() != 1 {
		t.Errorf("Utterances = %d, want 1", snap.Utterances.Load())
	}
	if snap.GrammarRewrites.Load() != 1 {
		t.Errorf("GrammarRewrites = %d, want 1", snap.GrammarRewrites.Load())
	}
}

func TestProcessSkipsDisabledStages(t *testing.T) {
	hp := stubHomophone{out: "should not be used"}
	p := New(hp, nil, nil, Toggles{Homophone: false})

	res, err := p.Process(context.Background(), "there car")
	if err != nil {
		t.Fatal(err)
	}
	if res.Output != "there car" {
		t.Errorf("Output = %q, want passthrough", res.Output)
	}
	if res.Homophone.Ran {
		t.Error("Homophone.Ran = true, stage was disabled")
	}
}

func TestProcessContainsStageErrorAndContinues(t *testing.T) {
	hp := stubHomophone{out: "should not be used", err: errors.New("mlm unavailable")}
	pc := stubPunctCap{out: "Hello."}
	p := New(hp, pc, nil, Toggles{Homophone: true, PunctCap: true})

	res, err := p.Process(context.Background(), "hello")
	if err != nil {
		t.Fatalf("Process() error = %v, want nil (stage errors are contained)", err)
	}
	if res.Homophone.Ran {
		t.Error("Homophone.Ran = true, want false after a stage error")
	}
	if res.Homophone.Duration == 0 {
		t.Error("Homophone.Duration = 0, want the elapsed time even though the stage failed")
	}
	if !res.PunctCap.Ran {
		t.Error("PunctCap.Ran = false, want the healthy later stage to still run")
	}
	if res.Output != "Hello." {
		t.Errorf("Output = %q, want the punctcap stage's result despite the earlier failure", res.Output)
	}

	snap := p.Snapshot()
	if snap.HomophoneRuns.Load() != 0 {
		t.Errorf("HomophoneRuns = %d, want 0 (failed stage run not counted)", snap.HomophoneRuns.Load())
	}
}

func TestProcessEmptyInputShortCircuits(t *testing.T) {
	hp := stubHomophone{out: "should not be used"}
	pc := stubPunctCap{out: "should not be used"}
	p := New(hp, pc, nil, Toggles{Homophone: true, PunctCap: true})

	res, err := p.Process(context.Background(), "")
	if err != nil {
		t.Fatal(err)
	}
	if res.Output != "" {
		t.Errorf("Output = %q, want empty", res.Output)
	}
	if res.Homophone.Ran || res.PunctCap.Ran || res.Grammar.Ran {
		t.Errorf("expected no stages to run on empty input: %+v", res)
	}
	if res.Homophone.Duration != 0 || res.PunctCap.Duration != 0 || res.Grammar.Duration != 0 {
		t.Errorf("expected zero timings on empty input: %+v", res)
	}
}

func TestSetTogglesAppliesOnNextProcess(t *testing.T) {
	hp := stubHomophone{out: "x"}
	p := New(hp, nil, nil, Toggles{Homophone: false})
	p.SetToggles(Toggles{Homophone: true})

	res, err := p.Process(context.Background(), "hello")
	if err != nil {
		t.Fatal(err)
	}
	if res.Output != "x" {
		t.Errorf("Output = %q, want homophone stage to have run after toggle flip", res.Output)
	}
}
