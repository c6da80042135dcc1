// Package gec orchestrates the grammatical-error-correction pipeline
// (C12): homophone correction, punctuation/capitalization restoration,
// and grammar rewriting, each independently toggleable and timed.
package gec

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/talkie-dictation/talkie/internal/grammar"
	"github.com/talkie-dictation/talkie/internal/homophone"
	"github.com/talkie-dictation/talkie/internal/punctcap"
)

// HomophoneCorrector is the subset of homophone.Corrector the pipeline
// calls, accepted as an interface so the pipeline is testable without a
// real MLM.
type HomophoneCorrector interface {
	Correct(ctx context.Context, text string) (string, []homophone.Correction, error)
}

// PunctCapRestorer is the subset of punctcap.Restorer the pipeline calls.
type PunctCapRestorer interface {
	Restore(ctx context.Context, text string) (string, error)
}

// GrammarCorrector is the subset of grammar.Corrector the pipeline calls.
type GrammarCorrector interface {
	Correct(ctx context.Context, text string) (grammar.Result, error)
}

// Toggles independently enables or disables each stage. Grammar defaults
// to off: spec.md treats a hallucinating rewrite as worse than doing
// nothing, so operators must opt in explicitly.
type Toggles struct {
	Homophone bool
	PunctCap  bool
	Grammar   bool
}

// StageTiming records how long one stage took and whether it ran at all.
type StageTiming struct {
	Ran      bool
	Duration time.Duration
}

// Result is one utterance's full pipeline trace.
type Result struct {
	Input  string
	Output string

	Homophone StageTiming
	PunctCap  StageTiming
	Grammar   StageTiming

	Corrections     []homophone.Correction
	GrammarRewrote  bool
	GrammarEditRatio float64
}

// Counters accumulates pipeline-wide statistics across utterances; Snapshot
// may read them concurrently while Process runs on the hot path.
type Counters struct {
	Utterances        atomic.Int64
	HomophoneRuns      atomic.Int64
	PunctCapRuns       atomic.Int64
	GrammarRuns        atomic.Int64
	GrammarRewrites    atomic.Int64
	GrammarRejections  atomic.Int64
	TotalDuration      atomic.Int64 // nanoseconds
}

// Pipeline runs the three GEC stages in order over recognizer output.
type Pipeline struct {
	homophone HomophoneCorrector
	punctcap  PunctCapRestorer
	grammar   GrammarCorrector

	toggles  atomic.Pointer[Toggles]
	counters Counters
}

// New builds a Pipeline. Any stage may be nil; Process skips a nil stage
// even if its toggle is on, rather than panicking, so partial model
// loading degrades gracefully.
func New(homophoneStage HomophoneCorrector, punctcapStage PunctCapRestorer, grammarStage GrammarCorrector, toggles Toggles) *Pipeline {
	p := &Pipeline{homophone: homophoneStage, punctcap: punctcapStage, grammar: grammarStage}
	p.toggles.Store(&toggles)
	return p
}

// SetToggles atomically replaces the active stage toggles — used by the
// supervisor on a config hot-swap.
func (p *Pipeline) SetToggles(t Toggles) { p.toggles.Store(&t) }

func (p *Pipeline) Toggles() Toggles { return *p.toggles.Load() }

// Process runs text through every enabled stage in order: homophone,
// punctuation/capitalization, grammar. A stage error is contained to that
// stage: the stage falls through with its input unchanged, the pipeline
// continues to the next stage, and that stage's run counter is not
// incremented — a broken stage never destroys an earlier stage's working
// output or blocks a healthy later stage.
func (p *Pipeline) Process(ctx context.Context, text string) (Result, error) {
	if text == "" {
		return Result{}, nil
	}

	start := time.Now()
	toggles := p.Toggles()
	res := Result{Input: text, Output: text}

	if toggles.Homophone && p.homophone != nil {
		stageStart := time.Now()
		out, corrections, err := p.homophone.Correct(ctx, res.Output)
		duration := time.Since(stageStart)
		if err != nil {
			slog.Warn("gec: homophone stage failed, passing through unchanged", "error", err)
			res.Homophone = StageTiming{Ran: false, Duration: duration}
		} else {
			res.Homophone = StageTiming{Ran: true, Duration: duration}
			res.Output = out
			res.Corrections = corrections
			p.counters.HomophoneRuns.Add(1)
		}
	}

	if toggles.PunctCap && p.punctcap != nil {
		stageStart := time.Now()
		out, err := p.punctcap.Restore(ctx, res.Output)
		duration := time.Since(stageStart)
		if err != nil {
			slog.Warn("gec: punctcap stage failed, passing through unchanged", "error", err)
			res.PunctCap = StageTiming{Ran: false, Duration: duration}
		} else {
			res.PunctCap = StageTiming{Ran: true, Duration: duration}
			res.Output = out
			p.counters.PunctCapRuns.Add(1)
		}
	}

	if toggles.Grammar && p.grammar != nil {
		stageStart := time.Now()
		gr, err := p.grammar.Correct(ctx, res.Output)
		duration := time.Since(stageStart)
		if err != nil {
			slog.Warn("gec: grammar stage failed, passing through unchanged", "error", err)
			res.Grammar = StageTiming{Ran: false, Duration: duration}
		} else {
			res.Grammar = StageTiming{Ran: true, Duration: duration}
			res.Output = gr.Text
			res.GrammarRewrote = gr.Rewritten
			res.GrammarEditRatio = gr.EditRatio
			p.counters.GrammarRuns.Add(1)
			if gr.Rewritten {
				p.counters.GrammarRewrites.Add(1)
			} else {
				p.counters.GrammarRejections.Add(1)
			}
		}
	}

	p.counters.Utterances.Add(1)
	p.counters.TotalDuration.Add(int64(time.Since(start)))
	return res, nil
}

// Snapshot returns a snapshot of the running totals.
func (p *Pipeline) Snapshot() Counters {
	var c Counters
	c.Utterances.Store(p.counters.Utterances.Load())
	c.HomophoneRuns.Store(p.counters.HomophoneRuns.Load())
	c.PunctCapRuns.Store(p.counters.PunctCapRuns.Load())
	c.GrammarRuns.Store(p.counters.GrammarRuns.Load())
	c.GrammarRewrites.Store(p.counters.GrammarRewrites.Load())
	c.GrammarRejections.Store(p.counters.GrammarRejections.Load())
	c.TotalDuration.Store(p.counters.TotalDuration.Load())
	return c
}
