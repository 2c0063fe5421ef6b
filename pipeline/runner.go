// Package pipeline drives the batch generation run: font warm-up, per-guest
// document assembly, monotonic progress reporting and final archiving.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"

	"github.com/flanksource/commons/logger"

	"github.com/weddinglabs/cardpress/api"
	"github.com/weddinglabs/cardpress/archive"
	"github.com/weddinglabs/cardpress/document"
	"github.com/weddinglabs/cardpress/render"
)

// Phase is the externally visible state of a run.
type Phase string

const (
	PhaseIdle         Phase = "idle"
	PhaseWarmingFonts Phase = "warming-fonts"
	PhaseRendering    Phase = "rendering-pages"
	PhaseArchiving    Phase = "archiving-output"
	PhaseComplete     Phase = "complete"
	PhaseFailed       Phase = "failed"
	PhaseCancelled    Phase = "cancelled"
)

// Terminal reports whether the phase is an end state.
func (p Phase) Terminal() bool {
	return p == PhaseComplete || p == PhaseFailed || p == PhaseCancelled
}

// Update is one progress event. Progress is a percentage in [0,100] and is
// strictly increasing across the updates of a run.
type Update struct {
	Phase    Phase `json:"phase"`
	Progress int   `json:"progress"`
}

// Result is the outcome of a finished run.
type Result struct {
	// Archive is the ZIP blob; nil unless the run completed.
	Archive []byte
	// Files is the number of documents inside the archive.
	Files int
	// Fonts reports which families were warmed and which were substituted.
	Fonts render.WarmReport
	Err   error
}

// ErrArchive wraps archive assembly failures so callers can distinguish
// them from rendering failures.
var ErrArchive = errors.New("archive assembly failed")

type fontGate interface {
	EnsureLoaded(ctx context.Context, snap *api.Snapshot) (render.WarmReport, error)
}

type assembler interface {
	Assemble(ctx context.Context, snap *api.Snapshot, guestName string, onPage func()) (*document.Document, error)
	AssembleSeparate(ctx context.Context, snap *api.Snapshot, guestName string, onPage func()) ([]*document.Document, error)
}

// Runner executes batch runs. A single Runner can be reused across runs;
// its font registry cache carries over.
type Runner struct {
	fonts fontGate
	asm   assembler
}

// NewRunner wires the production compositor and assembler over a font
// registry.
func NewRunner(fonts *render.FontRegistry) *Runner {
	return &Runner{
		fonts: fonts,
		asm:   document.NewAssembler(render.NewCompositor(fonts)),
	}
}

// Run is one in-flight or finished batch run.
type Run struct {
	snap    *api.Snapshot
	updates chan Update
	done    chan struct{}

	mu       sync.Mutex
	phase    Phase
	progress int
	result   Result
}

// Start begins a run over an immutable snapshot and returns immediately.
// All rasterization happens on a single goroutine; progress is delivered on
// Updates.
func (p *Runner) Start(ctx context.Context, snap *api.Snapshot) *Run {
	r := &Run{
		snap: snap,
		// One slot per distinct progress value plus phase transitions, so
		// emission never blocks on a slow consumer.
		updates: make(chan Update, 128),
		done:    make(chan struct{}),
		phase:   PhaseIdle,
	}
	go p.execute(ctx, r)
	return r
}

// Retry re-runs the same snapshot from the beginning. There is no
// resume-from-midpoint; a failed run leaves no partial output.
func (p *Runner) Retry(ctx context.Context, prev *Run) *Run {
	return p.Start(ctx, prev.snap)
}

// Updates streams phase transitions and strictly increasing progress
// values. The channel closes when the run reaches a terminal phase.
func (r *Run) Updates() <-chan Update {
	return r.updates
}

// Wait blocks until the run finishes and returns its result.
func (r *Run) Wait() Result {
	<-r.done
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.result
}

// Phase returns the current phase.
func (r *Run) Phase() Phase {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.phase
}

// Progress returns the last emitted progress percentage.
func (r *Run) Progress() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.progress
}

func (r *Run) setPhase(p Phase) {
	r.mu.Lock()
	r.phase = p
	progress := r.progress
	r.mu.Unlock()
	r.updates <- Update{Phase: p, Progress: progress}
}

// emitProgress publishes a new percentage only when it strictly exceeds the
// last emitted value, so consumers never see progress regress or repeat.
func (r *Run) emitProgress(pct int) {
	r.mu.Lock()
	if pct <= r.progress {
		r.mu.Unlock()
		return
	}
	r.progress = pct
	phase := r.phase
	r.mu.Unlock()
	r.updates <- Update{Phase: phase, Progress: pct}
}

func (r *Run) finish(phase Phase, res Result) {
	r.mu.Lock()
	r.phase = phase
	r.result = res
	progress := r.progress
	r.mu.Unlock()
	r.updates <- Update{Phase: phase, Progress: progress}
	close(r.updates)
	close(r.done)
}

func (p *Runner) execute(ctx context.Context, r *Run) {
	snap := r.snap

	fail := func(err error) {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			logger.Warnf("generation cancelled: %v", err)
			r.finish(PhaseCancelled, Result{Err: err})
			return
		}
		logger.Errorf("generation failed: %v", err)
		r.finish(PhaseFailed, Result{Err: err})
	}

	// Fonts first: no page may rasterize before every family is resolved,
	// otherwise a late-loading font would silently substitute mid-batch.
	r.setPhase(PhaseWarmingFonts)
	fontReport, err := p.fonts.EnsureLoaded(ctx, snap)
	if err != nil {
		fail(err)
		return
	}

	r.setPhase(PhaseRendering)
	builder := archive.NewBuilder(snap.Options.Naming)
	total := snap.TotalPages()
	pagesDone := 0
	onPage := func() {
		pagesDone++
		// floor(done/total*100), capped below 100 until archiving is done.
		pct := pagesDone * 100 / total
		if pct > 99 {
			pct = 99
		}
		r.emitProgress(pct)
	}

	cadence := yieldCadence(len(snap.Names), snap.Options.YieldEvery)
	for i, name := range snap.Names {
		if err := ctx.Err(); err != nil {
			fail(err)
			return
		}
		if snap.Options.SeparatePages {
			docs, err := p.asm.AssembleSeparate(ctx, snap, name, onPage)
			if err != nil {
				fail(fmt.Errorf("guest %q: %w", name, err))
				return
			}
			for _, doc := range docs {
				builder.Add(doc)
			}
		} else {
			doc, err := p.asm.Assemble(ctx, snap, name, onPage)
			if err != nil {
				fail(fmt.Errorf("guest %q: %w", name, err))
				return
			}
			builder.Add(doc)
		}
		// Let the host breathe between groups of guests; smaller cadence
		// for bigger batches keeps peak memory flat.
		if (i+1)%cadence == 0 {
			runtime.Gosched()
		}
	}

	r.setPhase(PhaseArchiving)
	blob, err := builder.Bytes()
	if err != nil {
		fail(fmt.Errorf("%w: %v", ErrArchive, err))
		return
	}

	// Decoded template pixels are no longer needed once the run is over.
	for _, img := range snap.Images {
		img.Release()
	}

	// 100 is reserved for the completion event itself; the terminal update
	// carries phase and final progress together.
	r.mu.Lock()
	r.progress = 100
	r.mu.Unlock()

	logger.Infof("generated %d documents for %d guests", builder.Len(), len(snap.Names))
	r.finish(PhaseComplete, Result{
		Archive: blob,
		Files:   builder.Len(),
		Fonts:   fontReport,
	})
}

// yieldCadence picks how many guests to process between cooperative
// yields; larger batches yield more often.
func yieldCadence(guests, override int) int {
	if override > 0 {
		return override
	}
	switch {
	case guests >= 1000:
		return 10
	case guests >= 250:
		return 25
	default:
		return 50
	}
}
