package extract

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/JonMunkholm/ndbmedicine/internal/catalog"
	"github.com/JonMunkholm/ndbmedicine/internal/core"
	"github.com/JonMunkholm/ndbmedicine/internal/logging"
	"github.com/JonMunkholm/ndbmedicine/internal/store"
	"github.com/google/uuid"
)

var (
	// ErrRunNotFinished is returned when records are requested from a
	// run that is still going.
	ErrRunNotFinished = errors.New("run not finished")

	// ErrCancelled is the error of a run stopped through Cancel.
	ErrCancelled = errors.New("extraction cancelled")

	// ErrSinkDisabled is returned by history queries without a database.
	ErrSinkDisabled = errors.New("record sink disabled")
)

// Sink stores finished runs. *store.Store implements it.
type Sink interface {
	SaveRun(ctx context.Context, run store.Run, records []core.CanonicalRecord) error
	Records(ctx context.Context, id uuid.UUID) ([]core.CanonicalRecord, error)
	Run(ctx context.Context, id uuid.UUID) (store.Run, error)
	History(ctx context.Context, limit int) ([]store.Run, error)
	Prune(ctx context.Context, cutoff time.Time) (int64, error)
}

// Phase is the stage a run is in.
type Phase string

const (
	PhaseStarting   Phase = "starting"
	PhaseResolving  Phase = "resolving"
	PhaseExtracting Phase = "extracting"
	PhaseSaving     Phase = "saving"
	PhaseComplete   Phase = "complete"
	PhaseFailed     Phase = "failed"
	PhaseCancelled  Phase = "cancelled"
)

// Progress is a snapshot of a run.
type Progress struct {
	RunID      string `json:"run_id"`
	Layout     string `json:"layout"`
	Phase      Phase  `json:"phase"`
	TotalFiles int    `json:"total_files"`
	DoneFiles  int    `json:"done_files"`
	Records    int    `json:"records"`
	Skipped    int    `json:"skipped"`
	Error      string `json:"error,omitempty"`
}

// Percent returns file progress in 0-100.
func (p Progress) Percent() int {
	if p.Phase == PhaseComplete {
		return 100
	}
	if p.TotalFiles == 0 {
		return 0
	}
	return p.DoneFiles * 100 / p.TotalFiles
}

// Finished reports whether the run has stopped.
func (p Progress) Finished() bool {
	return p.Phase == PhaseComplete || p.Phase == PhaseFailed || p.Phase == PhaseCancelled
}

// Summary describes a finished run without its records.
type Summary struct {
	RunID      string              `json:"run_id"`
	Layout     string              `json:"layout"`
	Criteria   map[string][]string `json:"criteria"`
	Files      []string            `json:"files"`
	Skipped    []SkippedFile       `json:"skipped"`
	Records    int                 `json:"records"`
	DurationMs int64               `json:"duration_ms"`
	Saved      bool                `json:"saved"`
	Error      string              `json:"error,omitempty"`
}

// Options configure a Service. Zero values use defaults.
type Options struct {
	Timeout           time.Duration
	Retention         time.Duration
	MaxConcurrentRuns int
	MaxWait           time.Duration
}

// Service runs extractions in the background and keeps their results for
// a retention period.
type Service struct {
	extractor *Extractor
	sink      Sink
	limiter   *Limiter
	timeout   time.Duration
	retention time.Duration

	mu   sync.RWMutex
	runs map[uuid.UUID]*activeRun
}

type activeRun struct {
	id       uuid.UUID
	layout   core.LayoutKind
	criteria core.ExtractionCriteria
	cancel   context.CancelFunc
	done     chan struct{}

	mu        sync.Mutex
	progress  Progress
	listeners []chan Progress
	closed    bool
	result    *Result
	err       error
	saved     bool
	duration  time.Duration
}

// NewService creates a Service. sink may be nil.
func NewService(ex *Extractor, sink Sink, opts Options) *Service {
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Minute
	}
	if opts.Retention <= 0 {
		opts.Retention = time.Hour
	}
	return &Service{
		extractor: ex,
		sink:      sink,
		limiter:   NewLimiter(opts.MaxConcurrentRuns, opts.MaxWait),
		timeout:   opts.Timeout,
		retention: opts.Retention,
		runs:      make(map[uuid.UUID]*activeRun),
	}
}

// Start validates the request, waits for a run slot and starts the run in
// the background. It returns the run id immediately after.
func (s *Service) Start(ctx context.Context, layout core.LayoutKind, c core.ExtractionCriteria) (uuid.UUID, error) {
	if _, ok := core.Lookup(layout); !ok {
		return uuid.Nil, fmt.Errorf("%w: %s", core.ErrUnsupportedLayout, layout)
	}
	if err := c.Validate(); err != nil {
		return uuid.Nil, err
	}
	if err := s.limiter.Acquire(ctx); err != nil {
		return uuid.Nil, err
	}

	id := uuid.New()
	runCtx := logging.IntoContext(context.Background(), logging.FromContext(ctx))
	runCtx = logging.WithRun(runCtx, id.String())
	runCtx, cancel := context.WithTimeout(runCtx, s.timeout)

	run := &activeRun{
		id:       id,
		layout:   layout,
		criteria: c,
		cancel:   cancel,
		done:     make(chan struct{}),
		progress: Progress{RunID: id.String(), Layout: layout.String(), Phase: PhaseStarting},
	}

	s.mu.Lock()
	s.runs[id] = run
	s.mu.Unlock()

	go func() {
		defer s.limiter.Release()
		s.execute(runCtx, run)
	}()
	return id, nil
}

func (s *Service) execute(ctx context.Context, run *activeRun) {
	start := time.Now()
	defer func() {
		run.cancel()
		run.closeListeners()
		close(run.done)
		s.cleanup(run.id, s.retention)
	}()

	run.update(func(p *Progress) { p.Phase = PhaseResolving })

	res, err := s.extractor.RunWithHooks(ctx, run.layout, run.criteria, Hooks{
		Resolved: func(files []catalog.SourceFile) {
			run.update(func(p *Progress) {
				p.Phase = PhaseExtracting
				p.TotalFiles = len(files)
			})
		},
		FileDone: func(_ catalog.SourceFile, records int, skipped error) {
			run.update(func(p *Progress) {
				p.DoneFiles++
				p.Records += records
				if skipped != nil {
					p.Skipped++
				}
			})
		},
	})
	if err != nil {
		run.finish(nil, runError(ctx, err), time.Since(start))
		return
	}

	if s.sink != nil {
		run.update(func(p *Progress) { p.Phase = PhaseSaving })
		err := s.sink.SaveRun(ctx, store.Run{
			ID:         run.id,
			Layout:     run.layout,
			Criteria:   run.criteria.Values(),
			Files:      len(res.Files),
			Skipped:    len(res.Skipped),
			DurationMs: int(time.Since(start).Milliseconds()),
			StartedAt:  start,
		}, res.Records)
		if err != nil {
			logging.FromContext(ctx).Error("saving run failed", "error", err)
			run.finish(res, fmt.Errorf("save run: %w", runError(ctx, err)), time.Since(start))
			return
		}
		run.mu.Lock()
		run.saved = true
		run.mu.Unlock()
	}
	run.finish(res, nil, time.Since(start))
}

// runError reports a cancelled run as ErrCancelled.
func runError(ctx context.Context, err error) error {
	if errors.Is(ctx.Err(), context.Canceled) {
		return ErrCancelled
	}
	return err
}

func (r *activeRun) update(f func(p *Progress)) {
	r.mu.Lock()
	f(&r.progress)
	r.notifyLocked()
	r.mu.Unlock()
}

func (r *activeRun) finish(res *Result, err error, d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.result, r.err, r.duration = res, err, d
	switch {
	case errors.Is(err, ErrCancelled):
		r.progress.Phase = PhaseCancelled
	case err != nil:
		r.progress.Phase = PhaseFailed
	default:
		r.progress.Phase = PhaseComplete
	}
	if err != nil {
		r.progress.Error = core.FormatUserError(err)
	}
	if res != nil {
		r.progress.Records = len(res.Records)
		r.progress.Skipped = len(res.Skipped)
	}
	r.notifyLocked()
}

// notifyLocked sends the current progress to every listener. Slow
// listeners miss updates.
func (r *activeRun) notifyLocked() {
	for _, ch := range r.listeners {
		select {
		case ch <- r.progress:
		default:
		}
	}
}

func (r *activeRun) closeListeners() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ch := range r.listeners {
		close(ch)
	}
	r.listeners = nil
	r.closed = true
}

// cleanup forgets a run after delay.
func (s *Service) cleanup(id uuid.UUID, delay time.Duration) {
	time.AfterFunc(delay, func() {
		s.mu.Lock()
		delete(s.runs, id)
		s.mu.Unlock()
	})
}

func (s *Service) get(id uuid.UUID) (*activeRun, error) {
	s.mu.RLock()
	run, ok := s.runs[id]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", store.ErrRunNotFound, id)
	}
	return run, nil
}

// Subscribe returns a channel of progress updates. It receives the current
// progress first and is closed when the run ends.
func (s *Service) Subscribe(id uuid.UUID) (<-chan Progress, error) {
	run, err := s.get(id)
	if err != nil {
		return nil, err
	}

	ch := make(chan Progress, 16)
	run.mu.Lock()
	defer run.mu.Unlock()

	ch <- run.progress
	if run.closed {
		close(ch)
	} else {
		run.listeners = append(run.listeners, ch)
	}
	return ch, nil
}

// Progress returns the current progress without blocking.
func (s *Service) Progress(id uuid.UUID) (Progress, error) {
	run, err := s.get(id)
	if err != nil {
		return Progress{}, err
	}
	run.mu.Lock()
	defer run.mu.Unlock()
	return run.progress, nil
}

// Cancel stops a running extraction.
func (s *Service) Cancel(id uuid.UUID) error {
	run, err := s.get(id)
	if err != nil {
		return err
	}
	run.cancel()
	return nil
}

// Wait blocks until the run ends and returns its result.
func (s *Service) Wait(ctx context.Context, id uuid.UUID) (*Result, error) {
	run, err := s.get(id)
	if err != nil {
		return nil, err
	}
	select {
	case <-run.done:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	run.mu.Lock()
	defer run.mu.Unlock()
	return run.result, run.err
}

// Summary describes a finished run. Runs no longer in memory are looked up
// in the sink.
func (s *Service) Summary(ctx context.Context, id uuid.UUID) (Summary, error) {
	run, err := s.get(id)
	if err != nil {
		return s.storedSummary(ctx, id, err)
	}

	select {
	case <-run.done:
	default:
		return Summary{}, fmt.Errorf("%w: %s", ErrRunNotFinished, id)
	}

	run.mu.Lock()
	defer run.mu.Unlock()
	sum := Summary{
		RunID:      id.String(),
		Layout:     run.layout.String(),
		Criteria:   run.criteria.Values(),
		DurationMs: run.duration.Milliseconds(),
		Saved:      run.saved,
		Files:      []string{},
		Skipped:    []SkippedFile{},
	}
	if run.err != nil {
		sum.Error = core.FormatUserError(run.err)
	}
	if res := run.result; res != nil {
		for _, f := range res.Files {
			sum.Files = append(sum.Files, f.FileName())
		}
		sum.Skipped = append(sum.Skipped, res.Skipped...)
		sum.Records = len(res.Records)
	}
	return sum, nil
}

func (s *Service) storedSummary(ctx context.Context, id uuid.UUID, notFound error) (Summary, error) {
	if s.sink == nil {
		return Summary{}, notFound
	}
	r, err := s.sink.Run(ctx, id)
	if err != nil {
		return Summary{}, err
	}
	return Summary{
		RunID:      r.ID.String(),
		Layout:     r.Layout.String(),
		Criteria:   r.Criteria,
		Files:      []string{},
		Skipped:    []SkippedFile{},
		Records:    r.Records,
		DurationMs: int64(r.DurationMs),
		Saved:      true,
	}, nil
}

// Records returns the records of a finished run and its layout. Runs no
// longer in memory are read from the sink.
func (s *Service) Records(ctx context.Context, id uuid.UUID) (core.LayoutKind, []core.CanonicalRecord, error) {
	run, err := s.get(id)
	if err != nil {
		if s.sink == nil {
			return 0, nil, err
		}
		r, err := s.sink.Run(ctx, id)
		if err != nil {
			return 0, nil, err
		}
		recs, err := s.sink.Records(ctx, id)
		return r.Layout, recs, err
	}

	select {
	case <-run.done:
	default:
		return 0, nil, fmt.Errorf("%w: %s", ErrRunNotFinished, id)
	}

	run.mu.Lock()
	defer run.mu.Unlock()
	if run.result == nil {
		return 0, nil, run.err
	}
	return run.layout, run.result.Records, nil
}

// History lists stored runs, newest first.
func (s *Service) History(ctx context.Context, limit int) ([]store.Run, error) {
	if s.sink == nil {
		return nil, ErrSinkDisabled
	}
	return s.sink.History(ctx, limit)
}

// LimiterStatus reports run slot usage.
func (s *Service) LimiterStatus() LimiterStatus {
	return s.limiter.Status()
}

// WaitForRuns blocks until every running extraction has ended.
func (s *Service) WaitForRuns(ctx context.Context) error {
	return s.limiter.WaitForDrain(ctx)
}

// Extractor returns the extractor the service runs.
func (s *Service) Extractor() *Extractor {
	return s.extractor
}
