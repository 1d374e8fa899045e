package pipeline

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"typeinject/inject"
	"typeinject/internal/logging"
	"typeinject/internal/telemetry"
	"typeinject/internal/transform"
	"typeinject/sink"
	"typeinject/source"
)

type stage struct {
	name     string
	client   transform.Client
	timeout  time.Duration
	attempts int // retries after the first call
	backoff  time.Duration
}

// Summary counts what one Run did.
type Summary struct {
	Files     int
	Changed   int
	Functions int
	Written   int
}

type Runner struct {
	source   source.Adapter
	rewriter *stage
	sinks    []sink.Adapter
	metrics  *telemetry.Metrics

	marker   string
	requests map[string][]inject.Request // by absolute file path
	workers  int

	mu      sync.Mutex // guards sinks and summary
	summary Summary
	written atomic.Int64 // acks arrive while mu is held by a Push
}

func NewRunner() *Runner { return &Runner{workers: 1} }

func (r *Runner) SetSource(s source.Adapter)                { r.source = s }
func (r *Runner) AddSink(s sink.Adapter)                    { r.sinks = append(r.sinks, s) }
func (r *Runner) SetMetrics(m *telemetry.Metrics)           { r.metrics = m }
func (r *Runner) SetMarker(m string)                        { r.marker = m }
func (r *Runner) SetRequests(q map[string][]inject.Request) { r.requests = q }

func (r *Runner) SetWorkers(n int) {
	if n < 1 {
		n = 1
	}
	r.workers = n
}

// SetRewriter installs the client every file goes through. A failed call is
// retried attempts more times, waiting backoff in between, when the client
// says the error is retryable.
func (r *Runner) SetRewriter(name string, c transform.Client, timeout time.Duration, attempts int, backoff time.Duration) {
	r.rewriter = &stage{name: name, client: c, timeout: timeout, attempts: attempts, backoff: backoff}
}

// Ack is bound to sinks that persist output.
func (r *Runner) Ack(filename string) {
	r.written.Add(1)
	if r.metrics != nil {
		r.metrics.ObserveWritten()
	}
	logging.L().Debug("pipeline: written", "file", filename)
}

// Run pulls every file from the source, rewrites up to workers files at a
// time and pushes the changed ones to the sinks. Sinks are closed before Run
// returns. A manifest target whose file the source never produced is an
// error.
func (r *Runner) Run(ctx context.Context) (Summary, error) {
	if r.source == nil {
		return Summary{}, errors.New("runner: no source configured")
	}
	if r.rewriter == nil {
		return Summary{}, errors.New("runner: no rewriter configured")
	}

	var seenMu sync.Mutex
	seen := map[string]bool{}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.workers)
	srcErr := r.source.Run(gctx, func(f source.File) error {
		seenMu.Lock()
		seen[f.Path] = true
		seenMu.Unlock()
		if err := gctx.Err(); err != nil {
			return err
		}
		g.Go(func() error { return r.process(gctx, f) })
		return nil
	})
	err := g.Wait()
	if err == nil {
		err = srcErr
	} else if srcErr != nil && !errors.Is(srcErr, context.Canceled) {
		err = errors.Join(err, srcErr)
	}
	if err == nil {
		err = missing(r.requests, seen)
	}
	err = errors.Join(err, r.closeSinks())

	r.mu.Lock()
	sum := r.summary
	r.mu.Unlock()
	sum.Written = int(r.written.Load())
	logging.L().Info("pipeline: done", "files", sum.Files, "changed", sum.Changed, "functions", sum.Functions, "written", sum.Written, "err", err)
	return sum, err
}

func (r *Runner) process(ctx context.Context, f source.File) error {
	opts := inject.FileOptions{Marker: r.marker, Requests: r.requests[f.Path]}
	if r.metrics != nil {
		opts.Observer = r.metrics
	}
	res, err := r.rewrite(ctx, f, opts)
	if r.metrics != nil {
		r.metrics.ObserveFile(res, err)
	}
	if err != nil {
		return fmt.Errorf("%s: %w", f.Path, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.summary.Files++
	if !res.Changed() {
		return nil
	}
	r.summary.Changed++
	r.summary.Functions += len(res.Functions)
	logging.L().Debug("pipeline: rewritten", "file", f.Path, "functions", len(res.Functions))
	for _, s := range r.sinks {
		if err := s.Push(res); err != nil {
			return err
		}
	}
	return nil
}

func (r *Runner) rewrite(ctx context.Context, f source.File, opts inject.FileOptions) (*inject.FileRewrite, error) {
	st := r.rewriter
	for attempt := 0; ; attempt++ {
		res, err := st.call(ctx, f, opts)
		if err == nil || attempt >= st.attempts || !st.client.Retryable(err) {
			return res, err
		}
		logging.L().Warn("pipeline: retrying", "rewriter", st.name, "file", f.Path, "attempt", attempt+1, "err", err)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(st.backoff):
		}
	}
}

func (s *stage) call(ctx context.Context, f source.File, opts inject.FileOptions) (*inject.FileRewrite, error) {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	return s.client.Rewrite(ctx, f.Path, f.Src, opts)
}

func (r *Runner) closeSinks() error {
	var errs []error
	for _, s := range r.sinks {
		errs = append(errs, s.Close())
	}
	return errors.Join(errs...)
}

// Close releases the rewriter client.
func (r *Runner) Close() error {
	if r.rewriter == nil {
		return nil
	}
	return r.rewriter.client.Close()
}

func missing(requests map[string][]inject.Request, seen map[string]bool) error {
	var out []string
	for _, p := range slices.Sorted(maps.Keys(requests)) {
		if !seen[p] {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return fmt.Errorf("manifest targets files the source did not produce: %v", out)
}
