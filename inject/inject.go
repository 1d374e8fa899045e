// Package inject rewrites a Go function so that its body starts with inline
// type assertions on its parameters, recompiles the rewritten declaration in
// an isolated interpreter and hands back the result in place of the original.
//
//	var Divide = inject.Must(inject.Func(IntDivision, typeassert.Int, typeassert.Int))
//
// The same splicing is used at build time by RewriteFile.
package inject

import (
	"errors"
	"go/token"
	"io"
	"log/slog"
	"reflect"
	"time"

	"typeinject/internal/logging"
	"typeinject/typeassert"
)

// Observer receives one call per attempted stage.
type Observer interface {
	ObserveStage(stage State, d time.Duration, err error)
}

// Engine runs transformations. It holds configuration only, so one Engine
// may serve concurrent transformations.
type Engine struct {
	marker   string
	stdout   io.Writer
	stderr   io.Writer
	observer Observer
	log      *slog.Logger
}

type Option func(*Engine)

// WithMarker changes the directive stripped from declarations.
func WithMarker(m string) Option { return func(e *Engine) { e.marker = m } }

// WithStdout sets where interpreted fmt.Print* calls write.
func WithStdout(w io.Writer) Option { return func(e *Engine) { e.stdout = w } }

// WithStderr sets where the interpreter reports panics.
func WithStderr(w io.Writer) Option { return func(e *Engine) { e.stderr = w } }

func WithObserver(o Observer) Option { return func(e *Engine) { e.observer = o } }

func WithLogger(l *slog.Logger) Option { return func(e *Engine) { e.log = l } }

func New(opts ...Option) *Engine {
	e := &Engine{marker: DefaultMarker, stderr: io.Discard}
	for _, o := range opts {
		o(e)
	}
	return e
}

func (e *Engine) logger() *slog.Logger {
	if e.log != nil {
		return e.log
	}
	return logging.L()
}

// Transformation is the record of one pass through the pipeline.
type Transformation struct {
	Func        string
	State       State
	Source      *Source
	Target      *Target
	Splicing    *Splicing
	Unit        *Unit
	Replacement any
	Err         error
}

// Run transforms fn against descs and reports how far it got. On success
// State is Bound and Replacement holds a value of fn's type; otherwise
// State is Failed and Err is a *StageError. A marker directive on fn is
// removed but not read.
func (e *Engine) Run(fn any, descs ...typeassert.Descriptor) *Transformation {
	return e.run(fn, false, descs)
}

// RunMarked is Run with the descriptors taken from fn's marker directive.
func (e *Engine) RunMarked(fn any) *Transformation {
	return e.run(fn, true, nil)
}

func (e *Engine) run(fn any, marked bool, descs []typeassert.Descriptor) *Transformation {
	tr := &Transformation{State: Untransformed}
	var value reflect.Value

	_ = e.step(tr, Parsed, func() error {
		src, err := Capture(fn)
		if err != nil {
			return err
		}
		tr.Func, tr.Source = src.Func, src
		t, err := ParseTarget(token.NewFileSet(), src.File, src.Text, src.Name)
		if err != nil {
			return err
		}
		if !t.Spans(src.Line) {
			return stageErr(Parsed, src.Func, ErrSourceUnavailable, "%s:%d is outside the declaration; source changed since build", src.File, src.Line)
		}
		if marked {
			dir, err := FindDirective(t.Decl, e.marker)
			if err != nil {
				return stageErr(Parsed, src.Func, ErrParse, "%v", err)
			}
			if dir != nil {
				descs = dir.Types
			}
		}
		StripMarker(t.File, t.Decl, e.marker)
		tr.Target = t
		return nil
	}) && e.step(tr, Spliced, func() error {
		sp, err := tr.Target.Splice(descs)
		tr.Splicing = sp
		return err
	}) && e.step(tr, Compiled, func() error {
		u, err := NewUnit(tr.Target, tr.Splicing)
		if err != nil {
			return err
		}
		tr.Unit = u
		value, err = compileUnit(u, e.stdout, e.stderr)
		return err
	}) && e.step(tr, Bound, func() error {
		r, err := bind(value, reflect.TypeOf(fn), tr.Func)
		tr.Replacement = r
		return err
	})
	return tr
}

func (e *Engine) step(tr *Transformation, next State, fn func() error) bool {
	start := time.Now()
	err := fn()
	if e.observer != nil {
		e.observer.ObserveStage(next, time.Since(start), err)
	}
	if err != nil {
		var se *StageError
		if !errors.As(err, &se) {
			err = &StageError{Stage: next, Func: tr.Func, Err: err}
		}
		tr.State, tr.Err = Failed, err
		e.logger().Debug("inject: stage failed", "func", tr.Func, "stage", next.step(), "err", err)
		return false
	}
	tr.State = next
	e.logger().Debug("inject: stage done", "func", tr.Func, "state", next)
	return true
}

// Transform returns the checked replacement for fn.
func (e *Engine) Transform(fn any, descs ...typeassert.Descriptor) (any, error) {
	tr := e.Run(fn, descs...)
	return tr.Replacement, tr.Err
}

var std = New()

// Transformer is the decorator shape: original in, replacement out.
type Transformer[F any] func(F) (F, error)

// With returns a Transformer that checks parameters against descs.
func With[F any](descs ...typeassert.Descriptor) Transformer[F] {
	return func(fn F) (F, error) { return Func(fn, descs...) }
}

// Func transforms fn with the default engine.
func Func[F any](fn F, descs ...typeassert.Descriptor) (F, error) {
	return Apply(std, fn, descs...)
}

// Marked transforms fn using the types listed in its marker directive.
func Marked[F any](fn F) (F, error) {
	return typed[F](std.RunMarked(fn))
}

// Apply transforms fn with e.
func Apply[F any](e *Engine, fn F, descs ...typeassert.Descriptor) (F, error) {
	return typed[F](e.Run(fn, descs...))
}

func typed[F any](tr *Transformation) (F, error) {
	var zero F
	if tr.Err != nil {
		return zero, tr.Err
	}
	out, ok := tr.Replacement.(F)
	if !ok {
		return zero, &StageError{Stage: Bound, Func: tr.Func, Err: ErrInternal}
	}
	return out, nil
}

// Must panics if err is non-nil. A failed transformation at load time leaves
// no usable binding, so the program should not start.
func Must[F any](fn F, err error) F {
	if err != nil {
		panic(err)
	}
	return fn
}
