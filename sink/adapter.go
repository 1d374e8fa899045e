package sink

import (
	"fmt"

	"typeinject/inject"
)

// EmitFn is what a sink calls to notify the pipeline that a rewritten file
// has been durably written.
type EmitFn func(filename string)

// Adapter is the common behaviour every sink exposes.
type Adapter interface {
	Configure(any) error            // driver-specific config struct
	Push(*inject.FileRewrite) error // consume one changed file
	Close() error                   // flush; idempotent
}

// AckAware is *optional*; sinks that persist output implement it and the
// compiler wires the callback if present.
type AckAware interface {
	BindAck(EmitFn)
}

/*──────── registry ───────*/

type factory = func() Adapter

var reg = map[string]factory{}

func Register(name string, f factory) { reg[name] = f }

func NewAdapter(name string) (Adapter, error) {
	if f, ok := reg[name]; ok {
		return f(), nil
	}
	return nil, fmt.Errorf("unknown sink %q", name)
}
