package stdout

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"sync/atomic"

	"typeinject/inject"
	"typeinject/sink"
)

/* ────────── config ────────── */
type Config struct {
	PrintSource bool      // dump the rewritten file after the summary
	Out         io.Writer // defaults to os.Stdout
}

/* ────────── driver ────────── */
type driver struct {
	cfg Config
	mu  sync.Mutex // one file's lines stay together
}

var seq uint64

func (d *driver) Configure(raw any) error {
	c, ok := raw.(Config)
	if !ok {
		return fmt.Errorf("stdout-sink: expected Config, got %T", raw)
	}
	if c.Out == nil {
		c.Out = os.Stdout
	}
	d.cfg = c
	return nil
}

// Push prints one line per rewritten function:
//
//	[sink 000001] /src/calc/calc.go:7 IntDivision a:int b:int
func (d *driver) Push(res *inject.FileRewrite) error {
	var b strings.Builder
	for _, fn := range res.Functions {
		fmt.Fprintf(&b, "[sink %06d] %s:%d %s", atomic.AddUint64(&seq, 1), res.Filename, fn.Line, fn.Func)
		for _, a := range fn.Assertions {
			fmt.Fprintf(&b, " %s:%s", a.Param, a.Descriptor.Name())
		}
		b.WriteByte('\n')
	}
	if d.cfg.PrintSource {
		b.Write(res.Source)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	_, err := io.WriteString(d.cfg.Out, b.String())
	return err
}

func (d *driver) Close() error { return nil }

/* ────────── auto-register ────────── */
func init() {
	sink.Register("stdout", func() sink.Adapter { return &driver{} })
}
