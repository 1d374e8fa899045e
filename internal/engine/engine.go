package engine

import (
	"context"
	"time"

	"typeinject/internal/transport"
)

type Engine struct {
	transport   *transport.Server
	stopMetrics func(context.Context) error
}

// Run serves until ctx is done.
func (e *Engine) Run(ctx context.Context) error {

	go func() {
		<-ctx.Done()
		e.transport.Stop()
		if e.stopMetrics != nil {
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = e.stopMetrics(sctx)
		}
	}()

	return e.transport.Serve()
}
