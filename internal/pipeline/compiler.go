package pipeline

import (
	"fmt"

	"typeinject/internal/config"
	"typeinject/internal/telemetry"
	"typeinject/internal/transform"
	"typeinject/sink"
	"typeinject/sink/overlay"
	"typeinject/sink/stdout"
	"typeinject/source"
	_ "typeinject/source/git"
	_ "typeinject/source/walk"
)

func Compile(cfg config.Config, m *telemetry.Metrics) (*Runner, error) {
	r := NewRunner()
	r.SetMetrics(m)
	if err := Load(cfg, r); err != nil {
		_ = r.Close()
		return nil, err
	}
	return r, nil
}

// Load wires the source, rewriter, manifest and sinks described by cfg into r.
func Load(cfg config.Config, r *Runner) error {
	src, err := source.NewAdapter(cfg.Source.Kind)
	if err != nil {
		return err
	}
	if err := src.Configure(source.Config{Root: cfg.Root, Revision: cfg.Source.Revision}); err != nil {
		return err
	}
	r.SetSource(src)
	r.SetMarker(cfg.Marker)
	r.SetWorkers(cfg.Workers)

	reqs, err := config.LoadManifest(cfg.Manifest)
	if err != nil {
		return err
	}
	r.SetRequests(reqs)

	rw := cfg.Rewriter
	switch rw.Kind {
	case "inproc":
		r.SetRewriter(rw.Kind, transform.NewInProcessClient(), rw.Timeout, 0, 0)
	case "grpc":
		cli, err := transform.NewGRPCClient(rw.Address)
		if err != nil {
			return fmt.Errorf("rewriter: dial %s: %w", rw.Address, err)
		}
		r.SetRewriter(rw.Address, cli, rw.Timeout, rw.Attempts, rw.Backoff)
	default:
		return fmt.Errorf("unsupported rewriter %q", rw.Kind)
	}

	for _, name := range cfg.Sinks {
		sDrv, err := sink.NewAdapter(name)
		if err != nil {
			return err
		}

		switch name {
		case "overlay":
			err = sDrv.Configure(overlay.Config{CacheDir: cfg.Overlay.CacheDir})
		case "stdout":
			err = sDrv.Configure(stdout.Config{PrintSource: cfg.Stdout.PrintSource})
		default:
			err = fmt.Errorf("no config block for sink %q", name)
		}
		if err != nil {
			return err
		}

		if ackAware, ok := sDrv.(sink.AckAware); ok {
			ackAware.BindAck(r.Ack)
		}
		r.AddSink(sDrv)
	}
	return nil
}
