package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/cxapython/armtrace/internal/cache"
	"github.com/cxapython/armtrace/internal/parser"
	"github.com/cxapython/armtrace/internal/query"
	"github.com/cxapython/armtrace/internal/reconstruct"
	"github.com/cxapython/armtrace/internal/traceevent"
)

type loggerKey struct{}

func withLogger(ctx context.Context, log *zap.Logger) context.Context {
	return context.WithValue(ctx, loggerKey{}, log)
}

func loggerFrom(ctx context.Context) *zap.Logger {
	if log, ok := ctx.Value(loggerKey{}).(*zap.Logger); ok && log != nil {
		return log
	}
	return zap.NewNop()
}

// traceFlags are the flags shared by every subcommand that opens a trace.
type traceFlags struct {
	path               string
	checkpointInterval int
	useDecoder         bool
	archHint           string
	cachePath          string
}

// bindTraceFlags registers the flags shared by every trace-opening
// subcommand directly on cmd's pflag.FlagSet.
func bindTraceFlags(cmd *cobra.Command, f *traceFlags) {
	fs := cmd.Flags()
	fs.StringVar(&f.path, "trace", "", "path to the trace file (required)")
	fs.IntVar(&f.checkpointInterval, "checkpoint-interval", reconstruct.DefaultCheckpointInterval,
		"lines between register checkpoints")
	fs.BoolVar(&f.useDecoder, "use-decoder", false, "cross-check call/return classification against a raw-encoding decoder")
	fs.VarP(newArchValue(&f.archHint), "arch", "a", "architecture hint: auto, arm32, or arm64")
	fs.StringVar(&f.cachePath, "cache", "", "optional SQLite cache path (read always attempted, write gated by "+cache.EnvWriteEnable+")")
	cmd.MarkFlagRequired("trace")
}

// archValue is a pflag.Value restricting --arch to the three valid hints,
// giving the CLI surface the same input validation cobra's own pflag.Value
// examples use for enum-shaped flags.
type archValue struct{ s *string }

func newArchValue(s *string) *archValue {
	*s = "auto"
	return &archValue{s: s}
}

func (v *archValue) String() string { return *v.s }
func (v *archValue) Type() string   { return "arch" }
func (v *archValue) Set(s string) error {
	switch s {
	case "auto", "arm32", "arm64":
		*v.s = s
		return nil
	default:
		return fmt.Errorf("must be one of auto, arm32, arm64")
	}
}

var _ pflag.Value = (*archValue)(nil)

func (f *traceFlags) arch() traceevent.Arch {
	switch f.archHint {
	case "arm32":
		return traceevent.ArchARM32
	case "arm64":
		return traceevent.ArchARM64
	default:
		return traceevent.ArchAuto
	}
}

// openSession parses the trace named by f and wraps it in a query.Session.
// When f.cachePath is set, it first tries the on-disk cache: reading is
// always attempted, and a signature mismatch or read error silently falls
// back to a fresh parse, never a fatal error. On a fresh parse it
// opportunistically populates the cache in the background when
// cache.WriteEnabled() reports the write gate is on.
func openSession(cmd *cobra.Command, f *traceFlags) (*query.Session, error) {
	log := loggerFrom(cmd.Context())
	opts := parser.Options{
		ArchHint:           f.arch(),
		CheckpointInterval: f.checkpointInterval,
		UseDecoder:         f.useDecoder,
		Logger:             log,
	}

	if f.cachePath != "" {
		if p, ok := tryLoadFromCache(f, opts, log); ok {
			return query.New(p, log), nil
		}
	}

	p := parser.New(opts)
	if err := p.ParseFile(f.path, nil); err != nil {
		return nil, fmt.Errorf("armtrace: %w", err)
	}
	if n := p.Malformed(); n > 0 {
		fmt.Fprintf(cmd.ErrOrStderr(), "note: skipped %d malformed line(s)\n", n)
	}

	if f.cachePath != "" && cache.WriteEnabled() {
		dumpToCache(f, p, log)
	}

	return query.New(p, log), nil
}

// tryLoadFromCache opens f.cachePath, checks its signature against the
// trace file + checkpoint interval, and on a match rebuilds a Parser
// around the cached table scan. Any failure here is silent; the caller
// falls back to ParseFile.
func tryLoadFromCache(f *traceFlags, opts parser.Options, log *zap.Logger) (*parser.Parser, bool) {
	sig, err := cache.FileSignature(f.path, f.checkpointInterval)
	if err != nil {
		return nil, false
	}
	cs, err := cache.Open(f.cachePath, log)
	if err != nil {
		return nil, false
	}
	defer cs.Close()

	match, err := cs.CheckSignature(sig)
	if err != nil || !match {
		return nil, false
	}

	s, err := cs.Load(context.Background())
	if err != nil {
		log.Warn("cache: load failed, falling back to fresh parse", zap.Error(err))
		return nil, false
	}

	p := parser.New(opts)
	p.AdoptCachedStore(s)
	return p, true
}

// dumpToCache starts a background cache write of the just-parsed store.
// Failures are logged, never surfaced — the cache is not part of the
// system's boundary of correctness.
func dumpToCache(f *traceFlags, p *parser.Parser, log *zap.Logger) {
	sig, err := cache.FileSignature(f.path, f.checkpointInterval)
	if err != nil {
		log.Warn("cache: signature failed, skipping background dump", zap.Error(err))
		return
	}
	cs, err := cache.Open(f.cachePath, log)
	if err != nil {
		log.Warn("cache: open failed, skipping background dump", zap.Error(err))
		return
	}
	cs.DumpAsync(sig, p.Store.Events)
}
