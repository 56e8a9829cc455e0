// Package parser ties the Line Lexer, Event Store, Call Annotator,
// Register Reconstructor, and Effective-Address Resolver into a single
// ingestion pipeline: lex -> append -> annotate -> index, then (once the
// whole file is consumed) the one-shot effaddr/mem_op/mem_width
// precompute and store-address indexing pass.
package parser

import (
	"bufio"
	"fmt"
	"io"
	"os"

	"go.uber.org/zap"

	"github.com/cxapython/armtrace/internal/classify"
	"github.com/cxapython/armtrace/internal/decode"
	"github.com/cxapython/armtrace/internal/effaddr"
	"github.com/cxapython/armtrace/internal/lexer"
	"github.com/cxapython/armtrace/internal/reconstruct"
	"github.com/cxapython/armtrace/internal/store"
	"github.com/cxapython/armtrace/internal/traceerr"
	"github.com/cxapython/armtrace/internal/traceevent"
)

// decoderWarnLimit caps rate-limited DecoderUnavailable warnings per
// distinct mnemonic, so a trace with thousands of unsupported encodings
// doesn't flood the log.
const decoderWarnLimit = 20

// defaultProgressEvery is the line cadence for the parse progress
// callback when the caller doesn't override it.
const defaultProgressEvery = 100

// Options configures a Parser. Every zero value resolves to a documented
// default.
type Options struct {
	ArchHint           traceevent.Arch
	CheckpointInterval int // default reconstruct.DefaultCheckpointInterval
	UseDecoder         bool
	ProgressEvery      int // lines between progress_cb calls; default 100
	Logger             *zap.Logger
}

func (o Options) checkpointInterval() int {
	if o.CheckpointInterval > 0 {
		return o.CheckpointInterval
	}
	return reconstruct.DefaultCheckpointInterval
}

func (o Options) progressEvery() int {
	if o.ProgressEvery > 0 {
		return o.ProgressEvery
	}
	return defaultProgressEvery
}

// ProgressFunc receives an estimated percent-complete (0-100), estimated
// from bytes read vs. file size, called every ProgressEvery lines.
type ProgressFunc func(percent float64)

// Parser owns the frozen post-parse state: the Event Store, register
// Reconstructor, and effective-address Resolver. All three are safe for
// concurrent read-only use once Parse returns.
type Parser struct {
	opts Options
	log  *zap.Logger

	Store         *store.Store
	Checkpoints   *reconstruct.Checkpoints
	Reconstructor *reconstruct.Reconstructor
	EffAddr       *effaddr.Resolver

	malformed         int
	decoderWarnCounts map[string]int
}

// New creates a Parser. Call Parse to populate it.
func New(opts Options) *Parser {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Parser{
		opts:              opts,
		log:               log,
		Store:             store.New(),
		Checkpoints:       reconstruct.NewCheckpoints(opts.checkpointInterval()),
		decoderWarnCounts: make(map[string]int),
	}
}

// Malformed returns the number of input lines skipped because they did
// not match the line grammar.
func (p *Parser) Malformed() int { return p.malformed }

// ParseFile opens path and parses it. IO failures abort the parse and are
// wrapped around traceerr.IoFailure; malformed lines never abort.
func (p *Parser) ParseFile(path string, progress ProgressFunc) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("parser: open %s: %w", path, traceerr.IoFailure)
	}
	defer f.Close()

	var totalSize int64
	if fi, err := f.Stat(); err == nil {
		totalSize = fi.Size()
	}
	return p.Parse(f, totalSize, progress)
}

// Parse ingests r line by line. totalSize (in bytes, 0 if unknown) is used
// only to estimate the progress percentage reported to progress.
func (p *Parser) Parse(r io.Reader, totalSize int64, progress ProgressFunc) error {
	lx := lexer.New(p.opts.ArchHint)
	annotator := store.NewCallAnnotator()
	currentRegs := make(traceevent.RegMap)

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)

	lineNo := 0
	var bytesRead int64
	every := p.opts.progressEvery()

	for scanner.Scan() {
		lineNo++
		line := scanner.Text()
		bytesRead += int64(len(line)) + 1

		ev, bt, ok := lx.ParseLine(lineNo, line)
		if !ok {
			continue
		}

		isCall, isReturn := p.classifyCallReturn(lx.Arch(), ev)
		annotator.Annotate(ev, isCall, isReturn)

		reconstruct.ApplyEvent(currentRegs, ev)
		p.Checkpoints.MaybeRecord(lineNo, currentRegs)

		p.Store.Append(*ev)
		if bt != nil {
			p.Store.AddFunctionCandidate(bt.Addr, bt.Name)
		}

		if progress != nil && lineNo%every == 0 {
			progress(percentOf(bytesRead, totalSize))
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("parser: read: %w", traceerr.IoFailure)
	}

	p.malformed = lx.Malformed()
	if p.malformed > 0 {
		p.log.Warn("parse: skipped malformed lines", zap.Int("count", p.malformed))
	}
	if progress != nil {
		progress(100)
	}

	p.Reconstructor = reconstruct.New(p.Store, p.Checkpoints)
	p.EffAddr = effaddr.NewResolver(p.Reconstructor)
	p.precomputeAddresses()
	return nil
}

// AdoptCachedStore wires p around a store.Store rebuilt from the on-disk
// cache: presence of a matching cache bypasses lexing and indexing, since
// the cached table scan already carries call_id/call_depth and
// reads/writes. This still has to run the one-shot effaddr/mem_op/
// mem_width precompute pass, since the cache schema does not persist that
// lazily-filled state. No checkpoints are available from the cache, so
// the Reconstructor cold-starts from event 0 on a cache miss in its LRU —
// correct, just slower until the LRU warms up.
func (p *Parser) AdoptCachedStore(s *store.Store) {
	p.Store = s
	p.Checkpoints = reconstruct.NewCheckpoints(p.opts.checkpointInterval())
	p.Reconstructor = reconstruct.New(p.Store, p.Checkpoints)
	p.EffAddr = effaddr.NewResolver(p.Reconstructor)
	p.precomputeAddresses()
}

// precomputeAddresses is the one-shot pass that fills every load/store's
// effaddr/mem_op/mem_width and populates the store-address index, which
// must happen before any taint engine runs.
func (p *Parser) precomputeAddresses() {
	for i := 0; i < p.Store.Len(); i++ {
		ev := p.Store.Event(i)
		p.EffAddr.Fill(i, ev)
		if ev.MemOp == traceevent.MemStore && ev.EffAddrValid {
			p.Store.IndexStore(i, uint32(ev.EffAddr), ev.MemWidth)
		}
	}
}

// classifyCallReturn determines call/return status for ev, consulting the
// optional native decoder first when enabled and falling back to the
// mnemonic classifier on decode failure, with a rate-limited warning.
func (p *Parser) classifyCallReturn(arch traceevent.Arch, ev *traceevent.Event) (isCall, isReturn bool) {
	if p.opts.UseDecoder && ev.Encoding != "" {
		var cr decode.CallReturn
		var ok bool
		if arch == traceevent.ArchARM64 {
			cr, ok = decode.ARM64(ev.Encoding)
		} else {
			cr, ok = decode.ARM32(ev.Encoding)
		}
		if ok {
			return cr.IsCall, cr.IsReturn
		}
		p.warnDecoderUnavailable(ev.Mnemonic())
	}
	return classify.IsCall(ev.Asm), classify.IsReturn(ev.Asm)
}

func (p *Parser) warnDecoderUnavailable(mnemonic string) {
	n := p.decoderWarnCounts[mnemonic]
	if n >= decoderWarnLimit {
		return
	}
	p.decoderWarnCounts[mnemonic] = n + 1
	p.log.Warn("decoder unavailable, falling back to mnemonic classifier",
		zap.String("mnemonic", mnemonic), zap.Int("warn_count", n+1))
}

func percentOf(read, total int64) float64 {
	if total <= 0 {
		return 0
	}
	pct := float64(read) / float64(total) * 100
	if pct > 100 {
		pct = 100
	}
	return pct
}
