package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/RogerFelipeNsk/crabcache-sub001/protocol"
	"github.com/RogerFelipeNsk/crabcache-sub001/router"
	"github.com/RogerFelipeNsk/crabcache-sub001/shardmgr"
	"github.com/RogerFelipeNsk/crabcache-sub001/store"
	"github.com/RogerFelipeNsk/crabcache-sub001/wal"
)

// ErrInvalidOptions is returned by New when Options is missing a required
// field.
var ErrInvalidOptions = errors.New("cache: invalid options")

// Engine wires together the shard manager, the write-ahead log, and the
// command router into the single object a process embeds.
type Engine struct {
	shards *shardmgr.Manager
	wal    *wal.Manager
	router *router.Router
	opt    Options

	statsMu sync.Mutex // guards prev across concurrent PollStats calls
	prev    store.Stats
}

// New constructs an Engine: opens (or creates) the WAL directory, replays
// any existing log into a fresh shard manager, and returns ready to serve
// commands. Replay runs to completion before New returns, so no caller can
// observe a partially-recovered store.
func New(opt Options) (*Engine, error) {
	if opt.Dir == "" {
		return nil, fmt.Errorf("%w: Dir is required", ErrInvalidOptions)
	}
	if opt.CapacityBytes <= 0 {
		return nil, fmt.Errorf("%w: CapacityBytes must be > 0", ErrInvalidOptions)
	}

	shards := shardmgr.New(shardmgr.Config{
		Shards:             opt.Shards,
		CapacityBytesTotal: opt.CapacityBytes,
		UseEviction:        !opt.DisableEviction,
		Logger:             opt.logger(),
	})

	walMgr, _, err := wal.Start(wal.Config{
		Dir:           opt.Dir,
		Policy:        opt.WALPolicy,
		EveryN:        opt.WALEveryN,
		AsyncInterval: opt.WALAsyncInterval,
		Logger:        opt.logger(),
	}, router.RecoveryApply(shards))
	if err != nil {
		shards.Shutdown(nil)
		return nil, fmt.Errorf("cache: recover wal: %w", err)
	}

	var routerOpts []router.Option
	routerOpts = append(routerOpts, router.WithLogger(opt.logger()))
	if opt.Clock != nil {
		routerOpts = append(routerOpts, router.WithClock(opt.Clock))
	}

	return &Engine{
		shards: shards,
		wal:    walMgr,
		router: router.New(shards, walMgr, routerOpts...),
		opt:    opt,
	}, nil
}

// Process runs a single command end to end.
func (e *Engine) Process(ctx context.Context, cmd protocol.Command) protocol.Response {
	resp := e.router.Process(ctx, cmd)
	e.observe(cmd.Kind, resp)
	return resp
}

// ProcessBatch runs cmds in order, one response per command.
func (e *Engine) ProcessBatch(ctx context.Context, cmds []protocol.Command) []protocol.Response {
	resps := e.router.ProcessBatch(ctx, cmds)
	for i, cmd := range cmds {
		e.observe(cmd.Kind, resps[i])
	}
	return resps
}

// ProcessLines runs a block of newline-delimited text commands.
func (e *Engine) ProcessLines(ctx context.Context, lines []string) []string {
	return e.router.ProcessLines(ctx, lines)
}

// observe feeds a just-completed command's outcome to Options.Metrics. Only
// GET results in a Hit/Miss signal, matching the teacher's cache.Get being
// the sole hit/miss observation point.
func (e *Engine) observe(kind protocol.CommandKind, resp protocol.Response) {
	if kind != protocol.KindGet {
		return
	}
	m := e.opt.metrics()
	if resp.Kind == protocol.RespNull {
		m.Miss()
	} else if resp.Kind == protocol.RespValue {
		m.Hit()
	}
}

// PollStats samples aggregated shard stats once, reporting size and
// eviction/expiry deltas since the previous call to Options.Metrics. A
// caller typically runs this on a ticker; the first call reports everything
// counted since New as its delta.
func (e *Engine) PollStats(ctx context.Context) (store.Stats, error) {
	e.statsMu.Lock()
	defer e.statsMu.Unlock()
	shardStats, err := e.shards.Stats(ctx)
	if err != nil {
		return store.Stats{}, err
	}
	var agg store.Stats
	for _, s := range shardStats {
		agg.Entries += s.Entries
		agg.MemoryUsedBytes += s.MemoryUsedBytes
		agg.CapacityBytes += s.CapacityBytes
		agg.Hits += s.Hits
		agg.Misses += s.Misses
		agg.Evictions += s.Evictions
		agg.AdmissionRejections += s.AdmissionRejections
		agg.ExpiredByWheel += s.ExpiredByWheel
	}

	m := e.opt.metrics()
	m.Size(int(agg.Entries), agg.MemoryUsedBytes)
	if d := agg.Evictions - e.prev.Evictions; d > 0 {
		for i := uint64(0); i < d; i++ {
			m.Evict(EvictPolicy)
		}
	}
	if d := agg.ExpiredByWheel - e.prev.ExpiredByWheel; d > 0 {
		for i := uint64(0); i < d; i++ {
			m.Evict(EvictTTL)
		}
	}
	e.prev = agg
	return agg, nil
}

// Close flushes the WAL, stops every shard worker, then closes the WAL.
func (e *Engine) Close() error {
	walErr := e.wal.Flush()
	shardErr := e.shards.Shutdown(e.wal.Shutdown)
	if walErr != nil {
		return walErr
	}
	return shardErr
}
