// Package router implements the command router (spec.md §4.10, component
// L10): the single entry point that turns a parsed protocol.Command into a
// protocol.Response by enforcing the write-ahead rule for mutating
// commands and dispatching to the owning shard.
//
// Grounded on the teacher's Cache interface (cache/api.go): a narrow,
// fully-documented public surface is kept as the model for Router's own
// API, generalized from direct method calls on an in-process map to a
// tagged-union command/response dispatch, since the router must serialize
// to the WAL and route across shard workers instead of calling a single
// lock-protected store.
package router

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/RogerFelipeNsk/crabcache-sub001/internal/itemcodec"
	"github.com/RogerFelipeNsk/crabcache-sub001/protocol"
	"github.com/RogerFelipeNsk/crabcache-sub001/shardmgr"
	"github.com/RogerFelipeNsk/crabcache-sub001/store"
	"github.com/RogerFelipeNsk/crabcache-sub001/wal"
)

// Clock abstracts wall-clock time so tests can pin the router's
// ttl_s -> expires_at_ms translation, mirroring store.Clock.
type Clock interface {
	NowUnixMilli() int64
}

type systemClock struct{}

func (systemClock) NowUnixMilli() int64 { return time.Now().UnixMilli() }

// Router is the process's single entry point for client commands.
type Router struct {
	shards *shardmgr.Manager
	wal    *wal.Manager
	logger *zap.Logger
	clock  Clock
}

// Option configures a Router at construction.
type Option func(*Router)

// WithClock overrides the time source (for deterministic tests).
func WithClock(c Clock) Option {
	return func(r *Router) { r.clock = c }
}

// WithLogger overrides the structured logger (default zap.NewNop()).
func WithLogger(l *zap.Logger) Option {
	return func(r *Router) { r.logger = l }
}

// New constructs a Router over an already-started shard manager and WAL
// manager. Recovery (if any) must already have run via RecoveryApply
// before the shard manager started accepting live traffic.
func New(shards *shardmgr.Manager, walMgr *wal.Manager, opts ...Option) *Router {
	r := &Router{shards: shards, wal: walMgr, logger: zap.NewNop(), clock: systemClock{}}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Router) now() int64 { return r.clock.NowUnixMilli() }

// RecoveryApply builds the applyRecord callback wal.Start needs: it
// installs each replayed record directly into its owning shard's store,
// bypassing the shard's job queue (there is no concurrent traffic yet) and
// without re-appending to the WAL, per spec.md §4.10's recovery hook
// contract. TTL re-arming uses the record's own persisted ExpiresAtMs.
func RecoveryApply(shards *shardmgr.Manager) func(wal.Record) error {
	return func(rec wal.Record) error {
		if rec.ShardID < 0 || rec.ShardID >= shards.ShardCount() {
			return fmt.Errorf("router: recovered record names out-of-range shard %d", rec.ShardID)
		}
		s := shards.ShardForRecovery(rec.ShardID)
		switch rec.Op {
		case wal.OpPut:
			s.ApplyRecovered(rec.Item)
		case wal.OpDel:
			s.ApplyRecoveredDelete(rec.Item.Key)
		case wal.OpExpire:
			s.ApplyRecoveredExpire(rec.Item.Key, rec.Item.ExpiresAtMs)
		default:
			return fmt.Errorf("router: unknown wal op %v in recovered record", rec.Op)
		}
		return nil
	}
}

// Process implements spec.md §4.10's process(cmd) -> Response.
func (r *Router) Process(ctx context.Context, cmd protocol.Command) protocol.Response {
	switch cmd.Kind {
	case protocol.KindPing:
		return protocol.Pong()
	case protocol.KindStats:
		return r.handleStats(ctx)
	case protocol.KindPut:
		return r.handlePut(ctx, cmd)
	case protocol.KindGet:
		return r.handleGet(ctx, cmd)
	case protocol.KindDel:
		return r.handleDel(ctx, cmd)
	case protocol.KindExpire:
		return r.handleExpire(ctx, cmd)
	default:
		return protocol.Err(protocol.ErrBadRequest, "unrecognized command kind")
	}
}

// ProcessBatch implements spec.md §4.10's process_batch(cmds) ->
// Vec<Response>, in the same order as cmds. Per spec.md §4.8, the batch is
// not atomic across shards: each command's own response reports its own
// outcome independent of its siblings.
func (r *Router) ProcessBatch(ctx context.Context, cmds []protocol.Command) []protocol.Response {
	out := make([]protocol.Response, len(cmds))
	for i, cmd := range cmds {
		out[i] = r.Process(ctx, cmd)
	}
	return out
}

// ProcessLines implements the SPEC_FULL.md-supplemented text-protocol
// pipeline batching: a newline-delimited block of commands gets the same
// per-connection response-ordering guarantee as a binary BATCH-REQ,
// without adding a new wire form. Malformed lines produce a BadRequest
// response in place rather than aborting the rest of the block.
func (r *Router) ProcessLines(ctx context.Context, lines []string) []string {
	out := make([]string, len(lines))
	for i, line := range lines {
		cmd, _, err := protocol.ParseCommand([]byte(line + "\n"))
		var resp protocol.Response
		if err != nil {
			resp = protocol.Err(protocol.ErrBadRequest, err.Error())
		} else {
			resp = r.Process(ctx, cmd)
		}
		out[i] = string(protocol.SerializeResponse(resp, protocol.FormText))
	}
	return out
}

func (r *Router) handlePut(ctx context.Context, cmd protocol.Command) protocol.Response {
	if len(cmd.Key) == 0 || len(cmd.Key) > itemcodec.MaxKeyLen || len(cmd.Value) > itemcodec.MaxValueLen {
		return protocol.Err(protocol.ErrBadRequest, "invalid key or value length")
	}

	shardID := r.shards.Route(cmd.Key)
	var expiresAtMs int64
	if cmd.HasTTL {
		expiresAtMs = r.now() + cmd.TTLSecond*1000
	}

	rec := wal.Record{
		ShardID: shardID,
		Op:      wal.OpPut,
		Item:    itemcodec.Item{Key: cmd.Key, Value: cmd.Value, HasExpiry: cmd.HasTTL, ExpiresAtMs: expiresAtMs},
	}
	if err := r.appendWAL(rec); err != nil {
		return protocol.Err(protocol.ErrIOWriteFailed, err.Error())
	}

	var outcome store.PutOutcome
	err := r.shards.Submit(ctx, shardID, func(s *store.ShardStore) {
		outcome = s.PutAbsolute(cmd.Key, cmd.Value, cmd.HasTTL, expiresAtMs)
	})
	if err != nil {
		return protocol.Err(protocol.ErrInternal, err.Error())
	}

	switch outcome {
	case store.Inserted, store.Replaced:
		return protocol.OK()
	case store.AdmissionRejected:
		return protocol.Err(protocol.ErrAdmissionRejected, "eviction policy declined admission")
	default:
		return protocol.Err(protocol.ErrCapacityExhausted, "shard out of memory")
	}
}

func (r *Router) handleGet(ctx context.Context, cmd protocol.Command) protocol.Response {
	if len(cmd.Key) == 0 {
		return protocol.Err(protocol.ErrBadRequest, "empty key")
	}
	var value []byte
	var ok bool
	err := r.shards.SubmitByKey(ctx, cmd.Key, func(s *store.ShardStore) {
		value, ok = s.Get(cmd.Key)
	})
	if err != nil {
		return protocol.Err(protocol.ErrInternal, err.Error())
	}
	if !ok {
		return protocol.Null()
	}
	return protocol.Value(value)
}

func (r *Router) handleDel(ctx context.Context, cmd protocol.Command) protocol.Response {
	if len(cmd.Key) == 0 {
		return protocol.Err(protocol.ErrBadRequest, "empty key")
	}
	shardID := r.shards.Route(cmd.Key)

	rec := wal.Record{ShardID: shardID, Op: wal.OpDel, Item: itemcodec.Item{Key: cmd.Key}}
	if err := r.appendWAL(rec); err != nil {
		return protocol.Err(protocol.ErrIOWriteFailed, err.Error())
	}

	var removed bool
	err := r.shards.Submit(ctx, shardID, func(s *store.ShardStore) {
		removed = s.Del(cmd.Key)
	})
	if err != nil {
		return protocol.Err(protocol.ErrInternal, err.Error())
	}
	if !removed {
		return protocol.Null()
	}
	return protocol.OK()
}

func (r *Router) handleExpire(ctx context.Context, cmd protocol.Command) protocol.Response {
	if len(cmd.Key) == 0 {
		return protocol.Err(protocol.ErrBadRequest, "empty key")
	}
	shardID := r.shards.Route(cmd.Key)
	expiresAtMs := r.now() + cmd.TTLSecond*1000

	rec := wal.Record{
		ShardID: shardID,
		Op:      wal.OpExpire,
		Item:    itemcodec.Item{Key: cmd.Key, HasExpiry: true, ExpiresAtMs: expiresAtMs},
	}
	if err := r.appendWAL(rec); err != nil {
		return protocol.Err(protocol.ErrIOWriteFailed, err.Error())
	}

	var updated bool
	err := r.shards.Submit(ctx, shardID, func(s *store.ShardStore) {
		updated = s.ExpireAbsolute(cmd.Key, expiresAtMs)
	})
	if err != nil {
		return protocol.Err(protocol.ErrInternal, err.Error())
	}
	if !updated {
		return protocol.Null()
	}
	return protocol.OK()
}

func (r *Router) handleStats(ctx context.Context) protocol.Response {
	shardStats, err := r.shards.Stats(ctx)
	if err != nil {
		return protocol.Err(protocol.ErrInternal, err.Error())
	}
	return protocol.Stats(formatStats(shardStats))
}

// appendWAL implements spec.md §4.10's write-ahead rule: serialize, append,
// flush per policy. If append fails the command fails before the shard
// store is ever touched.
func (r *Router) appendWAL(rec wal.Record) error {
	if err := r.wal.Append(rec); err != nil {
		r.logger.Error("router: wal append failed", zap.Int("shard", rec.ShardID), zap.Error(err))
		return err
	}
	return nil
}
