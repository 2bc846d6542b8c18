package cache

import (
	"context"

	"github.com/RogerFelipeNsk/crabcache-sub001/protocol"
)

// Store is the narrow public surface a caller needs: submit one command or
// a batch, and shut down cleanly. Engine is the only implementation; the
// interface exists so callers depend on behavior, not construction.
type Store interface {
	// Process runs a single command end to end (WAL append, if mutating,
	// then shard dispatch) and returns its response.
	Process(ctx context.Context, cmd protocol.Command) protocol.Response

	// ProcessBatch runs cmds in order, returning one response per command.
	// Not atomic across shards: a later command's failure does not undo an
	// earlier one's effect.
	ProcessBatch(ctx context.Context, cmds []protocol.Command) []protocol.Response

	// ProcessLines runs a block of newline-delimited text commands,
	// returning one response line (with trailing "\n") per input line.
	ProcessLines(ctx context.Context, lines []string) []string

	// Close flushes the write-ahead log, stops all shard workers, and
	// closes the WAL's active segment.
	Close() error
}

var _ Store = (*Engine)(nil)
