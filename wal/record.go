// Package wal implements the segmented write-ahead log: the on-disk record
// and segment format (L6) and the manager that owns segment rotation,
// flush policy, and crash recovery (L7).
//
// Grounded on the reference WAL writers in the retrieval pack
// (LeeNgari-RDBMS's length-prefixed-record-plus-CRC writer and
// bagaswh-prometheus's segment-rotation-by-size WAL) — neither is the
// teacher, so the file layout below follows those idioms rather than any
// teacher code, which has no on-disk log of its own.
package wal

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/RogerFelipeNsk/crabcache-sub001/internal/itemcodec"
)

// Op identifies which mutating command a record captures. Values match the
// wire protocol's mutating command tags (Get/Ping/Stats never reach the WAL).
type Op byte

const (
	OpPut    Op = 0x01
	OpDel    Op = 0x03
	OpExpire Op = 0x04
)

func (o Op) String() string {
	switch o {
	case OpPut:
		return "PUT"
	case OpDel:
		return "DEL"
	case OpExpire:
		return "EXPIRE"
	default:
		return fmt.Sprintf("Op(0x%02x)", byte(o))
	}
}

// ErrUnknownOp is returned by Decode when a record's op byte isn't one of
// the known mutating commands.
var ErrUnknownOp = errors.New("wal: unknown op byte")

// ErrRecordTruncated is returned by Decode when body ends before a field it
// expects is fully present.
var ErrRecordTruncated = errors.New("wal: record truncated")

// Record is a single WAL entry: one mutating command directed at one shard.
//
// For OpPut, Item carries the full key/value/expiry exactly as it will be
// installed in the ShardStore. For OpDel, only Item.Key is meaningful. For
// OpExpire, Item.Key/HasExpiry/ExpiresAtMs are meaningful and Item.Value is
// empty. Unlike the wire protocol (which carries a relative ttl_s), the WAL
// always persists the absolute ExpiresAtMs computed at append time, so
// recovery reproduces the exact deadline instead of restarting the clock.
type Record struct {
	ShardID int
	Op      Op
	Item    itemcodec.Item
}

// Encode serializes r as shard_id:varint, op:u8, then op-specific fields.
func Encode(r Record) []byte {
	buf := make([]byte, 0, 16+len(r.Item.Key)+len(r.Item.Value))
	var scratch [binary.MaxVarintLen64]byte

	n := binary.PutUvarint(scratch[:], uint64(r.ShardID))
	buf = append(buf, scratch[:n]...)
	buf = append(buf, byte(r.Op))

	switch r.Op {
	case OpPut:
		buf = appendBytesWithLen(buf, r.Item.Key)
		buf = appendBytesWithLen(buf, r.Item.Value)
		if r.Item.HasExpiry {
			buf = append(buf, 1)
			n = binary.PutUvarint(scratch[:], uint64(r.Item.ExpiresAtMs))
			buf = append(buf, scratch[:n]...)
		} else {
			buf = append(buf, 0)
		}
	case OpDel:
		buf = appendBytesWithLen(buf, r.Item.Key)
	case OpExpire:
		buf = appendBytesWithLen(buf, r.Item.Key)
		n = binary.PutUvarint(scratch[:], uint64(r.Item.ExpiresAtMs))
		buf = append(buf, scratch[:n]...)
	}
	return buf
}

func appendBytesWithLen(buf, b []byte) []byte {
	var scratch [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(scratch[:], uint64(len(b)))
	buf = append(buf, scratch[:n]...)
	return append(buf, b...)
}

// Decode parses body (as produced by Encode) back into a Record.
func Decode(body []byte) (Record, error) {
	shardID, n := binary.Uvarint(body)
	if n <= 0 {
		return Record{}, ErrRecordTruncated
	}
	body = body[n:]
	if len(body) < 1 {
		return Record{}, ErrRecordTruncated
	}
	op := Op(body[0])
	body = body[1:]

	switch op {
	case OpPut:
		key, rest, err := readBytes(body)
		if err != nil {
			return Record{}, err
		}
		value, rest, err := readBytes(rest)
		if err != nil {
			return Record{}, err
		}
		if len(rest) < 1 {
			return Record{}, ErrRecordTruncated
		}
		hasExpiry := rest[0] != 0
		rest = rest[1:]
		var expiresAtMs int64
		if hasExpiry {
			v, n := binary.Uvarint(rest)
			if n <= 0 {
				return Record{}, ErrRecordTruncated
			}
			expiresAtMs = int64(v)
		}
		return Record{ShardID: int(shardID), Op: op, Item: itemcodec.Item{
			Key: key, Value: value, HasExpiry: hasExpiry, ExpiresAtMs: expiresAtMs,
		}}, nil

	case OpDel:
		key, _, err := readBytes(body)
		if err != nil {
			return Record{}, err
		}
		return Record{ShardID: int(shardID), Op: op, Item: itemcodec.Item{Key: key}}, nil

	case OpExpire:
		key, rest, err := readBytes(body)
		if err != nil {
			return Record{}, err
		}
		v, n := binary.Uvarint(rest)
		if n <= 0 {
			return Record{}, ErrRecordTruncated
		}
		return Record{ShardID: int(shardID), Op: op, Item: itemcodec.Item{
			Key: key, HasExpiry: true, ExpiresAtMs: int64(v),
		}}, nil

	default:
		return Record{}, ErrUnknownOp
	}
}

func readBytes(body []byte) (value []byte, rest []byte, err error) {
	l, n := binary.Uvarint(body)
	if n <= 0 {
		return nil, nil, ErrRecordTruncated
	}
	body = body[n:]
	if uint64(len(body)) < l {
		return nil, nil, ErrRecordTruncated
	}
	out := make([]byte, l)
	copy(out, body[:l])
	return out, body[l:], nil
}
