package wal

import (
	"testing"

	"github.com/RogerFelipeNsk/crabcache-sub001/internal/itemcodec"
)

func TestEncodeDecodePut(t *testing.T) {
	t.Parallel()
	rec := Record{
		ShardID: 3,
		Op:      OpPut,
		Item: itemcodec.Item{
			Key:         []byte("key"),
			Value:       []byte("value"),
			HasExpiry:   true,
			ExpiresAtMs: 1_700_000_000_000,
		},
	}
	got, err := Decode(Encode(rec))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.ShardID != rec.ShardID || got.Op != rec.Op {
		t.Fatalf("got %+v, want %+v", got, rec)
	}
	if string(got.Item.Key) != "key" || string(got.Item.Value) != "value" {
		t.Fatalf("key/value mismatch: %+v", got.Item)
	}
	if !got.Item.HasExpiry || got.Item.ExpiresAtMs != rec.Item.ExpiresAtMs {
		t.Fatalf("expiry mismatch: %+v", got.Item)
	}
}

func TestEncodeDecodePutNoExpiry(t *testing.T) {
	t.Parallel()
	rec := Record{ShardID: 0, Op: OpPut, Item: itemcodec.Item{Key: []byte("k"), Value: []byte("v")}}
	got, err := Decode(Encode(rec))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Item.HasExpiry {
		t.Fatal("expected no expiry")
	}
}

func TestEncodeDecodeDel(t *testing.T) {
	t.Parallel()
	rec := Record{ShardID: 7, Op: OpDel, Item: itemcodec.Item{Key: []byte("gone")}}
	got, err := Decode(Encode(rec))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.ShardID != 7 || got.Op != OpDel || string(got.Item.Key) != "gone" {
		t.Fatalf("got %+v", got)
	}
}

func TestEncodeDecodeExpire(t *testing.T) {
	t.Parallel()
	rec := Record{ShardID: 1, Op: OpExpire, Item: itemcodec.Item{Key: []byte("k"), HasExpiry: true, ExpiresAtMs: 42}}
	got, err := Decode(Encode(rec))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Op != OpExpire || got.Item.ExpiresAtMs != 42 {
		t.Fatalf("got %+v", got)
	}
}

func TestDecodeUnknownOp(t *testing.T) {
	t.Parallel()
	body := []byte{0x00, 0x7f} // shard_id=0, op=0x7f (unrecognized)
	if _, err := Decode(body); err == nil {
		t.Fatal("expected error for unknown op")
	}
}

func TestDecodeTruncatedBody(t *testing.T) {
	t.Parallel()
	full := Encode(Record{ShardID: 2, Op: OpPut, Item: itemcodec.Item{Key: []byte("k"), Value: []byte("v")}})
	for i := 0; i < len(full); i++ {
		if _, err := Decode(full[:i]); err == nil {
			t.Fatalf("expected error decoding truncated body at length %d", i)
		}
	}
}
