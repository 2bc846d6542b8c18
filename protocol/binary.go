package protocol

import (
	"encoding/binary"
	"fmt"
)

// Binary framing: magic "CRAB", version, u32-be length, then a
// tag-length-value body. See spec.md §6's wire tables.
var frameMagic = [4]byte{'C', 'R', 'A', 'B'}

const frameVersion = 0x01
const frameHeaderSize = 4 + 1 + 4 // magic + version + len

// Tag is the one-byte discriminant at the start of every command or
// response record, and of the batch wrapper records.
type Tag byte

const (
	TagPut       Tag = 0x01
	TagGet       Tag = 0x02
	TagDel       Tag = 0x03
	TagExpire    Tag = 0x04
	TagPing      Tag = 0x05
	TagStats     Tag = 0x06
	TagBatchReq  Tag = 0x80
	TagOK        Tag = 0x81
	TagPong      Tag = 0x82
	TagNull      Tag = 0x83
	TagValue     Tag = 0x84
	TagError     Tag = 0x85
	TagStatsResp Tag = 0x86
	TagBatchResp Tag = 0xC0
)

// ParseFrame strips the CRAB/version/length header off buf, returning the
// body slice and how many bytes of buf the whole frame consumed. Returns
// ErrIncomplete if buf doesn't yet hold a full frame.
func ParseFrame(buf []byte) (body []byte, consumed int, err error) {
	if len(buf) < frameHeaderSize {
		return nil, 0, ErrIncomplete
	}
	if buf[0] != frameMagic[0] || buf[1] != frameMagic[1] || buf[2] != frameMagic[2] || buf[3] != frameMagic[3] {
		return nil, 0, fmt.Errorf("%w: bad magic", ErrInvalidCommand)
	}
	if buf[4] != frameVersion {
		return nil, 0, fmt.Errorf("%w: unsupported version %d", ErrInvalidCommand, buf[4])
	}
	length := binary.BigEndian.Uint32(buf[5:9])
	total := frameHeaderSize + int(length)
	if len(buf) < total {
		return nil, 0, ErrIncomplete
	}
	return buf[9:total], total, nil
}

// EncodeFrame wraps body in the CRAB header.
func EncodeFrame(body []byte) []byte {
	out := make([]byte, 0, frameHeaderSize+len(body))
	out = append(out, frameMagic[:]...)
	out = append(out, frameVersion)
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(body)))
	out = append(out, lenBuf[:]...)
	return append(out, body...)
}

// EncodeCommand serializes cmd as tag+payload (no outer frame), the same
// shape used standalone and when packed into a BATCH-REQ body.
func EncodeCommand(cmd Command) []byte {
	var buf []byte
	switch cmd.Kind {
	case KindPing:
		buf = []byte{byte(TagPing)}
	case KindStats:
		buf = []byte{byte(TagStats)}
	case KindPut:
		buf = append(buf, byte(TagPut))
		buf = appendUvarint(buf, uint64(len(cmd.Key)))
		buf = appendUvarint(buf, uint64(len(cmd.Value)))
		if cmd.HasTTL {
			buf = append(buf, 1)
			buf = appendUvarint(buf, uint64(cmd.TTLSecond))
		} else {
			buf = append(buf, 0)
		}
		buf = append(buf, cmd.Key...)
		buf = append(buf, cmd.Value...)
	case KindGet:
		buf = append(buf, byte(TagGet))
		buf = appendUvarint(buf, uint64(len(cmd.Key)))
		buf = append(buf, cmd.Key...)
	case KindDel:
		buf = append(buf, byte(TagDel))
		buf = appendUvarint(buf, uint64(len(cmd.Key)))
		buf = append(buf, cmd.Key...)
	case KindExpire:
		buf = append(buf, byte(TagExpire))
		buf = appendUvarint(buf, uint64(len(cmd.Key)))
		buf = appendUvarint(buf, uint64(cmd.TTLSecond))
		buf = append(buf, cmd.Key...)
	}
	return buf
}

// EncodeBatch packs cmds as a BATCH-REQ body: count + concatenated
// tag-payload command records.
func EncodeBatch(cmds []Command) []byte {
	buf := appendUvarint([]byte{byte(TagBatchReq)}, uint64(len(cmds)))
	for _, c := range cmds {
		buf = append(buf, EncodeCommand(c)...)
	}
	return buf
}

// DecodeCommand parses one tag-payload command record from the front of
// buf, returning how many bytes it consumed.
func DecodeCommand(buf []byte) (Command, int, error) {
	if len(buf) < 1 {
		return Command{}, 0, ErrIncomplete
	}
	tag := Tag(buf[0])
	rest := buf[1:]
	switch tag {
	case TagPing:
		return Command{Kind: KindPing}, 1, nil
	case TagStats:
		return Command{Kind: KindStats}, 1, nil
	case TagGet, TagDel:
		key, n, err := readLenPrefixed(rest)
		if err != nil {
			return Command{}, 0, err
		}
		kind := KindGet
		if tag == TagDel {
			kind = KindDel
		}
		return Command{Kind: kind, Key: key}, 1 + n, nil
	case TagExpire:
		klen, n1 := binary.Uvarint(rest)
		if n1 <= 0 {
			return Command{}, 0, ErrIncomplete
		}
		rest2 := rest[n1:]
		ttl, n2 := binary.Uvarint(rest2)
		if n2 <= 0 {
			return Command{}, 0, ErrIncomplete
		}
		rest3 := rest2[n2:]
		if uint64(len(rest3)) < klen {
			return Command{}, 0, ErrIncomplete
		}
		key := append([]byte(nil), rest3[:klen]...)
		return Command{Kind: KindExpire, Key: key, HasTTL: true, TTLSecond: int64(ttl)}, 1 + n1 + n2 + int(klen), nil
	case TagPut:
		klen, n1 := binary.Uvarint(rest)
		if n1 <= 0 {
			return Command{}, 0, ErrIncomplete
		}
		rest = rest[n1:]
		vlen, n2 := binary.Uvarint(rest)
		if n2 <= 0 {
			return Command{}, 0, ErrIncomplete
		}
		rest = rest[n2:]
		if len(rest) < 1 {
			return Command{}, 0, ErrIncomplete
		}
		hasTTL := rest[0] != 0
		rest = rest[1:]
		consumed := 1 + n1 + n2 + 1
		var ttl uint64
		if hasTTL {
			var n3 int
			ttl, n3 = binary.Uvarint(rest)
			if n3 <= 0 {
				return Command{}, 0, ErrIncomplete
			}
			rest = rest[n3:]
			consumed += n3
		}
		need := klen + vlen
		if uint64(len(rest)) < need {
			return Command{}, 0, ErrIncomplete
		}
		key := append([]byte(nil), rest[:klen]...)
		value := append([]byte(nil), rest[klen:klen+vlen]...)
		consumed += int(need)
		return Command{Kind: KindPut, Key: key, Value: value, HasTTL: hasTTL, TTLSecond: int64(ttl)}, consumed, nil
	default:
		return Command{}, 0, fmt.Errorf("%w: unknown tag 0x%02x", ErrInvalidCommand, byte(tag))
	}
}

func readLenPrefixed(buf []byte) (value []byte, consumed int, err error) {
	l, n := binary.Uvarint(buf)
	if n <= 0 {
		return nil, 0, ErrIncomplete
	}
	buf = buf[n:]
	if uint64(len(buf)) < l {
		return nil, 0, ErrIncomplete
	}
	out := append([]byte(nil), buf[:l]...)
	return out, n + int(l), nil
}

func appendUvarint(buf []byte, v uint64) []byte {
	var scratch [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(scratch[:], v)
	return append(buf, scratch[:n]...)
}

// EncodeResponse serializes resp as tag+payload.
func EncodeResponse(resp Response) []byte {
	switch resp.Kind {
	case RespOK:
		return []byte{byte(TagOK)}
	case RespPong:
		return []byte{byte(TagPong)}
	case RespNull:
		return []byte{byte(TagNull)}
	case RespValue:
		buf := append([]byte{byte(TagValue)}, appendUvarint(nil, uint64(len(resp.Value)))...)
		return append(buf, resp.Value...)
	case RespError:
		buf := []byte{byte(TagError), byte(resp.Code)}
		buf = appendUvarint(buf, uint64(len(resp.Text)))
		return append(buf, []byte(resp.Text)...)
	case RespStats:
		buf := append([]byte{byte(TagStatsResp)}, appendUvarint(nil, uint64(len(resp.Text)))...)
		return append(buf, []byte(resp.Text)...)
	default:
		return []byte{byte(TagError), byte(ErrInternal), 0}
	}
}

// EncodeBatchResponse packs resps as a BATCH-RESP body.
func EncodeBatchResponse(resps []Response) []byte {
	buf := appendUvarint([]byte{byte(TagBatchResp)}, uint64(len(resps)))
	for _, r := range resps {
		buf = append(buf, EncodeResponse(r)...)
	}
	return buf
}

// DecodeResponse parses one tag-payload response record, for clients of
// the binary protocol (and for tests exercising round trips).
func DecodeResponse(buf []byte) (Response, int, error) {
	if len(buf) < 1 {
		return Response{}, 0, ErrIncomplete
	}
	tag := Tag(buf[0])
	rest := buf[1:]
	switch tag {
	case TagOK:
		return OK(), 1, nil
	case TagPong:
		return Pong(), 1, nil
	case TagNull:
		return Null(), 1, nil
	case TagValue:
		v, n, err := readLenPrefixed(rest)
		if err != nil {
			return Response{}, 0, err
		}
		return Value(v), 1 + n, nil
	case TagError:
		if len(rest) < 1 {
			return Response{}, 0, ErrIncomplete
		}
		code := ErrorCode(rest[0])
		msg, n, err := readLenPrefixed(rest[1:])
		if err != nil {
			return Response{}, 0, err
		}
		return Err(code, string(msg)), 2 + n, nil
	case TagStatsResp:
		text, n, err := readLenPrefixed(rest)
		if err != nil {
			return Response{}, 0, err
		}
		return Stats(string(text)), 1 + n, nil
	default:
		return Response{}, 0, fmt.Errorf("%w: unknown response tag 0x%02x", ErrInvalidCommand, byte(tag))
	}
}
