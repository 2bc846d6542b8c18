package protocol

import (
	"bytes"
	"encoding/binary"
)

// Form records which wire form a connection is speaking, once detected by
// its first frame.
type Form int

const (
	FormText Form = iota
	FormBinary
)

// ParseCommand implements spec.md §4.9's parse_command contract:
//
//	parse_command(buf) -> (Command, consumed_bytes) | Incomplete | Invalid(reason)
//
// It distinguishes the two wire forms by buf's leading bytes ("CRAB" means
// binary-framed; anything else is treated as a text line terminated by
// '\n'), and it never allocates per byte — both branches index directly
// into buf and copy only the final, already-bounded field values.
func ParseCommand(buf []byte) (Command, int, error) {
	if looksBinary(buf) {
		body, consumed, err := ParseFrame(buf)
		if err != nil {
			return Command{}, 0, err
		}
		cmd, bodyConsumed, err := DecodeCommand(body)
		if err != nil {
			return Command{}, 0, err
		}
		if bodyConsumed != len(body) {
			return Command{}, 0, ErrInvalidCommand
		}
		return cmd, consumed, nil
	}
	idx := bytes.IndexByte(buf, '\n')
	if idx < 0 {
		return Command{}, 0, ErrIncomplete
	}
	cmd, err := parseTextLine(string(buf[:idx]))
	if err != nil {
		return Command{}, 0, err
	}
	return cmd, idx + 1, nil
}

// ParseRequest parses one request unit off buf, returning every Command it
// carries (a batch frame yields more than one) and the form it arrived in,
// so the router can answer with a matching BATCH-RESP or a single response.
func ParseRequest(buf []byte) (cmds []Command, form Form, consumed int, err error) {
	if !looksBinary(buf) {
		cmd, n, perr := ParseCommand(buf)
		if perr != nil {
			return nil, FormText, 0, perr
		}
		return []Command{cmd}, FormText, n, nil
	}
	body, total, ferr := ParseFrame(buf)
	if ferr != nil {
		return nil, FormBinary, 0, ferr
	}
	if len(body) == 0 {
		return nil, FormBinary, 0, ErrInvalidCommand
	}
	if Tag(body[0]) != TagBatchReq {
		cmd, n, derr := DecodeCommand(body)
		if derr != nil {
			return nil, FormBinary, 0, derr
		}
		if n != len(body) {
			return nil, FormBinary, 0, ErrInvalidCommand
		}
		return []Command{cmd}, FormBinary, total, nil
	}
	count, n := binary.Uvarint(body[1:])
	if n <= 0 {
		return nil, FormBinary, 0, ErrInvalidCommand
	}
	rest := body[1+n:]
	out := make([]Command, 0, count)
	for i := uint64(0); i < count; i++ {
		cmd, used, derr := DecodeCommand(rest)
		if derr != nil {
			return nil, FormBinary, 0, derr
		}
		out = append(out, cmd)
		rest = rest[used:]
	}
	if len(rest) != 0 {
		return nil, FormBinary, 0, ErrInvalidCommand
	}
	return out, FormBinary, total, nil
}

// SerializeResponse renders resp in the given form, ready to write to the
// connection (binary responses come back framed; text responses come back
// with their trailing newline attached).
func SerializeResponse(resp Response, form Form) []byte {
	if form == FormBinary {
		return EncodeFrame(EncodeResponse(resp))
	}
	return []byte(serializeTextLine(resp) + "\n")
}

// SerializeBatchResponse renders a BATCH-RESP (binary) or one line per
// response (text, since the text grammar has no batch wrapper of its own).
func SerializeBatchResponse(resps []Response, form Form) []byte {
	if form == FormBinary {
		return EncodeFrame(EncodeBatchResponse(resps))
	}
	var out []byte
	for _, r := range resps {
		out = append(out, serializeTextLine(r)+"\n"...)
	}
	return out
}

func looksBinary(buf []byte) bool {
	return len(buf) >= 4 && buf[0] == frameMagic[0] && buf[1] == frameMagic[1] && buf[2] == frameMagic[2] && buf[3] == frameMagic[3]
}
