package protocol

import (
	"fmt"
	"strconv"
	"strings"
)

// Text form: one command per line, space-separated tokens, grammar from
// spec.md §6's line protocol table:
//
//	PING
//	PUT <key> <value> [<ttl_s>]
//	GET <key>
//	DEL <key>
//	EXPIRE <key> <ttl_s>
//	STATS
//
// Responses:
//
//	PONG
//	OK
//	NULL
//	<value>
//	ERROR: <message>
//	STATS: <text>
//
// Keys and values are raw bytes but the text form only works when neither
// contains whitespace or CR/LF (spec.md §6); a client with binary-ish
// payloads must speak the framed binary form instead.
func parseTextLine(line string) (Command, error) {
	line = strings.TrimSuffix(line, "\r")
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return Command{}, fmt.Errorf("%w: empty line", ErrInvalidCommand)
	}
	switch strings.ToUpper(fields[0]) {
	case "PING":
		return Command{Kind: KindPing}, nil
	case "STATS":
		return Command{Kind: KindStats}, nil
	case "GET":
		if len(fields) != 2 {
			return Command{}, fmt.Errorf("%w: GET takes exactly one key", ErrInvalidCommand)
		}
		return Command{Kind: KindGet, Key: []byte(fields[1])}, nil
	case "DEL":
		if len(fields) != 2 {
			return Command{}, fmt.Errorf("%w: DEL takes exactly one key", ErrInvalidCommand)
		}
		return Command{Kind: KindDel, Key: []byte(fields[1])}, nil
	case "EXPIRE":
		if len(fields) != 3 {
			return Command{}, fmt.Errorf("%w: EXPIRE takes key and ttl_s", ErrInvalidCommand)
		}
		ttl, err := strconv.ParseInt(fields[2], 10, 64)
		if err != nil {
			return Command{}, fmt.Errorf("%w: bad ttl_s %q", ErrInvalidCommand, fields[2])
		}
		return Command{Kind: KindExpire, Key: []byte(fields[1]), HasTTL: true, TTLSecond: ttl}, nil
	case "PUT":
		if len(fields) != 3 && len(fields) != 4 {
			return Command{}, fmt.Errorf("%w: PUT takes key, value and an optional ttl_s", ErrInvalidCommand)
		}
		cmd := Command{Kind: KindPut, Key: []byte(fields[1]), Value: []byte(fields[2])}
		if len(fields) == 4 {
			ttl, err := strconv.ParseInt(fields[3], 10, 64)
			if err != nil {
				return Command{}, fmt.Errorf("%w: bad ttl_s %q", ErrInvalidCommand, fields[3])
			}
			cmd.HasTTL = true
			cmd.TTLSecond = ttl
		}
		return cmd, nil
	default:
		return Command{}, fmt.Errorf("%w: unknown verb %q", ErrInvalidCommand, fields[0])
	}
}

// serializeTextLine renders resp as one line of the text protocol, without
// a trailing newline (the caller owns line joining).
func serializeTextLine(resp Response) string {
	switch resp.Kind {
	case RespOK:
		return "OK"
	case RespPong:
		return "PONG"
	case RespNull:
		return "NULL"
	case RespValue:
		return string(resp.Value)
	case RespError:
		return "ERROR: " + resp.Code.String() + " " + resp.Text
	case RespStats:
		return "STATS: " + resp.Text
	default:
		return "ERROR: " + ErrInternal.String()
	}
}
