//go:build go1.18

package protocol

import "testing"

// Fuzz the text-line parser against arbitrary input. It must never panic,
// and whenever it accepts a line it must report a command kind from the
// known set (no partially-initialized Command escapes as a success).
func FuzzParseTextLine(f *testing.F) {
	f.Add("PING")
	f.Add("PUT k v")
	f.Add("PUT k v 30")
	f.Add("GET k")
	f.Add("DEL k")
	f.Add("EXPIRE k 30")
	f.Add("STATS")
	f.Add("")
	f.Add("PUT")
	f.Add("bogus verb here")
	f.Add("PUT \x00\x01 v")

	f.Fuzz(func(t *testing.T, line string) {
		cmd, err := parseTextLine(line)
		if err != nil {
			return
		}
		switch cmd.Kind {
		case KindPing, KindGet, KindDel, KindExpire, KindPut, KindStats:
		default:
			t.Fatalf("accepted line %q with unknown kind %v", line, cmd.Kind)
		}
	})
}

// Fuzz the framed binary parser against arbitrary bytes. ParseCommand must
// never panic regardless of how malformed or truncated the input is.
func FuzzParseCommandBinary(f *testing.F) {
	f.Add([]byte{})
	f.Add([]byte("CRAB"))
	seed := EncodeCommand(Command{Kind: KindPut, Key: []byte("k"), Value: []byte("v")})
	f.Add(EncodeFrame(seed))
	f.Add([]byte{'C', 'R', 'A', 'B', 1, 0, 0, 0, 0})

	f.Fuzz(func(t *testing.T, buf []byte) {
		const limit = 1 << 12
		if len(buf) > limit {
			buf = buf[:limit]
		}
		_, _, _ = ParseCommand(buf)
	})
}
