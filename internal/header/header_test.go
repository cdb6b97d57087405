package header

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"testing"

	"github.com/odin-relay/replay-relay/internal/replayerr"
)

// fakeReader hands back the full buffer in chunkSize pieces, then EOF.
type fakeReader struct {
	data []byte
	pos  int
}

func (f *fakeReader) Read(ctx context.Context, n int) ([]byte, error) {
	if f.pos >= len(f.data) {
		return nil, nil
	}
	end := f.pos + n
	if end > len(f.data) {
		end = len(f.data)
	}
	out := f.data[f.pos:end]
	f.pos = end
	return out, nil
}

func cstr(s string) []byte { return append([]byte(s), 0) }

func u32le(v uint32) []byte {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, v)
	return b
}

// buildMinimalHeader produces a well-formed header with zero players, zero
// armies, and a Nil mods value, plus a trailer of extra "body" bytes.
func buildMinimalHeader(trailer []byte) []byte {
	var buf bytes.Buffer
	buf.Write(cstr("v1.0"))
	buf.Write([]byte{0, 0, 0}) // 3 skip bytes
	buf.Write(cstr("3833\r\nsome_map"))
	buf.Write([]byte{0, 0, 0, 0}) // 4 skip bytes
	buf.Write(u32le(0))           // mod_size
	buf.WriteByte(byte(luaNil))   // mods = Nil
	buf.Write(u32le(0))           // scenario_size
	buf.WriteByte(0)              // player_count = 0
	buf.WriteByte(7)              // cheats_enabled
	buf.WriteByte(0)              // army_count = 0
	buf.Write(u32le(424242))      // random_seed
	buf.Write(trailer)
	return buf.Bytes()
}

func TestParseMinimalHeader(t *testing.T) {
	raw := buildMinimalHeader([]byte("body-bytes-follow"))
	r := &fakeReader{data: raw}

	h, leftover, err := Parse(context.Background(), r, 16, DefaultMaxBytes)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if h.Version != "v1.0" {
		t.Errorf("Version = %q, want %q", h.Version, "v1.0")
	}
	if h.ReplayVersion != "3833" || h.MapName != "some_map" {
		t.Errorf("ReplayVersion/MapName = %q/%q", h.ReplayVersion, h.MapName)
	}
	if !h.Mods.IsNil() {
		t.Errorf("expected Mods to be Nil, got %+v", h.Mods)
	}
	if h.CheatsEnabled != 7 {
		t.Errorf("CheatsEnabled = %d, want 7", h.CheatsEnabled)
	}
	if h.RandomSeed != 424242 {
		t.Errorf("RandomSeed = %d, want 424242", h.RandomSeed)
	}
	// The header is 43 bytes; pulled in 16-byte chunks, the parser has read
	// 48 bytes when it finishes, so only the first 5 trailer bytes are
	// buffered past the header. The rest stays unread on the connection.
	if string(leftover) != "body-" {
		t.Errorf("leftover = %q, want %q", leftover, "body-")
	}
	if !bytes.Equal(h.Raw, raw[:len(raw)-len("body-bytes-follow")]) {
		t.Errorf("Raw does not match expected header bytes")
	}
}

func TestParseMissingSeparatorFails(t *testing.T) {
	var buf bytes.Buffer
	buf.Write(cstr("v1.0"))
	buf.Write([]byte{0, 0, 0})
	buf.Write(cstr("no-separator-here"))

	r := &fakeReader{data: buf.Bytes()}
	_, _, err := Parse(context.Background(), r, 16, DefaultMaxBytes)
	if !errors.Is(err, replayerr.MalformedData) {
		t.Fatalf("expected MalformedData, got %v", err)
	}
}

func TestParseBoolIsInverted(t *testing.T) {
	var buf bytes.Buffer
	buf.Write(cstr("v1.0"))
	buf.Write([]byte{0, 0, 0})
	buf.Write(cstr("1\r\nm"))
	buf.Write([]byte{0, 0, 0, 0})
	buf.Write(u32le(0))
	buf.WriteByte(byte(luaBool))
	buf.WriteByte(0) // wire 0 decodes to Bool == true
	buf.Write(u32le(0))
	buf.WriteByte(0)
	buf.WriteByte(1)
	buf.WriteByte(0)
	buf.Write(u32le(1))

	r := &fakeReader{data: buf.Bytes()}
	h, _, err := Parse(context.Background(), r, 16, DefaultMaxBytes)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if h.Mods.Kind != luaBool || h.Mods.Bool != true {
		t.Fatalf("expected Mods = Bool(true) from wire byte 0, got %+v", h.Mods)
	}
}

func TestParseTableNestingDepthBoundary(t *testing.T) {
	// A chain of maxLuaTableDepth+1 nested tables must succeed; one level
	// deeper must fail.
	deepTable := func(depth int) []byte {
		var b bytes.Buffer
		for i := 0; i < depth; i++ {
			b.WriteByte(byte(luaTable))
			b.WriteByte(byte(luaString))
			b.Write(cstr("k"))
		}
		b.WriteByte(byte(luaNil))
		for i := 0; i < depth; i++ {
			b.WriteByte(byte(luaTableEnd))
		}
		return b.Bytes()
	}

	build := func(modsBytes []byte) []byte {
		var buf bytes.Buffer
		buf.Write(cstr("v1.0"))
		buf.Write([]byte{0, 0, 0})
		buf.Write(cstr("1\r\nm"))
		buf.Write([]byte{0, 0, 0, 0})
		buf.Write(u32le(0))
		buf.Write(modsBytes)
		buf.Write(u32le(0))
		buf.WriteByte(0)
		buf.WriteByte(0)
		buf.WriteByte(0)
		buf.Write(u32le(1))
		return buf.Bytes()
	}

	// The recursion checks "current depth > max" at each nested table's own
	// frame, where the outermost table runs at depth 0 — so a chain of
	// maxLuaTableDepth+1 nested tables is the deepest that still passes, and
	// maxLuaTableDepth+2 is the first to fail. This mirrors the off-by-one
	// in original_source's `lua_dict_depth > 30` check exactly.
	okData := build(deepTable(maxLuaTableDepth + 1))
	r := &fakeReader{data: okData}
	if _, _, err := Parse(context.Background(), r, 64, DefaultMaxBytes); err != nil {
		t.Fatalf("expected depth %d to succeed, got %v", maxLuaTableDepth+1, err)
	}

	tooDeepData := build(deepTable(maxLuaTableDepth + 2))
	r2 := &fakeReader{data: tooDeepData}
	_, _, err := Parse(context.Background(), r2, 64, DefaultMaxBytes)
	if !errors.Is(err, replayerr.MalformedData) {
		t.Fatalf("expected MalformedData at depth %d, got %v", maxLuaTableDepth+2, err)
	}
}

func TestParseEnforcesMaxBytes(t *testing.T) {
	raw := buildMinimalHeader(nil)
	r := &fakeReader{data: raw}

	_, _, err := Parse(context.Background(), r, 16, 8)
	if !errors.Is(err, replayerr.MalformedData) {
		t.Fatalf("expected MalformedData from exceeding max bytes, got %v", err)
	}
}

func TestParsePrematureEOFFails(t *testing.T) {
	raw := buildMinimalHeader(nil)
	truncated := raw[:len(raw)-4] // cut off part of random_seed
	r := &fakeReader{data: truncated}

	_, _, err := Parse(context.Background(), r, 16, DefaultMaxBytes)
	if !errors.Is(err, replayerr.MalformedData) {
		t.Fatalf("expected MalformedData from premature EOF, got %v", err)
	}
}
