// Package header decodes the replay header: a self-delimiting little-endian
// byte structure with a recursive Lua-like value encoding for mod settings.
// Grounded bit-exact on original_source/replayserver/struct/header.py,
// including its intentional "not a typo" Bool inversion and the 30-deep
// table nesting guard.
package header

import (
	"context"
	"fmt"
	"math"

	"github.com/odin-relay/replay-relay/internal/genstream"
	"github.com/odin-relay/replay-relay/internal/replayerr"
)

// maxLuaTableDepth bounds recursive table decoding; exceeding it fails the
// parse instead of risking a stack overflow on malicious input.
const maxLuaTableDepth = 30

// luaType tags are the wire encoding of LuaValue's variant.
type luaType byte

const (
	luaNumber   luaType = 0
	luaString   luaType = 1
	luaNil      luaType = 2
	luaBool     luaType = 3
	luaTable    luaType = 4
	luaTableEnd luaType = 5
)

// LuaTableEntry is one key/value pair of a decoded Lua table, in the order
// it appeared on the wire.
type LuaTableEntry struct {
	Key   LuaValue
	Value LuaValue
}

// LuaValue is a decoded Lua-like value: exactly one of Number, Str, Bool, or
// Table is meaningful, selected by Kind. Nil values carry no payload. Table
// is an ordered slice rather than a map because LuaValue itself (containing
// a slice field) is not a comparable Go type and so cannot be a map key.
type LuaValue struct {
	Kind   luaType
	Number float32
	Str    string
	Bool   bool
	Table  []LuaTableEntry
}

// IsNil reports whether this value decoded as Lua nil.
func (v LuaValue) IsNil() bool { return v.Kind == luaNil }

func readLuaType(ctx context.Context, src *genstream.Source) (luaType, error) {
	b, err := src.ReadExactly(ctx, 1)
	if err != nil {
		return 0, err
	}
	t := luaType(b[0])
	if t > luaTableEnd {
		return 0, fmt.Errorf("%w: unknown lua type tag %d", replayerr.MalformedData, b[0])
	}
	return t, nil
}

func readLuaValue(ctx context.Context, src *genstream.Source, depth int, canBeTableEnd bool) (LuaValue, error) {
	t, err := readLuaType(ctx, src)
	if err != nil {
		return LuaValue{}, err
	}

	switch t {
	case luaNumber:
		b, err := src.ReadExactly(ctx, 4)
		if err != nil {
			return LuaValue{}, err
		}
		return LuaValue{Kind: luaNumber, Number: decodeFloat32LE(b)}, nil

	case luaString:
		s, err := readCString(ctx, src)
		if err != nil {
			return LuaValue{}, err
		}
		return LuaValue{Kind: luaString, Str: s}, nil

	case luaNil:
		return LuaValue{Kind: luaNil}, nil

	case luaBool:
		b, err := src.ReadExactly(ctx, 1)
		if err != nil {
			return LuaValue{}, err
		}
		// Intentional: on the wire, 0 means true. Preserved bit-exact.
		return LuaValue{Kind: luaBool, Bool: b[0] == 0}, nil

	case luaTableEnd:
		if canBeTableEnd {
			return LuaValue{Kind: luaTableEnd}, nil
		}
		return LuaValue{}, fmt.Errorf("%w: unexpected lua table end", replayerr.MalformedData)

	case luaTable:
		if depth > maxLuaTableDepth {
			return LuaValue{}, fmt.Errorf("%w: exceeded maximum lua table nesting", replayerr.MalformedData)
		}
		var table []LuaTableEntry
		for {
			key, err := readLuaValue(ctx, src, depth+1, true)
			if err != nil {
				return LuaValue{}, err
			}
			if key.Kind == luaTableEnd {
				return LuaValue{Kind: luaTable, Table: table}, nil
			}
			if key.Kind == luaTable {
				return LuaValue{}, fmt.Errorf("%w: lua tables as table keys are not supported", replayerr.MalformedData)
			}
			value, err := readLuaValue(ctx, src, depth+1, false)
			if err != nil {
				return LuaValue{}, err
			}
			table = append(table, LuaTableEntry{Key: key, Value: value})
		}

	default:
		return LuaValue{}, fmt.Errorf("%w: unhandled lua type %d", replayerr.MalformedData, t)
	}
}

func readCString(ctx context.Context, src *genstream.Source) (string, error) {
	raw, err := src.ReadUntil(ctx, 0)
	if err != nil {
		return "", err
	}
	return string(raw[:len(raw)-1]), nil
}

func decodeFloat32LE(b []byte) float32 {
	bits := uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
	return math.Float32frombits(bits)
}
