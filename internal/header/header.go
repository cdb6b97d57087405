package header

import (
	"context"
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/odin-relay/replay-relay/internal/genstream"
	"github.com/odin-relay/replay-relay/internal/replayerr"
)

// DefaultChunkSize matches the original implementation's read granularity
// while pulling header bytes off the wire.
const DefaultChunkSize = 4096

// DefaultMaxBytes bounds total header size; headers are large but a
// well-formed one never approaches this.
const DefaultMaxBytes = 1024 * 1024

// ReplayHeader is the fully decoded, immutable result of parsing a replay's
// leading metadata block.
type ReplayHeader struct {
	Version           string
	ReplayVersion     string
	MapName           string
	Mods              LuaValue
	RemainingTimeouts map[string]uint32
	CheatsEnabled     uint8
	RandomSeed        uint32

	// Raw holds the exact header bytes as they appeared on the wire.
	Raw []byte
}

// reader is what Parse needs from a connection: chunked pulls, matching
// transport.Connection.Read's signature so no adapter is required.
type reader interface {
	Read(ctx context.Context, n int) ([]byte, error)
}

// Parse decodes a ReplayHeader from src, reading chunkSize bytes at a time
// and never buffering more than maxBytes in total. It returns the decoded
// header plus any bytes read past the header boundary (the start of the
// replay body, which the caller must not discard).
func Parse(ctx context.Context, src reader, chunkSize, maxBytes int) (*ReplayHeader, []byte, error) {
	s := genstream.New(src, chunkSize, maxBytes)

	h, err := parseFields(ctx, s)
	if err != nil {
		if _, ok := err.(*genstream.ErrTooLarge); ok {
			return nil, nil, fmt.Errorf("%w: %v", replayerr.MalformedData, err)
		}
		if err == genstream.ErrPrematureEOF {
			return nil, nil, fmt.Errorf("%w: replay header ended prematurely", replayerr.MalformedData)
		}
		return nil, nil, err
	}

	raw := make([]byte, len(s.Consumed()))
	copy(raw, s.Consumed())
	h.Raw = raw

	return h, s.Leftover(), nil
}

func parseFields(ctx context.Context, s *genstream.Source) (*ReplayHeader, error) {
	h := &ReplayHeader{RemainingTimeouts: map[string]uint32{}}

	version, err := readCString(ctx, s)
	if err != nil {
		return nil, err
	}
	h.Version = version

	if _, err := s.ReadExactly(ctx, 3); err != nil { // skip
		return nil, err
	}

	replayVersionAndMap, err := readCString(ctx, s)
	if err != nil {
		return nil, err
	}
	parts := strings.SplitN(replayVersionAndMap, "\r\n", 2)
	if len(parts) != 2 {
		return nil, fmt.Errorf("%w: missing replay_version/map_name separator", replayerr.MalformedData)
	}
	h.ReplayVersion, h.MapName = parts[0], parts[1]

	if _, err := s.ReadExactly(ctx, 4); err != nil { // skip
		return nil, err
	}

	if _, err := readU32(ctx, s); err != nil { // mod_size, unused
		return nil, err
	}

	mods, err := readLuaValue(ctx, s, 0, false)
	if err != nil {
		return nil, err
	}
	h.Mods = mods

	scenarioSize, err := readU32(ctx, s)
	if err != nil {
		return nil, err
	}
	if _, err := s.ReadExactly(ctx, int(scenarioSize)); err != nil {
		return nil, err
	}

	playerCountRaw, err := s.ReadExactly(ctx, 1)
	if err != nil {
		return nil, err
	}
	playerCount := int8(playerCountRaw[0])
	for i := int8(0); i < playerCount; i++ {
		name, err := readCString(ctx, s)
		if err != nil {
			return nil, err
		}
		timeout, err := readU32(ctx, s)
		if err != nil {
			return nil, err
		}
		h.RemainingTimeouts[name] = timeout
	}

	cheats, err := s.ReadExactly(ctx, 1)
	if err != nil {
		return nil, err
	}
	h.CheatsEnabled = cheats[0]

	armyCountRaw, err := s.ReadExactly(ctx, 1)
	if err != nil {
		return nil, err
	}
	armyCount := armyCountRaw[0]
	for i := uint8(0); i < armyCount; i++ {
		armySize, err := readU32(ctx, s)
		if err != nil {
			return nil, err
		}
		if _, err := s.ReadExactly(ctx, int(armySize)); err != nil {
			return nil, err
		}
		playerID, err := s.ReadExactly(ctx, 1)
		if err != nil {
			return nil, err
		}
		if playerID[0] != 255 {
			if _, err := s.ReadExactly(ctx, 1); err != nil { // unknown skip
				return nil, err
			}
		}
	}

	seed, err := readU32(ctx, s)
	if err != nil {
		return nil, err
	}
	h.RandomSeed = seed

	return h, nil
}

func readU32(ctx context.Context, s *genstream.Source) (uint32, error) {
	b, err := s.ReadExactly(ctx, 4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}
