package formats

// asc.go decodes line-oriented ASCII traces.
//
//	date Mon Jan 2 15:04:05.000 2006
//	base hex  timestamps absolute
//	   1.234 1 1A2x Rx r 2 0A 0B
//	   1.300 CANFD 1 Rx 123 1 0 9 12 00 11 22 33 44 55 66 77 88 99 AA BB
//	   1.400 1 ErrorFrame

import (
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/JonMunkholm/canview/internal/core"
)

var ascDateLayouts = []string{
	"Mon Jan 2 15:04:05.000 2006",
	"Mon Jan 2 15:04:05 2006",
	"Mon Jan 2 03:04:05.000 pm 2006",
	"Mon Jan 2 03:04:05 pm 2006",
	"Mon Jan 2 03:04:05.000 PM 2006",
	"Mon Jan 2 03:04:05 PM 2006",
}

// ASCDecoder decodes ASCII traces.
type ASCDecoder struct{}

type ascState struct {
	base     int
	absolute bool
	epoch    float64
}

// DecodeTrace implements core.TraceDecoder. Lines that match no known
// shape are skipped.
func (ASCDecoder) DecodeTrace(data []byte) (*core.Trace, error) {
	trace := &core.Trace{Format: "asc", Frames: make([]core.Frame, 0)}
	st := ascState{base: 16}

	var skipped int
	for _, line := range core.Lines(data) {
		toks := strings.Fields(line)
		if len(toks) == 0 {
			continue
		}

		switch strings.ToLower(toks[0]) {
		case "date":
			if t, ok := parseASCDate(toks[1:]); ok {
				trace.Start = t
				st.epoch = float64(t.UnixNano()) / 1e9
			}
			continue
		case "base":
			st.parseBase(toks)
			continue
		}

		frame, ok := st.parseLine(toks)
		if !ok {
			skipped++
			continue
		}
		trace.Frames = append(trace.Frames, frame)
	}

	if skipped > 0 {
		slog.Debug("asc: skipped lines", "count", skipped)
	}
	return trace, nil
}

func parseASCDate(toks []string) (time.Time, bool) {
	value := strings.Join(toks, " ")
	for _, layout := range ascDateLayouts {
		if t, err := time.ParseInLocation(layout, value, time.Local); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// parseBase handles "base hex|dec  timestamps absolute|relative".
func (st *ascState) parseBase(toks []string) {
	for i := 1; i < len(toks); i++ {
		switch strings.ToLower(toks[i]) {
		case "hex":
			st.base = 16
		case "dec":
			st.base = 10
		case "absolute":
			st.absolute = true
		case "relative":
			st.absolute = false
		}
	}
}

func (st *ascState) timestamp(ts float64) float64 {
	if st.absolute {
		return ts + st.epoch
	}
	return ts
}

func (st *ascState) parseLine(toks []string) (core.Frame, bool) {
	if len(toks) < 3 {
		return core.Frame{}, false
	}
	ts, ok := parseFloat(toks[0])
	if !ok {
		return core.Frame{}, false
	}
	if strings.EqualFold(toks[1], "CANFD") {
		return st.parseFD(ts, toks[2:])
	}

	channel, err := strconv.Atoi(toks[1])
	if err != nil {
		return core.Frame{}, false
	}
	if toks[2] == "ErrorFrame" {
		return core.Frame{
			Timestamp: st.timestamp(ts),
			Channel:   channel - 1,
			Kind:      core.FrameError,
			Data:      []byte{},
			Error:     &core.ErrorDetail{},
		}, true
	}
	if len(toks) < 5 {
		return core.Frame{}, false
	}

	id, extended, ok := st.parseID(toks[2])
	if !ok {
		return core.Frame{}, false
	}
	dir := core.ParseDirection(toks[3])
	if dir == core.DirUnknown {
		return core.Frame{}, false
	}

	rest := toks[4:]
	remote := false
	switch rest[0] {
	case "r":
		remote = true
		rest = rest[1:]
	case "d":
		rest = rest[1:]
	}

	frame := core.Frame{
		Timestamp:     st.timestamp(ts),
		Channel:       channel - 1,
		ArbitrationID: id,
		IsExtendedID:  extended,
		Kind:          core.FrameData,
		IsRemoteFrame: remote,
		Direction:     dir,
		Data:          []byte{},
	}
	if len(rest) == 0 {
		return frame, remote
	}
	dlc, ok := parseUint(rest[0], 16)
	if !ok || dlc > 8 {
		return core.Frame{}, false
	}
	frame.DLC = int(dlc)
	frame.Data = parseBytes(rest[1:], int(dlc), st.base)
	return frame, true
}

// parseFD handles "CANFD ch dir id [name] brs esi dlc len bytes...".
func (st *ascState) parseFD(ts float64, toks []string) (core.Frame, bool) {
	if len(toks) < 7 {
		return core.Frame{}, false
	}
	channel, err := strconv.Atoi(toks[0])
	if err != nil {
		return core.Frame{}, false
	}
	dir := core.ParseDirection(toks[1])
	if dir == core.DirUnknown {
		return core.Frame{}, false
	}
	id, extended, ok := st.parseID(toks[2])
	if !ok {
		return core.Frame{}, false
	}

	rest := toks[3:]
	if rest[0] != "0" && rest[0] != "1" {
		// Symbolic message name.
		rest = rest[1:]
	}
	if len(rest) < 4 {
		return core.Frame{}, false
	}
	dlc, ok := parseUint(rest[2], 16)
	if !ok || dlc > 15 {
		return core.Frame{}, false
	}
	n, err := strconv.Atoi(rest[3])
	if err != nil || n < 0 || n > 64 {
		return core.Frame{}, false
	}

	return core.Frame{
		Timestamp:           st.timestamp(ts),
		Channel:             channel - 1,
		ArbitrationID:       id,
		IsExtendedID:        extended,
		Kind:                core.FrameData,
		IsFD:                true,
		BitrateSwitch:       rest[0] == "1",
		ErrorStateIndicator: rest[1] == "1",
		Direction:           dir,
		DLC:                 core.DLCToLength(uint8(dlc)),
		Data:                parseBytes(rest[4:], n, 16),
	}, true
}

func (st *ascState) parseID(tok string) (uint32, bool, bool) {
	extended := false
	if strings.HasSuffix(tok, "x") || strings.HasSuffix(tok, "X") {
		extended = true
		tok = tok[:len(tok)-1]
	}
	v, ok := parseUint(tok, st.base)
	if !ok || v > 0x1FFFFFFF {
		return 0, false, false
	}
	return core.MaskID(uint32(v), extended), extended, true
}

func init() {
	core.Register(core.FormatDefinition{
		Info: core.FormatInfo{
			Key:       "asc",
			Extension: ".asc",
			Kind:      core.KindTrace,
			Label:     "ASCII trace",
		},
		Trace: ASCDecoder{},
	})
}
