package formats

// trc.go decodes line-oriented PCAN traces. The header comments select the
// row layout:
//
//	;$FILEVERSION=2.1
//	;$STARTTIME=43008.920986006946
//	;$COLUMNS=N,O,T,B,I,d,R,L,D
//	      1      1059.900 DT 1      0300 Rx - 8    00 00 00 00 04 00 00 00

import (
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/JonMunkholm/canview/internal/core"
)

// trcVersion is a file version as major*10+minor.
type trcVersion int

const (
	trcV10 trcVersion = 10
	trcV11 trcVersion = 11
	trcV12 trcVersion = 12
	trcV13 trcVersion = 13
	trcV20 trcVersion = 20
)

// oleEpoch is day zero of the OLE automation date.
var oleEpoch = time.Date(1899, time.December, 30, 0, 0, 0, 0, time.UTC)

// busInfoID marks status rows that carry no bus traffic.
const busInfoID = "FFFFFFFF"

var trcDefaultColumns = map[byte]int{'N': 0, 'O': 1, 'T': 2, 'I': 3, 'd': 4, 'l': 5, 'D': 6}

// TRCDecoder decodes PCAN traces of file versions 1.0 through 2.x.
type TRCDecoder struct{}

type trcState struct {
	version trcVersion
	start   float64
	columns map[byte]int
}

// DecodeTrace implements core.TraceDecoder. Rows that match no layout of the
// declared version are skipped.
func (TRCDecoder) DecodeTrace(data []byte) (*core.Trace, error) {
	trace := &core.Trace{Format: "trc", Frames: make([]core.Frame, 0)}
	st := trcState{version: trcV10}

	var skipped int
	for _, line := range core.Lines(data) {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, ";") {
			st.parseHeader(line, trace)
			continue
		}

		toks := strings.Fields(line)
		var (
			frame core.Frame
			ok    bool
		)
		switch {
		case st.version >= trcV20:
			frame, ok = st.parseV2(toks)
		case st.version >= trcV13:
			frame, ok = st.parseV13(toks)
		case st.version == trcV12:
			frame, ok = st.parseV12(toks)
		case st.version == trcV11:
			frame, ok = st.parseV11(toks)
		default:
			frame, ok = st.parseV10(toks)
		}
		if !ok {
			skipped++
			continue
		}
		trace.Frames = append(trace.Frames, frame)
	}

	if skipped > 0 {
		slog.Debug("trc: skipped rows", "count", skipped, "version", st.version)
	}
	return trace, nil
}

func (st *trcState) parseHeader(line string, trace *core.Trace) {
	key, value, ok := strings.Cut(strings.TrimPrefix(line, ";"), "=")
	if !ok {
		return
	}
	value = strings.TrimSpace(value)

	switch strings.TrimSpace(key) {
	case "$FILEVERSION":
		if v, ok := parseTRCVersion(value); ok {
			st.version = v
		}
	case "$STARTTIME":
		days, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return
		}
		start := oleEpoch.Add(time.Duration(days * 24 * float64(time.Hour)))
		trace.Start = start
		st.start = float64(start.UnixNano()) / 1e9
	case "$COLUMNS":
		cols := make(map[byte]int)
		for i, name := range strings.Split(value, ",") {
			name = strings.TrimSpace(name)
			if len(name) == 1 {
				cols[name[0]] = i
			}
		}
		st.columns = cols
	}
}

func parseTRCVersion(s string) (trcVersion, bool) {
	major, minor, _ := strings.Cut(s, ".")
	ma, err := strconv.Atoi(major)
	if err != nil {
		return 0, false
	}
	mi := 0
	if minor != "" {
		if mi, err = strconv.Atoi(minor[:1]); err != nil {
			return 0, false
		}
	}
	return trcVersion(ma*10 + mi), true
}

// numbered reports whether the first token is a v1.x "N)" row number.
func numbered(toks []string) bool {
	return len(toks) > 0 && strings.HasSuffix(toks[0], ")")
}

func (st *trcState) parseID(tok string) (uint32, bool, bool) {
	if strings.EqualFold(tok, busInfoID) {
		return 0, false, false
	}
	v, ok := parseUint(tok, 16)
	if !ok || v > 0x1FFFFFFF {
		return 0, false, false
	}
	return uint32(v), len(tok) > 4, true
}

// dataFrame fills the payload of a classic row: dlc then bytes, or RTR.
func dataFrame(frame core.Frame, toks []string) (core.Frame, bool) {
	if len(toks) == 0 {
		return core.Frame{}, false
	}
	dlc, err := strconv.Atoi(toks[0])
	if err != nil || dlc < 0 || dlc > 8 {
		return core.Frame{}, false
	}
	frame.DLC = dlc
	if len(toks) > 1 && toks[1] == "RTR" {
		frame.IsRemoteFrame = true
		frame.Data = []byte{}
		return frame, true
	}
	frame.Data = parseBytes(toks[1:], dlc, 16)
	return frame, true
}

// parseV10 handles "N) time id dlc data".
func (st *trcState) parseV10(toks []string) (core.Frame, bool) {
	if !numbered(toks) || len(toks) < 4 {
		return core.Frame{}, false
	}
	ms, ok := parseFloat(toks[1])
	if !ok {
		return core.Frame{}, false
	}
	id, ext, ok := st.parseID(toks[2])
	if !ok {
		return core.Frame{}, false
	}
	return dataFrame(core.Frame{
		Timestamp:     ms / 1000,
		Channel:       0,
		ArbitrationID: id,
		IsExtendedID:  ext,
		Kind:          core.FrameData,
		Direction:     core.DirUnknown,
	}, toks[3:])
}

// parseV11 handles "N) time Rx|Tx id dlc data".
func (st *trcState) parseV11(toks []string) (core.Frame, bool) {
	if !numbered(toks) || len(toks) < 5 {
		return core.Frame{}, false
	}
	ms, ok := parseFloat(toks[1])
	if !ok {
		return core.Frame{}, false
	}
	dir := core.ParseDirection(toks[2])
	if dir == core.DirUnknown {
		return core.Frame{}, false
	}
	id, ext, ok := st.parseID(toks[3])
	if !ok {
		return core.Frame{}, false
	}
	return dataFrame(core.Frame{
		Timestamp:     ms/1000 + st.start,
		Channel:       0,
		ArbitrationID: id,
		IsExtendedID:  ext,
		Kind:          core.FrameData,
		Direction:     dir,
	}, toks[4:])
}

// parseV12 handles "N) time bus Rx|Tx id dlc data".
func (st *trcState) parseV12(toks []string) (core.Frame, bool) {
	if !numbered(toks) || len(toks) < 6 {
		return core.Frame{}, false
	}
	return st.parseBusRow(toks[1], toks[2], toks[3], toks[4], toks[5:])
}

// parseV13 handles "N) time bus Rx|Tx id - dlc data".
func (st *trcState) parseV13(toks []string) (core.Frame, bool) {
	if !numbered(toks) || len(toks) < 7 {
		return core.Frame{}, false
	}
	return st.parseBusRow(toks[1], toks[2], toks[3], toks[4], toks[6:])
}

func (st *trcState) parseBusRow(timeTok, busTok, dirTok, idTok string, rest []string) (core.Frame, bool) {
	ms, ok := parseFloat(timeTok)
	if !ok {
		return core.Frame{}, false
	}
	bus, err := strconv.Atoi(busTok)
	if err != nil {
		return core.Frame{}, false
	}
	dir := core.ParseDirection(dirTok)
	if dir == core.DirUnknown {
		return core.Frame{}, false
	}
	id, ext, ok := st.parseID(idTok)
	if !ok {
		return core.Frame{}, false
	}
	return dataFrame(core.Frame{
		Timestamp:     ms/1000 + st.start,
		Channel:       bus - 1,
		ArbitrationID: id,
		IsExtendedID:  ext,
		Kind:          core.FrameData,
		Direction:     dir,
	}, rest)
}

// parseV2 handles rows laid out by $COLUMNS.
func (st *trcState) parseV2(toks []string) (core.Frame, bool) {
	cols := st.columns
	if cols == nil {
		cols = trcDefaultColumns
	}
	col := func(name byte) (string, bool) {
		i, ok := cols[name]
		if !ok || i >= len(toks) {
			return "", false
		}
		return toks[i], true
	}

	typ, ok := col('T')
	if !ok {
		return core.Frame{}, false
	}
	frame := core.Frame{Kind: core.FrameData}
	switch typ {
	case "DT":
	case "RR":
		frame.IsRemoteFrame = true
	case "FD", "FB", "FE", "BI":
		frame.IsFD = true
		frame.BitrateSwitch = typ == "FB" || typ == "BI"
		frame.ErrorStateIndicator = typ == "FE" || typ == "BI"
	default:
		return core.Frame{}, false
	}

	offset, ok := col('O')
	if !ok {
		return core.Frame{}, false
	}
	ms, ok := parseFloat(offset)
	if !ok {
		return core.Frame{}, false
	}
	frame.Timestamp = ms/1000 + st.start

	if idTok, ok := col('I'); ok {
		id, ext, ok := st.parseID(idTok)
		if !ok {
			return core.Frame{}, false
		}
		frame.ArbitrationID = id
		frame.IsExtendedID = ext
	} else {
		return core.Frame{}, false
	}

	if bus, ok := col('B'); ok {
		n, err := strconv.Atoi(bus)
		if err != nil {
			return core.Frame{}, false
		}
		frame.Channel = n - 1
	}
	if dir, ok := col('d'); ok {
		frame.Direction = core.ParseDirection(dir)
	}

	var length int
	if l, ok := col('l'); ok {
		n, err := strconv.Atoi(l)
		if err != nil || n < 0 || n > 64 {
			return core.Frame{}, false
		}
		// Only the payload sizes a DLC code can express are valid.
		if core.DLCToLength(core.LengthToDLC(n)) != n || (!frame.IsFD && n > 8) {
			return core.Frame{}, false
		}
		length = n
	} else if dlcTok, ok := col('L'); ok {
		n, err := strconv.Atoi(dlcTok)
		if err != nil || n < 0 || n > 15 {
			return core.Frame{}, false
		}
		length = core.DLCToLength(uint8(n))
	} else {
		return core.Frame{}, false
	}
	frame.DLC = length

	frame.Data = []byte{}
	if i, ok := cols['D']; ok && i < len(toks) && !frame.IsRemoteFrame {
		frame.Data = parseBytes(toks[i:], length, 16)
	}
	return frame, true
}

func init() {
	core.Register(core.FormatDefinition{
		Info: core.FormatInfo{
			Key:       "trc",
			Extension: ".trc",
			Kind:      core.KindTrace,
			Label:     "PCAN trace",
		},
		Trace: TRCDecoder{},
	})
}
