package formats

// dbc.go parses DBC signal databases.
//
//	BU_: Engine Dash
//	BO_ 256 EngineData: 8 Engine
//	 SG_ Speed : 0|8@1+ (1,0) [0|255] "km/h" Dash
//	CM_ SG_ 256 Speed "Vehicle speed";
//	VAL_ 256 Speed 0 "Stopped" ;
//
// Value descriptions and comments are collected during the pass and merged
// onto the matching messages afterwards, so they may appear anywhere.

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/JonMunkholm/canview/internal/core"
)

var (
	dbcMessageRe = regexp.MustCompile(`^BO_\s+(\d+)\s+(\w+)\s*:\s*(\d+)\s+(\w+)`)
	dbcSignalRe  = regexp.MustCompile(`^SG_\s+(\w+)\s*(M|m\d+M?)?\s*:\s*(\d+)\|(\d+)@([01])([+-])\s*` +
		`\(\s*([^,]+?)\s*,\s*([^)]+?)\s*\)\s*\[\s*([^|]+?)\s*\|\s*([^\]]+?)\s*\]\s*"([^"]*)"\s*(.*)$`)
	dbcNodesRe      = regexp.MustCompile(`^BU_\s*:(.*)$`)
	dbcValueRe      = regexp.MustCompile(`^VAL_\s+(\d+)\s+(\w+)\s+(.*);`)
	dbcValueTableRe = regexp.MustCompile(`^VAL_TABLE_\s+(\w+)\s+(.*);`)
	dbcPairRe       = regexp.MustCompile(`(-?\d+)\s+"([^"]*)"`)
	dbcMsgCommentRe = regexp.MustCompile(`(?s)^CM_\s+BO_\s+(\d+)\s+"(.*)"\s*;`)
	dbcSigCommentRe = regexp.MustCompile(`(?s)^CM_\s+SG_\s+(\d+)\s+(\w+)\s+"(.*)"\s*;`)
)

// DBCDecoder parses DBC databases.
type DBCDecoder struct{}

type dbcValues struct {
	rawID  uint32
	signal string
	values map[int64]string
}

type dbcComment struct {
	rawID  uint32
	signal string // empty for message comments
	text   string
}

// DecodeDatabase implements core.DatabaseDecoder. Lines that match no
// directive are skipped.
func (DBCDecoder) DecodeDatabase(data []byte) (*core.Database, error) {
	db := &core.Database{Format: "dbc", Messages: make([]core.Message, 0)}

	var (
		declared []string
		values   []dbcValues
		comments []dbcComment
		tables   = make(map[string]map[int64]string)
		current  = -1
	)

	lines := core.Lines(data)
	for i := 0; i < len(lines); i++ {
		line := strings.TrimSpace(lines[i])

		switch {
		case strings.HasPrefix(line, "BO_ "):
			m := dbcMessageRe.FindStringSubmatch(line)
			if m == nil {
				current = -1
				continue
			}
			raw, _ := strconv.ParseUint(m[1], 10, 32)
			length, _ := strconv.Atoi(m[3])
			id, extended, hex := core.FormatMessageID(uint32(raw))
			db.Messages = append(db.Messages, core.Message{
				ID:       id,
				HexID:    hex,
				Extended: extended,
				Name:     m[2],
				Length:   length,
				Sender:   m[4],
				Signals:  make([]core.Signal, 0),
			})
			current = len(db.Messages) - 1

		case strings.HasPrefix(line, "SG_ "):
			if current < 0 {
				continue
			}
			if sig, ok := parseDBCSignal(line); ok {
				db.Messages[current].Signals = append(db.Messages[current].Signals, sig)
			}

		case strings.HasPrefix(line, "BU_"):
			if m := dbcNodesRe.FindStringSubmatch(line); m != nil {
				declared = append(declared, strings.Fields(m[1])...)
			}

		case strings.HasPrefix(line, "VAL_TABLE_ "):
			if m := dbcValueTableRe.FindStringSubmatch(line); m != nil {
				tables[m[1]] = parseValuePairs(m[2])
			}

		case strings.HasPrefix(line, "VAL_ "):
			m := dbcValueRe.FindStringSubmatch(line)
			if m == nil {
				continue
			}
			raw, err := strconv.ParseUint(m[1], 10, 32)
			if err != nil {
				continue
			}
			vals := parseValuePairs(m[3])
			if len(vals) == 0 {
				// "VAL_ id sig TableName;" references a named table.
				if t, ok := tables[strings.TrimSpace(m[3])]; ok {
					vals = t
				}
			}
			values = append(values, dbcValues{rawID: uint32(raw), signal: m[2], values: vals})

		case strings.HasPrefix(line, "CM_ "):
			// Comments may span lines until the closing quote and semicolon.
			stmt := line
			for !commentClosed(stmt) && i+1 < len(lines) {
				i++
				stmt += "\n" + lines[i]
			}
			if c, ok := parseDBCComment(strings.TrimSpace(stmt)); ok {
				comments = append(comments, c)
			}
		}
	}

	for _, v := range values {
		mergeValues(db.Messages, v)
	}
	for _, c := range comments {
		mergeComment(db.Messages, c)
	}
	db.Nodes = deriveNodes(declared, db.Messages)
	return db, nil
}

func parseDBCSignal(line string) (core.Signal, bool) {
	m := dbcSignalRe.FindStringSubmatch(line)
	if m == nil {
		return core.Signal{}, false
	}
	start, err1 := strconv.ParseUint(m[3], 10, 32)
	length, err2 := strconv.ParseUint(m[4], 10, 32)
	scaling, err3 := strconv.ParseFloat(m[7], 64)
	offset, err4 := strconv.ParseFloat(m[8], 64)
	if err1 != nil || err2 != nil || err3 != nil || err4 != nil {
		return core.Signal{}, false
	}
	minV, _ := strconv.ParseFloat(m[9], 64)
	maxV, _ := strconv.ParseFloat(m[10], 64)

	sig := core.Signal{
		Name:      m[1],
		StartBit:  uint(start),
		Length:    uint(length),
		ByteOrder: core.BigEndian,
		ValueType: core.Unsigned,
		Scaling:   scaling,
		Offset:    offset,
		Min:       minV,
		Max:       maxV,
		Units:     m[11],
	}
	if m[5] == "1" {
		sig.ByteOrder = core.LittleEndian
	}
	if m[6] == "-" {
		sig.ValueType = core.Signed
	}

	if mux := m[2]; mux != "" {
		if mux == "M" {
			sig.IsMultiplexer = true
		} else {
			body := strings.TrimPrefix(mux, "m")
			if strings.HasSuffix(body, "M") {
				sig.IsMultiplexer = true
				body = strings.TrimSuffix(body, "M")
			}
			if n, err := strconv.Atoi(body); err == nil {
				sig.MultiplexerValue = &n
			}
		}
	}

	for _, r := range strings.FieldsFunc(m[12], func(r rune) bool { return r == ',' || r == ' ' || r == '\t' }) {
		sig.Receivers = append(sig.Receivers, r)
	}
	return sig, true
}

// commentClosed reports whether a CM_ statement ends with a semicolon
// outside its quoted text.
func commentClosed(stmt string) bool {
	quoted := false
	end := -1
	for i := 0; i < len(stmt); i++ {
		switch stmt[i] {
		case '\\':
			if quoted {
				i++
			}
		case '"':
			quoted = !quoted
		case ';':
			if !quoted {
				end = i
			}
		}
	}
	return !quoted && end >= 0 && strings.TrimSpace(stmt[end+1:]) == ""
}

func parseDBCComment(stmt string) (dbcComment, bool) {
	if m := dbcSigCommentRe.FindStringSubmatch(stmt); m != nil {
		raw, err := strconv.ParseUint(m[1], 10, 32)
		if err != nil {
			return dbcComment{}, false
		}
		return dbcComment{rawID: uint32(raw), signal: m[2], text: m[3]}, true
	}
	if m := dbcMsgCommentRe.FindStringSubmatch(stmt); m != nil {
		raw, err := strconv.ParseUint(m[1], 10, 32)
		if err != nil {
			return dbcComment{}, false
		}
		return dbcComment{rawID: uint32(raw), text: m[2]}, true
	}
	return dbcComment{}, false
}

func parseValuePairs(s string) map[int64]string {
	pairs := dbcPairRe.FindAllStringSubmatch(s, -1)
	if len(pairs) == 0 {
		return nil
	}
	out := make(map[int64]string, len(pairs))
	for _, p := range pairs {
		v, err := strconv.ParseInt(p[1], 10, 64)
		if err != nil {
			continue
		}
		out[v] = p[2]
	}
	return out
}

// matches reports whether msg has the identity encoded in a raw DBC id.
func matches(msg *core.Message, rawID uint32) bool {
	id, extended, _ := core.FormatMessageID(rawID)
	return msg.ID == id && msg.Extended == extended
}

func mergeValues(messages []core.Message, v dbcValues) {
	if len(v.values) == 0 {
		return
	}
	for i := range messages {
		if !matches(&messages[i], v.rawID) {
			continue
		}
		sig, ok := messages[i].Signal(v.signal)
		if !ok {
			continue
		}
		if sig.ValueDescriptions == nil {
			sig.ValueDescriptions = make(map[int64]string, len(v.values))
		}
		for k, label := range v.values {
			sig.ValueDescriptions[k] = label
		}
	}
}

func mergeComment(messages []core.Message, c dbcComment) {
	for i := range messages {
		if !matches(&messages[i], c.rawID) {
			continue
		}
		if c.signal == "" {
			messages[i].Comment = c.text
			continue
		}
		if sig, ok := messages[i].Signal(c.signal); ok {
			sig.Description = c.text
		}
	}
}

func init() {
	core.Register(core.FormatDefinition{
		Info: core.FormatInfo{
			Key:       "dbc",
			Extension: ".dbc",
			Kind:      core.KindDatabase,
			Label:     "DBC database",
		},
		Database: DBCDecoder{},
	})
}
