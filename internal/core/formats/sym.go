package formats

// sym.go parses PCAN symbol files. Three passes run over the file: enums
// first, then signal templates, then message sections binding templates at
// a start bit.
//
//	{ENUMS}
//	enum Gears(0="Park", 1="Reverse",
//	  2="Neutral")
//
//	{SIGNALS}
//	Sig=Speed unsigned 16 /u:km/h /f:0.01 /max:300 // vehicle speed
//
//	{SENDRECEIVE}
//	[EngineData]
//	ID=100h
//	Type=Standard
//	Len=8
//	Sig=Speed 0
//	Var=Rpm unsigned 16,16 -m /u:rpm /f:0.25

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/JonMunkholm/canview/internal/core"
)

var (
	symEnumRe  = regexp.MustCompile(`^[Ee]num\s+(\w+)\s*\((.*)$`)
	symValueRe = regexp.MustCompile(`(-?\w+)\s*=\s*"([^"]*)"`)
)

// SYMDecoder parses symbol file databases.
type SYMDecoder struct{}

// DecodeDatabase implements core.DatabaseDecoder.
func (SYMDecoder) DecodeDatabase(data []byte) (*core.Database, error) {
	lines := core.Lines(data)

	enums := parseSymEnums(lines)
	templates := parseSymSignals(lines, enums)
	messages := parseSymMessages(lines, templates, enums)

	return &core.Database{
		Format:   "sym",
		Messages: messages,
		Nodes:    deriveNodes(nil, messages),
	}, nil
}

// symSections yields each line with the {SECTION} it belongs to.
func symSections(lines []string, fn func(section, line string)) {
	section := ""
	for _, raw := range lines {
		line := strings.TrimSpace(raw)
		if line == "" || strings.HasPrefix(line, "//") {
			continue
		}
		if strings.HasPrefix(line, "{") && strings.HasSuffix(line, "}") {
			section = strings.ToUpper(strings.Trim(line, "{}"))
			continue
		}
		fn(section, line)
	}
}

func parseSymEnums(lines []string) map[string]map[int64]string {
	enums := make(map[string]map[int64]string)

	var (
		name string
		body strings.Builder
	)
	flush := func() {
		if name == "" {
			return
		}
		values := make(map[int64]string)
		for _, m := range symValueRe.FindAllStringSubmatch(body.String(), -1) {
			if v, ok := symNumber(m[1]); ok {
				values[int64(v)] = m[2]
			}
		}
		enums[name] = values
		name = ""
		body.Reset()
	}

	symSections(lines, func(section, line string) {
		if section != "ENUMS" {
			return
		}
		if name != "" {
			body.WriteString(" " + line)
			if strings.Contains(line, ")") {
				flush()
			}
			return
		}
		m := symEnumRe.FindStringSubmatch(line)
		if m == nil {
			return
		}
		name = m[1]
		body.WriteString(m[2])
		if strings.Contains(m[2], ")") {
			flush()
		}
	})
	flush()
	return enums
}

func parseSymSignals(lines []string, enums map[string]map[int64]string) map[string]core.Signal {
	templates := make(map[string]core.Signal)
	symSections(lines, func(section, line string) {
		if section != "SIGNALS" || !strings.HasPrefix(line, "Sig=") {
			return
		}
		def, comment := splitSymComment(strings.TrimPrefix(line, "Sig="))
		fields := splitSymFields(def)
		if len(fields) < 2 {
			return
		}
		sig := newSymSignal(fields[0], fields[1])
		rest := fields[2:]
		if len(rest) > 0 {
			if n, err := strconv.ParseUint(rest[0], 10, 8); err == nil {
				sig.Length = uint(n)
				rest = rest[1:]
			}
		}
		applySymAttributes(&sig, rest, enums)
		sig.Description = comment
		if sig.Length == 0 {
			return
		}
		templates[sig.Name] = sig
	})
	return templates
}

func parseSymMessages(lines []string, templates map[string]core.Signal, enums map[string]map[int64]string) []core.Message {
	messages := make([]core.Message, 0)

	var (
		msg      *core.Message
		typ      string
		muxValue *int
	)
	finish := func() {
		if msg == nil {
			return
		}
		extended := msg.ID > 0x7FF
		switch strings.ToLower(typ) {
		case "extended":
			extended = true
		case "standard":
			extended = false
		}
		msg.ID = core.MaskID(msg.ID, extended)
		msg.Extended = extended
		msg.HexID = core.HexID(msg.ID, extended)
		messages = append(messages, *msg)
		msg, typ, muxValue = nil, "", nil
	}

	symSections(lines, func(section, line string) {
		switch section {
		case "SEND", "RECEIVE", "SENDRECEIVE":
		default:
			return
		}

		if strings.HasPrefix(line, "[") && strings.HasSuffix(line, "]") {
			finish()
			msg = &core.Message{Name: strings.Trim(line, "[]"), Signals: make([]core.Signal, 0)}
			return
		}
		if msg == nil {
			return
		}

		key, value, ok := strings.Cut(line, "=")
		if !ok {
			return
		}
		def, comment := splitSymComment(value)
		fields := splitSymFields(def)

		switch key {
		case "ID":
			idTok, _, _ := strings.Cut(strings.TrimSpace(def), "-")
			if v, ok := symNumber(idTok); ok {
				msg.ID = uint32(v)
			}
		case "Type":
			typ = strings.TrimSpace(def)
		case "Len":
			if n, err := strconv.Atoi(strings.TrimSpace(def)); err == nil {
				msg.Length = n
			}
		case "Sig":
			if len(fields) < 2 {
				return
			}
			tmpl, ok := templates[fields[0]]
			if !ok {
				return
			}
			start, err := strconv.ParseUint(fields[1], 10, 16)
			if err != nil {
				return
			}
			sig := tmpl.Clone()
			sig.StartBit = uint(start)
			if len(fields) > 2 {
				applySymAttributes(&sig, fields[2:], enums)
			}
			sig.MultiplexerValue = cloneInt(muxValue)
			msg.Signals = append(msg.Signals, sig)
		case "Var":
			// Var=name type start,len [attributes]
			if len(fields) < 3 {
				return
			}
			sig := newSymSignal(fields[0], fields[1])
			start, length, ok := symRange(fields[2])
			if !ok {
				return
			}
			sig.StartBit, sig.Length = start, length
			applySymAttributes(&sig, fields[3:], enums)
			sig.Description = comment
			sig.MultiplexerValue = cloneInt(muxValue)
			msg.Signals = append(msg.Signals, sig)
		case "Mux":
			// Mux=name start,len value [attributes]
			if len(fields) < 3 {
				return
			}
			start, length, ok := symRange(fields[1])
			if !ok {
				return
			}
			v, ok := symNumber(fields[2])
			if !ok {
				return
			}
			n := int(v)
			muxValue = &n
			if _, exists := msg.Multiplexer(); exists {
				return
			}
			sig := newSymSignal(fields[0], "unsigned")
			sig.StartBit, sig.Length = start, length
			sig.IsMultiplexer = true
			applySymAttributes(&sig, fields[3:], enums)
			msg.Signals = append(msg.Signals, sig)
		}
	})
	finish()
	return messages
}

func newSymSignal(name, typ string) core.Signal {
	sig := core.Signal{
		Name:      name,
		ByteOrder: core.LittleEndian,
		ValueType: core.Unsigned,
		Scaling:   1,
	}
	switch strings.ToLower(typ) {
	case "signed":
		sig.ValueType = core.Signed
	case "bit":
		sig.Length = 1
	case "char":
		sig.Length = 8
	case "float":
		sig.Length = 32
	case "double":
		sig.Length = 64
	}
	return sig
}

// applySymAttributes applies "-m" and "/key:value" attributes.
func applySymAttributes(sig *core.Signal, attrs []string, enums map[string]map[int64]string) {
	for _, attr := range attrs {
		if attr == "-m" {
			sig.ByteOrder = core.BigEndian
			continue
		}
		if !strings.HasPrefix(attr, "/") {
			continue
		}
		key, value, ok := strings.Cut(attr[1:], ":")
		if !ok {
			continue
		}
		value = strings.Trim(value, `"`)
		switch key {
		case "u":
			sig.Units = value
		case "f":
			if v, err := strconv.ParseFloat(value, 64); err == nil {
				sig.Scaling = v
			}
		case "o":
			if v, err := strconv.ParseFloat(value, 64); err == nil {
				sig.Offset = v
			}
		case "min":
			if v, err := strconv.ParseFloat(value, 64); err == nil {
				sig.Min = v
			}
		case "max":
			if v, err := strconv.ParseFloat(value, 64); err == nil {
				sig.Max = v
			}
		case "e":
			if values, ok := enums[value]; ok {
				sig.ValueDescriptions = make(map[int64]string, len(values))
				for k, label := range values {
					sig.ValueDescriptions[k] = label
				}
			}
		}
	}
}

// splitSymComment separates a trailing "// comment" outside quotes.
func splitSymComment(s string) (string, string) {
	inQuote := false
	for i := 0; i < len(s)-1; i++ {
		switch {
		case s[i] == '"':
			inQuote = !inQuote
		case !inQuote && s[i] == '/' && s[i+1] == '/':
			return strings.TrimSpace(s[:i]), strings.TrimSpace(s[i+2:])
		}
	}
	return strings.TrimSpace(s), ""
}

// splitSymFields splits on whitespace, keeping quoted runs together.
func splitSymFields(s string) []string {
	var (
		fields  []string
		cur     strings.Builder
		inQuote bool
	)
	for _, r := range s {
		switch {
		case r == '"':
			inQuote = !inQuote
			cur.WriteRune(r)
		case !inQuote && (r == ' ' || r == '\t'):
			if cur.Len() > 0 {
				fields = append(fields, cur.String())
				cur.Reset()
			}
		default:
			cur.WriteRune(r)
		}
	}
	if cur.Len() > 0 {
		fields = append(fields, cur.String())
	}
	return fields
}

// symNumber parses decimal or "h"-suffixed hex numbers.
func symNumber(tok string) (uint64, bool) {
	tok = strings.TrimSpace(tok)
	if strings.HasSuffix(tok, "h") || strings.HasSuffix(tok, "H") {
		return parseUint(tok[:len(tok)-1], 16)
	}
	if strings.HasPrefix(tok, "-") {
		v, err := strconv.ParseInt(tok, 10, 64)
		if err != nil {
			return 0, false
		}
		return uint64(v), true
	}
	return parseUint(tok, 10)
}

// symRange parses "start,len".
func symRange(tok string) (uint, uint, bool) {
	a, b, ok := strings.Cut(tok, ",")
	if !ok {
		return 0, 0, false
	}
	start, err1 := strconv.ParseUint(a, 10, 16)
	length, err2 := strconv.ParseUint(b, 10, 8)
	if err1 != nil || err2 != nil || length == 0 {
		return 0, 0, false
	}
	return uint(start), uint(length), true
}

func cloneInt(p *int) *int {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func init() {
	core.Register(core.FormatDefinition{
		Info: core.FormatInfo{
			Key:       "sym",
			Extension: ".sym",
			Kind:      core.KindDatabase,
			Label:     "PCAN symbol database",
		},
		Database: SYMDecoder{},
	})
}
