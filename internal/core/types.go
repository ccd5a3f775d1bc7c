// Package core provides the decoding engine for CAN bus traces and signal databases.
// This package has no transport dependencies and can be used by any frontend.
package core

import (
	"encoding/json"
	"time"
)

// NoChannel marks a frame whose source format carries no channel information.
const NoChannel = -1

// FrameKind tags the payload variant carried by a Frame.
type FrameKind uint8

const (
	FrameData FrameKind = iota
	FrameError
)

func (k FrameKind) String() string {
	switch k {
	case FrameData:
		return "data"
	case FrameError:
		return "error"
	default:
		return "unknown"
	}
}

// MarshalText renders the kind by name in JSON output.
func (k FrameKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// Direction is the bus direction a frame was recorded in.
type Direction uint8

const (
	DirUnknown Direction = iota
	DirRx
	DirTx
)

func (d Direction) String() string {
	switch d {
	case DirRx:
		return "Rx"
	case DirTx:
		return "Tx"
	default:
		return "unknown"
	}
}

// MarshalText renders the direction by name in JSON output.
func (d Direction) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// ParseDirection maps the "Rx"/"Tx" tokens used by text traces.
func ParseDirection(s string) Direction {
	switch s {
	case "Rx", "rx", "RX":
		return DirRx
	case "Tx", "tx", "TX":
		return DirTx
	default:
		return DirUnknown
	}
}

// ErrorDetail is the payload of an error event.
type ErrorDetail struct {
	Code          uint8  `json:"code"`
	Position      uint8  `json:"position"`
	Flags         uint32 `json:"flags"`
	ExtendedFlags uint16 `json:"extendedFlags"`
	FrameLength   uint32 `json:"frameLength"`
}

// Frame is one recorded bus event. The envelope (timestamp, channel, id) is
// shared by both variants; Error is only set when Kind is FrameError.
type Frame struct {
	Timestamp     float64 `json:"timestamp"`
	Channel       int     `json:"channel"`
	ArbitrationID uint32  `json:"arbitrationId"`
	IsExtendedID  bool    `json:"isExtendedId"`

	Kind                FrameKind    `json:"kind"`
	IsRemoteFrame       bool         `json:"isRemoteFrame"`
	IsFD                bool         `json:"isFd"`
	BitrateSwitch       bool         `json:"bitrateSwitch,omitempty"`
	ErrorStateIndicator bool         `json:"errorStateIndicator,omitempty"`
	Direction           Direction    `json:"direction"`
	DLC                 int          `json:"dlc"` // declared payload length in bytes
	Data                []byte       `json:"data"`
	Error               *ErrorDetail `json:"error,omitempty"`
}

// MarshalJSON writes the payload as an array of byte values instead of base64.
func (f Frame) MarshalJSON() ([]byte, error) {
	type frame Frame
	data := make([]int, len(f.Data))
	for i, b := range f.Data {
		data[i] = int(b)
	}
	return json.Marshal(struct {
		frame
		Data []int `json:"data"`
	}{frame(f), data})
}

// IsRx reports whether the frame was received. Frames of unknown direction
// count as received, matching the formats that only log bus input.
func (f Frame) IsRx() bool {
	return f.Direction != DirTx
}

// Trace is the ordered result of decoding one trace file.
type Trace struct {
	Format   string    `json:"format"`
	FileName string    `json:"fileName"`
	Start    time.Time `json:"start"`
	Frames   []Frame   `json:"-"`
}

// ByteOrder selects the bit numbering convention of a signal.
type ByteOrder uint8

const (
	LittleEndian ByteOrder = iota
	BigEndian
)

func (o ByteOrder) String() string {
	if o == BigEndian {
		return "BigEndian"
	}
	return "LittleEndian"
}

// MarshalText renders the byte order by name in JSON output.
func (o ByteOrder) MarshalText() ([]byte, error) {
	return []byte(o.String()), nil
}

// ValueType tells how raw signal bits are interpreted.
type ValueType uint8

const (
	Unsigned ValueType = iota
	Signed
)

func (v ValueType) String() string {
	if v == Signed {
		return "Signed"
	}
	return "Unsigned"
}

// MarshalText renders the value type by name in JSON output.
func (v ValueType) MarshalText() ([]byte, error) {
	return []byte(v.String()), nil
}

// Signal describes where a physical value lives inside a message payload.
type Signal struct {
	Name      string    `json:"name"`
	StartBit  uint      `json:"startBit"`
	Length    uint      `json:"length"`
	ByteOrder ByteOrder `json:"byteOrder"`
	ValueType ValueType `json:"valueType"`
	Scaling   float64   `json:"scaling"`
	Offset    float64   `json:"offset"`
	Min       float64   `json:"min"`
	Max       float64   `json:"max"`
	Units     string    `json:"units"`

	Description       string           `json:"description,omitempty"`
	ValueDescriptions map[int64]string `json:"valueDescriptions,omitempty"`
	Receivers         []string         `json:"receivers,omitempty"`

	IsMultiplexer    bool `json:"isMultiplexer,omitempty"`
	MultiplexerValue *int `json:"multiplexerValue,omitempty"`
}

// Clone returns a deep copy, so templates can be bound to several messages.
func (s Signal) Clone() Signal {
	c := s
	if s.ValueDescriptions != nil {
		c.ValueDescriptions = make(map[int64]string, len(s.ValueDescriptions))
		for k, v := range s.ValueDescriptions {
			c.ValueDescriptions[k] = v
		}
	}
	if s.Receivers != nil {
		c.Receivers = append([]string(nil), s.Receivers...)
	}
	if s.MultiplexerValue != nil {
		v := *s.MultiplexerValue
		c.MultiplexerValue = &v
	}
	return c
}

// Message is one frame layout from a signal database. IDs are not required
// to be unique across a database.
type Message struct {
	ID       uint32   `json:"id"`
	HexID    string   `json:"hexId"`
	Extended bool     `json:"extended"`
	Name     string   `json:"name"`
	Length   int      `json:"length"`
	Sender   string   `json:"sender"`
	Comment  string   `json:"comment,omitempty"`
	Signals  []Signal `json:"signals"`
}

// Signal returns the named signal of the message.
func (m *Message) Signal(name string) (*Signal, bool) {
	for i := range m.Signals {
		if m.Signals[i].Name == name {
			return &m.Signals[i], true
		}
	}
	return nil, false
}

// Multiplexer returns the selector signal of a multiplexed message.
func (m *Message) Multiplexer() (*Signal, bool) {
	for i := range m.Signals {
		if m.Signals[i].IsMultiplexer {
			return &m.Signals[i], true
		}
	}
	return nil, false
}

// Node is a bus participant with the message names it sends and receives.
type Node struct {
	Name      string   `json:"name"`
	Transmits []string `json:"transmits"`
	Receives  []string `json:"receives"`
}

// Database is the common model produced by every database decoder.
type Database struct {
	Format   string    `json:"format"`
	FileName string    `json:"fileName"`
	Messages []Message `json:"messages"`
	Nodes    []Node    `json:"nodes"`
}

// MessageForSignal returns the first message carrying a signal of that name.
func (db *Database) MessageForSignal(name string) (*Message, *Signal, bool) {
	for i := range db.Messages {
		if sig, ok := db.Messages[i].Signal(name); ok {
			return &db.Messages[i], sig, true
		}
	}
	return nil, nil, false
}

// Point is one physical sample of a signal.
type Point struct {
	Time  float64 `json:"t"`
	Value float64 `json:"v"`
}

// Series is the resolved time series of one signal.
type Series struct {
	Signal  string  `json:"signal"`
	Message string  `json:"message"`
	Units   string  `json:"units"`
	Points  []Point `json:"points"`
	Skipped int     `json:"skipped,omitempty"` // frames too short for the signal
}
