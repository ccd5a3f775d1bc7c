package formats

import (
	"testing"

	"github.com/JonMunkholm/canview/internal/core"
	"github.com/google/go-cmp/cmp"
)

const testSYM = `FormatVersion=5.0 // Do not edit this line!
Title="Vehicle"

{ENUMS}
enum Gears(0="Park", 1="Reverse",
  2="Neutral", 3="Drive")
enum OnOff(0="Off", 1="On")

{SIGNALS}
Sig=Speed unsigned 16 /u:km/h /f:0.01 /max:300 // Vehicle speed
Sig=Temp signed 8 -m /u:"°C" /o:-40
Sig=Gear unsigned 2 /e:Gears
Sig=Ignition bit /e:OnOff

{SENDRECEIVE}

[EngineData]
ID=100h
Type=Standard
Len=8
Sig=Speed 0
Sig=Temp 23
Sig=Gear 24
CycleTime=100

[Body]
ID=1FFFFh
Type=Extended
Len=4
Mux=Page 0,8 2
Var=Rpm unsigned 8,16 /f:0.25 /u:rpm // engine speed
Sig=Ignition 31
`

func TestSYMDecoder_Database(t *testing.T) {
	db, err := SYMDecoder{}.DecodeDatabase([]byte(testSYM))
	if err != nil {
		t.Fatalf("DecodeDatabase() error = %v", err)
	}
	if len(db.Messages) != 2 {
		t.Fatalf("messages = %d, want 2", len(db.Messages))
	}

	engine := db.Messages[0]
	if engine.Name != "EngineData" || engine.ID != 0x100 || engine.Extended || engine.HexID != "0x100" || engine.Length != 8 {
		t.Errorf("EngineData = %+v", engine)
	}

	wantSpeed := core.Signal{
		Name:        "Speed",
		StartBit:    0,
		Length:      16,
		ByteOrder:   core.LittleEndian,
		ValueType:   core.Unsigned,
		Scaling:     0.01,
		Max:         300,
		Units:       "km/h",
		Description: "Vehicle speed",
	}
	if diff := cmp.Diff(wantSpeed, engine.Signals[0]); diff != "" {
		t.Errorf("Speed mismatch (-want +got):\n%s", diff)
	}

	temp := engine.Signals[1]
	if temp.StartBit != 23 || temp.ByteOrder != core.BigEndian || temp.ValueType != core.Signed ||
		temp.Offset != -40 || temp.Units != "°C" {
		t.Errorf("Temp = %+v", temp)
	}

	gear := engine.Signals[2]
	want := map[int64]string{0: "Park", 1: "Reverse", 2: "Neutral", 3: "Drive"}
	if diff := cmp.Diff(want, gear.ValueDescriptions); diff != "" {
		t.Errorf("Gear enum (-want +got):\n%s", diff)
	}

	body := db.Messages[1]
	if body.ID != 0x1FFFF || !body.Extended || body.HexID != "0x0001FFFF" {
		t.Errorf("Body = %+v", body)
	}
	if len(body.Signals) != 3 {
		t.Fatalf("Body signals = %+v", body.Signals)
	}
	page := body.Signals[0]
	if !page.IsMultiplexer || page.StartBit != 0 || page.Length != 8 {
		t.Errorf("Page = %+v", page)
	}
	rpm := body.Signals[1]
	if rpm.MultiplexerValue == nil || *rpm.MultiplexerValue != 2 || rpm.Scaling != 0.25 || rpm.Description != "engine speed" {
		t.Errorf("Rpm = %+v", rpm)
	}
	ign := body.Signals[2]
	if ign.Length != 1 || ign.StartBit != 31 || ign.ValueDescriptions[1] != "On" {
		t.Errorf("Ignition = %+v", ign)
	}
}

func TestSYMDecoder_TemplatesAreCopied(t *testing.T) {
	input := `{ENUMS}
enum E(0="a")
{SIGNALS}
Sig=S unsigned 8 /e:E
{SEND}
[A]
ID=1h
Sig=S 0
[B]
ID=2h
Sig=S 8
`
	db, err := SYMDecoder{}.DecodeDatabase([]byte(input))
	if err != nil {
		t.Fatalf("DecodeDatabase() error = %v", err)
	}
	a := &db.Messages[0].Signals[0]
	b := &db.Messages[1].Signals[0]
	if a.StartBit != 0 || b.StartBit != 8 {
		t.Fatalf("start bits = %d, %d", a.StartBit, b.StartBit)
	}
	a.ValueDescriptions[0] = "changed"
	if b.ValueDescriptions[0] != "a" {
		t.Error("signal templates share value descriptions")
	}
}

func TestSYMDecoder_MasksIDByType(t *testing.T) {
	input := "{SEND}\n[M]\nID=FFFh\nType=Standard\n"
	db, err := SYMDecoder{}.DecodeDatabase([]byte(input))
	if err != nil {
		t.Fatalf("DecodeDatabase() error = %v", err)
	}
	if got := db.Messages[0].ID; got != 0x7FF {
		t.Errorf("ID = %#x, want 0x7ff", got)
	}
}

func TestSYMDecoder_Idempotent(t *testing.T) {
	a, _ := SYMDecoder{}.DecodeDatabase([]byte(testSYM))
	b, _ := SYMDecoder{}.DecodeDatabase([]byte(testSYM))
	if diff := cmp.Diff(a, b); diff != "" {
		t.Errorf("decodes differ (-first +second):\n%s", diff)
	}
}

func TestSymNumber(t *testing.T) {
	tests := []struct {
		in   string
		want uint64
		ok   bool
	}{
		{"100h", 0x100, true},
		{"1FFFh", 0x1FFF, true},
		{"42", 42, true},
		{"zz", 0, false},
	}
	for _, tt := range tests {
		got, ok := symNumber(tt.in)
		if got != tt.want || ok != tt.ok {
			t.Errorf("symNumber(%q) = %d, %v; want %d, %v", tt.in, got, ok, tt.want, tt.ok)
		}
	}
}
