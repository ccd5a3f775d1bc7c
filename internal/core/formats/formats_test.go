package formats

import (
	"errors"
	"testing"

	"github.com/JonMunkholm/canview/internal/core"
)

func TestRegisteredFormats(t *testing.T) {
	tests := []struct {
		file string
		key  string
		kind core.FormatKind
	}{
		{"drive.blf", "blf", core.KindTrace},
		{"drive.ASC", "asc", core.KindTrace},
		{"drive.trc", "trc", core.KindTrace},
		{"vehicle.dbc", "dbc", core.KindDatabase},
		{"vehicle.Sym", "sym", core.KindDatabase},
	}

	for _, tt := range tests {
		t.Run(tt.file, func(t *testing.T) {
			def, err := core.Lookup(tt.file)
			if err != nil {
				t.Fatalf("Lookup(%q) error = %v", tt.file, err)
			}
			if def.Info.Key != tt.key || def.Info.Kind != tt.kind {
				t.Errorf("Lookup(%q) = %+v, want key %s kind %s", tt.file, def.Info, tt.key, tt.kind)
			}
		})
	}

	if got := len(core.ByKind(core.KindTrace)); got != 3 {
		t.Errorf("trace formats = %d, want 3", got)
	}
	if got := len(core.ByKind(core.KindDatabase)); got != 2 {
		t.Errorf("database formats = %d, want 2", got)
	}
}

func TestDecodeFileByExtension(t *testing.T) {
	trace, err := core.DecodeTraceFile("log.asc", []byte("1.0 1 100 Rx d 1 01\n"), nil)
	if err != nil {
		t.Fatalf("DecodeTraceFile() error = %v", err)
	}
	if trace.FileName != "log.asc" || trace.Format != "asc" || len(trace.Frames) != 1 {
		t.Errorf("trace = %+v", trace)
	}

	db, err := core.DecodeDatabaseFile("db.dbc", []byte("BO_ 1 A: 1 X\n"))
	if err != nil {
		t.Fatalf("DecodeDatabaseFile() error = %v", err)
	}
	if db.FileName != "db.dbc" || db.Format != "dbc" || len(db.Messages) != 1 {
		t.Errorf("db = %+v", db)
	}

	if _, err := core.DecodeTraceFile("db.dbc", nil, nil); !errors.Is(err, core.ErrUnsupportedFormat) {
		t.Errorf("trace from database extension: error = %v", err)
	}
	if _, err := core.DecodeTraceFile("log.csv", nil, nil); !errors.Is(err, core.ErrUnsupportedFormat) {
		t.Errorf("unknown extension: error = %v", err)
	}
}

type fixedTrace struct{ frames int }

func (d fixedTrace) DecodeTrace([]byte) (*core.Trace, error) {
	return &core.Trace{Frames: make([]core.Frame, d.frames)}, nil
}

func TestDecodeTraceFile_Override(t *testing.T) {
	overrides := map[string]core.TraceDecoder{".asc": fixedTrace{frames: 3}}
	trace, err := core.DecodeTraceFile("LOG.ASC", []byte("ignored"), overrides)
	if err != nil {
		t.Fatalf("DecodeTraceFile() error = %v", err)
	}
	if trace.Format != "asc" || trace.FileName != "LOG.ASC" || len(trace.Frames) != 3 {
		t.Errorf("trace = %+v, want the override's 3 frames tagged asc", trace)
	}
}
