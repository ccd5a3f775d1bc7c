package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/JonMunkholm/canview/internal/core"
)

const (
	testDBC = "BU_: ECU Dash\n\nBO_ 256 Engine: 8 ECU\n SG_ Speed : 0|8@1+ (0.5,10) [0|255] \"km/h\" Dash\n"
	testASC = "0.5 1 100 Rx d 1 64\n1.5 1 100 Rx d 1 14\n2.5 1 200 Rx d 2 01 02\n"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

// run executes the CLI and returns stdout, stderr and the command error.
func run(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	var stdout, stderr bytes.Buffer
	cmd := NewRootCmd()
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func lines(s string) []string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return strings.Split(s, "\n")
}

func TestFormatsCommand(t *testing.T) {
	stdout, _, err := run(t, "formats")
	if err != nil {
		t.Fatalf("formats: %v", err)
	}

	var keys []string
	for _, line := range lines(stdout) {
		var info core.FormatInfo
		if err := json.Unmarshal([]byte(line), &info); err != nil {
			t.Fatalf("line %q: %v", line, err)
		}
		keys = append(keys, info.Key)
	}
	if len(keys) != 5 {
		t.Errorf("formats = %v, want 5 entries", keys)
	}
}

func TestDecodeCommand(t *testing.T) {
	trace := writeFile(t, "drive.asc", testASC)

	stdout, _, err := run(t, "decode", trace)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	out := lines(stdout)
	if len(out) != 3 {
		t.Fatalf("got %d frames, want 3:\n%s", len(out), stdout)
	}

	var last struct {
		Timestamp     float64 `json:"timestamp"`
		ArbitrationID uint32  `json:"arbitrationId"`
		Data          []int   `json:"data"`
	}
	if err := json.Unmarshal([]byte(out[2]), &last); err != nil {
		t.Fatalf("frame line: %v", err)
	}
	if last.Timestamp != 2.5 || last.ArbitrationID != 0x200 || !cmp.Equal(last.Data, []int{1, 2}) {
		t.Errorf("last frame = %+v", last)
	}

	stdout, _, err = run(t, "decode", "--limit", "1", "--all-containers", trace)
	if err != nil {
		t.Fatalf("decode --limit: %v", err)
	}
	if n := len(lines(stdout)); n != 1 {
		t.Errorf("--limit 1 printed %d frames", n)
	}
}

func TestDecodeCommand_Errors(t *testing.T) {
	if _, _, err := run(t, "decode", writeFile(t, "car.dbc", testDBC)); err == nil {
		t.Error("decoding a database as a trace should fail")
	}
	if _, _, err := run(t, "decode", filepath.Join(t.TempDir(), "missing.asc")); err == nil {
		t.Error("missing file should fail")
	}
	if _, _, err := run(t, "decode"); err == nil {
		t.Error("missing argument should fail")
	}
}

func TestInspectCommand(t *testing.T) {
	stdout, _, err := run(t, "inspect", writeFile(t, "car.dbc", testDBC))
	if err != nil {
		t.Fatalf("inspect: %v", err)
	}

	var kinds []string
	for _, line := range lines(stdout) {
		var rec inspectRecord
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			t.Fatalf("line %q: %v", line, err)
		}
		switch rec.Kind {
		case "message":
			kinds = append(kinds, "message:"+rec.Message.Name)
		case "node":
			kinds = append(kinds, "node:"+rec.Node.Name)
		}
	}
	want := []string{"message:Engine", "node:ECU", "node:Dash"}
	if diff := cmp.Diff(want, kinds); diff != "" {
		t.Errorf("records (-want +got):\n%s", diff)
	}
}

func TestSignalsCommand(t *testing.T) {
	db := writeFile(t, "car.dbc", testDBC)
	trace := writeFile(t, "drive.asc", testASC)

	stdout, _, err := run(t, "signals", "--db", db, "--trace", trace, "--signal", "Speed")
	if err != nil {
		t.Fatalf("signals: %v", err)
	}
	out := lines(stdout)
	if len(out) != 1 {
		t.Fatalf("got %d series, want 1", len(out))
	}
	var series core.Series
	if err := json.Unmarshal([]byte(out[0]), &series); err != nil {
		t.Fatalf("series line: %v", err)
	}
	want := core.Series{
		Signal: "Speed", Message: "Engine", Units: "km/h",
		Points: []core.Point{{Time: 0.5, Value: 60}, {Time: 1.5, Value: 20}},
	}
	if diff := cmp.Diff(want, series); diff != "" {
		t.Errorf("series (-want +got):\n%s", diff)
	}

	if _, _, err := run(t, "signals", "--db", db, "--trace", trace, "--signal", "Nope"); err == nil {
		t.Error("unknown signal should fail")
	}
	if _, _, err := run(t, "signals", "--db", db, "--trace", trace); err == nil {
		t.Error("missing --signal should fail")
	}
}

func TestDecodeCommand_TruncatedBLF(t *testing.T) {
	blf := writeFile(t, "cut.blf", "LOGG")

	stdout, stderr, err := run(t, "decode", blf)
	if err != nil {
		t.Fatalf("a structural failure keeps the empty trace, got error %v", err)
	}
	if stdout != "" {
		t.Errorf("stdout = %q, want no frames", stdout)
	}
	if !strings.Contains(stderr, "decoded partially") || !strings.Contains(stderr, "cut.blf") {
		t.Errorf("stderr = %q, want a partial decode warning", stderr)
	}
	if !strings.Contains(stderr, "DEC002") {
		t.Errorf("stderr = %q, want the truncated file hint", stderr)
	}
}

func TestReportError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{
			name: "known error",
			err:  fmt.Errorf("x.csv: %w", core.ErrUnsupportedFormat),
			want: "x.csv: unsupported file format\n" + core.FormatUserError(core.ErrUnsupportedFormat) + "\n",
		},
		{
			name: "unknown error",
			err:  errors.New("disk on fire"),
			want: "disk on fire\n",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			reportError(&buf, tt.err)
			if diff := cmp.Diff(tt.want, buf.String()); diff != "" {
				t.Errorf("reportError output (-want +got):\n%s", diff)
			}
		})
	}
}

func TestVersionCommand(t *testing.T) {
	stdout, _, err := run(t, "version")
	if err != nil {
		t.Fatalf("version: %v", err)
	}
	if strings.TrimSpace(stdout) != Version {
		t.Errorf("version = %q, want %q", stdout, Version)
	}
}
