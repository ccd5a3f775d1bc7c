// Package cli implements the canview command line tool. Every command
// prints JSON lines on stdout and logs diagnostics to stderr.
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/JonMunkholm/canview/internal/core"
	"github.com/JonMunkholm/canview/internal/core/formats"
	"github.com/JonMunkholm/canview/internal/logging"
)

// Version is set at build time with -ldflags "-X .../internal/cli.Version=...".
var Version = "dev"

type rootOptions struct {
	logLevel  string
	logFormat string
}

// NewRootCmd builds the command tree. Each call returns fresh flag state.
func NewRootCmd() *cobra.Command {
	opts := &rootOptions{}

	rootCmd := &cobra.Command{
		Use:   "canview",
		Short: "Decode CAN bus traces and signal databases",
		Long: `canview decodes CAN traces (.blf, .asc, .trc) and signal
databases (.dbc, .sym) and resolves signals into time series.`,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			slog.SetDefault(logging.New(cmd.ErrOrStderr(), opts.logLevel, opts.logFormat))
		},
	}

	rootCmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "warn", "log level: debug, info, warn, error")
	rootCmd.PersistentFlags().StringVar(&opts.logFormat, "log-format", "text", "log format: text or json")

	rootCmd.AddCommand(
		newFormatsCmd(),
		newDecodeCmd(),
		newInspectCmd(),
		newSignalsCmd(),
		newVersionCmd(),
	)
	return rootCmd
}

// Execute runs the root command. This is called by main.main().
func Execute() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := NewRootCmd().ExecuteContext(ctx); err != nil {
		reportError(os.Stderr, err)
		os.Exit(1)
	}
}

// reportError prints the technical error, followed by the user-facing
// explanation when the error is one the engine knows.
func reportError(w io.Writer, err error) {
	fmt.Fprintln(w, err)
	if core.IsUserFacing(err) {
		fmt.Fprintln(w, core.FormatUserError(err))
	}
}

// newService returns a single-use engine. allContainers swaps in a BLF
// decoder that reads every log container.
func newService(allContainers bool) *core.Service {
	opts := core.Options{MaxSessions: 1}
	if allContainers {
		opts.TraceDecoders = map[string]core.TraceDecoder{
			".blf": formats.BLFDecoder{AllContainers: true},
		}
	}
	return core.NewService(opts)
}

// loader loads one named file into a session.
type loader func(ctx context.Context, fileName string, data []byte) (*core.LoadResult, error)

func traceLoader(svc *core.Service, sessionID string) loader {
	return func(ctx context.Context, fileName string, data []byte) (*core.LoadResult, error) {
		return svc.LoadTrace(ctx, sessionID, fileName, data)
	}
}

func databaseLoader(svc *core.Service, sessionID string) loader {
	return func(ctx context.Context, fileName string, data []byte) (*core.LoadResult, error) {
		return svc.LoadDatabase(ctx, sessionID, fileName, data)
	}
}

// loadFile reads path and hands it to load under its base name.
func loadFile(ctx context.Context, path string, load loader) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	result, err := load(ctx, filepath.Base(path), data)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	if result.Partial {
		slog.Warn("file decoded partially",
			"file", path,
			"kind", result.Diagnostic.Kind,
			"error", result.Diagnostic.Message,
			"hint", result.Diagnostic.Hint,
		)
	}
	return nil
}

// jsonLines writes one JSON document per line.
type jsonLines struct {
	enc *json.Encoder
}

func newJSONLines(w io.Writer) *jsonLines {
	return &jsonLines{enc: json.NewEncoder(w)}
}

func (j *jsonLines) write(v any) error {
	return j.enc.Encode(v)
}
