package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/JonMunkholm/canview/internal/core"
)

func newFormatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "formats",
		Short: "List supported file formats",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := newJSONLines(cmd.OutOrStdout())
			for _, info := range newService(false).ListFormats() {
				if err := out.write(info); err != nil {
					return err
				}
			}
			return nil
		},
	}
}

func newDecodeCmd() *cobra.Command {
	var (
		limit         int
		allContainers bool
	)

	cmd := &cobra.Command{
		Use:   "decode <trace>",
		Short: "Decode a trace and print its frames",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			svc := newService(allContainers)
			sess, err := svc.CreateSession()
			if err != nil {
				return err
			}
			if err := loadFile(ctx, args[0], traceLoader(svc, sess.ID)); err != nil {
				return err
			}

			frames, _, err := svc.Frames(sess.ID, 0, limit)
			if err != nil {
				return err
			}
			out := newJSONLines(cmd.OutOrStdout())
			for _, f := range frames {
				if err := out.write(f); err != nil {
					return err
				}
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 0, "print at most N frames (0 prints all)")
	cmd.Flags().BoolVar(&allContainers, "all-containers", false, "decode every BLF log container, not only the first")
	return cmd
}

// inspectRecord is one line of inspect output.
type inspectRecord struct {
	Kind    string        `json:"kind"`
	Message *core.Message `json:"message,omitempty"`
	Node    *core.Node    `json:"node,omitempty"`
}

func newInspectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "inspect <database>",
		Short: "Print the messages and nodes of a signal database",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc := newService(false)
			sess, err := svc.CreateSession()
			if err != nil {
				return err
			}
			if err := loadFile(cmd.Context(), args[0], databaseLoader(svc, sess.ID)); err != nil {
				return err
			}

			db := sess.Database()
			out := newJSONLines(cmd.OutOrStdout())
			for i := range db.Messages {
				if err := out.write(inspectRecord{Kind: "message", Message: &db.Messages[i]}); err != nil {
					return err
				}
			}
			for i := range db.Nodes {
				if err := out.write(inspectRecord{Kind: "node", Node: &db.Nodes[i]}); err != nil {
					return err
				}
			}
			return nil
		},
	}
}

func newSignalsCmd() *cobra.Command {
	var (
		dbPath        string
		tracePath     string
		names         []string
		allContainers bool
	)

	cmd := &cobra.Command{
		Use:   "signals",
		Short: "Resolve signals from a trace into time series",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			svc := newService(allContainers)
			sess, err := svc.CreateSession()
			if err != nil {
				return err
			}

			if err := loadFile(ctx, dbPath, databaseLoader(svc, sess.ID)); err != nil {
				return err
			}
			if err := loadFile(ctx, tracePath, traceLoader(svc, sess.ID)); err != nil {
				return err
			}

			series, err := svc.ResolveSignals(ctx, sess.ID, names)
			if err != nil {
				return err
			}
			out := newJSONLines(cmd.OutOrStdout())
			for _, s := range series {
				if err := out.write(s); err != nil {
					return err
				}
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&dbPath, "db", "", "signal database (.dbc or .sym)")
	cmd.Flags().StringVar(&tracePath, "trace", "", "trace file (.blf, .asc or .trc)")
	cmd.Flags().StringArrayVar(&names, "signal", nil, "signal name to resolve (repeatable)")
	cmd.Flags().BoolVar(&allContainers, "all-containers", false, "decode every BLF log container, not only the first")
	cmd.MarkFlagRequired("db")
	cmd.MarkFlagRequired("trace")
	cmd.MarkFlagRequired("signal")
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the canview version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), Version)
		},
	}
}
