package cmd

import (
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/fulmenhq/gofulmen/ascii"
	"github.com/spf13/cobra"

	"github.com/krewdev/bluetrap/internal/defense"
	"github.com/krewdev/bluetrap/internal/output"
)

var trapCmd = &cobra.Command{
	Use:   "trap",
	Short: "Inspect and manage stored trap state",
	Long: `Inspect and manage per-client trap state in the durable store
(redis, libsql or sqlite). Reads the same configuration as serve.`,
}

var (
	trapListOutput string
	trapListOut    string
	trapListOutDir string
	trapListIP     string
	trapListPrefix string
)

var trapListCmd = &cobra.Command{
	Use:   "list",
	Short: "List clients with stored trap state",
	RunE: func(cmd *cobra.Command, args []string) error {
		format, err := output.ParseFormat(trapListOutput)
		if err != nil {
			return err
		}

		query := defense.ClientQuery{
			ClientID: strings.TrimSpace(trapListIP),
			Prefix:   strings.TrimSpace(trapListPrefix),
		}
		if query.ClientID == "" && query.Prefix == "" {
			query.All = true
		}
		if err := query.Validate(); err != nil {
			return err
		}

		store, err := openStore(cmd.Context())
		if err != nil {
			return err
		}
		defer func() { _ = store.Close() }()

		clients, err := defense.ListClients(cmd.Context(), store, query)
		if err != nil {
			return err
		}

		sink, err := openFormatSink(trapListOut, trapListOutDir, "trap.list", format)
		if err != nil {
			return err
		}
		defer func() { _ = sink.close() }()

		if format == output.FormatTable && len(clients) == 0 {
			_, err := fmt.Fprint(sink.writer, ascii.DrawBox("Trapped Clients\n\n(no stored trap state)", 0))
			return err
		}

		rendered, err := output.NewFormatter(format).FormatClients(clients)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(sink.writer, rendered)
		return err
	},
}

var (
	trapResetAll    bool
	trapResetIP     string
	trapResetPrefix string
	trapResetYes    bool
	trapResetDryRun bool
	trapResetOutput string
)

var trapResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Delete stored trap state for matching clients",
	Long: `Delete speed-trap timestamps, active traps, maze visit records and rate
windows for matching clients. The global trapped counter is kept.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		format, err := output.ParseFormat(trapResetOutput)
		if err != nil {
			return err
		}

		query := defense.ClientQuery{
			All:      trapResetAll,
			ClientID: strings.TrimSpace(trapResetIP),
			Prefix:   strings.TrimSpace(trapResetPrefix),
		}
		if err := query.Validate(); err != nil {
			return err
		}
		if query.All && !trapResetYes && !trapResetDryRun {
			return errors.New("--all requires --yes (or use --dry-run)")
		}

		store, err := openStore(cmd.Context())
		if err != nil {
			return err
		}
		defer func() { _ = store.Close() }()

		matched, err := defense.ListClients(cmd.Context(), store, query)
		if err != nil {
			return err
		}

		result := trapResetResult{Matched: len(matched), DryRun: trapResetDryRun}
		if !trapResetDryRun {
			result.DeletedKeys, err = defense.ResetClients(cmd.Context(), store, query)
			if err != nil {
				return err
			}
		}

		return writeTrapResetResult(format, cmd.OutOrStdout(), result)
	},
}

type trapResetResult struct {
	Matched     int  `json:"matched" yaml:"matched"`
	DeletedKeys int  `json:"deleted_keys" yaml:"deleted_keys"`
	DryRun      bool `json:"dry_run" yaml:"dry_run"`
}

func writeTrapResetResult(format output.Format, w io.Writer, result trapResetResult) error {
	switch format {
	case output.FormatJSON, output.FormatYAML:
		rendered, err := renderValue(format, result)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(w, rendered)
		return err
	}

	if result.DryRun {
		_, err := fmt.Fprintf(w, "Would reset %d client(s)\n", result.Matched)
		return err
	}
	_, err := fmt.Fprintf(w, "Reset %d client(s), deleted %d key(s)\n", result.Matched, result.DeletedKeys)
	return err
}

var (
	trapStatsOutput string
	trapStatsOut    string
	trapStatsOutDir string
)

var trapStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show the /stats/trapped snapshot from the durable store",
	RunE: func(cmd *cobra.Command, args []string) error {
		format, err := output.ParseFormat(trapStatsOutput)
		if err != nil {
			return err
		}

		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		store, err := openStore(cmd.Context())
		if err != nil {
			return err
		}
		defer func() { _ = store.Close() }()

		guard := defense.NewGuard(store, defense.Limits{
			MaxLevels:            cfg.Maze.MaxLevels,
			MaxRequestsPerSecond: cfg.Maze.MaxRequestsPerSecond,
			RateWindow:           cfg.Maze.RateWindow,
			ActiveWindow:         cfg.Maze.ActiveWindow,
		}, nil)
		stats := guard.Snapshot(cmd.Context(), time.Now(), cfg.Defense.SpeedTrapThreshold)

		sink, err := openFormatSink(trapStatsOut, trapStatsOutDir, "trap.stats", format)
		if err != nil {
			return err
		}
		defer func() { _ = sink.close() }()

		rendered, err := output.NewFormatter(format).FormatStats(stats)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(sink.writer, rendered)
		return err
	},
}

// openFormatSink resolves --out / --out-dir into a writer. With --out-dir the
// file is named <base>.<ext>.
func openFormatSink(outPath, outDir, base string, format output.Format) (*outputSink, error) {
	outPath = strings.TrimSpace(outPath)
	outDir = strings.TrimSpace(outDir)
	if outPath != "" && outDir != "" {
		return nil, fmt.Errorf("--out and --out-dir are mutually exclusive")
	}
	if outDir != "" {
		dir, err := ensureOutDir(outDir)
		if err != nil {
			return nil, err
		}
		outPath = filepath.Join(dir, fmt.Sprintf("%s.%s", base, output.Extension(format)))
	}
	return openSink(outPath)
}

func init() {
	trapListCmd.Flags().StringVar(&trapListOutput, "output-format", string(output.FormatTable), "Output format: table|json|yaml|markdown")
	trapListCmd.Flags().StringVar(&trapListOut, "out", "", "Write output to a file (default stdout)")
	trapListCmd.Flags().StringVar(&trapListOutDir, "out-dir", "", "Write output to a directory")
	trapListCmd.Flags().StringVar(&trapListIP, "ip", "", "Show a single client (exact match)")
	trapListCmd.Flags().StringVar(&trapListPrefix, "prefix", "", "Show clients whose id starts with prefix")

	trapResetCmd.Flags().BoolVar(&trapResetAll, "all", false, "Reset every client")
	trapResetCmd.Flags().StringVar(&trapResetIP, "ip", "", "Reset a single client (exact match)")
	trapResetCmd.Flags().StringVar(&trapResetPrefix, "prefix", "", "Reset clients whose id starts with prefix")
	trapResetCmd.Flags().BoolVar(&trapResetYes, "yes", false, "Confirm destructive reset")
	trapResetCmd.Flags().BoolVar(&trapResetDryRun, "dry-run", false, "Show what would be reset")
	trapResetCmd.Flags().StringVar(&trapResetOutput, "output-format", string(output.FormatTable), "Output format: table|json|yaml")

	trapStatsCmd.Flags().StringVar(&trapStatsOutput, "output-format", string(output.FormatTable), "Output format: table|json|yaml|markdown")
	trapStatsCmd.Flags().StringVar(&trapStatsOut, "out", "", "Write output to a file (default stdout)")
	trapStatsCmd.Flags().StringVar(&trapStatsOutDir, "out-dir", "", "Write output to a directory")

	trapCmd.AddCommand(trapListCmd, trapResetCmd, trapStatsCmd)
	rootCmd.AddCommand(trapCmd)
}
