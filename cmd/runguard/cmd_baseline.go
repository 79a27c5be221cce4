package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/yairfalse/runguard/storage"
)

var (
	baselineLimit     int
	baselineFormat    string
	baselineEndpoints bool
)

var baselineCmd = &cobra.Command{
	Use:   "baseline",
	Short: "Show the recorded boot baselines",
	Long: `Show the drift baselines recorded by serve, newest first, with what
changed against the boot before each one.`,
	Example: `  runguard baseline                  # Last 10 boots
  runguard baseline --limit 0        # Everything
  runguard baseline --endpoints      # Include endpoint lists
  runguard baseline --format json    # Machine readable`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		store, err := storage.Open(cfg.Storage.Path)
		if err != nil {
			return err
		}
		defer func() { _ = store.Close() }()
		return showBaselines(cmd.Context(), cmd.OutOrStdout(), store)
	},
}

func init() {
	rootCmd.AddCommand(baselineCmd)

	baselineCmd.Flags().IntVarP(&baselineLimit, "limit", "n", 10, "Number of revisions, 0 for all")
	baselineCmd.Flags().StringVarP(&baselineFormat, "format", "f", "table", "Output format: table, json")
	baselineCmd.Flags().BoolVar(&baselineEndpoints, "endpoints", false, "List endpoints of each revision")
}

type baselineEntry struct {
	storage.Record
	Diff storage.Diff `json:"diff"`
}

func showBaselines(ctx context.Context, w io.Writer, store storage.BaselineReader) error {
	if ctx == nil {
		ctx = context.Background()
	}
	limit := baselineLimit
	if limit > 0 {
		// one extra record so the oldest shown still gets a diff
		limit++
	}
	records, err := store.List(ctx, limit)
	if err != nil {
		return err
	}

	var entries []baselineEntry
	for i, rec := range records {
		if baselineLimit > 0 && i == baselineLimit {
			break
		}
		var prev *storage.Record
		if i+1 < len(records) {
			prev = &records[i+1]
		}
		entries = append(entries, baselineEntry{Record: rec, Diff: storage.DiffRecords(prev, rec)})
	}

	switch baselineFormat {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if entries == nil {
			entries = []baselineEntry{}
		}
		return enc.Encode(entries)
	case "table":
		printBaselines(w, entries)
		return nil
	default:
		return fmt.Errorf("unknown format %q", baselineFormat)
	}
}

func printBaselines(w io.Writer, entries []baselineEntry) {
	if len(entries) == 0 {
		fmt.Fprintln(w, "No baselines recorded")
		return
	}
	fmt.Fprintf(w, "%-8s  %-20s  %-16s  %9s  %s\n", "REVISION", "CREATED", "CONFIG HASH", "ENDPOINTS", "CHANGES")
	for _, e := range entries {
		fmt.Fprintf(w, "%-8d  %-20s  %-16s  %9d  %s\n",
			e.Revision,
			e.CreatedAt.UTC().Format("2006-01-02T15:04:05Z"),
			shortHash(e.ConfigHash),
			len(e.Endpoints),
			summarize(e.Diff),
		)
		if baselineEndpoints {
			for _, ep := range e.Endpoints {
				fmt.Fprintf(w, "          %s %s (%s)\n", ep.Method, ep.Template, ep.RiskClass)
			}
		}
	}
}

func summarize(d storage.Diff) string {
	if d.Empty() {
		return "-"
	}
	s := fmt.Sprintf("+%d -%d", len(d.Added), len(d.Removed))
	if d.ConfigHashChanged {
		s += " config"
	}
	return s
}

func shortHash(hash string) string {
	if len(hash) > 16 {
		return hash[:16]
	}
	return hash
}
