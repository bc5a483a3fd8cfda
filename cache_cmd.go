package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/porua/porua/internal/cache"
	"github.com/porua/porua/internal/settings"
)

var (
	statsFormat string

	cacheCmd = &cobra.Command{
		Use:   "cache",
		Short: "Inspect and manage the audio cache",
		Args:  cobra.NoArgs,
	}

	cacheStatsCmd = &cobra.Command{
		Use:     "stats",
		Short:   "Show cache usage and hit rate",
		Example: paragraph("porua cache stats\nporua cache stats --format yaml"),
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := openLocalCache()
			if err != nil {
				return err
			}
			defer c.Close() //nolint:errcheck

			format := statsFormat
			if format == "" {
				format = "table"
				if !isTerminal(cmd.OutOrStdout()) {
					format = "json"
				}
			}
			return writeStats(cmd.OutOrStdout(), c.Stats(), format)
		},
	}

	cacheClearCmd = &cobra.Command{
		Use:   "clear",
		Short: "Remove every cached entry",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := openLocalCache()
			if err != nil {
				return err
			}
			defer c.Close() //nolint:errcheck

			before := c.Stats()
			if err := c.Clear(); err != nil {
				return fmt.Errorf("unable to clear cache: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed %d entries (%s)\n",
				before.EntryCount, humanize.IBytes(uint64(before.TotalSizeBytes)))
			return nil
		},
	}

	cacheConfigureCmd = &cobra.Command{
		Use:     "configure MAX_SIZE",
		Short:   "Change the cache budget, evicting entries beyond it",
		Example: paragraph("porua cache configure 250MiB"),
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			size, err := settings.ParseSize(args[0])
			if err != nil {
				return err
			}

			c, err := openLocalCache()
			if err != nil {
				return err
			}
			defer c.Close() //nolint:errcheck

			before := c.Stats().Evictions
			if err := c.Configure(cache.Options{MaxSizeBytes: size}); err != nil {
				return err
			}

			viper.Set(settings.KeyCacheMaxSize, humanize.IBytes(uint64(size)))
			if err := viper.WriteConfig(); err != nil {
				return fmt.Errorf("budget applied but not saved: %w", err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Cache budget set to %s (%d entries evicted)\n",
				keyword(humanize.IBytes(uint64(size))), c.Stats().Evictions-before)
			return nil
		},
	}
)

func init() {
	cacheStatsCmd.Flags().StringVar(&statsFormat, "format", "", "output format: table, json or yaml")
	cacheCmd.AddCommand(cacheStatsCmd, cacheClearCmd, cacheConfigureCmd)
}

func openLocalCache() (*cache.AudioCache, error) {
	if !cfg.Cache.Enabled {
		return nil, fmt.Errorf("the cache is disabled (cache.enabled: false)")
	}
	return openCache()
}

func writeStats(w io.Writer, s cache.Stats, format string) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(s)
	case "yaml":
		enc := yaml.NewEncoder(w)
		defer enc.Close() //nolint:errcheck
		return enc.Encode(s)
	case "table":
		_, err := fmt.Fprintln(w, renderStats(s))
		return err
	default:
		return fmt.Errorf("unknown format %q: use table, json or yaml", format)
	}
}

func renderStats(s cache.Stats) string {
	rows := [][]string{
		{"Size", fmt.Sprintf("%s of %s", humanize.IBytes(uint64(s.TotalSizeBytes)), humanize.IBytes(uint64(s.MaxSizeBytes)))},
		{"Usage", strconv.FormatFloat(s.UsagePercent, 'f', 1, 64) + "%"},
		{"Entries", humanize.Comma(int64(s.EntryCount))},
		{"Hits", humanize.Comma(s.Hits)},
		{"Misses", humanize.Comma(s.Misses)},
		{"Hit rate", strconv.FormatFloat(s.HitRate*100, 'f', 1, 64) + "%"},
		{"Evictions", humanize.Comma(s.Evictions)},
	}

	return table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(lipgloss.NewStyle().Faint(true)).
		StyleFunc(func(_, col int) lipgloss.Style {
			if col == 0 {
				return header
			}
			return lipgloss.NewStyle()
		}).
		Rows(rows...).
		String()
}
