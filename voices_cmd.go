package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"

	"github.com/porua/porua/internal/backend"
)

var (
	voicesJSON bool

	voicesCmd = &cobra.Command{
		Use:   "voices",
		Short: "List the voices the server offers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, err := backend.NewClient(cfg.BackendConfig())
			if err != nil {
				return err
			}

			voices, err := client.Voices(cmd.Context())
			if err != nil {
				return describeError(err)
			}

			if voicesJSON || !isTerminal(cmd.OutOrStdout()) {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(voices)
			}

			fmt.Fprintln(cmd.OutOrStdout(), renderVoices(voices, cfg.Voice))
			return nil
		},
	}
)

func init() {
	voicesCmd.Flags().BoolVar(&voicesJSON, "json", false, "print JSON")
}

func renderVoices(voices []backend.Voice, current string) string {
	rows := make([][]string, 0, len(voices))
	for _, v := range voices {
		id := v.ID
		if v.ID == current {
			id = keyword(id + " *")
		}
		rows = append(rows, []string{id, v.Name, v.Gender, strings.TrimSpace(v.Language)})
	}

	return table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Faint(true)).
		StyleFunc(func(row, _ int) lipgloss.Style {
			if row == table.HeaderRow {
				return header
			}
			return lipgloss.NewStyle()
		}).
		Headers("ID", "NAME", "GENDER", "LANGUAGE").
		Rows(rows...).
		String()
}
