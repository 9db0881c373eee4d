package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"dirigent/internal/journal"
)

// newLogCmd creates the log command
func newLogCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "log",
		Short: "Show recent events from the journal",
		RunE: func(cmd *cobra.Command, args []string) error {
			return showLog(limit)
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of events to show")
	return cmd
}

func showLog(limit int) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if !cfg.Journal {
		fmt.Println("Journaling is disabled (journal: false in config).")
		return nil
	}

	j, err := journal.Open(cfg.JournalPath())
	if err != nil {
		return err
	}
	defer j.Close()

	events, err := j.Tail(limit)
	if err != nil {
		return err
	}
	if len(events) == 0 {
		fmt.Println("No events yet.")
		return nil
	}

	if jsonOut {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(events)
	}

	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.AppendHeader(table.Row{"Time", "Event", "Phase", "Worker", "Detail"})
	for _, e := range events {
		phase := ""
		if e.PhaseIndex >= 0 {
			phase = fmt.Sprintf("%d", e.PhaseIndex+1)
		}
		t.AppendRow(table.Row{
			e.CreatedAt.Local().Format(time.TimeOnly),
			e.Type, phase, e.Worker, e.Detail,
		})
	}
	if useStyling() {
		t.SetStyle(table.StyleLight)
	}
	t.Render()
	return nil
}
