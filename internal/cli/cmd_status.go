package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"dirigent/internal/gate"
	"dirigent/internal/lock"
	"dirigent/internal/session"
)

// newStatusCmd creates the status command
func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "status",
		Aliases: []string{"st"},
		Short:   "Show the active session at a glance",
		RunE: func(cmd *cobra.Command, args []string) error {
			return showStatus()
		},
	}
}

func showStatus() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	store := openStore(cfg)

	rec, warnings, err := store.Load()
	if err != nil {
		return err
	}
	if rec == nil {
		fmt.Println("No active session.")
		fmt.Println("\nGet started:")
		fmt.Println("  dirigent new \"Your request\"")
		return nil
	}

	if jsonOut {
		info, err := session.NewService(store).Status()
		if err != nil {
			return err
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(info)
	}

	fmt.Printf("Session: %s\n", rec.Title)
	fmt.Printf("State:   %s", rec.Status)
	if rec.FailReason != "" {
		fmt.Printf(" (%s)", rec.FailReason)
	}
	fmt.Println()
	if next := rec.FirstUndone(); next < len(rec.Phases) {
		fmt.Printf("Phase:   %d of %d (%s)\n", next+1, len(rec.Phases), rec.Phases[next].Worker)
	} else {
		fmt.Printf("Phase:   %d of %d (all done)\n", len(rec.Phases), len(rec.Phases))
	}
	fmt.Println()

	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.AppendHeader(table.Row{"#", "Done", "Worker", "Description"})
	for _, p := range rec.Phases {
		done := " "
		if p.Done {
			done = "x"
		}
		t.AppendRow(table.Row{p.Index + 1, done, p.Worker, p.Description})
	}
	if useStyling() {
		t.SetStyle(table.StyleLight)
	} else {
		t.SetStyle(table.StyleDefault)
	}
	t.Render()

	if pending, err := gate.New(cfg.StateDir()).Pending(); err == nil && pending != nil {
		fmt.Printf("\nAwaiting approval: %s (proposed %s)\n",
			pending.ID, pending.ProposedAt.Format(time.RFC3339))
		if pending.Description != "" {
			fmt.Printf("  %s\n", pending.Description)
		}
		fmt.Printf("  dirigent approve %s\n", pending.ID)
		fmt.Printf("  dirigent reject %s\n", pending.ID)
	}

	if lease, err := lock.Inspect(cfg.StateDir()); err == nil && lease != nil {
		if lease.Stale(time.Now().UTC()) {
			fmt.Printf("\nStale lease from %s (pid %d); a new run will replace it.\n", lease.Owner, lease.PID)
		} else {
			fmt.Printf("\nLoop running: %s (pid %d)\n", lease.Owner, lease.PID)
		}
	}

	for _, w := range warnings {
		fmt.Println("\nWarning:", w)
	}
	return nil
}
