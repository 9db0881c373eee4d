package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"dirigent/internal/session"
)

// newSessionsCmd creates the sessions command
func newSessionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions [id]",
		Short: "List archived sessions, or show one by ID",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				id, err := strconv.Atoi(args[0])
				if err != nil {
					return fmt.Errorf("invalid archive id %q", args[0])
				}
				return showArchivedSession(id)
			}
			return listSessions()
		},
		Args: cobra.MaximumNArgs(1),
	}
	return cmd
}

func listSessions() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	archives, err := openStore(cfg).ListArchives()
	if err != nil {
		return err
	}
	if len(archives) == 0 {
		fmt.Println("No archived sessions.")
		return nil
	}

	if jsonOut {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(archives)
	}

	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.AppendHeader(table.Row{"ID", "State", "Phases", "Title"})
	for _, a := range archives {
		t.AppendRow(table.Row{a.ID, a.Status, a.Phases, a.Title})
	}
	if useStyling() {
		t.SetStyle(table.StyleLight)
	}
	t.Render()
	return nil
}

func showArchivedSession(id int) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	rec, err := openStore(cfg).LoadArchive(id)
	if err != nil {
		return err
	}
	// The archive is already the canonical rendering; print it verbatim.
	os.Stdout.Write(session.Format(rec))
	return nil
}
