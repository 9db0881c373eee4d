package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	derrors "dirigent/internal/errors"
	"dirigent/internal/journal"
	"dirigent/internal/plan"
	"dirigent/internal/session"
)

// newNewCmd creates the new command
func newNewCmd() *cobra.Command {
	var title string
	var phaseSpecs []string

	cmd := &cobra.Command{
		Use:   "new \"request\"",
		Short: "Plan a new session from a request",
		Long: `Plan a new session from a request.

The request is routed against the capability tags in the agent
registry; each matched worker gets one phase and a validator phase is
always appended last. Pass --phase worker:description to lay out the
phases by hand instead.

A prior session that already finished (complete or failed) is archived
automatically before planning. A session that is still pending or in
progress refuses a new one.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runNew(strings.TrimSpace(args[0]), title, phaseSpecs)
		},
	}

	cmd.Flags().StringVarP(&title, "title", "t", "", "session title (default: derived from the request)")
	cmd.Flags().StringArrayVarP(&phaseSpecs, "phase", "p", nil, "explicit phase as worker:description (repeatable)")
	return cmd
}

func runNew(request, title string, phaseSpecs []string) error {
	if request == "" {
		return fmt.Errorf("request must not be empty")
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	reg, err := loadRegistry(cfg)
	if err != nil {
		return err
	}
	store := openStore(cfg)

	existing, _, err := store.Load()
	if err != nil {
		return err
	}
	if existing != nil {
		// A finished record is only still active because its archive never
		// ran; finish it rather than refusing.
		switch existing.Status {
		case session.StatusComplete, session.StatusFailed:
			id, err := store.Archive(existing)
			if err != nil {
				return err
			}
			fmt.Printf("Archived prior session %q as archive %d (%s)\n", existing.Title, id, existing.Status)
		default:
			return &derrors.Error{
				Code: derrors.CodeAlreadyRunning,
				What: fmt.Sprintf("a session is already active: %s", existing.Title),
				Why:  fmt.Sprintf("Its state is %s", existing.Status),
				Fix:  "Finish it with 'dirigent run', or archive the record by hand",
			}
		}
	}

	var phases []session.Phase
	if len(phaseSpecs) > 0 {
		phases, err = plan.FromSpecs(phaseSpecs, reg)
	} else {
		phases, err = plan.FromRequest(request, reg)
	}
	if err != nil {
		return err
	}

	if title == "" {
		title = deriveTitle(request)
	}

	rec := session.New(title, request, phases)
	if err := store.Save(rec); err != nil {
		return err
	}

	sink, err := openJournal(cfg)
	if err == nil {
		defer sink.Close()
		_ = sink.Record(rec.Title, -1, "", journal.EventSessionPlanned,
			fmt.Sprintf("%d phases", len(phases)))
	}

	fmt.Printf("Planned session: %s\n\n", rec.Title)
	for _, p := range phases {
		fmt.Printf("  %d. %s - %s\n", p.Index+1, p.Worker, p.Description)
	}
	fmt.Println("\nRun it with: dirigent run")
	return nil
}

// deriveTitle truncates the request into a one-line title.
func deriveTitle(request string) string {
	line := request
	if i := strings.IndexByte(line, '\n'); i >= 0 {
		line = line[:i]
	}
	line = strings.TrimSpace(line)
	const max = 60
	if len(line) > max {
		line = strings.TrimSpace(line[:max]) + "..."
	}
	return line
}
