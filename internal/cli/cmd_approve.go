package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"dirigent/internal/gate"
	"dirigent/internal/journal"
)

// newApproveCmd creates the approve command
func newApproveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "approve <proposal-id>",
		Short: "Confirm the staged terminal action",
		Long: `Confirm the staged terminal action.

The session's last phase is marked done, the record is marked
complete, and the record moves to the archive. This is the only path
to a complete session; there is no auto-approve.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return resolveProposal(args[0], true)
		},
	}
}

// newRejectCmd creates the reject command
func newRejectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reject <proposal-id>",
		Short: "Reject the staged terminal action",
		Long: `Reject the staged terminal action.

The proposal is discarded and the terminal phase stays undone; a
later 'dirigent run' dispatches the validator again and stages a
fresh proposal.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return resolveProposal(args[0], false)
		},
	}
}

func resolveProposal(id string, confirm bool) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	store := openStore(cfg)
	g := gate.New(cfg.StateDir())

	sink, sinkErr := openJournal(cfg)
	if sinkErr == nil {
		defer sink.Close()
	}

	if !confirm {
		p, err := g.Reject(id)
		if err != nil {
			return err
		}
		if sinkErr == nil {
			_ = sink.Record("", p.PhaseIndex, p.Worker, journal.EventApprovalRejected, p.ID)
		}
		fmt.Printf("Rejected proposal %s. The terminal phase stays undone.\n", p.ID)
		return nil
	}

	p, archiveID, err := gate.NewResolver(g, store).Confirm(id)
	if err != nil {
		return err
	}
	if sinkErr == nil {
		_ = sink.Record("", p.PhaseIndex, p.Worker, journal.EventApprovalConfirmed, p.ID)
	}
	fmt.Printf("Approved proposal %s. Session complete, archived as session-%d.md.\n", p.ID, archiveID)
	return nil
}
