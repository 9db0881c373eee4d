package cli

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	derrors "dirigent/internal/errors"
	"dirigent/internal/gate"
	"dirigent/internal/runner"
	"dirigent/internal/worker"
)

// newRunCmd creates the run command
func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Execute the active session loop",
		Long: `Execute the active session loop.

Each undone phase is dispatched to its worker in order. The loop
stops on terminal failure, when the terminal phase awaits approval,
or when interrupted; rerunning resumes at the first undone phase.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLoop()
		},
	}
}

func runLoop() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	reg, err := loadRegistry(cfg)
	if err != nil {
		return err
	}
	if cfg.Worker.Command == "" {
		return fmt.Errorf("no worker command configured; set worker.command in .dirigent/config.yaml")
	}

	store := openStore(cfg)
	sink, err := openJournal(cfg)
	if err != nil {
		return err
	}
	defer sink.Close()

	exec := worker.NewScriptExecutor(cfg.Worker.Command, cfg.Worker.Args, cfg.Worker.Timeout)
	exec.Dir = cfg.Root

	r := runner.New(cfg, store, reg, gate.New(cfg.StateDir()), exec, newLogger(), sink)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	err = r.Run(ctx)
	switch {
	case err == nil:
		fmt.Println("Session complete and archived.")
		return nil
	case errors.Is(err, context.Canceled):
		fmt.Println("Interrupted. Rerun 'dirigent run' to resume.")
		return nil
	case derrors.HasCode(err, derrors.CodeApprovalPending):
		printError(err)
		return nil
	default:
		return err
	}
}
