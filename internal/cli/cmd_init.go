package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"dirigent/internal/config"
	"dirigent/internal/registry"
	"dirigent/internal/util"
)

// configTemplate is the commented default config written by init.
const configTemplate = `# dirigent configuration
worker:
  # Executable run for every delegation. It receives the assignment as
  # JSON on stdin, gets the worker name as its last argument, and must
  # print an outcome JSON object ({"status","summary","files_touched",...}).
  command: ""
  args: []
  timeout: 10m
  retry_wait: 5s

approval:
  # How long 'dirigent run' waits for a staged proposal to be confirmed
  # before exiting with the session still in progress.
  wait: 30s

# 0 means unlimited loop iterations per run.
max_iterations: 0

lease_ttl: 60s
journal: true
`

// newInitCmd creates the init command
func newInitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Initialize dirigent in the current project",
		Long: `Initialize dirigent in the current project.

Creates the .dirigent/ state directory with a default config, a seed
agent registry, and an empty session directory. Existing files are
never overwritten.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, err := os.Getwd()
			if err != nil {
				return fmt.Errorf("get working directory: %w", err)
			}
			return runInit(dir)
		},
	}
}

func runInit(dir string) error {
	cfg := config.Default(dir)

	for _, sub := range []string{cfg.StateDir(), cfg.ArchivePath()} {
		if err := os.MkdirAll(sub, 0o755); err != nil {
			return fmt.Errorf("create %s: %w", sub, err)
		}
	}

	cfgPath := filepath.Join(dir, config.Dir, config.ConfigFileName)
	if _, err := os.Stat(cfgPath); os.IsNotExist(err) {
		if err := util.AtomicWriteFile(cfgPath, []byte(configTemplate), 0o644); err != nil {
			return err
		}
		fmt.Println("Created", cfgPath)
	} else {
		fmt.Println("Kept existing", cfgPath)
	}

	regPath := cfg.RegistryPath()
	if _, err := os.Stat(regPath); os.IsNotExist(err) {
		if err := util.AtomicWriteFile(regPath, []byte(registry.SeedTemplate), 0o644); err != nil {
			return err
		}
		fmt.Println("Created", regPath)
	} else {
		// Validate whatever registry is already there.
		if _, err := registry.Load(regPath); err != nil {
			fmt.Println("Kept existing", regPath, "(warning: it does not validate)")
		} else {
			fmt.Println("Kept existing", regPath)
		}
	}

	fmt.Println("\nNext steps:")
	fmt.Println("  1. Edit", regPath, "to describe your workers")
	fmt.Println("  2. dirigent new \"your request\"")
	fmt.Println("  3. dirigent run")
	return nil
}
