package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/delegate-run/delegate/internal/db"
	"github.com/delegate-run/delegate/internal/log"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending schema migrations and exit",
	Long:  "Opens the database (applying any pending migrations, with a backup taken first) and exits. Useful before starting the daemon, or after an upgrade that ships new migrations.",
	RunE:  runMigrate,
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}

func runMigrate(cmd *cobra.Command, args []string) error {
	h := home()

	target, err := db.CurrentVersion()
	if err != nil {
		return fmt.Errorf("reading embedded migrations: %w", err)
	}

	d, err := db.Open(context.Background(), h)
	if err != nil {
		return fmt.Errorf("applying migrations: %w", err)
	}
	defer d.Close()

	log.Info(log.CatDB, "migrations applied", "home", h, "version", target)
	fmt.Printf("database at %s is now at schema version %d\n", db.Path(h), target)
	return nil
}
