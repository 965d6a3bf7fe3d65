package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/vietddude/sentinel/internal/infra/storage/postgres"
)

var statusLimit int

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show recent recovery operations from the audit log",
	Run:   runStatus,
}

func init() {
	statusCmd.Flags().IntVar(&statusLimit, "limit", 20, "maximum operations to show")
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) {
	cfg := loadConfig()

	if cfg.Database.URL == "" {
		slog.Error("status requires a configured database")
		os.Exit(1)
	}

	ctx := context.Background()
	db, err := postgres.NewDB(ctx, cfg.Database)
	if err != nil {
		slog.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer func() {
		_ = db.Close()
	}()

	ops, err := postgres.NewAuditRepo(db).List(ctx, statusLimit)
	if err != nil {
		slog.Error("Failed to list recovery operations", "error", err)
		os.Exit(1)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tOPERATION\tTYPE\tSUCCESS\tSTEPS\tSTARTED")
	for _, op := range ops {
		fmt.Fprintf(w, "%s\t%s\t%s\t%t\t%d\t%s\n",
			op.ID, op.Operation, op.Type, op.Success, len(op.Steps),
			op.StartedAt.Format("2006-01-02 15:04:05"))
	}
	_ = w.Flush()
}
