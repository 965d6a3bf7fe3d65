package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"github.com/vietddude/sentinel/internal/infra/storage/memory"
	"github.com/vietddude/sentinel/internal/recovery"
)

var rollbackReason string

var rollbackCmd = &cobra.Command{
	Use:   "rollback <checkpoint-id>",
	Short: "Restore a checkpoint and print its state to stdout",
	Args:  cobra.ExactArgs(1),
	Run:   runRollback,
}

func init() {
	rollbackCmd.Flags().StringVar(&rollbackReason, "reason", "operator request", "reason recorded in the audit log")
	rootCmd.AddCommand(rollbackCmd)
}

func runRollback(cmd *cobra.Command, args []string) {
	cfg := loadConfig()

	ctx := context.Background()
	store, err := openStore(ctx, cfg)
	if err != nil {
		slog.Error("Failed to open checkpoint store", "error", err)
		os.Exit(1)
	}

	orch := recovery.NewOrchestrator(store, nil, memory.NewAuditRepo(), cfg.Recovery, slog.Default())

	var state json.RawMessage
	if err := orch.RollbackToCheckpoint(ctx, args[0], rollbackReason, &state); err != nil {
		slog.Error("Rollback failed", "checkpoint_id", args[0], "error", err)
		os.Exit(1)
	}

	fmt.Println(string(state))
}
