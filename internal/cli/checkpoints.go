package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/vietddude/sentinel/internal/checkpoint"
	"github.com/vietddude/sentinel/internal/core/config"
	"github.com/vietddude/sentinel/internal/core/domain"
	redisclient "github.com/vietddude/sentinel/internal/infra/redis"
)

var checkpointType string

var checkpointsCmd = &cobra.Command{
	Use:   "checkpoints",
	Short: "List registered checkpoints",
	Run:   runCheckpoints,
}

func init() {
	checkpointsCmd.Flags().StringVar(&checkpointType, "type", "", "filter by checkpoint type")
	rootCmd.AddCommand(checkpointsCmd)
}

func openStore(ctx context.Context, cfg *config.AppConfig) (*checkpoint.Store, error) {
	var backend checkpoint.Backend
	switch cfg.Checkpoints.Backend {
	case "", "fs":
		fs, err := checkpoint.NewFSBackend(cfg.Checkpoints.Dir)
		if err != nil {
			return nil, err
		}
		backend = fs
	case "redis":
		client, err := redisclient.NewClient(cfg.Redis)
		if err != nil {
			return nil, err
		}
		backend = checkpoint.NewRedisBackend(client, "checkpoints")
	default:
		return nil, fmt.Errorf("unknown checkpoint backend %q", cfg.Checkpoints.Backend)
	}
	return checkpoint.NewStore(ctx, backend, cfg.Checkpoints.Config, slog.Default())
}

func runCheckpoints(cmd *cobra.Command, args []string) {
	cfg := loadConfig()

	ctx := context.Background()
	store, err := openStore(ctx, cfg)
	if err != nil {
		slog.Error("Failed to open checkpoint store", "error", err)
		os.Exit(1)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tTYPE\tCREATED\tSIZE\tDESCRIPTION")
	for _, cp := range store.List(domain.CheckpointType(checkpointType)) {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n",
			cp.ID, cp.Type, cp.CreatedAt.Format("2006-01-02 15:04:05"), cp.Size, cp.Description)
	}
	_ = w.Flush()
}
