package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/vietddude/resilience/internal/core/domain"
	"github.com/vietddude/resilience/internal/infra/storage/postgres"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the latest error snapshot of every dependency",
	Run:   runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) {
	cfg := loadConfig()
	if cfg.Database.URL == "" {
		slog.Error("status requires database.url; snapshots are not persisted otherwise")
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

	snaps, err := postgres.NewSnapshotRepo(db).Latest(ctx)
	if err != nil {
		slog.Error("Failed to query snapshots", "error", err)
		os.Exit(1)
	}
	printSnapshots(os.Stdout, snaps)
}

func printSnapshots(out io.Writer, snaps []domain.StatsSnapshot) {
	w := tabwriter.NewWriter(out, 0, 0, 3, ' ', tabwriter.Debug)
	_, _ = fmt.Fprintln(w, "DEPENDENCY\tSTATE\tERRORS\tWINDOW\tCAPTURED")
	for _, s := range snaps {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\n",
			s.Dependency, s.State, s.Total,
			time.Duration(s.WindowMs)*time.Millisecond,
			s.CapturedAt.Format(time.RFC3339))
	}
	_ = w.Flush()
}
