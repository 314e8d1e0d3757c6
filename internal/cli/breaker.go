package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/vietddude/resilience/internal/core/domain"
	redisclient "github.com/vietddude/resilience/internal/infra/redis"
)

var adminAddr string

var breakerCmd = &cobra.Command{
	Use:   "breaker",
	Short: "Inspect and control circuit breakers of a running service",
}

var breakerListCmd = &cobra.Command{
	Use:   "list",
	Short: "List breaker states",
	Run: func(cmd *cobra.Command, args []string) {
		states, err := fetchBreakers(cmd.Context(), adminAddr)
		if err != nil {
			slog.Error("Failed to list breakers", "error", err)
			os.Exit(1)
		}
		printBreakers(os.Stdout, states)
	},
}

var breakerResetCmd = &cobra.Command{
	Use:   "reset <dependency>",
	Short: "Force a breaker back to CLOSED",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		if err := resetBreaker(cmd.Context(), adminAddr, args[0]); err != nil {
			slog.Error("Failed to reset breaker", "dependency", args[0], "error", err)
			os.Exit(1)
		}
		slog.Info("Breaker reset", "dependency", args[0])
	},
}

var breakerWatchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Stream breaker transitions published to Redis",
	Run:   runWatch,
}

func init() {
	breakerCmd.PersistentFlags().StringVar(&adminAddr, "addr", "http://localhost:8080", "admin API address")
	breakerCmd.AddCommand(breakerListCmd, breakerResetCmd, breakerWatchCmd)
	rootCmd.AddCommand(breakerCmd)
}

var httpClient = &http.Client{Timeout: 10 * time.Second}

func fetchBreakers(ctx context.Context, addr string) (map[string]domain.BreakerSnapshot, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(addr, "/")+"/breakers", nil)
	if err != nil {
		return nil, err
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("admin api returned %s", resp.Status)
	}

	var states map[string]domain.BreakerSnapshot
	if err := json.NewDecoder(resp.Body).Decode(&states); err != nil {
		return nil, fmt.Errorf("decode breakers: %w", err)
	}
	return states, nil
}

func resetBreaker(ctx context.Context, addr, dependency string) error {
	url := fmt.Sprintf("%s/breakers/%s/reset", strings.TrimRight(addr, "/"), dependency)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, nil)
	if err != nil {
		return err
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	switch resp.StatusCode {
	case http.StatusOK, http.StatusNoContent:
		return nil
	case http.StatusNotFound:
		return fmt.Errorf("unknown dependency %q", dependency)
	default:
		return fmt.Errorf("admin api returned %s", resp.Status)
	}
}

func printBreakers(out io.Writer, states map[string]domain.BreakerSnapshot) {
	names := make([]string, 0, len(states))
	for name := range states {
		names = append(names, name)
	}
	sort.Strings(names)

	w := tabwriter.NewWriter(out, 0, 0, 3, ' ', tabwriter.Debug)
	_, _ = fmt.Fprintln(w, "DEPENDENCY\tSTATE\tFAILURES\tTHRESHOLD\tNEXT ATTEMPT")
	for _, name := range names {
		s := states[name]
		next := "-"
		if !s.NextAttemptTime.IsZero() {
			next = s.NextAttemptTime.Format(time.RFC3339)
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%s\n", name, s.State, s.FailureCount, s.Threshold, next)
	}
	_ = w.Flush()
}

func runWatch(cmd *cobra.Command, args []string) {
	cfg := loadConfig()
	if cfg.Redis.URL == "" {
		slog.Error("watch requires redis.url")
		os.Exit(1)
	}

	rc, err := redisclient.NewClient(cfg.Redis)
	if err != nil {
		slog.Error("Failed to connect to Redis", "error", err)
		os.Exit(1)
	}
	defer func() {
		_ = rc.Close()
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	slog.Info("Watching breaker transitions", "channel", rc.Channel())
	err = redisclient.NewTransitionPublisher(rc).Subscribe(ctx, func(t domain.BreakerTransition) {
		fmt.Printf("%s  %-20s %s -> %s\n", t.At.Format(time.RFC3339), t.Dependency, t.From, t.To)
	})
	if err != nil && ctx.Err() == nil {
		slog.Error("Subscription ended", "error", err)
		os.Exit(1)
	}
}
