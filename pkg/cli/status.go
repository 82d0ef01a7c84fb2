package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"maps"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/getmockd/mockd-chaos/pkg/chaos"
)

var statusURL string

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show live pipeline statistics from a running server",
	Example: `  mockd-chaos status
  mockd-chaos status --url http://localhost:8080 --json`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Second)
		defer cancel()

		stats, raw, err := fetchStatus(ctx, http.DefaultClient, statusURL)
		if err != nil {
			return fmt.Errorf("failed to get chaos status: %w", err)
		}
		out := cmd.OutOrStdout()
		if jsonOutput {
			_, err = out.Write(raw)
			return err
		}
		printStatus(out, stats)
		return nil
	},
}

func init() {
	statusCmd.Flags().StringVar(&statusURL, "url", "http://localhost:4280", "Base URL of the running server")
	rootCmd.AddCommand(statusCmd)
}

func fetchStatus(ctx context.Context, client *http.Client, baseURL string) (chaos.PipelineStats, []byte, error) {
	var stats chaos.PipelineStats
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(baseURL, "/")+PathChaosStatus, nil)
	if err != nil {
		return stats, nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return stats, nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return stats, nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return stats, nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	if err := json.Unmarshal(raw, &stats); err != nil {
		return stats, nil, fmt.Errorf("invalid status response: %w", err)
	}
	return stats, raw, nil
}

func printStatus(w io.Writer, s chaos.PipelineStats) {
	if !s.Enabled {
		fmt.Fprintln(w, "Chaos pipeline: disabled")
		return
	}
	fmt.Fprintln(w, "Chaos pipeline: enabled")
	if cb := s.CircuitBreaker; cb != nil {
		fmt.Fprintf(w, "  Circuit breaker: %s (failures %d, trips %d, rejected %d)\n",
			cb.State, cb.ConsecutiveFailures, cb.TotalTrips, cb.RejectedRequests)
	}
	if s.Bulkhead.MaxConcurrency > 0 {
		fmt.Fprintf(w, "  Bulkhead: %d/%d in use (rejected %d)\n",
			s.Bulkhead.Occupancy, s.Bulkhead.MaxConcurrency, s.Bulkhead.Rejected)
	}
	if s.TrafficShaper.MaxConnections > 0 {
		fmt.Fprintf(w, "  Connections: %d/%d\n", s.TrafficShaper.ActiveConnections, s.TrafficShaper.MaxConnections)
	}
	fmt.Fprintf(w, "  Rate limit keys: %d\n", s.RateLimitKeys)
	for _, key := range slices.Sorted(maps.Keys(s.RateLimitBuckets)) {
		b := s.RateLimitBuckets[key]
		fmt.Fprintf(w, "    %s: %.1f/%.0f tokens\n", key, b.Available, b.Max)
	}
}
