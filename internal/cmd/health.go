package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	errwrap "github.com/krewdev/bluetrap/internal/errors"
	"github.com/krewdev/bluetrap/internal/observability"
	"github.com/krewdev/bluetrap/internal/server/handlers"
)

var (
	healthURL     string
	healthTimeout time.Duration
)

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Query a running server's /health endpoint",
	Long: `Query the aggregate /health endpoint of a running server and exit
non-zero when it is unhealthy or unreachable. A degraded server (state
store in fallback mode) is reported but exits 0.`,
	Run: func(cmd *cobra.Command, args []string) {
		ctx, cancel := context.WithTimeout(cmd.Context(), healthTimeout)
		defer cancel()

		resp, err := fetchHealth(ctx, healthURL)
		if err != nil {
			ExitWithCode(observability.CLILogger, foundry.ExitExternalServiceUnavailable,
				"Health endpoint unreachable", errwrap.WrapExternalService(ctx, err, "health endpoint unreachable"))
			return
		}

		fields := []zap.Field{
			zap.String("status", resp.Status),
			zap.String("version", resp.Version),
			zap.String("storage", string(resp.Storage)),
		}
		for name, result := range resp.Checks {
			fields = append(fields, zap.String("check."+name, result))
		}

		switch resp.Status {
		case handlers.StatusHealthy:
			observability.CLILogger.Info("✅ Server healthy", fields...)
		case handlers.StatusDegraded:
			observability.CLILogger.Warn("⚠️  Server degraded", fields...)
		default:
			observability.CLILogger.Error("❌ Server unhealthy", fields...)
			ExitWithCode(observability.CLILogger, foundry.ExitFailure, "Server unhealthy",
				errwrap.NewExternalServiceError("aggregate health check failed"))
		}
	},
}

// fetchHealth decodes /health. An unhealthy server answers 503 with an error
// envelope; that is reported as an unhealthy response, not an error.
func fetchHealth(ctx context.Context, baseURL string) (*handlers.HealthResponse, error) {
	url := strings.TrimRight(strings.TrimSpace(baseURL), "/") + "/health"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, err
	}

	switch resp.StatusCode {
	case http.StatusOK:
		var health handlers.HealthResponse
		if err := json.Unmarshal(body, &health); err != nil {
			return nil, fmt.Errorf("decode health response: %w", err)
		}
		return &health, nil
	case http.StatusServiceUnavailable:
		return &handlers.HealthResponse{Status: handlers.StatusUnhealthy}, nil
	default:
		return nil, fmt.Errorf("unexpected status %d from %s", resp.StatusCode, url)
	}
}

func init() {
	healthCmd.Flags().StringVar(&healthURL, "url", "http://127.0.0.1:8000", "Base URL of the running server")
	healthCmd.Flags().DurationVar(&healthTimeout, "timeout", 5*time.Second, "Request timeout")
	rootCmd.AddCommand(healthCmd)
}
