package app

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/classboard/observesync/internal/app"
	"github.com/classboard/observesync/internal/config"
	"github.com/classboard/observesync/internal/queue"
	"github.com/classboard/observesync/internal/status"
	"github.com/classboard/observesync/internal/telemetry"
	"github.com/classboard/observesync/internal/versions"
)

var agentCmd = &cobra.Command{
	Use:   "agent",
	Short: "Run the sync agent",
	Long: `Run the sync agent that watches the durable write queue and flushes
it to the reconciliation server whenever connectivity allows.

The agent requires a configuration file (--config) with an agent:
section specifying the data directory, server URL and user ID.`,
	RunE: runAgent,
}

var agentStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Print queue depth and last successful sync",
	RunE:  runAgentStatus,
}

func init() {
	agentCmd.PersistentFlags().String("config", "", "Path to configuration file (YAML format, required)")
	if err := agentCmd.MarkPersistentFlagRequired("config"); err != nil {
		slog.Error("Failed to mark config flag as required", "error", err)
		os.Exit(1)
	}

	agentStatusCmd.Flags().Bool("check-server", false, "Also query the server version and flag an available update")
	agentCmd.AddCommand(agentStatusCmd)
}

func loadAgentConfig(cmd *cobra.Command) (*config.Config, error) {
	configPath, err := cmd.Flags().GetString("config")
	if err != nil {
		return nil, err
	}

	cfg, err := config.LoadConfig(config.WithConfigPath(configPath))
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	if cfg.Agent == nil {
		return nil, fmt.Errorf("configuration has no agent section")
	}
	return cfg, nil
}

func runAgent(cmd *cobra.Command, _ []string) error {
	cfg, err := loadAgentConfig(cmd)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tel, err := telemetry.New(ctx, telemetry.WithTelemetryConfig(cfg.Telemetry))
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tel.Shutdown(shutdownCtx); err != nil {
			slog.Error("Failed to shutdown telemetry", "error", err)
		}
	}()

	agent, err := app.NewAgentApp(cfg.Agent, app.WithAgentMeterProvider(tel.MeterProvider()))
	if err != nil {
		return fmt.Errorf("failed to build agent: %w", err)
	}

	if err := agent.Run(ctx); err != nil && ctx.Err() == nil {
		return err
	}

	slog.Info("Agent shutdown complete")
	return nil
}

// agentStatus is the stdout shape of `agent status`.
type agentStatus struct {
	PendingItems    int        `json:"pendingItems"`
	LastSync        *time.Time `json:"lastSync,omitempty"`
	AgentVersion    string     `json:"agentVersion"`
	ServerVersion   string     `json:"serverVersion,omitempty"`
	UpdateAvailable bool       `json:"updateAvailable,omitempty"`
}

func runAgentStatus(cmd *cobra.Command, _ []string) error {
	cfg, err := loadAgentConfig(cmd)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
	defer cancel()

	store := queue.Open(filepath.Join(cfg.Agent.DataDir, app.QueueFileName))
	defer func() {
		if err := store.Close(); err != nil {
			slog.Error("Failed to close queue store", "error", err)
		}
	}()

	pending, err := store.Count(ctx)
	if err != nil {
		return fmt.Errorf("failed to count pending items: %w", err)
	}

	lastSync, err := status.NewLastSyncStore(cfg.Agent.DataDir).Load()
	if err != nil {
		return fmt.Errorf("failed to read last-sync marker: %w", err)
	}

	out := agentStatus{
		PendingItems: pending,
		LastSync:     lastSync,
		AgentVersion: versions.GetVersionInfo().Version,
	}

	checkServer, err := cmd.Flags().GetBool("check-server")
	if err != nil {
		return err
	}
	if checkServer {
		serverVersion, err := fetchServerVersion(ctx, cfg.Agent.ServerURL)
		if err != nil {
			slog.Warn("Could not reach server for version check", "error", err)
		} else {
			out.ServerVersion = serverVersion
			out.UpdateAvailable = versions.IsNewerVersion(serverVersion, out.AgentVersion)
		}
	}

	encoded, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode status: %w", err)
	}
	fmt.Println(string(encoded))

	if out.UpdateAvailable {
		slog.Info("A newer server version is available",
			"agent_version", out.AgentVersion,
			"server_version", out.ServerVersion)
	}
	return nil
}

// fetchServerVersion queries the server's /version endpoint.
func fetchServerVersion(ctx context.Context, serverURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, serverURL+"/version", nil)
	if err != nil {
		return "", err
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("unexpected status %d from version endpoint", resp.StatusCode)
	}

	var body struct {
		Version string `json:"version"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("failed to decode version response: %w", err)
	}
	return body.Version, nil
}
