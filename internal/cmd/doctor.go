package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/fulmenhq/gofulmen/crucible"
	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/krewdev/bluetrap/internal/config"
	errwrap "github.com/krewdev/bluetrap/internal/errors"
	"github.com/krewdev/bluetrap/internal/observability"
	"github.com/krewdev/bluetrap/internal/state"
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Run diagnostic checks",
	Long:  "Run diagnostic checks on the installation and configuration and suggest fixes for common issues.",
	Run: func(cmd *cobra.Command, args []string) {
		log := observability.CLILogger
		log.Info("=== " + config.AppName + " doctor ===")
		log.Info("")

		allChecks := true
		totalChecks := 6

		goVersion := runtime.Version()
		if goVersion >= "go1.23" {
			log.Info(fmt.Sprintf("[1/%d] Checking Go version... ✅ %s", totalChecks, goVersion), zap.String("go_version", goVersion))
		} else {
			log.Warn(fmt.Sprintf("[1/%d] Checking Go version... ⚠️  %s (recommended: go1.23+)", totalChecks, goVersion), zap.String("go_version", goVersion))
			allChecks = false
		}

		version := crucible.GetVersion()
		if version.Crucible == "" || version.Gofulmen == "" {
			log.Error(fmt.Sprintf("[2/%d] Checking Gofulmen/Crucible... ❌ not available", totalChecks))
			ExitWithCode(log, foundry.ExitExternalServiceUnavailable, "Cannot access Crucible", errwrap.NewExternalServiceError("Crucible unavailable"))
		}
		log.Info(fmt.Sprintf("[2/%d] Checking Gofulmen/Crucible... ✅ v%s / v%s", totalChecks, version.Gofulmen, version.Crucible))

		configDir := config.DefaultConfigDir()
		if configDir == "" {
			log.Warn(fmt.Sprintf("[3/%d] Checking config directory... ⚠️  not resolved", totalChecks))
			allChecks = false
		} else {
			log.Info(fmt.Sprintf("[3/%d] Checking config directory... ✅ %s (%s)", totalChecks, configDir, existenceStatus(fileExists(configDir))),
				zap.String("config_dir", configDir))
		}

		cfg, cfgErr := loadConfig()
		if cfgErr != nil {
			log.Error(fmt.Sprintf("[4/%d] Checking configuration... ❌ invalid", totalChecks), zap.Error(cfgErr))
			log.Info("")
			ExitWithCode(log, foundry.ExitConfigInvalid, "Configuration invalid", errwrap.NewConfigInvalidError(cfgErr.Error()))
			return
		}
		if used := viper.ConfigFileUsed(); used != "" {
			log.Info(fmt.Sprintf("[4/%d] Checking configuration... ✅ %s", totalChecks, used))
		} else {
			log.Info(fmt.Sprintf("[4/%d] Checking configuration... ✅ defaults + environment", totalChecks))
		}

		if msg, ok := checkStore(cmd.Context(), cfg.Store); ok {
			log.Info(fmt.Sprintf("[5/%d] Checking state store... ✅ %s", totalChecks, msg), zap.String("driver", cfg.Store.Driver))
		} else {
			log.Warn(fmt.Sprintf("[5/%d] Checking state store... ⚠️  %s", totalChecks, msg), zap.String("driver", cfg.Store.Driver))
			allChecks = false
		}

		if cfg.Defense.AgentKey == config.DefaultAgentKey {
			log.Warn(fmt.Sprintf("[6/%d] Checking agent key... ⚠️  development default in use (run '%s key generate')", totalChecks, config.AppName))
			allChecks = false
		} else {
			log.Info(fmt.Sprintf("[6/%d] Checking agent key... ✅ configured", totalChecks))
		}

		log.Info("")
		if allChecks {
			log.Info("✅ All checks passed!")
		} else {
			log.Warn("⚠️  Some checks need attention. Review the output above for details.")
		}
		log.Info("")
		log.Info("=== End Diagnostics ===")
	},
}

// checkStore pings the configured durable backend directly, bypassing the
// fallback tier, and describes the result.
func checkStore(ctx context.Context, cfg config.StoreConfig) (string, bool) {
	backend, err := state.OpenBackend(ctx, cfg)
	if err != nil {
		return fmt.Sprintf("cannot open: %v", err), false
	}
	if backend == nil {
		return "memory driver: trap state is per-process and lost on restart", false
	}
	defer func() { _ = backend.Close() }()

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	start := time.Now()
	if err := backend.Ping(pingCtx); err != nil {
		return fmt.Sprintf("%s unreachable: %v (server will start in fallback mode)", cfg.Driver, err), false
	}
	return fmt.Sprintf("%s reachable (%s)", cfg.Driver, time.Since(start).Round(time.Millisecond)), true
}

var doctorInitForce bool

var doctorInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a default config file with a freshly generated agent key",
	RunE: func(cmd *cobra.Command, args []string) error {
		configDir := config.DefaultConfigDir()
		if configDir == "" {
			return fmt.Errorf("config directory not resolved")
		}
		configPath := filepath.Join(configDir, "config.yaml")

		if fileExists(configPath) && !doctorInitForce {
			return fmt.Errorf("config file already exists: %s (use --force to overwrite)", configPath)
		}

		agentKey, err := generateAgentKey()
		if err != nil {
			return err
		}

		if err := os.MkdirAll(configDir, 0755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
		if err := os.WriteFile(configPath, []byte(buildInitConfig(agentKey)), 0600); err != nil {
			return fmt.Errorf("write config file: %w", err)
		}

		observability.CLILogger.Info("Config initialized", zap.String("path", configPath))
		return nil
	},
}

func buildInitConfig(agentKey string) string {
	var b strings.Builder
	b.WriteString("# " + config.AppName + " configuration\n")
	b.WriteString("server:\n")
	b.WriteString("  host: 0.0.0.0\n")
	b.WriteString("  port: 8000\n")
	b.WriteString("\n")
	b.WriteString("store:\n")
	b.WriteString("  # redis | libsql | sqlite | memory\n")
	b.WriteString("  driver: sqlite\n")
	b.WriteString("\n")
	b.WriteString("defense:\n")
	fmt.Fprintf(&b, "  agent_key: %q\n", agentKey)
	b.WriteString("  speed_trap_threshold: 500ms\n")
	b.WriteString("\n")
	b.WriteString("maze:\n")
	b.WriteString("  max_levels: 50\n")
	b.WriteString("  max_requests_per_second: 10\n")
	b.WriteString("  tarpit_delay: 1s\n")
	b.WriteString("\n")
	b.WriteString("janitor:\n")
	b.WriteString("  interval: 60s\n")
	return b.String()
}

func fileExists(path string) bool {
	if strings.TrimSpace(path) == "" {
		return false
	}
	_, err := os.Stat(path)
	return err == nil
}

func existenceStatus(exists bool) string {
	if exists {
		return "exists"
	}
	return "not created yet"
}

func init() {
	doctorInitCmd.Flags().BoolVar(&doctorInitForce, "force", false, "Overwrite an existing config file")

	doctorCmd.AddCommand(doctorInitCmd)
	rootCmd.AddCommand(doctorCmd)
}
