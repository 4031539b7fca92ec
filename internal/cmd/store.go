package cmd

import (
	"context"
	"fmt"

	"github.com/krewdev/bluetrap/internal/observability"
	"github.com/krewdev/bluetrap/internal/state"
)

// openStore connects to the configured durable store for offline inspection.
// The in-process fallback is useless here (it belongs to the server process),
// so a memory driver or an unreachable backend is an error.
func openStore(ctx context.Context) (*state.Tiered, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	store, err := state.Open(ctx, cfg.Store, observability.CLILogger)
	if err != nil {
		return nil, err
	}

	if store.Mode() != state.ModeDurable {
		_ = store.Close()
		if cfg.Store.Driver == state.DriverMemory {
			return nil, fmt.Errorf("store.driver is %q: trap state lives only inside the server process", cfg.Store.Driver)
		}
		return nil, fmt.Errorf("%s store is unreachable", cfg.Store.Driver)
	}
	return store, nil
}
