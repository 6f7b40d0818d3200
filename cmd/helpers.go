package cmd

import (
	"fmt"
	"time"

	"github.com/marcus/offsync/internal/engine"
	"github.com/marcus/offsync/internal/store"
	"github.com/marcus/offsync/internal/syncclient"
	"github.com/marcus/offsync/internal/syncconfig"
)

// runtime bundles everything a command needs to talk to the engine.
type runtime struct {
	Config *syncconfig.Config
	Store  *store.Store
	Client *syncclient.Client
	Engine *engine.Engine
}

// openRuntime loads config, opens the local store, and wires up the engine.
// The caller must Close it.
func openRuntime() (*runtime, error) {
	cfg, err := syncconfig.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	dir := dataDir
	if dir == "" {
		if dir, err = syncconfig.DataDir(); err != nil {
			return nil, err
		}
	}

	st, err := store.Open(dir)
	if err != nil {
		return nil, err
	}

	client := syncclient.New(cfg.ServerURL, cfg.APIKey, cfg.DeviceID)

	policy := engine.DefaultPolicy()
	if v := cfg.Policy.RetryLimit; v > 0 {
		policy.RetryLimit = v
	}
	if v := cfg.Policy.SyncIntervalValue(); v > 0 {
		policy.SyncInterval = v
	}
	if v := cfg.Policy.CacheTTLValue(); v > 0 {
		policy.CacheTTL = v
	}
	policy.ConflictFields = cfg.Policy.ConflictFields

	eng, err := engine.New(engine.Options{
		Queue:     st,
		Cache:     st,
		Ledger:    st,
		Transport: client,
		Policy:    policy,
		Now:       time.Now,
	})
	if err != nil {
		st.Close()
		return nil, err
	}

	return &runtime{Config: cfg, Store: st, Client: client, Engine: eng}, nil
}

// Close releases the runtime's resources.
func (r *runtime) Close() {
	r.Store.Close()
}
