package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"proxyrotor/internal/shared/config"
	"proxyrotor/internal/shared/logger"
	"proxyrotor/internal/shared/types"
	manager "proxyrotor/proxypool"
	"proxyrotor/proxypool/ledger"
	"proxyrotor/proxypool/provider"
)

var (
	// Global flags
	cfgFile  string
	poolFile string
	output   string
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "rotor",
	Short: "Adaptive egress proxy rotation",
	Long: `rotor scores a pool of egress proxies by the captchas and failures they
run into, and picks the next proxy with a strategy that tightens when the
trailing captcha rate climbs.

Commands:
  report   Show pool quality and the active strategy
  select   Pick proxies the way the engine would
  probe    Probe every proxy once and record the outcomes
  purge    Drop ledger entries past retention
  serve    Run the scheduler and the status surface`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "configs/rotor.ini", "Config file")
	rootCmd.PersistentFlags().StringVar(&poolFile, "pool", "", "Pool file, overrides [provider] path")
	rootCmd.PersistentFlags().StringVarP(&output, "output", "o", "table", "Output format (json, table, yaml)")
}

// runtime bundles what every subcommand needs.
type runtime struct {
	cfg   *types.Config
	store ledger.Store
	mgr   *manager.Manager
	prov  provider.Provider
}

func (rt *runtime) Close() {
	if err := rt.store.Close(); err != nil {
		logger.Warn().Err(err).Msg("Failed to close ledger.")
	}
}

// bootstrap loads config, logging and the ledger, then builds the manager.
// withPool also fetches the pool and replays ledger history onto it.
func bootstrap(ctx context.Context, withPool bool) (*runtime, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("load config %s: %w", cfgFile, err)
	}
	if poolFile != "" {
		cfg.ProviderConf.Type = "file"
		cfg.ProviderConf.Path = poolFile
	}
	if err := logger.Init(cfg.LogConf); err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	opts, err := manager.OptionsFromConfig(cfg)
	if err != nil {
		return nil, err
	}
	store, err := ledger.Open(cfg.LedgerConf)
	if err != nil {
		return nil, fmt.Errorf("open ledger: %w", err)
	}

	seed := cfg.RotationConf.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	rt := &runtime{
		cfg:   cfg,
		store: store,
		mgr:   manager.New(store, opts, manager.SystemClock(), manager.NewRand(seed)),
	}
	if !withPool {
		return rt, nil
	}

	rt.prov, err = provider.New(cfg.ProviderConf)
	if err != nil {
		rt.Close()
		return nil, err
	}
	if err := rt.refreshPool(ctx); err != nil {
		rt.Close()
		return nil, err
	}
	rt.mgr.WarmStart(ctx)
	return rt, nil
}

func (rt *runtime) refreshPool(ctx context.Context) error {
	candidates, err := rt.prov.Fetch(ctx)
	if err != nil {
		return fmt.Errorf("fetch pool from %s: %w", rt.prov.Name(), err)
	}
	rt.mgr.LoadPool(candidates)
	return nil
}
