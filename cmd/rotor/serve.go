package main

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"proxyrotor/internal/service/web"
	"proxyrotor/internal/shared/logger"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the scheduler and the status surface",
	Long: `Keep the pool loaded, refresh it from the provider, run ledger purges and
quality snapshots, and expose the read-only status API until interrupted.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "Status port, overrides [web] port")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	rt, err := bootstrap(ctx, true)
	if err != nil {
		return err
	}
	defer rt.Close()

	webConf := rt.cfg.WebConf
	if servePort > 0 {
		webConf.Port = servePort
	}
	srv, err := web.StartServer(webConf, rt.mgr)
	if err != nil {
		return err
	}

	rt.mgr.Start()
	logger.Info().Str("provider", rt.prov.Name()).Msg("Rotation engine running.")

	refresh := time.Duration(rt.cfg.ProviderConf.RefreshMin) * time.Minute
	if refresh <= 0 {
		refresh = 15 * time.Minute
	}
	ticker := time.NewTicker(refresh)
	defer ticker.Stop()

loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case <-ticker.C:
			if err := rt.refreshPool(ctx); err != nil {
				// 刷新失败时保留当前池
				logger.Warn().Err(err).Msg("Pool refresh failed, keeping the current pool.")
			}
		}
	}

	logger.Info().Msg("Shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("Status surface shutdown error.")
	}
	rt.mgr.Stop()
	return nil
}
