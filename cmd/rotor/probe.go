package main

import (
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"proxyrotor/internal/shared/logger"
	"proxyrotor/proxypool/egress"
	"proxyrotor/proxypool/model"
)

var (
	probeTarget      string
	probeScheme      string
	probeTimeout     time.Duration
	probeConcurrency int
	probeCountry     string
)

var probeCmd = &cobra.Command{
	Use:   "probe",
	Short: "Probe every proxy once and record the outcomes",
	Long: `Send one request to the target through every pooled proxy, classify the
response and feed it to the engine as a session outcome.

Examples:
  rotor probe --target https://shop.example.com/ --scheme socks5`,
	RunE: runProbe,
}

func init() {
	probeCmd.Flags().StringVar(&probeTarget, "target", "https://www.example.com/", "Target URL")
	probeCmd.Flags().StringVar(&probeScheme, "scheme", "http", "Egress scheme (http, socks5)")
	probeCmd.Flags().DurationVar(&probeTimeout, "timeout", 10*time.Second, "Per-probe timeout")
	probeCmd.Flags().IntVar(&probeConcurrency, "concurrency", 5, "Concurrent probes")
	probeCmd.Flags().StringVar(&probeCountry, "country", "", "Target country recorded with each outcome")
	rootCmd.AddCommand(probeCmd)
}

func runProbe(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	rt, err := bootstrap(ctx, true)
	if err != nil {
		return err
	}
	defer rt.Close()

	hour := time.Now().Hour()
	prober := egress.NewProber(probeTarget, probeScheme, probeTimeout, probeConcurrency)
	prober.ProbeAll(ctx, rt.mgr.Records(), func(rec *model.ProxyRecord, a model.Attempt) {
		a.Context = model.SessionContext{
			SessionID:     uuid.NewString(),
			TargetCountry: probeCountry,
			Hour:          hour,
		}
		if updated := rt.mgr.RecordOutcome(ctx, rec, a); updated != nil {
			logger.Info().
				Str("proxy", updated.Key()).
				Bool("success", a.Success).
				Str("captcha", string(a.CaptchaSeverity)).
				Dur("response_time", a.ResponseTime).
				Str("level", string(updated.QualityLevel)).
				Msg("Probe recorded.")
		}
	})
	return writeReport(cmd.OutOrStdout(), rt.mgr.Report(), output)
}
