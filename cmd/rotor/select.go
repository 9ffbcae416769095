package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"proxyrotor/proxypool/model"
)

var (
	selectCount   int
	selectCountry string
	selectTier    string
	selectHour    int
)

var selectCmd = &cobra.Command{
	Use:   "select",
	Short: "Pick proxies the way the engine would",
	Long: `Run the active strategy against the current pool without recording anything.

Examples:
  rotor select -n 5 --country US --tier high`,
	RunE: runSelect,
}

func init() {
	selectCmd.Flags().IntVarP(&selectCount, "count", "n", 1, "Number of draws")
	selectCmd.Flags().StringVar(&selectCountry, "country", "", "Target country")
	selectCmd.Flags().StringVar(&selectTier, "tier", "", "Amount tier")
	selectCmd.Flags().IntVar(&selectHour, "hour", -1, "Hour of day, -1 for now")
	rootCmd.AddCommand(selectCmd)
}

func runSelect(cmd *cobra.Command, args []string) error {
	rt, err := bootstrap(cmd.Context(), true)
	if err != nil {
		return err
	}
	defer rt.Close()

	if selectHour < 0 {
		selectHour = time.Now().Hour()
	}
	ctx := model.RotationContext{TargetCountry: selectCountry, AmountTier: selectTier, TimeOfDay: selectHour}
	tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "#\tPROXY\tLEVEL\tSCORE\tCOUNTRY\tSTRATEGY\n")
	strat := rt.mgr.Strategy().Active
	for i := 0; i < selectCount; i++ {
		rec := rt.mgr.Select(ctx)
		if rec == nil {
			return fmt.Errorf("pool is empty")
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%.1f\t%s\t%s\n", i+1, rec.Key(), rec.QualityLevel, rec.QualityScore, rec.Country, strat)
	}
	return tw.Flush()
}
