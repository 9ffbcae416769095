package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"proxyrotor/proxypool/analytics"
)

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Show pool quality and the active strategy",
	Long: `Load the pool, replay the ledger and print the rotation report.

Examples:
  rotor report
  rotor report --pool pool.txt -o json`,
	RunE: runReport,
}

func init() {
	rootCmd.AddCommand(reportCmd)
}

func runReport(cmd *cobra.Command, args []string) error {
	rt, err := bootstrap(cmd.Context(), true)
	if err != nil {
		return err
	}
	defer rt.Close()
	return writeReport(os.Stdout, rt.mgr.Report(), output)
}

func writeReport(w io.Writer, r analytics.Report, format string) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(r)
	case "yaml":
		enc := yaml.NewEncoder(w)
		defer enc.Close()
		return enc.Encode(r)
	case "table", "":
		return r.Table(w)
	default:
		return fmt.Errorf("unknown output format %q (want json, table, yaml)", format)
	}
}
