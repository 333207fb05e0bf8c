package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/cuemby/ftb/pkg/health"
	"github.com/spf13/cobra"
)

var probeCmd = &cobra.Command{
	Use:   "probe",
	Short: "Check a server's health endpoint or port",
	Long: `Probe a running server once and exit non-zero if it is unhealthy.

Examples:
  # Readiness over HTTP
  ftb probe --http http://127.0.0.1:9090/ready

  # Plain TCP reachability of the API port
  ftb probe --tcp 127.0.0.1:7946`,
	RunE: runProbe,
}

func init() {
	probeCmd.Flags().String("http", "", "URL to GET")
	probeCmd.Flags().String("tcp", "", "Address to dial")
	probeCmd.Flags().Duration("timeout", 5*time.Second, "Probe timeout")
	probeCmd.MarkFlagsMutuallyExclusive("http", "tcp")
	probeCmd.MarkFlagsOneRequired("http", "tcp")
}

func runProbe(cmd *cobra.Command, args []string) error {
	url, _ := cmd.Flags().GetString("http")
	addr, _ := cmd.Flags().GetString("tcp")
	timeout, _ := cmd.Flags().GetDuration("timeout")

	var checker health.Checker = health.NewHTTPChecker(url)
	if addr != "" {
		checker = health.NewTCPChecker(addr)
	}

	cfg := health.DefaultConfig()
	cfg.Timeout = timeout
	result := health.Run(context.Background(), checker, cfg)

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(result); err != nil {
		return err
	}
	if !result.Healthy {
		return fmt.Errorf("%s check failed: %s", checker.Type(), result.Message)
	}
	return nil
}
