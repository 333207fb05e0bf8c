package main

import (
	"fmt"
	"path/filepath"

	"github.com/cuemby/ftb/pkg/security"
	"github.com/spf13/cobra"
)

var certsCmd = &cobra.Command{
	Use:   "certs",
	Short: "Manage mutual TLS certificates",
}

var certsInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Create a CA with server and client certificates",
	Long: `Create a self-signed CA and issue a server and a client certificate.

The output directory receives server/ and client/ subdirectories, each
holding tls.crt, tls.key and ca.crt:

  ftb certs init --dir /etc/ftb/certs --host ftb.example.com --host 10.0.0.5
  ftb server --cert-dir /etc/ftb/certs/server
  ftb watchdog --cert-dir /etc/ftb/certs/client`,
	RunE: func(cmd *cobra.Command, args []string) error {
		dir, _ := cmd.Flags().GetString("dir")
		hosts, _ := cmd.Flags().GetStringSlice("host")
		force, _ := cmd.Flags().GetBool("force")

		serverDir := filepath.Join(dir, "server")
		clientDir := filepath.Join(dir, "client")
		if !force && (security.CertExists(serverDir) || security.CertExists(clientDir)) {
			return fmt.Errorf("certificates already exist in %s (use --force to replace)", dir)
		}

		ca, err := security.NewCA("FTB Root CA")
		if err != nil {
			return err
		}
		if err := ca.WriteIdentity(serverDir, "ftb-server", hosts); err != nil {
			return fmt.Errorf("failed to write server certificate: %w", err)
		}
		if err := ca.WriteIdentity(clientDir, "ftb-client", nil); err != nil {
			return fmt.Errorf("failed to write client certificate: %w", err)
		}

		fmt.Printf("✓ Server certificate written to %s\n", serverDir)
		fmt.Printf("✓ Client certificate written to %s\n", clientDir)
		return nil
	},
}

func init() {
	certsCmd.AddCommand(certsInitCmd)

	certsInitCmd.Flags().String("dir", "./ftb-certs", "Output directory")
	certsInitCmd.Flags().StringSlice("host", []string{"localhost", "127.0.0.1"}, "DNS name or IP of the server (repeatable)")
	certsInitCmd.Flags().Bool("force", false, "Overwrite existing certificates")

	rootCmd.AddCommand(certsCmd)
}
