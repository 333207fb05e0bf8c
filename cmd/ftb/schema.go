package main

import (
	"fmt"
	"os"

	"github.com/cuemby/ftb/pkg/schema"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var schemaCmd = &cobra.Command{
	Use:   "schema",
	Short: "Manage pre-loaded event schemas",
}

var schemaLoadCmd = &cobra.Command{
	Use:   "load",
	Short: "Load a schema file into a running server",
	Long: `Load a schema file into a running server.

A schema file lists the events an event space may publish:

  event_space: FTB.FTB_EXAMPLES.watchdog
  events:
    - name: WATCH_DOG_EVENT
      severity: INFO

Several documents may be separated by ---. Loaded schemas are persisted and
survive restarts.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		path, _ := cmd.Flags().GetString("file")
		files, err := schema.LoadFile(path)
		if err != nil {
			return err
		}

		c, err := dialServer(cmd)
		if err != nil {
			return err
		}
		defer c.Close()

		if err := c.LoadSchema(files...); err != nil {
			return fmt.Errorf("failed to load schema: %w", err)
		}
		for _, f := range files {
			fmt.Printf("✓ %s: %d events\n", f.EventSpace, len(f.Events))
		}
		return nil
	},
}

var schemaValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check a schema file without loading it",
	RunE: func(cmd *cobra.Command, args []string) error {
		path, _ := cmd.Flags().GetString("file")
		files, err := schema.LoadFile(path)
		if err != nil {
			return err
		}
		fmt.Printf("✓ %s is valid (%d event spaces)\n", path, len(files))
		return nil
	},
}

var schemaListCmd = &cobra.Command{
	Use:   "list EVENT_SPACE",
	Short: "List the declarations of an event space",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := dialServer(cmd)
		if err != nil {
			return err
		}
		defer c.Close()

		decls, err := c.Declarations(args[0])
		if err != nil {
			return fmt.Errorf("failed to list declarations: %w", err)
		}

		enc := yaml.NewEncoder(os.Stdout)
		enc.SetIndent(2)
		defer enc.Close()
		return enc.Encode(decls)
	},
}

func init() {
	schemaCmd.AddCommand(schemaLoadCmd)
	schemaCmd.AddCommand(schemaValidateCmd)
	schemaCmd.AddCommand(schemaListCmd)

	for _, c := range []*cobra.Command{schemaLoadCmd, schemaListCmd} {
		c.Flags().String("server", "127.0.0.1:7946", "Backplane server address")
		c.Flags().String("cert-dir", "", "Directory with client certificates for mutual TLS")
	}
	for _, c := range []*cobra.Command{schemaLoadCmd, schemaValidateCmd} {
		c.Flags().StringP("file", "f", "", "Schema file (required)")
		_ = c.MarkFlagRequired("file")
	}
}
