package main

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"time"

	"github.com/cuemby/ftb/pkg/api"
	"github.com/olekukonko/tablewriter"
	"github.com/olekukonko/tablewriter/tw"
	"github.com/spf13/cobra"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show backplane counters and connected clients",
	Long: `Show backplane counters and connected clients.

The server may be a TCP address or the read-only local socket:
  ftb stats --server unix:///run/ftb/ftb.sock`,
	RunE: runStats,
}

func init() {
	statsCmd.Flags().String("server", "127.0.0.1:7946", "Backplane server address")
	statsCmd.Flags().String("cert-dir", "", "Directory with client certificates for mutual TLS")
}

func runStats(cmd *cobra.Command, args []string) error {
	c, err := dialServer(cmd)
	if err != nil {
		return err
	}
	defer c.Close()

	resp, err := c.Stats()
	if err != nil {
		return fmt.Errorf("failed to get stats: %w", err)
	}
	return printStats(os.Stdout, resp, time.Now())
}

func printStats(w io.Writer, resp *api.StatsResponse, now time.Time) error {
	s := resp.Stats
	fmt.Fprintf(w, "Clients:        %d\n", s.Clients)
	fmt.Fprintf(w, "Subscriptions:  %d\n", s.Subscriptions)
	fmt.Fprintf(w, "Declarations:   %d\n", s.Declarations)
	fmt.Fprintf(w, "Event spaces:   %d\n", s.EventSpaces)

	if len(s.Sequences) > 0 {
		spaces := make([]string, 0, len(s.Sequences))
		for space := range s.Sequences {
			spaces = append(spaces, space)
		}
		sort.Strings(spaces)

		rows := make([][]string, 0, len(spaces))
		for _, space := range spaces {
			rows = append(rows, []string{space, strconv.FormatUint(s.Sequences[space], 10)})
		}
		fmt.Fprintln(w)
		if err := renderTable(w, []string{"Event space", "Last seqnum"}, rows, tw.AlignLeft, tw.AlignRight); err != nil {
			return err
		}
	}

	if len(resp.Clients) > 0 {
		rows := make([][]string, 0, len(resp.Clients))
		for _, cl := range resp.Clients {
			rows = append(rows, []string{
				cl.ID, cl.ClientName, cl.EventSpace, string(cl.SubscriptionStyle),
				cl.Hostname, strconv.FormatUint(uint64(cl.PID), 10),
				now.Sub(cl.LastSeen).Round(time.Second).String(),
			})
		}
		fmt.Fprintln(w)
		headers := []string{"ID", "Name", "Event space", "Style", "Host", "PID", "Last seen"}
		if err := renderTable(w, headers, rows); err != nil {
			return err
		}
	}
	return nil
}

// renderTable writes a bordered table. align, when given, sets the
// alignment per column.
func renderTable(w io.Writer, headers []string, rows [][]string, align ...tw.Align) error {
	config := tablewriter.Config{}
	if len(align) > 0 {
		config.Header.Alignment = tw.CellAlignment{PerColumn: align}
		config.Row.Alignment = tw.CellAlignment{PerColumn: align}
	}
	table := tablewriter.NewTable(w, tablewriter.WithConfig(config))

	cells := make([]any, len(headers))
	for i, h := range headers {
		cells[i] = h
	}
	table.Header(cells...)

	for _, row := range rows {
		cells := make([]any, len(row))
		for i, v := range row {
			cells[i] = v
		}
		if err := table.Append(cells...); err != nil {
			return err
		}
	}
	return table.Render()
}
