package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"grimm.is/vpnadmin/internal/brand"
	"grimm.is/vpnadmin/internal/client"
	"grimm.is/vpnadmin/internal/health"
)

// clientFlags are shared by commands that talk to a running gateway.
type clientFlags struct {
	url         string
	key         string
	fingerprint string
	json        bool
}

func (f *clientFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.url, "url", "http://127.0.0.1:3000", "gateway base URL")
	cmd.Flags().StringVar(&f.key, "key", os.Getenv(brand.ConfigEnvPrefix+"_API_KEY"), "API key")
	cmd.Flags().StringVar(&f.fingerprint, "fingerprint", "", "pin the server certificate SHA-256 fingerprint")
	cmd.Flags().BoolVar(&f.json, "json", false, "print raw JSON")
}

func (f *clientFlags) client() *client.HTTPClient {
	opts := []client.ClientOption{client.WithAPIKey(f.key)}
	if f.fingerprint != "" {
		opts = append(opts, client.WithFingerprint(f.fingerprint))
	}
	return client.NewHTTPClient(f.url, opts...)
}

func newStatusCmd() *cobra.Command {
	var flags clientFlags
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the VPN status of a running gateway",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			snap, err := flags.client().Status(cmd.Context())
			if err != nil {
				return err
			}
			return printSnapshot(cmd.OutOrStdout(), *snap, flags.json)
		},
	}
	flags.register(cmd)
	return cmd
}

func printSnapshot(out io.Writer, snap health.Snapshot, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(snap)
	}
	_, err := fmt.Fprintln(out, renderSnapshot(snap))
	return err
}

// renderSnapshot draws a status card.
func renderSnapshot(snap health.Snapshot) string {
	state := styleGood.Render("RUNNING")
	if !snap.Running {
		state = styleBad.Render("DOWN")
	}

	rows := []string{
		styleHeader.Render(brand.Name + " status"),
		row("State", state),
		row("Connections", fmt.Sprintf("%d", snap.ActiveConnections)),
	}
	if snap.Uptime != "" {
		rows = append(rows, row("Uptime", snap.Uptime))
	}

	names := make([]string, 0, len(snap.Services))
	for name := range snap.Services {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		mark := styleGood.Render("active")
		if !snap.Services[name] {
			mark = styleBad.Render("inactive")
		}
		rows = append(rows, row(name, mark))
	}
	if !snap.Timestamp.IsZero() {
		rows = append(rows, row("Updated", snap.Timestamp.Local().Format(time.DateTime)))
	}
	return styleCard.Render(strings.Join(rows, "\n"))
}

func row(label, value string) string {
	return lipgloss.JoinHorizontal(lipgloss.Top, styleLabel.Render(label), value)
}
