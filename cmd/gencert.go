package cmd

import (
	"fmt"
	"io"
	"path/filepath"

	"github.com/spf13/cobra"

	"grimm.is/vpnadmin/internal/brand"
	certs "grimm.is/vpnadmin/internal/tls"
)

func newGenCertCmd() *cobra.Command {
	var (
		dir   string
		hosts []string
		days  int
	)
	cmd := &cobra.Command{
		Use:   "gen-cert",
		Short: "Generate a self-signed serving certificate",
		Long: `Writes server.crt and server.key to --dir and prints the SHA-256 fingerprint.
Point api.tls_cert and api.tls_key at the files and pass the fingerprint to
clients with --fingerprint. The running gateway picks up replaced files
without a restart.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGenCert(cmd.OutOrStdout(), dir, hosts, days)
		},
	}
	cmd.Flags().StringVar(&dir, "dir", brand.DefaultConfigDir, "output directory")
	cmd.Flags().StringSliceVar(&hosts, "host", nil, "DNS name or IP for the certificate (repeatable)")
	cmd.Flags().IntVar(&days, "days", 825, "validity in days")
	return cmd
}

func runGenCert(out io.Writer, dir string, hosts []string, days int) error {
	if days <= 0 {
		return fmt.Errorf("--days must be positive")
	}
	certFile := filepath.Join(dir, "server.crt")
	keyFile := filepath.Join(dir, "server.key")
	fp, err := certs.GenerateSelfSigned(certFile, keyFile, hosts, days)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "certificate: %s\n", certFile)
	fmt.Fprintf(out, "key:         %s\n", keyFile)
	fmt.Fprintf(out, "fingerprint: %s\n", fp)
	return nil
}
