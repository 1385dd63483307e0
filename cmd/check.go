package cmd

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"grimm.is/vpnadmin/internal/brand"
	"grimm.is/vpnadmin/internal/config"
)

func newCheckCmd() *cobra.Command {
	var (
		configPath string
		verbose    bool
	)
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Validate a configuration file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCheck(cmd.OutOrStdout(), configPath, verbose)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", brand.GetConfigPath(), "configuration file")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "print keys, commands and file policy")
	return cmd
}

// runCheck validates the configuration file syntax and semantics.
func runCheck(out io.Writer, configPath string, verbose bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("configuration invalid: %w", err)
	}

	fmt.Fprintf(out, "Configuration valid!\n")
	fmt.Fprintf(out, "Listen:   %s\n", cfg.API.Listen)
	fmt.Fprintf(out, "Auth:     %s\n", onOff(cfg.API.AuthRequired()))
	fmt.Fprintf(out, "Keys:     %d\n", len(cfg.API.Keys))
	fmt.Fprintf(out, "Commands: %d\n", len(cfg.Commands))
	if cfg.Audit != nil {
		fmt.Fprintf(out, "Audit:    %s (%d days)\n", cfg.Audit.Path, cfg.Audit.RetentionDays)
	} else {
		fmt.Fprintf(out, "Audit:    disabled\n")
	}
	if !cfg.API.AuthRequired() {
		fmt.Fprintf(out, "\nWARNING: authentication is disabled\n")
	}
	if cfg.Files.Unrestricted {
		fmt.Fprintf(out, "WARNING: file access is unrestricted\n")
	}

	if !verbose {
		return nil
	}

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "\nKEY\tPERMISSIONS\tALLOWED IPS")
	for _, k := range cfg.API.Keys {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", k.Name, strings.Join(k.Permissions, ","), orAny(k.AllowedIPs))
	}
	fmt.Fprintln(tw, "\nCOMMAND\tPATH\tSUDO\tEXTRA ARGS")
	for _, c := range cfg.Commands {
		fmt.Fprintf(tw, "%s\t%s\t%v\t%d\n", c.Name, strings.Join(append([]string{c.Path}, c.Args...), " "), c.Sudo, c.MaxExtraArgs)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	fmt.Fprintln(out, "\nAllowed files:")
	for _, f := range cfg.Files.AllowFiles {
		fmt.Fprintf(out, "  %s\n", f)
	}
	for _, d := range cfg.Files.AllowDirs {
		fmt.Fprintf(out, "  %s/\n", d)
	}
	return nil
}

func onOff(b bool) string {
	if b {
		return "required"
	}
	return "DISABLED"
}

func orAny(ips []string) string {
	if len(ips) == 0 {
		return "any"
	}
	return strings.Join(ips, ",")
}
