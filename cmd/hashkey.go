package cmd

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"grimm.is/vpnadmin/internal/auth"
)

func newHashKeyCmd() *cobra.Command {
	var generate bool
	cmd := &cobra.Command{
		Use:   "hash-key",
		Short: "Hash an API key for the configuration file",
		Long: `Reads an API key from stdin and prints its bcrypt hash for an api key block.
With --generate a new random key is created and printed along with its hash;
the key is shown only once.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHashKey(cmd.InOrStdin(), cmd.OutOrStdout(), generate)
		},
	}
	cmd.Flags().BoolVar(&generate, "generate", false, "generate a new random key")
	return cmd
}

func runHashKey(in io.Reader, out io.Writer, generate bool) error {
	var key string
	if generate {
		k, err := auth.GenerateKey()
		if err != nil {
			return err
		}
		key = k
	} else {
		line, err := bufio.NewReader(in).ReadString('\n')
		if err != nil && err != io.EOF {
			return fmt.Errorf("read key: %w", err)
		}
		key = strings.TrimSpace(line)
	}

	hash, err := auth.HashKey(key)
	if err != nil {
		return err
	}
	if generate {
		fmt.Fprintf(out, "key:  %s\n", key)
		fmt.Fprintf(out, "hash: %s\n", hash)
		return nil
	}
	fmt.Fprintln(out, hash)
	return nil
}
