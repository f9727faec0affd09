package commands

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func newGetCmd(v *viper.Viper) *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "get [title]",
		Short: "Download the current content of a title",
		Long:  `Download the current version stored under title. Content goes to stdout unless --output is set.`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := commandContext(cmd, v)
			defer cancel()

			rc, _, err := newClient(v).Download(ctx, args[0])
			if err != nil {
				return fmt.Errorf("get failed: %w", err)
			}
			defer rc.Close()

			if output == "" || output == "-" {
				_, err = io.Copy(cmd.OutOrStdout(), rc)
				return err
			}

			f, err := os.Create(output)
			if err != nil {
				return fmt.Errorf("failed to create output file: %w", err)
			}
			if _, err := io.Copy(f, rc); err != nil {
				f.Close()
				return fmt.Errorf("failed to write output file: %w", err)
			}
			return f.Close()
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "write content to this path instead of stdout")
	return cmd
}
