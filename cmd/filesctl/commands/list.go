package commands

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func newListCmd(v *viper.Viper) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List stored files oldest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := commandContext(cmd, v)
			defer cancel()

			files, err := newClient(v).List(ctx)
			if err != nil {
				return fmt.Errorf("list failed: %w", err)
			}

			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(files)
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "TITLE\tFILENAME\tUPLOADED BY\tCREATED")
			for _, f := range files {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", f.Title, f.OriginalFilename, f.UploadedBy, f.CreatedAt.Format(time.RFC3339))
			}
			return tw.Flush()
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "print the listing as JSON")
	return cmd
}
