package commands

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var errUnhealthy = errors.New("server is unhealthy")

func newHealthCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check server health",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := commandContext(cmd, v)
			defer cancel()

			health, err := newClient(v).Health(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "status=%s store=%s blobs=%s\n", health.Status, health.StoreConnection, health.BlobBucketStatus)
			if health.Status != "healthy" {
				return errUnhealthy
			}
			return nil
		},
	}
}
