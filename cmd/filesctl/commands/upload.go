package commands

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/tendant/simple-files/pkg/simplefiles/api"
)

func newUploadCmd(v *viper.Viper) *cobra.Command {
	var title, uploadedBy, name string

	cmd := &cobra.Command{
		Use:   "upload [path]",
		Short: "Upload a new file under a unique title",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return fmt.Errorf("failed to open file: %w", err)
			}
			defer f.Close()

			if name == "" {
				name = filepath.Base(args[0])
			}
			if title == "" {
				title = name
			}

			ctx, cancel := commandContext(cmd, v)
			defer cancel()

			env, err := newClient(v).Upload(ctx, title, uploadedBy, name, f)
			if err != nil {
				return fmt.Errorf("upload failed: %w", err)
			}
			printEnvelope(cmd, "Uploaded", env)
			return nil
		},
	}

	cmd.Flags().StringVar(&title, "title", "", "title to store the file under (default is the file name)")
	cmd.Flags().StringVar(&uploadedBy, "uploaded-by", "", "uploader identity")
	cmd.Flags().StringVar(&name, "name", "", "original filename sent to the server (default is the base name of path)")
	_ = cmd.MarkFlagRequired("uploaded-by")
	return cmd
}

func newUpdateCmd(v *viper.Viper) *cobra.Command {
	var name string

	cmd := &cobra.Command{
		Use:   "update [title] [path]",
		Short: "Replace the content stored under an existing title",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[1])
			if err != nil {
				return fmt.Errorf("failed to open file: %w", err)
			}
			defer f.Close()

			if name == "" {
				name = filepath.Base(args[1])
			}

			ctx, cancel := commandContext(cmd, v)
			defer cancel()

			env, err := newClient(v).Update(ctx, args[0], name, f)
			if err != nil {
				return fmt.Errorf("update failed: %w", err)
			}
			printEnvelope(cmd, "Updated", env)
			return nil
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "original filename sent to the server (default is the base name of path)")
	return cmd
}

func printEnvelope(cmd *cobra.Command, verb string, env *api.FileEnvelope) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%s %q (%s) id=%s\n", verb, env.File.Title, env.File.Filename, env.File.ID)
	if env.Warning != "" {
		fmt.Fprintf(cmd.ErrOrStderr(), "warning: %s\n", env.Warning)
	}
}
