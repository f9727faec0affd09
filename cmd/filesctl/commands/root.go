package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/tendant/simple-files/pkg/simplefiles/client"
)

const envPrefix = "FILESCTL"

// Execute runs the root command against os.Args
func Execute() error {
	return NewRootCmd().Execute()
}

// NewRootCmd builds the command tree with its own viper instance
func NewRootCmd() *cobra.Command {
	v := viper.New()
	var cfgFile string

	rootCmd := &cobra.Command{
		Use:           "filesctl",
		Short:         "Upload, replace and download files by title",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return loadConfig(v, cfgFile)
		},
	}

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.filesctl.yaml)")
	rootCmd.PersistentFlags().String("server", "http://localhost:3000", "base URL of the files server")
	rootCmd.PersistentFlags().Duration("timeout", 5*time.Minute, "request timeout")
	_ = v.BindPFlag("server", rootCmd.PersistentFlags().Lookup("server"))
	_ = v.BindPFlag("timeout", rootCmd.PersistentFlags().Lookup("timeout"))

	rootCmd.AddCommand(
		newUploadCmd(v),
		newUpdateCmd(v),
		newListCmd(v),
		newGetCmd(v),
		newHealthCmd(v),
	)
	return rootCmd
}

// loadConfig reads flags, FILESCTL_* env vars and an optional yaml file, in that precedence
func loadConfig(v *viper.Viper, cfgFile string) error {
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName(".filesctl")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(home)
			v.AddConfigPath(filepath.Join(home, ".config"))
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return fmt.Errorf("failed to read config file: %w", err)
		}
	}
	return nil
}

func newClient(v *viper.Viper, opts ...client.ClientOption) *client.Client {
	return client.New(strings.TrimRight(v.GetString("server"), "/"), opts...)
}

func commandContext(cmd *cobra.Command, v *viper.Viper) (context.Context, context.CancelFunc) {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	if timeout := v.GetDuration("timeout"); timeout > 0 {
		return context.WithTimeout(ctx, timeout)
	}
	return context.WithCancel(ctx)
}
