// File: cmd/root.go
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/xkilldash9x/bugsync/internal/config"
	"github.com/xkilldash9x/bugsync/internal/observability"
	"github.com/xkilldash9x/bugsync/internal/service"
)

type contextKey string

const configKey contextKey = "config"

// Execute builds the root command and runs it with ctx.
func Execute(ctx context.Context) error {
	rootCmd := NewRootCommand()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		if logger := observability.GetLogger(); logger != nil {
			logger.Error("Command execution failed", zap.Error(err))
		} else {
			fmt.Fprintln(os.Stderr, err)
		}
		return err
	}
	return nil
}

// NewRootCommand returns the production command tree.
func NewRootCommand() *cobra.Command {
	return newRootCmd(service.NewComponentFactory())
}

// newRootCmd builds a fresh command tree around its own viper instance so
// tests never share flag or config state.
func newRootCmd(factory service.ComponentFactory) *cobra.Command {
	v := viper.New()
	config.SetDefaults(v)
	var cfgFile string

	rootCmd := &cobra.Command{
		Use:           "bugsync",
		Short:         "bugsync files vulnerability findings as issues in a bug tracker.",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// Help and version never need a valid configuration.
			if cmd.Name() == "help" || cmd.Name() == "version" {
				return nil
			}
			if err := initializeConfig(v, cfgFile); err != nil {
				observability.InitializeLogger(config.LoggerConfig{Level: "info", Format: "console", ServiceName: "bugsync"})
				return fmt.Errorf("failed to initialize configuration: %w", err)
			}

			cfg, err := config.NewConfigFromViper(v)
			if err != nil {
				observability.InitializeLogger(config.LoggerConfig{Level: "info", Format: "console", ServiceName: "bugsync"})
				return fmt.Errorf("failed to load or validate config: %w", err)
			}

			observability.InitializeLogger(cfg.Logger())
			observability.GetLogger().Debug("Starting bugsync", zap.String("version", Version))

			cmd.SetContext(context.WithValue(cmd.Context(), configKey, cfg))
			return nil
		},
	}
	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (default is ./bugsync.yaml)")
	rootCmd.PersistentFlags().String("log-level", "", "log level (debug, info, warn, error)")
	_ = v.BindPFlag("logger.level", rootCmd.PersistentFlags().Lookup("log-level"))

	rootCmd.AddCommand(newSyncCmd(v, factory))
	rootCmd.AddCommand(newOptionsCmd())
	rootCmd.AddCommand(newVersionCmd())
	return rootCmd
}

// initializeConfig reads in the config file and ENV variables if set.
func initializeConfig(v *viper.Viper, cfgFile string) error {
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.config/bugsync")
		v.SetConfigName("bugsync")
		v.SetConfigType("yaml")
	}

	v.SetEnvPrefix("BUGSYNC")
	v.SetEnvKeyReplacer(config.EnvKeyReplacer())
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found; proceed with defaults/env vars
	}
	return nil
}

// configFrom returns the configuration stored by PersistentPreRunE.
func configFrom(ctx context.Context) (config.Interface, error) {
	cfg, ok := ctx.Value(configKey).(config.Interface)
	if !ok || cfg == nil {
		return nil, errors.New("configuration not loaded")
	}
	return cfg, nil
}
