// Package cli implements the genesis command tree.
package cli

import (
	"os"
	"path/filepath"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

var (
	settingsFile string
	verbosity    string
)

var rootCmd = &cobra.Command{
	Use:           "genesis",
	Short:         "Genesis development tools: build images, run local installations, back them up",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Flags not given on the command line fall back to the
		// settings file and GEN_* environment variables.
		var applyErr error
		cmd.Flags().VisitAll(func(f *pflag.Flag) {
			if !f.Changed && viper.IsSet(f.Name) {
				if err := cmd.Flags().Set(f.Name, viper.GetString(f.Name)); err != nil && applyErr == nil {
					applyErr = err
				}
			}
		})
		if applyErr != nil {
			return applyErr
		}

		level, err := log.ParseLevel(verbosity)
		if err != nil {
			return err
		}
		log.SetLevel(level)
		return nil
	},
}

// initSettings points viper at the CLI settings file and the GEN_*
// environment. The file is optional.
func initSettings() {
	if settingsFile != "" {
		viper.SetConfigFile(settingsFile)
	} else if home, err := os.UserHomeDir(); err == nil {
		viper.AddConfigPath(filepath.Join(home, ".config", "genesis"))
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
	}

	viper.SetEnvPrefix("GEN")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		log.Debugf("Using settings file %s", viper.ConfigFileUsed())
	}
}

func init() {
	cobra.OnInitialize(initSettings)

	rootCmd.PersistentFlags().StringVar(&settingsFile, "settings", "",
		"CLI settings file (default ~/.config/genesis/config.yaml)")
	rootCmd.PersistentFlags().StringVarP(&verbosity, "verbosity", "v", "info",
		"Log level (trace, debug, info, warn, error)")
}

// Execute runs the CLI.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		log.Error(err)
		os.Exit(1)
	}
}
