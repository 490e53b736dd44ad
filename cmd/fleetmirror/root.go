package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/fleetmirror/fleetmirror/internal/config"
	"github.com/fleetmirror/fleetmirror/internal/version"
)

var (
	configFlag string

	// vp is the one viper instance every command reads through.
	vp = viper.New()
)

var rootCmd = &cobra.Command{
	Use:     "fleetmirror",
	Short:   "Mirror fleet service logs and data onto this machine",
	Version: version.Detailed(),
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return initViper()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFlag, "config", "c", "",
		"config file (default "+filepath.Join(config.DefaultConfigDir, "config.yaml")+")")
}

// initViper wires the config sources in ascending precedence: defaults,
// config file, FLEETMIRROR_* env, bound flags. An optional .env file is
// loaded first so env overrides work the same in dev shells and unit files.
func initViper() error {
	_ = godotenv.Load()

	vp = viper.New()
	if configFlag != "" {
		vp.SetConfigFile(configFlag)
	} else {
		vp.AddConfigPath(config.DefaultConfigDir)
		vp.AddConfigPath(".")
		vp.SetConfigName("config")
		vp.SetConfigType("yaml")
	}

	vp.SetEnvPrefix("FLEETMIRROR")
	vp.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	vp.AutomaticEnv()

	config.SetDefaults(vp)

	if err := vp.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("read config %s: %w", vp.ConfigFileUsed(), err)
		}
		// Running on defaults and env alone is fine for status/stop/logs.
	}
	return nil
}

func loadConfig() (*config.Config, error) {
	return config.Load(vp)
}
