package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/gregvolny/CSEntryWeb-sub001/config"
)

var rootCmd = &cobra.Command{
	Use:   "csentryweb",
	Short: "CSEntryWeb serves CSPro data entry sessions over HTTP",
	Long: `CSEntryWeb runs the CSPro entry engine as a WebAssembly module and exposes
interactive data entry sessions through a stateless JSON API.`,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().String("config", "", "Path to a YAML configuration file")
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	return config.Load(path)
}

func buildLogger(cfg config.Log) (*zap.Logger, error) {
	var zc zap.Config
	if cfg.Mode == "development" {
		zc = zap.NewDevelopmentConfig()
	} else {
		zc = zap.NewProductionConfig()
	}
	level, err := zap.ParseAtomicLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("parse log level %q: %w", cfg.Level, err)
	}
	zc.Level = level
	return zc.Build()
}
