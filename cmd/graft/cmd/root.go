package cmd

import (
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/aweris/graft"
	"github.com/aweris/graft/internal/dlogger"
)

var rootCmd = &cobra.Command{
	Use:   "graft",
	Short: "Versioned-change graph store CLI",
	Long:  "CLI for managing change graphs, repositories and branches, and syncing with OCI registries.",
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().String("config", "", "config file (default: ~/.config/graft/config.yaml)")
	rootCmd.PersistentFlags().String("data-dir", "", "data directory (default: ~/.local/share/graft)")
	rootCmd.PersistentFlags().String("log-level", "info", "log level (none, info, debug)")

	viper.BindPFlag("data_dir", rootCmd.PersistentFlags().Lookup("data-dir"))
	viper.BindPFlag("log_level", rootCmd.PersistentFlags().Lookup("log-level"))
}

func initConfig() {
	if cfg := rootCmd.PersistentFlags().Lookup("config").Value.String(); cfg != "" {
		viper.SetConfigFile(cfg)
	} else {
		viper.AddConfigPath(configDir())
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
	}

	viper.SetEnvPrefix("GRAFT")
	viper.AutomaticEnv()
	viper.SetDefault("data_dir", defaultDataDir())
	viper.SetDefault("log_level", "info")

	viper.ReadInConfig()
}

func configDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "graft")
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".config", "graft")
	}
	return ".graft"
}

func defaultDataDir() string {
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, "graft")
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".local", "share", "graft")
	}
	return ".graft"
}

func getDataDir() string {
	return viper.GetString("data_dir")
}

func getLogger() *zap.Logger {
	return dlogger.MustGetLogger(viper.GetString("log_level"))
}

func openGraph(ref string) (*graft.Graph, error) {
	return graft.Open(ref,
		graft.WithDataDir(getDataDir()),
		graft.WithLogger(getLogger()),
	)
}
