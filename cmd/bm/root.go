package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/botminter/bm/internal/teamconfig"
)

var configPath string

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "bm",
		Short:         "BotMinter control-plane CLI",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to the team registry (default ~/.botminter/config.yml)")
	root.AddCommand(daemonCmd())
	return root
}

func resolvedConfigPath() (string, error) {
	if configPath != "" {
		return configPath, nil
	}
	return teamconfig.DefaultPath()
}

// stateRoot returns the per-user runtime-file root, distinct from the workzone.
func stateRoot() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolving home directory: %w", err)
	}
	return filepath.Join(home, ".botminter", "run"), nil
}
