package main

import (
	"fmt"
	"mockhttp/pkg/engine"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
)

const DEFAULT_CONFIG_PATH = "mockhttp.config.yaml"

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "mockhttp",
		Short:         "mockhttp - mock HTTP server for exercising client timeouts",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(newUpCommand(), newDownCommand(), newInitCommand())
	return root
}

func newUpCommand() (cmd *cobra.Command) {
	var configPath string

	cmd = &cobra.Command{
		Use:     "up",
		Short:   "Start the mock server",
		Example: "mockhttp up --config ./mockhttp.config.yaml",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := resolveConfig(configPath, cmd.Flag("config").Changed)
			if err != nil {
				return err
			}

			mockEngine, err := engine.InstantiateMockEngine(path)
			if err != nil {
				return err
			}
			return mockEngine.Run()
		},
	}

	cmd.Flags().StringVar(&configPath, "config", DEFAULT_CONFIG_PATH, "Path to configuration YAML file")
	return cmd
}

func newDownCommand() (cmd *cobra.Command) {
	var configPath string

	cmd = &cobra.Command{
		Use:   "down",
		Short: "Stop the mock server started with the same config",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := resolveConfig(configPath, cmd.Flag("config").Changed)
			if err != nil {
				return err
			}

			if err := engine.KillMockServer(path); err != nil {
				return fmt.Errorf("failed to stop mockhttp: %w", err)
			}
			fmt.Println("mockhttp has been signaled to shut down.")
			return nil
		},
	}

	cmd.Flags().StringVar(&configPath, "config", DEFAULT_CONFIG_PATH, "Path to configuration YAML file")
	return cmd
}

func newInitCommand() (cmd *cobra.Command) {
	var configPath string

	cmd = &cobra.Command{
		Use:   "init",
		Short: "Write a starter configuration file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			absPath, err := filepath.Abs(configPath)
			if err != nil {
				return fmt.Errorf("unable to resolve config path: %w", err)
			}

			if err := engine.InitConfig(absPath); err != nil {
				return err
			}
			fmt.Printf("Config written to %s\n", absPath)
			return nil
		},
	}

	cmd.Flags().StringVar(&configPath, "config", DEFAULT_CONFIG_PATH, "Path to configuration YAML file")
	return cmd
}

// resolveConfig returns the absolute config path, or "" to run on defaults
// when the default file is absent and no path was given explicitly.
func resolveConfig(configPath string, explicit bool) (string, error) {
	absPath, err := filepath.Abs(configPath)
	if err != nil {
		return "", fmt.Errorf("unable to resolve config path: %w", err)
	}

	if _, err := os.Stat(absPath); os.IsNotExist(err) {
		if explicit {
			return "", fmt.Errorf("config file not found: %s", absPath)
		}
		return "", nil
	}
	return absPath, nil
}
