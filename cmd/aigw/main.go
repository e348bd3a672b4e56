package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/kalambet/aigw/internal/config"
)

var version = "dev"

var (
	configPath string
	noColor    bool
)

var rootCmd = &cobra.Command{
	Use:           "aigw",
	Short:         "Local AI gateway with fallback routing, document Q&A and conversation memory",
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if _, ok := os.LookupEnv("NO_COLOR"); ok {
			noColor = true
		}
	},
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf("aigw version %s\n", version))
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to a YAML or JSON config file")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")

	rootCmd.AddCommand(serveCmd, stopCmd, statusCmd)
	rootCmd.AddCommand(askCmd, chatCmd, ingestCmd, describeCmd, forgetCmd, purgeCmd, mcpCmd, configCmd)
}

// loadConfig reads the config file named by --config, or the platform
// default when the flag is unset.
func loadConfig() (config.Config, error) {
	return config.LoadFile(configPath)
}

func main() {
	// A .env file in the working directory is optional.
	_ = godotenv.Load()

	if err := rootCmd.Execute(); err != nil {
		printError("%v", err)
		os.Exit(1)
	}
}
