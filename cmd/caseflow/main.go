// Command caseflow turns inbound support email into cases.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/gotrs-io/gotrs-caseflow/internal/config"
	"github.com/gotrs-io/gotrs-caseflow/internal/version"
)

var (
	configFileFlag string
	configDirFlag  string
)

var rootCmd = &cobra.Command{
	Use:   "caseflow",
	Short: "Inbound email to support case pipeline",
	Long: `caseflow polls shared mailboxes, links replies to existing cases,
opens and assigns new cases and sends rate-limited acknowledgements.`,
	Version:       version.String(),
	SilenceUsage:  true,
	SilenceErrors: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "caseflow %s\n", rootCmd.Version)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFileFlag, "config", "", "Path to a config file (disables hot reload)")
	rootCmd.PersistentFlags().StringVar(&configDirFlag, "config-dir", ".", "Directory searched for config.yaml")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(processCmd)
	rootCmd.AddCommand(accountsCmd)
	rootCmd.AddCommand(encryptSecretCmd)
}

// loadConfig honours --config before --config-dir.
func loadConfig() (*config.Config, error) {
	if configFileFlag != "" {
		if err := config.LoadFromFile(configFileFlag); err != nil {
			return nil, err
		}
	} else if err := config.Load(configDirFlag); err != nil {
		return nil, err
	}
	return config.Get(), nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
