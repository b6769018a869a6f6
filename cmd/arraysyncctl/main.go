package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	cfgFile      string
	databasePath string
	keyFile      string
)

var rootCmd = &cobra.Command{
	Use:   "arraysyncctl",
	Short: "Manage the storage arrays known to arraysync",
	Long: `arraysyncctl registers storage arrays, lists what was collected from
them, triggers an immediate sync and removes arrays. It works directly on the
manager database and takes its sync locks from the configured lock backend.
With the default "database" backend, or with "lease", the locks are shared
with the manager and sync or remove can run while it is up. The "local"
backend only excludes work inside one process; do not run sync or remove
beside a manager configured with it.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default /etc/arraysync/config.yaml when present)")
	rootCmd.PersistentFlags().StringVar(&databasePath, "database", "", "database path, overrides the config file")
	rootCmd.PersistentFlags().StringVar(&keyFile, "encryption-key-file", "", "encryption key file, overrides the config file")

	rootCmd.AddCommand(registerCmd(), listCmd(), syncCmd(), removeCmd(), alertSourceCmd(), clearAlertCmd(), driversCmd())
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
