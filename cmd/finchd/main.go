package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var version = "dev"

var rootCmd = &cobra.Command{
	Use:   "finchd <command>",
	Short: "Entity event and workflow automation engine",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// A missing .env file is fine; explicit env vars always win.
		if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to load .env: %w", err)
		}
		return nil
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the finchd version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("finchd", version)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(detectCmd)
	rootCmd.AddCommand(rulesCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
