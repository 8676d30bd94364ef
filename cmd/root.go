package cmd

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "faceid",
	Short: "Face identity resolution for passwordless login",
	Long: `faceid enrolls people from one or more face captures and resolves a
login capture to the enrolled identity it belongs to.

Enrollments are kept in memory for matching and persisted to PostgreSQL
(pgvector), MariaDB or a local file. Configuration comes from environment
variables, optionally loaded from a .env file.`,
	SilenceUsage: true,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
}

func initConfig() {
	// .env file is optional, don't fail if not found
	_ = godotenv.Load()
}
