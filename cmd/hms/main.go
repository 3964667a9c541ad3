package main

import (
	"context"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	rootCmd := &cobra.Command{
		Use:          "hms",
		Short:        "Hospital management services",
		SilenceUsage: true,
	}

	rootCmd.AddCommand(patientsCmd())
	rootCmd.AddCommand(medicalHistoryCmd())
	rootCmd.AddCommand(requestHistoryCmd())

	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}
