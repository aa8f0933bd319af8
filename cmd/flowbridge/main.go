package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/flowbridge/flowbridge/internal/version"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "flowbridge",
		Short: "Telegram front end for a Voiceflow dialog engine",
	}
	rootCmd.AddCommand(
		&cobra.Command{
			Use:   "serve",
			Short: "Run the bot and the operational HTTP server",
			Run: func(cmd *cobra.Command, args []string) {
				runServe()
			},
		},
		&cobra.Command{
			Use:   "version",
			Short: "Print the build version",
			Run: func(cmd *cobra.Command, args []string) {
				fmt.Println(version.GetInfo())
			},
		},
	)
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
