package cmd

import (
	"github.com/carousell/ct-go/pkg/logger/log"
	"github.com/spf13/cobra"

	"github.com/nftcoinmkt/aibot/internal/app"
	"github.com/nftcoinmkt/aibot/internal/server"
	"github.com/nftcoinmkt/aibot/internal/usecase"
)

var rootCmd = &cobra.Command{
	Use:           "aibot",
	SilenceUsage:  true,
	SilenceErrors: true,
	Run: func(cmd *cobra.Command, args []string) {
		app.Invoke(
			server.StartServer,
			usecase.StartWatchers,
		).Run()
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatal(err)
	}
}
