package cmd

import (
	"github.com/spf13/cobra"

	"github.com/troylu8/chuuni-keys-server/server"
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Start the chart hosting server",
	Long:  `Start the HTTP server that serves chart listings, uploads, downloads, updates and deletions.`,
	Run: func(cmd *cobra.Command, args []string) {
		server.Start()
	},
}

func init() {
	rootCmd.AddCommand(serverCmd)
}
