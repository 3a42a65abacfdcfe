package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

// Version is stamped at build time via -ldflags.
var Version = "dev"

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the wl-mitm version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("wl-mitm", Version)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
