package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var validateCmd = &cobra.Command{
	Use:   "validate [config.toml]",
	Short: "Check the configuration and protocol set without binding",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runValidate,
}

func init() {
	rootCmd.AddCommand(validateCmd)
}

func runValidate(cmd *cobra.Command, args []string) error {
	rt, err := setup(cmd, args)
	if err != nil {
		return err
	}

	fmt.Printf("configuration OK: %d interfaces, %d request filters, listen %s, upstream %s\n",
		rt.schema.Len(), len(rt.cfg.Filter.Requests),
		rt.cfg.Socket.ListenPath(), rt.cfg.Socket.UpstreamPath())
	return nil
}
