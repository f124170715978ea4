package main

import (
	"github.com/spf13/cobra"

	"go-ubus/value"
)

var systemInfoCmd = &cobra.Command{
	Use:   "system-info",
	Short: "Print board and runtime information",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := connect(cmd.Context())
		if err != nil {
			return err
		}
		defer c.Close()

		board, err := c.SystemBoard(cmd.Context())
		if err != nil {
			return err
		}
		info, err := c.SystemInfo(cmd.Context())
		if err != nil {
			return err
		}
		return printJSON(value.MapOf("board", board, "info", info))
	},
}

var networkInfoCmd = &cobra.Command{
	Use:   "network-info [iface]",
	Short: "Print interface status, for one interface or all of them",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		iface := ""
		if len(args) == 1 {
			iface = args[0]
		}

		c, err := connect(cmd.Context())
		if err != nil {
			return err
		}
		defer c.Close()

		status, err := c.NetworkStatus(cmd.Context(), iface)
		if err != nil {
			return err
		}
		return printJSON(status)
	},
}
