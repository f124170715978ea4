package main

import (
	"github.com/spf13/cobra"
)

var callCmd = &cobra.Command{
	Use:   "call <object> <method> [json]",
	Short: "Call a method and print its reply",
	Example: `  ubus call system board
  ubus call network.interface.lan status
  ubus call service list '{"name":"dnsmasq"}'`,
	Args: cobra.RangeArgs(2, 3),
	RunE: func(cmd *cobra.Command, args []string) error {
		params, err := parseParams(args, 2)
		if err != nil {
			return err
		}

		c, err := connect(cmd.Context())
		if err != nil {
			return err
		}
		defer c.Close()

		result, err := c.Call(cmd.Context(), args[0], args[1], params)
		if err != nil {
			return err
		}
		return printJSON(result)
	},
}
