package main

import (
	"fmt"
	"strings"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"go-ubus/registry"
)

var listVerbose bool

var listCmd = &cobra.Command{
	Use:   "list [path]",
	Short: "List objects, optionally matching path or prefix*",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		pattern := ""
		if len(args) == 1 {
			pattern = args[0]
		}

		c, err := connect(cmd.Context())
		if err != nil {
			return err
		}
		defer c.Close()

		objs, err := c.Lookup(cmd.Context(), pattern)
		if err != nil {
			return err
		}
		if !listVerbose {
			for _, obj := range objs {
				fmt.Println(obj.Path)
			}
			return nil
		}
		return pterm.DefaultTable.WithHasHeader().WithHeaderRowSeparator("-").WithData(objectRows(objs)).Render()
	},
}

func init() {
	listCmd.Flags().BoolVarP(&listVerbose, "verbose", "v", false, "show ids and method signatures")
}

func objectRows(objs []registry.ObjectDescriptor) pterm.TableData {
	rows := pterm.TableData{{"Object", "ID", "Method", "Parameters"}}
	for _, obj := range objs {
		id := fmt.Sprintf("0x%08x", obj.ID)
		names := obj.MethodNames()
		if len(names) == 0 {
			rows = append(rows, []string{obj.Path, id, "", ""})
			continue
		}
		for i, name := range names {
			params := make([]string, len(obj.Methods[name]))
			for j, p := range obj.Methods[name] {
				params[j] = p.Name + ":" + p.Type.String()
			}
			path := obj.Path
			if i > 0 {
				path, id = "", ""
			}
			rows = append(rows, []string{path, id, name, strings.Join(params, ", ")})
		}
	}
	return rows
}
