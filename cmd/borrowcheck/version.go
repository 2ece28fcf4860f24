package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kolkov/borrowcell/cell"
)

func newVersionCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		RunE: func(cmd *cobra.Command, _ []string) error {
			info := cell.GetInfo()
			fmt.Fprintf(cmd.OutOrStdout(), "borrowcheck version %s (variants: %s)\n",
				info.Version, strings.Join(info.Variants, ", "))

			if req := a.v.GetString("require"); req != "" && !cell.Compatible(req) {
				return fmt.Errorf("borrowcell %s does not satisfy required version %s", info.Version, req)
			}
			return nil
		},
	}
	cmd.Flags().String("require", "", "fail unless the runtime satisfies this minimum version")
	a.bind(cmd, "require")
	return cmd
}
