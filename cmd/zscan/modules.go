package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"zscan/internal/core/probe"
)

func newModulesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "modules",
		Short: "List registered probe modules",
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, name := range probe.Names() {
				fmt.Println(name)
			}
			return nil
		},
	}
}
