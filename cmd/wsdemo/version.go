package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rickgao/wsdemo/internal/version"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number of wsdemo",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "wsdemo version %s\n", version.String())
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
