package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	csentryweb "github.com/gregvolny/CSEntryWeb-sub001"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number of csentryweb",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("csentryweb version %s\n", strings.TrimSpace(csentryweb.Version))
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
