package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"darkages-swarm/build"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print build information",
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := json.MarshalIndent(build.GetBuildInfo(), "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(data))
		return nil
	},
}
