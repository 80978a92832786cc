package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

const (
	serviceName    = "atlas-capture"
	serviceVersion = "1.0.0"
)

func versionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the agent version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("%s %s\n", serviceName, serviceVersion)
		},
	}
}
