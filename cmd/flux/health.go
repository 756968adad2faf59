package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/cuemby/flux/pkg/client"
)

var healthCmd = &cobra.Command{
	Use:   "health ADDR",
	Short: "Check a running flux process's admin health endpoint",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := client.NewClient(args[0])
		if err != nil {
			return fmt.Errorf("flux: connect: %w", err)
		}
		defer c.Close()

		healthy, err := c.Healthy(context.Background())
		if err != nil {
			return fmt.Errorf("flux: health check: %w", err)
		}
		if !healthy {
			fmt.Println("unhealthy")
			os.Exit(1)
		}
		fmt.Println("healthy")
		return nil
	},
}
