package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var pushCmd = &cobra.Command{
	Use:   "push <ref> [tags...]",
	Short: "Push to remote registry",
	Long:  "Push the local change graph and registry index to an OCI registry. Optionally push to additional tags.",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runPush,
}

func init() {
	rootCmd.AddCommand(pushCmd)
}

func runPush(cmd *cobra.Command, args []string) (err error) {
	ref := args[0]
	tags := args[1:]

	g, err := openGraph(ref)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := g.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	if err := g.Push(context.Background(), tags...); err != nil {
		return fmt.Errorf("push failed: %w", err)
	}

	return nil
}
