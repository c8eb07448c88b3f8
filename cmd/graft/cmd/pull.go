package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var pullCmd = &cobra.Command{
	Use:   "pull <ref>",
	Short: "Pull from remote registry",
	Long:  "Pull the change graph and registry index from an OCI registry into the local store.",
	Args:  cobra.ExactArgs(1),
	RunE:  runPull,
}

func init() {
	rootCmd.AddCommand(pullCmd)
}

func runPull(cmd *cobra.Command, args []string) (err error) {
	ref := args[0]

	g, err := openGraph(ref)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := g.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	if err := g.Pull(context.Background()); err != nil {
		return fmt.Errorf("pull failed: %w", err)
	}

	return nil
}
