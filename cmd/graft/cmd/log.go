package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var logCmd = &cobra.Command{
	Use:   "log <ref> <repo-uuid>/<branch-uuid>",
	Short: "Show branch history",
	Long:  "Print the branch head followed by its ancestors, nearest first.",
	Args:  cobra.ExactArgs(2),
	RunE:  runLog,
}

func init() {
	rootCmd.AddCommand(logCmd)
}

func runLog(cmd *cobra.Command, args []string) (err error) {
	ref, spec := args[0], args[1]

	g, err := openGraph(ref)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := g.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	ctx := context.Background()

	branch, err := resolveBranch(ctx, g, spec)
	if err != nil {
		return err
	}

	head, err := g.Get(ctx, branch.Head)
	if err != nil {
		return err
	}
	fmt.Printf("%s\t(head)\n", head.Hash)

	for id, err := range g.Ancestors(ctx, branch.Head) {
		if err != nil {
			return err
		}
		change, err := g.Get(ctx, id)
		if err != nil {
			return err
		}
		fmt.Println(change.Hash)
	}

	return nil
}
