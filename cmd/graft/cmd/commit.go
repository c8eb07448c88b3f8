package cmd

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
)

var commitCmd = &cobra.Command{
	Use:   "commit <ref> <repo-uuid>/<branch-uuid>",
	Short: "Commit content to a branch",
	Long:  "Read content from --file or stdin, store it as a change on top of the branch head, and advance the head.",
	Args:  cobra.ExactArgs(2),
	RunE:  runCommit,
}

var commitFile string

func init() {
	commitCmd.Flags().StringVarP(&commitFile, "file", "f", "", "read content from file instead of stdin")
	rootCmd.AddCommand(commitCmd)
}

func runCommit(cmd *cobra.Command, args []string) (err error) {
	ref, spec := args[0], args[1]

	var content []byte
	if commitFile != "" {
		if content, err = os.ReadFile(commitFile); err != nil {
			return err
		}
	} else {
		if content, err = io.ReadAll(os.Stdin); err != nil {
			return err
		}
	}

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

	id, err := g.Commit(ctx, branch, content)
	if err != nil {
		return err
	}

	change, err := g.Get(ctx, id)
	if err != nil {
		return err
	}

	fmt.Println(change.Hash)
	return nil
}
