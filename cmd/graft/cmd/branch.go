package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/aweris/graft"
)

var branchCmd = &cobra.Command{
	Use:   "branch",
	Short: "Manage branches",
}

var branchCreateCmd = &cobra.Command{
	Use:   "create <ref> <repo-uuid> <descr>",
	Short: "Create a branch",
	Long:  "Create a branch in a repository. The head starts at --head (a content hash) or, when omitted, at a new empty change.",
	Args:  cobra.ExactArgs(3),
	RunE:  runBranchCreate,
}

var branchListCmd = &cobra.Command{
	Use:   "list <ref> <repo-uuid>",
	Short: "List branches in a repository",
	Args:  cobra.ExactArgs(2),
	RunE:  runBranchList,
}

var branchHead string

func init() {
	branchCreateCmd.Flags().StringVar(&branchHead, "head", "", "content hash of the initial head (default: new empty change)")
	branchCmd.AddCommand(branchCreateCmd)
	branchCmd.AddCommand(branchListCmd)
	rootCmd.AddCommand(branchCmd)
}

func runBranchCreate(cmd *cobra.Command, args []string) (err error) {
	ref, repoArg, descr := args[0], args[1], args[2]

	repoUUID, err := uuid.Parse(repoArg)
	if err != nil {
		return fmt.Errorf("invalid repository uuid %q: %w", repoArg, err)
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

	repo, err := g.Repository(ctx, repoUUID)
	if err != nil {
		return err
	}

	var head graft.ChangeID
	if branchHead != "" {
		id, ok, err := g.Lookup(ctx, branchHead)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("no change with hash %s: %w", branchHead, graft.ErrNotFound)
		}
		head = id
	} else {
		if head, err = g.InsertChange(ctx, nil); err != nil {
			return err
		}
	}

	branch, err := g.CreateBranch(ctx, repo.ID, uuid.Nil, descr, head)
	if err != nil {
		return err
	}

	fmt.Println(branch.UUID)
	return nil
}

func runBranchList(cmd *cobra.Command, args []string) (err error) {
	ref, repoArg := args[0], args[1]

	repoUUID, err := uuid.Parse(repoArg)
	if err != nil {
		return fmt.Errorf("invalid repository uuid %q: %w", repoArg, err)
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

	repo, err := g.Repository(ctx, repoUUID)
	if err != nil {
		return err
	}

	branches, err := g.Branches(ctx, repo.ID)
	if err != nil {
		return err
	}

	for _, b := range branches {
		head, err := g.Get(ctx, b.Head)
		if err != nil {
			return err
		}
		fmt.Printf("%s\t%s\t%s\n", b.UUID, head.Hash, b.Descr)
	}
	if len(branches) == 0 {
		fmt.Println("(no branches)")
	}
	return nil
}

// resolveBranch parses a "<repo-uuid>/<branch-uuid>" spec.
func resolveBranch(ctx context.Context, g *graft.Graph, spec string) (*graft.Branch, error) {
	repoArg, branchArg, ok := strings.Cut(spec, "/")
	if !ok {
		return nil, fmt.Errorf("expected <repo-uuid>/<branch-uuid>, got %q", spec)
	}

	repoUUID, err := uuid.Parse(repoArg)
	if err != nil {
		return nil, fmt.Errorf("invalid repository uuid %q: %w", repoArg, err)
	}
	branchUUID, err := uuid.Parse(branchArg)
	if err != nil {
		return nil, fmt.Errorf("invalid branch uuid %q: %w", branchArg, err)
	}

	repo, err := g.Repository(ctx, repoUUID)
	if err != nil {
		return nil, err
	}
	return g.Branch(ctx, repo.ID, branchUUID)
}
