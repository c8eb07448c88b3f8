package cmd

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

var repoCmd = &cobra.Command{
	Use:   "repo",
	Short: "Manage repositories",
}

var repoCreateCmd = &cobra.Command{
	Use:   "create <ref> <descr>",
	Short: "Create a repository",
	Long:  "Create a repository with a generated UUID, or pass --uuid to pick one.",
	Args:  cobra.ExactArgs(2),
	RunE:  runRepoCreate,
}

var repoListCmd = &cobra.Command{
	Use:   "list <ref>",
	Short: "List repositories",
	Args:  cobra.ExactArgs(1),
	RunE:  runRepoList,
}

var repoUUID string

func init() {
	repoCreateCmd.Flags().StringVar(&repoUUID, "uuid", "", "repository UUID (default: generated)")
	repoCmd.AddCommand(repoCreateCmd)
	repoCmd.AddCommand(repoListCmd)
	rootCmd.AddCommand(repoCmd)
}

func runRepoCreate(cmd *cobra.Command, args []string) (err error) {
	ref, descr := args[0], args[1]

	id := uuid.Nil
	if repoUUID != "" {
		if id, err = uuid.Parse(repoUUID); err != nil {
			return fmt.Errorf("invalid uuid %q: %w", repoUUID, err)
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

	repo, err := g.CreateRepository(context.Background(), id, descr)
	if err != nil {
		return err
	}

	fmt.Println(repo.UUID)
	return nil
}

func runRepoList(cmd *cobra.Command, args []string) (err error) {
	g, err := openGraph(args[0])
	if err != nil {
		return err
	}
	defer func() {
		if cerr := g.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	repos, err := g.Repositories(context.Background())
	if err != nil {
		return err
	}

	for _, repo := range repos {
		fmt.Printf("%s\t%s\n", repo.UUID, repo.Descr)
	}
	if len(repos) == 0 {
		fmt.Println("(no repositories)")
	}
	return nil
}
