package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/coderisk/reviewcore/internal/config"
	"github.com/coderisk/reviewcore/internal/indexer"
	"github.com/coderisk/reviewcore/internal/progress"
)

var indexCmd = &cobra.Command{
	Use:   "index [path]",
	Short: "Build or refresh the symbol graph for a repository",
	Long: `index parses a repository into the caller/callee symbol graph the
review pipeline retrieves context from. Run it once before serve so the
first review doesn't pay a cold-cache scan.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runIndex,
}

func init() {
	indexCmd.Flags().String("repo-id", "", "stable repo identifier, e.g. github:owner/name (required)")
	indexCmd.Flags().String("branch", "main", "branch this scan represents")
	indexCmd.Flags().Bool("incremental", false, "only reparse the given --files relative to the last scan")
	indexCmd.Flags().StringSlice("files", nil, "changed files for --incremental (relative to root)")
	indexCmd.Flags().Bool("remove", false, "deregister repo-id entirely (all branches) instead of scanning")
	_ = indexCmd.MarkFlagRequired("repo-id")
}

func runIndex(cmd *cobra.Command, args []string) error {
	rootPath := "."
	if len(args) == 1 {
		rootPath = args[0]
	}

	repoID, _ := cmd.Flags().GetString("repo-id")
	branch, _ := cmd.Flags().GetString("branch")
	incremental, _ := cmd.Flags().GetBool("incremental")
	files, _ := cmd.Flags().GetStringSlice("files")
	remove, _ := cmd.Flags().GetBool("remove")

	if result := cfg.Validate(config.ValidationContextIndex); result.HasErrors() {
		return fmt.Errorf("index: %s", result.Error())
	}

	ctx := context.Background()
	deps, err := buildDependencies(ctx)
	if err != nil {
		return err
	}

	if remove {
		return removeRepo(ctx, deps, repoID)
	}

	bus := progress.New()
	pipeline := indexer.New(deps.registry, deps.st, deps.cache, deps.embedder, bus, logger)

	var result *indexer.Result
	if incremental {
		result, err = pipeline.IncrementalUpdate(ctx, repoID, branch, rootPath, files)
	} else {
		result, err = pipeline.FullScan(ctx, repoID, branch, rootPath)
	}
	if err != nil {
		return fmt.Errorf("index: %w", err)
	}

	fmt.Printf("indexed %s@%s: %d files, %d symbols\n", repoID, branch, result.FilesParsed, result.SymbolsFound)
	return nil
}

// removeRepo deregisters every branch recorded for repoID, clears their
// store rows and the cached graph for all of them in one shot.
func removeRepo(ctx context.Context, deps *dependencies, repoID string) error {
	branches, err := deps.st.ListBranches(ctx)
	if err != nil {
		return fmt.Errorf("index: remove: list branches: %w", err)
	}

	removed := 0
	for _, b := range branches {
		if b.RepoID != repoID {
			continue
		}
		if err := deps.st.DeleteAllForBranch(ctx, repoID, b.Branch); err != nil {
			return fmt.Errorf("index: remove: clear %s@%s: %w", repoID, b.Branch, err)
		}
		if err := deps.st.UnregisterBranch(ctx, repoID, b.Branch); err != nil {
			return fmt.Errorf("index: remove: unregister %s@%s: %w", repoID, b.Branch, err)
		}
		removed++
	}
	deps.cache.EvictRepo(repoID)

	fmt.Printf("removed %s: %d branch(es) deregistered\n", repoID, removed)
	return nil
}
