package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/spf13/cobra"

	"github.com/coderisk/reviewcore/internal/config"
	"github.com/coderisk/reviewcore/internal/reviewrunner"
	"github.com/coderisk/reviewcore/internal/vcs"
)

var reviewCmd = &cobra.Command{
	Use:   "review",
	Short: "Run a single review for one pull/merge request",
	Long: `review executes the full pipeline against one PR/MR: fetch its diff,
build context from the symbol graph, invoke the review model, filter and
validate its comments, and post the result back to the platform.

With --server, the same flags instead delegate to a running "crisk serve"
gateway's manual-review endpoint rather than running the pipeline here.`,
	RunE: runReview,
}

func init() {
	reviewCmd.Flags().String("platform", "github", "github or gitlab")
	reviewCmd.Flags().String("repo", "", "repo slug, e.g. owner/name (required)")
	reviewCmd.Flags().Int("pr", 0, "pull/merge request number (required)")
	reviewCmd.Flags().String("base-branch", "main", "base branch the symbol graph was indexed against")
	reviewCmd.Flags().Bool("dry-run", false, "print what would be posted instead of posting it")
	reviewCmd.Flags().Bool("incremental", true, "skip review if the platform's iteration watermark hasn't advanced")
	reviewCmd.Flags().Bool("force-full", false, "ignore the watermark and always review the current diff")

	reviewCmd.Flags().String("server", "", "delegate to a running serve gateway at this base URL instead of running locally")
	reviewCmd.Flags().String("api-key", "", "bearer token for --server")
	reviewCmd.Flags().String("repo-id", "", "stable repo identifier to send with --server, e.g. github:owner/name")

	_ = reviewCmd.MarkFlagRequired("repo")
	_ = reviewCmd.MarkFlagRequired("pr")
}

func runReview(cmd *cobra.Command, args []string) error {
	platform, _ := cmd.Flags().GetString("platform")
	repo, _ := cmd.Flags().GetString("repo")
	pr, _ := cmd.Flags().GetInt("pr")
	baseBranch, _ := cmd.Flags().GetString("base-branch")
	dryRun, _ := cmd.Flags().GetBool("dry-run")
	incremental, _ := cmd.Flags().GetBool("incremental")
	forceFull, _ := cmd.Flags().GetBool("force-full")
	server, _ := cmd.Flags().GetString("server")

	if forceFull {
		incremental = false
	}

	if server != "" {
		return runReviewViaServer(cmd, server, platform, repo, pr, baseBranch, dryRun)
	}

	if result := cfg.Validate(config.ValidationContextReview); result.HasErrors() {
		return fmt.Errorf("review: %s", result.Error())
	}

	ctx := context.Background()
	deps, err := buildDependencies(ctx)
	if err != nil {
		return err
	}

	adapters := map[vcs.Platform]vcs.Adapter{}
	if cfg.GitHub.Token != "" {
		adapters[vcs.PlatformGitHub] = vcs.NewGitHubAdapter(cfg.GitHub.Token, cfg.GitHub.RateLimit, logger)
	}
	if cfg.GitLab.Token != "" {
		gl, err := vcs.NewGitLabAdapter(cfg.GitLab.Token, cfg.GitLab.BaseURL, cfg.GitLab.RateLimit, logger)
		if err != nil {
			return fmt.Errorf("review: gitlab adapter: %w", err)
		}
		adapters[vcs.PlatformGitLab] = gl
	}

	if err := deps.cache.Warmup(ctx); err != nil {
		logger.WithError(err).Warn("review: graph cache warmup failed")
	}

	runner := reviewrunner.New(
		adapters,
		deps.cache,
		deps.st,
		deps.retriever,
		deps.model,
		deps.embedder,
		deps.feedbackSvc,
		cfg.Retrieval,
		cfg.Feedback.BaseURL,
		logger,
	)

	vcsPlatform := vcs.Platform(platform)
	result, err := runner.Run(ctx, reviewrunner.Request{
		Platform:    vcsPlatform,
		RepoID:      platform + ":" + repo,
		RepoSlug:    repo,
		PRNumber:    pr,
		BaseBranch:  baseBranch,
		Incremental: incremental,
		DryRun:      dryRun,
	})
	if err != nil {
		return fmt.Errorf("review: %w", err)
	}

	if result.Skipped {
		fmt.Println("skipped: iteration watermark hadn't advanced (use --force-full to override)")
		return nil
	}

	if dryRun {
		out, _ := json.MarshalIndent(result, "", "  ")
		fmt.Println(string(out))
		return nil
	}

	fmt.Printf("posted %d comments, verdict %s\n", result.PostedCount, result.Verdict)
	return nil
}

func runReviewViaServer(cmd *cobra.Command, server, platform, repo string, pr int, baseBranch string, dryRun bool) error {
	apiKey, _ := cmd.Flags().GetString("api-key")
	repoID, _ := cmd.Flags().GetString("repo-id")
	if repoID == "" {
		repoID = platform + ":" + repo
	}

	body, err := json.Marshal(map[string]interface{}{
		"platform":    platform,
		"repo_slug":   repo,
		"repo_id":     repoID,
		"pr_number":   pr,
		"base_branch": baseBranch,
		"dry_run":     dryRun,
	})
	if err != nil {
		return fmt.Errorf("review: encode request: %w", err)
	}

	req, err := http.NewRequest(http.MethodPost, server+"/api/review", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("review: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+apiKey)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("review: request to %s failed: %w", server, err)
	}
	defer resp.Body.Close()

	var out bytes.Buffer
	if _, err := out.ReadFrom(resp.Body); err != nil {
		return fmt.Errorf("review: read response: %w", err)
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("review: server returned %s: %s", resp.Status, out.String())
	}
	fmt.Println(out.String())
	return nil
}
