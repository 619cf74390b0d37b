package vcs

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/google/go-github/v57/github"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// GitHubAdapter implements Adapter against the GitHub REST API using a
// rate-limited client.
type GitHubAdapter struct {
	client      *github.Client
	rateLimiter *rate.Limiter
	logger      *logrus.Logger
}

// NewGitHubAdapter creates a GitHub-backed adapter authenticated with
// token, rate limited to rateLimit requests/sec.
func NewGitHubAdapter(token string, rateLimit int, logger *logrus.Logger) *GitHubAdapter {
	if logger == nil {
		logger = logrus.New()
	}
	if rateLimit <= 0 {
		rateLimit = 10
	}
	return &GitHubAdapter{
		client:      github.NewClient(nil).WithAuthToken(token),
		rateLimiter: rate.NewLimiter(rate.Limit(rateLimit), 1),
		logger:      logger,
	}
}

func (a *GitHubAdapter) Platform() Platform { return PlatformGitHub }

func splitSlug(repoSlug string) (owner, name string, err error) {
	parts := strings.SplitN(repoSlug, "/", 2)
	if len(parts) != 2 {
		return "", "", fmt.Errorf("vcs: github: malformed repo slug %q", repoSlug)
	}
	return parts[0], parts[1], nil
}

func (a *GitHubAdapter) FetchDiff(ctx context.Context, repoSlug string, prNumber int, sinceIteration int64) (*Diff, error) {
	owner, name, err := splitSlug(repoSlug)
	if err != nil {
		return nil, err
	}

	if sinceIteration > 0 {
		diff, ok, err := a.fetchIncrementalDiff(ctx, owner, name, prNumber, sinceIteration)
		if err != nil {
			return nil, err
		}
		if ok {
			return diff, nil
		}
	}

	if err := a.rateLimiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("vcs: github: rate limiter: %w", err)
	}

	req, err := a.client.NewRequest("GET", fmt.Sprintf("repos/%s/%s/pulls/%d", owner, name, prNumber), nil)
	if err != nil {
		return nil, fmt.Errorf("vcs: github: build diff request: %w", err)
	}
	req.Header.Set("Accept", "application/vnd.github.v3.diff")

	resp, err := a.client.Do(ctx, req, nil)
	if err != nil {
		return nil, fmt.Errorf("vcs: github: fetch diff: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("vcs: github: fetch diff: status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("vcs: github: read diff body: %w", err)
	}

	return ParseUnifiedDiff(string(body))
}

// fetchIncrementalDiff builds a diff covering only the commits pushed
// since sinceIteration, using GitHub's compare API between the commit at
// that position in the PR's commit list and the PR's current head. ok
// is false when the PR has as few or fewer commits than sinceIteration
// (a stale watermark, e.g. after a force-push), telling the caller to
// fall back to the full PR diff.
func (a *GitHubAdapter) fetchIncrementalDiff(ctx context.Context, owner, name string, prNumber int, sinceIteration int64) (*Diff, bool, error) {
	if err := a.rateLimiter.Wait(ctx); err != nil {
		return nil, false, fmt.Errorf("vcs: github: rate limiter: %w", err)
	}
	commits, _, err := a.client.PullRequests.ListCommits(ctx, owner, name, prNumber, &github.ListOptions{PerPage: 250})
	if err != nil {
		return nil, false, fmt.Errorf("vcs: github: list pr commits: %w", err)
	}
	if sinceIteration >= int64(len(commits)) {
		return nil, false, nil
	}

	baseSHA := commits[sinceIteration-1].GetSHA()
	headSHA := commits[len(commits)-1].GetSHA()

	if err := a.rateLimiter.Wait(ctx); err != nil {
		return nil, false, fmt.Errorf("vcs: github: rate limiter: %w", err)
	}
	cmp, _, err := a.client.Repositories.CompareCommits(ctx, owner, name, baseSHA, headSHA, nil)
	if err != nil {
		return nil, false, fmt.Errorf("vcs: github: compare commits: %w", err)
	}

	var raw strings.Builder
	for _, f := range cmp.Files {
		path := f.GetFilename()
		oldPath := path
		if f.GetPreviousFilename() != "" {
			oldPath = f.GetPreviousFilename()
		}
		patch := f.GetPatch()
		if patch == "" {
			continue
		}
		raw.WriteString(fmt.Sprintf("diff --git a/%s b/%s\n", oldPath, path))
		raw.WriteString(fmt.Sprintf("--- a/%s\n", oldPath))
		raw.WriteString(fmt.Sprintf("+++ b/%s\n", path))
		raw.WriteString(patch)
		if !strings.HasSuffix(patch, "\n") {
			raw.WriteString("\n")
		}
	}

	diff, err := ParseUnifiedDiff(raw.String())
	if err != nil {
		return nil, false, err
	}
	return diff, true, nil
}

// CurrentWatermark uses the PR's head commit SHA as the reference and
// the PR's commit count as the monotonic checkpoint — GitHub has no
// iteration counter like GitLab's MR version, but the number of commits
// in the PR only grows as new pushes land, which is exactly the
// property checkWatermark needs.
func (a *GitHubAdapter) CurrentWatermark(ctx context.Context, repoSlug string, prNumber int) (Watermark, error) {
	owner, name, err := splitSlug(repoSlug)
	if err != nil {
		return Watermark{}, err
	}
	if err := a.rateLimiter.Wait(ctx); err != nil {
		return Watermark{}, fmt.Errorf("vcs: github: rate limiter: %w", err)
	}

	pr, _, err := a.client.PullRequests.Get(ctx, owner, name, prNumber)
	if err != nil {
		return Watermark{}, fmt.Errorf("vcs: github: get pr: %w", err)
	}

	sha := pr.GetHead().GetSHA()
	return Watermark{Ref: sha, Iteration: int64(pr.GetCommits())}, nil
}

func (a *GitHubAdapter) PostReview(ctx context.Context, repoSlug string, prNumber int, rv Review) error {
	if len(rv.Comments) == 0 && rv.Summary == "" {
		return nil
	}
	owner, name, err := splitSlug(repoSlug)
	if err != nil {
		return err
	}
	if err := a.rateLimiter.Wait(ctx); err != nil {
		return fmt.Errorf("vcs: github: rate limiter: %w", err)
	}

	pr, _, err := a.client.PullRequests.Get(ctx, owner, name, prNumber)
	if err != nil {
		return fmt.Errorf("vcs: github: get pr for review: %w", err)
	}

	draftComments := make([]*github.DraftReviewComment, 0, len(rv.Comments))
	for _, c := range rv.Comments {
		c := c
		line := c.Line
		draftComments = append(draftComments, &github.DraftReviewComment{
			Path: &c.Path,
			Line: &line,
			Body: &c.Body,
		})
	}

	review := &github.PullRequestReviewRequest{
		CommitID: pr.Head.SHA,
		Event:    github.String(githubReviewEvent(rv.Verdict)),
		Body:     github.String(rv.Summary),
		Comments: draftComments,
	}

	if _, _, err := a.client.PullRequests.CreateReview(ctx, owner, name, prNumber, review); err != nil {
		return fmt.Errorf("vcs: github: create review: %w", err)
	}
	a.logger.WithFields(logrus.Fields{"repo": repoSlug, "pr": prNumber, "comments": len(rv.Comments), "verdict": rv.Verdict}).
		Info("vcs: github: posted review")
	return nil
}

// githubReviewEvent maps our platform-agnostic Verdict onto GitHub's
// review event names. request_changes always maps to REQUEST_CHANGES;
// GitHub rejects that event when the PR author is also the authenticated
// reviewer, and CreateReview's error surfaces that case.
func githubReviewEvent(v Verdict) string {
	switch v {
	case VerdictApprove:
		return "APPROVE"
	case VerdictRequestChanges:
		return "REQUEST_CHANGES"
	default:
		return "COMMENT"
	}
}
