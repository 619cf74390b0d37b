package vcs

import (
	"context"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
	gitlab "github.com/xanzy/go-gitlab"
	"golang.org/x/time/rate"
)

// GitLabAdapter implements Adapter against the GitLab REST API. GitLab
// exposes an actual per-MR "iteration" via its diff-version history:
// every push creates a new diff version, so the version count is a
// real, monotonic Watermark.Iteration rather than a derived one.
type GitLabAdapter struct {
	client      *gitlab.Client
	rateLimiter *rate.Limiter
	logger      *logrus.Logger
}

// NewGitLabAdapter creates a GitLab-backed adapter authenticated with
// token against baseURL (empty for gitlab.com).
func NewGitLabAdapter(token, baseURL string, rateLimit int, logger *logrus.Logger) (*GitLabAdapter, error) {
	if logger == nil {
		logger = logrus.New()
	}
	if rateLimit <= 0 {
		rateLimit = 10
	}

	opts := []gitlab.ClientOptionFunc{}
	if baseURL != "" {
		opts = append(opts, gitlab.WithBaseURL(baseURL))
	}
	client, err := gitlab.NewClient(token, opts...)
	if err != nil {
		return nil, fmt.Errorf("vcs: gitlab: create client: %w", err)
	}

	return &GitLabAdapter{
		client:      client,
		rateLimiter: rate.NewLimiter(rate.Limit(rateLimit), 1),
		logger:      logger,
	}, nil
}

func (a *GitLabAdapter) Platform() Platform { return PlatformGitLab }

func (a *GitLabAdapter) FetchDiff(ctx context.Context, repoSlug string, mrIID int, sinceIteration int64) (*Diff, error) {
	if sinceIteration > 0 {
		diff, ok, err := a.fetchIncrementalDiff(ctx, repoSlug, mrIID, sinceIteration)
		if err != nil {
			return nil, err
		}
		if ok {
			return diff, nil
		}
	}

	if err := a.rateLimiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("vcs: gitlab: rate limiter: %w", err)
	}

	changes, _, err := a.client.MergeRequests.GetMergeRequestChanges(repoSlug, mrIID, nil, gitlab.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("vcs: gitlab: get mr changes: %w", err)
	}

	return diffFilesToUnifiedDiff(changes.Changes)
}

// fetchIncrementalDiff compares the head commit of the diff version at
// position sinceIteration against the MR's current head, so only the
// commits pushed since that watermark are returned. ok is false when the
// MR has as few or fewer diff versions than sinceIteration (a stale
// watermark), telling the caller to fall back to the full MR diff.
func (a *GitLabAdapter) fetchIncrementalDiff(ctx context.Context, repoSlug string, mrIID int, sinceIteration int64) (*Diff, bool, error) {
	if err := a.rateLimiter.Wait(ctx); err != nil {
		return nil, false, fmt.Errorf("vcs: gitlab: rate limiter: %w", err)
	}
	versions, _, err := a.client.MergeRequests.GetMergeRequestDiffVersions(repoSlug, mrIID, nil, gitlab.WithContext(ctx))
	if err != nil {
		return nil, false, fmt.Errorf("vcs: gitlab: list diff versions: %w", err)
	}
	if sinceIteration >= int64(len(versions)) {
		return nil, false, nil
	}

	// GetMergeRequestDiffVersions returns newest first, so the version
	// reached after sinceIteration pushes sits at this offset from the end.
	baseVersion := versions[len(versions)-int(sinceIteration)]
	headVersion := versions[0]

	if err := a.rateLimiter.Wait(ctx); err != nil {
		return nil, false, fmt.Errorf("vcs: gitlab: rate limiter: %w", err)
	}
	cmp, _, err := a.client.Repositories.Compare(repoSlug, &gitlab.CompareOptions{
		From: gitlab.String(baseVersion.HeadCommitSHA),
		To:   gitlab.String(headVersion.HeadCommitSHA),
	}, gitlab.WithContext(ctx))
	if err != nil {
		return nil, false, fmt.Errorf("vcs: gitlab: compare commits: %w", err)
	}

	diff, err := diffFilesToUnifiedDiff(cmp.Diffs)
	if err != nil {
		return nil, false, err
	}
	return diff, true, nil
}

// diffFilesToUnifiedDiff renders GitLab's per-file change list into the
// unified-diff text ParseUnifiedDiff expects.
func diffFilesToUnifiedDiff(changes []*gitlab.Diff) (*Diff, error) {
	var raw strings.Builder
	for _, c := range changes {
		raw.WriteString(fmt.Sprintf("diff --git a/%s b/%s\n", c.OldPath, c.NewPath))
		raw.WriteString(fmt.Sprintf("--- a/%s\n", c.OldPath))
		raw.WriteString(fmt.Sprintf("+++ b/%s\n", c.NewPath))
		raw.WriteString(c.Diff)
		if !strings.HasSuffix(c.Diff, "\n") {
			raw.WriteString("\n")
		}
	}
	return ParseUnifiedDiff(raw.String())
}

// CurrentWatermark returns the merge request's diff-version count as the
// iteration — every push creates a new version, so a change since the
// last recorded value means the MR has moved since this system last
// looked at it.
func (a *GitLabAdapter) CurrentWatermark(ctx context.Context, repoSlug string, mrIID int) (Watermark, error) {
	if err := a.rateLimiter.Wait(ctx); err != nil {
		return Watermark{}, fmt.Errorf("vcs: gitlab: rate limiter: %w", err)
	}

	versions, _, err := a.client.MergeRequests.GetMergeRequestDiffVersions(repoSlug, mrIID, nil, gitlab.WithContext(ctx))
	if err != nil {
		return Watermark{}, fmt.Errorf("vcs: gitlab: list diff versions: %w", err)
	}
	if len(versions) == 0 {
		return Watermark{}, fmt.Errorf("vcs: gitlab: mr %d has no diff versions", mrIID)
	}

	return Watermark{Iteration: int64(len(versions)), Ref: versions[0].HeadCommitSHA}, nil
}

func (a *GitLabAdapter) PostReview(ctx context.Context, repoSlug string, mrIID int, rv Review) error {
	if len(rv.Comments) == 0 && rv.Summary == "" {
		return nil
	}
	if err := a.rateLimiter.Wait(ctx); err != nil {
		return fmt.Errorf("vcs: gitlab: rate limiter: %w", err)
	}

	mr, _, err := a.client.MergeRequests.GetMergeRequest(repoSlug, mrIID, nil, gitlab.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("vcs: gitlab: get mr for position: %w", err)
	}

	for _, c := range rv.Comments {
		c := c
		opts := &gitlab.CreateMergeRequestDiscussionOptions{
			Body: gitlab.String(c.Body),
			Position: &gitlab.PositionOptions{
				PositionType: gitlab.String("text"),
				NewPath:      gitlab.String(c.Path),
				NewLine:      gitlab.Int(c.Line),
				BaseSHA:      gitlab.String(mr.DiffRefs.BaseSHA),
				StartSHA:     gitlab.String(mr.DiffRefs.StartSHA),
				HeadSHA:      gitlab.String(mr.DiffRefs.HeadSHA),
			},
		}
		if _, _, err := a.client.Discussions.CreateMergeRequestDiscussion(repoSlug, mrIID, opts, gitlab.WithContext(ctx)); err != nil {
			return fmt.Errorf("vcs: gitlab: create discussion on %s:%d: %w", c.Path, c.Line, err)
		}
	}

	if rv.Summary != "" {
		note := gitlab.CreateMergeRequestNoteOptions{Body: gitlab.String(fmt.Sprintf("**%s**\n\n%s", rv.Verdict, rv.Summary))}
		if _, _, err := a.client.Notes.CreateMergeRequestNote(repoSlug, mrIID, &note, gitlab.WithContext(ctx)); err != nil {
			return fmt.Errorf("vcs: gitlab: post summary note: %w", err)
		}
	}

	// GitLab has no native "request changes" state; approve is the only
	// verdict with a platform-level effect worth calling out here.
	if rv.Verdict == VerdictApprove {
		if _, _, err := a.client.MergeRequestApprovals.ApproveMergeRequest(repoSlug, mrIID, nil, gitlab.WithContext(ctx)); err != nil {
			a.logger.WithError(err).Warn("vcs: gitlab: approve merge request failed")
		}
	}

	a.logger.WithFields(logrus.Fields{"repo": repoSlug, "mr": mrIID, "comments": len(rv.Comments), "verdict": rv.Verdict}).
		Info("vcs: gitlab: posted review")
	return nil
}
