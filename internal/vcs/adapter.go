// Package vcs unifies the GitHub and GitLab surfaces the review runner
// needs behind one Adapter interface (C11). GitHub tracks review state
// with a "checkpoint" commit SHA; GitLab tracks it with a monotonic
// "iteration" counter. Both are represented here as a Watermark so the
// rest of the system never branches on platform.
package vcs

import "context"

// Platform names a VCS backend.
type Platform string

const (
	PlatformGitHub Platform = "github"
	PlatformGitLab Platform = "gitlab"
)

// Hunk is one unified-diff hunk.
type Hunk struct {
	OldStart int
	OldLines int
	NewStart int
	NewLines int
	Lines    []string // includes the leading +/-/space marker
}

// DiffFile is the changed-lines view of one file in a pull/merge request.
type DiffFile struct {
	Path    string
	OldPath string
	Hunks   []Hunk
}

// Diff is the full changed-files view of a pull/merge request.
type Diff struct {
	Files []DiffFile
}

// Watermark is the last-reviewed position in a PR/MR's history. Both
// platforms resolve it to a position that only grows as new commits
// land — the PR's commit count for GitHub, the MR's diff-version count
// for GitLab — so a single int64 comparison works for both; see store's
// pr_review_state table.
type Watermark struct {
	Iteration int64
	Ref       string // head commit SHA (GitHub: the PR head; GitLab: the newest diff version's head)
}

// Comment is one inline comment to post back to the platform.
type Comment struct {
	Path string
	Line int
	Body string
}

// Verdict is the review-level recommendation the runner asks the
// platform to record alongside the inline comments.
type Verdict string

const (
	VerdictApprove        Verdict = "approve"
	VerdictRequestChanges Verdict = "request_changes"
	VerdictComment        Verdict = "comment"
)

// Review is the full bundle the runner posts back to the platform: a
// top-level summary and verdict plus the comments that survived
// precision filtering and diff-line validation.
type Review struct {
	Summary  string
	Verdict  Verdict
	Comments []Comment
}

// Adapter is the VCS boundary the review runner depends on.
type Adapter interface {
	Platform() Platform

	// FetchDiff returns the unified diff for prNumber in repoSlug
	// ("owner/name"). When sinceIteration is positive and still within
	// range, only the commits pushed after that watermark are returned;
	// otherwise (sinceIteration <= 0, or stale/out of range) the full
	// current diff is returned.
	FetchDiff(ctx context.Context, repoSlug string, prNumber int, sinceIteration int64) (*Diff, error)

	// CurrentWatermark returns the platform's current position so the
	// runner can decide whether this PR has new, unreviewed changes.
	CurrentWatermark(ctx context.Context, repoSlug string, prNumber int) (Watermark, error)

	// PostReview posts one review — summary, verdict, and inline
	// comments — as a single platform-native submission where supported.
	PostReview(ctx context.Context, repoSlug string, prNumber int, review Review) error
}
