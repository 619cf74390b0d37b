// Package reviewrunner drives one pull/merge request through the full
// review pipeline: iteration gating, context retrieval, RAG example
// lookup, model invocation, precision filtering, diff-line validation,
// feedback-link minting, persistence, and posting. It is a
// platform-agnostic, per-PR-serialized state machine built on the
// symbolgraph/store/vcs/llm/feedback packages.
package reviewrunner

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	cache "github.com/patrickmn/go-cache"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/coderisk/reviewcore/internal/config"
	"github.com/coderisk/reviewcore/internal/embedding"
	"github.com/coderisk/reviewcore/internal/errors"
	"github.com/coderisk/reviewcore/internal/feedback"
	"github.com/coderisk/reviewcore/internal/graphcache"
	"github.com/coderisk/reviewcore/internal/llm"
	"github.com/coderisk/reviewcore/internal/retriever"
	"github.com/coderisk/reviewcore/internal/store"
	"github.com/coderisk/reviewcore/internal/vcs"
)

// Metrics are the Prometheus instruments the webhook gateway registers
// alongside its own and the runner increments/observes as it works.
var (
	ReviewsStarted = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "reviewcore_reviews_started_total",
		Help: "Review executions started, by platform.",
	}, []string{"platform"})

	ReviewsSkipped = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "reviewcore_reviews_skipped_total",
		Help: "Review requests skipped because the watermark hadn't advanced.",
	}, []string{"platform"})

	ReviewsPosted = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "reviewcore_reviews_posted_total",
		Help: "Reviews successfully posted back to the platform, by verdict.",
	}, []string{"platform", "verdict"})

	ModelLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "reviewcore_review_model_latency_seconds",
		Help:    "Wall-clock latency of one GenerateReview call.",
		Buckets: prometheus.DefBuckets,
	}, []string{"provider"})
)

func init() {
	prometheus.MustRegister(ReviewsStarted, ReviewsSkipped, ReviewsPosted, ModelLatency)
}

// Request describes one PR/MR to review.
type Request struct {
	Platform    vcs.Platform
	RepoID      string // stable internal id, e.g. "github:owner/name"
	RepoSlug    string // "owner/name" the adapter understands
	PRNumber    int
	BaseBranch  string
	Incremental bool // gate on watermark; full re-review when false
	DryRun      bool
}

// Result is what one Run call produced.
type Result struct {
	Skipped      bool
	ReviewID     string
	Verdict      llm.Verdict
	Comments     []llm.Comment // populated for dry runs; empty otherwise
	PostedCount  int
}

// Runner wires the full pipeline together and serializes concurrent
// requests for the same PR.
type Runner struct {
	adapters  map[vcs.Platform]vcs.Adapter
	cache     *graphcache.Cache
	store     store.Store
	retriever *retriever.Retriever
	model     llm.ReviewModel
	embedder  embedding.Adapter
	feedback  *feedback.Service
	retrieval config.RetrievalConfig
	feedbackBaseURL string
	logger    *logrus.Logger

	locks   map[string]*prLock
	locksMu sync.Mutex

	// watermarkCache short-circuits CurrentWatermark calls when a burst
	// of webhook deliveries for the same PR arrives within a few
	// seconds — GitHub/GitLab both send multiple events per push.
	watermarkCache *cache.Cache
}

// prLock is a per-PR mutex with a waiter count, so the entry is only
// removed from the map once nobody still holds a reference to it —
// removing it eagerly would let a third goroutine race in on a fresh
// mutex while a second is still waiting on the first's.
type prLock struct {
	mu      sync.Mutex
	waiters int
}

// New builds a Runner. adapters maps each supported platform to its
// vcs.Adapter; at least one entry is required.
func New(
	adapters map[vcs.Platform]vcs.Adapter,
	gcache *graphcache.Cache,
	st store.Store,
	rtr *retriever.Retriever,
	model llm.ReviewModel,
	embedder embedding.Adapter,
	fb *feedback.Service,
	retrieval config.RetrievalConfig,
	feedbackBaseURL string,
	logger *logrus.Logger,
) *Runner {
	if logger == nil {
		logger = logrus.New()
	}
	return &Runner{
		adapters:        adapters,
		cache:           gcache,
		store:           st,
		retriever:       rtr,
		model:           model,
		embedder:        embedder,
		feedback:        fb,
		retrieval:       retrieval,
		feedbackBaseURL: feedbackBaseURL,
		logger:          logger,
		locks:           make(map[string]*prLock),
		watermarkCache:  cache.New(5*time.Second, time.Minute),
	}
}

func lockKey(repoID string, prNumber int) string {
	return repoID + ":" + strconv.Itoa(prNumber)
}

func (r *Runner) acquire(key string) func() {
	r.locksMu.Lock()
	l, ok := r.locks[key]
	if !ok {
		l = &prLock{}
		r.locks[key] = l
	}
	l.waiters++
	r.locksMu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		r.locksMu.Lock()
		l.waiters--
		if l.waiters == 0 {
			delete(r.locks, key)
		}
		r.locksMu.Unlock()
	}
}

// Run executes the full iteration-gated pipeline for req. It never
// returns an error for "nothing new to review" — that surfaces as
// Result.Skipped — but does return an error for adapter/model/store
// failures, which the caller should log without retrying automatically.
func (r *Runner) Run(ctx context.Context, req Request) (*Result, error) {
	adapter, ok := r.adapters[req.Platform]
	if !ok {
		return nil, fmt.Errorf("reviewrunner: no adapter registered for platform %q", req.Platform)
	}

	platformLabel := string(req.Platform)
	logger := r.logger.WithFields(logrus.Fields{"repo": req.RepoSlug, "pr": req.PRNumber, "platform": platformLabel})

	if req.Incremental {
		proceed, watermark, last, err := r.checkWatermark(ctx, adapter, req)
		if err != nil {
			return nil, err
		}
		if !proceed {
			ReviewsSkipped.WithLabelValues(platformLabel).Inc()
			logger.Debug("reviewrunner: skipping, watermark unchanged")
			return &Result{Skipped: true}, nil
		}

		release := r.acquire(lockKey(req.RepoID, req.PRNumber))
		defer release()

		// Re-check under the lock: another goroutine may have already
		// advanced the watermark while we were waiting to acquire it.
		proceed, watermark, last, err = r.checkWatermark(ctx, adapter, req)
		if err != nil {
			return nil, err
		}
		if !proceed {
			ReviewsSkipped.WithLabelValues(platformLabel).Inc()
			return &Result{Skipped: true}, nil
		}

		ReviewsStarted.WithLabelValues(platformLabel).Inc()
		result, err := r.execute(ctx, adapter, req, last, logger)
		if err != nil {
			return nil, err
		}
		if !req.DryRun {
			if err := r.store.WriteIterationState(ctx, req.RepoID, req.PRNumber, platformLabel, watermark.Iteration); err != nil {
				logger.WithError(err).Warn("reviewrunner: failed to persist iteration watermark")
			}
		}
		return result, nil
	}

	release := r.acquire(lockKey(req.RepoID, req.PRNumber))
	defer release()

	ReviewsStarted.WithLabelValues(platformLabel).Inc()
	return r.execute(ctx, adapter, req, 0, logger)
}

// checkWatermark compares the platform's current position to the last
// reviewed iteration on file. proceed is false when nothing has moved.
func (r *Runner) checkWatermark(ctx context.Context, adapter vcs.Adapter, req Request) (bool, vcs.Watermark, int64, error) {
	cacheKey := lockKey(req.RepoID, req.PRNumber)
	var watermark vcs.Watermark
	if cached, ok := r.watermarkCache.Get(cacheKey); ok {
		watermark = cached.(vcs.Watermark)
	} else {
		fetched, err := adapter.CurrentWatermark(ctx, req.RepoSlug, req.PRNumber)
		if err != nil {
			return false, vcs.Watermark{}, 0, errors.ExternalErrorf(err, "reviewrunner: current watermark")
		}
		watermark = fetched
		r.watermarkCache.SetDefault(cacheKey, watermark)
	}

	last, err := r.store.ReadIterationState(ctx, req.RepoID, req.PRNumber, string(req.Platform))
	if err != nil {
		return false, vcs.Watermark{}, 0, errors.DatabaseErrorf(err, "reviewrunner: read iteration state")
	}

	return watermark.Iteration > last, watermark, last, nil
}

// execute runs steps 1-10 of the review pipeline against the diff
// currently on the platform: fetch, retrieve, generate, filter,
// validate, mint feedback links, persist, and post. lastReviewed, when
// positive, tells the adapter to fetch only the commits pushed since
// that watermark instead of the full diff.
func (r *Runner) execute(ctx context.Context, adapter vcs.Adapter, req Request, lastReviewed int64, logger *logrus.Entry) (*Result, error) {
	diff, err := adapter.FetchDiff(ctx, req.RepoSlug, req.PRNumber, lastReviewed)
	if err != nil {
		return nil, errors.ExternalErrorf(err, "reviewrunner: fetch diff")
	}
	if len(diff.Files) == 0 {
		logger.Debug("reviewrunner: empty diff, nothing to review")
		return &Result{Verdict: llm.VerdictComment}, nil
	}

	promptCtx, diffText := r.buildPrompt(ctx, req, diff, logger)

	start := time.Now()
	resp, err := r.model.GenerateReview(ctx, promptCtx, diffText)
	ModelLatency.WithLabelValues(string(r.model.Provider())).Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, errors.NetworkErrorf(err, "reviewrunner: generate review")
	}

	filtered := filterByPrecision(resp.Comments, r.threshold())
	validated := r.validateAgainstDiff(filtered, diff, logger)

	reviewID := uuid.NewString()
	if req.DryRun {
		return &Result{ReviewID: reviewID, Verdict: resp.Verdict, Comments: validated}, nil
	}

	mintedComments, persistedIDs := r.mintFeedbackLinks(reviewID, validated)

	if err := r.persist(ctx, req, reviewID, resp, validated, persistedIDs); err != nil {
		return nil, err
	}

	postable := make([]vcs.Comment, 0, len(mintedComments))
	for _, c := range mintedComments {
		postable = append(postable, vcs.Comment{Path: c.Path, Line: c.Line, Body: c.Body})
	}

	review := vcs.Review{Summary: resp.Summary, Verdict: vcs.Verdict(resp.Verdict), Comments: postable}
	if err := adapter.PostReview(ctx, req.RepoSlug, req.PRNumber, review); err != nil {
		// The review and its comments are already persisted above, so
		// feedback links still resolve even though the platform post
		// failed. Logged, not fatal: the watermark still advances and
		// this iteration is not retried.
		logger.WithError(errors.ExternalErrorf(err, "reviewrunner: post review")).
			Error("reviewrunner: posting review to platform failed")
		return &Result{ReviewID: reviewID, Verdict: resp.Verdict}, nil
	}

	ReviewsPosted.WithLabelValues(string(req.Platform), string(resp.Verdict)).Inc()
	logger.WithFields(logrus.Fields{"comments": len(postable), "verdict": resp.Verdict}).Info("reviewrunner: posted review")

	return &Result{ReviewID: reviewID, Verdict: resp.Verdict, PostedCount: len(postable)}, nil
}

func (r *Runner) threshold() float64 {
	if r.retrieval.PrecisionThreshold <= 0 {
		return 0.7
	}
	return r.retrieval.PrecisionThreshold
}

// buildPrompt assembles the graph-derived context and any RAG prior
// examples into the PromptContext the model sees, along with the
// diff text rendered in the model's line-annotated wire shape.
func (r *Runner) buildPrompt(ctx context.Context, req Request, diff *vcs.Diff, logger *logrus.Entry) (llm.PromptContext, string) {
	diffText := RenderDiffForModel(diff, 24*1024)

	pc := llm.PromptContext{}

	graph, ok := r.cache.Get(req.RepoID, req.BaseBranch)
	if !ok {
		logger.Debug("reviewrunner: no cached graph for base branch, proceeding with diff-only context")
	} else {
		hops := r.retrieval.Hops
		if hops <= 0 {
			hops = 2
		}
		retCtx, err := r.retriever.BuildContext(graph, diff, hops)
		if err != nil {
			logger.WithError(err).Warn("reviewrunner: build context failed, proceeding with diff-only context")
		} else {
			if r.retrieval.Depth == config.DepthDeep {
				topK := r.retrieval.TopK
				if topK <= 0 {
					topK = 10
				}
				semantic, err := r.retriever.SemanticNeighbors(ctx, graph, req.RepoID, retCtx, topK)
				if err == nil {
					retCtx.SemanticNeighbors = semantic
				} else {
					logger.WithError(err).Warn("reviewrunner: semantic neighbor search failed, proceeding without it")
				}
			}
			pc = toPromptContext(retCtx)
		}
	}

	if r.embedder != nil && r.store != nil {
		prior, rejected := r.searchExamples(ctx, req.RepoID, diffText, logger)
		pc.PriorExamples = prior
		pc.RejectedExamples = rejected
	}

	return pc, diffText
}

func (r *Runner) searchExamples(ctx context.Context, repoID, diffText string, logger *logrus.Entry) (prior, rejected []string) {
	vecs, err := r.embedder.Embed(ctx, []string{diffText})
	if err != nil || len(vecs) == 0 {
		logger.WithError(err).Warn("reviewrunner: embed diff for RAG lookup failed")
		return nil, nil
	}
	query := vecs[0]

	priorCount := r.retrieval.PriorExampleCount
	if priorCount <= 0 {
		priorCount = 5
	}
	rejectedCount := r.retrieval.RejectedExampleCount
	if rejectedCount <= 0 {
		rejectedCount = 3
	}

	if accepted, err := r.store.SearchComments(ctx, repoID, query, true, priorCount); err == nil {
		for _, c := range accepted {
			prior = append(prior, strings.TrimSuffix(c.Body, feedback.FooterMarker))
		}
	} else {
		logger.WithError(err).Warn("reviewrunner: search accepted comments failed")
	}

	if declined, err := r.store.SearchComments(ctx, repoID, query, false, rejectedCount); err == nil {
		for _, c := range declined {
			rejected = append(rejected, strings.TrimSuffix(c.Body, feedback.FooterMarker))
		}
	} else {
		logger.WithError(err).Warn("reviewrunner: search rejected comments failed")
	}

	return prior, rejected
}

func toPromptContext(rc *retriever.Context) llm.PromptContext {
	pc := llm.PromptContext{
		BlastRadius: llm.BlastRadiusView{
			DirectCallerCount:     len(rc.BlastRadius.DirectCallers),
			TransitiveCallerCount: len(rc.BlastRadius.TransitiveCallers),
			AffectedFileCount:     len(rc.BlastRadius.AffectedFiles),
			RiskScore:             rc.BlastRadius.RiskScore,
		},
	}
	for _, s := range rc.ChangedSymbols {
		pc.ChangedSymbols = append(pc.ChangedSymbols, llm.ContextSymbol{Path: s.FilePath, Name: s.QualifiedName, Signature: s.Signature})
	}
	for _, n := range rc.Neighbors {
		cs := llm.ContextSymbol{Path: n.Symbol.FilePath, Name: n.Symbol.QualifiedName, Signature: n.Symbol.Signature}
		if n.Kind == retriever.NeighborCallee {
			pc.Callees = append(pc.Callees, cs)
		} else {
			pc.Callers = append(pc.Callers, cs)
		}
	}
	for _, n := range rc.SemanticNeighbors {
		pc.SemanticNeighbors = append(pc.SemanticNeighbors, llm.ContextSymbol{
			Path: n.Symbol.FilePath, Name: n.Symbol.QualifiedName, Signature: n.Symbol.Signature,
		})
	}
	return pc
}

// filterByPrecision keeps every scored comment whose confidence clears
// threshold. If none clear it, it falls back to the comments the model
// never scored at all — which covers both "every scored comment failed"
// and "the model produced no confidence values whatsoever".
func filterByPrecision(comments []llm.Comment, threshold float64) []llm.Comment {
	var passing, unscored []llm.Comment
	for _, c := range comments {
		if c.Confidence == nil {
			unscored = append(unscored, c)
			continue
		}
		if *c.Confidence >= threshold {
			passing = append(passing, c)
		}
	}
	if len(passing) > 0 {
		return passing
	}
	return unscored
}

// validateAgainstDiff drops any comment whose (path, line) doesn't land
// on an added line of diff — the model is never allowed to comment on
// context or deleted lines, or on a file outside the diff entirely.
func (r *Runner) validateAgainstDiff(comments []llm.Comment, diff *vcs.Diff, logger *logrus.Entry) []llm.Comment {
	changedByPath := make(map[string]map[int]bool, len(diff.Files))
	for _, f := range diff.Files {
		changedByPath[normalizePath(f.Path)] = f.ChangedLines()
	}

	out := make([]llm.Comment, 0, len(comments))
	for _, c := range comments {
		lines, ok := changedByPath[normalizePath(c.Path)]
		if !ok || !lines[c.Line] {
			logger.WithFields(logrus.Fields{"path": c.Path, "line": c.Line}).
				Warn("reviewrunner: dropping comment not on a changed line")
			continue
		}
		out = append(out, c)
	}
	return out
}

func normalizePath(p string) string {
	return strings.TrimPrefix(p, "/")
}

type mintedComment struct {
	vcs.Comment
	ID string
}

// mintFeedbackLinks assigns a stable comment id to each validated
// comment and appends its accept/reject footer, ready for persistence
// and posting.
func (r *Runner) mintFeedbackLinks(reviewID string, comments []llm.Comment) ([]mintedComment, []string) {
	out := make([]mintedComment, 0, len(comments))
	ids := make([]string, 0, len(comments))
	for _, c := range comments {
		id := commentID(reviewID, c.Path, c.Line)
		body := c.Body
		if r.feedbackBaseURL != "" && r.feedback != nil {
			body += feedback.Link(r.feedbackBaseURL, id, r.feedbackSecret())
		}
		out = append(out, mintedComment{Comment: vcs.Comment{Path: c.Path, Line: c.Line, Body: body}, ID: id})
		ids = append(ids, id)
	}
	return out, ids
}

// feedbackSecret reads the Service's configured secret indirectly: the
// runner mints links with the same Service the webhook gateway
// validates them against, so Token computation always matches.
func (r *Runner) feedbackSecret() string {
	if r.feedback == nil {
		return ""
	}
	return r.feedback.Secret()
}

func commentID(reviewID, path string, line int) string {
	h := sha256.Sum256([]byte(reviewID + ":" + path + ":" + strconv.Itoa(line)))
	return hex.EncodeToString(h[:])[:16]
}

func (r *Runner) persist(ctx context.Context, req Request, reviewID string, resp llm.Response, comments []llm.Comment, ids []string) error {
	review := store.Review{
		ID:           reviewID,
		RepoID:       req.RepoID,
		PRNumber:     req.PRNumber,
		Verdict:      string(resp.Verdict),
		CommentCount: len(comments),
		CreatedAt:    time.Now(),
	}
	if err := r.store.SaveReview(ctx, review); err != nil {
		return errors.DatabaseErrorf(err, "reviewrunner: save review")
	}

	for i, c := range comments {
		row := store.Comment{
			ID:         ids[i],
			ReviewID:   reviewID,
			RepoID:     req.RepoID,
			PRNumber:   req.PRNumber,
			Path:       c.Path,
			Line:       c.Line,
			Body:       c.Body,
			Severity:   store.Severity(c.Severity),
			Confidence: c.Confidence,
		}
		if r.embedder != nil {
			if vecs, err := r.embedder.Embed(ctx, []string{c.Body}); err == nil && len(vecs) > 0 {
				row.Embedding = vecs[0]
			}
		}
		if err := r.store.SaveComment(ctx, row); err != nil {
			return errors.DatabaseErrorf(err, "reviewrunner: save comment")
		}
	}
	return nil
}
