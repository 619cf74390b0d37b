// Package webhookgw is the inbound HTTP surface (C10): authenticated
// GitHub/GitLab webhook receivers, the feedback callback, an SSE
// indexing-progress stream, a manual review trigger, and a Prometheus
// /metrics handler. Routing follows a small, explicit registration
// function rather than a framework; gorilla/mux stands in for the
// multiplexing a long-running server needs once it has more than a
// couple of routes.
package webhookgw

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	bolt "go.etcd.io/bbolt"

	"github.com/coderisk/reviewcore/internal/feedback"
	"github.com/coderisk/reviewcore/internal/progress"
	"github.com/coderisk/reviewcore/internal/reviewrunner"
	"github.com/coderisk/reviewcore/internal/vcs"
)

var deliveryBucket = []byte("delivery_ids")

// Gateway is the webhook HTTP surface. Construct with New.
type Gateway struct {
	githubSecret string
	gitlabSecret string
	feedback     *feedback.Service
	progress     *progress.Bus
	runner       *reviewrunner.Runner
	deliveries   *bolt.DB
	logger       *logrus.Logger

	// OnPush is called (repoID, branch, changedFiles) whenever a push
	// event passes signature verification; the caller wires it to the
	// indexer's IncrementalUpdate. Left nil, push events are a no-op.
	OnPush func(ctx context.Context, repoID, branch string, changedFiles []string)
}

// New creates a Gateway. deliveryStorePath is a bbolt file used to
// dedup retried webhook deliveries; pass "" to disable dedup.
func New(githubSecret, gitlabSecret string, fb *feedback.Service, bus *progress.Bus, runner *reviewrunner.Runner, deliveryStorePath string, logger *logrus.Logger) (*Gateway, error) {
	if logger == nil {
		logger = logrus.New()
	}

	var db *bolt.DB
	if deliveryStorePath != "" {
		var err error
		db, err = bolt.Open(deliveryStorePath, 0600, &bolt.Options{Timeout: 2 * time.Second})
		if err != nil {
			return nil, fmt.Errorf("webhookgw: open delivery store: %w", err)
		}
		if err := db.Update(func(tx *bolt.Tx) error {
			_, err := tx.CreateBucketIfNotExists(deliveryBucket)
			return err
		}); err != nil {
			return nil, fmt.Errorf("webhookgw: init delivery bucket: %w", err)
		}
	}

	return &Gateway{
		githubSecret: githubSecret,
		gitlabSecret: gitlabSecret,
		feedback:     fb,
		progress:     bus,
		runner:       runner,
		deliveries:   db,
		logger:       logger,
	}, nil
}

// Close releases the delivery-dedup store, if one was opened.
func (g *Gateway) Close() error {
	if g.deliveries == nil {
		return nil
	}
	return g.deliveries.Close()
}

// Router builds the mux.Router exposing every C10 endpoint.
func (g *Gateway) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/webhooks/github", g.handleGitHubWebhook).Methods(http.MethodPost)
	r.HandleFunc("/webhooks/gitlab", g.handleGitLabWebhook).Methods(http.MethodPost)
	r.HandleFunc("/api/feedback", g.handleFeedback).Methods(http.MethodGet)
	r.HandleFunc("/progress/{repoId}/{branch}", g.handleProgressSSE).Methods(http.MethodGet)
	r.HandleFunc("/api/review", g.handleManualReview).Methods(http.MethodPost)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	return r
}

// alreadyDelivered reports whether deliveryID has been seen before and
// records it if not. A disabled store (nil db) always reports false —
// every delivery is treated as new.
func (g *Gateway) alreadyDelivered(deliveryID string) bool {
	if g.deliveries == nil || deliveryID == "" {
		return false
	}
	seen := false
	_ = g.deliveries.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(deliveryBucket)
		if b.Get([]byte(deliveryID)) != nil {
			seen = true
			return nil
		}
		return b.Put([]byte(deliveryID), []byte(time.Now().UTC().Format(time.RFC3339)))
	})
	return seen
}

func (g *Gateway) handleGitHubWebhook(w http.ResponseWriter, req *http.Request) {
	body, err := io.ReadAll(req.Body)
	if err != nil {
		http.Error(w, "cannot read body", http.StatusBadRequest)
		return
	}

	if !verifyGitHubSignature(g.githubSecret, req.Header.Get("X-Hub-Signature-256"), body) {
		http.Error(w, "invalid signature", http.StatusUnauthorized)
		return
	}

	deliveryID := req.Header.Get("X-GitHub-Delivery")
	if g.alreadyDelivered(deliveryID) {
		w.WriteHeader(http.StatusOK)
		return
	}

	switch req.Header.Get("X-GitHub-Event") {
	case "pull_request":
		g.dispatchPullRequestEvent(vcs.PlatformGitHub, body)
	case "push":
		g.dispatchPushEvent(vcs.PlatformGitHub, body)
	default:
		g.logger.WithField("event", req.Header.Get("X-GitHub-Event")).Debug("webhookgw: ignoring unhandled github event")
	}
	w.WriteHeader(http.StatusOK)
}

func (g *Gateway) handleGitLabWebhook(w http.ResponseWriter, req *http.Request) {
	body, err := io.ReadAll(req.Body)
	if err != nil {
		http.Error(w, "cannot read body", http.StatusBadRequest)
		return
	}

	token := req.Header.Get("X-Gitlab-Token")
	if g.gitlabSecret == "" || !hmac.Equal([]byte(token), []byte(g.gitlabSecret)) {
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return
	}

	deliveryID := req.Header.Get("X-Gitlab-Event-UUID")
	if g.alreadyDelivered(deliveryID) {
		w.WriteHeader(http.StatusOK)
		return
	}

	switch req.Header.Get("X-Gitlab-Event") {
	case "Merge Request Hook":
		g.dispatchPullRequestEvent(vcs.PlatformGitLab, body)
	case "Push Hook":
		g.dispatchPushEvent(vcs.PlatformGitLab, body)
	default:
		g.logger.WithField("event", req.Header.Get("X-Gitlab-Event")).Debug("webhookgw: ignoring unhandled gitlab event")
	}
	w.WriteHeader(http.StatusOK)
}

// verifyGitHubSignature recomputes the HMAC-SHA256 digest GitHub sends
// as "sha256=<hex>" and compares it to sig in constant time.
func verifyGitHubSignature(secret, sig string, body []byte) bool {
	if secret == "" || sig == "" {
		return false
	}
	const prefix = "sha256="
	if len(sig) <= len(prefix) || sig[:len(prefix)] != prefix {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(sig[len(prefix):]))
}

// pullRequestEventPayload covers the fields shared by GitHub's
// pull_request and GitLab's merge request webhook envelopes once
// flattened to their minimal common shape.
type pullRequestEventPayload struct {
	Action      string `json:"action"`
	RepoSlug    string `json:"repo_slug"`
	PRNumber    int    `json:"pr_number"`
	BaseBranch  string `json:"base_branch"`
}

func (g *Gateway) dispatchPullRequestEvent(platform vcs.Platform, body []byte) {
	payload, ok := parsePullRequestPayload(platform, body)
	if !ok {
		g.logger.Debug("webhookgw: pull request payload missing repo/pr identifiers, ignoring")
		return
	}
	if g.runner == nil {
		return
	}

	go func() {
		req := reviewrunner.Request{
			Platform:    platform,
			RepoID:      string(platform) + ":" + payload.RepoSlug,
			RepoSlug:    payload.RepoSlug,
			PRNumber:    payload.PRNumber,
			BaseBranch:  payload.BaseBranch,
			Incremental: true,
		}
		if _, err := g.runner.Run(context.Background(), req); err != nil {
			g.logger.WithError(err).WithFields(logrus.Fields{"repo": payload.RepoSlug, "pr": payload.PRNumber}).
				Error("webhookgw: background review run failed")
		}
	}()
}

type pushEventPayload struct {
	RepoSlug     string   `json:"repo_slug"`
	Ref          string   `json:"ref"`
	ChangedFiles []string `json:"changed_files"`
}

func (g *Gateway) dispatchPushEvent(platform vcs.Platform, body []byte) {
	var payload pushEventPayload
	if err := json.Unmarshal(body, &payload); err != nil || payload.RepoSlug == "" || payload.Ref == "" {
		g.logger.Debug("webhookgw: push payload missing repo/ref, ignoring")
		return
	}
	if g.OnPush == nil {
		return
	}
	repoID := string(platform) + ":" + payload.RepoSlug
	go g.OnPush(context.Background(), repoID, branchFromRef(payload.Ref), payload.ChangedFiles)
}

func branchFromRef(ref string) string {
	const prefix = "refs/heads/"
	if len(ref) > len(prefix) && ref[:len(prefix)] == prefix {
		return ref[len(prefix):]
	}
	return ref
}

func parsePullRequestPayload(platform vcs.Platform, body []byte) (pullRequestEventPayload, bool) {
	var p pullRequestEventPayload
	if err := json.Unmarshal(body, &p); err != nil {
		return pullRequestEventPayload{}, false
	}
	if p.RepoSlug == "" || p.PRNumber == 0 {
		return pullRequestEventPayload{}, false
	}
	return p, true
}

func (g *Gateway) handleFeedback(w http.ResponseWriter, req *http.Request) {
	q := req.URL.Query()
	commentID := q.Get("id")
	signal := q.Get("signal")
	token := q.Get("token")

	if err := g.feedback.RecordSignal(req.Context(), commentID, feedback.Signal(signal), token); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	fmt.Fprint(w, "Thanks for the feedback!")
}

func (g *Gateway) handleProgressSSE(w http.ResponseWriter, req *http.Request) {
	vars := mux.Vars(req)
	repoID, branch := vars["repoId"], vars["branch"]

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-req.Context().Done():
			return
		case <-ticker.C:
			p, ok := g.progress.Get(repoID, branch)
			if !ok {
				continue
			}
			data, _ := json.Marshal(p)
			fmt.Fprintf(w, "data: %s\n\n", data)
			flusher.Flush()
			if p.Phase == progress.PhaseDone || p.Phase == progress.PhaseFailed {
				return
			}
		}
	}
}

type manualReviewRequest struct {
	Platform   string `json:"platform"`
	RepoSlug   string `json:"repo_slug"`
	RepoID     string `json:"repo_id"`
	PRNumber   int    `json:"pr_number"`
	BaseBranch string `json:"base_branch"`
	DryRun     bool   `json:"dry_run"`
}

func (g *Gateway) handleManualReview(w http.ResponseWriter, req *http.Request) {
	var body manualReviewRequest
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		http.Error(w, "malformed request body: "+err.Error(), http.StatusBadRequest)
		return
	}
	if body.RepoSlug == "" || body.PRNumber == 0 {
		http.Error(w, "repo_slug and pr_number are required", http.StatusBadRequest)
		return
	}
	repoID := body.RepoID
	if repoID == "" {
		repoID = body.Platform + ":" + body.RepoSlug
	}

	result, err := g.runner.Run(req.Context(), reviewrunner.Request{
		Platform:    vcs.Platform(body.Platform),
		RepoID:      repoID,
		RepoSlug:    body.RepoSlug,
		PRNumber:    body.PRNumber,
		BaseBranch:  body.BaseBranch,
		Incremental: false,
		DryRun:      body.DryRun,
	})
	if err != nil {
		http.Error(w, "review failed: "+err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(result)
}
