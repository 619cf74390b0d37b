package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/coderisk/reviewcore/internal/config"
	"github.com/coderisk/reviewcore/internal/embedding"
	"github.com/coderisk/reviewcore/internal/feedback"
	"github.com/coderisk/reviewcore/internal/graphcache"
	"github.com/coderisk/reviewcore/internal/indexer"
	"github.com/coderisk/reviewcore/internal/llm"
	"github.com/coderisk/reviewcore/internal/parser"
	"github.com/coderisk/reviewcore/internal/parser/goparser"
	"github.com/coderisk/reviewcore/internal/progress"
	"github.com/coderisk/reviewcore/internal/retriever"
	"github.com/coderisk/reviewcore/internal/reviewrunner"
	"github.com/coderisk/reviewcore/internal/store"
	"github.com/coderisk/reviewcore/internal/vcs"
	"github.com/coderisk/reviewcore/internal/webhookgw"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the webhook gateway and drive reviews as pull/merge requests change",
	Long: `serve starts the HTTP surface that receives GitHub/GitLab webhooks,
triggers the review pipeline on each new PR/MR iteration, serves indexing
progress over SSE, and exposes Prometheus metrics.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().String("root", ".", "repository root to index for the base-branch graph")
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	rootPath, _ := cmd.Flags().GetString("root")

	if result := cfg.Validate(config.ValidationContextServe); result.HasErrors() {
		return fmt.Errorf("serve: %s", result.Error())
	} else if len(result.Warnings) > 0 {
		logger.Warn(result.Error())
	}

	deps, err := buildDependencies(ctx)
	if err != nil {
		return err
	}

	bus := progress.New()

	adapters := map[vcs.Platform]vcs.Adapter{}
	if cfg.GitHub.Token != "" {
		adapters[vcs.PlatformGitHub] = vcs.NewGitHubAdapter(cfg.GitHub.Token, cfg.GitHub.RateLimit, logger)
	}
	if cfg.GitLab.Token != "" {
		gl, err := vcs.NewGitLabAdapter(cfg.GitLab.Token, cfg.GitLab.BaseURL, cfg.GitLab.RateLimit, logger)
		if err != nil {
			return fmt.Errorf("serve: gitlab adapter: %w", err)
		}
		adapters[vcs.PlatformGitLab] = gl
	}
	if len(adapters) == 0 {
		logger.Warn("serve: no vcs tokens configured, webhooks will be accepted but no review can post")
	}

	if err := deps.cache.Warmup(ctx); err != nil {
		logger.WithError(err).Warn("serve: graph cache warmup failed")
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

	gw, err := webhookgw.New(cfg.Webhook.GitHubSecret, cfg.Webhook.GitLabSecret, deps.feedbackSvc, bus, runner, cfg.Webhook.DeliveryStore, logger)
	if err != nil {
		return fmt.Errorf("serve: build webhook gateway: %w", err)
	}
	defer gw.Close()

	pipeline := indexer.New(deps.registry, deps.st, deps.cache, deps.embedder, bus, logger)
	gw.OnPush = func(ctx context.Context, repoID, branch string, changedFiles []string) {
		indexed, err := deps.st.IsIndexedBranch(ctx, repoID, branch)
		if err != nil {
			logger.WithError(err).WithFields(logrus.Fields{"repo": repoID, "branch": branch}).
				Warn("serve: failed to check indexed-branch status, dropping push")
			return
		}
		if !indexed {
			logger.WithFields(logrus.Fields{"repo": repoID, "branch": branch}).
				Debug("serve: push to unindexed branch, dropping")
			return
		}
		if _, err := pipeline.IncrementalUpdate(ctx, repoID, branch, rootPath, changedFiles); err != nil {
			logger.WithError(err).WithFields(logrus.Fields{"repo": repoID, "branch": branch}).
				Error("serve: incremental reindex after push failed")
		}
	}

	srv := &http.Server{
		Addr:         cfg.Webhook.ListenAddr,
		Handler:      gw.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	go func() {
		logger.WithField("addr", cfg.Webhook.ListenAddr).Info("serve: listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Fatal("serve: listen failed")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// dependencies bundles the pieces serve/index/review all need, built
// once from the loaded config.
type dependencies struct {
	st          store.Store
	registry    *parser.Registry
	cache       *graphcache.Cache
	embedder    embedding.Adapter
	retriever   *retriever.Retriever
	model       llm.ReviewModel
	feedbackSvc *feedback.Service
}

func buildDependencies(ctx context.Context) (*dependencies, error) {
	var (
		st  store.Store
		err error
	)
	switch cfg.Storage.Type {
	case "postgres":
		st, err = store.NewPostgresStore(ctx, cfg.Storage.PostgresDSN, logger)
	default:
		st, err = store.NewSQLiteStore(ctx, cfg.Storage.LocalPath, logger)
	}
	if err != nil {
		return nil, fmt.Errorf("build dependencies: open store: %w", err)
	}

	registry := parser.NewRegistry(logger)
	registry.Register(goparser.New())

	gcache := graphcache.New(st, logger)
	embedder := embedding.NewAdapter()
	rtr := retriever.New(embedder, st, logger)
	model := llm.NewReviewModel(cfg.LLM.OpenAIModel)
	fb := feedback.New(st, cfg.Feedback.Secret, logger)

	return &dependencies{
		st:          st,
		registry:    registry,
		cache:       gcache,
		embedder:    embedder,
		retriever:   rtr,
		model:       model,
		feedbackSvc: fb,
	}, nil
}
