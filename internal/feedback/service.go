// Package feedback validates the HMAC-signed feedback callback link
// appended to every posted review comment and records the reviewer's
// accepted/rejected signal as a persisted, queryable tracker scoped to
// review comments.
package feedback

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/coderisk/reviewcore/internal/store"
)

// Signal is the reviewer's verdict on one posted comment.
type Signal string

const (
	SignalAccepted Signal = "accepted"
	SignalRejected Signal = "rejected"
)

func (s Signal) valid() bool { return s == SignalAccepted || s == SignalRejected }

// Service validates feedback callbacks and persists the resulting signal.
type Service struct {
	store  store.Store
	secret []byte
	logger *logrus.Logger
}

// New creates a feedback service. secret is the HMAC key minted links are
// signed with; it must match the Review Runner's feedback-link secret.
func New(st store.Store, secret string, logger *logrus.Logger) *Service {
	if logger == nil {
		logger = logrus.New()
	}
	return &Service{store: st, secret: []byte(secret), logger: logger}
}

// Secret exposes the configured HMAC key so the review runner can mint
// feedback links with feedback.Link using the same key this Service
// validates callbacks against.
func (s *Service) Secret() string { return string(s.secret) }

// Token computes the HMAC-SHA256 token for (commentID, signal) — the same
// computation the Review Runner performs when minting a feedback link, and
// the one RecordSignal re-derives to validate an inbound callback.
func (s *Service) Token(commentID string, signal Signal) string {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(commentID + ":" + string(signal)))
	return hex.EncodeToString(mac.Sum(nil))
}

// RecordSignal validates token against (commentID, signal) in constant
// time and, on success, upserts the signal into the store. Returns an
// error for any malformed or mismatched input — the caller (the webhook
// gateway's feedback handler) turns that into an HTTP 400.
func (s *Service) RecordSignal(ctx context.Context, commentID string, signal Signal, token string) error {
	if commentID == "" || !signal.valid() || token == "" {
		return fmt.Errorf("feedback: invalid request: commentID=%q signal=%q", commentID, signal)
	}

	expected := s.Token(commentID, signal)
	if !hmac.Equal([]byte(expected), []byte(token)) {
		return fmt.Errorf("feedback: token mismatch for comment %s", commentID)
	}

	if err := s.store.UpsertFeedback(ctx, commentID, string(signal)); err != nil {
		return fmt.Errorf("feedback: upsert signal: %w", err)
	}
	s.logger.WithFields(logrus.Fields{"comment_id": commentID, "signal": signal}).Info("feedback: recorded signal")
	return nil
}

// Link renders the markdown footer appended to a posted comment body,
// with two feedback links pointing back at baseURL.
func Link(baseURL, commentID, secret string) string {
	svc := &Service{secret: []byte(secret)}
	accept := fmt.Sprintf("%s/api/feedback?id=%s&signal=accepted&token=%s", baseURL, commentID, svc.Token(commentID, SignalAccepted))
	reject := fmt.Sprintf("%s/api/feedback?id=%s&signal=rejected&token=%s", baseURL, commentID, svc.Token(commentID, SignalRejected))
	return fmt.Sprintf("\n\n---\nWas this helpful? [👍 Yes](%s) · [👎 No](%s)", accept, reject)
}

// FooterMarker is the literal prefix RAG retrieval strips before embedding
// or showing a prior comment as a few-shot example.
const FooterMarker = "\n\n---\nWas this helpful?"
