package webhookgw

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coderisk/reviewcore/internal/feedback"
)

func sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func TestVerifyGitHubSignature(t *testing.T) {
	body := []byte(`{"repo_slug":"o/r","pr_number":1}`)
	assert.True(t, verifyGitHubSignature("s3cret", sign("s3cret", body), body))
	assert.False(t, verifyGitHubSignature("s3cret", sign("wrong", body), body))
	assert.False(t, verifyGitHubSignature("s3cret", "", body))
}

func TestHandleGitHubWebhookRejectsBadSignature(t *testing.T) {
	gw, err := New("s3cret", "", nil, nil, nil, "", nil)
	require.NoError(t, err)

	body := []byte(`{"repo_slug":"o/r","pr_number":1}`)
	req := httptest.NewRequest(http.MethodPost, "/webhooks/github", strings.NewReader(string(body)))
	req.Header.Set("X-Hub-Signature-256", "sha256=deadbeef")
	req.Header.Set("X-GitHub-Event", "pull_request")
	rec := httptest.NewRecorder()

	gw.Router().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestHandleGitHubWebhookAcceptsValidSignatureWithNoRunner(t *testing.T) {
	gw, err := New("s3cret", "", nil, nil, nil, "", nil)
	require.NoError(t, err)

	body := []byte(`{"repo_slug":"o/r","pr_number":1,"base_branch":"main"}`)
	req := httptest.NewRequest(http.MethodPost, "/webhooks/github", strings.NewReader(string(body)))
	req.Header.Set("X-Hub-Signature-256", sign("s3cret", body))
	req.Header.Set("X-GitHub-Event", "pull_request")
	rec := httptest.NewRecorder()

	gw.Router().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestDeliveryDedupSkipsRepeatedDelivery(t *testing.T) {
	storePath := filepath.Join(t.TempDir(), "delivery.db")
	gw, err := New("s3cret", "", nil, nil, nil, storePath, nil)
	require.NoError(t, err)
	defer gw.Close()

	assert.False(t, gw.alreadyDelivered("d1"))
	assert.True(t, gw.alreadyDelivered("d1"))
	assert.False(t, gw.alreadyDelivered("d2"))
}

func TestHandleFeedbackRejectsBadToken(t *testing.T) {
	fb := feedback.New(nil, "sekret", nil)
	gw, err := New("", "", fb, nil, nil, "", nil)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/api/feedback?"+url.Values{
		"id":     {"c1"},
		"signal": {"accepted"},
		"token":  {"bogus"},
	}.Encode(), nil)
	rec := httptest.NewRecorder()

	gw.Router().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
