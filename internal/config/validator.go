package config

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/coderisk/reviewcore/internal/errors"
)

// ValidationContext specifies which command is about to run, so Validate
// knows which sections of Config are load-bearing for it.
type ValidationContext string

const (
	// ValidationContextServe - "crisk serve" needs storage, a webhook secret
	// per platform it's wired for, and a review-model key.
	ValidationContextServe ValidationContext = "serve"
	// ValidationContextReview - "crisk review" needs storage, a review-model
	// key, and the VCS adapter for the requested platform.
	ValidationContextReview ValidationContext = "review"
	// ValidationContextIndex - "crisk index" only needs storage.
	ValidationContextIndex ValidationContext = "index"
	// ValidationContextAll - validate every section.
	ValidationContextAll ValidationContext = "all"
)

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid    bool
	Errors   []string
	Warnings []string
}

// AddError adds an error to the validation result.
func (vr *ValidationResult) AddError(format string, args ...interface{}) {
	vr.Valid = false
	vr.Errors = append(vr.Errors, fmt.Sprintf(format, args...))
}

// AddWarning adds a warning to the validation result.
func (vr *ValidationResult) AddWarning(format string, args ...interface{}) {
	vr.Warnings = append(vr.Warnings, fmt.Sprintf(format, args...))
}

// HasErrors returns true if there are any errors.
func (vr *ValidationResult) HasErrors() bool {
	return !vr.Valid || len(vr.Errors) > 0
}

// Error returns a formatted error message.
func (vr *ValidationResult) Error() string {
	if !vr.HasErrors() {
		return ""
	}

	var sb strings.Builder
	sb.WriteString("configuration validation failed:\n")
	for _, err := range vr.Errors {
		sb.WriteString(fmt.Sprintf("  - %s\n", err))
	}
	if len(vr.Warnings) > 0 {
		sb.WriteString("warnings:\n")
		for _, warn := range vr.Warnings {
			sb.WriteString(fmt.Sprintf("  - %s\n", warn))
		}
	}
	return sb.String()
}

// Validate checks c against the requirements of ctx.
func (c *Config) Validate(ctx ValidationContext) *ValidationResult {
	result := &ValidationResult{Valid: true}

	switch ctx {
	case ValidationContextServe:
		c.validateStorage(result, true)
		c.validateReviewModel(result, true)
		c.validateWebhook(result)
		c.validateVCS(result, false)
		c.validateTenant(result)
	case ValidationContextReview:
		c.validateStorage(result, true)
		c.validateReviewModel(result, true)
		c.validateVCS(result, true)
	case ValidationContextIndex:
		c.validateStorage(result, true)
	case ValidationContextAll:
		c.validateStorage(result, true)
		c.validateReviewModel(result, false)
		c.validateWebhook(result)
		c.validateVCS(result, false)
		c.validateRetrieval(result)
		c.validateTenant(result)
	}

	return result
}

// ValidateOrFatal validates c for ctx and returns a *errors.Error the
// caller should treat as fatal when the result carries any errors.
func (c *Config) ValidateOrFatal(ctx ValidationContext) error {
	result := c.Validate(ctx)
	if result.HasErrors() {
		return errors.ConfigError(result.Error())
	}
	return nil
}

func (c *Config) validateStorage(result *ValidationResult, required bool) {
	switch c.Storage.Type {
	case "postgres":
		if c.Storage.PostgresDSN == "" {
			result.AddError("storage.postgres_dsn is required when storage.type is \"postgres\"")
			return
		}
		if !strings.HasPrefix(c.Storage.PostgresDSN, "postgres://") && !strings.HasPrefix(c.Storage.PostgresDSN, "postgresql://") {
			result.AddError("storage.postgres_dsn must start with postgres:// or postgresql://")
		}
	case "sqlite", "":
		if c.Storage.LocalPath == "" && required {
			result.AddWarning("storage.local_path is not set, will use the package default")
		}
	default:
		result.AddError("storage.type must be \"postgres\" or \"sqlite\", got %q", c.Storage.Type)
	}
}

func (c *Config) validateReviewModel(result *ValidationResult, required bool) {
	if c.LLM.OpenAIKey == "" && c.LLM.AnthropicKey == "" && c.API.OpenAIKey == "" {
		if required {
			result.AddWarning("neither llm.openai_key nor llm.anthropic_key is set; review runs will use the no-op model")
		}
	}
}

func (c *Config) validateWebhook(result *ValidationResult) {
	if c.Webhook.ListenAddr == "" {
		result.AddWarning("webhook.listen_addr is not set, will use the package default")
	}
	if c.Webhook.GitHubSecret == "" && c.Webhook.GitLabSecret == "" {
		result.AddWarning("no webhook secret configured for either platform; inbound webhooks will be rejected")
	}
}

func (c *Config) validateVCS(result *ValidationResult, required bool) {
	if c.GitHub.Token == "" && c.GitLab.Token == "" {
		if required {
			result.AddError("at least one of github.token or gitlab.token is required")
		} else {
			result.AddWarning("neither github.token nor gitlab.token is set; no review can be posted")
		}
	}
	if c.GitLab.Token != "" && c.GitLab.BaseURL != "" {
		if _, err := url.Parse(c.GitLab.BaseURL); err != nil {
			result.AddError("gitlab.base_url is invalid: %v", err)
		}
	}
}

func (c *Config) validateTenant(result *ValidationResult) {
	if c.Tenant == "" {
		return
	}
	if !IsValidSlug(c.Tenant) {
		result.AddError("tenant must be a normalized slug (lowercase, hyphen-separated), got %q", c.Tenant)
	}
}

func (c *Config) validateRetrieval(result *ValidationResult) {
	if c.Retrieval.PrecisionThreshold < 0 || c.Retrieval.PrecisionThreshold > 1 {
		result.AddError("retrieval.precision_threshold must be in [0,1], got %.2f", c.Retrieval.PrecisionThreshold)
	}
	switch c.Retrieval.Depth {
	case DepthFast, DepthStandard, DepthDeep, "":
	default:
		result.AddError("retrieval.depth must be fast, standard, or deep, got %q", c.Retrieval.Depth)
	}
}
