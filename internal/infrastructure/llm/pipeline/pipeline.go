// Package pipeline implements the provider call pipeline: encode, sign,
// POST, classify, retry with backoff, rotate credentials on auth
// failure, audit. It never imports a concrete HTTP client or signer;
// both are narrow collaborator interfaces so the pipeline stays testable
// without a network.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"math/rand"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/nmnduy/claude-c-sub003/internal/domain/conversation"
	"github.com/nmnduy/claude-c-sub003/internal/domain/tool"
	"github.com/nmnduy/claude-c-sub003/internal/infrastructure/llm/codec"
	apperrors "github.com/nmnduy/claude-c-sub003/pkg/errors"
	"go.uber.org/zap"
)

// ResponseClass classifies one HTTP attempt's outcome.
type ResponseClass int

const (
	ClassSuccess ResponseClass = iota
	ClassAuthError
	ClassRateLimited
	ClassServerError
	ClassClientError
	ClassTransport
)

// Poster executes one HTTP POST. It is the only place the pipeline
// touches the network. Response headers are part of the contract so the
// retry loop can honor Retry-After.
type Poster interface {
	Post(ctx context.Context, url string, headers map[string]string, body []byte) (status int, respBody []byte, respHeaders http.Header, duration time.Duration, err error)
}

// Signer implements request signing for cloud providers (SigV4 for
// Bedrock).
type Signer interface {
	Sign(ctx context.Context, method, url string, body []byte, region, service string) (map[string]string, error)
}

// NoopSigner signs nothing; used for providers that authenticate via a
// plain bearer/API-key header instead of request signing.
type NoopSigner struct{}

func (NoopSigner) Sign(context.Context, string, string, []byte, string, string) (map[string]string, error) {
	return nil, nil
}

// AuditRecord is one row the pipeline writes to the api_calls audit
// table after every attempt, successful or not.
type AuditRecord struct {
	SessionID    string
	APIBaseURL   string
	RequestJSON  string
	HeadersJSON  string
	ResponseJSON string
	Model        string
	Status       string
	HTTPStatus   int
	ErrorMessage string
	DurationMS   int64
	ToolCount    int
	Usage        codec.Usage
}

// CredentialRotator is the narrow view of CredentialStore the pipeline's
// auth-rotation state machine needs; kept as an interface so tests can
// substitute a fake without a real shared-credentials file.
type CredentialRotator interface {
	AccessKeyID() string
	Reload() error
	ForceLogin(ctx context.Context) error
}

// AuditLogger persists pipeline attempts. The audit DB (api_calls /
// token_usage) is a narrow collaborator, consumed only through this
// interface.
type AuditLogger interface {
	LogCall(ctx context.Context, rec AuditRecord) error
}

// NoopAuditLogger discards records; used when no persistence is wired.
type NoopAuditLogger struct{}

func (NoopAuditLogger) LogCall(context.Context, AuditRecord) error { return nil }

// Config is the retry policy and transport configuration.
type Config struct {
	MaxAttempts   int
	BaseDelay     time.Duration
	Multiplier    float64
	MaxDelay      time.Duration
	JitterEnabled bool

	// EnableCacheHints requests provider prefix-cache breakpoints on the
	// system message and the last user message.
	EnableCacheHints bool

	// Region/Service/BaseURL configure the transport and signing step
	// for cloud providers.
	Region  string
	Service string
	BaseURL string

	// rngFloat64 returns a uniform [0,1) value; overridable for
	// deterministic jitter tests.
	rngFloat64 func() float64
}

// DefaultConfig returns the default retry envelope: max attempts 5,
// base 1000ms, multiplier 2.0, cap 30000ms, jitter on.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:      5,
		BaseDelay:        1000 * time.Millisecond,
		Multiplier:       2.0,
		MaxDelay:         30000 * time.Millisecond,
		JitterEnabled:    true,
		EnableCacheHints: true,
	}
}

func (c *Config) rand() float64 {
	if c.rngFloat64 != nil {
		return c.rngFloat64()
	}
	return rand.Float64()
}

// Result is the pipeline's output for one call.
type Result struct {
	Message       conversation.Message
	Usage         codec.Usage
	RawResponse   []byte
	HTTPStatus    int
	DurationMS    int64
	ErrorMessage  string
	IsRetryable   bool
	AuthRefreshed bool
	RequestJSON   string
}

// Pipeline ties a codec, transport, signer, credential store and audit
// logger together into one retrying, auth-rotating call.
type Pipeline struct {
	Codec   codec.Codec
	Poster  Poster
	Signer  Signer
	Creds   CredentialRotator
	Auditor AuditLogger
	Logger  *zap.Logger
	Config  Config

	// APIKey is set for providers authenticating via a static header
	// rather than request signing (OpenAI, native Anthropic).
	APIKey      string
	AuthHeader  func(apiKey string) map[string]string
	SignRequest bool // true for Bedrock-style SigV4 signing
}

// Call runs the full pipeline for one assistant turn: encode, sign,
// POST with retry/backoff/jitter and auth rotation, decode, audit.
func (p *Pipeline) Call(ctx context.Context, state *conversation.State, tools []tool.Definition, model string, maxTokens int, temperature float64) (*Result, error) {
	cfg := p.Config
	if cfg.MaxAttempts <= 0 {
		cfg = DefaultConfig()
	}

	reqBody, err := p.Codec.EncodeRequest(state, tools, model, maxTokens, temperature, cfg.EnableCacheHints)
	if err != nil {
		return nil, apperrors.NewPipelineError(apperrors.CodeParse, "encode request", err)
	}

	var savedKeyID string
	if p.Creds != nil {
		savedKeyID = p.Creds.AccessKeyID()
	}

	authRefreshed := false
	loginAttempted := false

	// Credential rotation grants up to two extra attempts beyond the
	// regular budget: one after an external rotation, one after a forced
	// login.
	maxAttempts := cfg.MaxAttempts

	var lastResult *Result
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if state.InterruptRequested.Load() {
			return nil, apperrors.NewPipelineError(apperrors.CodeCancelled, "cancelled before attempt", nil)
		}

		status, body, sentHeaders, headers, duration, postErr := p.doAttempt(ctx, reqBody)
		res := &Result{
			HTTPStatus:  status,
			DurationMS:  duration.Milliseconds(),
			RawResponse: body,
			RequestJSON: string(reqBody),
		}
		lastResult = res

		class := classify(status, body, postErr)
		if class != ClassSuccess {
			p.audit(ctx, state, model, reqBody, body, sentHeaders, status, class, duration, len(tools), codec.Usage{}, postErr)
		}

		switch class {
		case ClassSuccess:
			msg, usage, decErr := p.Codec.DecodeResponse(body)
			if decErr != nil {
				p.audit(ctx, state, model, reqBody, body, sentHeaders, status, class, duration, len(tools), codec.Usage{}, decErr)
				return nil, apperrors.NewPipelineError(apperrors.CodeParse, "decode response", decErr)
			}
			res.Message = msg
			res.Usage = usage
			res.AuthRefreshed = authRefreshed
			p.audit(ctx, state, model, reqBody, body, sentHeaders, status, class, duration, len(tools), usage, nil)
			return res, nil

		case ClassAuthError:
			if loginAttempted {
				// FinalRetry already happened once; fail for good.
				res.ErrorMessage = "auth error persists after credential rotation"
				return res, apperrors.NewPipelineError(apperrors.CodeAuth, res.ErrorMessage, postErr)
			}
			if p.Creds == nil {
				res.ErrorMessage = authErrMessage(status, body, postErr)
				return res, apperrors.NewPipelineError(apperrors.CodeAuth, res.ErrorMessage, postErr)
			}

			if err := p.Creds.Reload(); err != nil {
				res.ErrorMessage = fmt.Sprintf("reload credentials: %v", err)
				return res, apperrors.NewPipelineError(apperrors.CodeAuth, res.ErrorMessage, err)
			}
			newKeyID := p.Creds.AccessKeyID()

			if newKeyID != savedKeyID {
				// External rotation detected; another process already
				// rotated credentials. Retry with the fresh ones, no
				// login command.
				p.Logger.Info("external credential rotation detected",
					zap.String("old_key_id", savedKeyID), zap.String("new_key_id", newKeyID))
				savedKeyID = newKeyID
				authRefreshed = true
				if maxAttempts < cfg.MaxAttempts+2 {
					maxAttempts++
				}
				continue
			}

			// Unchanged; force an external login command, then a
			// final retry.
			if err := p.Creds.ForceLogin(ctx); err != nil {
				res.ErrorMessage = fmt.Sprintf("force login failed: %v", err)
				return res, apperrors.NewPipelineError(apperrors.CodeAuth, res.ErrorMessage, err)
			}
			if err := p.Creds.Reload(); err != nil {
				res.ErrorMessage = fmt.Sprintf("reload credentials after login: %v", err)
				return res, apperrors.NewPipelineError(apperrors.CodeAuth, res.ErrorMessage, err)
			}
			savedKeyID = p.Creds.AccessKeyID()
			authRefreshed = true
			loginAttempted = true
			if maxAttempts < cfg.MaxAttempts+2 {
				maxAttempts++
			}
			continue

		case ClassRateLimited, ClassServerError, ClassTransport:
			res.IsRetryable = true
			if attempt == maxAttempts {
				res.ErrorMessage = transientErrMessage(class, status, body, postErr)
				return res, apperrors.NewPipelineError(apperrors.CodeServerTransient, res.ErrorMessage, postErr)
			}
			wait := p.backoff(&cfg, attempt, headers)
			p.Logger.Warn("retrying provider call",
				zap.Int("attempt", attempt), zap.Int("max_attempts", cfg.MaxAttempts),
				zap.Duration("wait", wait), zap.Int("http_status", status))
			select {
			case <-time.After(wait):
			case <-ctx.Done():
				return nil, apperrors.NewPipelineError(apperrors.CodeCancelled, "cancelled during backoff", ctx.Err())
			}
			if state.InterruptRequested.Load() {
				return nil, apperrors.NewPipelineError(apperrors.CodeCancelled, "cancelled during backoff", nil)
			}
			continue

		default: // ClassClientError
			res.ErrorMessage = fmt.Sprintf("client error %d: %s", status, string(body))
			return res, apperrors.NewPipelineError(apperrors.CodeClientPermanent, res.ErrorMessage, postErr)
		}
	}

	return lastResult, apperrors.NewPipelineError(apperrors.CodeTransport, "exhausted retries", nil)
}

func (p *Pipeline) doAttempt(ctx context.Context, body []byte) (int, []byte, map[string]string, http.Header, time.Duration, error) {
	headers := map[string]string{"Content-Type": "application/json"}
	if p.AuthHeader != nil {
		for k, v := range p.AuthHeader(p.APIKey) {
			headers[k] = v
		}
	}
	if p.SignRequest && p.Signer != nil {
		signed, err := p.Signer.Sign(ctx, "POST", p.Config.BaseURL, body, p.Config.Region, p.Config.Service)
		if err != nil {
			return 0, nil, headers, nil, 0, err
		}
		for k, v := range signed {
			headers[k] = v
		}
	}
	status, respBody, respHeaders, duration, err := p.Poster.Post(ctx, p.Config.BaseURL, headers, body)
	return status, respBody, headers, respHeaders, duration, err
}

// backoff computes one retry delay: a Retry-After header wins outright,
// otherwise the exponential envelope with reduce-only jitter, a uniform
// [0.75,1.0] multiplier that never exceeds the envelope.
func (p *Pipeline) backoff(cfg *Config, attempt int, headers http.Header) time.Duration {
	if headers != nil {
		if ra := headers.Get("Retry-After"); ra != "" {
			if secs, err := strconv.Atoi(strings.TrimSpace(ra)); err == nil {
				return time.Duration(secs+1) * time.Second
			}
		}
	}

	envelope := float64(cfg.BaseDelay) * math.Pow(cfg.Multiplier, float64(attempt-1))
	if capD := float64(cfg.MaxDelay); envelope > capD {
		envelope = capD
	}
	if !cfg.JitterEnabled {
		return time.Duration(envelope)
	}
	mult := 0.75 + 0.25*cfg.rand()
	return time.Duration(envelope * mult)
}

func (p *Pipeline) audit(ctx context.Context, state *conversation.State, model string, req, resp []byte, sentHeaders map[string]string, status int, class ResponseClass, dur time.Duration, toolCount int, usage codec.Usage, err error) {
	if p.Auditor == nil {
		return
	}
	statusWord := "success"
	errMsg := ""
	if class != ClassSuccess {
		statusWord = "error"
		if err != nil {
			errMsg = err.Error()
		}
	}
	headersJSON, _ := json.Marshal(redactHeaders(sentHeaders))
	_ = p.Auditor.LogCall(ctx, AuditRecord{
		SessionID:    state.SessionID(),
		APIBaseURL:   p.Config.BaseURL,
		RequestJSON:  string(req),
		HeadersJSON:  string(headersJSON),
		ResponseJSON: string(resp),
		Model:        model,
		Status:       statusWord,
		HTTPStatus:   status,
		ErrorMessage: errMsg,
		DurationMS:   dur.Milliseconds(),
		ToolCount:    toolCount,
		Usage:        usage,
	})
}

// redactHeaders strips credential material before the headers reach the
// audit log.
func redactHeaders(headers map[string]string) map[string]string {
	out := make(map[string]string, len(headers))
	for k, v := range headers {
		switch strings.ToLower(k) {
		case "authorization", "x-api-key", "x-amz-security-token":
			out[k] = "[redacted]"
		default:
			out[k] = v
		}
	}
	return out
}

// classify buckets one attempt. Status code decides first; the body
// substring match ("rate limit", "throttled", "quota exceeded") only
// breaks ties when the status itself is ambiguous, such as a 200
// carrying an embedded error payload some gateways use.
func classify(status int, body []byte, err error) ResponseClass {
	if err != nil {
		return ClassTransport
	}
	switch status {
	case 401, 403:
		return ClassAuthError
	case 429:
		return ClassRateLimited
	case 408, 500, 502, 503, 504:
		return ClassServerError
	}
	if status >= 200 && status < 300 {
		lower := strings.ToLower(string(body))
		if strings.Contains(lower, "rate limit") || strings.Contains(lower, "throttled") || strings.Contains(lower, "quota exceeded") {
			return ClassRateLimited
		}
		return ClassSuccess
	}
	if status == 400 {
		lower := strings.ToLower(string(body))
		if strings.Contains(lower, "invalid api key") || strings.Contains(lower, "unauthorized") || strings.Contains(lower, "authentication") {
			return ClassAuthError
		}
		return ClassClientError
	}
	if status >= 400 && status < 500 {
		return ClassClientError
	}
	return ClassTransport
}

func authErrMessage(status int, body []byte, err error) string {
	if err != nil {
		return err.Error()
	}
	return fmt.Sprintf("auth error %d: %s", status, string(body))
}

func transientErrMessage(class ResponseClass, status int, body []byte, err error) string {
	if err != nil {
		return err.Error()
	}
	name := "server error"
	if class == ClassRateLimited {
		name = "rate limited"
	}
	return fmt.Sprintf("%s %d: %s", name, status, string(body))
}
