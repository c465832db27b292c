package pipeline

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/nmnduy/claude-c-sub003/internal/domain/conversation"
	"github.com/nmnduy/claude-c-sub003/internal/infrastructure/llm/codec"
	apperrors "github.com/nmnduy/claude-c-sub003/pkg/errors"
	"go.uber.org/zap"
)

// fakePoster replays a scripted sequence of (status, body) responses and
// records the attempt count.
type fakePoster struct {
	responses []fakeResponse
	calls     int
}

type fakeResponse struct {
	status  int
	body    string
	headers http.Header
}

func (f *fakePoster) Post(ctx context.Context, url string, headers map[string]string, body []byte) (int, []byte, http.Header, time.Duration, error) {
	r := f.responses[f.calls]
	f.calls++
	return r.status, []byte(r.body), r.headers, time.Millisecond, nil
}

func newTestState() *conversation.State {
	return conversation.NewState("test-model", "sess-1", "/work", nil)
}

// fakeCreds is a minimal CredentialRotator for the rotation tests.
type fakeCreds struct {
	keyID      string
	reload     func() string
	loginCalls int
}

func (f *fakeCreds) AccessKeyID() string { return f.keyID }
func (f *fakeCreds) Reload() error {
	if f.reload != nil {
		f.keyID = f.reload()
	}
	return nil
}
func (f *fakeCreds) ForceLogin(ctx context.Context) error {
	f.loginCalls++
	return nil
}

// newTestCodec reuses the real OpenAI-compatible codec so pipeline tests
// exercise the actual wire decode path.
func newTestCodec() codec.Codec { return codec.NewOpenAI() }

// Three 500s then a success means exactly 4 HTTP calls.
func TestPipelineRetriesWithJitterEnvelope(t *testing.T) {
	poster := &fakePoster{responses: []fakeResponse{
		{status: 500, body: "server error"},
		{status: 500, body: "server error"},
		{status: 500, body: "server error"},
		{status: 200, body: `{"choices":[{"message":{"content":"done"}}],"usage":{"prompt_tokens":10,"completion_tokens":5,"total_tokens":15}}`},
	}}

	logger, _ := zap.NewDevelopment()
	p := &Pipeline{
		Codec:   newTestCodec(),
		Poster:  poster,
		Auditor: NoopAuditLogger{},
		Logger:  logger,
		Config: Config{
			MaxAttempts:   5,
			BaseDelay:     10 * time.Millisecond,
			Multiplier:    2.0,
			MaxDelay:      1 * time.Second,
			JitterEnabled: true,
			rngFloat64:    func() float64 { return 1.0 }, // pin jitter multiplier to 1.0 (top of envelope)
		},
	}

	state := newTestState()
	state.AppendUser("hi")

	res, err := p.Call(context.Background(), state, nil, "test-model", 0, 0.5)
	if err != nil {
		t.Fatalf("expected success after retries, got %v", err)
	}
	if poster.calls != 4 {
		t.Fatalf("expected 4 HTTP calls, got %d", poster.calls)
	}
	if res.Message.TextContent() != "done" {
		t.Fatalf("expected decoded content 'done', got %q", res.Message.TextContent())
	}
}

func TestPipelineJitterEnvelopeBounds(t *testing.T) {
	logger, _ := zap.NewDevelopment()
	p := &Pipeline{Logger: logger}
	cfg := Config{BaseDelay: 1000 * time.Millisecond, Multiplier: 2.0, MaxDelay: 30000 * time.Millisecond, JitterEnabled: true}

	for _, r := range []float64{0.0, 0.5, 1.0} {
		cfg.rngFloat64 = func() float64 { return r }
		wait := p.backoff(&cfg, 1, nil)
		lo := time.Duration(0.75 * float64(time.Second))
		hi := time.Second
		if wait < lo || wait > hi {
			t.Errorf("jitter out of envelope for rng=%v: got %v, want [%v,%v]", r, wait, lo, hi)
		}
	}
}

func TestPipelineRetryAfterHeaderWins(t *testing.T) {
	logger, _ := zap.NewDevelopment()
	p := &Pipeline{Logger: logger}
	cfg := Config{BaseDelay: time.Second, Multiplier: 2.0, MaxDelay: 30 * time.Second, JitterEnabled: true, rngFloat64: func() float64 { return 0 }}
	headers := http.Header{}
	headers.Set("Retry-After", "2")
	wait := p.backoff(&cfg, 3, headers)
	if wait != 3*time.Second {
		t.Fatalf("expected Retry-After to force 3s wait, got %v", wait)
	}
}

// When reload returns the same access-key-id, the login command runs
// once; a persisting auth error then fails for good with no further
// login attempts.
func TestPipelineForcedLoginThenPersistentAuthFailure(t *testing.T) {
	poster := &fakePoster{responses: []fakeResponse{
		{status: 401, body: "unauthorized"},
		{status: 401, body: "unauthorized"},
	}}
	creds := &fakeCreds{keyID: "AK1", reload: func() string { return "AK1" }}

	logger, _ := zap.NewDevelopment()
	p := &Pipeline{
		Codec:   newTestCodec(),
		Poster:  poster,
		Auditor: NoopAuditLogger{},
		Logger:  logger,
		Creds:   creds,
		Config:  Config{MaxAttempts: 5, BaseDelay: time.Millisecond, Multiplier: 2, MaxDelay: time.Second, JitterEnabled: false},
	}

	state := newTestState()
	state.AppendUser("hi")

	_, err := p.Call(context.Background(), state, nil, "test-model", 0, 0.5)
	if err == nil {
		t.Fatal("expected a terminal auth error")
	}
	if !apperrors.IsAuth(err) {
		t.Fatalf("expected an auth-classified error, got %v", err)
	}
	if creds.loginCalls != 1 {
		t.Fatalf("expected exactly one login invocation, got %d", creds.loginCalls)
	}
	if poster.calls != 2 {
		t.Fatalf("expected 2 HTTP calls (initial + post-login retry), got %d", poster.calls)
	}
}

// External rotation: a 401 followed by a differing access-key-id on
// reload triggers exactly one additional HTTP call, no login invoked.
func TestPipelineExternalAuthRotation(t *testing.T) {
	poster := &fakePoster{responses: []fakeResponse{
		{status: 401, body: "unauthorized"},
		{status: 200, body: `{"choices":[{"message":{"content":"ok"}}],"usage":{}}`},
	}}

	rotated := false
	creds := &fakeCreds{keyID: "AK1", reload: func() string {
		rotated = true
		return "AK2"
	}}

	logger, _ := zap.NewDevelopment()
	p := &Pipeline{
		Codec:   newTestCodec(),
		Poster:  poster,
		Auditor: NoopAuditLogger{},
		Logger:  logger,
		Creds:   creds,
		Config:  Config{MaxAttempts: 5, BaseDelay: time.Millisecond, Multiplier: 2, MaxDelay: time.Second, JitterEnabled: false},
	}

	state := newTestState()
	state.AppendUser("hi")

	res, err := p.Call(context.Background(), state, nil, "test-model", 0, 0.5)
	if err != nil {
		t.Fatalf("expected success after external rotation, got %v", err)
	}
	if poster.calls != 2 {
		t.Fatalf("expected exactly 2 HTTP calls (1 fail + 1 retry), got %d", poster.calls)
	}
	if !rotated {
		t.Fatal("expected credentials reload to have been attempted")
	}
	if !res.AuthRefreshed {
		t.Fatal("expected AuthRefreshed=true")
	}
	if creds.loginCalls != 0 {
		t.Fatalf("expected no login command invocation, got %d", creds.loginCalls)
	}
}
