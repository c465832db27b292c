package application

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/nmnduy/claude-c-sub003/internal/domain/conversation"
	domaintool "github.com/nmnduy/claude-c-sub003/internal/domain/tool"
	"github.com/nmnduy/claude-c-sub003/internal/infrastructure/config"
	"github.com/nmnduy/claude-c-sub003/internal/infrastructure/llm/bedrock"
	"github.com/nmnduy/claude-c-sub003/internal/infrastructure/llm/codec"
	"github.com/nmnduy/claude-c-sub003/internal/infrastructure/llm/pipeline"
	"github.com/nmnduy/claude-c-sub003/internal/infrastructure/persistence"
	"github.com/nmnduy/claude-c-sub003/internal/infrastructure/sandbox"
	"github.com/nmnduy/claude-c-sub003/internal/infrastructure/toolengine"
	"github.com/nmnduy/claude-c-sub003/internal/queue"
	"github.com/nmnduy/claude-c-sub003/pkg/safego"
)

// App wires the queues, conversation state, provider pipeline, tool
// engine and audit store together and owns their process-level
// lifecycle: one worker goroutine, one UI queue, one instruction queue,
// and the audit DB's background rotation.
type App struct {
	Config *config.Config
	Logger *zap.Logger

	UI           *queue.UIQueue
	Instructions *queue.InstructionQueue
	State        *conversation.State
	Worker       *Worker

	db         *gorm.DB
	auditStore *persistence.AuditStore
	creds      *pipeline.CredentialStore

	cancel context.CancelFunc
}

// treeDescriber renders a shallow directory listing for each working
// directory's section of the system prompt.
type treeDescriber struct{}

func (treeDescriber) Describe(path string) string {
	entries, err := os.ReadDir(path)
	if err != nil {
		return ""
	}
	var b strings.Builder
	limit := len(entries)
	if limit > 40 {
		limit = 40
	}
	for _, e := range entries[:limit] {
		name := e.Name()
		if strings.HasPrefix(name, ".") {
			continue
		}
		if e.IsDir() {
			name += "/"
		}
		fmt.Fprintf(&b, "    %s\n", name)
	}
	return b.String()
}

// NewApp constructs every collaborator from cfg but does not yet start
// the worker goroutine or the rotation loop; call Start for that.
func NewApp(cfg *config.Config, logger *zap.Logger) (*App, error) {
	workingDir := cfg.Workspace
	if workingDir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("resolve working directory: %w", err)
		}
		workingDir = wd
	}

	db, err := persistence.NewDBConnection(cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("open audit db: %w", err)
	}
	auditStore := persistence.NewAuditStore(db, cfg.Database.Path, cfg.Database, logger)

	sbCfg := sandbox.DefaultConfig()
	sbCfg.WorkDir = workingDir
	sb, err := sandbox.NewProcessSandbox(sbCfg, logger)
	if err != nil {
		return nil, fmt.Errorf("create sandbox: %w", err)
	}

	uiQueue := queue.NewUIQueue(256)
	instrQueue := queue.NewInstructionQueue(64)

	registry := domaintool.NewInMemoryRegistry()
	if err := toolengine.RegisterBuiltins(registry, sb, workingDir, uiQueue); err != nil {
		return nil, fmt.Errorf("register tools: %w", err)
	}

	engine := toolengine.NewEngine(registry, uiQueue, logger, int64(cfg.ToolEngine.MaxParallel), cfg.ToolEngine.DefaultTimeout)

	pl, creds, err := buildPipeline(cfg, logger, auditStore)
	if err != nil {
		return nil, fmt.Errorf("build provider pipeline: %w", err)
	}

	sessionID := uuid.NewString()
	state := conversation.NewState(cfg.AI.Model, sessionID, workingDir, treeDescriber{})

	var toolPrompt strings.Builder
	for _, d := range registry.List() {
		fmt.Fprintf(&toolPrompt, "  - %s: %s\n", d.Name, d.Description)
	}
	state.SetToolPrompt(toolPrompt.String())

	worker := NewWorker(instrQueue, uiQueue, pl, engine, registry, logger, cfg.AI.MaxTokens, cfg.AI.Temperature)

	return &App{
		Config:       cfg,
		Logger:       logger,
		UI:           uiQueue,
		Instructions: instrQueue,
		State:        state,
		Worker:       worker,
		db:           db,
		auditStore:   auditStore,
		creds:        creds,
	}, nil
}

// buildPipeline selects the codec/transport/signer/credentials quartet
// for cfg.AI.Provider. "openai" authenticates with a bearer header
// against an OpenAI-compatible chat-completions endpoint;
// "bedrock-anthropic" SigV4-signs requests to Bedrock's InvokeModel API
// for an Anthropic-family model, rotating credentials out of the shared
// AWS credentials file on auth failure.
func buildPipeline(cfg *config.Config, logger *zap.Logger, auditor pipeline.AuditLogger) (*pipeline.Pipeline, *pipeline.CredentialStore, error) {
	retryCfg := pipeline.Config{
		MaxAttempts:      cfg.Retry.MaxAttempts,
		BaseDelay:        time.Duration(cfg.Retry.BaseDelayMS) * time.Millisecond,
		Multiplier:       cfg.Retry.Multiplier,
		MaxDelay:         time.Duration(cfg.Retry.MaxDelayMS) * time.Millisecond,
		JitterEnabled:    cfg.Retry.JitterEnabled,
		EnableCacheHints: true,
	}

	switch cfg.AI.Provider {
	case "bedrock-anthropic":
		creds, err := pipeline.NewCredentialStore(cfg.AI.CredentialFile, cfg.AI.Profile, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("load aws credentials: %w", err)
		}
		retryCfg.Region = cfg.AI.Region
		retryCfg.Service = "bedrock"
		retryCfg.BaseURL = bedrock.InvokeModelURL(cfg.AI.Region, cfg.AI.Model)

		p := &pipeline.Pipeline{
			Codec:       codec.NewAnthropic(),
			Poster:      bedrock.NewHTTPPoster(),
			Signer:      bedrock.NewSigV4Signer(creds),
			Creds:       creds,
			Auditor:     auditor,
			Logger:      logger,
			Config:      retryCfg,
			SignRequest: true,
		}
		return p, creds, nil

	default: // "openai"
		retryCfg.BaseURL = cfg.AI.BaseURL
		if retryCfg.BaseURL == "" {
			retryCfg.BaseURL = "https://api.openai.com/v1/chat/completions"
		}
		p := &pipeline.Pipeline{
			Codec:   codec.NewOpenAI(),
			Poster:  bedrock.NewHTTPPoster(),
			Signer:  pipeline.NoopSigner{},
			Auditor: auditor,
			Logger:  logger,
			Config:  retryCfg,
			APIKey:  cfg.AI.APIKey,
			AuthHeader: func(apiKey string) map[string]string {
				return map[string]string{"Authorization": "Bearer " + apiKey}
			},
		}
		return p, nil, nil
	}
}

// Start launches the worker goroutine, the credential-file watcher (if a
// credential store is in play), and the periodic audit-rotation loop.
func (a *App) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	a.cancel = cancel

	if a.creds != nil {
		if err := a.creds.WatchForChanges(ctx); err != nil {
			a.Logger.Warn("credential file watch failed, external rotation detection degraded", zap.Error(err))
		}
	}

	safego.Go(a.Logger, "worker", func() { a.Worker.Run(ctx) })
	safego.Go(a.Logger, "audit-rotation", func() { a.rotationLoop(ctx) })
}

// rotationLoop runs AuditStore.Rotate once an hour.
func (a *App) rotationLoop(ctx context.Context) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := a.auditStore.Rotate(ctx); err != nil {
				a.Logger.Warn("audit rotation failed", zap.Error(err))
			}
		}
	}
}

// Submit enqueues one user instruction for the worker to process,
// blocking if the instruction queue is full so user input is never
// dropped.
func (a *App) Submit(text string) error {
	return a.Instructions.Enqueue(queue.Instruction{Text: text, State: a.State})
}

// Interrupt sets the conversation's cancellation flag, aborting the
// in-flight provider call or tool batch at its next check point.
func (a *App) Interrupt() {
	a.State.InterruptRequested.Store(true)
}

// ClearInterrupt resets the cancellation flag ahead of the next turn.
func (a *App) ClearInterrupt() {
	a.State.InterruptRequested.Store(false)
}

// Stop runs the graceful-shutdown sequence: interrupt the current turn,
// stop accepting new instructions, give the worker a grace period to
// wind down, then close the audit DB.
func (a *App) Stop() {
	a.Interrupt()
	a.Worker.Stop(3 * time.Second)
	a.UI.Shutdown()
	if a.cancel != nil {
		a.cancel()
	}
	if a.db != nil {
		if sqlDB, err := a.db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	}
}

// AddDirectory wires `/add-dir` through to conversation state.
func (a *App) AddDirectory(path string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolve directory: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return fmt.Errorf("stat directory: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%s is not a directory", abs)
	}
	a.State.AddDirectory(abs)
	return nil
}
