// Package sandbox runs model-requested shell commands in their own
// process group with a hard timeout. It provides process-level isolation
// only; no filesystem or network confinement.
package sandbox

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"
)

// Config configures the sandbox.
type Config struct {
	WorkDir       string        // directory commands run in
	Timeout       time.Duration // per-command deadline
	AllowedBins   []string      // binaries Execute will launch directly
	EnableNetwork bool          // propagate proxy settings to children
	TempDir       string        // scratch space for ExecuteScript
}

// DefaultConfig returns a config rooted at the user's home directory.
func DefaultConfig() *Config {
	homeDir, _ := os.UserHomeDir()
	if homeDir == "" {
		homeDir = "/tmp/claude-c-sandbox"
	}
	return &Config{
		WorkDir: homeDir,
		Timeout: 120 * time.Second,
		AllowedBins: []string{
			"bash", "sh",
			"ls", "cat", "head", "tail", "grep", "awk", "sed",
			"find", "wc", "sort", "uniq", "cut", "tr", "diff",
			"cp", "mv", "rm", "mkdir", "touch", "chmod",
			"go", "python", "python3", "node", "npm", "npx",
			"git", "make", "cargo", "rustc",
			"pwd", "whoami", "date", "env", "echo", "printf",
			"curl", "wget",
			"tar", "gzip", "unzip", "rsync",
		},
		EnableNetwork: true,
		TempDir:       filepath.Join(os.TempDir(), "claude-c-sandbox"),
	}
}

// ProcessSandbox launches commands as leaders of their own process group
// and kills the whole group on timeout or cancellation.
type ProcessSandbox struct {
	config *Config
	logger *zap.Logger
}

// NewProcessSandbox creates a sandbox, ensuring its directories exist.
func NewProcessSandbox(config *Config, logger *zap.Logger) (*ProcessSandbox, error) {
	if err := os.MkdirAll(config.WorkDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create work dir: %w", err)
	}
	if err := os.MkdirAll(config.TempDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create temp dir: %w", err)
	}

	return &ProcessSandbox{
		config: config,
		logger: logger,
	}, nil
}

// Result is one command's outcome.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
	Duration time.Duration
	Killed   bool // true when a timeout or cancellation killed the process group
}

// Execute runs a single allowed binary with args.
func (s *ProcessSandbox) Execute(ctx context.Context, command string, args []string) (*Result, error) {
	startTime := time.Now()

	if !s.isAllowed(command) {
		return nil, fmt.Errorf("command '%s' is not allowed", command)
	}

	cmdPath, err := exec.LookPath(command)
	if err != nil {
		return nil, fmt.Errorf("command not found: %s", command)
	}

	execCtx, cancel := context.WithTimeout(ctx, s.config.Timeout)
	defer cancel()

	cmd := exec.CommandContext(execCtx, cmdPath, args...)
	cmd.Dir = s.config.WorkDir
	cmd.Env = s.buildEnvironment()
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setpgid: true,
		Pgid:    0,
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	s.logger.Debug("executing sandboxed command",
		zap.String("command", command),
		zap.Strings("args", args),
		zap.String("work_dir", s.config.WorkDir),
	)

	if err = cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start: %w", err)
	}

	// CommandContext only signals the direct child on cancellation; with
	// Setpgid the child leads its own process group, so a timeout or
	// cancel must kill the whole group or grandchildren survive.
	waited := make(chan struct{})
	go func() {
		select {
		case <-execCtx.Done():
			if cmd.Process != nil {
				syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
			}
		case <-waited:
		}
	}()

	err = cmd.Wait()
	close(waited)

	result := &Result{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(startTime),
	}

	if execCtx.Err() != nil {
		result.Killed = true
		result.ExitCode = -1
		s.logger.Warn("command killed",
			zap.String("command", command),
			zap.NamedError("cause", execCtx.Err()),
			zap.Duration("timeout", s.config.Timeout),
		)
		return result, fmt.Errorf("command killed: %w", execCtx.Err())
	}

	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			result.ExitCode = exitErr.ExitCode()
		} else {
			return result, fmt.Errorf("execution failed: %w", err)
		}
	}

	s.logger.Debug("command completed",
		zap.String("command", command),
		zap.Int("exit_code", result.ExitCode),
		zap.Duration("duration", result.Duration),
	)

	return result, nil
}

// ExecuteScript writes script to a temp file and runs it with interpreter.
func (s *ProcessSandbox) ExecuteScript(ctx context.Context, interpreter string, script string) (*Result, error) {
	tmpFile, err := os.CreateTemp(s.config.TempDir, "script-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp script: %w", err)
	}
	defer os.Remove(tmpFile.Name())

	if _, err := tmpFile.WriteString(script); err != nil {
		return nil, fmt.Errorf("failed to write script: %w", err)
	}
	tmpFile.Close()

	return s.Execute(ctx, interpreter, []string{tmpFile.Name()})
}

// ExecuteShell runs a shell command string via `bash -c`.
func (s *ProcessSandbox) ExecuteShell(ctx context.Context, command string) (*Result, error) {
	return s.Execute(ctx, "bash", []string{"-c", command})
}

func (s *ProcessSandbox) isAllowed(command string) bool {
	baseName := filepath.Base(command)

	for _, allowed := range s.config.AllowedBins {
		if allowed == baseName || allowed == command {
			return true
		}
	}
	return false
}

// buildEnvironment hands children a trimmed environment: the real PATH
// and HOME so git, ssh and friends behave, plus proxy settings when
// network use is enabled.
func (s *ProcessSandbox) buildEnvironment() []string {
	sysPath := os.Getenv("PATH")
	if sysPath == "" {
		sysPath = "/usr/local/sbin:/usr/local/bin:/usr/sbin:/usr/bin:/sbin:/bin"
	}

	realHome, _ := os.UserHomeDir()
	if realHome == "" {
		realHome = s.config.WorkDir
	}

	env := []string{
		"PATH=" + sysPath,
		"HOME=" + realHome,
		"TMPDIR=" + s.config.TempDir,
		"LANG=en_US.UTF-8",
		"LC_ALL=en_US.UTF-8",
		"USER=" + os.Getenv("USER"),
	}

	if s.config.EnableNetwork {
		if proxy := os.Getenv("HTTP_PROXY"); proxy != "" {
			env = append(env, "HTTP_PROXY="+proxy)
		}
		if proxy := os.Getenv("HTTPS_PROXY"); proxy != "" {
			env = append(env, "HTTPS_PROXY="+proxy)
		}
	}

	return env
}

// SetWorkDir points subsequent commands at dir.
func (s *ProcessSandbox) SetWorkDir(dir string) error {
	info, err := os.Stat(dir)
	if err != nil {
		return fmt.Errorf("invalid work dir: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("work dir is not a directory: %s", dir)
	}

	s.config.WorkDir = dir
	return nil
}

// WorkDir returns the current working directory.
func (s *ProcessSandbox) WorkDir() string {
	return s.config.WorkDir
}

// Cleanup removes leftover ExecuteScript temp files.
func (s *ProcessSandbox) Cleanup() error {
	entries, err := os.ReadDir(s.config.TempDir)
	if err != nil {
		return err
	}

	for _, entry := range entries {
		if strings.HasPrefix(entry.Name(), "script-") {
			os.Remove(filepath.Join(s.config.TempDir, entry.Name()))
		}
	}

	return nil
}
