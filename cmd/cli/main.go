package main

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/nmnduy/claude-c-sub003/internal/application"
	"github.com/nmnduy/claude-c-sub003/internal/infrastructure/config"
	"github.com/nmnduy/claude-c-sub003/internal/infrastructure/logger"
	"github.com/nmnduy/claude-c-sub003/internal/interfaces/tui"
	apperrors "github.com/nmnduy/claude-c-sub003/pkg/errors"
)

const (
	cliVersion = "0.1.0"
	cliName    = "claude-c"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   cliName + " [message]",
		Short: "claude-c is an interactive terminal coding assistant",
		Args:  cobra.ArbitraryArgs,
		RunE:  runInteractive,
	}

	rootCmd.Flags().StringP("model", "m", "", "model id (overrides config)")
	rootCmd.Flags().StringP("provider", "p", "", "provider: openai | bedrock-anthropic (overrides config)")
	rootCmd.Flags().StringP("workspace", "w", "", "working directory (defaults to cwd)")

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("%s v%s\n", cliName, cliVersion)
		},
	})

	rootCmd.AddCommand(&cobra.Command{
		Use:   "doctor",
		Short: "check the local environment",
		RunE:  runDoctor,
	})

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runInteractive(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if m, _ := cmd.Flags().GetString("model"); m != "" {
		cfg.AI.Model = m
	}
	if p, _ := cmd.Flags().GetString("provider"); p != "" {
		cfg.AI.Provider = p
	}
	if w, _ := cmd.Flags().GetString("workspace"); w != "" {
		cfg.Workspace = w
	} else if cfg.Workspace == "" {
		if wd, err := os.Getwd(); err == nil {
			cfg.Workspace = wd
		}
	}

	log, err := logger.NewLogger(logger.Config{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		OutputPath: cfg.Log.OutputPath,
	})
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer log.Sync()

	app, err := application.NewApp(cfg, log)
	if err != nil {
		// Abort before the event loop: a missing DB or credentials is
		// not recoverable interactively.
		return apperrors.NewFatalInitError("init app", err)
	}

	if initPrompt := strings.Join(args, " "); initPrompt != "" {
		go func() { _ = app.Submit(initPrompt) }()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM)
	go func() {
		<-sigCh
		app.Interrupt()
		cancel()
	}()

	return tui.Run(ctx, app)
}

func runDoctor(cmd *cobra.Command, args []string) error {
	fmt.Printf("claude-c doctor v%s\n\n", cliVersion)

	checks := []struct {
		name  string
		check func() (string, bool)
	}{
		{"config file", checkConfig},
		{"AWS credentials file", checkAWSCredentials},
		{"Go toolchain", checkGo},
	}

	allOK := true
	for _, c := range checks {
		val, ok := c.check()
		icon := "\033[92m✓\033[0m"
		if !ok {
			icon = "\033[91m✗\033[0m"
			allOK = false
		}
		fmt.Printf("  %s %s: %s\n", icon, c.name, val)
	}

	fmt.Println()
	if allOK {
		fmt.Println("all checks passed")
	} else {
		fmt.Println("some checks failed, see above")
	}
	return nil
}

func checkConfig() (string, bool) {
	path := os.Getenv("HOME") + "/." + config.AppName + "/config.yaml"
	if _, err := os.Stat(path); err == nil {
		return path, true
	}
	return "not found at " + path + " (defaults will be used)", true
}

func checkAWSCredentials() (string, bool) {
	path := os.Getenv("HOME") + "/.aws/credentials"
	if _, err := os.Stat(path); err == nil {
		return path, true
	}
	return "not found at " + path, false
}

func checkGo() (string, bool) {
	if path, err := exec.LookPath("go"); err == nil {
		return path, true
	}
	return "not found", false
}
