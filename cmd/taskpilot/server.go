package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/kalenko/taskpilot/internal/api"
	"github.com/kalenko/taskpilot/internal/archive"
	"github.com/kalenko/taskpilot/internal/assistant"
	"github.com/kalenko/taskpilot/internal/config"
	"github.com/kalenko/taskpilot/internal/convo"
	"github.com/kalenko/taskpilot/internal/directory"
	"github.com/kalenko/taskpilot/internal/extract"
	"github.com/kalenko/taskpilot/internal/llm"
	"github.com/kalenko/taskpilot/internal/mail"
	"github.com/kalenko/taskpilot/internal/remind"
	"github.com/kalenko/taskpilot/internal/state"
	"github.com/kalenko/taskpilot/internal/verify"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the taskpilot server (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer()
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running taskpilot server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return stopServer()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show taskpilot system status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus()
	},
}

func pidFilePath(dataDir string) string {
	return filepath.Join(dataDir, "taskpilot.pid")
}

func writePIDFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o644)
}

func readPIDFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(string(data)))
}

func removePIDFile(path string) {
	os.Remove(path)
}

func runServer() error {
	fmt.Fprintf(os.Stderr, "taskpilot version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	// Initialize structured logging.
	logLevel := slog.LevelInfo
	if strings.EqualFold(cfg.Log.Level, "debug") {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})))

	apiToken := cfg.Server.AuthToken
	if apiToken == "" {
		apiToken = uuid.New().String()
		printWarning("no API token configured; generated ephemeral token %s", apiToken)
	}

	// Write PID file. Check if server is already running via health endpoint.
	pidPath := pidFilePath(cfg.Storage.DataDir)
	healthURL := fmt.Sprintf("http://127.0.0.1:%d/health", cfg.Server.Port)
	healthClient := &http.Client{Timeout: 2 * time.Second}
	if resp, err := healthClient.Get(healthURL); err == nil {
		resp.Body.Close()
		if pid, pidErr := readPIDFile(pidPath); pidErr == nil {
			printWarning("taskpilot is already running (PID %d)", pid)
			return fmt.Errorf("server already running (PID %d)", pid)
		}
		printWarning("taskpilot is already running on port %d", cfg.Server.Port)
		return fmt.Errorf("server already running on port %d", cfg.Server.Port)
	}
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer removePIDFile(pidPath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Open the conversation state store.
	statePath := cfg.Storage.StateFile
	if statePath == "" {
		statePath = filepath.Join(cfg.Storage.DataDir, "conversation_state.json")
	}
	if err := os.MkdirAll(filepath.Dir(statePath), 0o755); err != nil {
		return fmt.Errorf("creating data dir: %w", err)
	}
	store := state.NewFileStore(statePath)

	// Open the processed-message archive.
	arch, err := archive.Open(cfg.Storage.DataDir)
	if err != nil {
		return fmt.Errorf("opening archive: %w", err)
	}
	defer func() {
		if err := arch.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: closing archive: %v\n", err)
		}
	}()

	// Wire the processing pipeline.
	chatClient := llm.New(cfg.LLM.BaseURL, cfg.LLM.APIKey, cfg.LLM.Model)
	extractor := extract.NewExtractor(chatClient)
	parser := verify.NewParser(verify.NewRefiner(chatClient))
	docs := directory.New(cfg.Directory.BaseURL, cfg.Directory.APIToken)

	sender := mail.NewSMTPSender(cfg.SMTP.Host, cfg.SMTP.Port, cfg.SMTP.Username, cfg.SMTP.Password, cfg.SMTP.From)
	queue := mail.NewQueueInbox()

	notifier := assistant.NewMailNotifier(sender)
	convos := convo.NewManager(store, parser, docs, notifier)
	scheduler := remind.NewScheduler(store, sender, convos, docs)

	asst := assistant.New(assistant.Config{
		Store:     store,
		Inbox:     queue,
		Sender:    sender,
		Users:     docs,
		Tasks:     docs,
		Extractor: extractor,
		Convos:    convos,
		Scheduler: scheduler,
		Archiver:  arch,
	})

	pollInterval, err := time.ParseDuration(cfg.Assistant.PollInterval)
	if err != nil {
		slog.Warn("invalid poll interval, using default 5m", "value", cfg.Assistant.PollInterval, "error", err)
		pollInterval = 5 * time.Minute
	}

	appHandler := api.NewAppHandler(api.AppDeps{
		Store:   store,
		Runner:  asst,
		Archive: arch,
		Queue:   queue,
		Token:   apiToken,
	})

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: appHandler,
	}

	mcpSrv := api.NewMCPServer(api.MCPDeps{
		Store:  store,
		Runner: asst,
	})
	stdioSrv := server.NewStdioServer(mcpSrv)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		fmt.Fprintf(os.Stderr, "taskpilot listening on %s\n", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		if err := stdioSrv.Listen(gctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("MCP stdio server error", "error", err)
		}
		return nil
	})

	g.Go(func() error {
		ticker := time.NewTicker(pollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				report, err := asst.RunPass(gctx)
				if err != nil {
					slog.Error("processing pass failed", "error", err)
					continue
				}
				slog.Info("processing pass complete",
					"messages", len(report.Results),
					"context_reminders", report.ContextReminders,
					"task_reminders", report.TaskReminders,
					"tasks_untracked", report.TasksUntracked,
				)
			}
		}
	})

	g.Go(func() error {
		<-gctx.Done()
		fmt.Fprintln(os.Stderr, "shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

func stopServer() error {
	cfg, err := config.Load()
	if err != nil {
		printError("could not load config: %v", err)
		return err
	}

	pidPath := pidFilePath(cfg.Storage.DataDir)
	pid, err := readPIDFile(pidPath)
	if err != nil {
		printError("taskpilot is not running (no PID file)")
		return fmt.Errorf("not running: %w", err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		printError("could not find process %d", pid)
		return err
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		printError("could not stop taskpilot (PID %d): %v", pid, err)
		removePIDFile(pidPath)
		return err
	}

	printSuccess("Sent stop signal to taskpilot (PID %d)", pid)
	return nil
}

func showStatus() error {
	cfg, err := config.Load()
	if err != nil {
		// Still show partial status even if config fails.
		printError("config error: %v", err)
		return nil
	}

	serverURL := fmt.Sprintf("http://127.0.0.1:%d", cfg.Server.Port)
	client := &http.Client{Timeout: 2 * time.Second}

	resp, err := client.Get(serverURL + "/health")
	if err != nil {
		printStatus("Server", "stopped")
	} else {
		resp.Body.Close()
		if resp.StatusCode == 200 {
			printStatus("Server", "running on port %d", cfg.Server.Port)
		} else {
			printStatus("Server", "error (HTTP %d)", resp.StatusCode)
		}
	}

	printStatus("LLM endpoint", "%s", cfg.LLM.BaseURL)
	printStatus("LLM model", "%s", cfg.LLM.Model)
	if cfg.SMTP.Host != "" {
		printStatus("SMTP", "%s:%d", cfg.SMTP.Host, cfg.SMTP.Port)
	} else {
		printStatus("SMTP", "not configured")
	}
	if cfg.Directory.BaseURL != "" {
		printStatus("Document store", "%s", cfg.Directory.BaseURL)
	} else {
		printStatus("Document store", "not configured")
	}
	printStatus("Poll interval", "%s", cfg.Assistant.PollInterval)
	printStatus("Data dir", "%s", cfg.Storage.DataDir)
	return nil
}
