package cmd

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/inovacc/deploywatch/internal/api"
	"github.com/inovacc/deploywatch/internal/application"
	"github.com/inovacc/deploywatch/internal/config"
	"github.com/inovacc/deploywatch/internal/connection"
	"github.com/inovacc/deploywatch/internal/database"
	"github.com/inovacc/deploywatch/internal/model"
	"github.com/inovacc/deploywatch/internal/notify"
	"github.com/inovacc/deploywatch/internal/preferences"
	"github.com/inovacc/deploywatch/internal/push"
	"github.com/inovacc/deploywatch/internal/reconcile"
	"github.com/inovacc/deploywatch/internal/service"
	"github.com/inovacc/deploywatch/internal/widget"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/term"
)

// flushTimeout bounds how long a command waits for pending webhook calls.
const flushTimeout = 30 * time.Second

// environment is everything a command needs, opened from the application directory.
type environment struct {
	dir       string
	cfg       *model.Config
	db        *database.Bolt
	client    *api.Client
	conns     *connection.Store
	prefs     *preferences.Store
	registrar *push.FileRegistrar
	registry  *prometheus.Registry
	manager   *service.Manager
}

func openEnvironment() (*environment, error) {
	dir, err := application.EnsureApplicationDirectory()
	if err != nil {
		return nil, err
	}

	cfg, err := config.Load(dir)
	if err != nil {
		return nil, err
	}

	db, err := database.Open(filepath.Join(dir, database.FileName))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	logger := slog.Default()

	dispatcher := notify.NewDispatcher(false, logger)
	dispatcher.Register(notify.NewLogSender(logger))

	conns, err := connection.Open(db, connection.Options{Logger: logger, Publisher: dispatcher})
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	client := api.NewClient(api.ClientOptions{
		BaseURL: cfg.APIBaseURL,
		Timeout: cfg.APITimeout,
		Current: conns.Current,
		Logger:  logger,
	})

	env := &environment{
		dir:       dir,
		cfg:       cfg,
		db:        db,
		client:    client,
		conns:     conns,
		prefs:     preferences.New(db),
		registrar: push.NewFileRegistrar(cfg.PushStateFile, nil),
		registry:  prometheus.NewRegistry(),
	}

	env.manager = service.New(service.Options{
		Gateway:     client,
		Connections: conns,
		Preferences: env.prefs,
		Registrar:   env.registrar,
		Mirror:      widget.NewMirror(cfg.WidgetDir, logger),
		Publisher:   dispatcher,
		Metrics:     reconcile.NewMetrics(env.registry),
		Debounce:    cfg.Debounce,
		Logger:      logger,
	})

	return env, nil
}

// Close flushes pending webhook calls and closes the database.
func (e *environment) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), flushTimeout)
	defer cancel()

	if err := e.manager.Flush(ctx); err != nil {
		slog.Warn("pending webhook changes were not flushed", slog.String("error", err.Error()))
	}

	e.manager.Close()

	if err := e.db.Close(); err != nil {
		slog.Warn("failed to close database", slog.String("error", err.Error()))
	}
}

// commandContext returns a context canceled on interrupt.
func commandContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

// promptConfirm asks the user for confirmation and returns true if they confirm
// prompt should include the question (e.g., "Remove this connection? [y/N]: ")
func promptConfirm(prompt string) bool {
	_, _ = fmt.Fprint(os.Stdout, prompt)

	var response string

	_, _ = fmt.Scanln(&response)

	return response == "y" || response == "Y"
}

// readSecret reads a secret from the terminal without echoing
func readSecret(prompt string) (string, error) {
	_, _ = fmt.Fprint(os.Stderr, prompt)

	fd := int(syscall.Stdin)
	if term.IsTerminal(fd) {
		secret, err := term.ReadPassword(fd)
		_, _ = fmt.Fprintln(os.Stderr)

		if err != nil {
			return "", err
		}

		return strings.TrimSpace(string(secret)), nil
	}

	// Fallback for non-terminal
	scanner := bufio.NewScanner(os.Stdin)
	if scanner.Scan() {
		return strings.TrimSpace(scanner.Text()), nil
	}

	return "", fmt.Errorf("failed to read token")
}

// maskToken keeps the first and last characters of a credential
func maskToken(token string) string {
	if len(token) <= 8 {
		return strings.Repeat("*", len(token))
	}

	return token[:4] + strings.Repeat("*", len(token)-8) + token[len(token)-4:]
}

func padRight(s string, length int) string {
	if len(s) >= length {
		return s
	}

	return s + strings.Repeat(" ", length-len(s))
}

// truncateString truncates a string to the specified length with ellipsis
func truncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}

	if maxLen <= 3 {
		return s[:maxLen]
	}

	return s[:maxLen-3] + "..."
}

// printEmptyResult prints a "no results" message with a create hint
func printEmptyResult(resourceType, createCmd string) {
	_, _ = fmt.Fprintf(os.Stdout, "No %s configured.\n", resourceType)
	_, _ = fmt.Fprintf(os.Stdout, "Create one with: %s\n", createCmd)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")

	return enc.Encode(v)
}
