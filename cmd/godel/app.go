package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/PranavPipariya/Godel/internal/approval"
	"github.com/PranavPipariya/Godel/internal/config"
	"github.com/PranavPipariya/Godel/internal/llm"
	"github.com/PranavPipariya/Godel/internal/persistence"
	"github.com/PranavPipariya/Godel/internal/session"
)

// shutdownTimeout bounds how long closing a session may take.
const shutdownTimeout = 10 * time.Second

// errInvalidConfig is returned after the individual problems have been
// printed.
var errInvalidConfig = errors.New("invalid configuration")

// options are the persistent command-line flags.
type options struct {
	configPath string
	cwd        string
	approval   string
	model      string
}

// app carries the process environment and lazily opened resources
// shared by every subcommand.
type app struct {
	stdin  *bufio.Reader
	stdout io.Writer
	stderr io.Writer
	opts   options

	// newClient, when set, supplies the completion client for every
	// session instead of the configured provider.
	newClient func() llm.Client

	cfg     *config.Config
	cfgPath string
	logger  *slog.Logger
	logFile io.Closer
	store   *persistence.Store
}

func newApp(stdin io.Reader, stdout, stderr io.Writer) *app {
	return &app{
		stdin:  bufio.NewReader(stdin),
		stdout: stdout,
		stderr: stderr,
	}
}

// load reads the configuration, applies flag overrides, validates the
// result and builds the logger. A missing config file is not an error
// unless --config named it.
func (a *app) load() error {
	cfg, path, err := loadConfig(a.opts.configPath)
	if err != nil {
		return err
	}

	if a.opts.cwd != "" {
		abs, err := filepath.Abs(a.opts.cwd)
		if err != nil {
			return fmt.Errorf("resolve --cwd: %w", err)
		}
		cfg.Cwd = abs
	}
	if a.opts.approval != "" {
		cfg.Approval.Policy = a.opts.approval
	}
	if a.opts.model != "" {
		cfg.Model.Name = a.opts.model
	}

	if err := cfg.Validate(); err != nil {
		var merr *multierror.Error
		if errors.As(err, &merr) {
			for _, e := range merr.Errors {
				fmt.Fprintf(a.stderr, "config: %v\n", e)
			}
		} else {
			fmt.Fprintf(a.stderr, "config: %v\n", err)
		}
		return errInvalidConfig
	}

	logger, closer, err := config.NewLogger(a.stderr, cfg.LogLevel, cfg.LogFormat, cfg.LogFile)
	if err != nil {
		return err
	}

	a.cfg, a.cfgPath = cfg, path
	a.logger, a.logFile = logger, closer
	if path != "" {
		logger.Debug("config loaded", "path", path)
	} else {
		logger.Debug("no config file found, using defaults")
	}
	return nil
}

// loadConfig locates and parses the YAML configuration. Without an
// explicit path, a missing file yields the defaults and an empty path.
func loadConfig(explicit string) (*config.Config, string, error) {
	path, err := config.FindConfig(explicit)
	if err != nil {
		if explicit != "" {
			return nil, "", err
		}
		return config.Default(), "", nil
	}

	cfg, err := config.Load(path)
	if err != nil {
		return nil, path, fmt.Errorf("load config %s: %w", path, err)
	}
	return cfg, path, nil
}

// deps returns the session dependencies. confirm may be nil.
func (a *app) deps(confirm approval.Confirmer) session.Deps {
	d := session.Deps{
		Confirmer: confirm,
		Logger:    a.logger,
	}
	if a.newClient != nil {
		d.Client = a.newClient()
	}
	return d
}

// openStore opens the session database on first use.
func (a *app) openStore() (*persistence.Store, error) {
	if a.store != nil {
		return a.store, nil
	}
	store, err := persistence.OpenDir(a.cfg.Persistence.Driver, a.cfg.Persistence.DataDir, a.logger)
	if err != nil {
		return nil, err
	}
	a.store = store
	return store, nil
}

// shutdown releases a session's connections, logging failures.
func (a *app) shutdown(ctx context.Context, sess *session.Session) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := sess.Shutdown(ctx); err != nil {
		a.logger.Warn("session shutdown failed", "session_id", sess.ID(), "error", err)
	}
}

func (a *app) close() {
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.logger.Warn("close session database", "error", err)
		}
		a.store = nil
	}
	if a.logFile != nil {
		a.logFile.Close()
		a.logFile = nil
	}
}
