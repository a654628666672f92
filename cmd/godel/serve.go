package main

import (
	"context"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"

	"github.com/PranavPipariya/Godel/internal/agent"
	"github.com/PranavPipariya/Godel/internal/buildinfo"
	"github.com/PranavPipariya/Godel/internal/chatbridge"
	"github.com/PranavPipariya/Godel/internal/connwatch"
	"github.com/PranavPipariya/Godel/internal/httpkit"
	"github.com/PranavPipariya/Godel/internal/llm"
	"github.com/PranavPipariya/Godel/internal/mqtt"
	"github.com/PranavPipariya/Godel/internal/session"
)

func newServeCmd(a *app) *cobra.Command {
	var listen string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the WebSocket chat bridge",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.load(); err != nil {
				return err
			}
			defer a.close()
			if listen != "" {
				a.cfg.Chat.Listen = listen
			}
			return a.runServe(cmd.Context())
		},
	}
	cmd.Flags().StringVar(&listen, "listen", "", "address to listen on (default from config)")
	return cmd
}

// runServe runs the chat bridge until ctx is cancelled or an interrupt
// arrives. When an MQTT broker is configured, every session's events
// are mirrored to it.
func (a *app) runServe(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt)
	defer stop()

	logger := a.logger
	logger.Info("starting Godel", "version", buildinfo.Version, "commit", buildinfo.GitCommit, "built", buildinfo.BuildTime)

	var observer agent.Observer
	var publisher *mqtt.Publisher
	if a.cfg.MQTT.Broker != "" {
		instanceID, err := mqtt.LoadOrCreateInstanceID(a.cfg.Persistence.DataDir)
		if err != nil {
			return err
		}
		publisher = mqtt.New(a.cfg.MQTT, mqtt.ClientID(instanceID), logger)
		go func() {
			if err := publisher.Start(ctx); err != nil {
				logger.Error("mqtt event mirror failed", "error", err)
			}
		}()
		observer = publisher.Observe
		logger.Info("mqtt event mirror enabled", "broker", a.cfg.MQTT.Broker, "topic_prefix", a.cfg.MQTT.TopicPrefix)
	}

	factory := func(ctx context.Context, userID string) (*session.Session, error) {
		deps := a.deps(nil)
		deps.Observer = observer
		deps.Logger = logger.With("user", userID)
		return session.New(ctx, a.cfg, deps)
	}
	srv := chatbridge.New(a.cfg.Chat, factory, logger)

	watch := a.watchDependencies(ctx)
	defer watch.Stop()
	srv.SetDependencies(watch.Status)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start(ctx) }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("chat bridge shutdown", "error", err)
	}
	if publisher != nil {
		if err := publisher.Stop(shutdownCtx); err != nil {
			logger.Warn("mqtt disconnect", "error", err)
		}
		if n := publisher.Dropped(); n > 0 {
			logger.Info("mqtt events dropped", "count", n)
		}
	}

	select {
	case err := <-errCh:
		return err
	case <-time.After(time.Second):
		return nil
	}
}

// watchDependencies probes the completion endpoint and every HTTP MCP
// server in the background so /health can report outages.
func (a *app) watchDependencies(ctx context.Context) *connwatch.Manager {
	m := connwatch.NewManager(a.logger)
	client := httpkit.NewClient(
		httpkit.WithTimeout(10*time.Second),
		httpkit.WithUserAgent(buildinfo.UserAgent()+" healthcheck"),
	)

	model := a.cfg.Model
	m.Watch(ctx, connwatch.WatcherConfig{
		Name:  "model",
		Probe: connwatch.HTTPProbe(client, llm.BaseURL(model.Provider, model.BaseURL)+"/models"),
	})
	for _, srv := range a.cfg.MCPServers {
		if srv.Transport != "http" || srv.URL == "" {
			continue
		}
		m.Watch(ctx, connwatch.WatcherConfig{
			Name:  "mcp:" + srv.Name,
			Probe: connwatch.HTTPProbe(client, srv.URL),
		})
	}
	return m
}
