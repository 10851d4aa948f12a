package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"slackgate/internal/consumer"
)

func serveCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the gateway as a long-lived HTTP server",
		Long: "Serves the gateway routes over HTTP. With the memory transport, records " +
			"published to consumer.localTopics are delivered back to Slack in-process.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(addr)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides http.addr)")
	return cmd
}

func runServe(addr string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger = newLogger(cfg.Log, os.Stderr)
	if addr == "" {
		addr = cfg.HTTP.Addr
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	comps, err := newComponents(cfg, logger)
	if err != nil {
		return err
	}
	defer comps.close()

	transport, bus, err := comps.newTransport(ctx)
	if err != nil {
		return err
	}
	if bus != nil {
		if len(cfg.Consumer.LocalTopics) > 0 {
			cons, err := comps.newConsumer(ctx, consumer.PostMessage)
			if err != nil {
				return err
			}
			for _, topic := range cfg.Consumer.LocalTopics {
				bus.Subscribe(topic, cons.MemoryHandler())
			}
		}
		go bus.Run(ctx)
		logger.Info("memory transport active", "local_topics", cfg.Consumer.LocalTopics)
	}

	gw, err := comps.newGateway(ctx, transport)
	if err != nil {
		return err
	}

	server := &http.Server{
		Addr:              addr,
		Handler:           gw,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		server.Shutdown(shutdownCtx)
	}()

	logger.Info("slackgate listening",
		"addr", addr,
		"version", version,
		"transport", cfg.Publish.Transport,
		"base_path", cfg.HTTP.BasePath,
	)
	if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	logger.Info("slackgate stopped")
	return nil
}
