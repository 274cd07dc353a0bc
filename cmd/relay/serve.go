package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/astromechza/text-relay/pkg/journal"
	"github.com/astromechza/text-relay/pkg/relay"
	"github.com/astromechza/text-relay/pkg/server"
)

const defaultPort = 8082

type serveOptions struct {
	addr          string
	port          int
	probeInterval time.Duration
	sendBuffer    int
	journalPath   string
}

func newServeCommand() *cobra.Command {
	opts := &serveOptions{}
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the relay",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), opts)
		},
	}
	port := defaultPort
	if raw := envOr("PORT", ""); raw != "" {
		if p, err := strconv.Atoi(raw); err == nil {
			port = p
		} else {
			slog.Warn("ignoring invalid PORT", "value", raw)
		}
	}
	cmd.Flags().StringVar(&opts.addr, "addr", "", "the host to listen on")
	cmd.Flags().IntVar(&opts.port, "port", port, "the port to listen on (defaults to $PORT)")
	cmd.Flags().DurationVar(&opts.probeInterval, "probe-interval", relay.DefaultProbeInterval, "how often connected clients are pinged")
	cmd.Flags().IntVar(&opts.sendBuffer, "send-buffer", server.DefaultConfig().SendBuffer, "outbound frames queued per client before it is dropped")
	cmd.Flags().StringVar(&opts.journalPath, "journal", "", "sqlite file to append log entries to (disabled if empty)")
	return cmd
}

func runServe(ctx context.Context, opts *serveOptions) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var engineOpts []relay.Option
	if opts.journalPath != "" {
		slog.Info("Opening journal", "path", opts.journalPath)
		j, err := journal.Open(opts.journalPath)
		if err != nil {
			return err
		}
		defer j.Close()
		engineOpts = append(engineOpts, relay.WithRecorder(j))
	}

	registry := relay.NewRegistry()
	engine := relay.NewEngine(relay.NewStore(), registry, engineOpts...)
	srv := server.New(engine, server.Config{
		ProbeInterval: opts.probeInterval,
		SendBuffer:    opts.sendBuffer,
	})

	wg := new(sync.WaitGroup)

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := engine.Run(ctx); err != nil {
			slog.Error("engine stopped", "err", err)
		}
	}()

	monitor := relay.NewMonitor(registry, opts.probeInterval).Start(ctx)

	addr := net.JoinHostPort(opts.addr, strconv.Itoa(opts.port))
	httpServer := &http.Server{Addr: addr, Handler: srv.Handler()}
	listenErr := make(chan error, 1)

	wg.Add(1)
	go func() {
		defer wg.Done()
		slog.Info("relay listening", "addr", addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			listenErr <- fmt.Errorf("server listen failed: %w", err)
		}
	}()

	exit := make(chan os.Signal, 1) // we need to reserve to buffer size 1, so the notifier are not blocked
	signal.Notify(exit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(exit)

	var err error
	select {
	case sig := <-exit:
		slog.Info("Signal caught", "sig", sig)
	case err = <-listenErr:
	case <-ctx.Done():
	}

	monitor.Stop()
	_ = httpServer.Close()
	registry.CloseAll()
	cancel()
	wg.Wait()
	slog.Info("relay stopped", "content_bytes", len(engine.Content()))
	return err
}
