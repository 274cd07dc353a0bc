package main

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/astromechza/text-relay/pkg/client"
	"github.com/astromechza/text-relay/pkg/protocol"
)

type clientOptions struct {
	url      string
	debounce time.Duration
}

func newClientCommand() *cobra.Command {
	opts := &clientOptions{}
	cmd := &cobra.Command{
		Use:   "client",
		Short: "Connect to a relay, print the update log and send each stdin line as new content",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runClient(cmd.Context(), opts)
		},
	}
	cmd.Flags().StringVar(&opts.url, "url", envOr("RELAY_URL", "ws://localhost:8082"), "the relay to connect to (defaults to $RELAY_URL)")
	cmd.Flags().DurationVar(&opts.debounce, "debounce", time.Second, "quiet period before a typed line is sent")
	return cmd
}

func runClient(ctx context.Context, opts *clientOptions) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	c, err := client.Dial(ctx, opts.url)
	if err != nil {
		fmt.Println("Status: Disconnected")
		return err
	}
	fmt.Println("Status: Connected")

	d := client.NewDebouncer(opts.debounce, func(content string) {
		if err := c.SendUpdate(content); err != nil {
			slog.Error("failed to send update", "err", err)
		}
	})
	defer d.Stop()

	wg := new(sync.WaitGroup)

	wg.Add(1)
	go func() {
		defer wg.Done()
		defer cancel()
		err := c.Receive(ctx, func(env protocol.Envelope) {
			switch env.Type {
			case protocol.TypeUpdate:
				if env.Timestamp == "" {
					fmt.Printf("content: %q\n", env.Content)
				}
			case protocol.TypeLog:
				fmt.Printf("%s  %s  %q\n", env.Timestamp, env.Message, env.Content)
			}
		})
		if err != nil {
			slog.Error("connection lost", "err", err)
		}
		fmt.Println("Status: Disconnected")
	}()

	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			d.Push(scanner.Text())
		}
		d.Flush()
	}()

	exit := make(chan os.Signal, 1)
	signal.Notify(exit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(exit)
	select {
	case sig := <-exit:
		slog.Info("Signal caught", "sig", sig)
	case <-ctx.Done():
	}
	cancel()
	wg.Wait()
	return nil
}
