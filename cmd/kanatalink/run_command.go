package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/kanatalink/kanatalink/internal/app"
	"github.com/kanatalink/kanatalink/internal/bus"
	"github.com/kanatalink/kanatalink/internal/connectors"
	"github.com/kanatalink/kanatalink/internal/sink"
)

func newRunCommand(ctx *commandContext) *cobra.Command {
	var (
		host       string
		port       int
		retryDelay time.Duration
		format     string
		listenFor  time.Duration
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Connect to kanata and print every forwarded event until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			outFormat, err := resolveFormat(format, cmd.OutOrStdout())
			if err != nil {
				return err
			}

			overrides := ctx.overrides()
			overrides.Host = host
			overrides.Port = port
			overrides.RetryDelay = retryDelay
			overrides.LogOutput = cmd.ErrOrStderr()

			rt, err := app.Initialize(cmd.Context(), overrides)
			if err != nil {
				return fmt.Errorf("initialize runtime: %w", err)
			}
			defer func() { _ = rt.Close() }()

			sub := rt.Bus.Subscribe(connectors.TopicEventAll)
			printed := printEvents(sub, newEventPrinter(cmd.OutOrStdout(), outFormat))

			if err := rt.Commands.Ping(); err != nil {
				return err
			}
			if err := rt.Commands.StartListener(rt.Ctx); err != nil {
				return err
			}

			var deadline <-chan time.Time
			if listenFor > 0 {
				timer := time.NewTimer(listenFor)
				defer timer.Stop()
				deadline = timer.C
			}
			select {
			case <-rt.Ctx.Done():
			case <-deadline:
			}

			// Closing the runtime closes the bus, which ends the printer.
			_ = rt.Close()
			<-printed

			return nil
		},
	}

	cmd.Flags().StringVar(&host, "host", "", "Override the configured kanata host")
	cmd.Flags().IntVarP(&port, "port", "p", 0, "Override the configured kanata TCP port")
	cmd.Flags().DurationVar(&retryDelay, "retry-delay", 0, "Override the delay between connection attempts")
	cmd.Flags().StringVar(&format, "format", formatAuto, "Event output format: auto, text or json")
	cmd.Flags().DurationVar(&listenFor, "for", 0, "Stop after this long instead of waiting for an interrupt")

	return cmd
}

// printEvents drains sub until it is closed. The returned channel is closed
// once the last event has been written.
func printEvents(sub bus.Subscription, printer *eventPrinter) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		for raw := range sub {
			ev, ok := raw.(sink.Event)
			if !ok {
				continue
			}
			_ = printer.Print(ev)
		}
	}()

	return done
}
