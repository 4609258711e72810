package main

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/spf13/cobra"

	"github.com/kanatalink/kanatalink/internal/app"
	"github.com/kanatalink/kanatalink/internal/bus"
	"github.com/kanatalink/kanatalink/internal/commands"
	"github.com/kanatalink/kanatalink/internal/connectors"
	"github.com/kanatalink/kanatalink/internal/sink"
)

const pingWaitTimeout = 2 * time.Second

func newPingCommand(ctx *commandContext) *cobra.Command {
	var (
		count  int
		format string
	)

	cmd := &cobra.Command{
		Use:   "ping",
		Short: "Emit ping-pong events through the notification sink without connecting",
		RunE: func(cmd *cobra.Command, args []string) error {
			if count <= 0 {
				return fmt.Errorf("count must be positive, got %d", count)
			}
			outFormat, err := resolveFormat(format, cmd.OutOrStdout())
			if err != nil {
				return err
			}

			overrides := ctx.overrides()
			overrides.LogOutput = cmd.ErrOrStderr()
			rt, err := app.Initialize(cmd.Context(), overrides)
			if err != nil {
				return fmt.Errorf("initialize runtime: %w", err)
			}
			defer func() { _ = rt.Close() }()

			// Pings are printed while they are emitted; the bus blocks the
			// emitter once an unread subscriber buffer is full.
			printer := newEventPrinter(cmd.OutOrStdout(), outFormat)
			var (
				received atomic.Int64
				printErr error
			)
			allReceived := make(chan struct{})
			sub := rt.Bus.Subscribe(connectors.TopicForEvent(commands.EventPingPong))
			printed := bus.Listen(rt.Ctx, rt.Bus, sub, func(raw any) {
				ev, ok := raw.(sink.Event)
				if !ok || received.Load() >= int64(count) {
					return
				}
				if printErr == nil {
					printErr = printer.Print(ev)
				}
				if received.Add(1) == int64(count) {
					close(allReceived)
				}
			})
			finish := func() {
				_ = rt.Close()
				<-printed
			}

			timeout := time.NewTimer(pingWaitTimeout)
			defer timeout.Stop()
			for i := 0; i < count; i++ {
				if err := rt.Commands.Ping(); err != nil {
					finish()

					return err
				}
			}

			var waitErr error
			select {
			case <-allReceived:
			case <-printed:
				waitErr = fmt.Errorf("event stream ended after %d of %d ping events", received.Load(), count)
			case <-timeout.C:
				waitErr = fmt.Errorf("received %d of %d ping events", received.Load(), count)
			}
			finish()
			if waitErr != nil {
				return waitErr
			}

			return printErr
		},
	}

	cmd.Flags().IntVarP(&count, "count", "n", 1, "Number of pings to emit")
	cmd.Flags().StringVar(&format, "format", formatAuto, "Event output format: auto, text or json")

	return cmd
}
