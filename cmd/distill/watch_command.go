package main

import (
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"
)

func newWatchCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Follow task status as the pipeline progresses",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.client()
			if err != nil {
				return err
			}

			sigCtx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			conn, _, err := websocket.DefaultDialer.DialContext(sigCtx, client.eventsURL(), nil)
			if err != nil {
				return fmt.Errorf("connect to push channel: %w", err)
			}
			defer conn.Close()

			out := cmd.OutOrStdout()
			colorize := shouldColorize(out)

			render := func() error {
				summaries, err := client.listTasks()
				if err != nil {
					return err
				}
				if len(summaries) == 0 {
					fmt.Fprintln(out, "No tasks")
					return nil
				}
				fmt.Fprintln(out, renderStatusTable(summaries, colorize))
				return nil
			}
			if err := render(); err != nil {
				return err
			}

			// Events carry no payload beyond "something changed"; every
			// signal triggers a fresh status fetch.
			events := make(chan struct{}, 1)
			readErr := make(chan error, 1)
			go func() {
				for {
					if _, _, err := conn.ReadMessage(); err != nil {
						readErr <- err
						return
					}
					select {
					case events <- struct{}{}:
					default:
					}
				}
			}()

			for {
				select {
				case <-sigCtx.Done():
					return nil
				case err := <-readErr:
					return fmt.Errorf("push channel closed: %w", err)
				case <-events:
					// Coalesce bursts before re-rendering.
					time.Sleep(50 * time.Millisecond)
					drain(events)
					if err := render(); err != nil {
						return err
					}
				}
			}
		},
	}
}

func drain(ch chan struct{}) {
	for {
		select {
		case <-ch:
		default:
			return
		}
	}
}
