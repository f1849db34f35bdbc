/*
Copyright © 2026 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/samber/oops"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/qrpass/apiserver/internal/mq"
	"github.com/qrpass/apiserver/internal/services"
)

var tailChannels []string

// eventsCmd represents the events command.
var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "Inspect published domain events",
}

var eventsTailCmd = &cobra.Command{
	Use:   "tail",
	Short: "Print domain events as they are published",
	Long: `Subscribes to the configured broker and prints one line per event.

	apiserver events tail --channel qr.consumed
`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger := loadConfig()

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		broker, err := mq.Open(ctx, cfg.MQ)
		if err != nil {
			return err
		}
		if broker == nil {
			return oops.Errorf("MQ_BACKEND is not configured")
		}
		defer func() {
			if err := broker.Close(); err != nil {
				logger.Warn("close broker", "error", err)
			}
		}()

		channels := tailChannels
		if len(channels) == 0 {
			channels = services.EventChannels
		}

		handler := printEvent(cmd.OutOrStdout())
		g, ctx := errgroup.WithContext(ctx)
		for _, channel := range channels {
			g.Go(func() error {
				logger.Info("tailing events", "channel", channel)
				return broker.Subscribe(ctx, channel, handler)
			})
		}
		if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(eventsCmd)
	eventsCmd.AddCommand(eventsTailCmd)
	eventsTailCmd.Flags().StringSliceVar(&tailChannels, "channel", nil, "channels to follow (default: all)")
}

// printEvent writes each event as one line. Undecodable payloads are printed raw.
// The returned handler is safe to share between subscriptions.
func printEvent(w io.Writer) mq.Handler {
	var mu sync.Mutex
	return func(_ context.Context, msg mq.Message) error {
		var evt services.Event
		decodeErr := json.Unmarshal(msg.Data, &evt)

		mu.Lock()
		defer mu.Unlock()
		if decodeErr != nil {
			_, err := fmt.Fprintf(w, "%s raw %s\n", msg.ID, msg.Data)
			return err
		}
		_, err := fmt.Fprintf(w, "%s %s subject=%s data=%v\n",
			evt.OccurredAt.Format("2006-01-02T15:04:05.000Z07:00"), evt.Type, evt.Subject, evt.Data)
		return err
	}
}
