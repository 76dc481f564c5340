package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"

	"github.com/teslashibe/voicechat/internal/log"
	"github.com/teslashibe/voicechat/pkg/bridge"
)

const observeLongDesc = `Follow the turn event log and print the latest transcription and reply.

By default the local event log file is watched. With --url the observer
subscribes to a running service's /ws/events feed instead.

Examples:
  voicechat observe
  voicechat observe --once
  voicechat observe --turn 3f2c... --event-log /tmp/voice_chat_log.jsonl
  voicechat observe --url ws://localhost:8000/ws/events`

type observeCommander struct {
	url  string
	turn string
	poll time.Duration
	once bool
}

func newObserveCmd(root *rootFlags) *cobra.Command {
	cmder := &observeCommander{}

	cmd := &cobra.Command{
		Use:   "observe",
		Short: "Print the latest turn as it happens",
		Long:  observeLongDesc,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := root.load(cmd, map[string]string{"event_log": "event-log"})
			if err != nil {
				return err
			}
			log.Init(cfg.LogLevel)

			ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			obs := newObserver(cmd.OutOrStdout(), cmder.turn)
			switch {
			case cmder.url != "":
				return obs.watchURL(ctx, cmder.url)
			case cmder.once:
				entries, err := bridge.ReadAll(cfg.EventLog)
				if err != nil {
					return err
				}
				obs.render(entries)
				return nil
			default:
				return bridge.Follow(ctx, cfg.EventLog, cmder.poll, obs.render)
			}
		},
	}

	cmd.Flags().String("event-log", "", "Turn event log file (default from EVENT_LOG)")
	cmd.Flags().StringVar(&cmder.url, "url", "", "Service websocket feed, e.g. ws://localhost:8000/ws/events")
	cmd.Flags().StringVar(&cmder.turn, "turn", "", "Only show this turn")
	cmd.Flags().DurationVar(&cmder.poll, "poll", bridge.DefaultPollInterval, "Re-read interval when watching the file")
	cmd.Flags().BoolVar(&cmder.once, "once", false, "Print the current state and exit")
	return cmd
}

// maxFeedEntries bounds what a websocket observer keeps in memory.
const maxFeedEntries = 1000

// observer prints a turn view whenever it changes.
type observer struct {
	out     io.Writer
	turn    string
	last    bridge.TurnView
	printed bool
	entries []bridge.Entry
}

func newObserver(out io.Writer, turn string) *observer {
	return &observer{out: out, turn: turn}
}

// render prints the view reconstructed from entries if it differs from the
// last one printed.
func (o *observer) render(entries []bridge.Entry) {
	view := bridge.Reconstruct(entries, o.turn)
	if o.printed && view == o.last {
		return
	}
	o.last, o.printed = view, true

	if view.TurnID != "" {
		fmt.Fprintf(o.out, "── turn %s\n", view.TurnID)
	}
	fmt.Fprintf(o.out, "🎤 %s\n", orPlaceholder(view.Transcription))
	fmt.Fprintf(o.out, "💬 %s\n", orPlaceholder(view.Response))
	switch {
	case view.Failure != "":
		fmt.Fprintf(o.out, "❌ %s\n", view.Failure)
	case view.Delivered:
		fmt.Fprintln(o.out, "🔊 delivered")
	}
}

func orPlaceholder(s string) string {
	if s == "" {
		return "(none yet)"
	}
	return s
}

// watchURL reads entries from a service's websocket feed until ctx is done
// or the connection drops.
func (o *observer) watchURL(ctx context.Context, url string) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return fmt.Errorf("connect %s: %w", url, err)
	}
	defer conn.Close()

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
			conn.Close()
		case <-stop:
		}
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return fmt.Errorf("read %s: %w", url, err)
		}

		var e bridge.Entry
		if err := json.Unmarshal(data, &e); err != nil {
			log.Warn("skipping malformed event", "error", err)
			continue
		}
		o.entries = append(o.entries, e)
		if len(o.entries) > maxFeedEntries {
			o.entries = o.entries[len(o.entries)-maxFeedEntries:]
		}
		o.render(o.entries)
	}
}
