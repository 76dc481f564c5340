package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/teslashibe/voicechat/internal/log"
	"github.com/teslashibe/voicechat/pkg/app"
)

const serveLongDesc = `Run the HTTP service.

POST an audio file as multipart field "file" to /voice-chat and receive the
spoken reply as audio/wav. GET /health reports which engines are present.

Examples:
  voicechat serve
  voicechat serve --addr :9000 --log-level debug
  GEMINI_API_KEY=... voicechat serve --config voicechat.yaml`

func newServeCmd(root *rootFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the voice turn HTTP service",
		Long:  serveLongDesc,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, root)
		},
	}

	cmd.Flags().String("addr", ":8000", "HTTP listen address")
	cmd.Flags().String("history-file", "", "Conversation history file")
	cmd.Flags().String("event-log", "", "Turn event log file")
	return cmd
}

func runServe(cmd *cobra.Command, root *rootFlags) error {
	cfg, err := root.load(cmd, map[string]string{
		"http_address": "addr",
		"history_file": "history-file",
		"event_log":    "event-log",
	})
	if err != nil {
		return err
	}

	log.Init(cfg.LogLevel)

	a, err := app.New(cfg, log.L())
	if err != nil {
		return fmt.Errorf("configuration error: %w", err)
	}
	if err := a.Init(); err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}
	defer a.Shutdown()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := a.Run(ctx); err != nil {
		return fmt.Errorf("runtime error: %w", err)
	}
	return nil
}
