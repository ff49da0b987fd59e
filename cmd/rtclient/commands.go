package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/rickgao/regpilot-realtime/internal/connection"
	"github.com/rickgao/regpilot-realtime/internal/model"
)

// command is one parsed stdin line.
type command struct {
	control string        // connect, disconnect, reconnect, status; empty for a message
	msg     model.Message // set when control is empty
}

var controls = map[string]bool{
	"connect":    true,
	"disconnect": true,
	"reconnect":  true,
	"status":     true,
}

// parseCommand parses "/control" or "type {json}". The payload is optional
// and must be valid JSON when present.
func parseCommand(line string, now time.Time) (command, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return command{}, errors.New("empty line")
	}

	if strings.HasPrefix(line, "/") {
		name := strings.TrimPrefix(line, "/")
		if !controls[name] {
			return command{}, fmt.Errorf("unknown command %q", line)
		}
		return command{control: name}, nil
	}

	msgType, payload, _ := strings.Cut(line, " ")
	payload = strings.TrimSpace(payload)

	data := json.RawMessage("{}")
	if payload != "" {
		if !json.Valid([]byte(payload)) {
			return command{}, fmt.Errorf("payload for %q is not valid JSON", msgType)
		}
		data = json.RawMessage(payload)
	}

	return command{msg: model.Message{
		Type:      msgType,
		Data:      data,
		Timestamp: model.FormatTimestamp(now),
	}}, nil
}

// readCommands executes stdin lines until r is exhausted or ctx ends.
func readCommands(ctx context.Context, r io.Reader, mgr connection.Manager, logger *slog.Logger) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}

		cmd, err := parseCommand(scanner.Text(), time.Now())
		if err != nil {
			logger.Warn("ignoring input", "error", err)
			continue
		}
		execute(cmd, mgr, logger)
	}
	if err := scanner.Err(); err != nil {
		logger.Error("stdin read failed", "error", err)
	}
}

func execute(cmd command, mgr connection.Manager, logger *slog.Logger) {
	switch cmd.control {
	case "connect":
		mgr.Connect()
	case "disconnect":
		mgr.Disconnect()
	case "reconnect":
		mgr.Reconnect()
	case "status":
		stats := mgr.Stats()
		logger.Info("status",
			"status", stats.Status.String(),
			"attempts", stats.Attempts,
			"queue_depth", stats.QueueDepth,
			"queue_evicted", stats.QueueEvicted,
			"sent", stats.MessagesSent,
		)
	default:
		if mgr.SendMessage(cmd.msg) {
			logger.Info("sent", "type", cmd.msg.Type)
		} else {
			logger.Info("queued", "type", cmd.msg.Type, "pending", len(mgr.Pending()))
		}
	}
}
