package agent

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"

	"github.com/marcus/tabsync/internal/coordinator"
)

// CommandHandler applies one server command to the local browser state.
// Commands must be applied without re-reporting them as local events, or
// the server would receive its own effects back as new operations.
type CommandHandler func(cmd coordinator.Command)

// Listen dials the server's command channel and invokes handler for every
// command until ctx is cancelled. Lost connections are redialed with
// exponential backoff; the caller is expected to run a fresh Sync after
// each reconnect.
func (a *Agent) Listen(ctx context.Context, handler CommandHandler, onConnect func()) error {
	wsURL, err := commandURL(a.serverURL, a.clientID)
	if err != nil {
		return err
	}

	for {
		bo := backoff.WithContext(backoff.NewExponentialBackOff(), ctx)
		conn, err := backoff.RetryWithData(func() (*websocket.Conn, error) {
			c, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
			if err != nil {
				slog.Debug("dial command channel", "err", err)
				return nil, err
			}
			return c, nil
		}, bo)
		if err != nil {
			return fmt.Errorf("dial %s: %w", wsURL, err)
		}

		slog.Info("command channel connected", "server", a.serverURL)
		if onConnect != nil {
			onConnect()
		}
		a.readCommands(ctx, conn, handler)

		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		slog.Info("command channel lost, redialing")
	}
}

func (a *Agent) readCommands(ctx context.Context, conn *websocket.Conn, handler CommandHandler) {
	defer conn.Close()

	go func() {
		<-ctx.Done()
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		conn.Close()
	}()

	for {
		var cmd coordinator.Command
		if err := conn.ReadJSON(&cmd); err != nil {
			if ctx.Err() == nil && websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				slog.Warn("read command", "err", err)
			}
			return
		}
		handler(cmd)
	}
}

func commandURL(serverURL, clientID string) (string, error) {
	u, err := url.Parse(serverURL)
	if err != nil {
		return "", fmt.Errorf("parse server url: %w", err)
	}
	switch {
	case strings.EqualFold(u.Scheme, "https"):
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = "/v1/ws"
	u.RawQuery = url.Values{"client_id": {clientID}}.Encode()
	return u.String(), nil
}
