// Package telegram implements the transport boundary over the Telegram
// Bot API. One bot account per instance.
//
// The Bot API cannot enumerate an account's chats, so each instance
// carries a configured group directory (display name -> chat id) that
// backs chat enumeration.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	tele "gopkg.in/telebot.v4"

	"alertbot/internal/transport"
	"alertbot/pkg/logx"
)

// Group is one entry of an instance's destination directory.
type Group struct {
	Name    string
	ChatID  int64
	Members int
}

// InstanceConfig is the per-instance driver configuration.
type InstanceConfig struct {
	Token  string
	Groups []Group
}

// Factory builds Telegram clients from per-instance configuration.
type Factory struct {
	Instances map[string]InstanceConfig
	Log       logx.Logger
}

func NewFactory(instances map[string]InstanceConfig, log logx.Logger) *Factory {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Factory{Instances: instances, Log: log}
}

func (f *Factory) New(instanceID, sessionDir string) (transport.Client, error) {
	cfg, ok := f.Instances[instanceID]
	if !ok {
		return nil, fmt.Errorf("telegram: no credentials configured for instance %q", instanceID)
	}
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, fmt.Errorf("telegram: empty token for instance %q", instanceID)
	}
	return &Client{
		id:         instanceID,
		sessionDir: sessionDir,
		cfg:        cfg,
		log:        f.Log.With(logx.String("instance", instanceID)),
		events:     make(chan transport.Event, 8),
	}, nil
}

// Client is one live bot connection.
type Client struct {
	id         string
	sessionDir string
	cfg        InstanceConfig
	log        logx.Logger

	mu     sync.Mutex
	bot    *tele.Bot
	closed bool

	events    chan transport.Event
	closeOnce sync.Once
}

func (c *Client) Events() <-chan transport.Event { return c.events }

// Initialize validates the token against the Bot API (getMe). Lifecycle
// progress is reported on Events: ready with the bot's username, or an
// auth failure for a rejected token.
func (c *Client) Initialize(ctx context.Context) error {
	bot, err := tele.NewBot(tele.Settings{
		Token: c.cfg.Token,
		// No poller: this connection only sends.
		Synchronous: true,
	})
	if err != nil {
		if isUnauthorized(err) {
			werr := fmt.Errorf("%w: %s", transport.ErrAuthFailure, err)
			c.emit(transport.Event{Kind: transport.EventAuthFailure, Err: werr})
			return werr
		}
		c.emit(transport.Event{Kind: transport.EventDisconnected, Err: err})
		return err
	}

	c.mu.Lock()
	c.bot = bot
	c.mu.Unlock()

	identity := "@" + bot.Me.Username
	c.rememberIdentity(identity)
	c.emit(transport.Event{Kind: transport.EventReady, Identity: identity})
	return nil
}

// rememberIdentity records the last authenticated account in the session
// dir so restarts can log what they resume as. Best effort.
func (c *Client) rememberIdentity(identity string) {
	path := filepath.Join(c.sessionDir, "identity")
	if prev, err := os.ReadFile(path); err == nil && strings.TrimSpace(string(prev)) != identity {
		c.log.Info("session identity changed",
			logx.String("prev", strings.TrimSpace(string(prev))),
			logx.String("now", identity))
	}
	_ = os.WriteFile(path, []byte(identity+"\n"), 0o600)
}

// Chats serves the configured group directory.
func (c *Client) Chats(ctx context.Context) ([]transport.Chat, error) {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return nil, transport.ErrSessionClosed
	}
	out := make([]transport.Chat, 0, len(c.cfg.Groups))
	for _, g := range c.cfg.Groups {
		out = append(out, transport.Chat{
			ID:      strconv.FormatInt(g.ChatID, 10),
			Name:    g.Name,
			IsGroup: true,
			Members: g.Members,
		})
	}
	return out, nil
}

func (c *Client) Send(ctx context.Context, chatID string, text string) error {
	c.mu.Lock()
	bot := c.bot
	closed := c.closed
	c.mu.Unlock()
	if closed || bot == nil {
		return transport.ErrSessionClosed
	}

	n, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil {
		return fmt.Errorf("%w: bad chat handle %q", transport.ErrChatNotFound, chatID)
	}
	_, err = bot.Send(tele.ChatID(n), text, tele.ModeMarkdown)
	if err != nil {
		return c.classify(err)
	}
	return nil
}

// classify maps Bot API failures onto the transport taxonomy.
func (c *Client) classify(err error) error {
	var apiErr *tele.Error
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.Code == 401:
			return fmt.Errorf("%w: %s", transport.ErrSessionClosed, apiErr.Description)
		case apiErr.Code == 403:
			// Bot kicked from or never in the group.
			return fmt.Errorf("%w: %s", transport.ErrChatNotFound, apiErr.Description)
		case apiErr.Code == 400 && strings.Contains(strings.ToLower(apiErr.Description), "chat not found"):
			return fmt.Errorf("%w: %s", transport.ErrChatNotFound, apiErr.Description)
		}
	}
	return err
}

// Close tears the connection down and closes the event stream.
func (c *Client) Close(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	c.bot = nil
	c.closeOnce.Do(func() { close(c.events) })
	return nil
}

// emit delivers a lifecycle event. The channel is buffered and the watcher
// drains promptly; if the buffer is somehow full the event is dropped
// rather than blocking the connection. Guarded by mu so emit can never
// race the channel close.
func (c *Client) emit(ev transport.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.events <- ev:
	default:
		c.log.Warn("lifecycle event dropped; consumer stalled", logx.String("kind", string(ev.Kind)))
	}
}

func isUnauthorized(err error) bool {
	var apiErr *tele.Error
	if errors.As(err, &apiErr) {
		return apiErr.Code == 401
	}
	return strings.Contains(err.Error(), "Unauthorized")
}
