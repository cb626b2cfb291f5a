// Package matrix is the transport adapter between Cozmo's dialogue engine
// and a Matrix homeserver. Inbound text messages are delivered to a handler
// as (user, chat, text, timestamp) tuples, and outbound replies are plain
// text sent to a room. Delivery failures are logged here and never reported
// back into session state.
package matrix

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/cozmobot/cozmo/common/retry"
)

// Config holds Matrix client configuration.
type Config struct {
	Homeserver  string
	UserID      string
	AccessToken string
	// Rooms is an optional allowlist of room IDs the bot converses in.
	// When empty, messages from any joined room are processed.
	Rooms []string
	// DB is an optional SQLite connection used to persist the Matrix sync
	// token (next_batch) across restarts. When nil, an in-memory store is
	// used and room history will be replayed on every restart.
	DB *sql.DB
}

// InboundMessage is one received text message, reduced to the fields the
// dialogue engine needs.
type InboundMessage struct {
	// UserID is the sender's Matrix user ID.
	UserID string
	// ChatID is the room the message arrived in; replies go back there.
	ChatID string
	// Text is the message body.
	Text string
	// Timestamp is the origin server timestamp of the event.
	Timestamp time.Time
}

// MessageHandler processes one inbound message.
type MessageHandler func(ctx context.Context, msg InboundMessage)

// Client wraps the mautrix client behind the adapter boundary.
type Client struct {
	client     *mautrix.Client
	config     *Config
	stopCh     chan struct{}
	msgHandler MessageHandler
}

// New creates a new Matrix client.
func New(config *Config) (*Client, error) {
	client, err := mautrix.NewClient(config.Homeserver, id.UserID(config.UserID), config.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("matrix: create client: %w", err)
	}

	c := &Client{
		client: client,
		config: config,
		stopCh: make(chan struct{}),
	}

	if config.DB != nil {
		client.Store = newDBSyncStore(config.DB)
		slog.Info("matrix: using persistent sync store")
	} else {
		slog.Warn("matrix: no database configured, sync position resets on restart")
	}

	return c, nil
}

// Start begins syncing with the homeserver and delivering messages to
// handler. It returns once the background sync loop is running.
func (c *Client) Start(ctx context.Context, handler MessageHandler) error {
	c.msgHandler = handler

	syncer := c.client.Syncer.(*mautrix.DefaultSyncer)
	syncer.OnEventType(event.EventMessage, c.handleMessage)
	syncer.OnEventType(event.StateMember, c.handleMembership)

	for _, roomID := range c.config.Rooms {
		if err := c.joinRoom(id.RoomID(roomID)); err != nil {
			return fmt.Errorf("matrix: join room %s: %w", roomID, err)
		}
	}

	// Sync in the background with exponential back-off reconnection; a
	// transient homeserver error must not leave the bot deaf to new
	// messages.
	go func() {
		const (
			backoffMin = 2 * time.Second
			backoffMax = 5 * time.Minute
		)
		backoff := backoffMin
		for {
			backoff = backoffMin // reset before each attempt
			if err := c.client.Sync(); err != nil {
				select {
				case <-c.stopCh:
					return
				default:
				}
				slog.Error("matrix: sync stopped, reconnecting", "err", err, "backoff", backoff)
				select {
				case <-c.stopCh:
					return
				case <-time.After(backoff):
				}
				backoff *= 2
				if backoff > backoffMax {
					backoff = backoffMax
				}
				continue
			}
			// Sync returned nil: clean StopSync.
			return
		}
	}()

	return nil
}

// Stop stops the Matrix client.
func (c *Client) Stop() {
	close(c.stopCh)
	c.client.StopSync()
}

// SendText sends a plain text message to a room. Transient homeserver
// errors are retried with backoff before the failure is surfaced.
func (c *Client) SendText(chatID, text string) error {
	err := retry.Do(context.Background(), retry.DefaultConfig, func() error {
		_, err := c.client.SendText(context.Background(), id.RoomID(chatID), text)
		return err
	})
	if err != nil {
		return fmt.Errorf("matrix: send message: %w", err)
	}
	return nil
}

// SendNotice sends a notice (less intrusive than a normal message); used
// for operational announcements rather than dialogue replies.
func (c *Client) SendNotice(chatID, text string) error {
	content := event.MessageEventContent{
		MsgType: event.MsgNotice,
		Body:    text,
	}
	err := retry.Do(context.Background(), retry.DefaultConfig, func() error {
		_, err := c.client.SendMessageEvent(context.Background(), id.RoomID(chatID), event.EventMessage, &content)
		return err
	})
	if err != nil {
		return fmt.Errorf("matrix: send notice: %w", err)
	}
	return nil
}

// SetTyping sets the typing indicator in a room.
func (c *Client) SetTyping(chatID string, typing bool, timeout time.Duration) error {
	_, err := c.client.UserTyping(context.Background(), id.RoomID(chatID), typing, timeout)
	if err != nil {
		return fmt.Errorf("matrix: set typing: %w", err)
	}
	return nil
}

// UserID returns the bot's own Matrix user ID.
func (c *Client) UserID() string {
	return c.config.UserID
}

// allowedRoom reports whether the bot converses in the given room.
func (c *Client) allowedRoom(roomID string) bool {
	if len(c.config.Rooms) == 0 {
		return true
	}
	for _, r := range c.config.Rooms {
		if r == roomID {
			return true
		}
	}
	return false
}

// handleMessage filters and converts incoming events before handing them to
// the registered handler.
func (c *Client) handleMessage(ctx context.Context, evt *event.Event) {
	// Ignore our own messages.
	if evt.Sender == id.UserID(c.config.UserID) {
		return
	}

	msgContent := evt.Content.AsMessage()
	if msgContent == nil || msgContent.MsgType != event.MsgText {
		return
	}

	if !c.allowedRoom(evt.RoomID.String()) {
		return
	}

	if c.msgHandler != nil {
		c.msgHandler(ctx, InboundMessage{
			UserID:    evt.Sender.String(),
			ChatID:    evt.RoomID.String(),
			Text:      msgContent.Body,
			Timestamp: time.UnixMilli(evt.Timestamp),
		})
	}
}

// handleMembership auto-joins rooms the bot is invited to, so users can
// start a conversation by inviting Cozmo to a direct chat.
func (c *Client) handleMembership(ctx context.Context, evt *event.Event) {
	member := evt.Content.AsMember()
	if member == nil || member.Membership != event.MembershipInvite {
		return
	}
	if evt.GetStateKey() != c.config.UserID {
		return
	}
	if !c.allowedRoom(evt.RoomID.String()) {
		return
	}
	if err := c.joinRoom(evt.RoomID); err != nil {
		slog.Warn("matrix: could not accept invite", "room", evt.RoomID, "err", err)
		return
	}
	slog.Info("matrix: joined room on invite", "room", evt.RoomID)
}

// joinRoom attempts to join a room, tolerating "already a member".
func (c *Client) joinRoom(roomID id.RoomID) error {
	_, err := c.client.JoinRoomByID(context.Background(), roomID)
	if err != nil {
		// Homeservers return M_FORBIDDEN when the bot is already a member.
		if errors.Is(err, mautrix.MForbidden) {
			slog.Warn("matrix: already a member or access denied, continuing", "room", roomID)
			return nil
		}
		return err
	}
	return nil
}
