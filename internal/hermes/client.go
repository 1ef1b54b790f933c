package hermes

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
)

// SubjectCommand is the NATS subject other services submit CRM commands on,
// as an alternative to the HTTP API.
const SubjectCommand = "crm.bartleby.command.submitted"

// TurnResultSubject is the per-session subject a submitted command's result
// is published back on.
func TurnResultSubject(sessionID string) string {
	return "crm.bartleby.turn.result." + sessionID
}

// CommandSignal is one command submitted over the bus. ReplyTo overrides the
// default per-session result subject when set.
type CommandSignal struct {
	SessionID string `json:"session_id"`
	Command   string `json:"command"`
	ReplyTo   string `json:"reply_to,omitempty"`
}

// ResultSubject returns the subject the turn result belongs on. A signal
// submitted without a session id runs under a generated one, so the caller
// passes the id the turn actually resolved to.
func (sig CommandSignal) ResultSubject(resolvedSessionID string) string {
	if sig.ReplyTo != "" {
		return sig.ReplyTo
	}
	return TurnResultSubject(resolvedSessionID)
}

// DecodeCommand parses a command signal off the wire.
func DecodeCommand(data []byte) (CommandSignal, error) {
	var sig CommandSignal
	if err := json.Unmarshal(data, &sig); err != nil {
		return CommandSignal{}, fmt.Errorf("decode command signal: %w", err)
	}
	return sig, nil
}

type Client struct {
	conn   *nats.Conn
	closed chan struct{}
	logger *slog.Logger
}

func NewClient(ctx context.Context, url, token string, logger *slog.Logger) (*Client, error) {
	closed := make(chan struct{})
	opts := []nats.Option{
		nats.Name("bartleby"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(60),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			logger.Info("nats reconnected")
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			close(closed)
		}),
	}
	if token != "" {
		opts = append(opts, nats.Token(token))
	}

	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	return &Client{conn: nc, closed: closed, logger: logger}, nil
}

func (c *Client) Publish(subject string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	return c.conn.Publish(subject, payload)
}

func (c *Client) Subscribe(subject string, handler func(subject string, data []byte)) error {
	_, err := c.conn.Subscribe(subject, func(msg *nats.Msg) {
		handler(msg.Subject, msg.Data)
	})
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", subject, err)
	}
	c.logger.Info("subscribed", "subject", subject)
	return nil
}

// SubscribeCommands delivers bus-submitted commands to handler. Signals that
// do not decode are dropped with a warning; an empty command still reaches
// the handler so the submitter gets the engine's clarification back.
func (c *Client) SubscribeCommands(handler func(sig CommandSignal)) error {
	return c.Subscribe(SubjectCommand, func(_ string, data []byte) {
		sig, err := DecodeCommand(data)
		if err != nil {
			c.logger.Warn("dropping command signal", "error", err)
			return
		}
		handler(sig)
	})
}

// Close drains the connection so in-flight command handlers finish their
// replies before the process exits.
func (c *Client) Close() {
	if err := c.conn.Drain(); err != nil {
		c.conn.Close()
		return
	}
	select {
	case <-c.closed:
	case <-time.After(5 * time.Second):
		c.conn.Close()
	}
}
