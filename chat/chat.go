package chat

import (
	"bufio"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/onnwee/renai/router"
	"github.com/onnwee/renai/telemetry"
)

const (
	DefaultAddr      = "irc.chat.twitch.tv:6667"
	DefaultTLSAddr   = "irc.chat.twitch.tv:6697"
	handshakeTimeout = 15 * time.Second
	writeTimeout     = 5 * time.Second
)

// ErrHandshake is returned by Dial when the server rejects or abandons the
// login sequence.
var ErrHandshake = errors.New("chat: handshake failed")

// ConnState is the transport lifecycle.
type ConnState int32

const (
	StateDisconnected ConnState = iota
	StateHandshaking
	StateConnected
)

func (s ConnState) String() string {
	switch s {
	case StateHandshaking:
		return "handshaking"
	case StateConnected:
		return "connected"
	default:
		return "disconnected"
	}
}

// Options configures Dial.
type Options struct {
	Addr    string // host:port; defaults to the Twitch endpoint
	TLS     bool
	Nick    string
	Token   string // with or without the "oauth:" prefix
	Channel string // with or without the leading '#'

	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
}

// Sender is the outbound half of the transport.
type Sender interface {
	Send(text string)
}

// SenderFunc adapts a function to Sender.
type SenderFunc func(text string)

// Send calls f.
func (f SenderFunc) Send(text string) { f(text) }

// Client is one IRC connection joined to one channel.
type Client struct {
	opts   Options
	conn   net.Conn
	r      *bufio.Reader
	wmu    sync.Mutex
	state  atomic.Int32
	logger *slog.Logger
}

// Dial connects and completes the PASS/NICK/welcome/JOIN sequence.
func Dial(ctx context.Context, opts Options) (*Client, error) {
	opts.Nick = strings.ToLower(strings.TrimSpace(opts.Nick))
	opts.Channel = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(opts.Channel), "#"))
	opts.Token = strings.TrimPrefix(strings.TrimSpace(opts.Token), "oauth:")
	if opts.Nick == "" || opts.Token == "" || opts.Channel == "" {
		return nil, fmt.Errorf("%w: nick, token and channel are required", ErrHandshake)
	}
	if opts.Addr == "" {
		opts.Addr = DefaultAddr
		if opts.TLS {
			opts.Addr = DefaultTLSAddr
		}
	}
	if opts.HandshakeTimeout <= 0 {
		opts.HandshakeTimeout = handshakeTimeout
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = writeTimeout
	}

	conn, err := dial(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("chat dial %s: %w", opts.Addr, err)
	}
	c := &Client{
		opts:   opts,
		conn:   conn,
		r:      bufio.NewReader(conn),
		logger: slog.Default().With(slog.String("component", "chat"), slog.String("channel", opts.Channel)),
	}
	c.state.Store(int32(StateHandshaking))
	if err := c.handshake(ctx); err != nil {
		c.state.Store(int32(StateDisconnected))
		_ = conn.Close()
		return nil, err
	}
	c.state.Store(int32(StateConnected))
	c.logger.Info("chat connected", slog.String("nick", opts.Nick), slog.String("addr", opts.Addr))
	return c, nil
}

func dial(ctx context.Context, opts Options) (net.Conn, error) {
	nd := &net.Dialer{Timeout: opts.HandshakeTimeout, KeepAlive: 30 * time.Second}
	if !opts.TLS {
		return nd.DialContext(ctx, "tcp", opts.Addr)
	}
	host, _, err := net.SplitHostPort(opts.Addr)
	if err != nil {
		return nil, err
	}
	td := &tls.Dialer{NetDialer: nd, Config: &tls.Config{ServerName: host, MinVersion: tls.VersionTLS12}}
	return td.DialContext(ctx, "tcp", opts.Addr)
}

func (c *Client) handshake(ctx context.Context) error {
	deadline := time.Now().Add(c.opts.HandshakeTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = c.conn.SetReadDeadline(deadline)
	defer func() { _ = c.conn.SetReadDeadline(time.Time{}) }()

	if err := c.writeLine("PASS oauth:" + c.opts.Token); err != nil {
		return fmt.Errorf("%w: %v", ErrHandshake, err)
	}
	if err := c.writeLine("NICK " + c.opts.Nick); err != nil {
		return fmt.Errorf("%w: %v", ErrHandshake, err)
	}
	for {
		line, err := c.readLine()
		if err != nil {
			return fmt.Errorf("%w: waiting for welcome: %v", ErrHandshake, err)
		}
		ev := ParseLine(line)
		switch ev.Kind {
		case EventPing:
			if err := c.pong(ev.Text); err != nil {
				return fmt.Errorf("%w: %v", ErrHandshake, err)
			}
		case EventNotice:
			return fmt.Errorf("%w: %s", ErrHandshake, ev.Text)
		case EventWelcome:
			if err := c.writeLine("JOIN #" + c.opts.Channel); err != nil {
				return fmt.Errorf("%w: join: %v", ErrHandshake, err)
			}
			return nil
		}
	}
}

// State reports the current lifecycle state.
func (c *Client) State() ConnState { return ConnState(c.state.Load()) }

// Nick returns the login the client authenticated as.
func (c *Client) Nick() string { return c.opts.Nick }

// Channel returns the joined channel without '#'.
func (c *Client) Channel() string { return c.opts.Channel }

// ReceiveLoop reads until the connection fails or ctx is done, answering
// PINGs and handing every PRIVMSG from someone other than the bot itself to
// onMessage. It returns nil on cancellation and the read error otherwise.
func (c *Client) ReceiveLoop(ctx context.Context, onMessage func(router.Message)) error {
	defer c.state.Store(int32(StateDisconnected))
	stop := context.AfterFunc(ctx, func() { _ = c.conn.Close() })
	defer stop()

	for {
		line, err := c.readLine()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.logger.Warn("chat connection lost; not reconnecting", slog.Any("err", err))
			return fmt.Errorf("chat read: %w", err)
		}
		ev := ParseLine(line)
		switch ev.Kind {
		case EventPing:
			if err := c.pong(ev.Text); err != nil {
				c.logger.Warn("failed to answer ping", slog.Any("err", err))
			}
		case EventPrivMsg:
			if strings.EqualFold(ev.Author, c.opts.Nick) {
				continue
			}
			if strings.TrimSpace(ev.Text) == "" {
				continue
			}
			telemetry.IncChatReceived()
			onMessage(router.Message{
				Author:    ev.Author,
				Text:      ev.Text,
				Timestamp: time.Now(),
				Source:    router.SourceChat,
			})
		case EventJoin:
			c.logger.Debug("user joined", slog.String("user", ev.Author))
		case EventNotice:
			c.logger.Info("chat notice", slog.String("text", ev.Text))
		case EventReconnect:
			c.logger.Warn("server requested reconnect; connection will drop")
		}
	}
}

var lineBreaks = strings.NewReplacer("\r\n", " ", "\r", " ", "\n", " ")

// Send posts text to the channel. Failures are logged and counted, never
// returned.
func (c *Client) Send(text string) {
	text = strings.TrimSpace(lineBreaks.Replace(text))
	if text == "" {
		return
	}
	if st := c.State(); st != StateConnected {
		c.logger.Warn("dropping chat message; not connected", slog.String("state", st.String()))
		telemetry.IncChatSendFailure()
		return
	}
	if err := c.writeLine("PRIVMSG #" + c.opts.Channel + " :" + text); err != nil {
		c.logger.Error("chat send failed", slog.Any("err", err))
		telemetry.IncChatSendFailure()
	}
}

// Close drops the connection.
func (c *Client) Close() error {
	c.state.Store(int32(StateDisconnected))
	return c.conn.Close()
}

func (c *Client) pong(payload string) error {
	if payload == "" {
		payload = "tmi.twitch.tv"
	}
	return c.writeLine("PONG :" + payload)
}

func (c *Client) writeLine(line string) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout))
	_, err := io.WriteString(c.conn, line+"\r\n")
	return err
}

func (c *Client) readLine() (string, error) {
	line, err := c.r.ReadString('\n')
	if err != nil {
		if line != "" && errors.Is(err, io.EOF) {
			return strings.TrimRight(line, "\r\n"), nil
		}
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}
