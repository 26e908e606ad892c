package ftp

import (
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"strings"
	"sync"
	"time"
)

// Client is the caller-facing FTP client: the High-level Facade over a
// Session Controller, a Request Engine and a Connection Layer.
type Client struct {
	conn   *Connection
	engine *Engine

	user     string
	password string

	idleTimeout time.Duration

	parsers     []ListingParser
	currentType string

	caps map[string]bool

	mu          sync.Mutex
	lastCommand time.Time
	quitChan    chan struct{}
}

// Dial connects to an FTP server at addr ("host:port") and runs the
// full Session Controller bootstrap sequence (spec.md §4.6): greeting,
// optional AUTH TLS, FEAT, optional login, TYPE I.
//
// Example:
//
//	client, err := ftp.Dial("ftp.example.com:21", ftp.WithCredentials("anon", "a@b"))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Quit()
func Dial(addr string, options ...Option) (*Client, error) {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, fmt.Errorf("invalid address: %w", err)
	}

	noop := slog.New(slog.NewTextHandler(nil, &slog.HandlerOptions{Level: slog.LevelError + 1}))

	c := &Client{
		conn: &Connection{
			host:        host,
			port:        port,
			tlsMode:     tlsModeNone,
			dialer:      &net.Dialer{},
			connTimeout: 30 * time.Second,
			pasvTimeout: 10 * time.Second,
			logger:      noop,
		},
		parsers: []ListingParser{
			&EPLFParser{},
			&DOSParser{},
			&UnixParser{},
		},
		caps: map[string]bool{},
	}
	c.engine = NewEngine(c.conn, c.caps)

	for _, opt := range options {
		if err := opt(c); err != nil {
			return nil, fmt.Errorf("failed to apply option: %w", err)
		}
	}
	c.engine.logger = c.conn.logger

	if err := c.bootstrap(); err != nil {
		return nil, err
	}
	c.engine.caps = c.caps
	c.engine.Start()

	c.lastCommand = time.Now()
	c.startKeepAlive()

	return c, nil
}

// Connect is a URL-based convenience constructor. Supported schemes:
// "ftp", "ftps" (implicit TLS), "ftp+explicit" (explicit TLS). Format:
// scheme://[user:password@]host[:port][/path]
func Connect(urlStr string) (*Client, error) {
	u, err := url.Parse(urlStr)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}

	var port string
	var options []Option
	host := u.Hostname()
	port = u.Port()

	switch strings.ToLower(u.Scheme) {
	case "ftp":
		if port == "" {
			port = "21"
		}
	case "ftps":
		if port == "" {
			port = "990"
		}
		options = append(options, WithImplicitTLS(&tls.Config{ServerName: host}))
	case "ftp+explicit":
		if port == "" {
			port = "21"
		}
		options = append(options, WithExplicitTLS(&tls.Config{ServerName: host}))
	default:
		return nil, fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}

	user := u.User.Username()
	pass, hasPass := u.User.Password()
	if user == "" {
		user = "anonymous"
		pass = "anonymous@"
	} else if !hasPass {
		pass = ""
	}
	options = append(options, WithCredentials(user, pass))

	addr := net.JoinHostPort(host, port)
	c, err := Dial(addr, options...)
	if err != nil {
		return nil, err
	}

	if u.Path != "" && u.Path != "/" {
		if err := c.ChangeDir(u.Path); err != nil {
			_ = c.Quit()
			return nil, fmt.Errorf("failed to change directory: %w", err)
		}
	}

	return c, nil
}

func (c *Client) startKeepAlive() {
	if c.idleTimeout == 0 {
		return
	}
	c.quitChan = make(chan struct{})
	ticker := time.NewTicker(c.idleTimeout / 2)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				c.mu.Lock()
				last := c.lastCommand
				c.mu.Unlock()
				if time.Since(last) >= c.idleTimeout {
					c.conn.logger.Debug("ftp: sending keep-alive NOOP")
					_ = c.Noop()
				}
			case <-c.quitChan:
				return
			}
		}
	}()
}

func (c *Client) noteActivity() {
	c.mu.Lock()
	c.lastCommand = time.Now()
	c.mu.Unlock()
}

// simple submits a control-only Request for cmd, expecting any of the
// success codes, and waits for it to finish.
func (c *Client) simple(cmd string, success ...int) (*Request, error) {
	req := NewRequest(cmd).ExpectSuccess(success...)
	err := c.engine.SubmitAndWait(req)
	c.noteActivity()
	return req, err
}

// Type sets the transfer type ("A" or "I"), skipping a redundant
// command if already set.
func (c *Client) Type(transferType string) error {
	if c.currentType == transferType {
		c.conn.logger.Debug("ftp: transfer type already set, skipping TYPE", "type", transferType)
		return nil
	}
	if _, err := c.simple("TYPE "+transferType, 200); err != nil {
		return err
	}
	c.currentType = transferType
	return nil
}

// Ascii and Binary are thin wrappers over Type, per spec.md §4.7.
func (c *Client) Ascii() error  { return c.Type("A") }
func (c *Client) Binary() error { return c.Type("I") }

// System returns the server's system type (SYST).
func (c *Client) System() (string, error) {
	req, err := c.simple("SYST", 215)
	if err != nil {
		return "", err
	}
	return req.Text, nil
}

// Status returns the server's status text (STAT, no argument).
func (c *Client) Status() (string, error) {
	req, err := c.simple("STAT", 211, 212, 213)
	if err != nil {
		return "", err
	}
	return req.Text, nil
}

// Site sends a raw SITE subcommand and returns the response text.
func (c *Client) Site(args ...string) (string, error) {
	cmd := "SITE"
	if len(args) > 0 {
		cmd = "SITE " + strings.Join(args, " ")
	}
	req, err := c.simple(cmd, 200, 202, 250)
	if err != nil {
		return "", err
	}
	return req.Text, nil
}

// Noop sends a NOOP keep-alive command.
func (c *Client) Noop() error {
	_, err := c.simple("NOOP", 200)
	return err
}

// Quote sends a raw command line and returns the finished Request so
// the caller can inspect Code/Text directly.
func (c *Client) Quote(command string, args ...string) (*Request, error) {
	cmd := command
	if len(args) > 0 {
		cmd = command + " " + strings.Join(args, " ")
	}
	req := NewRequest(cmd).ExpectSuccess(200, 211, 212, 213, 215, 226, 250, 257)
	err := c.engine.SubmitAndWait(req)
	c.noteActivity()
	return req, err
}

// Abort cancels the active transfer, per spec.md §5. If force is true,
// ABOR is injected out-of-band, bypassing the queue.
func (c *Client) Abort(force bool) error {
	return c.engine.Abort(force)
}

// Features returns the capability set discovered via FEAT during Dial.
func (c *Client) Features() map[string]bool {
	out := make(map[string]bool, len(c.caps))
	for k, v := range c.caps {
		out[k] = v
	}
	return out
}

// HasFeature reports whether the server advertised feature (case-insensitive).
func (c *Client) HasFeature(feature string) bool {
	return c.caps[strings.ToUpper(feature)]
}

// Quit closes the connection gracefully: sends QUIT (best-effort), then
// tears down the control socket and resets session state.
func (c *Client) Quit() error {
	if c.quitChan != nil {
		close(c.quitChan)
		c.quitChan = nil
	}
	_, _ = c.simple("QUIT", 221)
	return c.disconnect()
}
