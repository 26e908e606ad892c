package ftp

import (
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"time"
)

// Option configures a Client during Dial, following the teacher's
// functional-options pattern.
type Option func(*Client) error

// WithTimeout sets the control-connect timeout (spec.md §6 connTimeout).
func WithTimeout(d time.Duration) Option {
	return func(c *Client) error {
		c.conn.connTimeout = d
		return nil
	}
}

// WithPassiveTimeout sets the passive data-connect timeout (spec.md §6
// pasvTimeout). Default is 10s.
func WithPassiveTimeout(d time.Duration) Option {
	return func(c *Client) error {
		c.conn.pasvTimeout = d
		return nil
	}
}

// WithIdleTimeout sets aliveTimeout: the idle duration after which a
// keep-alive NOOP is sent. 0 disables it.
func WithIdleTimeout(d time.Duration) Option {
	return func(c *Client) error {
		c.idleTimeout = d
		return nil
	}
}

// WithExplicitTLS enables AUTH TLS (explicit FTPS). The supplied config
// is reused, with session-cache reuse enabled automatically, for data
// channel TLS session resumption per spec.md §4.4.
func WithExplicitTLS(cfg *tls.Config) Option {
	return func(c *Client) error {
		if c.conn.tlsMode == tlsModeImplicit {
			return fmt.Errorf("ftp: explicit TLS cannot be combined with implicit TLS")
		}
		c.conn.tlsConfig = withSessionCache(cfg)
		c.conn.tlsMode = tlsModeExplicit
		return nil
	}
}

// WithImplicitTLS enables implicit TLS (connect directly over TLS,
// typically port 990).
func WithImplicitTLS(cfg *tls.Config) Option {
	return func(c *Client) error {
		if c.conn.tlsMode == tlsModeExplicit {
			return fmt.Errorf("ftp: implicit TLS cannot be combined with explicit TLS")
		}
		c.conn.tlsConfig = withSessionCache(cfg)
		c.conn.tlsMode = tlsModeImplicit
		return nil
	}
}

func withSessionCache(cfg *tls.Config) *tls.Config {
	if cfg == nil {
		cfg = &tls.Config{}
	}
	if cfg.ClientSessionCache == nil {
		cfg.ClientSessionCache = tls.NewLRUClientSessionCache(0)
	}
	return cfg
}

// WithLogger sets the logger used for control-channel, passive-transfer,
// and scheduling diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) error {
		c.conn.logger = logger
		return nil
	}
}

// WithDialer sets a custom net.Dialer for control and data connections.
func WithDialer(d *net.Dialer) Option {
	return func(c *Client) error {
		c.conn.dialer = d
		return nil
	}
}

// WithCredentials sets the username/password used during Dial's
// automatic login step (spec.md §4.6 step 4). An empty user skips login.
func WithCredentials(user, password string) Option {
	return func(c *Client) error {
		c.user = user
		c.password = password
		return nil
	}
}

// WithSecure requests AUTH TLS with the given config (shorthand for
// WithExplicitTLS, matching the "secure" boolean in spec.md §6).
func WithSecure(cfg *tls.Config) Option { return WithExplicitTLS(cfg) }

// WithCompression enables MODE Z negotiation on every passive Request
// when the server advertises it, at the given zlib level (0-9).
func WithCompression(level int) Option {
	return func(c *Client) error {
		c.engine.compression = true
		c.engine.compressionLevel = level
		return nil
	}
}

// WithBandwidthLimit sets a single rate (bytes/sec) applied to both
// upload and download pipelines.
func WithBandwidthLimit(bytesPerSecond int64) Option {
	return func(c *Client) error {
		c.engine.limitUpload = bytesPerSecond
		c.engine.limitDownload = bytesPerSecond
		return nil
	}
}

// WithUploadLimit sets the upload-only pacing rate (bytes/sec).
func WithUploadLimit(bytesPerSecond int64) Option {
	return func(c *Client) error {
		c.engine.limitUpload = bytesPerSecond
		return nil
	}
}

// WithDownloadLimit sets the download-only pacing rate (bytes/sec).
func WithDownloadLimit(bytesPerSecond int64) Option {
	return func(c *Client) error {
		c.engine.limitDownload = bytesPerSecond
		return nil
	}
}

// WithMaxPassiveRetries sets how many times PASV is retried after an
// unparseable response before the Request fails with PassiveUnavailable.
func WithMaxPassiveRetries(n int) Option {
	return func(c *Client) error {
		c.engine.maxPassiveRetries = n
		return nil
	}
}

// WithFinishedHistory enables keeping a size-capped buffer of finished
// Requests (spec.md §3 "finished-history buffer").
func WithFinishedHistory(capacity int) Option {
	return func(c *Client) error {
		c.engine.keepHistory = true
		c.engine.historyCap = capacity
		return nil
	}
}

// WithCustomListParser prepends a custom directory-listing parser,
// tried before the built-in Unix/DOS/EPLF parsers.
func WithCustomListParser(p ListingParser) Option {
	return func(c *Client) error {
		c.parsers = append([]ListingParser{p}, c.parsers...)
		return nil
	}
}

// WithObserver attaches an EngineObserver for queue/busy telemetry
// (SPEC_FULL.md's ambient-stack addition over the original's bespoke
// event emitter).
func WithObserver(o EngineObserver) Option {
	return func(c *Client) error {
		c.engine.observer = o
		return nil
	}
}
