package ftp

import "fmt"

// bootstrap drives the Session Controller's connect sequence (spec.md
// §4.6, strict ordering): greeting, FEAT, optional AUTH TLS + PBSZ/PROT,
// optional USER/PASS, TYPE I. It runs before the Engine is started, so
// it talks to the Connection directly — there is no concurrent command
// in flight yet.
func (c *Client) bootstrap() error {
	if _, err := c.conn.dial(); err != nil {
		return err
	}

	c.fetchFeatures()

	if c.conn.tlsMode == tlsModeExplicit {
		if err := c.authTLS(); err != nil {
			c.conn.Close()
			return err
		}
	}

	if c.conn.secure {
		if _, err := c.control("PBSZ 0", 200); err != nil {
			c.conn.Close()
			return &TLSNegotiationFailed{Step: "PBSZ", Err: err}
		}
		if _, err := c.control("PROT P", 200); err != nil {
			c.conn.Close()
			return &TLSNegotiationFailed{Step: "PROT", Err: err}
		}
	}

	if c.user != "" {
		if err := c.login(); err != nil {
			c.conn.Close()
			return err
		}
	}

	if _, err := c.control("TYPE I", 200); err != nil {
		c.conn.Close()
		return &ProtocolError{Reason: fmt.Sprintf("TYPE I failed: %v", err)}
	}
	c.currentType = "I"
	return nil
}

func (c *Client) authTLS() error {
	frame, err := c.rawControl("AUTH TLS")
	if err != nil {
		return &TLSNegotiationFailed{Step: "AUTH TLS", Err: err}
	}
	if frame.Code != 234 {
		return &TLSNegotiationFailed{Step: "AUTH TLS", Err: &ServerError{Command: "AUTH TLS", Code: frame.Code, Message: frame.Text}}
	}
	return c.conn.UpgradeTLS()
}

// fetchFeatures sends FEAT and populates the capability set. A
// non-211 response or write failure leaves an empty capability set
// rather than aborting the connect sequence — FEAT is an optional
// extension, not every server implements it.
func (c *Client) fetchFeatures() {
	frame, err := c.rawControl("FEAT")
	if err != nil || frame.Code != 211 {
		c.caps = map[string]bool{}
		return
	}
	c.caps = parseFeatures(frame.Text)
}

func (c *Client) login() error {
	frame, err := c.rawControl("USER " + c.user)
	if err != nil {
		return &LoginFailed{Message: err.Error()}
	}
	switch frame.Code {
	case 230:
		return nil
	case 331, 332:
		passFrame, err := c.rawControl("PASS " + c.password)
		if err != nil {
			return &LoginFailed{Message: err.Error()}
		}
		if passFrame.Code != 230 {
			return &LoginFailed{Code: passFrame.Code, Message: passFrame.Text}
		}
		return nil
	default:
		return &LoginFailed{Code: frame.Code, Message: frame.Text}
	}
}

// rawControl writes cmd and awaits its single response frame, bypassing
// the Request/Engine model. Only used during bootstrap, before the
// Engine is started, and for ABOR's forced-injection path.
func (c *Client) rawControl(cmd string) (*Frame, error) {
	if err := c.conn.Write(cmd); err != nil {
		return nil, err
	}
	return c.conn.ReadFrame()
}

// control is rawControl plus response-code validation against want.
func (c *Client) control(cmd string, want ...int) (*Frame, error) {
	frame, err := c.rawControl(cmd)
	if err != nil {
		return nil, err
	}
	for _, code := range want {
		if frame.Code == code {
			return frame, nil
		}
	}
	return frame, &ServerError{Command: cmd, Code: frame.Code, Message: frame.Text}
}

// requireCapability implements the pre-flight UnsupportedFeature choice
// from spec.md §8/SPEC_FULL.md's open-question resolution.
func (c *Client) requireCapability(feature, verb string) error {
	if !c.caps[feature] {
		return &UnsupportedFeature{Feature: feature, Verb: verb}
	}
	return nil
}

// disconnect implements spec.md §4.6 "Disconnect": stop the engine,
// close the control socket, and reset session state so the Client is
// never reused after a socket error.
func (c *Client) disconnect() error {
	c.engine.Stop()
	err := c.conn.Close()
	c.caps = map[string]bool{}
	return err
}
