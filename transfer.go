package ftp

import "io"

// Store uploads r to remotePath via STOR, per spec.md §4.7's
// `put(src, dst)` verb. The transfer always runs in binary mode.
func (c *Client) Store(remotePath string, r io.Reader) error {
	return c.upload("STOR "+remotePath, r)
}

// Append appends r to remotePath via APPE.
func (c *Client) Append(remotePath string, r io.Reader) error {
	return c.upload("APPE "+remotePath, r)
}

func (c *Client) upload(command string, r io.Reader) error {
	if err := c.Type("I"); err != nil {
		return err
	}
	req := NewRequest(command).ExpectSuccess(226).ExpectError(451, 452, 532, 550, 552, 553)
	req.Input = &InputSource{Reader: r}
	err := c.engine.SubmitAndWait(req)
	c.noteActivity()
	return err
}

// Retrieve downloads remotePath into w via RETR, per spec.md §4.7's
// `get(path)` verb.
func (c *Client) Retrieve(remotePath string, w io.Writer) error {
	if err := c.Type("I"); err != nil {
		return err
	}
	req := NewRequest("RETR " + remotePath).ExpectSuccess(226).ExpectError(450, 550)
	req.Output = w
	err := c.engine.SubmitAndWait(req)
	c.noteActivity()
	return err
}
