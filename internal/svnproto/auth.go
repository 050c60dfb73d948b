package svnproto

import (
	"crypto/hmac"
	"crypto/md5"
	"encoding/hex"
)

// Credentials carries the optional username/password pair used to pick
// and drive a SASL mechanism (spec.md §4.3).
type Credentials struct {
	Username string
	Password string
}

// authenticate picks ANONYMOUS when no username is configured, falling
// back to CRAM-MD5 otherwise (spec.md §4.3 "picks a SASL mechanism
// preferring ANONYMOUS when no username is configured").
func (c *Conn) authenticate(creds Credentials) error {
	if creds.Username == "" {
		return c.authAnonymous()
	}
	return c.authCramMD5(creds)
}

func (c *Conn) authAnonymous() error {
	if err := c.enc.WriteList(); err != nil {
		return err
	}
	if err := c.enc.WriteAtom("ANONYMOUS"); err != nil {
		return err
	}
	if err := c.enc.WriteList(); err != nil {
		return err
	}
	if err := c.enc.WriteListEnd(); err != nil {
		return err
	}
	if err := c.enc.WriteListEnd(); err != nil {
		return err
	}
	return c.enc.Flush()
}

// authCramMD5 implements the CRAM-MD5 challenge/response exchange:
// read (step <challenge>), respond with "username HMAC-MD5(password,
// challenge)" hex-lowercase (spec.md §4.3).
func (c *Conn) authCramMD5(creds Credentials) error {
	if err := c.enc.WriteList(); err != nil {
		return err
	}
	if err := c.enc.WriteAtom("CRAM-MD5"); err != nil {
		return err
	}
	if err := c.enc.WriteList(); err != nil {
		return err
	}
	if err := c.enc.WriteListEnd(); err != nil {
		return err
	}
	if err := c.enc.WriteListEnd(); err != nil {
		return err
	}
	if err := c.enc.Flush(); err != nil {
		return err
	}

	if err := c.dec.ReadList(); err != nil {
		return err
	}
	step, err := c.dec.ReadAtom()
	if err != nil {
		return err
	}
	if step != "step" {
		return c.checkFailure(step)
	}
	challenge, err := c.dec.ReadString()
	if err != nil {
		return err
	}
	if err := c.dec.ReadEnd(); err != nil {
		return err
	}

	mac := hmac.New(md5.New, []byte(creds.Password))
	mac.Write(challenge)
	digest := hex.EncodeToString(mac.Sum(nil))
	response := creds.Username + " " + digest

	if err := c.enc.WriteList(); err != nil {
		return err
	}
	if err := c.enc.WriteString([]byte(response)); err != nil {
		return err
	}
	if err := c.enc.WriteListEnd(); err != nil {
		return err
	}
	if err := c.enc.Flush(); err != nil {
		return err
	}
	return nil
}
