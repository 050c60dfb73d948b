package main

import "github.com/svnbridge/gitsvn/internal/svnproto"

// connDriver adapts a live *svnproto.Conn to internal/apply.Driver,
// driving one report-based update exchange per ApplyEntry call (the
// production wiring internal/apply.Driver's doc comment names).
type connDriver struct {
	conn *svnproto.Conn
	opts svnproto.UpdateOptions
}

func (d connDriver) Drive(h svnproto.EditorHandler) error {
	return d.conn.DriveUpdate(d.opts, h)
}
