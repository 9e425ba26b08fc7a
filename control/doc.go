// Package control serves a mounted journal over a unix socket.
//
// A client connects and sends one line choosing what it wants:
//
//	info         the journal state as "key: value" lines
//	blog [wait]  the binary record stream; records are consumed
//	hlog [wait]  the text rendering of the records, not consumed
//
// Any other first line starts a control session: each line (commit,
// clear N, userlog TEXT) is answered "ok" or "error: MSG". A stream request
// is answered the same way before the stream starts; only one client may
// hold each record stream. Without wait a stream ends once the journal
// is empty; with wait it ends when the journal unmounts or the server
// shuts down.
package control
