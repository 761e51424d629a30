// Package ws attaches browser terminals to a kernel over WebSocket.
//
// Message types (client to server):
//   - input: keystrokes for /dev/tty0
//   - eof: end of console input
//   - resize: new console size in cols and rows
//   - spawn: start a process from a spawn descriptor
//   - ping: keep-alive
//
// Message types (server to client):
//   - system: greeting
//   - console: output written to /dev/tty0
//   - event: process transitions and relay traffic
//   - spawned: pid of a process started by spawn
//   - pong, error
//
// The kernel's console must tee into the handler's Feed:
//
//	feed := ws.NewFeed()
//	k, _ := kernel.New(kernel.Options{Console: io.MultiWriter(os.Stdout, feed)})
//	router.GET("/stream", ws.NewHandler(k, feed, logger).HandleConnection)
package ws
