// Package http serves a kernel over HTTP with gin.
//
// Endpoints:
//   - Health: / and /health
//   - Processes: /procs, /procs/:pid, /procs/:pid/wait, /procs/:pid/ops/:name
//   - Filesystem: /mounts, /fs/*path
//   - Transport: /rpc/*object, the wire protocol other contexts call
//   - Observability: /metrics, /metrics/json, /traces, /logs
//
// Errors are written as the same envelope ops return, with a status code
// chosen from the error kind.
//
//	handlers := http.NewHandlers(k, tracer, logger)
//	handlers.Register(router)
package http
