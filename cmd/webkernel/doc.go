// Command webkernel runs one kernel instance on the host.
//
// The kernel's console is wired to the terminal: host stdin feeds
// /dev/tty0 and console output goes to stdout and to every WebSocket
// client on /stream. The HTTP shim serves process control, the filesystem
// and the transport wire protocol. gRPC serves the same transport when
// enabled.
//
// Configuration comes from the environment (see the config package) with
// flags taking precedence:
//
//	webkernel -port 8000 -manifest boot.yaml
//	webkernel -no-stdin -grpc-enabled -grpc :50051
//	echo 'hello' | webkernel -oneshot -manifest cat.toml
//
// SIGINT and SIGTERM shut every listener down and dispose all processes.
package main
