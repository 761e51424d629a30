/*
Package ops is the host operation set a process exposes to its guest.

Ops are registered in a fixed order after op_ops so a guest can cache the
name to index table once. Every op takes two loosely typed arguments,
usually a rid or path followed by an options object decoded with
mapstructure, and returns a plain value or fails with a *syserr.Error that
process dispatch turns into an envelope.

Blocking ops (read, write, accept, connect, wait, fetch_send, read_file,
write_file) have a sync and an async form. The sync form runs on the
process context so it is released when the process exits.
*/
package ops
