// Package logging provides structured logging for the kernel using uber/zap.
//
// Production logs are JSON, development logs are colored console lines; both
// use the same keys. Components derive children with Named, ForProcess and
// ForOp, so a line carries the component, pid and op it concerns. Logs go to
// stderr by default since stdout belongs to the console device.
//
//	logger := logging.OrNop(opts.Logger).Named("procmgr")
//	logger.Info("process spawned", logging.Pid(pid))
package logging
