/*
Package monitoring provides Prometheus metrics for the kernel.

# Overview

Each kernel owns a Metrics collector registered on its own registry. The
collector tracks op dispatch, process lifecycle, stream I/O, outbound
fetches, cross-context transports and the HTTP shim.

# Usage

	// Create metrics collector
	metrics := monitoring.NewMetrics()

	// Add middleware to Gin router
	router.Use(monitoring.Middleware(metrics))

	// Time an op
	timer := monitoring.NewTimer(metrics, "op_read", "async")
	// ... perform operation ...
	timer.Stop("")

# Metrics Endpoint

	handler := promhttp.HandlerFor(metrics.Registry(), promhttp.HandlerOpts{})
	router.GET("/metrics", gin.WrapH(handler))
*/
package monitoring
