// Package config provides 12-factor configuration for the kernel.
//
// Settings are loaded from environment variables with defaults. The boot
// manifest (mounts, environment, init command) is a separate YAML or TOML
// file named by KERNEL_MANIFEST.
//
// Configuration Sections:
//   - Server: HTTP shim listen address
//   - Kernel: pipe capacity, liveness timers, relay timeout, guest pool
//   - Logging: log level and output format
//   - RateLimit: per-IP rate limiting of the shim
//   - Fetch: outbound client used by op_fetch_send
//   - GRPC: transport listener
//
// Example Usage:
//
//	cfg := config.LoadOrDefault()
//	manifest, err := config.LoadManifest(cfg.Kernel.Manifest)
package config
