// Package vfs defines the kernel's filesystem contract and the mount layer
// that composes backends into one tree.
//
// A backend implements the core FileSystem operations. Supplemental
// operations (ReadFile, WriteFile, Truncate, Exists, Realpath, MkdirAll,
// RemoveAll) are package functions that use a backend's own implementation
// when it has one and fall back to the core contract otherwise. Optional
// operations (symlinks, links, chmod, chown, utimes) fail with NotSupported
// unless the backend provides them.
//
// Backends built on VirtualFile and OpenWithPolicy only supply storage; the
// cursor math and the open flag policy are shared.
//
// Backends live in subpackages:
//   - memfs: in-memory tree
//   - devfs: /dev devices, including the console
//   - fifofs: named pipes
//   - hostfs: a directory on the host
package vfs
