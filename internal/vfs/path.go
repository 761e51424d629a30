package vfs

import (
	"path"
	"strings"
)

// Clean returns the shortest absolute form of p. Relative paths are taken
// from the root.
func Clean(p string) string {
	if p == "" {
		return "/"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return path.Clean(p)
}

// Join joins elements and cleans the result into an absolute path.
func Join(elem ...string) string {
	return Clean(path.Join(elem...))
}

// Resolve interprets p relative to cwd unless it is already absolute.
func Resolve(cwd, p string) string {
	if strings.HasPrefix(p, "/") {
		return Clean(p)
	}
	if cwd == "" {
		cwd = "/"
	}
	return Join(cwd, p)
}

// Split returns the components of an absolute path; "/" has none.
func Split(p string) []string {
	p = Clean(p)
	if p == "/" {
		return nil
	}
	return strings.Split(p[1:], "/")
}

// Dir returns the parent of p.
func Dir(p string) string {
	return path.Dir(Clean(p))
}

// Base returns the last element of p.
func Base(p string) string {
	return path.Base(Clean(p))
}

// IsAbs reports whether p is absolute.
func IsAbs(p string) bool {
	return strings.HasPrefix(p, "/")
}

// HasPrefix reports whether p equals prefix or lies beneath it.
func HasPrefix(p, prefix string) bool {
	if prefix == "/" {
		return true
	}
	return p == prefix || strings.HasPrefix(p, prefix+"/")
}

// Rel strips prefix from p, keeping the result absolute.
func Rel(p, prefix string) string {
	if prefix == "/" {
		return p
	}
	return Clean(strings.TrimPrefix(p, prefix))
}
