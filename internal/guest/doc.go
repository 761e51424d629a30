// Package guest is the guest side of the op boundary. Sys is the system call
// client every guest uses, Registry binds Go programs to command names, and
// Runtime hosts JavaScript guests on goja with the same Kernel surface a
// browser worker sees.
package guest
