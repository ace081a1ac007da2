// Package secret holds sensitive material (private keys, database
// passwords) for the lifetime of one run.
//
// On Linux a Buffer lives outside the Go heap: it is allocated with
// mmap(MAP_ANONYMOUS), locked into RAM with mlock and excluded from core
// dumps with MADV_DONTDUMP. Close zeroes and unmaps it. Other platforms
// fall back to a heap slice that is zeroed on Close.
//
// A Vault groups the named secrets of a run so the runner can release all
// of them with a single deferred Close.
package secret
