// Package session owns the per-handle state of a key-establishment run.
//
// A Session is shared by several concurrent actors: the handshake
// coordinator, the role executor goroutine, and the basis-exchange handler
// on the HTTP path. Every read-modify-write of session fields goes through
// a method that holds the session's own mutex for the whole sequence; the
// one genuine race in the system, two call sites trying to start sifting at
// the same time, is resolved by TryStartSifting's atomic check-and-set.
//
// The Store maps key handles to sessions and is safe for concurrent use.
package session
