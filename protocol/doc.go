// Package protocol drives one node's half of a BB84 key-establishment run.
//
// The Engine owns three concerns per session: the handshake that brings two
// unsynchronized peers into a mutually connected state, the role executor
// that runs the transmit (initiator) or receive (responder) phase against
// the transceiver, and the sifting step that reduces the raw exchange to
// the shared secret once both sides' bases are known.
//
// Sifting has exactly two trigger sites, the tail of the role executor and
// the basis-exchange handler, and whichever fires second must start it
// exactly once. Both sites funnel through the session's atomic
// TryStartSifting transition; only the winner computes the key.
package protocol
