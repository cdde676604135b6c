// Package syncedstore provides an in-memory secrets cache with encrypted
// write-behind persistence.
//
// Reads and writes hit a plain map and return immediately; a background
// worker periodically seals the map with an encryption key held in a
// platform secure key store and writes the resulting blob to a pluggable
// persistence backend. The key's access policy (passcode-only or biometric)
// can be changed at runtime, which rotates the key and re-encrypts the data
// without losing it.
//
// Failure policy: persistence failures degrade durability, never
// availability. Background sync errors are reported on an audit channel and
// otherwise swallowed; a declined authentication prompt during
// initialization leaves the store empty and wipeable rather than exposing
// stale plaintext; key rotation either fully commits or leaves everything
// untouched.
package syncedstore
