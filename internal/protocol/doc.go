// Package protocol defines the wire format spoken with the upstream data
// provider: outbound subscribe/unsubscribe frames, the inbound message
// envelope, and the mapping from user-facing streams to wire channels.
package protocol
