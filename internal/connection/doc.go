// Package connection owns the streaming transport: a websocket Client
// per upstream endpoint and a Manager that lazily opens one connection
// per client key, multiplexes their inbound messages onto a shared
// channel, and reports unexpected closures.
package connection
