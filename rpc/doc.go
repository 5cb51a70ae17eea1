// Package rpc serves a parameter tree over a line oriented TCP protocol and
// provides the matching client.
//
// Every request is one line, for example "laser:power=3.5", terminated by the
// read termination. Every reply is one line "1|<payload>" or "0|<message>".
//
// The server runs in one of three modes:
//
//   - Single serves one client to completion before accepting the next one.
//   - Multi keeps every client open and polls them from the accept goroutine
//     whenever no new client is waiting.
//   - Threaded serves every client on its own goroutine.
//
// The client is a device.Device over a socket transport, so it shares the
// queueing, retry and reconnect behavior of any other instrument.
package rpc
