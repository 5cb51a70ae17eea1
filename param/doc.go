// Package param routes RPC commands through a tree of named parameters.
//
// A command addresses a node by its path and applies one operation to it:
//
//	laser:power=3.5     set "power" under "laser" to "3.5"
//	laser:power?        get "power"
//	laser:output        toggle "output" (no operation symbol)
//	dac:channel-2:volt? get "volt" with the info value "2" attached to "channel"
//
// Child names are case insensitive and spaces inside them are ignored. Among
// ':', '=' and '?' the one at the smallest index decides how a segment ends;
// a '-' marks an info value only when it occurs before that index. Info values
// are converted by the receiving node's InfoConverter and handed, in path
// order, to the handler at the end of the path.
//
// Dispatch never panics on malformed input. Unknown names, missing handlers
// and unexpected or missing info all become failed replies.
package param
