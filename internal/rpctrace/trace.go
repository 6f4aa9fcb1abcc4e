// Package rpctrace builds the short trace strings logged around every call,
// both on the server side (request in / result out) and the client side.
package rpctrace

import "fmt"

const maxBufferLen = 200

// Buffer renders req/resp payloads into a short, bounded preview suitable for
// debug logging - long messages are truncated rather than flooding the log.
func Buffer(v any) string {
	s := fmt.Sprintf("%+v", v)
	if len(s) > maxBufferLen {
		return s[:maxBufferLen] + "...(truncated)"
	}
	return s
}

// Call renders the "about to call" / "call returned" trace line used by both
// the server dispatch pipeline and the retrying client. outbound=true renders
// the client-side ">>>" form, outbound=false the server-side incoming form.
func Call(outbound bool, peer, method string, payload any) string {
	arrow := "<<<"
	if outbound {
		arrow = ">>>"
	}
	return fmt.Sprintf("[RPC] %s %s %s (%s)", peer, arrow, method, Buffer(payload))
}
