// Package protocol correlates tool requests with the replies the tool server
// writes back.
//
// Three pieces cooperate:
//   - Pump classifies every output line, forwarding replies and watching
//     diagnostics for the readiness marker
//   - Dispatcher holds the pending request table keyed by request id
//   - Client allocates ids, writes requests and waits for replies
//
// Example usage:
//
//	dispatcher := protocol.NewDispatcher(log)
//	pump := protocol.NewPump(log, dispatcher, "running on stdio", nil)
//	transport.ReadLines(ctx, pump.HandleLine)
//
//	client := protocol.NewClient(log, transport, dispatcher, false, "ping")
//	result, err := client.Call(ctx, "read_file", map[string]any{"path": "a.txt"}, 30*time.Second)
package protocol
