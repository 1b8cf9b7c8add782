// Package agent runs the conversation loop for one session.
//
// Invariants:
// - Model calls for a session are serialized through a commandqueue lane.
// - Messages are committed to the store only after the model call that
//   consumed them succeeds.
// - Tool calls route through toolexecutor only; results are paired to
//   calls by id.
// - Abort is a distinct outcome (ErrAborted) that also rejects every
//   pending display resolver.
//
// Usage:
//
//	a, _ := agent.New(agent.Config{...})
//	reply, _ := a.ProcessRequest(context.Background(), "hello")
//	_ = reply
package agent
