// Package session stores agent session transcripts as JSONL files.
//
// Invariants:
// - Session keys are validated and path-safe.
// - Writes for the same session are serialized.
// - Corrupt lines never fail a load; they are skipped and can be removed with Repair.
//
// Usage:
//
//	mgr, _ := session.New("/tmp/factory/transcripts")
//	_ = mgr.Append(ctx, "supervisor-x1", session.Message{Role: session.RoleUser, Content: "hello"})
//	entries, _ := mgr.Load(ctx, "supervisor-x1")
package session
