// Package agent is the client side of model conversations: a Client owns a
// model provider and creates Sessions, each with its own tool registry,
// system prompt and bounded event channel.
//
// Invariants:
// - A session runs one turn at a time; turns go through a per-session
//   commandqueue lane under a global concurrency cap.
// - Every tool call routes through the session's toolexecutor registry.
// - Events of a turn are delivered in order and end with session.idle or
//   session.error.
// - Destroy closes the event channel exactly once.
//
// Usage:
//
//	client, _ := agent.NewClient(agent.ClientConfig{Provider: provider})
//	_ = client.Start(ctx)
//	sess, _ := client.CreateSession(ctx, agent.SessionOptions{Name: "assistant"})
//	reply, _ := sess.SendAndWait(ctx, "What is 2+2?")
//	_ = sess.Destroy(ctx)
//	_ = client.Stop(ctx)
package agent
