// Package gateway streams a factory run to WebSocket clients.
//
// Session events, task transitions and run updates are queued without
// blocking their producers and broadcast with a per-server sequence number.
// The same server answers read-only JSON-RPC over the socket and on /rpc,
// and serves /status, /healthz and /metrics.
//
// Invariants:
// - Clients receive events in seq order.
// - Only authenticated clients receive events or RPC results.
// - With no shared secret configured every client is authenticated on connect.
package gateway
