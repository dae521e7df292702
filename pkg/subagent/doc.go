// Package subagent tracks agent turns: one record per prompt sent to an
// agent session, with status, timings and outcome. Records can be persisted
// as an atomically rewritten JSON registry.
package subagent
