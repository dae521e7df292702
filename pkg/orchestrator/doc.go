// Package orchestrator runs the factory development cycle.
//
// A Coordinator owns one task store and one agent session per role: a
// supervisor, one worker per build task type and a tester. Run moves
// through assigning, executing, checking_pending, testing and reporting.
// Workers run in parallel and are joined on all of them; the execute and
// check loop repeats while workers still have pending tasks, up to
// Config.MaxIterations.
//
// OfflineScript plays every role without a model API, for tests and for
// the scripted provider of the CLI.
package orchestrator
