// Package team holds the persisted team model: the team config (roster,
// counters, reserved panes), per-worker status files, and per-worker inbox
// files.
//
// A team lives under "<state root>/team/<name>/":
//
//	config.json                 team config and worker roster
//	workers/<worker>/status.json  worker status, written by the worker
//	workers/<worker>/inbox.md     instructions written by the leader
//	tasks/                       task registry (package taskqueue)
//	mailbox/                     per-worker message queues (package mailbox)
//	dispatch/                    dispatch requests and receipts (package dispatch)
//	.lock/                       exclusion lock marker (package lock)
//
// Worker identity is separated from worker status: the roster in
// config.json changes only under the team lock, while status files are
// rewritten freely by each worker.
package team
