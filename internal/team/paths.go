package team

import "path/filepath"

// Paths relative to the state root. Every component derives its files from
// these so the on-disk layout is defined in one place.

// Dir returns the team directory.
func Dir(team string) string { return filepath.Join("team", team) }

// ConfigPath returns the team config document.
func ConfigPath(team string) string { return filepath.Join(Dir(team), "config.json") }

// WorkerDir returns a worker's directory.
func WorkerDir(team, worker string) string { return filepath.Join(Dir(team), "workers", worker) }

// StatusPath returns a worker's status document.
func StatusPath(team, worker string) string {
	return filepath.Join(WorkerDir(team, worker), "status.json")
}

// InboxPath returns a worker's inbox file.
func InboxPath(team, worker string) string {
	return filepath.Join(WorkerDir(team, worker), "inbox.md")
}

// TasksDir returns the task registry directory.
func TasksDir(team string) string { return filepath.Join(Dir(team), "tasks") }

// MailboxDir returns the mailbox directory.
func MailboxDir(team string) string { return filepath.Join(Dir(team), "mailbox") }

// DispatchDir returns the dispatch directory.
func DispatchDir(team string) string { return filepath.Join(Dir(team), "dispatch") }

// LogsDir returns the log directory under the state root.
func LogsDir() string { return "logs" }
