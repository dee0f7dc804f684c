// Package event provides the in-process pub-sub bus teamwork components use
// to announce state mutations.
//
// Every mutation of shared team state (task claimed, message sent, dispatch
// outcome recorded, worker added or removed) publishes an [Event] after the
// state store write succeeds. Subscribers such as the CLI's status watcher
// or tests observe these without importing the producing package.
//
// Handlers run synchronously on the publisher's goroutine. A panicking
// handler is recovered and logged so it cannot break the publisher.
//
//	bus := event.NewBus()
//	bus.Subscribe(event.TypeTaskClaimed, func(e event.Event) {
//	    claimed := e.(event.TaskClaimedEvent)
//	    fmt.Println(claimed.Worker, "claimed", claimed.TaskID)
//	})
//
// Event types follow "category.action": team.*, worker.*, task.*, message.*,
// dispatch.*.
package event
