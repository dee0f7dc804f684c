// Package dispatch confirms that workers learn about new mailbox messages
// and inbox instructions.
//
// Every delivery is tracked as a [Request] persisted before any notification
// is attempted, so a crash mid-dispatch leaves a pending record instead of a
// silently lost message. The [Coordinator] then:
//
//  1. persists the payload (mailbox send or inbox write),
//  2. enqueues a Request, deduplicating against pending requests with the
//     same correlation key,
//  3. calls the injected [Notifier],
//  4. for hook_preferred_with_fallback, waits for a [Receipt] written by the
//     notified party and falls back to a direct transport once on timeout or
//     failure,
//  5. records the final status on the Request and, for mailbox dispatches,
//     marks the message notified.
//
// Notifier failures (errors and panics) become a failed outcome and are
// never returned as errors. Only state store failures are.
package dispatch
