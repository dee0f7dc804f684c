// Package taskqueue is the task registry shared by a team's leader and
// workers.
//
// Each task is one JSON document under the team's tasks directory. Workers in
// separate processes claim and finish tasks concurrently without a team-wide
// lock; correctness comes from two independent guards carried on every task:
//
//   - version, incremented by every mutation, answers "has anyone touched this
//     since I read it". A claim that names an expected version only succeeds
//     against that exact version.
//   - the claim token, issued on claim and required by [Registry.TransitionTask],
//     answers "do you hold the right to finish this claim".
//
// Lifecycle fields (status, owner, result, error) change only through
// ClaimTask and TransitionTask. [Registry.UpdateTask] edits metadata and
// rejects lifecycle fields by name. Completed and failed are terminal.
//
//	res, err := reg.ClaimTask(ctx, "alpha", "3", "worker-1", nil)
//	if err != nil {
//	    return err // claim_conflict, already_terminal, blocked_dependency
//	}
//	// ... do the work ...
//	_, err = reg.TransitionTask(ctx, "alpha", "3", taskqueue.StatusInProgress,
//	    taskqueue.StatusCompleted, res.Token, taskqueue.TransitionInput{Result: "done"})
package taskqueue
