// Package coordination exposes every team operation through a single Hub.
//
// The Hub wires the state store, team store, task registry, mailbox,
// dispatch coordinator, and worker lifecycle manager together, and wraps
// each call in a [Result] so that callers such as the CLI can report
// structured failures:
//
//	hub, err := coordination.NewHub(coordination.Config{
//	    Store:   state.NewOS(root),
//	    Bus:     bus,
//	    Spawner: tmux.NewSpawner(tmux.NewClient("")),
//	})
//	if err != nil {
//	    return err
//	}
//	res, err := hub.ClaimTask(ctx, "alpha", "1", "worker-1", nil)
//	if err != nil {
//	    return err // storage failure
//	}
//	if !res.OK {
//	    fmt.Println(res.Error.Code) // e.g. claim_conflict
//	}
//
// Validation, not-found, conflict, and transport failures land in
// Result.Error. Only failures with no code, such as filesystem errors, are
// also returned as the Go error.
package coordination
