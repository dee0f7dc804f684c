// Package scaling adds workers to and removes workers from a running team.
//
// The core types are:
//
//   - [Manager]: scale-up and scale-down under the team's exclusion lock
//   - [Spawner]: the port to whatever creates worker processes and panes
//   - [Policy]: an advisor that recommends scaling from task queue depth
//   - [Decision]: the output of policy evaluation: scale up, scale down, or hold
//
// Scaling is opt-in. A Manager built without WithEnabled(true) rejects
// every call with a scaling_disabled error.
//
// # Usage
//
//	mgr := scaling.NewManager(teams, tasks, coordinator, tmux.NewSpawner(client),
//	    scaling.WithEnabled(true),
//	    scaling.WithDrainTimeout(time.Minute),
//	)
//	res, err := mgr.ScaleUp(ctx, "alpha", scaling.ScaleUpInput{Count: 2, Role: team.RoleExecutor})
//
// Worker indices come from the team's next_worker_index counter and are
// never reissued, even after the workers holding them are removed.
package scaling
