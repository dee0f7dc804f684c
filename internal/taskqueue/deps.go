package taskqueue

import (
	"fmt"
	"strings"

	apperrors "github.com/Iron-Ham/teamwork/internal/errors"
)

// checkDependencies normalizes a blocked_by list: ids must exist, must not
// name self, and must not close a cycle through self. Duplicates are dropped.
func (r *Registry) checkDependencies(teamName, selfID string, ids []string) ([]string, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if seen[id] {
			continue
		}
		seen[id] = true
		if err := validID(id); err != nil {
			return nil, apperrors.NewValidationError(fmt.Sprintf("blocked_by: %q is not a task number", id)).WithField("blocked_by")
		}
		if id == selfID {
			return nil, apperrors.NewValidationError("a task cannot block itself").WithField("blocked_by").WithValue(id)
		}
		var dep Task
		found, err := r.st.ReadJSON(taskPath(teamName, id), &dep)
		if err != nil {
			return nil, err
		}
		if !found {
			return nil, apperrors.NewValidationError(fmt.Sprintf("blocked_by: task %s does not exist", id)).WithField("blocked_by")
		}
		out = append(out, id)
	}

	if selfID != "" {
		if path, err := r.findCycle(teamName, selfID, out); err != nil {
			return nil, err
		} else if path != nil {
			return nil, apperrors.NewValidationError(
				fmt.Sprintf("blocked_by would create a cycle: %s", strings.Join(path, " -> "))).WithField("blocked_by")
		}
	}
	return out, nil
}

// findCycle reports a dependency path from any of deps back to selfID.
func (r *Registry) findCycle(teamName, selfID string, deps []string) ([]string, error) {
	visited := make(map[string]bool)
	var walk func(id string, path []string) ([]string, error)
	walk = func(id string, path []string) ([]string, error) {
		path = append(path, id)
		if id == selfID {
			return path, nil
		}
		if visited[id] {
			return nil, nil
		}
		visited[id] = true

		var t Task
		found, err := r.st.ReadJSON(taskPath(teamName, id), &t)
		if err != nil || !found {
			return nil, err
		}
		for _, next := range t.BlockedBy {
			if p, err := walk(next, path); err != nil || p != nil {
				return p, err
			}
		}
		return nil, nil
	}

	for _, d := range deps {
		if p, err := walk(d, []string{selfID}); err != nil || p != nil {
			return p, err
		}
	}
	return nil, nil
}

// checkUnblocked returns blocked_dependency when any dependency of t is not
// completed. A dependency that was deleted out from under the task counts as
// unfinished.
func (r *Registry) checkUnblocked(teamName string, t *Task) error {
	var waiting []string
	for _, id := range t.BlockedBy {
		var dep Task
		found, err := r.st.ReadJSON(taskPath(teamName, id), &dep)
		if err != nil {
			return err
		}
		if !found || dep.Status != StatusCompleted {
			waiting = append(waiting, id)
		}
	}
	if len(waiting) > 0 {
		return apperrors.NewConflictError(apperrors.CodeBlockedDependency, "task", t.ID).
			WithMessage("waiting on unfinished tasks %s", strings.Join(waiting, ", "))
	}
	return nil
}

func dependenciesDone(ids []string, statusByID map[string]Status) bool {
	for _, id := range ids {
		if statusByID[id] != StatusCompleted {
			return false
		}
	}
	return true
}
