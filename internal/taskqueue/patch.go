package taskqueue

import (
	"fmt"
	"strings"

	apperrors "github.com/Iron-Ham/teamwork/internal/errors"
)

// taskPatch is a validated metadata update decoded from a field map.
type taskPatch struct {
	subject     *string
	description *string
	annotations map[string]string
	clearAnno   bool
	blockedBy   *[]string
}

func (p *taskPatch) set(key string, value any) error {
	switch key {
	case "subject":
		s, ok := value.(string)
		if !ok || strings.TrimSpace(s) == "" {
			return apperrors.NewValidationError("subject must be a non-empty string").WithField(key)
		}
		s = strings.TrimSpace(s)
		p.subject = &s
	case "description":
		s, ok := value.(string)
		if !ok {
			return apperrors.NewValidationError("description must be a string").WithField(key)
		}
		p.description = &s
	case "annotations":
		if value == nil {
			p.clearAnno = true
			return nil
		}
		m, err := stringMap(value)
		if err != nil {
			return apperrors.NewValidationError(err.Error()).WithField(key)
		}
		p.annotations = m
	case "blocked_by":
		ids, err := stringSlice(value)
		if err != nil {
			return apperrors.NewValidationError(err.Error()).WithField(key)
		}
		p.blockedBy = &ids
	default:
		return apperrors.NewValidationError(fmt.Sprintf("%s is not an updatable task field", key)).WithField(key)
	}
	return nil
}

// apply merges annotations key by key; an empty string value deletes a key.
func (p *taskPatch) apply(t *Task) {
	if p.subject != nil {
		t.Subject = *p.subject
	}
	if p.description != nil {
		t.Description = *p.description
	}
	if p.clearAnno {
		t.Annotations = nil
	}
	for k, v := range p.annotations {
		if t.Annotations == nil {
			t.Annotations = make(map[string]string)
		}
		if v == "" {
			delete(t.Annotations, k)
			continue
		}
		t.Annotations[k] = v
	}
	if len(t.Annotations) == 0 {
		t.Annotations = nil
	}
	if p.blockedBy != nil {
		t.BlockedBy = *p.blockedBy
	}
}

func stringMap(v any) (map[string]string, error) {
	switch m := v.(type) {
	case map[string]string:
		return m, nil
	case map[string]any:
		out := make(map[string]string, len(m))
		for k, val := range m {
			s, ok := val.(string)
			if !ok {
				return nil, fmt.Errorf("annotation %q must be a string", k)
			}
			out[k] = s
		}
		return out, nil
	default:
		return nil, fmt.Errorf("annotations must be an object of strings")
	}
}

func stringSlice(v any) ([]string, error) {
	switch s := v.(type) {
	case []string:
		return s, nil
	case []any:
		out := make([]string, 0, len(s))
		for _, item := range s {
			str, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("blocked_by must be a list of task ids")
			}
			out = append(out, str)
		}
		return out, nil
	case nil:
		return []string{}, nil
	default:
		return nil, fmt.Errorf("blocked_by must be a list of task ids")
	}
}
