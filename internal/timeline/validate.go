package timeline

import "fmt"

// ConsistencyError reports a bug that was triggered in a run without ever being
// reached. Every trigger site reports reached first, so this points at a broken
// replay harness rather than at the data.
type ConsistencyError struct {
	BugID     string
	Triggered int64
}

func (e *ConsistencyError) Error() string {
	return fmt.Sprintf("bug %s has no reached time but has triggered time %d", e.BugID, e.Triggered)
}

// Validate returns a *ConsistencyError for the first record that was triggered
// but never reached.
func (t *Timeline) Validate() error {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, id := range t.order {
		rec := t.bugs[id]
		if rec.Triggered != nil && rec.Reached == nil {
			return &ConsistencyError{BugID: id, Triggered: *rec.Triggered}
		}
	}
	return nil
}
