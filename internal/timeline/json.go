package timeline

import (
	"encoding/json"
	"fmt"
)

// The report stores a run as a heterogeneous list: the two crash buckets first,
// then one object per bug.
type ungroupedEntry struct {
	UngroupedCrashes []string `json:"ungrouped_crashes"`
}

type multiEntry struct {
	MultiBugsTriggered []string `json:"multi_bugs_triggered"`
}

func (t *Timeline) MarshalJSON() ([]byte, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	entries := make([]any, 0, len(t.order)+2)
	entries = append(entries,
		ungroupedEntry{nonNil(t.ungrouped)},
		multiEntry{nonNil(t.multi)},
	)
	for _, id := range t.order {
		entries = append(entries, t.bugs[id])
	}
	return json.Marshal(entries)
}

func (t *Timeline) UnmarshalJSON(data []byte) error {
	var entries []map[string]json.RawMessage
	if err := json.Unmarshal(data, &entries); err != nil {
		return fmt.Errorf("failed to decode run: %w", err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.order = nil
	t.bugs = make(map[string]*BugRecord)
	t.ungrouped = nil
	t.multi = nil

	for _, entry := range entries {
		if raw, ok := entry["ungrouped_crashes"]; ok {
			if err := json.Unmarshal(raw, &t.ungrouped); err != nil {
				return fmt.Errorf("failed to decode ungrouped crashes: %w", err)
			}
			continue
		}
		if raw, ok := entry["multi_bugs_triggered"]; ok {
			if err := json.Unmarshal(raw, &t.multi); err != nil {
				return fmt.Errorf("failed to decode multi-bug crashes: %w", err)
			}
			continue
		}
		if _, ok := entry["bug_id"]; !ok {
			continue
		}
		rec := &BugRecord{}
		obj, _ := json.Marshal(entry)
		if err := json.Unmarshal(obj, rec); err != nil {
			return fmt.Errorf("failed to decode bug record: %w", err)
		}
		if _, dup := t.bugs[rec.BugID]; dup {
			return fmt.Errorf("duplicate bug id %s in run", rec.BugID)
		}
		if rec.RawCrashData == nil {
			rec.RawCrashData = []string{}
		}
		t.bugs[rec.BugID] = rec
		t.order = append(t.order, rec.BugID)
	}
	return nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
