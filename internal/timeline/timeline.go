// Package timeline holds the per-run bug records that the replay pass fills
// in. All times are whole seconds since the start of the trial.
package timeline

import (
	"fmt"
	"slices"
	"sync"
)

type BugRecord struct {
	BugID        string   `json:"bug_id"`
	Reached      *int64   `json:"reached"`
	Triggered    *int64   `json:"triggered"`
	Detected     *int64   `json:"detected"`
	RawCrashData []string `json:"raw_crash_data"`
}

// Observation is what one replayed input told us.
type Observation struct {
	Input     string
	Time      int64
	Reached   []string
	Triggered []string
}

// Timeline is the record set of one trial run. It is safe for concurrent use.
type Timeline struct {
	mu        sync.RWMutex
	order     []string
	bugs      map[string]*BugRecord
	ungrouped []string
	multi     []string
}

// New creates one empty record per known bug id. Duplicate ids are dropped.
func New(bugIDs []string) *Timeline {
	t := &Timeline{bugs: make(map[string]*BugRecord, len(bugIDs))}
	for _, id := range bugIDs {
		if _, ok := t.bugs[id]; ok {
			continue
		}
		t.bugs[id] = &BugRecord{BugID: id, RawCrashData: []string{}}
		t.order = append(t.order, id)
	}
	return t
}

// Merge folds a replay observation into the timeline. The outcome does not
// depend on the order in which observations arrive.
func (t *Timeline) Merge(obs Observation, crash bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, id := range obs.Reached {
		if rec, ok := t.bugs[id]; ok {
			earliest(&rec.Reached, obs.Time)
		}
	}
	if len(obs.Triggered) > 0 {
		if rec, ok := t.bugs[obs.Triggered[0]]; ok {
			earliest(&rec.Triggered, obs.Time)
			if crash {
				if !slices.Contains(rec.RawCrashData, obs.Input) {
					rec.RawCrashData = append(rec.RawCrashData, obs.Input)
				}
				earliest(&rec.Detected, obs.Time)
			}
		}
	}
	if !crash {
		return
	}
	switch {
	case len(obs.Triggered) > 1:
		t.multi = append(t.multi, obs.Input)
	case len(obs.Triggered) == 0:
		t.ungrouped = append(t.ungrouped, obs.Input)
	}
}

// earliest stores v in *cur when nothing is stored yet or v is strictly earlier.
func earliest(cur **int64, v int64) {
	if *cur != nil && **cur <= v {
		return
	}
	*cur = &v
}

// Records returns a copy of every record in creation order.
func (t *Timeline) Records() []BugRecord {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]BugRecord, 0, len(t.order))
	for _, id := range t.order {
		out = append(out, t.bugs[id].clone())
	}
	return out
}

// Record returns a copy of the record for id.
func (t *Timeline) Record(id string) (BugRecord, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	rec, ok := t.bugs[id]
	if !ok {
		return BugRecord{}, false
	}
	return rec.clone(), true
}

func (t *Timeline) UngroupedCrashes() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return slices.Clone(t.ungrouped)
}

func (t *Timeline) MultiBugsTriggered() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return slices.Clone(t.multi)
}

func (r BugRecord) clone() BugRecord {
	c := r
	c.Reached = clonePtr(r.Reached)
	c.Triggered = clonePtr(r.Triggered)
	c.Detected = clonePtr(r.Detected)
	c.RawCrashData = slices.Clone(r.RawCrashData)
	return c
}

func clonePtr(p *int64) *int64 {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func (r BugRecord) String() string {
	return fmt.Sprintf("Bug ID: %s, Reached: %s, Triggered: %s, Detected: %s",
		r.BugID, fmtTime(r.Reached), fmtTime(r.Triggered), fmtTime(r.Detected))
}

func fmtTime(p *int64) string {
	if p == nil {
		return "None"
	}
	return fmt.Sprint(*p)
}
