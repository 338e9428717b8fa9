package event

import "time"

// Dataset is an ordered collection of events with unique IDs
type Dataset struct {
	events []*Event
	index  map[string]int // Event.ID → position in events
}

// NewDataset creates a dataset from events, keeping the first event seen for each ID
func NewDataset(events ...*Event) *Dataset {
	d := &Dataset{
		events: make([]*Event, 0, len(events)),
		index:  make(map[string]int, len(events)),
	}
	for _, evt := range events {
		d.Add(evt)
	}
	return d
}

// Add appends evt unless an event with the same ID is already present.
// Returns false when evt was discarded.
func (d *Dataset) Add(evt *Event) bool {
	if evt == nil {
		return false
	}
	if _, exists := d.index[evt.ID]; exists {
		return false
	}
	d.index[evt.ID] = len(d.events)
	d.events = append(d.events, evt)
	return true
}

// Get returns the event with the given ID
func (d *Dataset) Get(id string) (*Event, bool) {
	i, ok := d.index[id]
	if !ok {
		return nil, false
	}
	return d.events[i], true
}

// Len returns the number of events
func (d *Dataset) Len() int {
	if d == nil {
		return 0
	}
	return len(d.events)
}

// Events returns the events in dataset order. The slice is a copy.
func (d *Dataset) Events() []*Event {
	if d == nil {
		return nil
	}
	out := make([]*Event, len(d.events))
	copy(out, d.events)
	return out
}

// Classify recomputes the status of every event as of now
func (d *Dataset) Classify(now time.Time) {
	for _, evt := range d.events {
		evt.Status = Classify(evt.Date, now)
	}
}

// StatusCounts returns the number of events per status
func (d *Dataset) StatusCounts() map[Status]int {
	counts := make(map[Status]int, len(Statuses))
	for _, evt := range d.events {
		counts[evt.Status]++
	}
	return counts
}

// MergeResult contains the outcome of merging a batch into an existing dataset
type MergeResult struct {
	Dataset  *Dataset
	New      []*Event // batch events whose ID was not already stored
	Retained []string // IDs already stored that the batch observed again
}

// Merge combines existing events with a freshly scraped batch.
//
// Existing events come first and win every ID collision, so a stored record keeps
// its fields and LastSeen even when the batch observes it again. Batch events with
// unseen IDs are appended in batch order and reported as New.
func Merge(existing *Dataset, batch []*Event) *MergeResult {
	merged := NewDataset(existing.Events()...)
	result := &MergeResult{
		Dataset:  merged,
		New:      make([]*Event, 0),
		Retained: make([]string, 0),
	}

	retained := make(map[string]bool)
	for _, evt := range batch {
		if evt == nil {
			continue
		}
		if merged.Add(evt) {
			result.New = append(result.New, evt)
			continue
		}
		if existing != nil {
			if _, stored := existing.index[evt.ID]; stored && !retained[evt.ID] {
				retained[evt.ID] = true
				result.Retained = append(result.Retained, evt.ID)
			}
		}
	}

	return result
}
