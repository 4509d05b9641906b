package model

import "time"

// Checkpoint records per-phase progress so an interrupted batch can resume
// without recomputing studies that already completed.
type Checkpoint struct {
	Phase     string    `json:"phase"`
	StudyIDs  []string  `json:"study_ids"`
	UpdatedAt time.Time `json:"updated_at"`
}

// DoneSet returns the IDs recorded as complete.
func (c *Checkpoint) DoneSet() map[string]struct{} {
	if c == nil {
		return map[string]struct{}{}
	}
	set := make(map[string]struct{}, len(c.StudyIDs))
	for _, id := range c.StudyIDs {
		set[id] = struct{}{}
	}
	return set
}
