package domain

// TaskStats holds per-status counts for one user's visible task logs.
// It is always derived, never stored.
type TaskStats struct {
	Completed  int `json:"completed"`
	Failed     int `json:"failed"`
	InProgress int `json:"in_progress"`
}

// TaskLogCollection is a user's list of task logs with derived counts.
type TaskLogCollection []*TaskLog

// Stats counts the entries in the collection by status.
func (c TaskLogCollection) Stats() TaskStats {
	var stats TaskStats
	for _, entry := range c {
		switch entry.Status {
		case TaskStatusCompleted:
			stats.Completed++
		case TaskStatusFailed:
			stats.Failed++
		case TaskStatusInProgress:
			stats.InProgress++
		}
	}
	return stats
}

// Records converts every entry, applying enrich to each one when non-nil.
func (c TaskLogCollection) Records(enrich func(*TaskLog) Recordable) []Record {
	out := make([]Record, 0, len(c))
	for _, entry := range c {
		var r Recordable = entry
		if enrich != nil {
			r = enrich(entry)
		}
		out = append(out, r.ToRecord())
	}
	return out
}
