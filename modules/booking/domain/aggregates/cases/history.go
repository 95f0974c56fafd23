package cases

import "sort"

// RecordStatus appends a status occurrence to the case history and reports
// whether the entry was actually kept.
//
// Dedup rules:
//   - at most one entry for the initial status; when several arrive the
//     earliest timestamp wins, however often the booking was re-submitted
//   - otherwise an entry matching an existing (status, timestamp, actor)
//     triple is dropped
//
// The history stays sorted by timestamp ascending. Equal timestamps keep
// their arrival order. The case status tracks the newest entry, so
// replaying queued updates leaves the latest one in effect.
func (c *Case) RecordStatus(e StatusHistoryEntry) bool {
	if e.Status == InitialStatus {
		for i, existing := range c.statusHistory {
			if existing.Status != InitialStatus {
				continue
			}
			if !e.Timestamp.Before(existing.Timestamp) {
				return false
			}
			c.statusHistory[i] = e
			c.settleHistory()
			return true
		}
	} else {
		for _, existing := range c.statusHistory {
			if existing.Status == e.Status && existing.Timestamp.Equal(e.Timestamp) && existing.Actor == e.Actor {
				return false
			}
		}
	}

	c.statusHistory = append(c.statusHistory, e)
	c.settleHistory()
	return true
}

// settleHistory restores timestamp order and makes the newest entry's
// status the case status.
func (c *Case) settleHistory() {
	sort.SliceStable(c.statusHistory, func(i, j int) bool {
		return c.statusHistory[i].Timestamp.Before(c.statusHistory[j].Timestamp)
	})
	if n := len(c.statusHistory); n > 0 {
		c.status = c.statusHistory[n-1].Status
	}
}
