package domain

// PoolStats holds a snapshot of registry state for the observability surface.
type PoolStats struct {
	Entries         int            `json:"entries"`           // Live pool entries
	Capacity        int            `json:"capacity"`          // Global maximum
	PerTarget       map[string]int `json:"per_target"`        // Target key -> outstanding checkouts
	EvictionsTotal  int64          `json:"evictions_total"`   // Capacity-pressure evictions since start
	IdleClosesTotal int64          `json:"idle_closes_total"` // TTL reclamations since start
}

// Saturated returns true if the registry is at global capacity.
func (s *PoolStats) Saturated() bool {
	return s.Entries >= s.Capacity
}

// BusyEntries returns the number of entries with at least one outstanding checkout.
func (s *PoolStats) BusyEntries() int {
	busy := 0
	for _, n := range s.PerTarget {
		if n > 0 {
			busy++
		}
	}
	return busy
}
