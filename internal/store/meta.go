package store

import "time"

// Meta is per-resource fetch bookkeeping: one instance per agent name and,
// for calls, one per resource kind (summary, event list).
//
// Err is advisory, not destructive: a failed refetch records the error here
// while any previously cached data stays visible. NotFound distinguishes a
// permanent missing resource from a retryable failure.
type Meta struct {
	Loading     bool
	Err         string
	NotFound    bool
	LastFetched time.Time
}

// Fresh reports whether the resource was fetched successfully within ttl.
// A zero ttl never considers data fresh.
func (m Meta) Fresh(ttl time.Duration) bool {
	if m.LastFetched.IsZero() || ttl <= 0 {
		return false
	}
	return time.Since(m.LastFetched) < ttl
}

func loadedMeta() Meta {
	return Meta{LastFetched: time.Now().UTC()}
}
