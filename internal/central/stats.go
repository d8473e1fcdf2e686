package central

import "sync/atomic"

// Stats counts supervisor activity since the Central was created.
type Stats struct {
	Attempts  uint64 // passes through AcquireAdapter
	Sessions  uint64 // entries into RunSession
	Decoded   uint64
	Malformed uint64
	Ignored   uint64 // notifications for other characteristics
}

type counters struct {
	attempts  atomic.Uint64
	sessions  atomic.Uint64
	decoded   atomic.Uint64
	malformed atomic.Uint64
	ignored   atomic.Uint64
}

func (c *counters) snapshot() Stats {
	return Stats{
		Attempts:  c.attempts.Load(),
		Sessions:  c.sessions.Load(),
		Decoded:   c.decoded.Load(),
		Malformed: c.malformed.Load(),
		Ignored:   c.ignored.Load(),
	}
}

// since returns the counts accumulated after earlier was taken.
func (s Stats) since(earlier Stats) Stats {
	return Stats{
		Attempts:  s.Attempts - earlier.Attempts,
		Sessions:  s.Sessions - earlier.Sessions,
		Decoded:   s.Decoded - earlier.Decoded,
		Malformed: s.Malformed - earlier.Malformed,
		Ignored:   s.Ignored - earlier.Ignored,
	}
}
