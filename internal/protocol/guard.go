package protocol

// ApplyGuard is the per-session ordering primitive: a monotonic event-id
// cursor that admits each event at most once, whichever channel delivered it.
// Ids are not guaranteed contiguous; gaps are admitted silently.
type ApplyGuard struct {
	lastApplied int64
}

// Admit reports whether an event with the given id may be applied, advancing
// the cursor when it may. A nil id means the event carries no ordering
// information and is always admitted without moving the cursor.
func (g *ApplyGuard) Admit(eventID *int64) bool {
	if eventID == nil {
		return true
	}
	if *eventID <= g.lastApplied {
		return false
	}
	g.lastApplied = *eventID
	return true
}

func (g *ApplyGuard) LastApplied() int64 {
	return g.lastApplied
}

// Reset rewinds the cursor, used only on whole-session switch.
func (g *ApplyGuard) Reset() {
	g.lastApplied = 0
}
