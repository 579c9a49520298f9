package transport

// scanSession deduplicates found callbacks within a single scan. Each
// scan starts a fresh session, so a printer that is still present gets
// reported again on every rescan — the manager relies on that to keep
// its device list current.
type scanSession struct {
	seen map[string]bool
}

func newScanSession() *scanSession {
	return &scanSession{seen: make(map[string]bool)}
}

// first reports whether this is the first sighting of address in the
// current scan.
func (s *scanSession) first(address string) bool {
	if s.seen[address] {
		return false
	}
	s.seen[address] = true
	return true
}
