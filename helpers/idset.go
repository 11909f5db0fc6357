package helpers

// IDSet is an insertion-ordered set of catalog ids. It is not safe for
// concurrent use; owners guard it with their own lock.
type IDSet struct {
	index map[string]struct{}
	order []string
}

func NewIDSet(ids ...string) *IDSet {
	s := &IDSet{index: make(map[string]struct{}, len(ids))}
	for _, id := range ids {
		s.Add(id)
	}
	return s
}

// Add inserts id and reports whether it was new. Empty ids are ignored.
func (s *IDSet) Add(id string) bool {
	if id == "" {
		return false
	}
	if _, ok := s.index[id]; ok {
		return false
	}
	s.index[id] = struct{}{}
	s.order = append(s.order, id)
	return true
}

func (s *IDSet) Has(id string) bool {
	_, ok := s.index[id]
	return ok
}

func (s *IDSet) Len() int {
	return len(s.order)
}

// IDs returns a copy of the members in insertion order.
func (s *IDSet) IDs() []string {
	out := make([]string, len(s.order))
	copy(out, s.order)
	return out
}

// Filter returns the ids not yet in the set, dropping duplicates within ids.
// The set itself is left unchanged.
func (s *IDSet) Filter(ids []string) []string {
	batch := NewIDSet()
	out := []string{}
	for _, id := range ids {
		if s.Has(id) || !batch.Add(id) {
			continue
		}
		out = append(out, id)
	}
	return out
}
