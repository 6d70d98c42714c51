package room

// seenSet remembers the most recent transaction ids, evicting the oldest
// once capacity is reached.
type seenSet struct {
	cap   int
	order []string
	head  int
	ids   map[string]struct{}
}

func newSeenSet(capacity int) *seenSet {
	if capacity <= 0 {
		capacity = 1
	}
	return &seenSet{
		cap:   capacity,
		order: make([]string, 0, capacity),
		ids:   make(map[string]struct{}, capacity),
	}
}

func (s *seenSet) Has(id string) bool {
	_, ok := s.ids[id]
	return ok
}

func (s *seenSet) Add(id string) {
	if s.Has(id) {
		return
	}
	if len(s.order) < s.cap {
		s.order = append(s.order, id)
	} else {
		delete(s.ids, s.order[s.head])
		s.order[s.head] = id
		s.head = (s.head + 1) % s.cap
	}
	s.ids[id] = struct{}{}
}

func (s *seenSet) Len() int { return len(s.ids) }

// IDs returns the remembered ids, oldest first.
func (s *seenSet) IDs() []string {
	out := make([]string, 0, len(s.order))
	if len(s.order) < s.cap {
		return append(out, s.order...)
	}
	out = append(out, s.order[s.head:]...)
	return append(out, s.order[:s.head]...)
}
