package domain

// Entry is a record as held in the local list.
type Entry struct {
	Record

	// Pending is true for optimistically added entries that no snapshot
	// has confirmed yet
	Pending bool `json:"pending"`
}

// ListState is the ordered list of entries shown to the user.
// It is replaced wholesale on every snapshot.
type ListState struct {
	// Entries in store-delivered order, followed by any optimistic appends
	Entries []Entry

	// Generation increments on every snapshot application
	Generation uint64
}

// Len returns the number of entries.
func (s *ListState) Len() int {
	return len(s.Entries)
}

// Records returns a copy of the list as plain records.
func (s *ListState) Records() []Record {
	out := make([]Record, len(s.Entries))
	for i, e := range s.Entries {
		out[i] = e.Record
	}
	return out
}

// Clone returns a deep copy safe to hand to other goroutines.
func (s *ListState) Clone() ListState {
	dup := ListState{Generation: s.Generation}
	if len(s.Entries) > 0 {
		dup.Entries = make([]Entry, len(s.Entries))
		copy(dup.Entries, s.Entries)
	}
	return dup
}

// Replace swaps in a freshly built list and bumps the generation.
func (s *ListState) Replace(entries []Entry) {
	s.Entries = entries
	s.Generation++
}

// Append adds an optimistic entry at the end of the list.
func (s *ListState) Append(rec Record) {
	s.Entries = append(s.Entries, Entry{Record: rec, Pending: true})
}

// IndexOf returns the index of the first entry with the given name, or -1.
func (s *ListState) IndexOf(name string) int {
	for i, e := range s.Entries {
		if e.Name == name {
			return i
		}
	}
	return -1
}

// Selection identifies the row chosen for a pending delete.
// It is tied to the list generation it was made against so it never
// outlives a rebuild.
type Selection struct {
	Key        string
	Record     Record
	Index      int
	Generation uint64
	valid      bool
}

// NewSelection selects the entry at index in s.
func NewSelection(s *ListState, index int) (Selection, bool) {
	if index < 0 || index >= len(s.Entries) {
		return Selection{}, false
	}
	rec := s.Entries[index].Record
	return Selection{
		Key:        rec.Key(),
		Record:     rec,
		Index:      index,
		Generation: s.Generation,
		valid:      true,
	}, true
}

// Empty reports whether nothing is selected.
func (sel Selection) Empty() bool {
	return !sel.valid
}

// Same reports whether two selections name the same row of the same list generation.
func (sel Selection) Same(other Selection) bool {
	return sel.valid && other.valid &&
		sel.Key == other.Key &&
		sel.Index == other.Index &&
		sel.Generation == other.Generation
}
