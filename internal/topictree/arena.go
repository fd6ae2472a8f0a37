package topictree

// Record carries title-generation inputs and results for one node.
type Record struct {
	Node       *Node
	Docs       []string // member document texts
	Blooms     bool
	Summary    string   // budget-compressed text sent to the title service
	Candidates []string // ranked, best first
}

// Arena is the append-only list of records filled while the tree is built.
// Nodes reference records by index (Node.TitleSlot).
type Arena struct {
	records []Record
}

// Append stores r and returns its slot.
func (a *Arena) Append(r Record) int {
	a.records = append(a.records, r)
	return len(a.records) - 1
}

// Len returns the number of records.
func (a *Arena) Len() int {
	if a == nil {
		return 0
	}
	return len(a.records)
}

// At returns the record at slot i, or nil when i is out of range.
func (a *Arena) At(i int) *Record {
	if a == nil || i < 0 || i >= len(a.records) {
		return nil
	}
	return &a.records[i]
}

// Candidates returns the ranked candidate titles for slot i.
func (a *Arena) Candidates(i int) []string {
	if r := a.At(i); r != nil {
		return r.Candidates
	}
	return nil
}
