package dialogue

// FindStart picks the entry line for speaker.
//
// The start is the first of the speaker's lines (in store order) that no
// other line of the same speaker names as its NextID. When every line is
// referenced, the line with the byte-wise smallest ID is returned. This is a
// heuristic: a subgraph can have several unreferenced lines or none, and
// existing content depends on exactly this tie-break.
func FindStart(idx *Index, speaker string) (*Line, bool) {
	var group []*Line
	for _, l := range idx.Lines() {
		if l.Speaker == speaker {
			group = append(group, l)
		}
	}
	if len(group) == 0 {
		return nil, false
	}

	referenced := make(map[string]bool, len(group))
	for _, l := range group {
		if l.NextID != "" {
			referenced[l.NextID] = true
		}
	}

	for _, l := range group {
		if !referenced[l.ID] {
			return l, true
		}
	}

	smallest := group[0]
	for _, l := range group[1:] {
		if l.ID < smallest.ID {
			smallest = l
		}
	}
	return smallest, true
}
