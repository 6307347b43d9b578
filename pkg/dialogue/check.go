package dialogue

import (
	"errors"
	"fmt"

	"github.com/antzucaro/matchr"
)

// IssueKind classifies a problem found by [Check].
type IssueKind string

const (
	IssueDuplicateID      IssueKind = "duplicate_id"
	IssueMissingID        IssueKind = "missing_id"
	IssueDanglingNext     IssueKind = "dangling_next"
	IssueInvalidDuration  IssueKind = "invalid_duration"
	IssueUnknownCondition IssueKind = "unknown_condition"
	IssueNoEntryLine      IssueKind = "no_entry_line"
)

// Issue is a single lint finding.
type Issue struct {
	Kind    IssueKind
	Speaker string
	LineID  string
	// Position is the zero-based index in the input slice, or -1 for
	// speaker-level findings.
	Position int
	Err      error
}

func (i Issue) String() string {
	loc := fmt.Sprintf("line %d", i.Position)
	if i.Position < 0 {
		loc = "speaker"
	}
	return fmt.Sprintf("%s (%s, speaker=%q, id=%q): %v", i.Kind, loc, i.Speaker, i.LineID, i.Err)
}

// Check lints an authored line collection. It reports everything the runtime
// would otherwise only discover mid-conversation. Findings are returned in
// input order followed by speaker-level findings.
//
// Unknown conditions are reported even though the runtime treats them as
// eligible, since they are usually typos. Speakers whose lines are all
// referenced are reported because the start line falls back to the smallest
// id, which is rarely what the author meant.
func Check(lines []Line) []Issue {
	var issues []Issue
	idx := BuildIndex(lines)

	seen := make(map[string]bool, len(lines))
	for i, l := range lines {
		if l.ID == "" {
			issues = append(issues, Issue{Kind: IssueMissingID, Speaker: l.Speaker, Position: i,
				Err: errors.New("line has no id and will be ignored")})
			continue
		}
		if seen[l.ID] {
			issues = append(issues, Issue{Kind: IssueDuplicateID, Speaker: l.Speaker, LineID: l.ID, Position: i,
				Err: ErrDuplicateID})
			continue
		}
		seen[l.ID] = true

		if l.NextID != "" {
			if _, ok := idx.Lookup(l.NextID); !ok {
				err := fmt.Errorf("%w: %q", ErrDanglingNext, l.NextID)
				if near := closestID(idx, l.Speaker, l.NextID); near != "" {
					err = fmt.Errorf("%w: %q (did you mean %q?)", ErrDanglingNext, l.NextID, near)
				}
				issues = append(issues, Issue{Kind: IssueDanglingNext, Speaker: l.Speaker, LineID: l.ID, Position: i, Err: err})
			}
		}
		if _, err := l.Hold(); err != nil {
			issues = append(issues, Issue{Kind: IssueInvalidDuration, Speaker: l.Speaker, LineID: l.ID, Position: i, Err: err})
		}
		if !l.Condition.IsKnown() {
			issues = append(issues, Issue{Kind: IssueUnknownCondition, Speaker: l.Speaker, LineID: l.ID, Position: i,
				Err: fmt.Errorf("condition %q is not recognised and is treated as always eligible", l.Condition)})
		}
	}

	for _, speaker := range idx.Speakers() {
		if !hasUnreferencedLine(idx, speaker) {
			start, _ := FindStart(idx, speaker)
			issues = append(issues, Issue{Kind: IssueNoEntryLine, Speaker: speaker, LineID: start.ID, Position: -1,
				Err: errors.New("every line is referenced; falling back to the smallest id")})
		}
	}
	return issues
}

func hasUnreferencedLine(idx *Index, speaker string) bool {
	referenced := make(map[string]bool)
	var ids []string
	for _, l := range idx.Lines() {
		if l.Speaker != speaker {
			continue
		}
		ids = append(ids, l.ID)
		if l.NextID != "" {
			referenced[l.NextID] = true
		}
	}
	for _, id := range ids {
		if !referenced[id] {
			return true
		}
	}
	return false
}

// typoThreshold is the Jaro-Winkler similarity above which an existing id is
// offered as the likely target of a dangling next id.
const typoThreshold = 0.85

// closestID returns the id among speaker's lines most similar to id, or "".
func closestID(idx *Index, speaker, id string) string {
	best, bestScore := "", typoThreshold
	for _, l := range idx.Lines() {
		if l.Speaker != speaker {
			continue
		}
		if s := matchr.JaroWinkler(id, l.ID, false); s >= bestScore {
			best, bestScore = l.ID, s
		}
	}
	return best
}
