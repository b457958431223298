package ocr

// Delta is what changed between two recognitions
type Delta struct {
	Added    []Word   `json:"added,omitempty"`
	Removed  []Word   `json:"removed,omitempty"`
	Modified []Change `json:"modified,omitempty"`
}

// Change is a word whose position held but whose text changed
type Change struct {
	Old Word `json:"old"`
	New Word `json:"new"`
}

// Empty reports whether nothing changed
func (d Delta) Empty() bool {
	return len(d.Added) == 0 && len(d.Removed) == 0 && len(d.Modified) == 0
}

// closeness in pixels under which two boxes are the same position
const closeness = 10

// Diff compares two word lists. A word at the same position with new text
// is Modified rather than Added and Removed.
func Diff(old, new []Word) Delta {
	var d Delta
	seen := make([]bool, len(old))

	for _, nw := range new {
		match := -1
		for i, ow := range old {
			if !seen[i] && ow.Text == nw.Text && isClose(ow.BoundingBox, nw.BoundingBox) {
				match = i
				break
			}
		}
		if match >= 0 {
			seen[match] = true
			continue
		}
		for i, ow := range old {
			if !seen[i] && isClose(ow.BoundingBox, nw.BoundingBox) {
				match = i
				break
			}
		}
		if match >= 0 {
			seen[match] = true
			d.Modified = append(d.Modified, Change{Old: old[match], New: nw})
			continue
		}
		d.Added = append(d.Added, nw)
	}
	for i, ow := range old {
		if !seen[i] {
			d.Removed = append(d.Removed, ow)
		}
	}
	return d
}

func isClose(a, b Box) bool {
	return abs(a.XMin-b.XMin) <= closeness && abs(a.YMin-b.YMin) <= closeness
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}
