package eventlog

import "slices"

// OldestFirst returns a copy of newest-first entries in delivery order.
func OldestFirst(entries []Entry) []Entry {
	out := slices.Clone(entries)
	slices.Reverse(out)
	return out
}

func sortOldestFirst(entries []Entry) {
	slices.SortStableFunc(entries, func(a, b Entry) int {
		return a.ReceivedAt.Compare(b.ReceivedAt)
	})
}
