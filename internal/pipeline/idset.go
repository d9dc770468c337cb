package pipeline

import "sort"

// IdSet is a set of record ids produced by a pipeline stage. Membership is
// a map lookup.
type IdSet map[int64]struct{}

func NewIdSet(ids ...int64) IdSet {
	s := make(IdSet, len(ids))
	for _, id := range ids {
		s.Add(id)
	}
	return s
}

func (s IdSet) Add(id int64) {
	s[id] = struct{}{}
}

func (s IdSet) Has(id int64) bool {
	_, ok := s[id]
	return ok
}

func (s IdSet) Len() int {
	return len(s)
}

// Slice returns the members in ascending order, for stable artifacts.
func (s IdSet) Slice() []int64 {
	ids := make([]int64, 0, len(s))
	for id := range s {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Union returns a new set holding every member of s and other.
func (s IdSet) Union(other IdSet) IdSet {
	out := make(IdSet, len(s)+len(other))
	for id := range s {
		out.Add(id)
	}
	for id := range other {
		out.Add(id)
	}
	return out
}
