// Package track builds landmark tracks out of pairwise feature matches.
//
// A track is the set of 2D observations, across multiple views, that are
// believed to correspond to one physical 3D point. Tracks are computed once
// from the complete match set by merging connected (view, feature) nodes and
// are read-only afterwards.
package track

import (
	"sort"

	"github.com/pkg/errors"
)

// ViewID identifies an input image.
type ViewID uint32

// FeatureID is an index into the ordered feature list of one view.
type FeatureID uint32

// ID identifies a track.
type ID uint32

// Pair is an unordered pair of views, stored with A < B.
type Pair struct {
	A ViewID `json:"a"`
	B ViewID `json:"b"`
}

// MakePair returns the canonical ordering of a view pair.
func MakePair(a, b ViewID) Pair {
	if b < a {
		a, b = b, a
	}
	return Pair{A: a, B: b}
}

// Match pairs a feature index in Pair.A with a feature index in Pair.B.
type Match struct {
	A FeatureID `json:"a"`
	B FeatureID `json:"b"`
}

// MatchesByPair holds the putative correspondences for every matched view pair.
type MatchesByPair map[Pair][]Match

// Track maps each view to the feature index observed in it.
// Invariant: one feature per view.
type Track map[ViewID]FeatureID

// Views returns the views of the track in ascending order.
func (t Track) Views() []ViewID {
	out := make([]ViewID, 0, len(t))
	for v := range t {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Map holds all valid tracks keyed by track ID.
type Map map[ID]Track

// PerView is the inverse index of Map: for each view, the sorted list of
// track IDs visible in it.
type PerView map[ViewID][]ID

// node is a (view, feature) vertex of the correspondence graph.
type node struct {
	view    ViewID
	feature FeatureID
}

// Build merges pairwise matches into tracks using union-find over
// (view, feature) nodes. Components that would observe two different
// features in the same view, or that span fewer than minLength views,
// are discarded. The result is deterministic for identical input.
func Build(matches MatchesByPair, minLength int) (Map, PerView, error) {
	if minLength < 2 {
		minLength = 2
	}
	pairs := make([]Pair, 0, len(matches))
	for p := range matches {
		if p.A == p.B {
			return nil, nil, errors.Errorf("match set contains self pair for view %d", p.A)
		}
		pairs = append(pairs, p)
	}
	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].A != pairs[j].A {
			return pairs[i].A < pairs[j].A
		}
		return pairs[i].B < pairs[j].B
	})

	parent := map[node]node{}
	var find func(n node) node
	find = func(n node) node {
		p, ok := parent[n]
		if !ok {
			parent[n] = n
			return n
		}
		if p == n {
			return n
		}
		root := find(p)
		parent[n] = root
		return root
	}
	union := func(a, b node) {
		ra, rb := find(a), find(b)
		if ra != rb {
			parent[rb] = ra
		}
	}

	for _, p := range pairs {
		for _, m := range matches[p] {
			union(node{p.A, m.A}, node{p.B, m.B})
		}
	}

	// Group nodes by component root, visiting nodes in sorted order so that
	// track IDs come out identical run to run.
	nodes := make([]node, 0, len(parent))
	for n := range parent {
		nodes = append(nodes, n)
	}
	sort.Slice(nodes, func(i, j int) bool {
		if nodes[i].view != nodes[j].view {
			return nodes[i].view < nodes[j].view
		}
		return nodes[i].feature < nodes[j].feature
	})

	rootOrder := map[node]ID{}
	components := map[node][]node{}
	for _, n := range nodes {
		r := find(n)
		if _, seen := rootOrder[r]; !seen {
			rootOrder[r] = ID(len(rootOrder))
		}
		components[r] = append(components[r], n)
	}

	tracks := Map{}
	for root, members := range components {
		t := Track{}
		consistent := true
		for _, n := range members {
			if prev, ok := t[n.view]; ok && prev != n.feature {
				consistent = false
				break
			}
			t[n.view] = n.feature
		}
		if !consistent || len(t) < minLength {
			continue
		}
		tracks[rootOrder[root]] = t
	}

	if len(tracks) == 0 {
		return nil, nil, errors.New("no consistent track of sufficient length could be built")
	}
	return tracks, BuildPerView(tracks), nil
}

// BuildPerView computes the exact inverse index of a track map.
func BuildPerView(tracks Map) PerView {
	perView := PerView{}
	for id, t := range tracks {
		for v := range t {
			perView[v] = append(perView[v], id)
		}
	}
	for v := range perView {
		ids := perView[v]
		sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	}
	return perView
}

// Shared returns the sorted track IDs visible in both views.
func (pv PerView) Shared(a, b ViewID) []ID {
	la, lb := pv[a], pv[b]
	out := []ID{}
	i, j := 0, 0
	for i < len(la) && j < len(lb) {
		switch {
		case la[i] < lb[j]:
			i++
		case la[i] > lb[j]:
			j++
		default:
			out = append(out, la[i])
			i++
			j++
		}
	}
	return out
}

// Remove deletes a track from the map and from the inverse index.
func Remove(tracks Map, perView PerView, id ID) {
	t, ok := tracks[id]
	if !ok {
		return
	}
	for v := range t {
		ids := perView[v]
		for i, other := range ids {
			if other == id {
				perView[v] = append(ids[:i], ids[i+1:]...)
				break
			}
		}
		if len(perView[v]) == 0 {
			delete(perView, v)
		}
	}
	delete(tracks, id)
}
