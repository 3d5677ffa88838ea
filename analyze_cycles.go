package trellis

import (
	"sort"
	"strings"
)

// findCycles enumerates dependency loops in the import graph, stopping
// after maxCycles distinct ones. The walk is an iterative depth-first
// search carrying the current path; an edge back into the path closes a
// cycle over the path slice from that point. Rotations of one loop are a
// single cycle, canonicalized to start at the smallest member name.
func findCycles(g *DirectedGraph, maxCycles int) ([]Cycle, bool) {
	var cycles []Cycle
	seenCycle := make(map[string]bool)
	truncated := false

	record := func(members []string, selfImport bool) {
		canon := rotateSmallest(members)
		key := strings.Join(canon, "\x00")
		if seenCycle[key] {
			return
		}
		seenCycle[key] = true
		if len(cycles) >= maxCycles {
			truncated = true
			return
		}
		cycles = append(cycles, Cycle{Members: canon, SelfImport: selfImport})
	}

	ids := make([]string, 0, len(g.nodes))
	for id := range g.nodes {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return g.qnameOf(ids[i]) < g.qnameOf(ids[j]) })

	// A node importing itself is its own loop. Reported here once; the
	// walk below skips self edges entirely.
	for _, id := range ids {
		for _, t := range g.Neighbors(id) {
			if t == id {
				record([]string{g.qnameOf(id)}, true)
				break
			}
		}
	}

	type frame struct {
		id   string
		next int
	}
	visited := make(map[string]bool)
	for _, start := range ids {
		if visited[start] {
			continue
		}
		visited[start] = true
		stack := []frame{{id: start}}
		var path []string
		pathIndex := make(map[string]int)

		for len(stack) > 0 {
			f := &stack[len(stack)-1]
			if f.next == 0 {
				pathIndex[f.id] = len(path)
				path = append(path, f.id)
			}
			neighbors := g.Neighbors(f.id)
			descended := false
			for f.next < len(neighbors) {
				t := neighbors[f.next]
				f.next++
				if t == f.id {
					continue
				}
				if at, onPath := pathIndex[t]; onPath {
					members := make([]string, 0, len(path)-at)
					for _, id := range path[at:] {
						members = append(members, g.qnameOf(id))
					}
					record(members, false)
					continue
				}
				if visited[t] {
					continue
				}
				visited[t] = true
				stack = append(stack, frame{id: t})
				descended = true
				break
			}
			if descended {
				continue
			}
			delete(pathIndex, f.id)
			path = path[:len(path)-1]
			stack = stack[:len(stack)-1]
		}
	}
	return cycles, truncated
}

// rotateSmallest rotates cycle members so the lexicographically smallest
// one leads, making rotations of one loop compare equal.
func rotateSmallest(members []string) []string {
	if len(members) == 0 {
		return members
	}
	at := 0
	for i, m := range members {
		if m < members[at] {
			at = i
		}
	}
	out := make([]string, 0, len(members))
	out = append(out, members[at:]...)
	out = append(out, members[:at]...)
	return out
}
