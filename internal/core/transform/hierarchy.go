package transform

import (
	"sort"

	"github.com/JonMunkholm/poimport/internal/source"
)

// Node is a task placed in the flattened hierarchy.
type Node struct {
	Task     source.Task
	ParentID string // empty for top-level rows
	Depth    int    // 0 for top-level rows
}

// IsProjectSummary reports whether t is the project summary task: outline
// level 0 at task index 0. It carries the project itself and gets no row.
func IsProjectSummary(t source.Task) bool {
	return t.OutlineLevel == 0 && t.TaskIndex == 0
}

// TaskRowCount is the number of task rows Flatten produces for tasks.
func TaskRowCount(tasks []source.Task) int {
	n := 0
	for _, t := range tasks {
		if !IsProjectSummary(t) {
			n++
		}
	}
	return n
}

// Flatten orders tasks depth-first by TaskIndex so that every parent comes
// before its children. The project summary task is dropped; any other task
// without an outline level is placed at the top level. A task whose parent is missing from the set gets one derived from
// the outline levels of the tasks before it; tasks caught in a parent cycle
// are emitted as top-level rows after everything else.
func Flatten(tasks []source.Task) []Node {
	ordered := make([]source.Task, 0, len(tasks))
	for _, t := range tasks {
		if IsProjectSummary(t) {
			continue
		}
		if t.OutlineLevel < 1 {
			t.OutlineLevel = 1
		}
		ordered = append(ordered, t)
	}
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].TaskIndex < ordered[j].TaskIndex
	})

	known := make(map[string]bool, len(ordered))
	for _, t := range ordered {
		known[t.ID] = true
	}

	parent := make(map[string]string, len(ordered))
	children := make(map[string][]source.Task, len(ordered))
	var roots []source.Task
	// lastAt[level] is the most recent task seen at that outline level.
	lastAt := map[int]string{}

	for _, t := range ordered {
		p := ""
		switch {
		case t.ParentID != "" && known[t.ParentID] && t.ParentID != t.ID:
			p = t.ParentID
		case t.OutlineLevel > 1:
			p = lastAt[t.OutlineLevel-1]
		}
		lastAt[t.OutlineLevel] = t.ID
		for lvl := range lastAt {
			if lvl > t.OutlineLevel {
				delete(lastAt, lvl)
			}
		}

		if p == "" {
			roots = append(roots, t)
			continue
		}
		parent[t.ID] = p
		children[p] = append(children[p], t)
	}

	out := make([]Node, 0, len(ordered))
	visited := make(map[string]bool, len(ordered))

	var walk func(t source.Task, parentID string, depth int)
	walk = func(t source.Task, parentID string, depth int) {
		if visited[t.ID] {
			return
		}
		visited[t.ID] = true
		out = append(out, Node{Task: t, ParentID: parentID, Depth: depth})
		for _, c := range children[t.ID] {
			walk(c, t.ID, depth+1)
		}
	}

	for _, r := range roots {
		walk(r, "", 0)
	}
	for _, t := range ordered {
		if !visited[t.ID] {
			walk(t, "", 0)
		}
	}
	return out
}

// RowNumbers maps task id to its 1-based row position in the flattened order.
func RowNumbers(nodes []Node) map[string]int {
	m := make(map[string]int, len(nodes))
	for i, n := range nodes {
		m[n.Task.ID] = i + 1
	}
	return m
}
