package callgraph

import "sort"

// Graph holds the derived global maps computed from every file's Entry:
// which file defines a symbol, and which files call it.
type Graph struct {
	defines   map[string][]string // symbol -> files defining it
	calledBy  map[string][]string // symbol -> files calling it
	adjacency map[string]map[string]bool
}

// Build derives a Graph from a per-file entry map (spec.md §3: "Derived
// globally: defines: symbol -> [file], called_by: symbol -> [file]").
func Build(entries map[string]Entry) *Graph {
	g := &Graph{
		defines:   map[string][]string{},
		calledBy:  map[string][]string{},
		adjacency: map[string]map[string]bool{},
	}

	definedIn := map[string][]string{}
	for file, e := range entries {
		for _, sym := range e.Definitions {
			definedIn[sym] = append(definedIn[sym], file)
		}
	}
	for sym, files := range definedIn {
		sort.Strings(files)
		g.defines[sym] = files
	}

	for file, e := range entries {
		for _, sym := range e.Calls {
			g.calledBy[sym] = appendUnique(g.calledBy[sym], file)
			for _, definer := range definedIn[sym] {
				if definer == file {
					continue
				}
				g.link(file, definer)
			}
		}
	}
	for sym := range g.calledBy {
		sort.Strings(g.calledBy[sym])
	}

	return g
}

func appendUnique(list []string, v string) []string {
	for _, existing := range list {
		if existing == v {
			return list
		}
	}
	return append(list, v)
}

// link records an undirected edge caller<->callee in the adjacency map:
// for hop-distance purposes a caller and its callee are each "related"
// to the other, whichever side made the call.
func (g *Graph) link(a, b string) {
	if g.adjacency[a] == nil {
		g.adjacency[a] = map[string]bool{}
	}
	if g.adjacency[b] == nil {
		g.adjacency[b] = map[string]bool{}
	}
	g.adjacency[a][b] = true
	g.adjacency[b][a] = true
}

// DefinersOf returns the files that define sym.
func (g *Graph) DefinersOf(sym string) []string {
	return g.defines[sym]
}

// CallersOf returns the files that call sym.
func (g *Graph) CallersOf(sym string) []string {
	return g.calledBy[sym]
}

// RelatedFiles returns every file within maxHops of file in the
// caller/callee adjacency graph, not including file itself.
func (g *Graph) RelatedFiles(file string, maxHops int) []string {
	if maxHops <= 0 {
		return nil
	}
	visited := map[string]int{file: 0}
	frontier := []string{file}
	for hop := 1; hop <= maxHops; hop++ {
		var next []string
		for _, f := range frontier {
			for neighbor := range g.adjacency[f] {
				if _, seen := visited[neighbor]; seen {
					continue
				}
				visited[neighbor] = hop
				next = append(next, neighbor)
			}
		}
		if len(next) == 0 {
			break
		}
		frontier = next
	}

	out := make([]string, 0, len(visited)-1)
	for f := range visited {
		if f != file {
			out = append(out, f)
		}
	}
	sort.Strings(out)
	return out
}

// RelatedFilesForSymbols unions RelatedFiles across every file that
// defines any of symbols, within maxHops — the query-time lookup hybrid
// search uses: "any symbol extracted from the query" (spec.md §4.5).
func (g *Graph) RelatedFilesForSymbols(symbols []string, maxHops int) map[string]bool {
	out := map[string]bool{}
	for _, sym := range symbols {
		for _, file := range g.DefinersOf(sym) {
			out[file] = true
			for _, related := range g.RelatedFiles(file, maxHops) {
				out[related] = true
			}
		}
		for _, file := range g.CallersOf(sym) {
			out[file] = true
		}
	}
	return out
}
