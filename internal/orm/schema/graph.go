package schema

import (
	"fmt"
	"sort"
	"strings"
)

// TypeGraph captures the references between resource types: the
// relationship targets of each type and the parent of each subtype.
type TypeGraph struct {
	nodes   map[string]*ResourceType
	edges   map[string][]string // type -> relationship targets
	parents map[string]string   // subtype -> parent
}

// NewTypeGraph builds the graph of the given types
func NewTypeGraph(types map[string]*ResourceType) *TypeGraph {
	graph := &TypeGraph{
		nodes:   types,
		edges:   make(map[string][]string),
		parents: make(map[string]string),
	}

	for name, rt := range types {
		for _, relName := range rt.RelationshipNames() {
			if target := rt.relationships[relName].Target; target != "" {
				graph.edges[name] = append(graph.edges[name], target)
			}
		}
		if rt.Extends != "" {
			graph.parents[name] = rt.Extends
		}
	}

	return graph
}

// DetectCycles returns the cycles of the type hierarchy. Relationship
// cycles are legal and not reported.
func (g *TypeGraph) DetectCycles() [][]string {
	var cycles [][]string
	reported := make(map[string]bool)

	for _, start := range sortedKeys(g.nodes) {
		var path []string
		onPath := make(map[string]int)
		node := start
		for node != "" {
			if idx, seen := onPath[node]; seen {
				cycle := append([]string(nil), path[idx:]...)
				key := canonicalCycle(cycle)
				if !reported[key] {
					reported[key] = true
					cycles = append(cycles, cycle)
				}
				break
			}
			onPath[node] = len(path)
			path = append(path, node)
			node = g.parents[node]
		}
	}

	return cycles
}

// Validate reports unknown parents, unknown relationship targets and
// cycles in the type hierarchy.
func (g *TypeGraph) Validate() error {
	for _, name := range sortedKeys(g.parents) {
		if _, exists := g.nodes[g.parents[name]]; !exists {
			return fmt.Errorf("resource %s extends unknown resource %s", name, g.parents[name])
		}
	}

	for _, name := range sortedKeys(g.nodes) {
		rt := g.nodes[name]
		for _, relName := range rt.RelationshipNames() {
			target := rt.relationships[relName].Target
			if target == "" {
				continue
			}
			if _, exists := g.nodes[target]; !exists {
				return fmt.Errorf("resource %s references unknown resource %s in relationship %s",
					name, target, relName)
			}
		}
	}

	if cycles := g.DetectCycles(); len(cycles) > 0 {
		return fmt.Errorf("circular type hierarchy detected:\n%s", formatCycles(cycles))
	}

	return nil
}

// GetDependencies returns the relationship targets of a type
func (g *TypeGraph) GetDependencies(name string) []string {
	return uniqueSorted(g.edges[name])
}

// GetDependents returns the types that have a relationship to name
func (g *TypeGraph) GetDependents(name string) []string {
	var dependents []string
	for node, targets := range g.edges {
		for _, target := range targets {
			if target == name {
				dependents = append(dependents, node)
				break
			}
		}
	}
	sort.Strings(dependents)
	return dependents
}

// Report summarizes the graph for display
func (g *TypeGraph) Report() *TypeReport {
	report := &TypeReport{
		TotalTypes:   len(g.nodes),
		Dependencies: make(map[string][]string),
		Dependents:   make(map[string][]string),
		Parents:      make(map[string]string),
	}
	for name := range g.nodes {
		report.Dependencies[name] = g.GetDependencies(name)
		report.Dependents[name] = g.GetDependents(name)
	}
	for name, parent := range g.parents {
		report.Parents[name] = parent
	}
	report.Types = sortedKeys(g.nodes)
	return report
}

// TypeReport contains the results of the graph analysis
type TypeReport struct {
	TotalTypes   int
	Types        []string
	Dependencies map[string][]string // type -> relationship targets
	Dependents   map[string][]string // type -> types referencing it
	Parents      map[string]string   // subtype -> parent
}

// String formats the report
func (r *TypeReport) String() string {
	var b strings.Builder

	b.WriteString(fmt.Sprintf("Total Types: %d\n", r.TotalTypes))
	for i, name := range r.Types {
		line := fmt.Sprintf("  %d. %s", i+1, name)
		if parent, ok := r.Parents[name]; ok {
			line += fmt.Sprintf(" (extends %s)", parent)
		}
		if deps := r.Dependencies[name]; len(deps) > 0 {
			line += fmt.Sprintf(" -> %s", strings.Join(deps, ", "))
		}
		b.WriteString(line + "\n")
	}

	return b.String()
}

// formatCycles formats cycle information for error messages
func formatCycles(cycles [][]string) string {
	var b strings.Builder
	for i, cycle := range cycles {
		if i > 0 {
			b.WriteString("\n")
		}
		b.WriteString(fmt.Sprintf("  Cycle %d: %s -> %s",
			i+1,
			strings.Join(cycle, " -> "),
			cycle[0])) // Complete the cycle
	}
	return b.String()
}

func canonicalCycle(cycle []string) string {
	sorted := append([]string(nil), cycle...)
	sort.Strings(sorted)
	return strings.Join(sorted, ",")
}

func uniqueSorted(items []string) []string {
	seen := make(map[string]bool, len(items))
	out := []string{}
	for _, item := range items {
		if !seen[item] {
			seen[item] = true
			out = append(out, item)
		}
	}
	sort.Strings(out)
	return out
}
