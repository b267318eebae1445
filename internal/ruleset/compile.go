package ruleset

import (
	"fmt"
	"sort"
	"strings"

	"github.com/verdantlabs/menusync/internal/canon"
	"github.com/verdantlabs/menusync/internal/flag"
	"github.com/verdantlabs/menusync/internal/rule"
)

type compileConfig struct {
	name     string
	version  string
	policy   Policy
	dataFlow bool
	manifest flag.Manifest
}

// Option configures compilation.
type Option func(*compileConfig)

// WithName sets the ruleset name used in errors and the fingerprint.
func WithName(name string) Option {
	return func(c *compileConfig) { c.name = name }
}

// WithVersion sets the configuration version string.
func WithVersion(v string) Option {
	return func(c *compileConfig) { c.version = v }
}

// WithPolicy sets the merge policy. Defaults to LastWins.
func WithPolicy(p Policy) Option {
	return func(c *compileConfig) { c.policy = p }
}

// WithDataFlowEdges additionally synthesizes an edge a → b whenever a's
// writes intersect b's reads. With data-flow edges on, conflict checking
// relaxes to last-writer-wins for shared writes.
func WithDataFlowEdges() Option {
	return func(c *compileConfig) { c.dataFlow = true }
}

// WithFlagManifest sets the flag universe rules may declare. Defaults to
// flag.DefaultManifest.
func WithFlagManifest(m flag.Manifest) Option {
	return func(c *compileConfig) { c.manifest = m }
}

// Compile validates the rules, synthesizes ordering edges, rejects write
// conflicts and cycles, computes the frozen execution order and returns an
// immutable RuleSet. All problems are collected into one CompileError.
func Compile(rules []rule.Rule, opts ...Option) (*RuleSet, error) {
	cfg := compileConfig{
		name:     "ruleset",
		version:  "unversioned",
		policy:   LastWins,
		manifest: flag.DefaultManifest,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	var problems []string

	byName := map[string]rule.Rule{}
	metas := map[string]rule.Meta{}
	for _, r := range rules {
		meta := r.Meta()
		if meta.Name == "" {
			problems = append(problems, "rule with empty name")
			continue
		}
		if _, dup := byName[meta.Name]; dup {
			problems = append(problems, fmt.Sprintf("duplicate rule name %q", meta.Name))
			continue
		}
		byName[meta.Name] = r
		metas[meta.Name] = meta
	}

	names := sortedNames(byName)

	for _, name := range names {
		for _, f := range metas[name].Flags {
			if !cfg.manifest.Contains(f) {
				problems = append(problems, fmt.Sprintf("rule %q reads flag %q outside the manifest", name, f))
			}
		}
	}

	adj := buildEdges(names, metas, cfg.dataFlow, &problems)

	if cfg.policy == ErrorOnConflict && !cfg.dataFlow {
		problems = append(problems, writeConflicts(names, metas, adj)...)
	}

	for _, scc := range tarjanSCC(adj, names) {
		if len(scc) > 1 {
			problems = append(problems, fmt.Sprintf("cycle: %s", strings.Join(cyclePath(scc, adj), " -> ")))
		}
	}

	if len(problems) > 0 {
		return nil, &CompileError{Ruleset: cfg.name, Problems: problems}
	}

	order, ok := topoOrder(names, metas, adj)
	if !ok {
		return nil, &CompileError{Ruleset: cfg.name, Problems: []string{"cycle detected during order computation"}}
	}

	edges := make(map[string][]string, len(adj))
	for from, tos := range adj {
		if len(tos) == 0 {
			continue
		}
		edges[from] = sortedNames(tos)
	}

	rs := &RuleSet{
		name:     cfg.name,
		version:  cfg.version,
		policy:   cfg.policy,
		dataFlow: cfg.dataFlow,
		order:    order,
		rules:    byName,
		edges:    edges,
	}

	fingerprint, err := fingerprint(rs)
	if err != nil {
		return nil, fmt.Errorf("fingerprint ruleset %q: %w", cfg.name, err)
	}
	rs.fingerprint = fingerprint
	return rs, nil
}

// buildEdges synthesizes the ordering edge set: before/after declarations
// first, then (optionally) data-flow edges from writes to reads. Targets
// that do not exist are collected as problems.
func buildEdges(names []string, metas map[string]rule.Meta, dataFlow bool, problems *[]string) map[string]map[string]bool {
	adj := make(map[string]map[string]bool, len(names))
	for _, n := range names {
		adj[n] = map[string]bool{}
	}
	addEdge := func(from, to string) {
		if from != to {
			adj[from][to] = true
		}
	}

	for _, name := range names {
		meta := metas[name]
		for _, t := range meta.Before {
			if _, ok := metas[t]; !ok {
				*problems = append(*problems, fmt.Sprintf("rule %q: before target %q does not exist", name, t))
				continue
			}
			addEdge(name, t)
		}
		for _, t := range meta.After {
			if _, ok := metas[t]; !ok {
				*problems = append(*problems, fmt.Sprintf("rule %q: after target %q does not exist", name, t))
				continue
			}
			addEdge(t, name)
		}
	}

	if dataFlow {
		for _, a := range names {
			for _, b := range names {
				if a == b {
					continue
				}
				if len(intersect(metas[a].Writes, metas[b].Reads)) > 0 {
					addEdge(a, b)
				}
			}
		}
	}
	return adj
}

// writeConflicts reports every unordered pair with overlapping writes.
// Pairs connected by a path (in either direction) are ordered and merge
// deterministically, so only genuinely concurrent writers conflict.
func writeConflicts(names []string, metas map[string]rule.Meta, adj map[string]map[string]bool) []string {
	var problems []string
	for i, a := range names {
		for _, b := range names[i+1:] {
			shared := intersect(metas[a].Writes, metas[b].Writes)
			if len(shared) == 0 {
				continue
			}
			if reachable(adj, a, b) || reachable(adj, b, a) {
				continue
			}
			sort.Strings(shared)
			problems = append(problems, fmt.Sprintf(
				"rules %q and %q both write %s with no ordering between them",
				a, b, strings.Join(shared, ", ")))
		}
	}
	return problems
}

// topoOrder runs Kahn's algorithm with the ready set re-sorted by
// (priority, name) after every extraction, which makes the order a pure
// function of the rule metadata.
func topoOrder(names []string, metas map[string]rule.Meta, adj map[string]map[string]bool) ([]string, bool) {
	indeg := make(map[string]int, len(names))
	for _, n := range names {
		indeg[n] = 0
	}
	for _, from := range names {
		for to := range adj[from] {
			indeg[to]++
		}
	}

	less := func(a, b string) bool {
		pa, pb := metas[a].Priority, metas[b].Priority
		if pa != pb {
			return pa < pb
		}
		return a < b
	}

	var ready []string
	for _, n := range names {
		if indeg[n] == 0 {
			ready = append(ready, n)
		}
	}

	order := make([]string, 0, len(names))
	for len(ready) > 0 {
		sort.Slice(ready, func(i, j int) bool { return less(ready[i], ready[j]) })
		next := ready[0]
		ready = ready[1:]
		order = append(order, next)

		for _, to := range sortedNames(adj[next]) {
			indeg[to]--
			if indeg[to] == 0 {
				ready = append(ready, to)
			}
		}
	}

	return order, len(order) == len(names)
}

// tarjanSCC finds strongly connected components. Nodes and successors are
// visited in sorted order so the reported components are stable.
func tarjanSCC(adj map[string]map[string]bool, names []string) [][]string {
	var (
		index   int
		stack   []string
		indices = make(map[string]int, len(names))
		lowlink = make(map[string]int, len(names))
		onStack = make(map[string]bool, len(names))
		sccs    [][]string
	)

	var strongConnect func(string)
	strongConnect = func(v string) {
		indices[v] = index
		lowlink[v] = index
		index++
		stack = append(stack, v)
		onStack[v] = true

		for _, w := range sortedNames(adj[v]) {
			if _, visited := indices[w]; !visited {
				strongConnect(w)
				lowlink[v] = min(lowlink[v], lowlink[w])
			} else if onStack[w] {
				lowlink[v] = min(lowlink[v], indices[w])
			}
		}

		if lowlink[v] == indices[v] {
			var scc []string
			for {
				w := stack[len(stack)-1]
				stack = stack[:len(stack)-1]
				onStack[w] = false
				scc = append(scc, w)
				if w == v {
					break
				}
			}
			sccs = append(sccs, scc)
		}
	}

	for _, n := range names {
		if _, visited := indices[n]; !visited {
			strongConnect(n)
		}
	}
	return sccs
}

// cyclePath reconstructs a closed walk through an SCC for the error
// message: a -> b -> a.
func cyclePath(scc []string, adj map[string]map[string]bool) []string {
	members := make(map[string]bool, len(scc))
	for _, n := range scc {
		members[n] = true
	}

	sorted := append([]string(nil), scc...)
	sort.Strings(sorted)
	start := sorted[0]

	path := []string{start}
	visited := map[string]bool{start: true}
	current := start
	for {
		var next string
		for _, w := range sortedNames(adj[current]) {
			if members[w] && (!visited[w] || w == start) {
				next = w
				break
			}
		}
		if next == "" {
			break
		}
		path = append(path, next)
		if next == start {
			break
		}
		visited[next] = true
		current = next
	}
	return path
}

// reachable reports whether to can be reached from from.
func reachable(adj map[string]map[string]bool, from, to string) bool {
	seen := map[string]bool{from: true}
	queue := []string{from}
	for len(queue) > 0 {
		n := queue[0]
		queue = queue[1:]
		for w := range adj[n] {
			if w == to {
				return true
			}
			if !seen[w] {
				seen[w] = true
				queue = append(queue, w)
			}
		}
	}
	return false
}

func intersect(a, b []string) []string {
	set := make(map[string]bool, len(a))
	for _, x := range a {
		set[x] = true
	}
	var out []string
	for _, y := range b {
		if set[y] {
			out = append(out, y)
			set[y] = false
		}
	}
	return out
}

// fingerprint digests the compiled plan: names, priorities, edges, policy
// and version.
func fingerprint(rs *RuleSet) (string, error) {
	plan := make([]any, 0, len(rs.order))
	for _, entry := range rs.Plan() {
		plan = append(plan, map[string]any{"name": entry.Name, "priority": entry.Priority})
	}
	edges := map[string]any{}
	for from, tos := range rs.edges {
		list := make([]any, len(tos))
		for i, t := range tos {
			list[i] = t
		}
		edges[from] = list
	}
	return canon.ShortDigest(canon.DomainRuleset, map[string]any{
		"name":    rs.name,
		"version": rs.version,
		"policy":  string(rs.policy),
		"rules":   plan,
		"edges":   edges,
	})
}
