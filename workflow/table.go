package workflow

import (
	"context"
	"fmt"
	"slices"
	"sort"
)

// NodeFunc a pipeline step. It reads the run through scope and writes only its own payload.
type NodeFunc func(ctx context.Context, scope *Scope) error

// Router picks the next node of a branch from the run state
type Router func(state *RunState) (string, error)

type node struct {
	name  string
	fn    NodeFunc
	retry RetryPolicy
}

type branch struct {
	router  Router
	targets []string
}

// Table is a validated, immutable transition table
type Table struct {
	name     string
	entry    string
	nodes    map[string]*node
	order    []string
	edges    map[string]string
	branches map[string]*branch
	terminal string
	longest  int
}

// Def declares part of a table
type Def func(t *Table) error

// Node declares a node. retry defaults to DefaultRetry.
func Node(name string, fn NodeFunc, retry ...RetryPolicy) Def {
	return func(t *Table) error {
		if name == "" || fn == nil {
			return fmt.Errorf("node %q needs a name and a function", name)
		}
		if _, ok := t.nodes[name]; ok {
			return fmt.Errorf("node %q declared twice", name)
		}
		policy := DefaultRetry
		if len(retry) > 0 {
			policy = retry[0]
		}
		t.nodes[name] = &node{name: name, fn: fn, retry: policy.normalize()}
		t.order = append(t.order, name)
		return nil
	}
}

// Entry marks the node every run starts at, the first declared node by default
func Entry(name string) Def {
	return func(t *Table) error {
		t.entry = name
		return nil
	}
}

// Edge declares an unconditional transition
func Edge(from string, to string) Def {
	return func(t *Table) error {
		if err := t.freeSource(from); err != nil {
			return err
		}
		t.edges[from] = to
		return nil
	}
}

// Branch declares a routed transition to one of targets
func Branch(from string, router Router, targets ...string) Def {
	return func(t *Table) error {
		if err := t.freeSource(from); err != nil {
			return err
		}
		if router == nil {
			return fmt.Errorf("branch from %q has no router", from)
		}
		if len(targets) == 0 {
			return fmt.Errorf("branch from %q has no targets", from)
		}
		t.branches[from] = &branch{router: router, targets: slices.Clone(targets)}
		return nil
	}
}

func (t *Table) freeSource(from string) error {
	_, edge := t.edges[from]
	_, br := t.branches[from]
	if edge || br {
		return fmt.Errorf("node %q already has an outgoing transition", from)
	}
	return nil
}

// NewTable builds and validates a table
func NewTable(name string, defs ...Def) (*Table, error) {
	t := &Table{
		name:     name,
		nodes:    make(map[string]*node),
		edges:    make(map[string]string),
		branches: make(map[string]*branch),
	}
	for _, def := range defs {
		if err := def(t); err != nil {
			return nil, &TableError{Table: name, Reason: err.Error()}
		}
	}
	if t.entry == "" && len(t.order) > 0 {
		t.entry = t.order[0]
	}
	if err := t.Validate(); err != nil {
		return nil, err
	}
	return t, nil
}

// MustTable is NewTable that panics on an invalid table
func MustTable(name string, defs ...Def) *Table {
	t, err := NewTable(name, defs...)
	if err != nil {
		panic(err)
	}
	return t
}

// Name of the pipeline
func (t *Table) Name() string {
	return t.name
}

// Entry node name
func (t *Table) Entry() string {
	return t.entry
}

// Terminal node name
func (t *Table) Terminal() string {
	return t.terminal
}

// Nodes in declaration order
func (t *Table) Nodes() []string {
	return slices.Clone(t.order)
}

// LongestPath number of nodes on the longest path from the entry
func (t *Table) LongestPath() int {
	return t.longest
}

func (t *Table) successors(name string) []string {
	if to, ok := t.edges[name]; ok {
		return []string{to}
	}
	if br, ok := t.branches[name]; ok {
		return br.targets
	}
	return nil
}

// Validate checks the structure of the table without running any node:
// every transition names declared nodes, the graph is acyclic, every node is reachable
// from the entry, and every path ends at the single terminal node.
func (t *Table) Validate() error {
	fail := func(format string, args ...any) error {
		return &TableError{Table: t.name, Reason: fmt.Sprintf(format, args...)}
	}
	if len(t.nodes) == 0 {
		return fail("no nodes")
	}
	if _, ok := t.nodes[t.entry]; !ok {
		return fail("entry node %q is not declared", t.entry)
	}
	sources := make([]string, 0, len(t.edges)+len(t.branches))
	for from := range t.edges {
		sources = append(sources, from)
	}
	for from := range t.branches {
		sources = append(sources, from)
	}
	sort.Strings(sources)
	incoming := make(map[string]int, len(t.nodes))
	for _, from := range sources {
		if _, ok := t.nodes[from]; !ok {
			return fail("transition from undeclared node %q", from)
		}
		seen := make(map[string]struct{})
		for _, to := range t.successors(from) {
			if _, ok := t.nodes[to]; !ok {
				return fail("transition %s -> %s targets an undeclared node", from, to)
			}
			if _, ok := seen[to]; ok {
				return fail("branch from %q lists %q twice", from, to)
			}
			seen[to] = struct{}{}
			incoming[to]++
		}
	}
	if incoming[t.entry] > 0 {
		return fail("entry node %q has incoming transitions", t.entry)
	}
	var terminals []string
	for _, name := range t.order {
		if len(t.successors(name)) == 0 {
			terminals = append(terminals, name)
		}
	}
	if len(terminals) != 1 {
		return fail("expected exactly one terminal node, got %v", terminals)
	}
	t.terminal = terminals[0]

	// depth first search for cycles and reachability, memoizing the longest path
	const (
		unvisited = iota
		visiting
		done
	)
	marks := make(map[string]int, len(t.nodes))
	depth := make(map[string]int, len(t.nodes))
	var visit func(name string) error
	visit = func(name string) error {
		switch marks[name] {
		case visiting:
			return fail("cycle through %q", name)
		case done:
			return nil
		}
		marks[name] = visiting
		longest := 0
		for _, next := range t.successors(name) {
			if err := visit(next); err != nil {
				return err
			}
			longest = max(longest, depth[next])
		}
		depth[name] = longest + 1
		marks[name] = done
		return nil
	}
	if err := visit(t.entry); err != nil {
		return err
	}
	for _, name := range t.order {
		if marks[name] != done {
			return fail("node %q is unreachable from %q", name, t.entry)
		}
	}
	t.longest = depth[t.entry]
	return nil
}

// Next resolves the node following from. done is true when from is the terminal node.
func (t *Table) Next(from string, state *RunState) (next string, done bool, err error) {
	if _, ok := t.nodes[from]; !ok {
		return "", false, fmt.Errorf("unknown node %q", from)
	}
	if to, ok := t.edges[from]; ok {
		return to, false, nil
	}
	br, ok := t.branches[from]
	if !ok {
		return "", true, nil
	}
	to, err := br.router(state)
	if err != nil {
		return "", false, fmt.Errorf("route from %s: %w", from, err)
	}
	if !slices.Contains(br.targets, to) {
		return "", false, fmt.Errorf("route from %s yielded undeclared target %q", from, to)
	}
	return to, false, nil
}
