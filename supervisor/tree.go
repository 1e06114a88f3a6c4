package supervisor

import "github.com/ream-rt/ream/process"

// ProcessTree is the recursive shape of a started supervision tree
// (§3): either a leaf (a plain worker Pid plus the ChildSpec that
// started it) or a node (a Supervisor Pid plus its spec and the
// started subtrees of its children, in declaration order). Within one
// supervisor, child ids are unique; globally a Pid appears in exactly
// one tree.
type ProcessTree struct {
	Pid      process.Pid
	Leaf     *ChildSpec
	Spec     *SupervisorSpec
	Children []ProcessTree
}

// IsLeaf reports whether this node is a plain worker rather than a
// nested supervisor.
func (t ProcessTree) IsLeaf() bool { return t.Leaf != nil }

// Walk applies fn to every node in the tree, pre-order (the node
// itself before its children), the traversal a recursive shutdown or
// inspection pass uses.
func (t ProcessTree) Walk(fn func(ProcessTree)) {
	fn(t)
	for _, c := range t.Children {
		c.Walk(fn)
	}
}

// Pids collects every Pid in the tree, pre-order.
func (t ProcessTree) Pids() []process.Pid {
	var out []process.Pid
	t.Walk(func(n ProcessTree) { out = append(out, n.Pid) })
	return out
}

// Tree snapshots sv's current subtree: its own Pid and spec, plus one
// ProcessTree per live (non-removed) child, recursing into nested
// supervisors. Unlike the Pid Start returns once at launch, Tree is a
// query a caller can run at any point in the supervisor's lifetime, so
// it reflects restarts that have happened since (§3 "a catamorphism
// for queries").
func (sv *Supervisor) Tree() ProcessTree {
	spec := sv.spec
	node := ProcessTree{Pid: sv.self, Spec: &spec}
	for _, cs := range sv.children {
		if cs == nil || cs.removed {
			continue
		}
		if cs.spec.Type == SupervisorChild {
			if child := sv.registry.Lookup(cs.pid); child != nil {
				if nested, ok := child.Behavior().(*Supervisor); ok {
					node.Children = append(node.Children, nested.Tree())
					continue
				}
			}
		}
		leaf := cs.spec
		node.Children = append(node.Children, ProcessTree{Pid: cs.pid, Leaf: &leaf})
	}
	return node
}

// LookupTree resolves root to a live Supervisor and returns a snapshot
// of its current subtree, or false if root is not a running supervisor.
func LookupTree(registry *process.Registry, root process.Pid) (ProcessTree, bool) {
	proc := registry.Lookup(root)
	if proc == nil {
		return ProcessTree{}, false
	}
	sv, ok := proc.Behavior().(*Supervisor)
	if !ok {
		return ProcessTree{}, false
	}
	return sv.Tree(), true
}
