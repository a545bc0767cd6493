package domain

import "time"

// SchemaVersion is carried on every schema-versioned record so unknown
// versions can be rejected at the storage boundary.
const SchemaVersion = 1

// Flow is a schema-versioned DAG of Nodes connected by labeled Edges.
type Flow struct {
	SchemaVersion int           `json:"schemaVersion"`
	ID            string        `json:"id"`
	Name          string        `json:"name"`
	Description   string        `json:"description,omitempty"`
	CreatedAt     time.Time     `json:"createdAt"`
	UpdatedAt     time.Time     `json:"updatedAt"`
	EntryNodeID   string        `json:"entryNodeId"`
	Nodes         []Node        `json:"nodes"`
	Edges         []Edge        `json:"edges"`
	Variables     []VariableDef `json:"variables,omitempty"`
	Policy        *FlowPolicy   `json:"policy,omitempty"`
	Metadata      *FlowMetadata `json:"metadata,omitempty"`
}

// FlowMetadata carries free-form tags and external bindings for a Flow.
type FlowMetadata struct {
	Tags     []string          `json:"tags,omitempty"`
	Bindings map[string]string `json:"bindings,omitempty"`
}

// FlowPolicy is the flow-level default applied before plugin and node
// level policy overrides during effective-policy resolution.
type FlowPolicy struct {
	DefaultNodePolicy     *NodePolicy    `json:"defaultNodePolicy,omitempty"`
	UnsupportedNodePolicy *OnErrorPolicy `json:"unsupportedNodePolicy,omitempty"`
	RunTimeoutMs          int64          `json:"runTimeoutMs,omitempty"`
}

// Node is one operation in a Flow, interpreted via the Node Plugin
// Registry by its Kind.
type Node struct {
	ID       string         `json:"id"`
	Kind     string         `json:"kind"`
	Name     string         `json:"name,omitempty"`
	Disabled bool           `json:"disabled,omitempty"`
	Policy   *NodePolicy    `json:"policy,omitempty"`
	Config   map[string]any `json:"config,omitempty"`
}

// Reserved edge labels with runtime semantics. Any other label is a
// plain symbolic tag matched verbatim against a node's chosen label.
const (
	LabelDefault = "default"
	LabelOnError = "onError"
	LabelTrue    = "true"
	LabelFalse   = "false"
)

// Edge connects two Nodes in a Flow. Label is symbolic; only
// LabelDefault/LabelOnError/LabelTrue/LabelFalse carry runtime meaning.
type Edge struct {
	ID     string `json:"id"`
	Source string `json:"source"`
	Target string `json:"target"`
	Label  string `json:"label,omitempty"`
}

// Validate checks the structural invariants from spec §3: entry node
// exists, edge endpoints exist, IDs are unique, and the graph is
// acyclic (DFS with a recursion stack).
func (f *Flow) Validate() *Error {
	if f.SchemaVersion != 0 && f.SchemaVersion != SchemaVersion {
		return NewError(CodeValidation, "unsupported flow schemaVersion %d", f.SchemaVersion)
	}
	if f.EntryNodeID == "" {
		return NewError(CodeDAGInvalid, "flow has no entryNodeId")
	}
	nodes := make(map[string]Node, len(f.Nodes))
	for _, n := range f.Nodes {
		if n.ID == "" {
			return NewError(CodeDAGInvalid, "node has empty id")
		}
		if _, dup := nodes[n.ID]; dup {
			return NewError(CodeDAGInvalid, "duplicate node id %q", n.ID)
		}
		nodes[n.ID] = n
	}
	if _, ok := nodes[f.EntryNodeID]; !ok {
		return NewError(CodeDAGInvalid, "entryNodeId %q does not exist", f.EntryNodeID)
	}

	edgeIDs := make(map[string]struct{}, len(f.Edges))
	adjacency := make(map[string][]Edge, len(nodes))
	for _, e := range f.Edges {
		if e.ID != "" {
			if _, dup := edgeIDs[e.ID]; dup {
				return NewError(CodeDAGInvalid, "duplicate edge id %q", e.ID)
			}
			edgeIDs[e.ID] = struct{}{}
		}
		if _, ok := nodes[e.Source]; !ok {
			return NewError(CodeDAGInvalid, "edge %q references unknown source %q", e.ID, e.Source)
		}
		if _, ok := nodes[e.Target]; !ok {
			return NewError(CodeDAGInvalid, "edge %q references unknown target %q", e.ID, e.Target)
		}
		adjacency[e.Source] = append(adjacency[e.Source], e)
	}

	varNames := make(map[string]struct{}, len(f.Variables))
	for _, v := range f.Variables {
		if _, dup := varNames[v.Name]; dup {
			return NewError(CodeDAGInvalid, "duplicate variable name %q", v.Name)
		}
		varNames[v.Name] = struct{}{}
	}

	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[string]int, len(nodes))
	var stack []string
	var visit func(id string) *Error
	visit = func(id string) *Error {
		color[id] = gray
		stack = append(stack, id)
		for _, e := range adjacency[id] {
			switch color[e.Target] {
			case white:
				if err := visit(e.Target); err != nil {
					return err
				}
			case gray:
				return NewError(CodeDAGCycle, "cycle detected at node %q", e.Target)
			}
		}
		stack = stack[:len(stack)-1]
		color[id] = black
		return nil
	}
	for id := range nodes {
		if color[id] == white {
			if err := visit(id); err != nil {
				return err
			}
		}
	}
	return nil
}

// NodeByID returns the Node with the given ID, or false if absent.
func (f *Flow) NodeByID(id string) (Node, bool) {
	for _, n := range f.Nodes {
		if n.ID == id {
			return n, true
		}
	}
	return Node{}, false
}

// OutgoingEdges returns the edges whose source is nodeID, in
// declaration order.
func (f *Flow) OutgoingEdges(nodeID string) []Edge {
	var out []Edge
	for _, e := range f.Edges {
		if e.Source == nodeID {
			out = append(out, e)
		}
	}
	return out
}

// ResolveSuccessor implements the edge tie-break order from spec §3:
// explicit label match, then default/unlabeled, then the sole outgoing
// edge if there is exactly one, otherwise terminal (ok=false).
func (f *Flow) ResolveSuccessor(nodeID, label string) (string, bool) {
	edges := f.OutgoingEdges(nodeID)
	if label != "" {
		for _, e := range edges {
			if e.Label == label {
				return e.Target, true
			}
		}
	}
	for _, e := range edges {
		if e.Label == LabelDefault || e.Label == "" {
			return e.Target, true
		}
	}
	if len(edges) == 1 {
		return edges[0].Target, true
	}
	return "", false
}
