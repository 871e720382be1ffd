// Package flow holds the pure traversal logic for quiz flow graphs:
// start-node detection, path prediction for progress computation, and the
// transition resolver. All functions operate on caller-supplied snapshots
// and have no side effects.
package flow

import "quizflow-service/internal/domain"

// FindNode returns the node with the given id.
func FindNode(nodes []domain.FlowNode, id string) (domain.FlowNode, bool) {
	for i := range nodes {
		if nodes[i].ID == id {
			return nodes[i], true
		}
	}
	return domain.FlowNode{}, false
}

// StartCandidates returns the nodes with no incoming edge, in input order.
func StartCandidates(nodes []domain.FlowNode, edges []domain.FlowEdge) []domain.FlowNode {
	targets := make(map[string]struct{}, len(edges))
	for _, e := range edges {
		targets[e.Target] = struct{}{}
	}
	var starts []domain.FlowNode
	for _, n := range nodes {
		if _, ok := targets[n.ID]; !ok {
			starts = append(starts, n)
		}
	}
	return starts
}

// StartNode picks the traversal entry point. Policy: among the nodes with
// no incoming edge, the first message node wins (introductions), else the
// first candidate; a flow with no clear start falls back to the first node
// in the list. Returns false only for an empty flow.
func StartNode(nodes []domain.FlowNode, edges []domain.FlowEdge) (domain.FlowNode, bool) {
	candidates := StartCandidates(nodes, edges)
	for _, n := range candidates {
		if n.Type == domain.NodeMessage {
			return n, true
		}
	}
	if len(candidates) > 0 {
		return candidates[0], true
	}
	if len(nodes) > 0 {
		return nodes[0], true
	}
	return domain.FlowNode{}, false
}

// OutgoingEdges returns every edge leaving nodeID, in input order.
func OutgoingEdges(nodeID string, edges []domain.FlowEdge) []domain.FlowEdge {
	var out []domain.FlowEdge
	for _, e := range edges {
		if e.Source == nodeID {
			out = append(out, e)
		}
	}
	return out
}

// FirstOutgoingEdge returns the first edge leaving nodeID in input order.
// When a non-condition node has several outgoing edges this is the one
// that gets followed; the ordering is a documented policy, not an accident.
func FirstOutgoingEdge(nodeID string, edges []domain.FlowEdge) (domain.FlowEdge, bool) {
	for _, e := range edges {
		if e.Source == nodeID {
			return e, true
		}
	}
	return domain.FlowEdge{}, false
}

// IsQuestionNode reports whether the node contributes to the progress
// denominator. Condition, message and result nodes do not.
func IsQuestionNode(node domain.FlowNode) bool {
	switch node.Type {
	case domain.NodeOptionQuestion, domain.NodeImageQuestion, domain.NodeTextInput:
		return true
	}
	return false
}

// Validate reports ErrMalformedGraph when an edge endpoint is missing from
// the node list. Run once at load time; traversal itself degrades a
// missing endpoint to a terminal transition so a broken quiz never strands
// a respondent mid-flow.
func Validate(nodes []domain.FlowNode, edges []domain.FlowEdge) error {
	ids := make(map[string]struct{}, len(nodes))
	for _, n := range nodes {
		ids[n.ID] = struct{}{}
	}
	for _, e := range edges {
		if _, ok := ids[e.Source]; !ok {
			return domain.ErrMalformedGraph
		}
		if _, ok := ids[e.Target]; !ok {
			return domain.ErrMalformedGraph
		}
	}
	return nil
}
