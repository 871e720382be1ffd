package flow

import "quizflow-service/internal/domain"

// enumeratePaths walks every simple path from startID, keeping a visited
// set per branch. A branch ends when it reaches a result node or a node
// with no outgoing edges; dead ends count as completed paths too, so a
// flow without a reachable result still yields candidates.
func enumeratePaths(startID string, nodes []domain.FlowNode, edges []domain.FlowEdge, visited map[string]struct{}, path []string, out *[][]string) {
	path = append(path, startID)
	visited[startID] = struct{}{}

	node, found := FindNode(nodes, startID)
	outgoing := OutgoingEdges(startID, edges)
	if (found && node.Type == domain.NodeResult) || len(outgoing) == 0 {
		*out = append(*out, append([]string(nil), path...))
		return
	}
	for _, e := range outgoing {
		if _, seen := visited[e.Target]; seen {
			continue
		}
		branch := make(map[string]struct{}, len(visited))
		for id := range visited {
			branch[id] = struct{}{}
		}
		enumeratePaths(e.Target, nodes, edges, branch, append([]string(nil), path...), out)
	}
}

// PredictPath estimates the full traversal: the already-visited history
// concatenated with the shortest remaining path from the current node to a
// result node (or dead end). Ties go to the first path found. When cycles
// leave no candidate path, the history is returned as-is.
//
// The prediction is recomputed after every transition, so the progress
// percentage derived from it is deliberately not monotonic: taking a
// condition branch can shorten or lengthen the expected remainder.
func PredictPath(history []string, currentNodeID string, nodes []domain.FlowNode, edges []domain.FlowEdge) []string {
	var paths [][]string
	enumeratePaths(currentNodeID, nodes, edges, make(map[string]struct{}), nil, &paths)
	if len(paths) == 0 {
		return append([]string(nil), history...)
	}

	shortest := paths[0]
	for _, p := range paths[1:] {
		if len(p) < len(shortest) {
			shortest = p
		}
	}

	predicted := append([]string(nil), history...)
	return append(predicted, shortest[1:]...)
}

// CountQuestions counts the question nodes along a path.
func CountQuestions(path []string, nodes []domain.FlowNode) int {
	count := 0
	for _, id := range path {
		if node, ok := FindNode(nodes, id); ok && IsQuestionNode(node) {
			count++
		}
	}
	return count
}

// CountAnswered counts the question nodes along a path that have an answer.
func CountAnswered(path []string, answers map[string]string, nodes []domain.FlowNode) int {
	count := 0
	for _, id := range path {
		node, ok := FindNode(nodes, id)
		if !ok || !IsQuestionNode(node) {
			continue
		}
		if _, answered := answers[id]; answered {
			count++
		}
	}
	return count
}

// ProgressPercent normalizes answered/total to [0,100]. Zero questions in
// the predicted path means 0%.
func ProgressPercent(answered, total int) float64 {
	if total <= 0 {
		return 0
	}
	pct := 100 * float64(answered) / float64(total)
	if pct < 0 {
		return 0
	}
	if pct > 100 {
		return 100
	}
	return pct
}
