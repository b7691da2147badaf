package dialog

// LoopThreshold is the number of visits to one (flow, node) pair that
// counts as a loop.
const LoopThreshold = 3

// DetectLoop scans trace for a (flow, node) pair visited LoopThreshold
// times. The returned FlowError carries the path between the first two
// visits of that pair.
func DetectLoop(trace []TraceEntry) error {
	seen := make(map[TraceEntry][]int)
	for i, entry := range trace {
		seen[entry] = append(seen[entry], i)
		if positions := seen[entry]; len(positions) >= LoopThreshold {
			path := append([]TraceEntry(nil), trace[positions[0]:positions[1]+1]...)
			return &FlowError{
				Flow:   entry.Flow,
				Node:   entry.Node,
				Reason: "infinite loop detected",
				Path:   path,
				Err:    ErrInfiniteLoop,
			}
		}
	}
	return nil
}
