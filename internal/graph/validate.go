package graph

// validate checks the structural invariants of a freshly assembled graph.
// Containers are checked in index order and nodes in declaration order, so
// the reported error is deterministic.
func validate(g *Graph, conns []Connection) error {
	pid := g.processID

	for _, c := range conns {
		from, okFrom := g.Node(c.From)
		to, okTo := g.Node(c.To)
		if !okFrom {
			return NewGraphError(ErrCodeDanglingConnection, pid, c.From,
				"connection %d -> %d: source node does not exist", c.From, c.To)
		}
		if !okTo {
			return NewGraphError(ErrCodeDanglingConnection, pid, c.From,
				"connection %d -> %d: target node does not exist", c.From, c.To)
		}
		if from.Container != to.Container {
			return NewGraphError(ErrCodeDanglingConnection, pid, c.From,
				"connection %d -> %d crosses a composite boundary", c.From, c.To)
		}
	}

	for _, c := range g.containers {
		if err := validateContainer(g, c); err != nil {
			return err
		}
	}
	return nil
}

func validateContainer(g *Graph, c Container) error {
	pid := g.processID

	starts, ends := 0, 0
	for _, id := range c.Nodes {
		n, _ := g.Node(id)
		switch n.Type {
		case NodeStart:
			starts++
		case NodeEnd:
			ends++
		}
	}
	switch {
	case starts == 0:
		return NewGraphError(ErrCodeMissingStart, pid, c.Owner, "container %d has no start node", c.Index)
	case starts > 1:
		return NewGraphError(ErrCodeInvalidNode, pid, c.Owner, "container %d has %d start nodes", c.Index, starts)
	case ends == 0:
		return NewGraphError(ErrCodeMissingEnd, pid, c.Owner, "container %d has no end node", c.Index)
	}

	for _, id := range c.Nodes {
		n, _ := g.Node(id)
		if err := validateNode(g, n); err != nil {
			return err
		}
	}

	if !endReachable(g, c.Start) {
		return NewGraphError(ErrCodeEndUnreachable, pid, c.Start,
			"no end node reachable from start of container %d", c.Index)
	}
	return nil
}

func validateNode(g *Graph, n Node) error {
	pid := g.processID

	switch n.Type {
	case NodeAction:
		if n.Action == "" {
			return NewGraphError(ErrCodeInvalidNode, pid, n.ID, "action node %q has no action", n.Name)
		}
	case NodeEvent:
		if n.Event.Ref == "" {
			return NewGraphError(ErrCodeInvalidNode, pid, n.ID, "event node %q has no event reference", n.Name)
		}
	case NodeComposite:
		if n.Body <= rootContainer || n.Body >= len(g.containers) {
			return NewGraphError(ErrCodeInvalidNode, pid, n.ID, "composite node %q has no body", n.Name)
		}
	case NodeStart, NodeEnd:
	default:
		return NewGraphError(ErrCodeInvalidNode, pid, n.ID, "node %q has unknown type %d", n.Name, int(n.Type))
	}

	if n.Type != NodeStart && len(g.in[n.ID]) == 0 {
		return NewGraphError(ErrCodeNoIncoming, pid, n.ID, "node %q has no incoming connection", n.Name)
	}
	if n.Type != NodeEnd && len(g.out[n.ID]) == 0 {
		return NewGraphError(ErrCodeNoOutgoing, pid, n.ID, "node %q has no outgoing connection", n.Name)
	}

	unconditioned := 0
	for _, c := range g.out[n.ID] {
		if !c.Conditioned() {
			unconditioned++
		}
	}
	if unconditioned > 1 {
		return NewGraphError(ErrCodeAmbiguousBranch, pid, n.ID,
			"node %q has %d unconditioned outgoing connections", n.Name, unconditioned)
	}
	return nil
}

// endReachable walks outgoing connections from start looking for an End
// node in the same container.
func endReachable(g *Graph, start int64) bool {
	seen := map[int64]bool{start: true}
	queue := []int64{start}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		if n, _ := g.Node(id); n.Type == NodeEnd {
			return true
		}
		for _, c := range g.out[id] {
			if !seen[c.To] {
				seen[c.To] = true
				queue = append(queue, c.To)
			}
		}
	}
	return false
}
