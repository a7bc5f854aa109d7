// Package validation decides whether a workflow graph may be activated and
// executed. Structural rules run in a fixed order; the first failing category
// is reported with all of its peers, so a caller never sees noise from later
// categories that only fail as a consequence of an earlier one. Type-specific
// rules run once the structure is sound.
package validation

import (
	"errors"
	"fmt"

	"github.com/caravel-hq/caravel/pkg/models"
)

// Result is the outcome of one validator run. It is advisory: the validator
// never changes a workflow's lifecycle status. For an unchanged graph the
// result is deterministic down to error ordering.
type Result struct {
	IsValid        bool     `json:"is_valid"`
	NodeCount      int      `json:"node_count"`
	EdgeCount      int      `json:"edge_count"`
	StartNodeCount int      `json:"start_node_count"`
	EndNodeCount   int      `json:"end_node_count"`
	Errors         []string `json:"errors"`
}

// Validator checks workflow graphs against the structural and type-specific
// rules. Stateless and safe for concurrent use.
type Validator struct{}

// NewValidator creates a new graph validator.
func NewValidator() *Validator {
	return &Validator{}
}

// graphIndex precomputes the lookups every rule needs.
type graphIndex struct {
	nodes    []*models.Node
	edges    []*models.Edge
	byID     map[string]*models.Node
	incoming map[string][]*models.Edge
	outgoing map[string][]*models.Edge
}

func newGraphIndex(nodes []*models.Node, edges []*models.Edge) *graphIndex {
	index := &graphIndex{
		nodes:    nodes,
		edges:    edges,
		byID:     make(map[string]*models.Node, len(nodes)),
		incoming: make(map[string][]*models.Edge),
		outgoing: make(map[string][]*models.Edge),
	}

	for _, node := range nodes {
		index.byID[node.ID] = node
	}

	for _, edge := range edges {
		index.outgoing[edge.SourceID] = append(index.outgoing[edge.SourceID], edge)
		index.incoming[edge.TargetID] = append(index.incoming[edge.TargetID], edge)
	}

	return index
}

// Validate checks the graph and returns the structured result. Rule
// categories are evaluated in order; the first category with violations is
// reported in full and later structural categories are skipped. Type-specific
// rules run only on structurally sound graphs.
func (v *Validator) Validate(nodes []*models.Node, edges []*models.Edge) *Result {
	index := newGraphIndex(nodes, edges)

	result := &Result{
		NodeCount: len(nodes),
		EdgeCount: len(edges),
		Errors:    []string{},
	}

	for _, node := range nodes {
		switch node.Type {
		case models.NodeTypeStart:
			result.StartNodeCount++
		case models.NodeTypeEnd:
			result.EndNodeCount++
		}
	}

	structural := []func(*graphIndex) []string{
		v.checkStartNodes,
		v.checkEndNodes,
		v.checkOrphans,
		v.checkReachability,
		v.checkEdgeReferences,
		v.checkCycles,
	}

	for _, rule := range structural {
		if errs := rule(index); len(errs) > 0 {
			result.Errors = errs

			return result
		}
	}

	if errs := v.checkNodeTypes(index); len(errs) > 0 {
		result.Errors = errs

		return result
	}

	result.IsValid = true

	return result
}

// checkStartNodes enforces exactly one start node with zero incoming edges.
func (v *Validator) checkStartNodes(index *graphIndex) []string {
	var errs []string

	starts := make([]*models.Node, 0, 1)

	for _, node := range index.nodes {
		if node.Type == models.NodeTypeStart {
			starts = append(starts, node)
		}
	}

	switch {
	case len(starts) == 0:
		errs = append(errs, "no start node")
	case len(starts) > 1:
		errs = append(errs, fmt.Sprintf("multiple start nodes (found %d)", len(starts)))
	}

	for _, start := range starts {
		if len(index.incoming[start.ID]) > 0 {
			errs = append(errs, fmt.Sprintf("start node %s has incoming edges", start.ID))
		}
	}

	return errs
}

// checkEndNodes enforces at least one end node, none with outgoing edges.
func (v *Validator) checkEndNodes(index *graphIndex) []string {
	var errs []string

	found := false

	for _, node := range index.nodes {
		if node.Type != models.NodeTypeEnd {
			continue
		}

		found = true

		if len(index.outgoing[node.ID]) > 0 {
			errs = append(errs, fmt.Sprintf("end node %s has outgoing edges", node.ID))
		}
	}

	if !found {
		errs = append(errs, "no end node")
	}

	return errs
}

// checkOrphans enforces that every interior node is connected on both sides.
func (v *Validator) checkOrphans(index *graphIndex) []string {
	var errs []string

	for _, node := range index.nodes {
		if node.Type == models.NodeTypeStart || node.Type == models.NodeTypeEnd {
			continue
		}

		in := len(index.incoming[node.ID])
		out := len(index.outgoing[node.ID])

		switch {
		case in == 0 && out == 0:
			errs = append(errs, fmt.Sprintf("orphan node %s: no incoming or outgoing edges", node.ID))
		case in == 0:
			errs = append(errs, fmt.Sprintf("node %s has no incoming edges", node.ID))
		case out == 0:
			errs = append(errs, fmt.Sprintf("node %s has no outgoing edges", node.ID))
		}
	}

	return errs
}

// checkReachability enforces that every node is reachable from the start
// node. Runs after the start rules, so exactly one start exists here.
func (v *Validator) checkReachability(index *graphIndex) []string {
	var start *models.Node

	for _, node := range index.nodes {
		if node.Type == models.NodeTypeStart {
			start = node

			break
		}
	}

	if start == nil {
		return nil
	}

	reached := map[string]bool{start.ID: true}
	queue := []string{start.ID}

	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]

		for _, edge := range index.outgoing[current] {
			if !reached[edge.TargetID] {
				reached[edge.TargetID] = true
				queue = append(queue, edge.TargetID)
			}
		}
	}

	var errs []string

	for _, node := range index.nodes {
		if !reached[node.ID] {
			errs = append(errs, fmt.Sprintf("node %s is not reachable from start", node.ID))
		}
	}

	return errs
}

// checkEdgeReferences enforces that every edge connects two known, distinct
// nodes.
func (v *Validator) checkEdgeReferences(index *graphIndex) []string {
	var errs []string

	for _, edge := range index.edges {
		if _, ok := index.byID[edge.SourceID]; !ok {
			errs = append(errs, fmt.Sprintf("edge %s references unknown source node %s", edge.ID, edge.SourceID))
		}

		if _, ok := index.byID[edge.TargetID]; !ok {
			errs = append(errs, fmt.Sprintf("edge %s references unknown target node %s", edge.ID, edge.TargetID))
		}

		if edge.SourceID == edge.TargetID {
			errs = append(errs, fmt.Sprintf("edge %s is a self-loop on node %s", edge.ID, edge.SourceID))
		}

		// The catch-all branch only has meaning on a gateway; anywhere else
		// the edge would never be followed.
		if edge.IsCatchAll() {
			if source, ok := index.byID[edge.SourceID]; ok && source.Type != models.NodeTypeGateway {
				errs = append(errs, fmt.Sprintf("edge %s has a catch-all condition but source node %s is not a gateway", edge.ID, edge.SourceID))
			}
		}
	}

	return errs
}

// checkCycles rejects cycles that pass through no gateway node. Intentional
// loops are modeled through a gateway whose conditions guarantee an exit;
// everything else is an accident. Gateways are removed from the graph first,
// so any remaining cycle is by construction gateway-free.
func (v *Validator) checkCycles(index *graphIndex) []string {
	const (
		unvisited = 0
		visiting  = 1
		done      = 2
	)

	state := make(map[string]int, len(index.nodes))

	var errs []string

	// visit returns the id of a node on a back edge, or "" if the subtree is
	// acyclic.
	var visit func(id string) string

	visit = func(id string) string {
		state[id] = visiting

		for _, edge := range index.outgoing[id] {
			target, ok := index.byID[edge.TargetID]
			if !ok || target.Type == models.NodeTypeGateway {
				continue
			}

			switch state[target.ID] {
			case visiting:
				return target.ID
			case unvisited:
				if cycleNode := visit(target.ID); cycleNode != "" {
					return cycleNode
				}
			}
		}

		state[id] = done

		return ""
	}

	for _, node := range index.nodes {
		if node.Type == models.NodeTypeGateway || state[node.ID] != unvisited {
			continue
		}

		if cycleNode := visit(node.ID); cycleNode != "" {
			errs = append(errs, fmt.Sprintf("cycle without gateway detected involving node %s", cycleNode))

			// The aborted walk leaves its path marked visiting; settle those
			// so other roots do not re-report the same cycle.
			for id, s := range state {
				if s == visiting {
					state[id] = done
				}
			}
		}
	}

	return errs
}

// checkNodeTypes runs the per-type rules: gateway edge shape and required
// payload keys.
func (v *Validator) checkNodeTypes(index *graphIndex) []string {
	var errs []string

	for _, node := range index.nodes {
		if !models.IsKnownNodeType(node.Type) {
			errs = append(errs, fmt.Sprintf("node %s has unknown type %q", node.ID, node.Type))

			continue
		}

		if node.Type == models.NodeTypeGateway {
			errs = append(errs, v.checkGateway(index, node)...)
		}

		if _, err := models.ParseNodePayload(node); err != nil {
			errs = append(errs, payloadErrorMessage(err))
		}
	}

	return errs
}

// checkGateway enforces ≥2 conditioned outgoing edges with at most one
// catch-all.
func (v *Validator) checkGateway(index *graphIndex, node *models.Node) []string {
	var errs []string

	outgoing := index.outgoing[node.ID]

	if len(outgoing) < 2 {
		errs = append(errs, fmt.Sprintf("gateway %s must have at least 2 outgoing edges (found %d)", node.ID, len(outgoing)))
	}

	catchAlls := 0

	for _, edge := range outgoing {
		if !edge.HasCondition() {
			errs = append(errs, fmt.Sprintf("gateway %s edge %s has no condition", node.ID, edge.ID))
		}

		if edge.IsCatchAll() {
			catchAlls++
		}
	}

	if catchAlls > 1 {
		errs = append(errs, fmt.Sprintf("gateway %s has %d catch-all edges, at most 1 allowed", node.ID, catchAlls))
	}

	return errs
}

func payloadErrorMessage(err error) string {
	var missing *models.MissingFieldError
	if errors.As(err, &missing) {
		return fmt.Sprintf("node %s: missing required field %q", missing.NodeID, missing.Field)
	}

	var payload *models.PayloadError
	if errors.As(err, &payload) {
		return fmt.Sprintf("node %s: invalid field %q: %s", payload.NodeID, payload.Field, payload.Reason)
	}

	return err.Error()
}
