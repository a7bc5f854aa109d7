// Package template applies externally produced workflow documents onto a
// workflow's graph: entries from the template library and AI-generated
// drafts. Application replaces the graph wholesale; validation stays the
// caller's decision, a freshly applied template is allowed to be invalid
// while it is being edited.
package template

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/caravel-hq/caravel/pkg/graph"
	"github.com/caravel-hq/caravel/pkg/models"
	"github.com/caravel-hq/caravel/pkg/protocol"
)

// Document is the externally produced graph structure a template or draft
// carries. Node and edge ids are optional; missing ones are generated on
// application.
type Document struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Nodes       []*models.Node `json:"nodes"`
	Edges       []*models.Edge `json:"edges"`
}

// MalformedTemplateError indicates a document entry that cannot be mapped
// onto the graph: a node without a type or an edge without both endpoints.
type MalformedTemplateError struct {
	Kind   string // "node" or "edge"
	Index  int
	Reason string
}

func (e *MalformedTemplateError) Error() string {
	return fmt.Sprintf("malformed template: %s %d: %s", e.Kind, e.Index, e.Reason)
}

// Service applies template documents and generated drafts.
type Service struct {
	graphs *graph.Service
	drafts protocol.DraftService
	logger *slog.Logger
}

// NewService creates a template service. The draft service may be nil when AI
// generation is not configured.
func NewService(graphs *graph.Service, drafts protocol.DraftService, logger *slog.Logger) *Service {
	return &Service{
		graphs: graphs,
		drafts: drafts,
		logger: logger.With("module", "template"),
	}
}

// Apply replaces the workflow's graph with the document's nodes and edges.
// The document is checked for structural soundness first; nothing is written
// when any entry is malformed.
func (s *Service) Apply(ctx context.Context, workflowID string, doc *Document) error {
	if err := checkDocument(doc); err != nil {
		return err
	}

	nodes := make([]*models.Node, len(doc.Nodes))

	for i, node := range doc.Nodes {
		copied := *node
		if copied.ID == "" {
			copied.ID = "node-" + uuid.New().String()[:8]
		}

		if copied.Label == "" {
			copied.Label = string(copied.Type)
		}

		nodes[i] = &copied
	}

	edges := make([]*models.Edge, len(doc.Edges))

	for i, edge := range doc.Edges {
		copied := *edge
		if copied.ID == "" {
			copied.ID = "edge-" + uuid.New().String()[:8]
		}

		edges[i] = &copied
	}

	if err := s.graphs.ReplaceNodes(ctx, workflowID, nodes, false); err != nil {
		return err
	}

	if err := s.graphs.ReplaceEdges(ctx, workflowID, edges, false); err != nil {
		return err
	}

	s.logger.InfoContext(ctx, "Applied template",
		"workflow_id", workflowID, "template", doc.Name,
		"nodes", len(nodes), "edges", len(edges))

	return nil
}

// GenerateFromDescription asks the draft service for a graph matching the
// description and applies it to the workflow. The returned document is what
// was applied.
func (s *Service) GenerateFromDescription(ctx context.Context, workflowID, description string) (*Document, error) {
	if s.drafts == nil {
		return nil, fmt.Errorf("no draft service configured")
	}

	draft, err := s.drafts.GenerateWorkflow(ctx, description)
	if err != nil {
		return nil, fmt.Errorf("failed to generate workflow draft: %w", err)
	}

	doc := &Document{
		Name:        draft.Name,
		Description: draft.Description,
		Nodes:       draft.Nodes,
		Edges:       draft.Edges,
	}

	if err := s.Apply(ctx, workflowID, doc); err != nil {
		return nil, err
	}

	return doc, nil
}

func checkDocument(doc *Document) error {
	for i, node := range doc.Nodes {
		if node == nil || node.Type == "" {
			return &MalformedTemplateError{Kind: "node", Index: i, Reason: "missing type"}
		}
	}

	for i, edge := range doc.Edges {
		if edge == nil || edge.SourceID == "" || edge.TargetID == "" {
			return &MalformedTemplateError{Kind: "edge", Index: i, Reason: "missing source or target"}
		}
	}

	return nil
}
