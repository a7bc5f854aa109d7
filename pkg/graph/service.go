// Package graph is the editing surface over a workflow's node and edge sets.
// Writes are atomic full replacements; callers may request validation as part
// of a replace, in which case a failing graph is rejected before anything is
// written.
package graph

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/caravel-hq/caravel/pkg/models"
	"github.com/caravel-hq/caravel/pkg/persistence"
	"github.com/caravel-hq/caravel/pkg/validation"
)

// ValidationError rejects a replace request whose resulting graph fails
// validation. It carries the full result so the caller can surface every
// violation at once.
type ValidationError struct {
	Result *validation.Result
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("graph validation failed with %d violations", len(e.Result.Errors))
}

// Service exposes the graph read and replace operations.
type Service struct {
	graphs    persistence.GraphRepository
	validator *validation.Validator
	logger    *slog.Logger
}

// NewService creates a graph service over the given store.
func NewService(graphs persistence.GraphRepository, logger *slog.Logger) *Service {
	return &Service{
		graphs:    graphs,
		validator: validation.NewValidator(),
		logger:    logger.With("module", "graph"),
	}
}

// Read returns the current graph. Empty slices for a freshly created
// workflow, never nil.
func (s *Service) Read(ctx context.Context, workflowID string) ([]*models.Node, []*models.Edge, error) {
	return s.graphs.ReadGraph(ctx, workflowID)
}

// ReplaceNodes atomically replaces the workflow's node set. With validate
// set, the new nodes are checked against the current edges and rejected with
// a ValidationError before any write happens.
func (s *Service) ReplaceNodes(ctx context.Context, workflowID string, nodes []*models.Node, validate bool) error {
	if validate {
		_, edges, err := s.graphs.ReadGraph(ctx, workflowID)
		if err != nil {
			return err
		}

		if result := s.validator.Validate(nodes, edges); !result.IsValid {
			return &ValidationError{Result: result}
		}
	}

	err := s.graphs.WriteNodes(ctx, workflowID, nodes)
	if err != nil {
		return err
	}

	s.logger.InfoContext(ctx, "Replaced workflow nodes", "workflow_id", workflowID, "node_count", len(nodes))

	return nil
}

// ReplaceEdges atomically replaces the workflow's edge set, mirroring
// ReplaceNodes.
func (s *Service) ReplaceEdges(ctx context.Context, workflowID string, edges []*models.Edge, validate bool) error {
	if validate {
		nodes, _, err := s.graphs.ReadGraph(ctx, workflowID)
		if err != nil {
			return err
		}

		if result := s.validator.Validate(nodes, edges); !result.IsValid {
			return &ValidationError{Result: result}
		}
	}

	err := s.graphs.WriteEdges(ctx, workflowID, edges)
	if err != nil {
		return err
	}

	s.logger.InfoContext(ctx, "Replaced workflow edges", "workflow_id", workflowID, "edge_count", len(edges))

	return nil
}

// Validate runs the validator against the stored graph without writing
// anything. The result is advisory; activation decisions belong to the
// workflow service.
func (s *Service) Validate(ctx context.Context, workflowID string) (*validation.Result, error) {
	nodes, edges, err := s.graphs.ReadGraph(ctx, workflowID)
	if err != nil {
		return nil, err
	}

	return s.validator.Validate(nodes, edges), nil
}
