// Package registry holds the handler factories for the closed node type set
// and validates node payloads against each factory's JSON schema.
package registry

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	"github.com/caravel-hq/caravel/pkg/models"
	"github.com/caravel-hq/caravel/pkg/protocol"
)

// Registry maps node types to their handler factories.
type Registry struct {
	logger    *slog.Logger
	factories map[string]protocol.HandlerFactory
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		logger:    logger,
		factories: make(map[string]protocol.HandlerFactory),
	}
}

// Register adds a handler factory under its node type.
func (r *Registry) Register(factory protocol.HandlerFactory) {
	r.factories[factory.ID()] = factory
}

// HealthCheck reports whether the registry holds at least one factory.
func (r *Registry) HealthCheck() (string, bool) {
	if len(r.factories) == 0 {
		return "No node handler factories registered", false
	}

	return fmt.Sprintf("%d node handler factories registered", len(r.factories)), true
}

// CreateHandler creates a handler for the node's type, parsing its payload.
func (r *Registry) CreateHandler(ctx context.Context, node *models.Node) (protocol.Handler, error) {
	factory, ok := r.factories[string(node.Type)]
	if !ok {
		return nil, fmt.Errorf("node type %q not registered", node.Type)
	}

	return factory.Create(ctx, node)
}

// IsRegistered reports whether a factory exists for the node type.
func (r *Registry) IsRegistered(nodeType models.NodeType) bool {
	_, ok := r.factories[string(nodeType)]

	return ok
}

// AvailableTypes returns the registered node types in sorted order.
func (r *Registry) AvailableTypes() []string {
	types := make([]string, 0, len(r.factories))
	for nodeType := range r.factories {
		types = append(types, nodeType)
	}

	sort.Strings(types)

	return types
}

// ValidateNodeData validates the node's data payload against the JSON schema
// of its registered factory. Node types without a factory (start, end and the
// engine-internal types) are accepted as-is.
func (r *Registry) ValidateNodeData(node *models.Node) error {
	factory, ok := r.factories[string(node.Type)]
	if !ok {
		return nil
	}

	schema := factory.Schema()
	if schema == nil {
		return nil
	}

	data := node.Data
	if data == nil {
		data = map[string]any{}
	}

	schemaLoader := gojsonschema.NewGoLoader(schema)
	dataLoader := gojsonschema.NewGoLoader(data)

	result, err := gojsonschema.Validate(schemaLoader, dataLoader)
	if err != nil {
		return fmt.Errorf("failed to validate node %s data: %w", node.ID, err)
	}

	if !result.Valid() {
		descriptions := make([]string, 0, len(result.Errors()))
		for _, desc := range result.Errors() {
			descriptions = append(descriptions, desc.String())
		}

		return fmt.Errorf("node %s data invalid: %s", node.ID, strings.Join(descriptions, "; "))
	}

	return nil
}
