package file

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewPersistence(t *testing.T) {
	// Test with regular path
	persistence := NewPersistence("/tmp/test")
	assert.Equal(t, "/tmp/test", persistence.root)

	// Test with file:// prefix
	persistence = NewPersistence("file:///tmp/test")
	assert.Equal(t, "/tmp/test", persistence.root)
}

func TestPersistence_HealthCheck(t *testing.T) {
	persistence := NewPersistence(t.TempDir())
	assert.NoError(t, persistence.HealthCheck(t.Context()))

	persistence = NewPersistence("/nonexistent/caravel-test")
	assert.Error(t, persistence.HealthCheck(t.Context()))
}

func TestPersistence_Close(t *testing.T) {
	persistence := NewPersistence(t.TempDir())
	assert.NoError(t, persistence.Close(t.Context()))
}

func TestPersistence_Repositories(t *testing.T) {
	persistence := NewPersistence(t.TempDir())

	assert.NotNil(t, persistence.WorkflowRepository())
	assert.NotNil(t, persistence.ExecutionRepository())

	// The workflow document holds the graph, so both repositories are backed
	// by the same store.
	assert.Equal(t, persistence.WorkflowRepository(), persistence.GraphRepository())
}
