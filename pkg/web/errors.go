package web

import (
	"errors"
	"strings"

	"github.com/gofiber/fiber/v3"
	"github.com/moogar0880/problems"

	"github.com/caravel-hq/caravel/pkg/engine"
	"github.com/caravel-hq/caravel/pkg/graph"
	"github.com/caravel-hq/caravel/pkg/persistence"
	"github.com/caravel-hq/caravel/pkg/services"
	"github.com/caravel-hq/caravel/pkg/template"
)

func badRequest(c fiber.Ctx, detail string) error {
	problem := problems.NewStatusProblem(400).
		WithInstance(c.Path()).
		WithType("validation_error").
		WithDetail(detail)

	return c.Status(fiber.StatusBadRequest).JSON(problem)
}

func notFound(c fiber.Ctx, detail string) error {
	problem := problems.NewStatusProblem(404).
		WithInstance(c.Path()).
		WithType("not_found").
		WithDetail(detail)

	return c.Status(fiber.StatusNotFound).JSON(problem)
}

func conflict(c fiber.Ctx, detail string) error {
	problem := problems.NewStatusProblem(409).
		WithInstance(c.Path()).
		WithType("conflict").
		WithDetail(detail)

	return c.Status(fiber.StatusConflict).JSON(problem)
}

func internalError(c fiber.Ctx, err error) error {
	problem := problems.NewStatusProblem(500).
		WithInstance(c.Path()).
		WithType("internal_error").
		WithError(err)

	return c.Status(fiber.StatusInternalServerError).JSON(problem)
}

// handleServiceError maps service and engine errors onto problem responses.
func handleServiceError(c fiber.Ctx, err error) error {
	var (
		graphErr    *graph.ValidationError
		stateErr    *engine.InvalidStateError
		templateErr *template.MalformedTemplateError
	)

	switch {
	case errors.As(err, &graphErr):
		problem := problems.NewStatusProblem(422).
			WithInstance(c.Path()).
			WithType("graph_validation_failed").
			WithDetail(strings.Join(graphErr.Result.Errors, "; "))

		return c.Status(fiber.StatusUnprocessableEntity).JSON(problem)

	case errors.As(err, &stateErr):
		return conflict(c, err.Error())

	case errors.As(err, &templateErr):
		return badRequest(c, err.Error())

	case errors.Is(err, engine.ErrWorkflowNotExecutable),
		errors.Is(err, engine.ErrNoStartNode):
		return conflict(c, err.Error())

	case services.IsValidationError(err):
		return badRequest(c, err.Error())

	case services.IsConflictError(err):
		return conflict(c, err.Error())

	case persistence.IsWorkflowNotFound(err):
		return notFound(c, "Workflow not found")

	case persistence.IsExecutionNotFound(err):
		return notFound(c, "Execution not found")

	default:
		return internalError(c, err)
	}
}
