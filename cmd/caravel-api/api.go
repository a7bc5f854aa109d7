package main

import (
	"log/slog"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/healthcheck"
	fiberlogger "github.com/gofiber/fiber/v3/middleware/logger"
	"go.opentelemetry.io/otel/trace"

	"github.com/caravel-hq/caravel/pkg/conditions"
	"github.com/caravel-hq/caravel/pkg/engine"
	"github.com/caravel-hq/caravel/pkg/eventbus"
	"github.com/caravel-hq/caravel/pkg/graph"
	"github.com/caravel-hq/caravel/pkg/persistence"
	"github.com/caravel-hq/caravel/pkg/registry"
	"github.com/caravel-hq/caravel/pkg/services"
	"github.com/caravel-hq/caravel/pkg/template"
	"github.com/caravel-hq/caravel/pkg/web"
)

type API struct {
	logger      *slog.Logger
	persistence persistence.Persistence
	registry    *registry.Registry
	eventBus    eventbus.EventBus
	tracer      trace.Tracer
	validate    *validator.Validate
}

func NewAPI(
	logger *slog.Logger,
	persist persistence.Persistence,
	reg *registry.Registry,
	eventBus eventbus.EventBus,
	tracer trace.Tracer,
) *API {
	return &API{
		logger:      logger,
		persistence: persist,
		registry:    reg,
		eventBus:    eventBus,
		tracer:      tracer,
		validate:    validator.New(validator.WithRequiredStructEnabled()),
	}
}

func (a *API) App() *fiber.App {
	graphService := graph.NewService(a.persistence.GraphRepository(), a.logger)
	workflowService := services.NewWorkflow(a.persistence, graphService, a.logger)
	templateService := template.NewService(graphService, nil, a.logger)
	engineOpts := []engine.Option{engine.WithEventBus(a.eventBus)}
	if a.tracer != nil {
		engineOpts = append(engineOpts, engine.WithTracer(a.tracer))
	}

	eng := engine.New(a.persistence, a.registry, conditions.NewEvaluator(), a.logger, engineOpts...)

	handlers := web.NewAPIHandlers(workflowService, graphService, templateService, eng, a.registry, a.validate)

	app := fiber.New()
	app.Use(cors.New())
	app.Use(fiberlogger.New(fiberlogger.Config{
		DisableColors: true,
	}))

	app.Get(healthcheck.DefaultLivenessEndpoint, healthcheck.NewHealthChecker())
	app.Get(healthcheck.DefaultReadinessEndpoint, healthcheck.NewHealthChecker())

	app.Get("/", func(c fiber.Ctx) error {
		return c.SendString("Caravel API")
	})

	w := app.Group("/workflows")
	w.Get("/", handlers.GetWorkflows)
	w.Post("/", handlers.CreateWorkflow)
	w.Get("/:id", handlers.GetWorkflow)
	w.Patch("/:id", handlers.UpdateWorkflow)
	w.Delete("/:id", handlers.DeleteWorkflow)
	w.Put("/:id/status", handlers.SetWorkflowStatus)

	w.Get("/:id/graph", handlers.GetWorkflowGraph)
	w.Put("/:id/nodes", handlers.ReplaceWorkflowNodes)
	w.Put("/:id/edges", handlers.ReplaceWorkflowEdges)
	w.Post("/:id/validate", handlers.ValidateWorkflow)

	w.Post("/:id/execute", handlers.ExecuteWorkflow)
	w.Get("/:id/executions", handlers.GetWorkflowExecutions)

	w.Post("/:id/template", handlers.ApplyTemplate)
	w.Post("/:id/generate", handlers.GenerateWorkflow)

	e := app.Group("/executions")
	e.Post("/:id/cancel", handlers.CancelExecution)
	e.Post("/:id/nodes/:nodeId/complete", handlers.CompleteTask)
	e.Get("/:id/logs", handlers.GetExecutionLogs)

	app.Get("/stats", handlers.GetStats)
	app.Get("/node-types", handlers.GetNodeTypes)
	app.Get("/health", handlers.HealthCheck)

	return app
}

func (a *API) Start(port int) error {
	app := a.App()

	return app.Listen(":" + strconv.Itoa(port))
}
