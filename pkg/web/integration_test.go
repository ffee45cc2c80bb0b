//go:build integration

package web_test

import (
	"context"
	"log/slog"
	"net/http"
	"testing"
	"time"

	"github.com/dukex/deskflow/pkg/actions"
	"github.com/dukex/deskflow/pkg/audit"
	"github.com/dukex/deskflow/pkg/metrics"
	"github.com/dukex/deskflow/pkg/models"
	"github.com/dukex/deskflow/pkg/notifier"
	"github.com/dukex/deskflow/pkg/persistence/postgresql"
	"github.com/dukex/deskflow/pkg/services"
	"github.com/dukex/deskflow/pkg/web"
	"github.com/dukex/deskflow/pkg/workflow"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
)

func setupIntegrationApp(t *testing.T) (*harness, *postgresql.Persistence) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	t.Cleanup(cancel)

	container, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("deskflow_api"),
		postgres.WithUsername("deskflow"),
		postgres.WithPassword("deskflow"),
		postgres.BasicWaitStrategies(),
	)
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = container.Terminate(context.Background())
	})

	databaseURL, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	logger := slog.New(slog.DiscardHandler)

	db, err := postgresql.NewPersistence(ctx, logger, databaseURL)
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = db.Close(context.Background())
	})

	store := db.EntityStore()
	m := metrics.New()

	engine := workflow.NewEngine(workflow.Dependencies{
		Persistence: db,
		Store:       store,
		Dispatcher: actions.NewDispatcher(actions.Dependencies{
			Store:     store,
			Directory: store,
			Notifier:  notifier.NewLogNotifier(logger),
			Logger:    logger,
		}),
		Audit:   audit.NewPersistenceSink(db.AuditRepository()),
		Metrics: m,
		Logger:  logger,
	})

	t.Cleanup(func() {
		_ = engine.Shutdown(context.Background())
	})

	validate := validator.New(validator.WithRequiredStructEnabled())
	handlers := web.NewAPIHandlers(
		services.NewWorkflow(db, engine, validate),
		services.NewRule(db, engine, validate, logger),
		services.NewExecution(db, engine),
		validate,
	)

	app := fiber.New()
	app.Use(web.Instrument(m))
	handlers.Register(app)

	return &harness{app: app, engine: engine}, db
}

func TestIntegration_WorkflowRunAgainstPostgres(t *testing.T) {
	h, db := setupIntegrationApp(t)

	ref, err := db.EntityStore().Create(t.Context(), models.EntityTypeTicket, map[string]any{
		"subject":     "VPN down",
		"priority_id": 4,
		"status":      "open",
	})
	require.NoError(t, err)

	resp, body := h.do(t, http.MethodPost, "/workflows", escalationWorkflow(true))
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))

	id := decode[models.Workflow](t, body).ID

	resp, body = h.do(t, http.MethodPost, "/workflows/"+id+"/run", web.TriggerRequest{Entity: ref})
	require.Equal(t, http.StatusAccepted, resp.StatusCode, string(body))

	executionID := decode[web.TriggerResponse](t, body).ExecutionID
	execution := h.await(t, executionID)
	assert.Equal(t, models.ExecutionCompleted, execution.Status)

	status, err := db.EntityStore().Get(t.Context(), ref, "status")
	require.NoError(t, err)
	assert.Equal(t, "escalated", status)

	resp, body = h.do(t, http.MethodGet, "/entities/ticket/"+ref.ID+"/executions", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), executionID)
}

func TestIntegration_RulesAgainstPostgres(t *testing.T) {
	h, db := setupIntegrationApp(t)

	ref, err := db.EntityStore().Create(t.Context(), models.EntityTypeTicket, map[string]any{
		"subject":     "Laptop stolen",
		"priority_id": 4,
	})
	require.NoError(t, err)

	resp, body := h.do(t, http.MethodPost, "/rules", ruleBody())
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))

	resp, body = h.do(t, http.MethodPost, "/entities/ticket/"+ref.ID+"/evaluate", nil)
	require.Equal(t, http.StatusAccepted, resp.StatusCode, string(body))

	ids := decode[web.EvaluateResponse](t, body).ExecutionIDs
	require.Len(t, ids, 1)

	execution := h.await(t, ids[0])
	assert.Equal(t, models.ExecutionCompleted, execution.Status)

	tag, err := db.EntityStore().Get(t.Context(), ref, "tag")
	require.NoError(t, err)
	assert.Equal(t, "urgent", tag)
}
