package web

import (
	"fmt"
	"net/http"
	"time"

	"github.com/dukex/deskflow/pkg/models"
	"github.com/dukex/deskflow/pkg/services"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
)

type APIHandlers struct {
	workflowService  *services.Workflow
	ruleService      *services.Rule
	executionService *services.Execution
	validator        *validator.Validate
}

func NewAPIHandlers(
	workflowService *services.Workflow,
	ruleService *services.Rule,
	executionService *services.Execution,
	validator *validator.Validate,
) *APIHandlers {
	return &APIHandlers{
		workflowService:  workflowService,
		ruleService:      ruleService,
		executionService: executionService,
		validator:        validator,
	}
}

// Register mounts every API route on router.
func (h *APIHandlers) Register(router fiber.Router) {
	w := router.Group("/workflows")
	w.Get("/", h.GetWorkflows)
	w.Post("/", h.CreateWorkflow)
	w.Get("/:id", h.GetWorkflow)
	w.Put("/:id", h.UpdateWorkflow)
	w.Delete("/:id", h.DeleteWorkflow)
	w.Post("/:id/run", h.RunWorkflow)

	r := router.Group("/rules")
	r.Get("/", h.GetRules)
	r.Post("/", h.CreateRule)
	r.Get("/:id", h.GetRule)
	r.Put("/:id", h.UpdateRule)
	r.Post("/:id/deactivate", h.DeactivateRule)
	r.Post("/:id/run", h.RunRule)

	e := router.Group("/entities/:type/:id")
	e.Post("/evaluate", h.EvaluateEntity)
	e.Get("/executions", h.GetEntityExecutions)

	x := router.Group("/executions")
	x.Get("/:id", h.GetExecution)
	x.Get("/:id/actions", h.GetExecutionActions)
	x.Get("/:id/audit", h.GetExecutionAudit)
	x.Post("/:id/cancel", h.CancelExecution)

	router.Get("/health", h.HealthCheck)
}

func (h *APIHandlers) HealthCheck(c fiber.Ctx) error {
	repositoryCheck, ok := h.workflowService.HealthCheck(c.Context())

	status := "unhealthy"
	message := "Deskflow API is unhealthy"
	httpStatus := http.StatusInternalServerError

	if ok {
		status = "healthy"
		message = "Deskflow API is healthy"
		httpStatus = http.StatusOK
	}

	return c.Status(httpStatus).JSON(fiber.Map{
		"status":  status,
		"message": message,
		"checkers": fiber.Map{
			"repository": repositoryCheck,
		},
		"timestamp": time.Now().UTC(),
	})
}

func (h *APIHandlers) GetWorkflows(c fiber.Ctx) error {
	entityType := models.EntityType(c.Query("entity_type"))

	workflows, err := h.workflowService.List(c.Context(), entityType)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(fiber.Map{
		"workflows":   workflows,
		"total_count": len(workflows),
	})
}

func (h *APIHandlers) GetWorkflow(c fiber.Ctx) error {
	workflow, err := h.workflowService.FetchByID(c.Context(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(workflow)
}

func (h *APIHandlers) CreateWorkflow(c fiber.Ctx) error {
	req, err := h.bindWorkflow(c)
	if err != nil {
		return badRequest(c, err.Error())
	}

	created, err := h.workflowService.Create(c.Context(), req.toModel())
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(created)
}

func (h *APIHandlers) UpdateWorkflow(c fiber.Ctx) error {
	req, err := h.bindWorkflow(c)
	if err != nil {
		return badRequest(c, err.Error())
	}

	updated, err := h.workflowService.Update(c.Context(), c.Params("id"), req.toModel())
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(updated)
}

func (h *APIHandlers) DeleteWorkflow(c fiber.Ctx) error {
	err := h.workflowService.Delete(c.Context(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

func (h *APIHandlers) RunWorkflow(c fiber.Ctx) error {
	var req TriggerRequest
	if err := h.bind(c, &req); err != nil {
		return badRequest(c, err.Error())
	}

	executionID, err := h.workflowService.Run(c.Context(), c.Params("id"), req.Entity)
	if err != nil {
		// A graph that fails validation still produced a failed execution.
		if executionID != "" {
			return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{
				"execution_id": executionID,
				"error":        err.Error(),
			})
		}

		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusAccepted).JSON(TriggerResponse{ExecutionID: executionID})
}

func (h *APIHandlers) GetRules(c fiber.Ctx) error {
	rules, err := h.ruleService.List(c.Context(), models.EntityType(c.Query("entity_type")))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(fiber.Map{
		"rules":       rules,
		"total_count": len(rules),
	})
}

func (h *APIHandlers) GetRule(c fiber.Ctx) error {
	rule, err := h.ruleService.FetchByID(c.Context(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(rule)
}

func (h *APIHandlers) CreateRule(c fiber.Ctx) error {
	var req RuleRequest
	if err := h.bind(c, &req); err != nil {
		return badRequest(c, err.Error())
	}

	created, err := h.ruleService.Create(c.Context(), req.toModel())
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(created)
}

func (h *APIHandlers) UpdateRule(c fiber.Ctx) error {
	var req RuleRequest
	if err := h.bind(c, &req); err != nil {
		return badRequest(c, err.Error())
	}

	updated, err := h.ruleService.Update(c.Context(), c.Params("id"), req.toModel())
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(updated)
}

func (h *APIHandlers) DeactivateRule(c fiber.Ctx) error {
	rule, err := h.ruleService.Deactivate(c.Context(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(rule)
}

func (h *APIHandlers) RunRule(c fiber.Ctx) error {
	var req TriggerRequest
	if err := h.bind(c, &req); err != nil {
		return badRequest(c, err.Error())
	}

	executionID, err := h.ruleService.Run(c.Context(), c.Params("id"), req.Entity)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusAccepted).JSON(TriggerResponse{ExecutionID: executionID})
}

func (h *APIHandlers) EvaluateEntity(c fiber.Ctx) error {
	ids, err := h.ruleService.Evaluate(c.Context(), entityParam(c))
	if err != nil && len(ids) == 0 {
		return handleServiceError(c, err)
	}

	if ids == nil {
		ids = []string{}
	}

	return c.Status(fiber.StatusAccepted).JSON(EvaluateResponse{ExecutionIDs: ids})
}

func (h *APIHandlers) GetEntityExecutions(c fiber.Ctx) error {
	executions, err := h.executionService.ListByEntity(c.Context(), entityParam(c))
	if err != nil {
		return handleServiceError(c, err)
	}

	body := make([]ExecutionResponse, 0, len(executions))
	for _, execution := range executions {
		body = append(body, newExecutionResponse(execution))
	}

	return c.JSON(fiber.Map{
		"executions":  body,
		"total_count": len(body),
	})
}

func (h *APIHandlers) GetExecution(c fiber.Ctx) error {
	execution, err := h.executionService.FetchByID(c.Context(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(newExecutionResponse(execution))
}

func (h *APIHandlers) GetExecutionActions(c fiber.Ctx) error {
	records, err := h.executionService.ActionRecords(c.Context(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(fiber.Map{"actions": records})
}

func (h *APIHandlers) GetExecutionAudit(c fiber.Ctx) error {
	trail, err := h.executionService.AuditTrail(c.Context(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(fiber.Map{"audit": trail})
}

func (h *APIHandlers) CancelExecution(c fiber.Ctx) error {
	execution, err := h.executionService.Cancel(c.Context(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusAccepted).JSON(newExecutionResponse(execution))
}

// bindWorkflow validates the raw body against the workflow schema, then
// decodes and validates it.
func (h *APIHandlers) bindWorkflow(c fiber.Ctx) (*WorkflowRequest, error) {
	err := validateDocument(workflowSchema, c.Body())
	if err != nil {
		return nil, err
	}

	var req WorkflowRequest

	err = h.bind(c, &req)
	if err != nil {
		return nil, err
	}

	return &req, nil
}

func (h *APIHandlers) bind(c fiber.Ctx, out any) error {
	err := c.Bind().JSON(out)
	if err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}

	return h.validator.Struct(out)
}

func entityParam(c fiber.Ctx) models.EntityRef {
	return models.EntityRef{
		Type: models.EntityType(c.Params("type")),
		ID:   c.Params("id"),
	}
}
