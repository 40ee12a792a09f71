package api

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"fulfillment-ledger/internal/apperr"
	"fulfillment-ledger/internal/entity"
	"fulfillment-ledger/internal/service"
)

type OrderHandler struct {
	orderService *service.FulfillmentService
}

func NewOrderHandler(orderService *service.FulfillmentService) *OrderHandler {
	return &OrderHandler{orderService: orderService}
}

// CreateOrder --> POST /orders
func (h *OrderHandler) CreateOrder(c echo.Context) error {
	req := entity.OrderRequest{}
	if err := c.Bind(&req); err != nil {
		return c.JSON(400, map[string]string{"error": "Invalid request payload"})
	}
	req.IdempotentKey = c.Request().Header.Get("Idempotent-Key")

	createdOrder, err := h.orderService.CreateOrder(c.Request().Context(), actorFrom(c), &req)
	if err != nil {
		return errorResponse(c, err)
	}

	return c.JSON(http.StatusCreated, createdOrder)
}

// GetOrder --> GET /orders/:id
func (h *OrderHandler) GetOrder(c echo.Context) error {
	order, err := h.orderService.GetOrder(c.Request().Context(), c.Param("id"))
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(200, order)
}

// ListOrders --> GET /orders?limit=&offset=
func (h *OrderHandler) ListOrders(c echo.Context) error {
	limit, err := intQuery(c, "limit", 0)
	if err != nil {
		return errorResponse(c, err)
	}
	offset, err := intQuery(c, "offset", 0)
	if err != nil {
		return errorResponse(c, err)
	}

	orders, err := h.orderService.ListOrders(c.Request().Context(), limit, offset)
	if err != nil {
		return errorResponse(c, err)
	}
	if orders == nil {
		orders = []*entity.Order{}
	}
	return c.JSON(200, orders)
}

// UpdateOrder --> PUT /orders/:id
func (h *OrderHandler) UpdateOrder(c echo.Context) error {
	patch := entity.OrderPatch{}
	if err := c.Bind(&patch); err != nil {
		return c.JSON(400, map[string]string{"error": "Invalid request payload"})
	}

	updatedOrder, err := h.orderService.UpdateOrder(c.Request().Context(), actorFrom(c), c.Param("id"), &patch)
	if err != nil {
		return errorResponse(c, err)
	}

	return c.JSON(200, updatedOrder)
}

// CancelOrder --> DELETE /orders/:id
func (h *OrderHandler) CancelOrder(c echo.Context) error {
	id := c.Param("id")
	outcome, err := h.orderService.CancelOrder(c.Request().Context(), actorFrom(c), id)
	if err != nil {
		return errorResponse(c, err)
	}

	return c.JSON(200, map[string]string{"id": id, "outcome": string(outcome)})
}

// errorResponse maps ledger error kinds onto HTTP statuses.
func errorResponse(c echo.Context, err error) error {
	status := http.StatusInternalServerError
	switch apperr.KindOf(err) {
	case apperr.KindNotFound:
		status = http.StatusNotFound
	case apperr.KindValidation:
		status = http.StatusBadRequest
	case apperr.KindConcurrencyConflict:
		status = http.StatusConflict
	}
	return c.JSON(status, map[string]string{"error": err.Error()})
}

func intQuery(c echo.Context, name string, fallback int) (int, error) {
	raw := c.QueryParam(name)
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, apperr.Validation("%s must be an integer", name)
	}
	return v, nil
}
