package api

import (
	"github.com/labstack/echo/v4"

	"fulfillment-ledger/internal/entity"
	"fulfillment-ledger/internal/service"
)

// LedgerHandler serves the notification feed, the sales log and stock reads.
type LedgerHandler struct {
	ledger *service.FulfillmentService
}

func NewLedgerHandler(ledger *service.FulfillmentService) *LedgerHandler {
	return &LedgerHandler{ledger: ledger}
}

// Notifications --> GET /notifications
func (h *LedgerHandler) Notifications(c echo.Context) error {
	list, err := h.ledger.ListNotifications(c.Request().Context())
	if err != nil {
		return errorResponse(c, err)
	}
	if list == nil {
		list = []*entity.Notification{}
	}
	return c.JSON(200, list)
}

// UnreadNotifications --> GET /notifications/unread
func (h *LedgerHandler) UnreadNotifications(c echo.Context) error {
	count, err := h.ledger.UnreadNotifications(c.Request().Context())
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(200, map[string]int{"unread": count})
}

// MarkNotificationsRead --> POST /notifications/read
func (h *LedgerHandler) MarkNotificationsRead(c echo.Context) error {
	marked, err := h.ledger.MarkNotificationsRead(c.Request().Context())
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(200, map[string]int{"marked": marked})
}

// SalesLogs --> GET /sales-logs?page=&page_size=
func (h *LedgerHandler) SalesLogs(c echo.Context) error {
	page, err := intQuery(c, "page", 1)
	if err != nil {
		return errorResponse(c, err)
	}
	pageSize, err := intQuery(c, "page_size", service.DefaultSalesLogPageSize)
	if err != nil {
		return errorResponse(c, err)
	}

	result, err := h.ledger.ListSalesLogs(c.Request().Context(), page, pageSize)
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(200, result)
}

// ProductStock --> GET /products/:id/stock
func (h *LedgerHandler) ProductStock(c echo.Context) error {
	id := c.Param("id")
	stock, err := h.ledger.ProductStock(c.Request().Context(), id)
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(200, map[string]interface{}{"product_id": id, "stock": stock})
}
