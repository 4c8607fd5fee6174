package api

import (
	"errors"
	"io"
	"net/http"

	"github.com/bytedance/sonic"
	"github.com/labstack/echo/v4"

	"github.com/sajor2000/labmanager-sub002/domain"
)

const requestMaxSize = 64 * 1024 // 64 KiB

// POST /api/labs/:labId/moves request body.
type moveRequest struct {
	Kind           domain.Kind `json:"kind"`
	ItemID         string      `json:"itemId"`
	From           string      `json:"from,omitempty"`
	To             string      `json:"to"`
	Index          int         `json:"index"`
	IdempotencyKey string      `json:"idempotencyKey,omitempty"`
}

// POST /api/labs/:labId/moves response body.
type moveResponse struct {
	Item      domain.Item    `json:"item"`
	Patches   []domain.Patch `json:"patches,omitempty"`
	Duplicate bool           `json:"duplicate,omitempty"`
}

// POST /api/labs/:labId/reorder request and response bodies.
type reorderRequest struct {
	ContainerID string   `json:"containerId"`
	OrderedIDs  []string `json:"orderedIds"`
}

type reorderResponse struct {
	ContainerID string             `json:"containerId"`
	Placements  []domain.Placement `json:"placements"`
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// decodeStrict reads a size-capped JSON body and rejects unknown fields.
func decodeStrict(c echo.Context, out any) error {
	lr := io.LimitReader(c.Request().Body, requestMaxSize)
	dec := sonic.ConfigStd.NewDecoder(lr)
	dec.DisallowUnknownFields()
	return dec.Decode(out)
}

// writeError maps a domain error onto the HTTP surface. Codes are stable so
// clients can switch on them without parsing messages.
func writeError(c echo.Context, err error) error {
	status, code := http.StatusInternalServerError, "internal"
	var verr *domain.ValidationError
	switch {
	case errors.As(err, &verr):
		status, code = http.StatusBadRequest, "validation_failed"
	case errors.Is(err, domain.ErrItemNotFound):
		status, code = http.StatusNotFound, "item_not_found"
	case errors.Is(err, domain.ErrContainerNotFound):
		status, code = http.StatusNotFound, "container_not_found"
	case errors.Is(err, domain.ErrContainerArchived):
		status, code = http.StatusUnprocessableEntity, "container_archived"
	case errors.Is(err, domain.ErrCyclicMove):
		status, code = http.StatusUnprocessableEntity, "cyclic_move"
	case errors.Is(err, domain.ErrStaleOrder):
		status, code = http.StatusConflict, "stale_order"
	case errors.Is(err, domain.ErrConflict):
		status, code = http.StatusConflict, "conflict"
	}
	if status == http.StatusInternalServerError {
		c.Logger().Error(err)
	}
	return c.JSON(status, errorResponse{Error: code, Message: err.Error()})
}
