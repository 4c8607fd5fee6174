package api

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"github.com/sajor2000/labmanager-sub002/board"
	"github.com/sajor2000/labmanager-sub002/domain"
)

// Register wires up all API routes on the provided Echo instance.
func Register(e *echo.Echo, bd Board, store Storage, auth Authenticator, deduper Deduper, broker *UpdateBroker, logger *log.Logger) {
	e.GET("/healthz", healthz())
	e.GET("/api/labs/:labId", getBoard(store, auth))
	e.POST("/api/labs/:labId/items", postItem(bd, auth))
	e.PATCH("/api/labs/:labId/items/:itemId", patchItem(bd, auth))
	e.DELETE("/api/labs/:labId/items/:itemId", deleteItem(bd, auth))
	e.POST("/api/labs/:labId/moves", postMove(bd, store, auth, deduper, logger))
	e.POST("/api/labs/:labId/reorder", postReorder(bd, auth))
	e.GET("/api/labs/:labId/stream", streamBoard(store, auth, broker))
}

func healthz() echo.HandlerFunc {
	return func(c echo.Context) error {
		return c.NoContent(http.StatusOK)
	}
}

func getBoard(store Storage, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		if _, err := auth.UserIDFromAuthHeader(c.Request().Header.Get(echo.HeaderAuthorization)); err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}
		items, err := store.ListLab(ctx, c.Param("labId"))
		if err != nil {
			return writeError(c, err)
		}
		tree, err := domain.BuildTree(c.Param("labId"), items)
		if err != nil {
			return writeError(c, err)
		}
		return c.JSON(http.StatusOK, tree)
	}
}

func postItem(bd Board, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		if _, err := auth.UserIDFromAuthHeader(c.Request().Header.Get(echo.HeaderAuthorization)); err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}
		var draft board.Draft
		if err := decodeStrict(c, &draft); err != nil {
			return c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid_body", Message: "invalid body"})
		}
		item, err := bd.CreateItem(ctx, c.Param("labId"), draft)
		if err != nil {
			return writeError(c, err)
		}
		return c.JSON(http.StatusCreated, item)
	}
}

type updateRequest struct {
	Title    *string `json:"title"`
	Archived *bool   `json:"archived"`
}

func patchItem(bd Board, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		if _, err := auth.UserIDFromAuthHeader(c.Request().Header.Get(echo.HeaderAuthorization)); err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}
		var req updateRequest
		if err := decodeStrict(c, &req); err != nil {
			return c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid_body", Message: "invalid body"})
		}
		item, err := bd.UpdateItem(ctx, c.Param("labId"), c.Param("itemId"), domain.ItemMetaUpdate{Title: req.Title, Archived: req.Archived})
		if err != nil {
			return writeError(c, err)
		}
		return c.JSON(http.StatusOK, item)
	}
}

func deleteItem(bd Board, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		if _, err := auth.UserIDFromAuthHeader(c.Request().Header.Get(echo.HeaderAuthorization)); err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}
		if err := bd.DeleteItem(ctx, c.Param("labId"), c.Param("itemId")); err != nil {
			return writeError(c, err)
		}
		return c.NoContent(http.StatusNoContent)
	}
}

func postMove(bd Board, store Storage, auth Authenticator, deduper Deduper, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) (err error) {
		ctx := c.Request().Context()
		metrics, spanCtx := newMoveRequestMetrics(ctx, logger)
		if spanCtx != nil {
			c.SetRequest(c.Request().WithContext(spanCtx))
			ctx = spanCtx
		}
		defer func() {
			metrics.Log(c.Response().Status, err)
		}()

		labID := c.Param("labId")
		authStart := time.Now()
		actor, authErr := auth.UserIDFromAuthHeader(c.Request().Header.Get(echo.HeaderAuthorization))
		metrics.ObserveAuth(time.Since(authStart))
		if authErr != nil {
			metrics.SetErrorStage("auth")
			err = c.String(http.StatusUnauthorized, authErr.Error())
			return err
		}

		var req moveRequest
		if decErr := decodeStrict(c, &req); decErr != nil {
			metrics.SetErrorStage("invalid_body")
			err = c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid_body", Message: "invalid body"})
			return err
		}

		fresh := true
		if req.IdempotencyKey != "" && deduper != nil {
			var dedupeErr error
			fresh, dedupeErr = deduper.Add(ctx, labID, req.IdempotencyKey)
			if dedupeErr != nil {
				// The dedupe store being down must not block moves.
				logger.WithFields(log.Fields{"lab": labID, "key": req.IdempotencyKey}).
					Warnf("dedupe add failed, executing move anyway: %v", dedupeErr)
				fresh = true
			}
		}
		if !fresh {
			metrics.SetDuplicate(true)
			item, getErr := store.GetItem(ctx, labID, req.ItemID)
			if getErr != nil {
				metrics.SetErrorStage("storage")
				err = writeError(c, getErr)
				return err
			}
			if item == nil {
				metrics.SetErrorStage("storage")
				err = c.JSON(http.StatusNotFound, errorResponse{Error: "item_not_found", Message: "item " + req.ItemID + ": not found"})
				return err
			}
			err = c.JSON(http.StatusOK, moveResponse{Item: *item, Duplicate: true})
			return err
		}

		intent := domain.MoveIntent{Kind: req.Kind, ItemID: req.ItemID, From: req.From, To: req.To, ToIndex: req.Index}
		commitStart := time.Now()
		out, moveErr := bd.MoveItem(ctx, labID, intent, actor)
		metrics.ObserveCommit(time.Since(commitStart))
		if moveErr != nil {
			metrics.SetErrorStage("commit")
			if req.IdempotencyKey != "" && deduper != nil {
				if remErr := deduper.Remove(ctx, labID, req.IdempotencyKey); remErr != nil {
					logger.WithFields(log.Fields{"lab": labID, "key": req.IdempotencyKey}).
						Errorf("dedupe rollback failed: %v", remErr)
				}
			}
			err = writeError(c, moveErr)
			return err
		}
		metrics.SetContainersPatched(len(out.Patches))

		encodeStart := time.Now()
		err = c.JSON(http.StatusOK, moveResponse{Item: out.Item, Patches: out.Patches})
		metrics.ObserveEncode(time.Since(encodeStart))
		if err != nil {
			metrics.SetErrorStage("encode_response")
		}
		return err
	}
}

func postReorder(bd Board, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		actor, err := auth.UserIDFromAuthHeader(c.Request().Header.Get(echo.HeaderAuthorization))
		if err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}
		var req reorderRequest
		if err := decodeStrict(c, &req); err != nil {
			return c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid_body", Message: "invalid body"})
		}
		placements, err := bd.BulkReorder(ctx, c.Param("labId"), req.ContainerID, req.OrderedIDs, actor)
		if err != nil {
			return writeError(c, err)
		}
		return c.JSON(http.StatusOK, reorderResponse{ContainerID: req.ContainerID, Placements: placements})
	}
}
