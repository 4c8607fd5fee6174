package api

import (
	"net/http"
	"sync"

	"github.com/bytedance/sonic"
	"github.com/labstack/echo/v4"

	"github.com/sajor2000/labmanager-sub002/domain"
)

const sseDataPrefix = "data: "

// UpdateBroker fans commit notifications out to the SSE subscribers of each
// lab. Notifications coalesce: a subscriber that has one pending wakeup does
// not accumulate more.
type UpdateBroker struct {
	mu   sync.Mutex
	subs map[string]map[chan struct{}]struct{}
}

func NewUpdateBroker() *UpdateBroker {
	return &UpdateBroker{subs: make(map[string]map[chan struct{}]struct{})}
}

// Subscribe registers a wakeup channel for the lab.
func (b *UpdateBroker) Subscribe(labID string) chan struct{} {
	ch := make(chan struct{}, 1)
	b.mu.Lock()
	labSubs, ok := b.subs[labID]
	if !ok {
		labSubs = make(map[chan struct{}]struct{})
		b.subs[labID] = labSubs
	}
	labSubs[ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

// Unsubscribe removes a previously registered channel.
func (b *UpdateBroker) Unsubscribe(labID string, ch chan struct{}) {
	b.mu.Lock()
	if labSubs, ok := b.subs[labID]; ok {
		delete(labSubs, ch)
		if len(labSubs) == 0 {
			delete(b.subs, labID)
		}
	}
	b.mu.Unlock()
}

// NotifyLab wakes every subscriber of the lab without blocking.
func (b *UpdateBroker) NotifyLab(labID string) {
	b.mu.Lock()
	for ch := range b.subs[labID] {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
	b.mu.Unlock()
}

func streamBoard(store Storage, auth Authenticator, broker *UpdateBroker) echo.HandlerFunc {
	return func(c echo.Context) error {
		authHeader := c.Request().Header.Get(echo.HeaderAuthorization)
		if authHeader == "" {
			if token := c.QueryParam("token"); token != "" {
				authHeader = "Bearer " + token
			}
		}
		if _, err := auth.UserIDFromAuthHeader(authHeader); err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}

		labID := c.Param("labId")
		c.Response().Header().Set(echo.HeaderContentType, "text/event-stream")
		c.Response().Header().Set(echo.HeaderCacheControl, "no-cache")
		c.Response().Header().Set(echo.HeaderConnection, "keep-alive")
		c.Response().Header().Set("X-Accel-Buffering", "no")
		flusher, ok := c.Response().Writer.(http.Flusher)
		if !ok {
			return c.String(http.StatusInternalServerError, "stream unsupported")
		}

		ctx := c.Request().Context()
		ch := broker.Subscribe(labID)
		defer broker.Unsubscribe(labID, ch)
		for {
			items, err := store.ListLab(ctx, labID)
			if err != nil {
				c.Logger().Error(err)
				return err
			}
			tree, err := domain.BuildTree(labID, items)
			if err != nil {
				c.Logger().Error(err)
				return err
			}
			data, err := sonic.Marshal(tree)
			if err != nil {
				c.Logger().Error(err)
				return err
			}
			if _, err := c.Response().Write([]byte(sseDataPrefix)); err != nil {
				return nil
			}
			if _, err := c.Response().Write(data); err != nil {
				return nil
			}
			if _, err := c.Response().Write([]byte("\n\n")); err != nil {
				return nil
			}
			flusher.Flush()
			select {
			case <-ctx.Done():
				return nil
			case <-ch:
				continue
			}
		}
	}
}
