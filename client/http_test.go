package client

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/bytedance/sonic"

	"github.com/sajor2000/labmanager-sub002/domain"
)

func TestHTTPCommitterMoveItem(t *testing.T) {
	var (
		gotMethod string
		gotPath   string
		gotAuth   string
		gotBody   moveRequest
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		raw, _ := io.ReadAll(r.Body)
		if err := sonic.Unmarshal(raw, &gotBody); err != nil {
			t.Errorf("bad request body: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		resp := moveResponse{
			Item: domain.Item{ID: "t1", LabID: "lab1", Kind: domain.KindTask, ContainerID: "p2", Position: 0, Rev: 4},
			Patches: []domain.Patch{
				{ContainerID: "p1", Placements: []domain.Placement{{ItemID: "t2", Position: 0}}},
				{ContainerID: "p2", Placements: []domain.Placement{{ItemID: "t1", Position: 0}}},
			},
		}
		payload, _ := sonic.Marshal(resp)
		w.Write(payload)
	}))
	defer srv.Close()

	c := NewHTTPCommitter(srv.URL+"/", "tok")
	c.KeyFunc = func() string { return "key-1" }

	intent := domain.TaskMove("t1", "p2", 0)
	intent.From = "p1"
	out, err := c.MoveItem(context.Background(), "lab1", intent)
	if err != nil {
		t.Fatalf("move failed: %v", err)
	}

	if gotMethod != http.MethodPost || gotPath != "/api/labs/lab1/moves" {
		t.Fatalf("unexpected request %s %s", gotMethod, gotPath)
	}
	if gotAuth != "Bearer tok" {
		t.Fatalf("unexpected authorization header %q", gotAuth)
	}
	want := moveRequest{Kind: domain.KindTask, ItemID: "t1", From: "p1", To: "p2", Index: 0, IdempotencyKey: "key-1"}
	if gotBody != want {
		t.Fatalf("request body %#v, want %#v", gotBody, want)
	}
	if out.Item.ID != "t1" || out.Item.ContainerID != "p2" || out.Item.Rev != 4 {
		t.Fatalf("unexpected outcome item: %#v", out.Item)
	}
	if len(out.Patches) != 2 {
		t.Fatalf("expected 2 patches, got %#v", out.Patches)
	}
}

func TestHTTPCommitterMoveWithoutKeyFunc(t *testing.T) {
	var gotRaw map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		if err := sonic.Unmarshal(raw, &gotRaw); err != nil {
			t.Errorf("bad request body: %v", err)
		}
		payload, _ := sonic.Marshal(moveResponse{Item: domain.Item{ID: "t1"}})
		w.Write(payload)
	}))
	defer srv.Close()

	c := NewHTTPCommitter(srv.URL, "")
	c.KeyFunc = nil

	if _, err := c.MoveItem(context.Background(), "lab1", domain.TaskMove("t1", "p2", 0)); err != nil {
		t.Fatalf("move failed: %v", err)
	}
	if _, ok := gotRaw["idempotencyKey"]; ok {
		t.Fatalf("expected no idempotency key, got %#v", gotRaw)
	}
}

func TestHTTPCommitterBulkReorder(t *testing.T) {
	var (
		gotPath string
		gotBody reorderRequest
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		raw, _ := io.ReadAll(r.Body)
		if err := sonic.Unmarshal(raw, &gotBody); err != nil {
			t.Errorf("bad request body: %v", err)
		}
		resp := reorderResponse{
			ContainerID: "p1",
			Placements:  []domain.Placement{{ItemID: "t3", Position: 0}, {ItemID: "t1", Position: 1}, {ItemID: "t2", Position: 2}},
		}
		payload, _ := sonic.Marshal(resp)
		w.Write(payload)
	}))
	defer srv.Close()

	c := NewHTTPCommitter(srv.URL, "tok")
	placements, err := c.BulkReorder(context.Background(), "lab1", "p1", []string{"t3", "t1", "t2"})
	if err != nil {
		t.Fatalf("reorder failed: %v", err)
	}

	if gotPath != "/api/labs/lab1/reorder" {
		t.Fatalf("unexpected path %s", gotPath)
	}
	if gotBody.ContainerID != "p1" || len(gotBody.OrderedIDs) != 3 {
		t.Fatalf("unexpected request body: %#v", gotBody)
	}
	if len(placements) != 3 || placements[0].ItemID != "t3" {
		t.Fatalf("unexpected placements: %#v", placements)
	}
}

func TestHTTPCommitterMapsErrorCodes(t *testing.T) {
	cases := map[string]struct {
		status int
		code   string
		msg    string
		check  func(error) bool
	}{
		"conflict": {
			status: http.StatusConflict, code: "conflict", msg: "commit failed after 5 attempts",
			check: func(err error) bool { return errors.Is(err, domain.ErrConflict) },
		},
		"stale order": {
			status: http.StatusConflict, code: "stale_order", msg: "submitted 2 ids but container p1 has 3 children",
			check: func(err error) bool { return errors.Is(err, domain.ErrStaleOrder) },
		},
		"item not found": {
			status: http.StatusNotFound, code: "item_not_found", msg: "item t9: not found",
			check: func(err error) bool { return errors.Is(err, domain.ErrItemNotFound) },
		},
		"container not found": {
			status: http.StatusNotFound, code: "container_not_found", msg: "container p9: not found",
			check: func(err error) bool { return errors.Is(err, domain.ErrContainerNotFound) },
		},
		"container archived": {
			status: http.StatusUnprocessableEntity, code: "container_archived", msg: "container p3 is archived",
			check: func(err error) bool { return errors.Is(err, domain.ErrContainerArchived) },
		},
		"cyclic move": {
			status: http.StatusUnprocessableEntity, code: "cyclic_move", msg: "task t1 cannot move under its own subtask t2",
			check: func(err error) bool { return errors.Is(err, domain.ErrCyclicMove) },
		},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tc.status)
				payload, _ := sonic.Marshal(errorResponse{Error: tc.code, Message: tc.msg})
				w.Write(payload)
			}))
			defer srv.Close()

			c := NewHTTPCommitter(srv.URL, "")
			_, err := c.MoveItem(context.Background(), "lab1", domain.TaskMove("t1", "p2", 0))
			if err == nil || !tc.check(err) {
				t.Fatalf("expected mapped sentinel, got %v", err)
			}
			if !strings.Contains(err.Error(), tc.msg) {
				t.Fatalf("expected server message preserved, got %v", err)
			}
		})
	}
}

func TestHTTPCommitterMapsValidationError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		payload, _ := sonic.Marshal(errorResponse{Error: "validation_failed", Message: "invalid request: negative index -1"})
		w.Write(payload)
	}))
	defer srv.Close()

	c := NewHTTPCommitter(srv.URL, "")
	_, err := c.MoveItem(context.Background(), "lab1", domain.TaskMove("t1", "p2", 0))

	var verr *domain.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if verr.Reason != "negative index -1" {
		t.Fatalf("expected reason without the transport prefix, got %q", verr.Reason)
	}
}

func TestHTTPCommitterUnknownErrorCode(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
		payload, _ := sonic.Marshal(errorResponse{Error: "weird_code", Message: "no idea"})
		w.Write(payload)
	}))
	defer srv.Close()

	c := NewHTTPCommitter(srv.URL, "")
	_, err := c.MoveItem(context.Background(), "lab1", domain.TaskMove("t1", "p2", 0))
	if err == nil || !strings.Contains(err.Error(), "http 418: weird_code") {
		t.Fatalf("expected passthrough error, got %v", err)
	}
}

func TestHTTPCommitterPlainErrorBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		io.WriteString(w, "upstream fell over")
	}))
	defer srv.Close()

	c := NewHTTPCommitter(srv.URL, "")
	_, err := c.MoveItem(context.Background(), "lab1", domain.TaskMove("t1", "p2", 0))
	if err == nil || !strings.Contains(err.Error(), "http 502") || !strings.Contains(err.Error(), "upstream fell over") {
		t.Fatalf("expected raw error passthrough, got %v", err)
	}
}
