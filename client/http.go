package client

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"

	"github.com/sajor2000/labmanager-sub002/domain"
)

type moveRequest struct {
	Kind           domain.Kind `json:"kind"`
	ItemID         string      `json:"itemId"`
	From           string      `json:"from,omitempty"`
	To             string      `json:"to"`
	Index          int         `json:"index"`
	IdempotencyKey string      `json:"idempotencyKey,omitempty"`
}

type moveResponse struct {
	Item      domain.Item    `json:"item"`
	Patches   []domain.Patch `json:"patches"`
	Duplicate bool           `json:"duplicate"`
}

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

// HTTPCommitter submits moves and reorders to the board API.
type HTTPCommitter struct {
	BaseURL string
	Bearer  string
	HTTP    *http.Client

	// KeyFunc supplies the idempotency key attached to each move. Defaults
	// to uuid.NewString; nil-out to send moves without keys.
	KeyFunc func() string
}

// NewHTTPCommitter creates a committer for the given API base URL.
func NewHTTPCommitter(baseURL, bearer string) *HTTPCommitter {
	return &HTTPCommitter{
		BaseURL: strings.TrimSuffix(baseURL, "/"),
		Bearer:  bearer,
		HTTP:    &http.Client{},
		KeyFunc: uuid.NewString,
	}
}

// MoveItem submits one move and returns the server's authoritative outcome.
func (c *HTTPCommitter) MoveItem(ctx context.Context, labID string, intent domain.MoveIntent) (*domain.MoveOutcome, error) {
	req := moveRequest{
		Kind:   intent.Kind,
		ItemID: intent.ItemID,
		From:   intent.From,
		To:     intent.To,
		Index:  intent.ToIndex,
	}
	if c.KeyFunc != nil {
		req.IdempotencyKey = c.KeyFunc()
	}
	var resp moveResponse
	if err := c.postJSON(ctx, "/api/labs/"+labID+"/moves", req, &resp); err != nil {
		return nil, err
	}
	return &domain.MoveOutcome{Item: resp.Item, Patches: resp.Patches}, nil
}

// BulkReorder submits a full container ordering and returns the committed
// placements.
func (c *HTTPCommitter) BulkReorder(ctx context.Context, labID, containerID string, orderedIDs []string) ([]domain.Placement, error) {
	var resp reorderResponse
	body := reorderRequest{ContainerID: containerID, OrderedIDs: orderedIDs}
	if err := c.postJSON(ctx, "/api/labs/"+labID+"/reorder", body, &resp); err != nil {
		return nil, err
	}
	return resp.Placements, nil
}

func (c *HTTPCommitter) postJSON(ctx context.Context, path string, body, out any) error {
	payload, err := sonic.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.Bearer != "" {
		req.Header.Set("Authorization", "Bearer "+c.Bearer)
	}

	httpClient := c.HTTP
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return decodeError(resp)
	}
	return sonic.ConfigStd.NewDecoder(resp.Body).Decode(out)
}

// decodeError turns a structured API error back into its domain sentinel so
// callers keep discriminating with errors.Is across the wire.
func decodeError(resp *http.Response) error {
	body, err := io.ReadAll(io.LimitReader(resp.Body, 8*1024))
	if err != nil {
		return fmt.Errorf("http %d: %w", resp.StatusCode, err)
	}
	var apiErr errorResponse
	if uerr := sonic.Unmarshal(body, &apiErr); uerr != nil || apiErr.Error == "" {
		return fmt.Errorf("http %d: %s", resp.StatusCode, bytes.TrimSpace(body))
	}
	switch apiErr.Error {
	case "validation_failed":
		return &domain.ValidationError{Reason: strings.TrimPrefix(apiErr.Message, "invalid request: ")}
	case "item_not_found":
		return fmt.Errorf("%s: %w", apiErr.Message, domain.ErrItemNotFound)
	case "container_not_found":
		return fmt.Errorf("%s: %w", apiErr.Message, domain.ErrContainerNotFound)
	case "container_archived":
		return fmt.Errorf("%s: %w", apiErr.Message, domain.ErrContainerArchived)
	case "cyclic_move":
		return fmt.Errorf("%s: %w", apiErr.Message, domain.ErrCyclicMove)
	case "stale_order":
		return fmt.Errorf("%s: %w", apiErr.Message, domain.ErrStaleOrder)
	case "conflict":
		return fmt.Errorf("%s: %w", apiErr.Message, domain.ErrConflict)
	}
	return fmt.Errorf("http %d: %s: %s", resp.StatusCode, apiErr.Error, apiErr.Message)
}
