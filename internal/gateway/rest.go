package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// RESTGateway talks to the managed gateway's admin API over HTTP. It is a
// thin adapter: all decision logic lives in the callers.
type RESTGateway struct {
	baseURL string
	client  *http.Client
}

// NewRESTGateway creates a gateway client for the given admin endpoint.
func NewRESTGateway(baseURL string, timeout time.Duration) *RESTGateway {
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	return &RESTGateway{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

func (g *RESTGateway) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return &UnavailableError{Op: method + " " + path, Err: err}
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, g.baseURL+path, reader)
	if err != nil {
		return &UnavailableError{Op: method + " " + path, Err: err}
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return &UnavailableError{Op: method + " " + path, Err: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return ErrNotFound
	case resp.StatusCode >= 400:
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &UnavailableError{
			Op:  method + " " + path,
			Err: fmt.Errorf("status %d: %s", resp.StatusCode, string(data)),
		}
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return &UnavailableError{Op: method + " " + path, Err: err}
		}
	}
	return nil
}

// Get returns the live plan for an identity, or ErrNotFound.
func (g *RESTGateway) Get(ctx context.Context, id string) (*UsagePlan, error) {
	var plan UsagePlan
	if err := g.do(ctx, http.MethodGet, "/usageplans/"+url.PathEscape(id), nil, &plan); err != nil {
		return nil, err
	}
	return &plan, nil
}

// List returns all live usage plans in the order the gateway reports them.
func (g *RESTGateway) List(ctx context.Context) ([]UsagePlan, error) {
	var result struct {
		Items []UsagePlan `json:"items"`
	}
	if err := g.do(ctx, http.MethodGet, "/usageplans", nil, &result); err != nil {
		return nil, err
	}
	return result.Items, nil
}

// Create provisions a new usage plan and returns its assigned identity.
func (g *RESTGateway) Create(ctx context.Context, in CreateInput) (string, error) {
	var created UsagePlan
	if err := g.do(ctx, http.MethodPost, "/usageplans", in, &created); err != nil {
		return "", err
	}
	if created.ID == "" {
		return "", &UnavailableError{Op: "create", Err: fmt.Errorf("gateway returned no plan id")}
	}
	return created.ID, nil
}

// Patch applies targeted mutations to an existing plan.
func (g *RESTGateway) Patch(ctx context.Context, id string, ops []PatchOp) error {
	body := struct {
		PatchOperations []PatchOp `json:"patchOperations"`
	}{PatchOperations: ops}
	return g.do(ctx, http.MethodPatch, "/usageplans/"+url.PathEscape(id), body, nil)
}

// Delete removes a plan from the gateway.
func (g *RESTGateway) Delete(ctx context.Context, id string) error {
	return g.do(ctx, http.MethodDelete, "/usageplans/"+url.PathEscape(id), nil, nil)
}
