package odata

import (
	"context"
	"net/http"

	"odatamcp/internal/api"
	"odatamcp/internal/destination"
)

// ReadEntitySet reads a collection.
func (c *Client) ReadEntitySet(ctx context.Context, auth api.AuthContext, servicePath, entitySet string, opts QueryOptions) (*Response, error) {
	return c.ExecuteRequest(ctx, Request{
		Method: http.MethodGet,
		Path:   joinPath(servicePath, entitySet),
		Query:  opts.Values(),
		Auth:   auth,
	})
}

// ReadEntity reads one entity by key.
func (c *Client) ReadEntity(ctx context.Context, auth api.AuthContext, servicePath, entitySet, key string, opts QueryOptions) (*Response, error) {
	return c.ExecuteRequest(ctx, Request{
		Method: http.MethodGet,
		Path:   joinPath(servicePath, entityPath(entitySet, key)),
		Query:  opts.Values(),
		Auth:   auth,
	})
}

// CreateEntity posts a new entity.
func (c *Client) CreateEntity(ctx context.Context, auth api.AuthContext, servicePath, entitySet string, data interface{}) (*Response, error) {
	return c.ExecuteRequest(ctx, Request{
		Method: http.MethodPost,
		Path:   joinPath(servicePath, entitySet),
		Body:   data,
		Auth:   auth,
	})
}

// UpdateEntity patches an entity.
func (c *Client) UpdateEntity(ctx context.Context, auth api.AuthContext, servicePath, entitySet, key string, data interface{}) (*Response, error) {
	return c.ExecuteRequest(ctx, Request{
		Method: http.MethodPatch,
		Path:   joinPath(servicePath, entityPath(entitySet, key)),
		Body:   data,
		Auth:   auth,
	})
}

// DeleteEntity deletes an entity.
func (c *Client) DeleteEntity(ctx context.Context, auth api.AuthContext, servicePath, entitySet, key string) (*Response, error) {
	return c.ExecuteRequest(ctx, Request{
		Method: http.MethodDelete,
		Path:   joinPath(servicePath, entityPath(entitySet, key)),
		Auth:   auth,
	})
}

// Discover lists the services in the gateway catalog.
func (c *Client) Discover(ctx context.Context, auth api.AuthContext, opts QueryOptions) (*Response, error) {
	return c.ExecuteRequest(ctx, Request{
		Method:  http.MethodGet,
		Path:    c.catalogPath,
		Query:   opts.Values(),
		Auth:    auth,
		Context: &destination.Context{Type: destination.DesignTime, Operation: destination.OpDiscovery},
	})
}

// Metadata fetches the service's $metadata document.
func (c *Client) Metadata(ctx context.Context, auth api.AuthContext, servicePath string) (*Response, error) {
	return c.ExecuteRequest(ctx, Request{
		Method: http.MethodGet,
		Path:   joinPath(servicePath, "$metadata"),
		Auth:   auth,
	})
}
