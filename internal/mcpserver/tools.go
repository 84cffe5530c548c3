package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"odatamcp/internal/api"
	"odatamcp/internal/odata"
	"odatamcp/pkg/logging"
)

// Tool names.
const (
	ToolDiscoverServices = "sap_discover_services"
	ToolGetMetadata      = "sap_get_metadata"
	ToolReadEntitySet    = "sap_read_entity_set"
	ToolReadEntity       = "sap_read_entity"
	ToolCreateEntity     = "sap_create_entity"
	ToolUpdateEntity     = "sap_update_entity"
	ToolDeleteEntity     = "sap_delete_entity"
)

// Scopes session callers need for modifying tools.
const (
	scopeWrite  = "write"
	scopeDelete = "delete"
)

// toolResult is the JSON document returned by data tools.
type toolResult struct {
	Destination string      `json:"destination"`
	Propagation string      `json:"propagation,omitempty"`
	Status      int         `json:"status"`
	Data        interface{} `json:"data,omitempty"`
}

func servicePathArg() mcp.ToolOption {
	return mcp.WithString("service_path",
		mcp.Required(),
		mcp.Description("OData service root, e.g. /sap/opu/odata/sap/API_BUSINESS_PARTNER"),
	)
}

func entitySetArg() mcp.ToolOption {
	return mcp.WithString("entity_set",
		mcp.Required(),
		mcp.Description("Entity set name, e.g. A_BusinessPartner"),
	)
}

func keyArg() mcp.ToolOption {
	return mcp.WithString("key",
		mcp.Required(),
		mcp.Description("Entity key: a bare value ('1000') or key predicates (BusinessPartner='1000')"),
	)
}

func dataArg(description string) mcp.ToolOption {
	return mcp.WithObject("data",
		mcp.Required(),
		mcp.Description(description),
	)
}

func (s *Server) registerTools() {
	s.mcp.AddTool(mcp.NewTool(ToolDiscoverServices,
		mcp.WithDescription("List the OData services published in the SAP Gateway catalog"),
		mcp.WithString("filter", mcp.Description("OData $filter on the catalog, e.g. substringof('BUSINESS',Title)")),
		mcp.WithString("search", mcp.Description("Free-text search on the catalog")),
		mcp.WithNumber("top", mcp.Description("Maximum number of services to return")),
	), s.handleDiscover)

	s.mcp.AddTool(mcp.NewTool(ToolGetMetadata,
		mcp.WithDescription("Fetch the $metadata document (EDMX) of an OData service"),
		servicePathArg(),
	), s.handleMetadata)

	s.mcp.AddTool(mcp.NewTool(ToolReadEntitySet,
		mcp.WithDescription("Query an entity set with OData system query options"),
		servicePathArg(),
		entitySetArg(),
		mcp.WithString("filter", mcp.Description("$filter expression")),
		mcp.WithString("select", mcp.Description("Comma-separated properties for $select")),
		mcp.WithString("expand", mcp.Description("Comma-separated navigation properties for $expand")),
		mcp.WithString("orderby", mcp.Description("$orderby expression")),
		mcp.WithNumber("top", mcp.Description("$top")),
		mcp.WithNumber("skip", mcp.Description("$skip")),
		mcp.WithBoolean("count", mcp.Description("Include the total count")),
	), s.handleReadEntitySet)

	s.mcp.AddTool(mcp.NewTool(ToolReadEntity,
		mcp.WithDescription("Read a single entity by key"),
		servicePathArg(),
		entitySetArg(),
		keyArg(),
		mcp.WithString("select", mcp.Description("Comma-separated properties for $select")),
		mcp.WithString("expand", mcp.Description("Comma-separated navigation properties for $expand")),
	), s.handleReadEntity)

	s.mcp.AddTool(mcp.NewTool(ToolCreateEntity,
		mcp.WithDescription("Create an entity. Runs as the signed-in user."),
		servicePathArg(),
		entitySetArg(),
		dataArg("Properties of the new entity"),
	), s.handleCreateEntity)

	s.mcp.AddTool(mcp.NewTool(ToolUpdateEntity,
		mcp.WithDescription("Update properties of an entity (PATCH). Runs as the signed-in user."),
		servicePathArg(),
		entitySetArg(),
		keyArg(),
		dataArg("Properties to change"),
	), s.handleUpdateEntity)

	s.mcp.AddTool(mcp.NewTool(ToolDeleteEntity,
		mcp.WithDescription("Delete an entity. Runs as the signed-in user."),
		servicePathArg(),
		entitySetArg(),
		keyArg(),
	), s.handleDeleteEntity)
}

func (s *Server) handleDiscover(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	auth, err := s.authorize(ctx, "")
	if err != nil {
		return toolError(ToolDiscoverServices, err), nil
	}

	opts := odata.QueryOptions{
		Filter: request.GetString("filter", ""),
		Search: request.GetString("search", ""),
		Top:    request.GetInt("top", 0),
	}
	resp, err := s.backend.Discover(ctx, auth, opts)
	return dataResult(ToolDiscoverServices, auth, resp, err)
}

func (s *Server) handleMetadata(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	servicePath, err := request.RequireString("service_path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	auth, err := s.authorize(ctx, "")
	if err != nil {
		return toolError(ToolGetMetadata, err), nil
	}

	resp, err := s.backend.Metadata(ctx, auth, servicePath)
	if err != nil {
		return toolError(ToolGetMetadata, err), nil
	}
	logCall(ToolGetMetadata, auth, resp)
	return mcp.NewToolResultText(string(resp.Body)), nil
}

func (s *Server) handleReadEntitySet(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	servicePath, entitySet, err := target(request)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	auth, err := s.authorize(ctx, "")
	if err != nil {
		return toolError(ToolReadEntitySet, err), nil
	}

	opts := odata.QueryOptions{
		Filter:  request.GetString("filter", ""),
		Select:  splitList(request.GetString("select", "")),
		Expand:  splitList(request.GetString("expand", "")),
		OrderBy: request.GetString("orderby", ""),
		Top:     request.GetInt("top", 0),
		Skip:    request.GetInt("skip", 0),
		Count:   request.GetBool("count", false),
	}
	resp, err := s.backend.ReadEntitySet(ctx, auth, servicePath, entitySet, opts)
	return dataResult(ToolReadEntitySet, auth, resp, err)
}

func (s *Server) handleReadEntity(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	servicePath, entitySet, err := target(request)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	key, err := request.RequireString("key")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	auth, err := s.authorize(ctx, "")
	if err != nil {
		return toolError(ToolReadEntity, err), nil
	}

	opts := odata.QueryOptions{
		Select: splitList(request.GetString("select", "")),
		Expand: splitList(request.GetString("expand", "")),
	}
	resp, err := s.backend.ReadEntity(ctx, auth, servicePath, entitySet, key, opts)
	return dataResult(ToolReadEntity, auth, resp, err)
}

func (s *Server) handleCreateEntity(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	servicePath, entitySet, err := target(request)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	data, err := objectArg(request, "data")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	auth, err := s.authorize(ctx, scopeWrite)
	if err != nil {
		return toolError(ToolCreateEntity, err), nil
	}

	resp, err := s.backend.CreateEntity(ctx, auth, servicePath, entitySet, data)
	return dataResult(ToolCreateEntity, auth, resp, err)
}

func (s *Server) handleUpdateEntity(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	servicePath, entitySet, err := target(request)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	key, err := request.RequireString("key")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	data, err := objectArg(request, "data")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	auth, err := s.authorize(ctx, scopeWrite)
	if err != nil {
		return toolError(ToolUpdateEntity, err), nil
	}

	resp, err := s.backend.UpdateEntity(ctx, auth, servicePath, entitySet, key, data)
	return dataResult(ToolUpdateEntity, auth, resp, err)
}

func (s *Server) handleDeleteEntity(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	servicePath, entitySet, err := target(request)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	key, err := request.RequireString("key")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	auth, err := s.authorize(ctx, scopeDelete)
	if err != nil {
		return toolError(ToolDeleteEntity, err), nil
	}

	resp, err := s.backend.DeleteEntity(ctx, auth, servicePath, entitySet, key)
	return dataResult(ToolDeleteEntity, auth, resp, err)
}

func target(request mcp.CallToolRequest) (servicePath, entitySet string, err error) {
	if servicePath, err = request.RequireString("service_path"); err != nil {
		return "", "", err
	}
	if entitySet, err = request.RequireString("entity_set"); err != nil {
		return "", "", err
	}
	return servicePath, entitySet, nil
}

// objectArg accepts a JSON object or a string holding one.
func objectArg(request mcp.CallToolRequest, name string) (map[string]interface{}, error) {
	switch v := request.GetArguments()[name].(type) {
	case map[string]interface{}:
		return v, nil
	case string:
		var obj map[string]interface{}
		if err := json.Unmarshal([]byte(v), &obj); err != nil {
			return nil, fmt.Errorf("argument %q must be a JSON object", name)
		}
		return obj, nil
	case nil:
		return nil, fmt.Errorf("required argument %q not found", name)
	default:
		return nil, fmt.Errorf("argument %q must be a JSON object", name)
	}
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func dataResult(tool string, auth api.AuthContext, resp *odata.Response, err error) (*mcp.CallToolResult, error) {
	if err != nil {
		return toolError(tool, err), nil
	}
	logCall(tool, auth, resp)

	data, err := resp.Data()
	if err != nil {
		return toolError(tool, &api.BackendError{Status: resp.Status, Message: "backend returned a non-JSON response", Err: err}), nil
	}

	out, err := json.MarshalIndent(toolResult{
		Destination: resp.Destination,
		Propagation: string(resp.Propagation),
		Status:      resp.Status,
		Data:        data,
	}, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to format result: %v", err)), nil
	}
	return mcp.NewToolResultText(string(out)), nil
}

// toolError renders err as "<kind>: <message>"; internals stay in the log.
func toolError(tool string, err error) *mcp.CallToolResult {
	logging.Logger().Debug("Tool call failed", "subsystem", "MCP", "tool", tool, "error", err)
	return mcp.NewToolResultError(api.Kind(err) + ": " + api.PublicMessage(err))
}

func logCall(tool string, auth api.AuthContext, resp *odata.Response) {
	logging.Logger().Debug("Tool call",
		"subsystem", "MCP",
		"tool", tool,
		"auth", auth,
		"destination", resp.Destination,
		"propagation", string(resp.Propagation),
		"status", resp.Status)
}
