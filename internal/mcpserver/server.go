// Package mcpserver provides an MCP (Model Context Protocol) server
// that exposes raido record tools for LLM integration via stdio transport.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/starford/raido/internal/api"
	"github.com/starford/raido/internal/models"
	"github.com/starford/raido/internal/store"
)

const formatURI = "raido://record-format"

// Server wraps the MCP server with raido tools.
type Server struct {
	mcp *server.MCPServer
	svc *api.Service
}

// New creates a new MCP server with all raido tools registered. counts
// may be nil.
func New(st store.Store, counts api.Counter) *Server {
	s := &Server{svc: api.NewService(st, counts, nil)}

	s.mcp = server.NewMCPServer(
		"Raido",
		"1.0.0",
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)

	s.mcp.AddTool(mcp.NewTool("describe_model",
		mcp.WithDescription("List the entities of the store with their attributes and record counts."),
	), s.describeModel)

	s.mcp.AddTool(mcp.NewTool("fetch_records",
		mcp.WithDescription("Fetch the records of one entity. Records that cannot be read are listed under errors."),
		mcp.WithString("entity", mcp.Required(), mcp.Description("Entity name (e.g. Note)")),
		mcp.WithString("result", mcp.Description("objects (default) or ids")),
		mcp.WithNumber("limit", mcp.Description("Maximum number of results; 0 for all")),
	), s.fetchRecords)

	s.mcp.AddTool(mcp.NewTool("get_record",
		mcp.WithDescription("Read the values of one record."),
		mcp.WithString("entity", mcp.Required(), mcp.Description("Entity name")),
		mcp.WithString("ref", mcp.Required(), mcp.Description("Record ref (UUID)")),
	), s.getRecord)

	s.mcp.AddTool(mcp.NewTool("save_records",
		mcp.WithDescription("Insert, update and delete records in one save. "+
			"Values MUST follow the record format; read the "+formatURI+" resource first."),
		mcp.WithString("changes", mcp.Required(), mcp.Description(
			`JSON object {"inserted":[{entity,values}],"updated":[{entity,ref,values}],"deleted":[{entity,ref}]}`)),
	), s.saveRecords)

	s.mcp.AddResource(
		mcp.NewResource(formatURI, "Record Format",
			mcp.WithResourceDescription("How records are stored and how attribute values are encoded in tool arguments."),
			mcp.WithMIMEType("text/markdown"),
		),
		s.readFormatResource,
	)

	return s
}

// ServeStdio starts the MCP server on stdin/stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcp)
}

// MCPServer returns the underlying server for testing.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcp
}

func jsonResult(v any) *mcp.CallToolResult {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(err.Error())
	}
	return mcp.NewToolResultText(string(out))
}

func (s *Server) describeModel(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	entities, err := s.svc.Entities(ctx)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(api.EntityListResponse{Entities: entities}), nil
}

func (s *Server) fetchRecords(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	entity, err := req.RequireString("entity")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	resultType := store.ResultType(req.GetString("result", string(store.ResultObjects)))
	limit := req.GetInt("limit", 0)
	if limit < 0 {
		return mcp.NewToolResultError("limit must not be negative"), nil
	}

	res, err := s.svc.ListRecords(ctx, entity, resultType, limit)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(res), nil
}

func (s *Server) getRecord(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	entity, err := req.RequireString("entity")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	ref, err := req.RequireString("ref")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	rec, err := s.svc.GetRecord(ctx, models.ObjectID{Entity: entity, Ref: ref})
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(rec), nil
}

func (s *Server) saveRecords(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	raw, err := req.RequireString("changes")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	dec := json.NewDecoder(strings.NewReader(raw))
	dec.UseNumber()
	var changes api.SaveRecordsRequest
	if err := dec.Decode(&changes); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid changes JSON: %v", err)), nil
	}
	if err := changes.Validate(); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	res, err := s.svc.Save(ctx, changes)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	out := jsonResult(res)
	if len(res.Failed) > 0 && len(res.Inserted)+len(res.Updated)+len(res.Deleted) == 0 {
		out.IsError = true
	}
	return out, nil
}

func (s *Server) readFormatResource(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      formatURI,
			MIMEType: "text/markdown",
			Text:     RecordFormatContract,
		},
	}, nil
}
