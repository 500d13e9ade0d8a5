// Package mcpserver provides an MCP (Model Context Protocol) server
// that exposes folio build tools for LLM integration via stdio transport.
package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/starford/folio/internal/apperr"
	"github.com/starford/folio/internal/siteservice"
	"github.com/starford/folio/internal/tracker"
)

// TrackedFilesURI names the resource listing every tracked source.
const TrackedFilesURI = "folio://tracked-files"

// Server wraps the MCP server with folio tools.
type Server struct {
	mcp *server.MCPServer
	svc *siteservice.Service
}

// New creates a new MCP server with all folio tools registered.
func New(svc *siteservice.Service, version string) *Server {
	s := &Server{svc: svc}

	s.mcp = server.NewMCPServer(
		"folio",
		version,
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)

	s.mcp.AddTool(mcp.NewTool("list_tracked_files",
		mcp.WithDescription("List the source files recorded by the incremental build store, "+
			"with checksum, creation and modification times and tags."),
		mcp.WithString("tag", mcp.Description("Optional tag to filter by")),
	), s.listTrackedFiles)

	s.mcp.AddTool(mcp.NewTool("get_tracked_file",
		mcp.WithDescription("Return the tracked entry of one source file."),
		mcp.WithString("path", mcp.Required(), mcp.Description("Path relative to the source root (e.g. blog/post.md)")),
	), s.getTrackedFile)

	s.mcp.AddTool(mcp.NewTool("rebuild_site",
		mcp.WithDescription("Run an incremental build and return its report. "+
			"Only new or modified sources are rendered unless force is set."),
		mcp.WithBoolean("force", mcp.Description("Render every page regardless of its tracked state")),
	), s.rebuildSite)

	s.mcp.AddResource(
		mcp.NewResource(TrackedFilesURI, "Tracked files",
			mcp.WithResourceDescription("Every source file known to the incremental build store."),
			mcp.WithMIMEType("application/json"),
		),
		s.readTrackedFilesResource,
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

func jsonResult(v any) (*mcp.CallToolResult, error) {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(string(out)), nil
}

func (s *Server) listTrackedFiles(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	tag := ""
	if t, err := req.RequireString("tag"); err == nil {
		tag = t
	}

	entries, err := s.svc.Files(ctx)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	out := []tracker.Entry{}
	for _, e := range entries {
		if tag == "" || slices.Contains(e.Tags, tag) {
			out = append(out, e)
		}
	}
	return jsonResult(out)
}

func (s *Server) getTrackedFile(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := req.RequireString("path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	e, err := s.svc.File(ctx, path)
	if errors.Is(err, apperr.ErrNotFound) {
		return mcp.NewToolResultError(fmt.Sprintf("not tracked: %s", path)), nil
	}
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(e)
}

func (s *Server) rebuildSite(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	force := false
	if f, err := req.RequireBool("force"); err == nil {
		force = f
	}
	rep, err := s.svc.Build(ctx, force)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(rep)
}

func (s *Server) readTrackedFilesResource(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	entries, err := s.svc.Files(ctx)
	if err != nil {
		return nil, err
	}
	out, err := json.Marshal(entries)
	if err != nil {
		return nil, err
	}
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      TrackedFilesURI,
			MIMEType: "application/json",
			Text:     string(out),
		},
	}, nil
}
