package httpapi

import (
	"net/http"
	"strings"

	"github.com/mcp-ambassador/ambassador-go/internal/aaa"
)

// authInputs pulls the pipeline credentials out of the request headers: an
// X-API-Key / X-Client-Id pair, or a bearer session token.
func authInputs(r *http.Request) aaa.AuthInputs {
	in := aaa.AuthInputs{
		APIKey:   r.Header.Get("X-API-Key"),
		ClientID: r.Header.Get("X-Client-Id"),
		SourceIP: sourceIP(r),
	}
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		in.BearerToken = strings.TrimPrefix(auth, "Bearer ")
	}
	return in
}

// handleInvoke runs one tool call through the full authentication,
// authorization, validation and dispatch pipeline.
func (s *Server) handleInvoke(w http.ResponseWriter, r *http.Request) {
	var body struct {
		ToolName  string         `json:"tool_name"`
		Arguments map[string]any `json:"arguments"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, s.logger, err)
		return
	}
	req := aaa.Request{ToolName: body.ToolName, Args: body.Arguments}
	result, _, err := s.pipeline.Invoke(r.Context(), req, authInputs(r))
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeData(w, http.StatusOK, map[string]any{
		"content":  result.Content,
		"is_error": result.IsError,
		"metadata": result.Metadata,
	})
}

// handleListTools returns the caller's visible tool catalog ordered by
// (mcp_name, tool_name).
func (s *Server) handleListTools(w http.ResponseWriter, r *http.Request) {
	session, err := s.pipeline.Authenticate(r.Context(), authInputs(r))
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	catalog, err := s.toolRouter.ToolCatalogFor(r.Context(), session.UserID, session.ClientID)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writePage(w, catalog, &Pagination{TotalCount: len(catalog)})
}
