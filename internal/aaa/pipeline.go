// Package aaa chains authentication, authorization, argument validation
// and downstream invocation for one tool call, emitting audit events in
// pipeline order.
package aaa

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/mcp-ambassador/ambassador-go/internal/apperr"
	"github.com/mcp-ambassador/ambassador-go/internal/audit"
	"github.com/mcp-ambassador/ambassador-go/internal/authz"
	"github.com/mcp-ambassador/ambassador-go/internal/downstream"
	"github.com/mcp-ambassador/ambassador-go/internal/keys"
	"github.com/mcp-ambassador/ambassador-go/internal/router"
	"github.com/mcp-ambassador/ambassador-go/internal/validate"
)

// AuthInputs are the credentials extracted from request headers: an API
// key pair or a bearer session token.
type AuthInputs struct {
	APIKey      string
	ClientID    string
	BearerToken string
	SourceIP    string
}

// AuthProvider turns request credentials into a session context.
type AuthProvider interface {
	Authenticate(ctx context.Context, in AuthInputs) (*keys.SessionContext, error)
}

// AuthzProvider decides whether a session's profile may call a tool.
type AuthzProvider interface {
	Authorize(ctx context.Context, profileID, toolName string) (*authz.Decision, error)
}

// ToolRouter resolves and dispatches whitelisted tools.
type ToolRouter interface {
	Lookup(ctx context.Context, userID, clientID, toolName string) (*router.ToolEntry, error)
	Dispatch(ctx context.Context, userID string, tool *router.ToolEntry, args map[string]any) (*downstream.InvocationResult, error)
}

// Auditor receives pipeline events. Add must never block.
type Auditor interface {
	Add(event *audit.Event)
}

// Request is one tool invocation to run through the pipeline.
type Request struct {
	ToolName string
	Args     map[string]any
}

// Pipeline is the gate every tool call passes through. A downstream
// invocation never starts before authorization permits it.
type Pipeline struct {
	auth       AuthProvider
	authorizer AuthzProvider
	router     ToolRouter
	auditor    Auditor
	denied     []*validate.DenyPattern
	logger     *zap.Logger
}

// New builds a pipeline. denied is the gateway-wide disallowed-pattern
// list applied to string arguments.
func New(auth AuthProvider, authorizer AuthzProvider, toolRouter ToolRouter, auditor Auditor, denied []*validate.DenyPattern, logger *zap.Logger) *Pipeline {
	return &Pipeline{
		auth:       auth,
		authorizer: authorizer,
		router:     toolRouter,
		auditor:    auditor,
		denied:     denied,
		logger:     logger.Named("aaa"),
	}
}

func (p *Pipeline) emit(event *audit.Event, session *keys.SessionContext, in AuthInputs) {
	if session != nil {
		event.SessionID = session.SessionID
		event.ClientID = session.ClientID
		event.UserID = session.UserID
	} else {
		event.ClientID = in.ClientID
	}
	event.SourceIP = in.SourceIP
	p.auditor.Add(event)
}

// Authenticate runs only the first stage; HTTP middleware uses it for
// non-invocation endpoints.
func (p *Pipeline) Authenticate(ctx context.Context, in AuthInputs) (*keys.SessionContext, error) {
	session, err := p.auth.Authenticate(ctx, in)
	if err != nil {
		event := audit.NewEvent(audit.EventAuthFailure, audit.SeverityWarn, "authenticate")
		event.Metadata = map[string]string{"error_code": string(apperr.CodeOf(err))}
		p.emit(event, nil, in)
		return nil, err
	}
	event := audit.NewEvent(audit.EventAuthSuccess, audit.SeverityInfo, "authenticate")
	event.Metadata = map[string]string{"auth_method": session.AuthMethod}
	p.emit(event, session, in)
	return session, nil
}

// Invoke runs the full pipeline for one request.
func (p *Pipeline) Invoke(ctx context.Context, req Request, in AuthInputs) (*downstream.InvocationResult, *keys.SessionContext, error) {
	session, err := p.Authenticate(ctx, in)
	if err != nil {
		return nil, nil, err
	}

	decision, err := p.authorizer.Authorize(ctx, session.ProfileID(), req.ToolName)
	if err != nil {
		return nil, session, err
	}
	if !decision.Permit {
		event := audit.NewEvent(audit.EventAuthzDeny, audit.SeverityWarn, req.ToolName)
		event.AuthzDecision = "deny"
		event.AuthzPolicy = decision.PolicyID
		event.Metadata = map[string]string{"reason": decision.Reason}
		p.emit(event, session, in)
		return nil, session, apperr.Newf(apperr.CodeNotAuthorized, "not authorized: %s", decision.Reason)
	}
	event := audit.NewEvent(audit.EventAuthzPermit, audit.SeverityInfo, req.ToolName)
	event.AuthzDecision = "permit"
	event.AuthzPolicy = decision.PolicyID
	p.emit(event, session, in)

	tool, err := p.router.Lookup(ctx, session.UserID, session.ClientID, req.ToolName)
	if err != nil {
		return nil, session, err
	}

	schema, err := validate.ParseInputSchema(tool.InputSchema)
	if err != nil {
		p.logger.Warn("unparseable tool schema",
			zap.String("tool", req.ToolName),
			zap.Error(err))
		schema = nil
	}
	if err := validate.Args(schema, req.Args, p.denied); err != nil {
		event := audit.NewEvent(audit.EventError, audit.SeverityWarn, "validation")
		event.Metadata = map[string]string{
			"tool":       req.ToolName,
			"error_code": string(apperr.CodeOf(err)),
		}
		p.emit(event, session, in)
		return nil, session, err
	}

	started := time.Now()
	result, err := p.router.Dispatch(ctx, session.UserID, tool, req.Args)
	duration := time.Since(started)

	summary := &audit.ResponseSummary{DurationMs: duration.Milliseconds()}
	if err != nil {
		summary.IsError = true
	} else {
		summary.IsError = result.IsError
		if raw, merr := json.Marshal(result.Content); merr == nil {
			summary.Size = len(raw)
		}
	}
	invEvent := audit.NewEvent(audit.EventToolInvocation, audit.SeverityInfo, req.ToolName)
	if summary.IsError {
		invEvent.Severity = audit.SeverityWarn
	}
	invEvent.ResponseSummary = summary
	invEvent.Metadata = map[string]string{"mcp": tool.McpName}
	p.emit(invEvent, session, in)

	if err != nil {
		return nil, session, err
	}
	return result, session, nil
}
