package rpc

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/dshills/flowforge/internal/domain"
)

func (s *Server) flowList(ctx context.Context, _ *Conn, _ json.RawMessage) (any, error) {
	return s.flows.List(ctx)
}

type flowGetParams struct {
	ID string `json:"id"`
}

func (s *Server) flowGet(ctx context.Context, _ *Conn, params json.RawMessage) (any, error) {
	p, err := decodeParams[flowGetParams](params)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(p.ID) == "" {
		return nil, domain.NewError(domain.CodeValidation, "id is required")
	}
	return s.flows.Get(ctx, p.ID)
}

type flowSaveParams struct {
	Flow domain.Flow `json:"flow"`
}

// flowSave creates a new Flow when Flow.ID is empty or unknown, and
// overwrites an existing one otherwise. Flows with duplicate node or
// edge endpoint references are rejected by domain.Flow.Validate before
// any write.
func (s *Server) flowSave(ctx context.Context, _ *Conn, params json.RawMessage) (any, error) {
	p, err := decodeParams[flowSaveParams](params)
	if err != nil {
		return nil, err
	}
	flow := p.Flow
	flow.Name = strings.TrimSpace(flow.Name)
	if flow.Name == "" {
		return nil, domain.NewError(domain.CodeValidation, "flow name is required")
	}
	now := time.Now()
	if strings.TrimSpace(flow.ID) == "" {
		flow.ID = uuid.NewString()
		flow.CreatedAt = now
	} else if existing, getErr := s.flows.Get(ctx, flow.ID); getErr == nil && existing != nil {
		flow.CreatedAt = existing.CreatedAt
	} else {
		flow.CreatedAt = now
	}
	flow.UpdatedAt = now
	flow.SchemaVersion = domain.SchemaVersion

	if derr := flow.Validate(); derr != nil {
		return nil, derr
	}
	if err := s.flows.Save(ctx, &flow); err != nil {
		return nil, err
	}
	return &flow, nil
}

func (s *Server) flowDelete(ctx context.Context, _ *Conn, params json.RawMessage) (any, error) {
	p, err := decodeParams[flowGetParams](params)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(p.ID) == "" {
		return nil, domain.NewError(domain.CodeValidation, "id is required")
	}
	if err := s.flows.Delete(ctx, p.ID); err != nil {
		return nil, err
	}
	return map[string]bool{"deleted": true}, nil
}
