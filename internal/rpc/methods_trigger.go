package rpc

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/dshills/flowforge/internal/domain"
)

func (s *Server) triggerList(ctx context.Context, _ *Conn, _ json.RawMessage) (any, error) {
	return s.triggers.List(ctx)
}

type triggerIDParams struct {
	ID string `json:"id"`
}

func (s *Server) triggerGet(ctx context.Context, _ *Conn, params json.RawMessage) (any, error) {
	p, err := decodeParams[triggerIDParams](params)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(p.ID) == "" {
		return nil, domain.NewError(domain.CodeValidation, "id is required")
	}
	return s.triggers.Get(ctx, p.ID)
}

type triggerSaveParams struct {
	Trigger domain.TriggerSpec `json:"trigger"`
}

func (s *Server) triggerSave(ctx context.Context, _ *Conn, params json.RawMessage) (any, error) {
	p, err := decodeParams[triggerSaveParams](params)
	if err != nil {
		return nil, err
	}
	spec := p.Trigger
	now := time.Now()
	if strings.TrimSpace(spec.ID) == "" {
		spec.ID = uuid.NewString()
		spec.CreatedAt = now
	} else if existing, getErr := s.triggers.Get(ctx, spec.ID); getErr == nil && existing != nil {
		spec.CreatedAt = existing.CreatedAt
	} else {
		spec.CreatedAt = now
	}
	spec.UpdatedAt = now
	spec.SchemaVersion = domain.SchemaVersion

	if derr := spec.Validate(); derr != nil {
		return nil, derr
	}
	if err := s.triggers.Save(ctx, &spec); err != nil {
		return nil, err
	}
	if s.triggerMgr != nil {
		_ = s.triggerMgr.Refresh(ctx)
	}
	return &spec, nil
}

func (s *Server) triggerDelete(ctx context.Context, _ *Conn, params json.RawMessage) (any, error) {
	p, err := decodeParams[triggerIDParams](params)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(p.ID) == "" {
		return nil, domain.NewError(domain.CodeValidation, "id is required")
	}
	if err := s.triggers.Delete(ctx, p.ID); err != nil {
		return nil, err
	}
	if s.triggerMgr != nil {
		_ = s.triggerMgr.Refresh(ctx)
	}
	return map[string]bool{"deleted": true}, nil
}

func (s *Server) triggerSetEnabled(enabled bool) methodFunc {
	return func(ctx context.Context, _ *Conn, params json.RawMessage) (any, error) {
		p, err := decodeParams[triggerIDParams](params)
		if err != nil {
			return nil, err
		}
		spec, err := s.triggers.Get(ctx, p.ID)
		if err != nil {
			return nil, err
		}
		spec.Enabled = enabled
		spec.UpdatedAt = time.Now()
		if err := s.triggers.Save(ctx, spec); err != nil {
			return nil, err
		}
		if s.triggerMgr != nil {
			_ = s.triggerMgr.Refresh(ctx)
		}
		return spec, nil
	}
}

func (s *Server) triggerFire(ctx context.Context, _ *Conn, params json.RawMessage) (any, error) {
	p, err := decodeParams[triggerIDParams](params)
	if err != nil {
		return nil, err
	}
	if s.triggerMgr == nil {
		return nil, domain.NewError(domain.CodeInternal, "trigger manager not wired")
	}
	if err := s.triggerMgr.Fire(ctx, p.ID); err != nil {
		return nil, err
	}
	return map[string]bool{"fired": true}, nil
}
