package rpc

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/dshills/flowforge/internal/domain"
	"github.com/dshills/flowforge/internal/storage"
)

type eventListParams struct {
	RunID   string `json:"runId"`
	FromSeq int64  `json:"fromSeq"`
	Limit   int    `json:"limit"`
}

func (s *Server) eventList(ctx context.Context, _ *Conn, params json.RawMessage) (any, error) {
	p, err := decodeParams[eventListParams](params)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(p.RunID) == "" {
		return nil, domain.NewError(domain.CodeValidation, "runId is required")
	}
	return s.events.List(ctx, p.RunID, storage.EventRange{FromSeq: p.FromSeq, Limit: p.Limit})
}
