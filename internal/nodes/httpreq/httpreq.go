// Package httpreq registers the "http.request" node kind: a single
// GET, POST, PUT, DELETE or PATCH call against an arbitrary URL, adapted from the
// teacher's graph/tool HTTPTool into the registry.NodeDefinition
// contract.
package httpreq

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/dshills/flowforge/internal/domain"
	"github.com/dshills/flowforge/internal/registry"
)

// Kind is the registered node kind name.
const Kind = "http.request"

var defaultClient = &http.Client{Timeout: 30 * time.Second}

// Register adds the http.request node definition to reg.
func Register(reg *registry.Registry) {
	reg.Register(registry.NodeDefinition{
		Kind:    Kind,
		Schema:  validate,
		Execute: execute,
	})
}

func validate(config map[string]any) *domain.Error {
	url, _ := config["url"].(string)
	if strings.TrimSpace(url) == "" {
		return domain.NewError(domain.CodeValidation, "http.request config.url is required")
	}
	if method, ok := config["method"].(string); ok && method != "" {
		switch strings.ToUpper(method) {
		case http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodPatch:
		default:
			return domain.NewError(domain.CodeValidation, "http.request config.method %q is not supported", method)
		}
	}
	return nil
}

func execute(ctx context.Context, ectx registry.ExecutionContext) registry.Result {
	config := ectx.Config()
	url, _ := config["url"].(string)
	method := "GET"
	if m, ok := config["method"].(string); ok && m != "" {
		method = strings.ToUpper(m)
	}

	var bodyReader io.Reader
	if body, ok := config["body"].(string); ok && body != "" {
		bodyReader = bytes.NewReader([]byte(body))
	}

	req, err := http.NewRequestWithContext(ctx, method, url, bodyReader)
	if err != nil {
		return registry.Result{Err: domain.NewError(domain.CodeValidation, "http.request: %v", err)}
	}
	if headers, ok := config["headers"].(map[string]any); ok {
		for k, v := range headers {
			req.Header.Set(k, fmt.Sprintf("%v", v))
		}
	}

	resp, err := defaultClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return registry.Result{Err: domain.Wrap(domain.CodeRunCanceled, ctx.Err())}
		}
		return registry.Result{Err: &domain.Error{Code: domain.CodeNetworkFailed, Message: err.Error(), Retryable: true, Cause: err}}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return registry.Result{Err: &domain.Error{Code: domain.CodeNetworkFailed, Message: err.Error(), Retryable: true, Cause: err}}
	}

	outputVar, _ := config["outputVar"].(string)
	if outputVar == "" {
		outputVar = "response"
	}
	out := map[string]any{
		"statusCode": resp.StatusCode,
		"body":       string(data),
	}
	ectx.SetVar(outputVar, out)

	if resp.StatusCode >= 400 {
		return registry.Result{
			Outputs: map[string]any{outputVar: out},
			Err:     domain.NewError(domain.CodeNetworkFailed, "http.request: status %d", resp.StatusCode),
		}
	}
	return registry.Result{Outputs: map[string]any{outputVar: out}}
}
