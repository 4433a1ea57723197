package provider

import (
	"context"

	"github.com/bububa/nutrition-agents/schema"
)

// Structured invokes the gateway expecting an output matching obj and returns the parsed value.
// The raw response is returned as well so callers can account usage and build corrective prompts.
func Structured[T any](ctx context.Context, gw Invoker, cfg ModelConfig, req *Request, obj *schema.Object[T]) (*T, *Response, error) {
	req.Schema = obj
	resp, err := gw.Invoke(ctx, cfg, req)
	if err != nil {
		return nil, resp, err
	}
	ret, err := obj.Parse([]byte(resp.Text))
	if err != nil {
		return nil, resp, err
	}
	return ret, resp, nil
}
