package backend

import (
	"context"
	"net/http"
)

// RPC calls server-side functions exposed by the table API.
type RPC struct {
	c *Client
}

// NewRPC creates the RPC surface on a shared client.
func NewRPC(c *Client) *RPC {
	return &RPC{c: c}
}

// Call invokes a server-side function with JSON args, decoding the result
// into out when non-nil.
func (r *RPC) Call(ctx context.Context, fn string, args, out any) error {
	return r.c.do(ctx, http.MethodPost, "/rest/v1/rpc/"+fn, nil, nil, args, out)
}
