package grpc

import (
	"context"
	"fmt"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/chuan-gyld/ai-firm/coreengine/kernel"
	"github.com/chuan-gyld/ai-firm/coreengine/typeutil"
)

// Client calls a running control service. Used by the ctl subcommands.
type Client struct {
	conn *grpc.ClientConn
	cc   grpc.ClientConnInterface
}

// Dial connects to address without TLS. The control service is meant to
// listen on loopback only.
func Dial(address string, opts ...grpc.DialOption) (*Client, error) {
	all := append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithStatsHandler(otelgrpc.NewClientHandler()),
	}, opts...)
	conn, err := grpc.NewClient(address, all...)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", address, err)
	}
	return &Client{conn: conn, cc: conn}, nil
}

// NewClient wraps an existing connection.
func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

// Close closes the connection opened by Dial.
func (c *Client) Close() error {
	if c.conn == nil {
		return nil
	}
	return c.conn.Close()
}

func (c *Client) call(ctx context.Context, method string, in map[string]any) (map[string]any, error) {
	req, err := structpb.NewStruct(in)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, method, req, out); err != nil {
		return nil, err
	}
	return out.AsMap(), nil
}

// SendCommand queues cmd on the remote orchestrator.
func (c *Client) SendCommand(ctx context.Context, cmd kernel.Command) error {
	req := map[string]any{"kind": string(cmd.Kind)}
	if cmd.Target != "" {
		req["target"] = string(cmd.Target)
	}
	if cmd.Text != "" {
		req["text"] = cmd.Text
	}
	_, err := c.call(ctx, SendCommandMethod, req)
	return err
}

// Dashboard returns the remote dashboard as a JSON-shaped map.
func (c *Client) Dashboard(ctx context.Context) (map[string]any, error) {
	return c.call(ctx, GetDashboardMethod, map[string]any{})
}

// RecentActivity returns up to limit routed envelopes. Zero uses the
// server default.
func (c *Client) RecentActivity(ctx context.Context, limit int) ([]map[string]any, error) {
	resp, err := c.call(ctx, RecentActivityMethod, map[string]any{"limit": limit})
	if err != nil {
		return nil, err
	}
	return typeutil.Maps(resp["envelopes"]), nil
}

// Clarifications returns the items waiting for the operator.
func (c *Client) Clarifications(ctx context.Context) ([]map[string]any, error) {
	resp, err := c.call(ctx, ListClarificationsMethod, map[string]any{})
	if err != nil {
		return nil, err
	}
	return typeutil.Maps(resp["clarifications"]), nil
}
