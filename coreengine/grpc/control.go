package grpc

import (
	"context"
	"encoding/json"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/chuan-gyld/ai-firm/commbus"
	"github.com/chuan-gyld/ai-firm/coreengine/envelope"
	"github.com/chuan-gyld/ai-firm/coreengine/kernel"
)

// Fully qualified method names of the control service.
const (
	ControlServiceName       = "firm.v1.ControlService"
	SendCommandMethod        = "/" + ControlServiceName + "/SendCommand"
	GetDashboardMethod       = "/" + ControlServiceName + "/GetDashboard"
	RecentActivityMethod     = "/" + ControlServiceName + "/RecentActivity"
	ListClarificationsMethod = "/" + ControlServiceName + "/ListClarifications"
)

// Controller is the part of the orchestrator the control service drives.
type Controller interface {
	SendCommand(cmd kernel.Command) error
	Dashboard() kernel.Dashboard
	Registry() *envelope.Registry
	Clarifications() *kernel.ClarificationQueue
}

// ActivitySource supplies the recent routing log.
type ActivitySource interface {
	RecentActivity(limit int) []*envelope.Envelope
}

// ControlServiceServer is the server API registered by ControlServiceDesc.
type ControlServiceServer interface {
	SendCommand(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	GetDashboard(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	RecentActivity(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	ListClarifications(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
}

// =============================================================================
// SERVICE DESCRIPTOR
// =============================================================================

type structMethod func(ControlServiceServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

func unaryHandler(fullMethod string, call structMethod) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(ControlServiceServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(ControlServiceServer), ctx, req.(*structpb.Struct))
		}
		return interceptor(ctx, in, info, handler)
	}
}

// ControlServiceDesc describes firm.v1.ControlService. Every method takes
// and returns a google.protobuf.Struct.
var ControlServiceDesc = grpc.ServiceDesc{
	ServiceName: ControlServiceName,
	HandlerType: (*ControlServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "SendCommand",
			Handler:    unaryHandler(SendCommandMethod, ControlServiceServer.SendCommand),
		},
		{
			MethodName: "GetDashboard",
			Handler:    unaryHandler(GetDashboardMethod, ControlServiceServer.GetDashboard),
		},
		{
			MethodName: "RecentActivity",
			Handler:    unaryHandler(RecentActivityMethod, ControlServiceServer.RecentActivity),
		},
		{
			MethodName: "ListClarifications",
			Handler:    unaryHandler(ListClarificationsMethod, ControlServiceServer.ListClarifications),
		},
	},
	Streams: []grpc.StreamDesc{},
}

// RegisterControlServer registers srv on s.
func RegisterControlServer(s grpc.ServiceRegistrar, srv ControlServiceServer) {
	s.RegisterService(&ControlServiceDesc, srv)
}

// =============================================================================
// SERVER
// =============================================================================

// ControlServer implements ControlServiceServer on top of an orchestrator.
// Commands are queued, never applied inline.
type ControlServer struct {
	controller Controller
	activity   ActivitySource
	logger     Logger
}

// NewControlServer creates a control server. activity may be nil, in which
// case RecentActivity answers from the dashboard feed.
func NewControlServer(controller Controller, activity ActivitySource, logger Logger) *ControlServer {
	return &ControlServer{
		controller: controller,
		activity:   activity,
		logger:     logger,
	}
}

// SendCommand queues an operator command.
//
// Request fields: kind (required), target (role, optional), text.
func (s *ControlServer) SendCommand(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	fields := req.GetFields()

	kindName := fields["kind"].GetStringValue()
	if strings.TrimSpace(kindName) == "" {
		return nil, InvalidArgument("kind", nil)
	}
	kind, err := kernel.ParseCommandKind(kindName)
	if err != nil {
		return nil, InvalidArgument("kind", err)
	}

	cmd := kernel.Command{
		Kind: kind,
		Text: fields["text"].GetStringValue(),
	}
	if target := strings.TrimSpace(fields["target"].GetStringValue()); target != "" && target != "all" {
		role, err := envelope.ParseRole(target)
		if err != nil {
			return nil, InvalidArgument("target", err)
		}
		cmd.Target = role
	}

	if err := s.controller.SendCommand(cmd); err != nil {
		return nil, commandError(err)
	}

	target := "all"
	if !cmd.IsGlobal() {
		target = string(cmd.Target)
	}
	s.logger.Info("remote_command_queued",
		"command", string(cmd.Kind),
		"target", target,
	)
	return structpb.NewStruct(map[string]any{
		"accepted": true,
		"kind":     string(cmd.Kind),
		"target":   target,
	})
}

// GetDashboard returns the current dashboard.
func (s *ControlServer) GetDashboard(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	out, err := toStruct(s.controller.Dashboard())
	if err != nil {
		return nil, Internal("encode dashboard", err)
	}
	return out, nil
}

// RecentActivity returns up to limit routed envelopes, newest last.
//
// Request fields: limit (optional, defaults to commbus.DefaultActivityLimit).
func (s *ControlServer) RecentActivity(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	limit := commbus.DefaultActivityLimit
	if v, ok := req.GetFields()["limit"]; ok {
		n := v.GetNumberValue()
		if n < 0 || n != float64(int(n)) {
			return nil, InvalidArgument("limit", errInvalidLimit)
		}
		if n > 0 {
			limit = int(n)
		}
	}

	var envelopes []*envelope.Envelope
	if s.activity != nil {
		envelopes = s.activity.RecentActivity(limit)
	} else {
		envelopes = s.controller.Dashboard().Activity
		if len(envelopes) > limit {
			envelopes = envelopes[len(envelopes)-limit:]
		}
	}
	if envelopes == nil {
		envelopes = []*envelope.Envelope{}
	}

	out, err := toStruct(map[string]any{
		"count":     len(envelopes),
		"envelopes": envelopes,
	})
	if err != nil {
		return nil, Internal("encode activity", err)
	}
	return out, nil
}

// ListClarifications returns the pending human questions and milestones.
func (s *ControlServer) ListClarifications(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	pending := s.controller.Clarifications().Pending()
	out, err := toStruct(map[string]any{
		"count":          len(pending),
		"clarifications": pending,
	})
	if err != nil {
		return nil, Internal("encode clarifications", err)
	}
	return out, nil
}

// toStruct converts v to a Struct through its JSON form.
func toStruct(v any) (*structpb.Struct, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return structpb.NewStruct(m)
}
