package stream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/banshee-data/anchorplace/internal/session"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

// SubscribeMethod is the full gRPC method name of the event stream.
const SubscribeMethod = "/anchorplace.EventStream/Subscribe"

// eventStreamServer is the server side of anchorplace.EventStream.
type eventStreamServer interface {
	Subscribe(*emptypb.Empty, grpc.ServerStream) error
}

var eventStreamServiceDesc = grpc.ServiceDesc{
	ServiceName: "anchorplace.EventStream",
	HandlerType: (*eventStreamServer)(nil),
	Methods:     []grpc.MethodDesc{},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "Subscribe",
			Handler:       subscribeHandler,
			ServerStreams: true,
		},
	},
	Metadata: "anchorplace/event_stream.proto",
}

func subscribeHandler(srv interface{}, stream grpc.ServerStream) error {
	req := new(emptypb.Empty)
	if err := stream.RecvMsg(req); err != nil {
		return err
	}
	return srv.(eventStreamServer).Subscribe(req, stream)
}

// Subscribe streams every event published after the call until the client
// goes away or the publisher stops.
func (p *Publisher) Subscribe(_ *emptypb.Empty, stream grpc.ServerStream) error {
	c, err := p.addClient()
	if err != nil {
		return status.Error(codes.ResourceExhausted, err.Error())
	}
	defer p.removeClient(c.id)

	ctx := stream.Context()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-p.stopCh:
			return nil
		case msg := <-c.events:
			if err := stream.SendMsg(msg); err != nil {
				logf("Send error to %s: %v", c.id, err)
				return err
			}
		}
	}
}

// Subscription receives events from a remote publisher.
type Subscription struct {
	stream grpc.ClientStream
}

// Subscribe opens an event subscription over conn.
func Subscribe(ctx context.Context, conn grpc.ClientConnInterface) (*Subscription, error) {
	cs, err := conn.NewStream(ctx, &eventStreamServiceDesc.Streams[0], SubscribeMethod)
	if err != nil {
		return nil, fmt.Errorf("open event stream: %w", err)
	}
	// io.EOF means the server already ended the stream; Recv reports why.
	if err := cs.SendMsg(&emptypb.Empty{}); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("send subscribe request: %w", err)
	}
	if err := cs.CloseSend(); err != nil {
		return nil, fmt.Errorf("close send: %w", err)
	}
	return &Subscription{stream: cs}, nil
}

// Recv blocks for the next event. It returns io.EOF when the server ends
// the stream.
func (s *Subscription) Recv() (session.Event, error) {
	msg := new(structpb.Struct)
	if err := s.stream.RecvMsg(msg); err != nil {
		if errors.Is(err, io.EOF) {
			return session.Event{}, io.EOF
		}
		return session.Event{}, err
	}
	return EventFromStruct(msg)
}

// EventToStruct encodes ev as a protobuf Struct. Empty optional fields are
// omitted and the time is RFC 3339 with nanoseconds.
func EventToStruct(ev session.Event) (*structpb.Struct, error) {
	fields := map[string]interface{}{
		"id":                  ev.ID,
		"session_id":          ev.SessionID,
		"kind":                string(ev.Kind),
		"time":                ev.Time.UTC().Format(time.RFC3339Nano),
		"instances_issued":    ev.InstancesIssued,
		"instances_remaining": ev.InstancesRemaining,
	}
	for k, v := range map[string]string{
		"object_id": ev.ObjectID,
		"source":    ev.Source,
		"reason":    ev.Reason,
		"detail":    ev.Detail,
	} {
		if v != "" {
			fields[k] = v
		}
	}
	return structpb.NewStruct(fields)
}

// EventFromStruct decodes a Struct produced by EventToStruct.
func EventFromStruct(s *structpb.Struct) (session.Event, error) {
	f := s.GetFields()
	str := func(k string) string { return f[k].GetStringValue() }
	ev := session.Event{
		ID:                 str("id"),
		SessionID:          str("session_id"),
		Kind:               session.Kind(str("kind")),
		ObjectID:           str("object_id"),
		Source:             str("source"),
		Reason:             str("reason"),
		Detail:             str("detail"),
		InstancesIssued:    int(f["instances_issued"].GetNumberValue()),
		InstancesRemaining: int(f["instances_remaining"].GetNumberValue()),
	}
	if raw := str("time"); raw != "" {
		t, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			return session.Event{}, fmt.Errorf("parse event time %q: %w", raw, err)
		}
		ev.Time = t
	}
	if ev.Kind == "" {
		return session.Event{}, fmt.Errorf("event %q has no kind", ev.ID)
	}
	return ev, nil
}
