package sandbox

import (
	"context"

	"github.com/cdmf/ipc/internal/message"
	"github.com/cdmf/ipc/internal/rpc/stub"
)

// HandlerFunc processes one decoded ControlMessage and returns the
// reply to encode back onto the wire.
type HandlerFunc func(ctx context.Context, peer string, msg ControlMessage) (ControlMessage, error)

// Register binds fn as the sandbox control-plane method on s, handling
// the JSON decode/encode around the stub.HandlerFunc contract.
func Register(s *stub.Stub, fn HandlerFunc) {
	s.Handle(method, func(ctx context.Context, peer string, req *message.Message) ([]byte, error) {
		msg, err := Decode(req.Payload)
		if err != nil {
			return nil, err
		}
		reply, err := fn(ctx, peer, msg)
		if err != nil {
			return nil, err
		}
		return reply.Encode()
	})
}
