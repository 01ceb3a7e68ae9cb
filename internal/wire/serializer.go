// Package wire defines the Serializer contract shared by every wire codec
// (binary, protobuf, ...) and dispatches on a Message's Header.Format byte.
package wire

import (
	"fmt"

	"github.com/cdmf/ipc/internal/message"
)

// Serializer converts a Message to and from its wire representation. Each
// Format value named in internal/message has at most one Serializer
// (FormatFlatBuffers has none).
type Serializer interface {
	// Format reports the wire format this Serializer implements.
	Format() message.Format

	// Serialize encodes m into a self-contained byte slice: fixed header,
	// metadata, optional payload, optional error block.
	Serialize(m *message.Message) ([]byte, error)

	// Deserialize decodes a complete wire buffer back into a Message.
	Deserialize(data []byte) (*message.Message, error)
}

// Registry resolves a Format byte to the Serializer that handles it. Both
// transports and the RPC overlay share one Registry instance so a single
// format byte in the header is enough to pick the decoder on the wire.
type Registry struct {
	serializers map[message.Format]Serializer
}

// NewRegistry builds a Registry over the given serializers, keyed by their
// own Format().
func NewRegistry(serializers ...Serializer) *Registry {
	r := &Registry{serializers: make(map[message.Format]Serializer, len(serializers))}
	for _, s := range serializers {
		r.serializers[s.Format()] = s
	}
	return r
}

// For returns the Serializer registered for format, or an error if none is
// registered.
func (r *Registry) For(format message.Format) (Serializer, error) {
	s, ok := r.serializers[format]
	if !ok {
		return nil, fmt.Errorf("wire: no serializer registered for format %d", format)
	}
	return s, nil
}

// Serialize looks up m.Header.Format and serializes with the matching
// Serializer.
func (r *Registry) Serialize(m *message.Message) ([]byte, error) {
	s, err := r.For(m.Header.Format)
	if err != nil {
		return nil, err
	}
	return s.Serialize(m)
}
