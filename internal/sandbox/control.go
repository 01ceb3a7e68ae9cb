// Package sandbox gives the sandbox control-plane envelope (spec.md §6)
// a concrete Go binding over the proxy/stub RPC overlay: a typed
// ControlMessage struct, the module-lifecycle type codes, and a thin
// Dispatch helper that JSON-marshals it through proxy.Proxy.Call.
// Grounded on the teacher's original fastjson Request/Response shape in
// internal/arpc/arpc.go — the same "typed envelope over an RPC call"
// pattern, narrowed to the sandbox's specific message.
package sandbox

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cdmf/ipc/internal/rpc/proxy"
)

// Type enumerates the sandbox control-plane message kinds, per spec.md §6.
type Type uint32

const (
	TypeLoadModule     Type = 1
	TypeModuleLoaded   Type = 2
	TypeStartModule    Type = 3
	TypeModuleStarted  Type = 4
	TypeStopModule     Type = 5
	TypeModuleStopped  Type = 6
	TypeCallService    Type = 10
	TypeServiceResponse Type = 11
	TypeHeartbeat      Type = 20
	TypeStatusQuery    Type = 21
	TypeStatusReport   Type = 22
	TypeShutdown       Type = 30
	TypeError          Type = 31
)

func (t Type) String() string {
	switch t {
	case TypeLoadModule:
		return "LOAD_MODULE"
	case TypeModuleLoaded:
		return "MODULE_LOADED"
	case TypeStartModule:
		return "START_MODULE"
	case TypeModuleStarted:
		return "MODULE_STARTED"
	case TypeStopModule:
		return "STOP_MODULE"
	case TypeModuleStopped:
		return "MODULE_STOPPED"
	case TypeCallService:
		return "CALL_SERVICE"
	case TypeServiceResponse:
		return "SERVICE_RESPONSE"
	case TypeHeartbeat:
		return "HEARTBEAT"
	case TypeStatusQuery:
		return "STATUS_QUERY"
	case TypeStatusReport:
		return "STATUS_REPORT"
	case TypeShutdown:
		return "SHUTDOWN"
	case TypeError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// ControlMessage is the JSON envelope spec.md §6 defines for the sandbox
// control plane: `{type, moduleId, payload, requestId, errorCode}`.
type ControlMessage struct {
	Type      Type   `json:"type"`
	ModuleID  string `json:"moduleId"`
	Payload   string `json:"payload"`
	RequestID uint64 `json:"requestId"`
	ErrorCode int32  `json:"errorCode"`
}

// Encode marshals m to its wire JSON form.
func (m ControlMessage) Encode() ([]byte, error) {
	return json.Marshal(m)
}

// Decode parses b into a ControlMessage.
func Decode(b []byte) (ControlMessage, error) {
	var m ControlMessage
	if err := json.Unmarshal(b, &m); err != nil {
		return ControlMessage{}, fmt.Errorf("sandbox: decode control message: %w", err)
	}
	return m, nil
}

// method is the RPC method name every control-plane call is sent under;
// the ControlMessage.Type field carries the actual operation.
const method = "sandbox.control"

// Dispatch sends msg as a REQUEST's JSON payload over p and decodes the
// RESPONSE back into a ControlMessage, giving the wire-format table in
// spec.md §6 a call-shaped entry point instead of a bare byte contract.
func Dispatch(ctx context.Context, p *proxy.Proxy, msg ControlMessage, timeout time.Duration) (ControlMessage, error) {
	body, err := msg.Encode()
	if err != nil {
		return ControlMessage{}, fmt.Errorf("sandbox: encode control message: %w", err)
	}

	res, err := p.Call(ctx, method, body, timeout)
	if err != nil {
		return ControlMessage{}, err
	}
	if !res.Success {
		return ControlMessage{
			Type:      TypeError,
			RequestID: msg.RequestID,
			ErrorCode: int32(res.ErrorCode),
			Payload:   res.ErrorMessage,
		}, nil
	}
	return Decode(res.Data)
}
