package lsp

import (
	"encoding/json"
	"fmt"

	"github.com/tidwall/gjson"
	"go.lsp.dev/protocol"
)

// Method names used on the wire.
const (
	MethodInitialize      = "initialize"
	MethodInitialized     = "initialized"
	MethodShutdown        = "shutdown"
	MethodExit            = "exit"
	MethodCancelRequest   = "$/cancelRequest"
	MethodProgress        = "$/progress"
	MethodDidOpen         = "textDocument/didOpen"
	MethodDidChange       = "textDocument/didChange"
	MethodDidClose        = "textDocument/didClose"
	MethodDiagnostics     = "textDocument/publishDiagnostics"
	MethodCompletion      = "textDocument/completion"
	MethodHover           = "textDocument/hover"
	MethodSemanticTokens  = "textDocument/semanticTokens/full"
	MethodPullDiagnostics = "textDocument/diagnostic"
	MethodLogMessage      = "window/logMessage"
	MethodShowMessage     = "window/showMessage"

	methodConfiguration    = "workspace/configuration"
	methodProgressCreate   = "window/workDoneProgress/create"
	methodRegisterCap      = "client/registerCapability"
	methodUnregisterCap    = "client/unregisterCapability"
	methodWorkspaceFolders = "workspace/workspaceFolders"
)

// outgoing is a request, notification, or response written by the client.
type outgoing struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  any             `json:"params,omitempty"`
	Result  any             `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

func newRequest(id int64, method string, params any) *outgoing {
	return &outgoing{JSONRPC: "2.0", ID: json.RawMessage(fmt.Sprint(id)), Method: method, Params: params}
}

func newNotification(method string, params any) *outgoing {
	return &outgoing{JSONRPC: "2.0", Method: method, Params: params}
}

// nullResult marshals as a literal null so a response always carries a
// result member.
type nullResult struct{}

func (nullResult) MarshalJSON() ([]byte, error) { return []byte("null"), nil }

func newResponse(id json.RawMessage, result any, rpcErr *RPCError) *outgoing {
	msg := &outgoing{JSONRPC: "2.0", ID: id, Error: rpcErr}
	if rpcErr == nil {
		if result == nil {
			result = nullResult{}
		}
		msg.Result = result
	}
	return msg
}

// Kind tags an inbound message.
type Kind uint8

const (
	KindResponse Kind = iota + 1
	KindNotification
	KindServerRequest
)

func (k Kind) String() string {
	switch k {
	case KindResponse:
		return "response"
	case KindNotification:
		return "notification"
	case KindServerRequest:
		return "server request"
	default:
		return "unknown"
	}
}

// Inbound is a message read from the server, classified once at the frame
// boundary. Exactly the fields relevant to Kind are set.
type Inbound struct {
	Kind Kind

	// Response fields.
	ID     int64
	Result json.RawMessage
	Error  *RPCError

	// Notification and server request fields.
	Method string
	Params json.RawMessage
	RawID  json.RawMessage

	// Payload holds the typed params of recognised notifications:
	// *protocol.PublishDiagnosticsParams, *protocol.LogMessageParams,
	// or *protocol.ShowMessageParams. It is nil for anything else.
	Payload any
}

// Decode classifies a frame body.
func Decode(body []byte) (*Inbound, error) {
	if !gjson.ValidBytes(body) {
		return nil, &ProtocolError{Reason: "invalid JSON"}
	}
	fields := gjson.GetManyBytes(body, "id", "method", "result", "error", "params")
	id, method, result, rpcErr, params := fields[0], fields[1], fields[2], fields[3], fields[4]

	switch {
	case method.Exists() && id.Exists():
		return &Inbound{
			Kind:   KindServerRequest,
			Method: method.String(),
			RawID:  json.RawMessage(id.Raw),
			Params: rawOf(params),
		}, nil

	case method.Exists():
		msg := &Inbound{Kind: KindNotification, Method: method.String(), Params: rawOf(params)}
		payload, err := decodePayload(msg.Method, msg.Params)
		if err != nil {
			return nil, &ProtocolError{Reason: "decode " + msg.Method, Err: err}
		}
		msg.Payload = payload
		return msg, nil

	case id.Exists() && (result.Exists() || rpcErr.Exists()):
		if id.Type != gjson.Number {
			return nil, &ProtocolError{Reason: fmt.Sprintf("response id %s is not a number", id.Raw)}
		}
		msg := &Inbound{Kind: KindResponse, ID: id.Int()}
		if rpcErr.Exists() {
			msg.Error = &RPCError{}
			if err := json.Unmarshal([]byte(rpcErr.Raw), msg.Error); err != nil {
				return nil, &ProtocolError{Reason: "decode error response", Err: err}
			}
			return msg, nil
		}
		msg.Result = rawOf(result)
		return msg, nil
	}
	return nil, &ProtocolError{Reason: "unrecognised message shape"}
}

func rawOf(r gjson.Result) json.RawMessage {
	if !r.Exists() {
		return nil
	}
	return json.RawMessage(r.Raw)
}

func decodePayload(method string, params json.RawMessage) (any, error) {
	var dst any
	switch method {
	case MethodDiagnostics:
		dst = &protocol.PublishDiagnosticsParams{}
	case MethodLogMessage:
		dst = &protocol.LogMessageParams{}
	case MethodShowMessage:
		dst = &protocol.ShowMessageParams{}
	default:
		return nil, nil
	}
	if len(params) == 0 {
		return nil, fmt.Errorf("missing params")
	}
	if err := json.Unmarshal(params, dst); err != nil {
		return nil, err
	}
	return dst, nil
}
