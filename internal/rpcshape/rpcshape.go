// Package rpcshape classifies a single JSON-RPC frame into one of a closed
// set of structural shapes used by the Ethereum stratum variant, trying
// each discriminant in a fixed order and falling back to an opaque
// pass-through shape when nothing matches.
//
// Grounded on ShaeOJ-GoVault/internal/stratum/protocol.go (request/response
// parsing, numeric-or-string id handling) generalized to the Ethereum
// shapes enumerated in original_source/src/client/handle_stream.rs's
// try-in-order parse cascade (ServerId1, then job-notification variants,
// then the error fallback).
package rpcshape

import (
	"encoding/json"
	"fmt"
)

// Kind identifies which of the closed discriminant shapes a frame parsed
// as.
type Kind int

const (
	KindClientWithWorkerName Kind = iota
	KindClient
	KindServerID1
	KindServerJobsWithHeight
	KindServerSideJob
	KindServer
	KindServerRootError
	KindOpaque
)

func (k Kind) String() string {
	switch k {
	case KindClientWithWorkerName:
		return "ClientWithWorkerName"
	case KindClient:
		return "Client"
	case KindServerID1:
		return "ServerId1"
	case KindServerJobsWithHeight:
		return "ServerJobsWithHeight"
	case KindServerSideJob:
		return "ServerSideJob"
	case KindServer:
		return "Server"
	case KindServerRootError:
		return "ServerRootErrorValue"
	default:
		return "Opaque"
	}
}

// Recognized request methods for the two client shapes.
const (
	MethodSubmitLogin     = "eth_submitLogin"
	MethodSubmitWork      = "eth_submitWork"
	MethodSubmitHashrate  = "eth_submitHashrate"
	MethodGetWork         = "eth_getWork"
	MethodMiningSubscribe = "mining.subscribe"
)

// ID is a JSON-RPC id that may arrive as a JSON number or a JSON string;
// it round-trips in whichever form it was received.
type ID struct {
	raw json.RawMessage
}

func NewID(n int64) ID {
	return ID{raw: json.RawMessage(fmt.Sprintf("%d", n))}
}

func (i ID) IsZero() bool { return len(i.raw) == 0 }

func (i ID) Int64() (int64, bool) {
	var n int64
	if err := json.Unmarshal(i.raw, &n); err == nil {
		return n, true
	}
	var s string
	if err := json.Unmarshal(i.raw, &s); err == nil {
		var n2 int64
		if _, err := fmt.Sscanf(s, "%d", &n2); err == nil {
			return n2, true
		}
	}
	return 0, false
}

func (i ID) Equal(other ID) bool {
	return string(i.raw) == string(other.raw)
}

func (i ID) String() string { return string(i.raw) }

func (i *ID) UnmarshalJSON(b []byte) error {
	i.raw = append(json.RawMessage{}, b...)
	return nil
}

func (i ID) MarshalJSON() ([]byte, error) {
	if len(i.raw) == 0 {
		return []byte("0"), nil
	}
	return i.raw, nil
}

// ClientWithWorkerName is a request carrying an explicit worker name.
type ClientWithWorkerName struct {
	ID     ID                `json:"id"`
	Method string            `json:"method"`
	Params []json.RawMessage `json:"params"`
	Worker string            `json:"worker"`
}

// Client is a request without a worker name.
type Client struct {
	ID     ID                `json:"id"`
	Method string            `json:"method"`
	Params []json.RawMessage `json:"params"`
}

// ServerID1 is a boolean-result response: logins, submits, hashrate acks.
type ServerID1 struct {
	ID      ID     `json:"id"`
	Jsonrpc string `json:"jsonrpc"`
	Result  bool   `json:"result"`
}

// ServerJobsWithHeight is a job notification carrying a block height
// alongside the job array.
type ServerJobsWithHeight struct {
	ID     ID                `json:"id"`
	Result []json.RawMessage `json:"result"`
	Height int64             `json:"height"`
}

// ServerSideJob is a job notification whose result wraps a single nested
// job array (as opposed to the flat array of Server).
type ServerSideJob struct {
	ID     ID                `json:"id"`
	Result []json.RawMessage `json:"result"`
}

// Server is the generic flat job-array notification: [job-id, seed-hash,
// target, ...].
type Server struct {
	ID     ID                `json:"id"`
	Result []json.RawMessage `json:"result"`
}

// ServerRootErrorValue is an error envelope.
type ServerRootErrorValue struct {
	ID    ID              `json:"id"`
	Error json.RawMessage `json:"error"`
}

// Frame is the result of classification: exactly one of the typed fields
// is non-nil, matching Kind, unless Kind is KindOpaque in which case only
// Raw is populated.
type Frame struct {
	Kind Kind
	Raw  []byte

	ClientWithWorkerName *ClientWithWorkerName
	Client               *Client
	ServerID1            *ServerID1
	ServerJobsWithHeight *ServerJobsWithHeight
	ServerSideJob        *ServerSideJob
	Server               *Server
	ServerRootError      *ServerRootErrorValue
}

// Classify parses a single frame's worth of bytes. Input that matches no
// known shape, including input that is not valid JSON at all, comes back
// as a KindOpaque frame with a nil error, per the classifier's non-fatal
// fallback design; the returned error is always nil.
func Classify(data []byte) (*Frame, error) {
	var generic map[string]json.RawMessage
	if err := json.Unmarshal(data, &generic); err != nil {
		return &Frame{Kind: KindOpaque, Raw: data}, nil
	}

	if methodRaw, ok := generic["method"]; ok {
		var method string
		if err := json.Unmarshal(methodRaw, &method); err == nil {
			if workerRaw, ok := generic["worker"]; ok {
				var worker string
				if err := json.Unmarshal(workerRaw, &worker); err == nil && worker != "" {
					var c ClientWithWorkerName
					if err := json.Unmarshal(data, &c); err == nil {
						return &Frame{Kind: KindClientWithWorkerName, Raw: data, ClientWithWorkerName: &c}, nil
					}
				}
			}
			var c Client
			if err := json.Unmarshal(data, &c); err == nil {
				return &Frame{Kind: KindClient, Raw: data, Client: &c}, nil
			}
		}
	}

	if resultRaw, ok := generic["result"]; ok {
		var asBool bool
		if err := json.Unmarshal(resultRaw, &asBool); err == nil {
			var s ServerID1
			if err := json.Unmarshal(data, &s); err == nil {
				return &Frame{Kind: KindServerID1, Raw: data, ServerID1: &s}, nil
			}
		}

		var asArray []json.RawMessage
		if err := json.Unmarshal(resultRaw, &asArray); err == nil {
			if _, ok := generic["height"]; ok {
				var s ServerJobsWithHeight
				if err := json.Unmarshal(data, &s); err == nil {
					return &Frame{Kind: KindServerJobsWithHeight, Raw: data, ServerJobsWithHeight: &s}, nil
				}
			}
			if len(asArray) == 1 && isJSONArray(asArray[0]) {
				var s ServerSideJob
				if err := json.Unmarshal(data, &s); err == nil {
					return &Frame{Kind: KindServerSideJob, Raw: data, ServerSideJob: &s}, nil
				}
			}
			var s Server
			if err := json.Unmarshal(data, &s); err == nil {
				return &Frame{Kind: KindServer, Raw: data, Server: &s}, nil
			}
		}
	}

	if errRaw, ok := generic["error"]; ok && string(errRaw) != "null" {
		var s ServerRootErrorValue
		if err := json.Unmarshal(data, &s); err == nil {
			return &Frame{Kind: KindServerRootError, Raw: data, ServerRootError: &s}, nil
		}
	}

	return &Frame{Kind: KindOpaque, Raw: data}, nil
}

func isJSONArray(raw json.RawMessage) bool {
	for _, b := range raw {
		if b == ' ' || b == '\t' || b == '\n' || b == '\r' {
			continue
		}
		return b == '['
	}
	return false
}

// Encode marshals any of the typed shapes (or a plain value) to its wire
// form, appending no framing — the caller's codec handles that.
func Encode(v interface{}) ([]byte, error) {
	return json.Marshal(v)
}
