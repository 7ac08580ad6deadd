package api

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ProtocolVersion is the scheduler API version this client speaks. Every
// response must report the same version in its ServerInfo.
const ProtocolVersion = 3

type ResponseCode int

const (
	ResponseCodeInvalidRequest ResponseCode = iota
	ResponseCodeOK
	ResponseCodeError
	ResponseCodeWarning
	ResponseCodeAuthFailed
	ResponseCodeLockError
	ResponseCodeErrorTransient
)

var responseCodeNames = map[ResponseCode]string{
	ResponseCodeInvalidRequest: "INVALID_REQUEST",
	ResponseCodeOK:             "OK",
	ResponseCodeError:          "ERROR",
	ResponseCodeWarning:        "WARNING",
	ResponseCodeAuthFailed:     "AUTH_FAILED",
	ResponseCodeLockError:      "LOCK_ERROR",
	ResponseCodeErrorTransient: "ERROR_TRANSIENT",
}

func (c ResponseCode) String() string {
	if name, ok := responseCodeNames[c]; ok {
		return name
	}
	return fmt.Sprintf("ResponseCode(%d)", int(c))
}

func (c ResponseCode) MarshalText() ([]byte, error) {
	if _, ok := responseCodeNames[c]; !ok {
		return nil, fmt.Errorf("unknown response code %d", int(c))
	}
	return []byte(c.String()), nil
}

func (c *ResponseCode) UnmarshalText(text []byte) error {
	s := strings.ToUpper(string(text))
	for code, name := range responseCodeNames {
		if name == s {
			*c = code
			return nil
		}
	}
	return fmt.Errorf("unknown response code %q", string(text))
}

// ServerInfo is attached by the scheduler to every response.
type ServerInfo struct {
	ClusterName     string `json:"clusterName,omitempty"`
	ProtocolVersion int    `json:"protocolVersion"`
	StatsURLPrefix  string `json:"statsUrlPrefix,omitempty"`
}

type ResponseDetail struct {
	Message string `json:"message"`
}

// Response is the envelope wrapping the result of every scheduler RPC.
type Response struct {
	ResponseCode ResponseCode     `json:"responseCode"`
	ServerInfo   *ServerInfo      `json:"serverInfo,omitempty"`
	Details      []ResponseDetail `json:"details,omitempty"`
	Result       json.RawMessage  `json:"result,omitempty"`
}

// Messages joins the detail messages into a single line.
func (r *Response) Messages() string {
	if r == nil || len(r.Details) == 0 {
		return ""
	}
	msgs := make([]string, 0, len(r.Details))
	for _, d := range r.Details {
		if d.Message != "" {
			msgs = append(msgs, d.Message)
		}
	}
	return strings.Join(msgs, ", ")
}

// DecodeResult unmarshals the response result into dest. An empty result
// leaves dest untouched.
func (r *Response) DecodeResult(dest interface{}) error {
	if len(r.Result) == 0 {
		return nil
	}
	return json.Unmarshal(r.Result, dest)
}

// NewResponse builds a response carrying the current protocol version.
func NewResponse(code ResponseCode, messages ...string) *Response {
	resp := &Response{
		ResponseCode: code,
		ServerInfo:   &ServerInfo{ProtocolVersion: ProtocolVersion},
	}
	for _, m := range messages {
		resp.Details = append(resp.Details, ResponseDetail{Message: m})
	}
	return resp
}

// SessionKey is the credential appended to privileged RPCs.
type SessionKey struct {
	Mechanism string `json:"mechanism"`
	Data      []byte `json:"data,omitempty"`
}
