package wire

import (
	"bytes"
	"encoding/json"
	"fmt"
	"slices"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// Message types on the wire.
const (
	TypeRequest  = "request"
	TypeResponse = "response"
	TypeError    = "error"
)

// Request is a tool invocation written to the server.
//
// Wire format:
//
//	{"type":"request","id":"01J...","tool":"read_file","params":{"path":"a.txt"}}
type Request struct {
	Type   string         `json:"type"`
	ID     string         `json:"id"`
	Tool   string         `json:"tool"`
	Params map[string]any `json:"params"`
}

// Response is a successful reply.
//
// Wire format:
//
//	{"type":"response","id":"01J...","result":{"content":"hi"}}
type Response struct {
	Type   string `json:"type"`
	ID     string `json:"id"`
	Result any    `json:"result"`
}

// ErrorMessage is a failure reply. ID is empty when the server could not
// parse the originating request.
//
// Wire format:
//
//	{"type":"error","id":"01J...","error":"file not found"}
type ErrorMessage struct {
	Type  string `json:"type"`
	ID    string `json:"id,omitempty"`
	Error string `json:"error"`
}

// NewRequest builds a request envelope.
func NewRequest(id, tool string, params map[string]any) *Request {
	return &Request{Type: TypeRequest, ID: id, Tool: tool, Params: params}
}

// NewResponse builds a response envelope.
func NewResponse(id string, result any) *Response {
	return &Response{Type: TypeResponse, ID: id, Result: result}
}

// NewError builds an error envelope.
func NewError(id, message string) *ErrorMessage {
	return &ErrorMessage{Type: TypeError, ID: id, Error: message}
}

// reserved are the envelope keys that inline params may not shadow.
var reserved = []string{"type", "id", "tool"}

// Encode serialises a request as a single JSON line without the trailing
// newline. With inline set, params are merged into the top-level object
// instead of nested under "params".
func Encode(req *Request, inline bool) ([]byte, error) {
	params := req.Params
	if params == nil {
		params = map[string]any{}
	}

	if !inline {
		return json.Marshal(&Request{Type: req.Type, ID: req.ID, Tool: req.Tool, Params: params})
	}

	out, err := json.Marshal(struct {
		Type string `json:"type"`
		ID   string `json:"id"`
		Tool string `json:"tool"`
	}{req.Type, req.ID, req.Tool})
	if err != nil {
		return nil, err
	}

	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}

	slices.Sort(keys)

	for _, k := range keys {
		if slices.Contains(reserved, k) {
			return nil, fmt.Errorf("param %q collides with the request envelope", k)
		}

		out, err = sjson.SetBytes(out, escapePath(k), params[k])
		if err != nil {
			return nil, fmt.Errorf("inline param %q: %w", k, err)
		}
	}

	return out, nil
}

// escapePath quotes characters that sjson treats as path syntax.
func escapePath(key string) string {
	var b strings.Builder

	for _, r := range key {
		if strings.ContainsRune(`\.*?|#@!:=<>%`, r) {
			b.WriteByte('\\')
		}

		b.WriteRune(r)
	}

	return b.String()
}

// DecodeRequest parses a request line as a server would. Params may be
// nested under "params" or inlined next to the envelope keys.
func DecodeRequest(line []byte) (*Request, error) {
	line = bytes.TrimSpace(line)
	if !gjson.ValidBytes(line) {
		return nil, fmt.Errorf("invalid JSON")
	}

	doc := gjson.ParseBytes(line)
	if !doc.IsObject() {
		return nil, fmt.Errorf("request must be a JSON object")
	}

	req := &Request{
		Type: doc.Get("type").String(),
		ID:   doc.Get("id").String(),
		Tool: doc.Get("tool").String(),
	}

	if req.Type != TypeRequest {
		return req, fmt.Errorf("unexpected message type %q", req.Type)
	}

	params := doc.Get("params")
	switch {
	case params.IsObject():
		if err := json.Unmarshal([]byte(params.Raw), &req.Params); err != nil {
			return req, fmt.Errorf("decode params: %w", err)
		}
	case params.Exists() && params.Type != gjson.Null:
		return req, fmt.Errorf("params must be an object")
	default:
		req.Params = map[string]any{}

		doc.ForEach(func(key, value gjson.Result) bool {
			if !slices.Contains(reserved, key.String()) && key.String() != "params" {
				req.Params[key.String()] = value.Value()
			}

			return true
		})
	}

	return req, nil
}
