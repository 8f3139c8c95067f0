package wire

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/tidwall/gjson"

	"github.com/wagiedev/toolhost-go/internal/errors"
)

// Kind classifies a line read from the server.
type Kind int

const (
	// KindDiagnostic is free text: logs, banners, the readiness line.
	KindDiagnostic Kind = iota
	// KindResponse is a successful reply.
	KindResponse
	// KindError is a failure reply, possibly without an id.
	KindError
)

// String implements fmt.Stringer.
func (k Kind) String() string {
	switch k {
	case KindDiagnostic:
		return "diagnostic"
	case KindResponse:
		return "response"
	case KindError:
		return "error"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Inbound is a classified line.
type Inbound struct {
	Kind Kind

	// ID is the correlated request id. Empty for diagnostics and for errors
	// the server could not attribute.
	ID string

	// Result is the raw "result" value of a response ("null" if absent).
	Result json.RawMessage

	// Error is the message of an error reply.
	Error string

	// Raw is the line as read, without surrounding whitespace.
	Raw []byte
}

// Classify decides whether line is protocol traffic or diagnostic text.
//
// Anything that is not a well-formed JSON object is diagnostic. A JSON
// object whose type is neither "response" nor "error", or a response without
// an id, is returned together with a *errors.ProtocolError so the caller can
// log and drop it.
func Classify(line []byte) (*Inbound, error) {
	raw := bytes.TrimSpace(line)
	msg := &Inbound{Kind: KindDiagnostic, Raw: raw}

	if len(raw) == 0 || raw[0] != '{' || !gjson.ValidBytes(raw) {
		return msg, nil
	}

	doc := gjson.ParseBytes(raw)
	typ := doc.Get("type")

	switch typ.String() {
	case TypeResponse:
		id := doc.Get("id")
		if id.Type != gjson.String || id.Str == "" {
			return nil, &errors.ProtocolError{RawData: string(raw), Err: fmt.Errorf("response without id")}
		}

		msg.Kind = KindResponse
		msg.ID = id.Str
		msg.Result = json.RawMessage("null")

		if result := doc.Get("result"); result.Exists() {
			msg.Result = json.RawMessage(result.Raw)
		}

		return msg, nil

	case TypeError:
		msg.Kind = KindError

		if id := doc.Get("id"); id.Type == gjson.String {
			msg.ID = id.Str
		}

		switch e := doc.Get("error"); {
		case e.Type == gjson.String:
			msg.Error = e.Str
		case e.IsObject() && e.Get("message").Exists():
			msg.Error = e.Get("message").String()
		case e.Exists():
			msg.Error = e.Raw
		default:
			msg.Error = "unknown error"
		}

		return msg, nil

	default:
		if !typ.Exists() {
			return nil, &errors.ProtocolError{RawData: string(raw), Err: fmt.Errorf("message without type")}
		}

		return nil, &errors.ProtocolError{
			RawData: string(raw),
			Err:     fmt.Errorf("unexpected message type %q", typ.String()),
		}
	}
}
