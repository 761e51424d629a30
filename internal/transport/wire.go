package transport

import (
	"context"
	"encoding/base64"

	"github.com/bytedance/sonic"

	"github.com/GriffinCanCode/webkernel/internal/syserr"
)

// BytesTag marks a byte slice in the JSON wire form: {"$bytes": "<base64>"}.
const BytesTag = "$bytes"

// Request is one call on the wire.
type Request struct {
	ID     string `json:"id,omitempty"`
	Method string `json:"method"`
	Args   []any  `json:"args"`
}

// Response carries a result or the envelope of a failed call.
type Response struct {
	ID     string           `json:"id,omitempty"`
	Result any              `json:"result,omitempty"`
	Error  *syserr.Envelope `json:"error,omitempty"`
}

// EncodeBytes replaces byte slices in v, at any depth of plain maps and
// slices, with their tagged form.
func EncodeBytes(v any) any {
	switch t := v.(type) {
	case []byte:
		return map[string]any{BytesTag: base64.StdEncoding.EncodeToString(t)}
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[k] = EncodeBytes(e)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = EncodeBytes(e)
		}
		return out
	}
	return v
}

// DecodeBytes reverses EncodeBytes on a decoded JSON value.
func DecodeBytes(v any) any {
	switch t := v.(type) {
	case map[string]any:
		if len(t) == 1 {
			if s, ok := t[BytesTag].(string); ok {
				if b, err := base64.StdEncoding.DecodeString(s); err == nil {
					return b
				}
			}
		}
		for k, e := range t {
			t[k] = DecodeBytes(e)
		}
	case []any:
		for i, e := range t {
			t[i] = DecodeBytes(e)
		}
	}
	return v
}

// Plain reduces v to the values a JSON decoder produces, keeping byte
// slices tagged. Structs become maps.
func Plain(v any) (any, error) {
	raw, err := sonic.Marshal(EncodeBytes(v))
	if err != nil {
		return nil, err
	}
	var out any
	if err := sonic.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func encodeRequest(req Request) ([]byte, error) {
	req.Args = EncodeBytes(req.Args).([]any)
	return sonic.Marshal(req)
}

func decodeRequest(body []byte) (Request, error) {
	var req Request
	if err := sonic.Unmarshal(body, &req); err != nil {
		return Request{}, syserr.Wrap(syserr.InvalidArgument, "decode", "request", err)
	}
	if req.Args == nil {
		req.Args = []any{}
	}
	req.Args = DecodeBytes(req.Args).([]any)
	return req, nil
}

func encodeResponse(resp Response) []byte {
	resp.Result = EncodeBytes(resp.Result)
	raw, err := sonic.Marshal(resp)
	if err != nil {
		raw, _ = sonic.Marshal(Response{ID: resp.ID, Error: syserr.ToEnvelope(err)})
	}
	return raw
}

func decodeResponse(body []byte) (Response, error) {
	var resp Response
	if err := sonic.Unmarshal(body, &resp); err != nil {
		return Response{}, err
	}
	resp.Result = DecodeBytes(resp.Result)
	return resp, nil
}

// ServeWire decodes a JSON request for object, serves it and encodes the
// response. Call failures travel in the response, never as an error.
func (m *Mux) ServeWire(ctx context.Context, object string, body []byte) []byte {
	req, err := decodeRequest(body)
	if err != nil {
		return encodeResponse(Response{Error: syserr.ToEnvelope(err)})
	}
	result, err := m.Serve(ctx, object, req.Method, req.Args)
	if err != nil {
		return encodeResponse(Response{ID: req.ID, Error: syserr.ToEnvelope(err)})
	}
	return encodeResponse(Response{ID: req.ID, Result: result})
}
