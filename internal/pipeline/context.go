package pipeline

import (
	"net/http"

	"github.com/loykin/apingest/internal/httpc"
	"github.com/loykin/apingest/internal/jq"
	"github.com/loykin/apingest/internal/request"
	"github.com/tidwall/gjson"
)

// Context is the read-only view of one request and its outcome that
// expressions are evaluated against. Build a fresh one per response.
type Context struct {
	Request      request.Spec
	Response     *httpc.Response
	TransportErr error

	body any
}

// NewContext captures spec together with either resp or terr.
func NewContext(spec request.Spec, resp *httpc.Response, terr error) *Context {
	c := &Context{Request: spec.Clone(), Response: resp, TransportErr: terr}
	if resp != nil {
		c.body = decodeBody(resp.Body)
	}
	return c
}

// decodeBody returns the parsed JSON body with numbers as json.Number, the raw
// text when it is not JSON, and nil when the body is empty.
func decodeBody(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	if gjson.ValidBytes(b) {
		if v, err := jq.Decode(b); err == nil {
			return v
		}
	}
	return string(b)
}

// StatusCode is 0 when no response was received.
func (c *Context) StatusCode() int {
	if c.Response == nil {
		return 0
	}
	return c.Response.StatusCode
}

// StatusCodeClass is 200 for any 2xx, 400 for any 4xx, and so on.
func (c *Context) StatusCodeClass() int {
	return c.StatusCode() / 100 * 100
}

// ResponseBody is the decoded body exposed as .response_body.
func (c *Context) ResponseBody() any { return c.body }

// RawResponseBody returns the body bytes as received.
func (c *Context) RawResponseBody() string {
	if c.Response == nil {
		return ""
	}
	return string(c.Response.Body)
}

// View renders the context as the JSON object seen by expressions:
//
//	request_method, request_url, request_headers, request_params, request_body,
//	status_code, status_code_class, response_headers, response_body, transport_error
//
// Repeated header or param names appear as arrays. A fresh map is returned on
// every call so evaluation can never alter the context.
func (c *Context) View() map[string]any {
	v := map[string]any{
		"request_method":  string(c.Request.Method),
		"request_url":     c.Request.URL(),
		"request_headers": c.Request.HeaderStrings().Object(),
		"request_params":  c.Request.Params.Object(),
		"request_body":    nil,
	}
	if c.Request.HasBody {
		v["request_body"] = c.Request.Body
	}
	if c.Response != nil {
		v["status_code"] = c.Response.StatusCode
		v["status_code_class"] = c.StatusCodeClass()
		v["response_headers"] = headerObject(c.Response.Header)
		v["response_body"] = c.body
	} else {
		v["status_code"] = nil
		v["status_code_class"] = nil
		v["response_headers"] = map[string]any{}
		v["response_body"] = nil
	}
	if c.TransportErr != nil {
		v["transport_error"] = c.TransportErr.Error()
	}
	return v
}

func headerObject(h http.Header) map[string]any {
	out := make(map[string]any, len(h))
	for name, values := range h {
		switch len(values) {
		case 0:
			continue
		case 1:
			out[name] = values[0]
		default:
			arr := make([]any, len(values))
			for i, s := range values {
				arr[i] = s
			}
			out[name] = arr
		}
	}
	return out
}
