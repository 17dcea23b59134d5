package pipeline

import (
	"encoding/json"
	"errors"
	"net/http"
	"reflect"
	"testing"

	"github.com/loykin/apingest/internal/httpc"
	"github.com/loykin/apingest/internal/request"
)

func TestContext_View_Response(t *testing.T) {
	spec := mainSpec()
	spec.Headers = request.Pairs{{Name: "X-Tag", Value: "a"}, {Name: "X-Tag", Value: "b"}, {Name: "Accept", Value: "application/json"}}
	spec.Params = request.Pairs{{Name: "page", Value: 2}}
	spec.Body = map[string]any{"q": "x"}
	spec.HasBody = true

	h := http.Header{}
	h.Add("X-Total", "10")
	h.Add("Link", "<a>")
	h.Add("Link", "<b>")
	c := NewContext(spec, &httpc.Response{StatusCode: 204, Header: h, Body: []byte(`{"items":[1]}`)}, nil)
	v := c.View()

	if v["status_code"] != 204 || v["status_code_class"] != 200 {
		t.Fatalf("unexpected status fields: %v / %v", v["status_code"], v["status_code_class"])
	}
	if v["request_method"] != "GET" || v["request_url"] != "http://api.test/items?page=2" {
		t.Fatalf("unexpected request fields: %v %v", v["request_method"], v["request_url"])
	}
	wantReqHeaders := map[string]any{"X-Tag": []any{"a", "b"}, "Accept": "application/json"}
	if !reflect.DeepEqual(v["request_headers"], wantReqHeaders) {
		t.Fatalf("request_headers = %#v", v["request_headers"])
	}
	if !reflect.DeepEqual(v["request_params"], map[string]any{"page": 2}) {
		t.Fatalf("request_params = %#v", v["request_params"])
	}
	if !reflect.DeepEqual(v["request_body"], map[string]any{"q": "x"}) {
		t.Fatalf("request_body = %#v", v["request_body"])
	}
	respHeaders := v["response_headers"].(map[string]any)
	if respHeaders["X-Total"] != "10" || !reflect.DeepEqual(respHeaders["Link"], []any{"<a>", "<b>"}) {
		t.Fatalf("response_headers = %#v", respHeaders)
	}
	if !reflect.DeepEqual(v["response_body"], map[string]any{"items": []any{json.Number("1")}}) {
		t.Fatalf("response_body = %#v", v["response_body"])
	}
	if _, ok := v["transport_error"]; ok {
		t.Fatalf("transport_error must be absent when a response was received")
	}
}

func TestContext_View_BodyDecoding(t *testing.T) {
	tests := []struct {
		name string
		body string
		want any
	}{
		{"json object", `{"a":1}`, map[string]any{"a": json.Number("1")}},
		{"json scalar", `"text"`, "text"},
		{"large integer", `{"id":12345678901234567891}`, map[string]any{"id": json.Number("12345678901234567891")}},
		{"plain text", `not json`, "not json"},
		{"truncated json", `{"a":`, `{"a":`},
		{"empty", ``, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewContext(mainSpec(), &httpc.Response{StatusCode: 200, Body: []byte(tt.body)}, nil)
			if got := c.View()["response_body"]; !reflect.DeepEqual(got, tt.want) {
				t.Fatalf("response_body = %#v, want %#v", got, tt.want)
			}
		})
	}
}

func TestContext_View_TransportError(t *testing.T) {
	c := NewContext(mainSpec(), nil, errors.New("connection refused"))
	v := c.View()
	if v["transport_error"] != "connection refused" {
		t.Fatalf("transport_error = %v", v["transport_error"])
	}
	if v["status_code"] != nil || v["response_body"] != nil || v["request_body"] != nil {
		t.Fatalf("expected null response fields, got %v", v)
	}
	if c.StatusCode() != 0 {
		t.Fatalf("StatusCode() = %d", c.StatusCode())
	}
}

func TestContext_ViewIsFresh(t *testing.T) {
	c := NewContext(mainSpec(), jsonResponse(200, `{"a":1}`), nil)
	v := c.View()
	v["status_code"] = 500
	if c.View()["status_code"] != 200 {
		t.Fatalf("view mutation leaked into the context")
	}
}
