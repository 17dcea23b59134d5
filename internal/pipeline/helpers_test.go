package pipeline

import (
	"context"
	"net/http"
	"sync"

	"github.com/loykin/apingest/internal/httpc"
	"github.com/loykin/apingest/internal/jq"
	"github.com/loykin/apingest/internal/request"
	"github.com/loykin/apingest/internal/retry"
)

// fakeTransport records every request and answers through respond.
// n is the zero-based call index.
type fakeTransport struct {
	mu      sync.Mutex
	calls   []request.Spec
	respond func(n int, spec request.Spec) (*httpc.Response, error)
}

func (f *fakeTransport) Execute(_ context.Context, spec request.Spec) (*httpc.Response, error) {
	f.mu.Lock()
	n := len(f.calls)
	f.calls = append(f.calls, spec.Clone())
	f.mu.Unlock()
	return f.respond(n, spec)
}

func (f *fakeTransport) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fakeTransport) call(i int) request.Spec {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[i]
}

func jsonResponse(status int, body string) *httpc.Response {
	h := http.Header{}
	h.Set("Content-Type", "application/json")
	return &httpc.Response{StatusCode: status, Header: h, Body: []byte(body)}
}

func always(status int, body string) func(int, request.Spec) (*httpc.Response, error) {
	return func(int, request.Spec) (*httpc.Response, error) { return jsonResponse(status, body), nil }
}

// noWait retries immediately.
func noWait(condition string, maxRetries int) retry.Policy {
	return retry.Policy{Condition: condition, MaxRetries: maxRetries}
}

func testExecutor(tr httpc.Transport) *Executor {
	return &Executor{
		Transport:              tr,
		Evaluator:              jq.New(),
		SuccessCondition:       ".status_code_class == 200",
		Retry:                  noWait("true", 0),
		ShowRequestBodyOnError: true,
	}
}

func mainSpec() request.Spec {
	return request.Spec{Scheme: request.SchemeHTTP, Host: "api.test", Path: "/items", Method: request.MethodGet}
}

func collect(pages *[]Page) EmitFunc {
	return func(_ context.Context, p Page) error {
		*pages = append(*pages, p)
		return nil
	}
}
