package pipeline

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/loykin/apingest/internal/httpc"
	"github.com/loykin/apingest/internal/request"
	"github.com/loykin/apingest/internal/retry"
)

func ptr[T any](v T) *T { return &v }

// routeByPath answers prepare and main requests from one fake transport.
func routeByPath(routes map[string]*httpc.Response) func(int, request.Spec) (*httpc.Response, error) {
	return func(_ int, spec request.Spec) (*httpc.Response, error) {
		if r, ok := routes[spec.Path]; ok {
			return r, nil
		}
		return jsonResponse(404, `{}`), nil
	}
}

func TestPreparer_AssignsParamsAndBody(t *testing.T) {
	tr := &fakeTransport{respond: routeByPath(map[string]*httpc.Response{
		"/login":   jsonResponse(200, `{"token":"t-123"}`),
		"/profile": jsonResponse(200, `{"tenant":"acme"}`),
	})}
	base := mainSpec()
	base.Params = request.Pairs{{Name: "auth_token", Value: "stale"}, {Name: "limit", Value: 5}}
	base.Body = map[string]any{"filter": "all"}
	base.HasBody = true

	p := &Preparer{
		Defaults: *testExecutor(tr),
		Groups: []PrepareGroup{{
			Requests: []PrepareStep{
				{Name: "login", Override: request.Override{Path: ptr("/login"), Method: ptr(request.MethodPost), Params: request.Pairs{}}},
				{Name: "profile", Override: request.Override{Path: ptr("/profile")}},
			},
			AssignTo: AssignTo{
				Params: request.Pairs{{Name: "auth_token", Value: ".login.response_body.token"}},
				Body:   ".request_body + {tenant: .profile.response_body.tenant}",
			},
		}},
	}
	got, err := p.Run(context.Background(), base)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	wantParams := request.Pairs{{Name: "limit", Value: 5}, {Name: "auth_token", Value: "t-123"}}
	if !reflect.DeepEqual(got.Params, wantParams) {
		t.Fatalf("params = %+v, want %+v", got.Params, wantParams)
	}
	if !reflect.DeepEqual(got.Body, map[string]any{"filter": "all", "tenant": "acme"}) {
		t.Fatalf("body = %#v", got.Body)
	}
	if got.Path != "/items" || got.Method != request.MethodGet {
		t.Fatalf("prepare overrides leaked into the main request: %+v", got)
	}

	login := tr.call(0)
	if login.Path != "/login" || login.Method != request.MethodPost || len(login.Params) != 0 {
		t.Fatalf("login request not built from overrides: %+v", login)
	}
	if profile := tr.call(1); !reflect.DeepEqual(profile.Params, base.Params) {
		t.Fatalf("profile request must inherit base params, got %+v", profile.Params)
	}
}

func TestPreparer_GroupsSeeEarlierAssignments(t *testing.T) {
	tr := &fakeTransport{respond: routeByPath(map[string]*httpc.Response{
		"/login":   jsonResponse(200, `{"token":"abc"}`),
		"/session": jsonResponse(200, `{"session":"s-1"}`),
	})}
	p := &Preparer{
		Defaults: *testExecutor(tr),
		Groups: []PrepareGroup{
			{
				Requests: []PrepareStep{{Name: "login", Override: request.Override{Path: ptr("/login")}}},
				AssignTo: AssignTo{Params: request.Pairs{{Name: "token", Value: ".login.response_body.token"}}},
			},
			{
				Requests: []PrepareStep{{Name: "session", Override: request.Override{Path: ptr("/session")}}},
				AssignTo: AssignTo{Params: request.Pairs{{Name: "session", Value: ".session.response_body.session + \":\" + .request_params.token"}}},
			},
		},
	}
	got, err := p.Run(context.Background(), mainSpec())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v := tr.call(1).Params.Object()["token"]; v != "abc" {
		t.Fatalf("second group request must carry the first group's assignment, got %v", v)
	}
	if v := got.Params.Object()["session"]; v != "s-1:abc" {
		t.Fatalf("session = %v", v)
	}
}

func TestPreparer_StepFailureIsFatal(t *testing.T) {
	tr := &fakeTransport{respond: routeByPath(map[string]*httpc.Response{
		"/login": jsonResponse(401, `{"error":"denied"}`),
	})}
	p := &Preparer{
		Defaults: *testExecutor(tr),
		Groups: []PrepareGroup{{
			Requests: []PrepareStep{
				{Name: "login", Override: request.Override{Path: ptr("/login")}},
				{Name: "never", Override: request.Override{Path: ptr("/never")}},
			},
		}},
	}
	_, err := p.Run(context.Background(), mainSpec())
	var perr *PrepareStepError
	if !errors.As(err, &perr) || perr.Step != "login" {
		t.Fatalf("expected PrepareStepError for login, got %v", err)
	}
	var uerr *UnsuccessfulResponseError
	if !errors.As(err, &uerr) || uerr.StatusCode != 401 {
		t.Fatalf("expected wrapped UnsuccessfulResponseError, got %v", err)
	}
	if tr.count() != 1 {
		t.Fatalf("later steps must not run, got %d calls", tr.count())
	}
}

func TestPreparer_StepPolicyOverridesDefaults(t *testing.T) {
	tr := &fakeTransport{respond: routeByPath(map[string]*httpc.Response{
		"/login": jsonResponse(202, `{"token":"x"}`),
	})}
	defaults := *testExecutor(tr)
	defaults.Retry = noWait("true", 5)

	p := &Preparer{
		Defaults: defaults,
		Groups: []PrepareGroup{{
			Requests: []PrepareStep{{
				Name:             "login",
				Override:         request.Override{Path: ptr("/login")},
				SuccessCondition: ptr(".status_code == 200"),
				Retry:            &retry.Policy{Condition: "true", MaxRetries: 1},
			}},
		}},
	}
	_, err := p.Run(context.Background(), mainSpec())
	if err == nil {
		t.Fatalf("expected failure: 202 does not satisfy the step success condition")
	}
	if tr.count() != 2 {
		t.Fatalf("expected the step retry policy (1 retry), got %d calls", tr.count())
	}
}

func TestPreparer_AssignmentMustYieldOneValue(t *testing.T) {
	tr := &fakeTransport{respond: routeByPath(map[string]*httpc.Response{
		"/login": jsonResponse(200, `{"tokens":["a","b"]}`),
	})}
	p := &Preparer{
		Defaults: *testExecutor(tr),
		Groups: []PrepareGroup{{
			Requests: []PrepareStep{{Name: "login", Override: request.Override{Path: ptr("/login")}}},
			AssignTo: AssignTo{Params: request.Pairs{{Name: "token", Value: ".login.response_body.tokens[]"}}},
		}},
	}
	_, err := p.Run(context.Background(), mainSpec())
	var perr *PrepareStepError
	var eerr *EvaluationError
	if !errors.As(err, &perr) || !errors.As(err, &eerr) {
		t.Fatalf("expected PrepareStepError wrapping EvaluationError, got %v", err)
	}
}
