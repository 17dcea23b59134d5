package config

import (
	"crypto/tls"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/loykin/apingest/internal/common"
	"github.com/loykin/apingest/internal/pipeline"
	"github.com/loykin/apingest/internal/request"
	"github.com/loykin/apingest/internal/retry"
)

const fullDoc = `
env:
  - name: api_host
    value: api.example.com
  - name: client_id
    valueFromEnv: APINGEST_TEST_CLIENT_ID
scheme: HTTP
host: "{{.env.api_host}}"
port: 8443
path: /v1/records
method: post
headers:
  - Accept: application/json
  - X-Tag: a
  - X-Tag: b
params:
  - id: 1
  - id: 2
body:
  filter: active
success_condition: .status_code == 200
transformer: .response_body.records
transformed_json_column_name: record
extract_transformed_json_array: false
show_request_body_on_error: false
pager:
  initial_params:
    - page: 1
  next_params:
    - page: .response_body.next_page
  while: .response_body.has_more
  interval_millis: 250
retry:
  condition: .status_code_class == 500
  max_retries: 3
prepare:
  - requests:
      - name: login
        path: /oauth/token
        method: POST
        params: []
        body:
          client_id: "{{.env.client_id}}"
        retry:
          max_retries: 1
    assign_to:
      params:
        - access_token: .login.response_body.access_token
      body: '.request_body + {tenant: "x"}'
default_timezone: Asia/Seoul
client:
  timeout: 5s
output:
  type: SQLite
  path: /tmp/rows.db
`

func TestParse_FullDocument(t *testing.T) {
	t.Setenv("APINGEST_TEST_CLIENT_ID", "cid-42")
	task, err := Parse([]byte(fullDoc), nil)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	cfg, err := task.Pipeline()
	if err != nil {
		t.Fatalf("Pipeline: %v", err)
	}

	req := cfg.Request
	if req.Scheme != request.SchemeHTTP || req.Host != "api.example.com" || *req.Port != 8443 || req.Path != "/v1/records" || req.Method != request.MethodPost {
		t.Fatalf("unexpected request %+v", req)
	}
	wantHeaders := request.Pairs{{Name: "Accept", Value: "application/json"}, {Name: "X-Tag", Value: "a"}, {Name: "X-Tag", Value: "b"}}
	if !reflect.DeepEqual(req.Headers, wantHeaders) {
		t.Fatalf("headers = %+v", req.Headers)
	}
	if !reflect.DeepEqual(req.Params, request.Pairs{{Name: "id", Value: 1}, {Name: "id", Value: 2}}) {
		t.Fatalf("params = %+v", req.Params)
	}
	if !req.HasBody || !reflect.DeepEqual(req.Body, map[string]any{"filter": "active"}) {
		t.Fatalf("body = %#v (has=%v)", req.Body, req.HasBody)
	}

	if cfg.SuccessCondition != ".status_code == 200" || cfg.Transformer != ".response_body.records" {
		t.Fatalf("unexpected expressions %+v", cfg)
	}
	if cfg.Column != "record" || cfg.ExtractArray || cfg.ShowRequestBodyOnError {
		t.Fatalf("unexpected row settings %+v", cfg)
	}
	wantRetry := retry.Policy{Condition: ".status_code_class == 500", MaxRetries: 3, InitialIntervalMillis: 1000, MaxIntervalMillis: 60000}
	if cfg.Retry != wantRetry {
		t.Fatalf("retry = %+v", cfg.Retry)
	}

	pg := cfg.Pager
	if pg.While != ".response_body.has_more" || pg.IntervalMillis != 250 || pg.NextParamsMode != pipeline.NextParamsExpression {
		t.Fatalf("pager = %+v", pg)
	}
	if pg.NextBodyTransformer != ".request_body" {
		t.Fatalf("next_body_transformer default not applied: %q", pg.NextBodyTransformer)
	}
	if !reflect.DeepEqual(pg.NextParams, request.Pairs{{Name: "page", Value: ".response_body.next_page"}}) {
		t.Fatalf("next_params = %+v", pg.NextParams)
	}

	if len(cfg.Prepare) != 1 || len(cfg.Prepare[0].Requests) != 1 {
		t.Fatalf("prepare = %+v", cfg.Prepare)
	}
	step := cfg.Prepare[0].Requests[0]
	if step.Name != "login" || *step.Override.Path != "/oauth/token" || *step.Override.Method != request.MethodPost {
		t.Fatalf("step = %+v", step)
	}
	if step.Override.Params == nil || len(step.Override.Params) != 0 {
		t.Fatalf("explicit empty params must clear the base list, got %#v", step.Override.Params)
	}
	if !step.Override.HasBody || !reflect.DeepEqual(step.Override.Body, map[string]any{"client_id": "cid-42"}) {
		t.Fatalf("step body = %#v", step.Override.Body)
	}
	if step.Override.Host != nil || step.SuccessCondition != nil {
		t.Fatalf("absent overrides must stay nil: %+v", step)
	}
	if step.Retry == nil || step.Retry.MaxRetries != 1 || step.Retry.Condition != "true" {
		t.Fatalf("step retry = %+v", step.Retry)
	}
	assign := cfg.Prepare[0].AssignTo
	if !reflect.DeepEqual(assign.Params, request.Pairs{{Name: "access_token", Value: ".login.response_body.access_token"}}) || assign.Body != `.request_body + {tenant: "x"}` {
		t.Fatalf("assign_to = %+v", assign)
	}

	if task.Output.Type != "sqlite" || task.Output.Table != "ingested_rows" || task.Client.Timeout != 5*time.Second {
		t.Fatalf("ambient settings = %+v %+v", task.Output, task.Client)
	}
	loc, err := task.Location()
	if err != nil || loc.String() != "Asia/Seoul" {
		t.Fatalf("Location() = %v, %v", loc, err)
	}

	if _, err := pipeline.New(cfg); err != nil {
		t.Fatalf("decoded task must build a pipeline: %v", err)
	}
}

func TestParse_Defaults(t *testing.T) {
	task, err := Parse([]byte("host: api.example.com\n"), nil)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	cfg, err := task.Pipeline()
	if err != nil {
		t.Fatalf("Pipeline: %v", err)
	}
	def := pipeline.DefaultConfig()
	def.Request.Host = "api.example.com"
	if !reflect.DeepEqual(cfg, def) {
		t.Fatalf("got %+v\nwant %+v", cfg, def)
	}
	if cfg.Request.HasBody {
		t.Fatalf("absent body must not be sent")
	}
	if task.DefaultTimezone != "UTC" || task.DefaultDate != "1970-01-01" || task.DefaultTimestampFormat != "%Y-%m-%d %H:%M:%S.%N %z" {
		t.Fatalf("type-coercion defaults = %q %q %q", task.DefaultTimezone, task.DefaultDate, task.DefaultTimestampFormat)
	}
	if task.Output.Type != "stdout" {
		t.Fatalf("output.type default = %q", task.Output.Type)
	}
}

func TestParse_NullBodyIsPresent(t *testing.T) {
	task, err := Parse([]byte("host: h\nmethod: POST\nbody: null\n"), nil)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	cfg, _ := task.Pipeline()
	if !cfg.Request.HasBody || cfg.Request.Body != nil {
		t.Fatalf("expected an explicit null body, got %#v (has=%v)", cfg.Request.Body, cfg.Request.HasBody)
	}
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		want string
	}{
		{"missing host", "path: /x\n", "host is required"},
		{"bad scheme", "host: h\nscheme: ftp\n", "unsupported scheme"},
		{"bad method", "host: h\nmethod: FETCH\n", "unsupported method"},
		{"port range", "host: h\nport: 70000\n", "port must be within"},
		{"multi-key param", "host: h\nparams:\n  - {a: 1, b: 2}\n", "exactly one key"},
		{"non-map param", "host: h\nparams:\n  - plain\n", "single-key mapping"},
		{"negative retries", "host: h\nretry:\n  max_retries: -1\n", "max_retries"},
		{"negative interval", "host: h\npager:\n  interval_millis: -5\n", "interval_millis"},
		{"next params mode", "host: h\npager:\n  next_params_mode: auto\n", "next_params_mode"},
		{"bad date", "host: h\ndefault_date: 01/02/2024\n", "default_date"},
		{"bad timezone", "host: h\ndefault_timezone: Mars/Olympus\n", "default_timezone"},
		{"unknown key", "host: h\nhots: typo\n", "hots"},
		{"output type", "host: h\noutput:\n  type: kafka\n", "output.type"},
		{"postgres dsn", "host: h\noutput:\n  type: postgres\n", "output.dsn"},
		{"tls version", "host: h\nclient:\n  min_tls_version: \"9\"\n", "min_tls_version"},
		{"duplicate prepare", "host: h\nprepare:\n  - requests:\n      - name: a\n      - name: a\n", "duplicate"},
		{"missing template var", "host: \"{{.env.nope}}\"\n", "render templates"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.doc), nil)
			if err == nil {
				t.Fatalf("expected error containing %q", tt.want)
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("error %q does not mention %q", err.Error(), tt.want)
			}
		})
	}
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "task.yaml")
	if err := os.WriteFile(path, []byte("host: api.example.com\npath: /items\n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	task, err := Load(path, nil)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if *task.Path != "/items" {
		t.Fatalf("path = %v", *task.Path)
	}
	if _, err := Load(dir, nil); err == nil {
		t.Fatalf("expected error for a directory")
	}
	if _, err := Load(filepath.Join(dir, "missing.yaml"), nil); err == nil {
		t.Fatalf("expected error for a missing file")
	}
}

func TestParse_VarsOverrideEnvList(t *testing.T) {
	doc := `
env:
  - name: host
    value: prod.example.com
  - name: region
    value: us
host: "{{.env.host}}"
params:
  - region: "{{.env.region}}"
`
	task, err := Parse([]byte(doc), map[string]string{"host": "staging.example.com", "extra": "unused"})
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if *task.Host != "staging.example.com" {
		t.Fatalf("host = %q", *task.Host)
	}
	if task.Params[0].Value != "us" {
		t.Fatalf("params = %+v", task.Params)
	}
}

func TestParse_LiteralBracesInExpressions(t *testing.T) {
	doc := "host: h\ntransformer: '[.response_body.items[] | select(.tag == \"{{\"{{\"}}x}}\")]'\n"
	task, err := Parse([]byte(doc), nil)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if *task.Transformer != `[.response_body.items[] | select(.tag == "{{x}}")]` {
		t.Fatalf("transformer = %q", *task.Transformer)
	}
	_, err = Parse([]byte("host: h\ntransformer: '.tag == \"{{x}}\"'\n"), nil)
	if err == nil || !strings.Contains(err.Error(), "render templates") {
		t.Fatalf("expected template error for bare braces, got %v", err)
	}
}

func TestClientConfig_Httpc(t *testing.T) {
	h, err := ClientConfig{Timeout: time.Second}.Httpc()
	if err != nil || h.TlsConfig != nil || h.Timeout != time.Second {
		t.Fatalf("plain client = %+v, %v", h, err)
	}
	h, err = ClientConfig{Insecure: true, MinTLSVersion: "1.2", MaxTLSVersion: "1.3"}.Httpc()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !h.TlsConfig.InsecureSkipVerify || h.TlsConfig.MinVersion != tls.VersionTLS12 || h.TlsConfig.MaxVersion != tls.VersionTLS13 {
		t.Fatalf("tls = %+v", h.TlsConfig)
	}
	if _, err := (ClientConfig{MinTLSVersion: "1.3", MaxTLSVersion: "1.2"}).Httpc(); err == nil {
		t.Fatalf("expected error for inverted TLS range")
	}
}

func TestLoggingConfig_NewLogger(t *testing.T) {
	if _, err := (LoggingConfig{Level: "debug", Format: "json"}).NewLogger(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := (LoggingConfig{Level: "loud"}).NewLogger(); err == nil {
		t.Fatalf("expected error for invalid level")
	}
	if _, err := (LoggingConfig{Format: "xml"}).NewLogger(); err == nil {
		t.Fatalf("expected error for invalid format")
	}
	if lvl, err := ParseLogLevel("WARNING"); err != nil || lvl.String() != "warn" {
		t.Fatalf("ParseLogLevel(WARNING) = %v, %v", lvl, err)
	}

	on, off := true, false
	lg, err := (LoggingConfig{Color: &on}).NewLogger()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := lg.Handler().(*common.ColorHandler); !ok {
		t.Fatalf("color: true must select the color handler, got %T", lg.Handler())
	}
	lg, _ = (LoggingConfig{Format: "color", Color: &off}).NewLogger()
	if _, ok := lg.Handler().(*common.ColorHandler); ok {
		t.Fatalf("color: false must select the plain handler")
	}
}

func TestLoggingConfig_SetupLogging(t *testing.T) {
	prev := common.GetLogger()
	defer func() {
		common.SetDefaultLogger(prev)
		common.EnableMasking(true)
	}()
	off := false
	if err := (LoggingConfig{Level: "error", MaskSensitive: &off}).SetupLogging(); err != nil {
		t.Fatalf("SetupLogging: %v", err)
	}
	if common.IsMaskingEnabled() || common.GetLogger().Level() != common.LogLevelError {
		t.Fatalf("logging settings not applied")
	}
}
