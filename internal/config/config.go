// Package config loads an ingestion task document: YAML, rendered with the
// env list as Go templates, decoded with mapstructure, defaulted and validated.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/loykin/apingest/internal/env"
	"github.com/loykin/apingest/internal/request"
	"gopkg.in/yaml.v3"
)

// RequestConfig is the request part shared by the task and its prepare requests.
// Nil fields are absent; HasBody records whether a body key was present.
type RequestConfig struct {
	Scheme  *string       `mapstructure:"scheme" yaml:"scheme"`
	Host    *string       `mapstructure:"host" yaml:"host"`
	Port    *int          `mapstructure:"port" yaml:"port"`
	Path    *string       `mapstructure:"path" yaml:"path"`
	Headers request.Pairs `mapstructure:"headers" yaml:"headers"`
	Method  *string       `mapstructure:"method" yaml:"method"`
	Params  request.Pairs `mapstructure:"params" yaml:"params"`
	Body    any           `mapstructure:"body" yaml:"body"`
	HasBody bool          `mapstructure:"-" yaml:"-"`
}

type RetryConfig struct {
	Condition             *string `mapstructure:"condition" yaml:"condition"`
	MaxRetries            *int    `mapstructure:"max_retries" yaml:"max_retries"`
	InitialIntervalMillis *int    `mapstructure:"initial_interval_millis" yaml:"initial_interval_millis"`
	MaxIntervalMillis     *int    `mapstructure:"max_interval_millis" yaml:"max_interval_millis"`
}

type PagerConfig struct {
	InitialParams       request.Pairs `mapstructure:"initial_params" yaml:"initial_params"`
	NextParams          request.Pairs `mapstructure:"next_params" yaml:"next_params"`
	NextParamsMode      string        `mapstructure:"next_params_mode" yaml:"next_params_mode"` // expression (default) or literal
	NextBodyTransformer *string       `mapstructure:"next_body_transformer" yaml:"next_body_transformer"`
	While               *string       `mapstructure:"while" yaml:"while"`
	IntervalMillis      *int64        `mapstructure:"interval_millis" yaml:"interval_millis"`
}

type PrepareRequestConfig struct {
	Name             string       `mapstructure:"name" yaml:"name"`
	SuccessCondition *string      `mapstructure:"success_condition" yaml:"success_condition"`
	Retry            *RetryConfig `mapstructure:"retry" yaml:"retry"`

	RequestConfig `mapstructure:",squash" yaml:",inline"`
}

type AssignToConfig struct {
	// Params maps a param name to a jq expression over the prepare results.
	Params request.Pairs `mapstructure:"params" yaml:"params"`
	// Body is a jq expression whose result replaces the main request body.
	Body string `mapstructure:"body" yaml:"body"`
}

type PrepareConfig struct {
	Requests []PrepareRequestConfig `mapstructure:"requests" yaml:"requests"`
	AssignTo AssignToConfig         `mapstructure:"assign_to" yaml:"assign_to"`
}

type ClientConfig struct {
	Insecure      bool          `mapstructure:"insecure" yaml:"insecure"`
	MinTLSVersion string        `mapstructure:"min_tls_version" yaml:"min_tls_version"`
	MaxTLSVersion string        `mapstructure:"max_tls_version" yaml:"max_tls_version"`
	Timeout       time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

type LoggingConfig struct {
	Level         string `mapstructure:"level" yaml:"level"`                   // error, warn, info, debug
	Format        string `mapstructure:"format" yaml:"format"`                 // text, json, color
	MaskSensitive *bool  `mapstructure:"mask_sensitive" yaml:"mask_sensitive"` // enable/disable sensitive data masking
	Color         *bool  `mapstructure:"color" yaml:"color"`                   // enable/disable colorized output
}

type OutputConfig struct {
	Type      string `mapstructure:"type" yaml:"type"` // stdout, jsonl, sqlite, postgres
	Path      string `mapstructure:"path" yaml:"path"` // jsonl file or sqlite database
	DSN       string `mapstructure:"dsn" yaml:"dsn"`   // postgres connection string
	Table     string `mapstructure:"table" yaml:"table"`
	RunsTable string `mapstructure:"runs_table" yaml:"runs_table"`
}

// Task is one ingestion document.
type Task struct {
	Env     []env.Var     `mapstructure:"env" yaml:"env"`
	Client  ClientConfig  `mapstructure:"client" yaml:"client"`
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`
	Output  OutputConfig  `mapstructure:"output" yaml:"output"`

	RequestConfig `mapstructure:",squash" yaml:",inline"`

	SuccessCondition            *string         `mapstructure:"success_condition" yaml:"success_condition"`
	Transformer                 *string         `mapstructure:"transformer" yaml:"transformer"`
	TransformedJSONColumnName   *string         `mapstructure:"transformed_json_column_name" yaml:"transformed_json_column_name"`
	ExtractTransformedJSONArray *bool           `mapstructure:"extract_transformed_json_array" yaml:"extract_transformed_json_array"`
	Pager                       PagerConfig     `mapstructure:"pager" yaml:"pager"`
	Retry                       RetryConfig     `mapstructure:"retry" yaml:"retry"`
	ShowRequestBodyOnError      *bool           `mapstructure:"show_request_body_on_error" yaml:"show_request_body_on_error"`
	Prepare                     []PrepareConfig `mapstructure:"prepare" yaml:"prepare"`

	// Type-coercion defaults for downstream consumers of the rows.
	DefaultTimezone        string `mapstructure:"default_timezone" yaml:"default_timezone"`
	DefaultTimestampFormat string `mapstructure:"default_timestamp_format" yaml:"default_timestamp_format"`
	DefaultDate            string `mapstructure:"default_date" yaml:"default_date"`
}

// Load reads and parses the task document at path. vars override the
// document's env list when templates are rendered.
func Load(path string, vars env.Map) (*Task, error) {
	clean := filepath.Clean(path)
	// Ensure path points to a regular file to avoid opening directories/special files
	info, err := os.Stat(clean)
	if err != nil {
		return nil, err
	}
	if !info.Mode().IsRegular() {
		return nil, fmt.Errorf("not a regular file: %s", clean)
	}
	// #nosec G304 -- config path is provided intentionally by the user; cleaned and validated above
	data, err := os.ReadFile(clean)
	if err != nil {
		return nil, err
	}
	t, err := Parse(data, vars)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", clean, err)
	}
	return t, nil
}

// Parse decodes a YAML task document.
func Parse(data []byte, vars env.Map) (*Task, error) {
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to decode YAML task configuration: %w", err)
	}
	if raw == nil {
		raw = map[string]any{}
	}
	return FromMap(raw, vars)
}

// FromMap renders string values with the document's env list overridden by
// vars, decodes raw into a Task, applies defaults and validates the result.
// Every string is a template once it contains "{{", jq expressions included.
func FromMap(raw map[string]any, vars env.Map) (*Task, error) {
	var declared struct {
		Env []env.Var `mapstructure:"env"`
	}
	if err := decode(map[string]any{"env": raw["env"]}, &declared, false); err != nil {
		return nil, err
	}
	e, err := env.FromVars(declared.Env, vars)
	if err != nil {
		return nil, err
	}

	body := make(map[string]any, len(raw))
	for k, v := range raw {
		if k != "env" {
			body[k] = v
		}
	}
	rendered, err := e.RenderAny(body)
	if err != nil {
		return nil, fmt.Errorf("render templates: %w", err)
	}
	doc := rendered.(map[string]any)
	doc["env"] = raw["env"]

	t := &Task{}
	if err := decode(doc, t, true); err != nil {
		return nil, err
	}
	markBodies(doc, t)
	t.applyDefaults()
	if err := t.Validate(); err != nil {
		return nil, err
	}
	return t, nil
}

func decode(in any, out any, strict bool) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			pairsHook(),
			mapstructure.StringToTimeDurationHookFunc(),
		),
		ErrorUnused: strict,
		Result:      out,
	})
	if err != nil {
		return err
	}
	if err := dec.Decode(in); err != nil {
		return fmt.Errorf("decode task configuration: %w", err)
	}
	return nil
}

var pairsType = reflect.TypeOf(request.Pairs{})

// pairsHook turns the document form [{name: value}, ...] into request.Pairs,
// keeping order and duplicate names.
func pairsHook() mapstructure.DecodeHookFuncType {
	return func(_ reflect.Type, to reflect.Type, data any) (any, error) {
		if to != pairsType {
			return data, nil
		}
		list, ok := data.([]any)
		if !ok {
			return data, nil
		}
		maps := make([]map[string]any, 0, len(list))
		for i, el := range list {
			m, ok := el.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("entry %d: expected a single-key mapping, got %T", i, el)
			}
			maps = append(maps, m)
		}
		return request.FromSingletonMaps(maps)
	}
}

// markBodies records which request configs carried a body key, so an explicit
// null body is kept apart from an absent one.
func markBodies(doc map[string]any, t *Task) {
	_, t.HasBody = doc["body"]
	groups, _ := doc["prepare"].([]any)
	for gi := range t.Prepare {
		if gi >= len(groups) {
			break
		}
		g, _ := groups[gi].(map[string]any)
		reqs, _ := g["requests"].([]any)
		for ri := range t.Prepare[gi].Requests {
			if ri >= len(reqs) {
				break
			}
			r, _ := reqs[ri].(map[string]any)
			_, t.Prepare[gi].Requests[ri].HasBody = r["body"]
		}
	}
}
