package env

import (
	"bytes"
	"fmt"
	"os"
	"strings"
	"text/template"
)

type Map map[string]string

// New returns an Env with both layers initialized.
func New() *Env {
	return &Env{Global: Map{}, Local: Map{}}
}

// Env holds template variables in two layers:
// - Global: variables declared in the task document's env list
// - Local: variables set for a single invocation (--set name=value), overriding Global
// Zero values (nil maps) are handled gracefully.
type Env struct {
	Global Map
	Local  Map
}

// Var is one entry of the task document's env list. ValueFromEnv names a
// process environment variable used when Value is empty.
type Var struct {
	Name         string `mapstructure:"name" yaml:"name"`
	Value        string `mapstructure:"value" yaml:"value"`
	ValueFromEnv string `mapstructure:"valueFromEnv" yaml:"valueFromEnv"`
}

// FromVars builds an Env whose Global layer holds vars, resolving
// valueFromEnv against the process environment. locals fill the Local layer.
func FromVars(vars []Var, locals Map) (*Env, error) {
	e := New()
	for i, v := range vars {
		name := strings.TrimSpace(v.Name)
		if name == "" {
			return nil, fmt.Errorf("env[%d]: name is required", i)
		}
		val := v.Value
		if from := strings.TrimSpace(v.ValueFromEnv); val == "" && from != "" {
			got, ok := os.LookupEnv(from)
			if !ok {
				return nil, fmt.Errorf("env[%d] %s: environment variable %s is not set", i, name, from)
			}
			val = got
		}
		if err := e.SetString("global", name, val); err != nil {
			return nil, err
		}
	}
	for k, v := range locals {
		if err := e.SetString("local", k, v); err != nil {
			return nil, err
		}
	}
	return e, nil
}

// ParseAssignments turns name=value strings into a Map. The value may be empty
// and may itself contain '='.
func ParseAssignments(list []string) (Map, error) {
	out := Map{}
	for _, item := range list {
		name, value, ok := strings.Cut(item, "=")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return nil, fmt.Errorf("invalid assignment %q, expected name=value", item)
		}
		out[name] = value
	}
	return out, nil
}

// SetString stores key in the named layer ("global" or "local").
func (e *Env) SetString(layer, key, value string) error {
	switch layer {
	case "global":
		if e.Global == nil {
			e.Global = Map{}
		}
		e.Global[key] = value
	case "local":
		if e.Local == nil {
			e.Local = Map{}
		}
		e.Local[key] = value
	default:
		return fmt.Errorf("unknown env layer %q", layer)
	}
	return nil
}

// merged returns Global overridden by Local.
func (e *Env) merged() map[string]string {
	m := map[string]string{}
	if e == nil {
		return m
	}
	for k, v := range e.Global {
		m[k] = v
	}
	for k, v := range e.Local {
		m[k] = v
	}
	return m
}

// RenderGoTemplate renders {{.env.name}} references in s. Strings without "{{"
// are returned as is; a missing key is an error. A literal "{{" is written as
// {{"{{"}}. text/template is used so JSON and jq text are never HTML-escaped.
func (e *Env) RenderGoTemplate(s string) (string, error) {
	if !strings.Contains(s, "{{") {
		return s, nil
	}
	t, err := template.New("gotmpl").Option("missingkey=error").Parse(s)
	if err != nil {
		return "", fmt.Errorf("%w (write a literal {{ as {{\"{{\"}})", err)
	}
	var buf bytes.Buffer
	if err := t.Execute(&buf, map[string]any{"env": e.merged()}); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// RenderAny walks maps and slices decoded from YAML and renders every string
// value. Keys are left untouched.
func (e *Env) RenderAny(in any) (any, error) {
	switch t := in.(type) {
	case map[string]any:
		m := make(map[string]any, len(t))
		for k, v := range t {
			r, err := e.RenderAny(v)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", k, err)
			}
			m[k] = r
		}
		return m, nil
	case []any:
		arr := make([]any, len(t))
		for i, v := range t {
			r, err := e.RenderAny(v)
			if err != nil {
				return nil, fmt.Errorf("[%d]: %w", i, err)
			}
			arr[i] = r
		}
		return arr, nil
	case string:
		return e.RenderGoTemplate(t)
	default:
		return in, nil
	}
}
