package request

import (
	"encoding/json"
	"net"
	"strconv"
	"strings"
)

// Spec describes one concrete HTTP request. A Spec is treated as immutable once
// sent; derive variants with Build or the With* helpers, which copy.
type Spec struct {
	Scheme  Scheme
	Host    string
	Port    *int
	Path    string
	Headers Pairs
	Method  Method
	Params  Pairs
	// Body is a JSON value; HasBody distinguishes an absent body from JSON null.
	Body    any
	HasBody bool
}

// Override carries optional replacements for Spec fields. A nil field is absent
// and inherits the base value; a present list replaces the base list wholesale.
type Override struct {
	Scheme  *Scheme
	Host    *string
	Port    *int
	Path    *string
	Headers Pairs
	Method  *Method
	Params  Pairs
	Body    any
	HasBody bool
}

// Build applies overrides to base in order and returns the resulting Spec.
func Build(base Spec, overrides ...Override) Spec {
	out := base.Clone()
	for _, o := range overrides {
		if o.Scheme != nil {
			out.Scheme = *o.Scheme
		}
		if o.Host != nil {
			out.Host = *o.Host
		}
		if o.Port != nil {
			p := *o.Port
			out.Port = &p
		}
		if o.Path != nil {
			out.Path = *o.Path
		}
		if o.Headers != nil {
			out.Headers = o.Headers.Clone()
		}
		if o.Method != nil {
			out.Method = *o.Method
		}
		if o.Params != nil {
			out.Params = o.Params.Clone()
		}
		if o.HasBody {
			out.Body = o.Body
			out.HasBody = true
		}
	}
	return out
}

// Clone returns a copy whose lists can be modified independently.
func (s Spec) Clone() Spec {
	out := s
	out.Headers = s.Headers.Clone()
	out.Params = s.Params.Clone()
	if s.Port != nil {
		p := *s.Port
		out.Port = &p
	}
	return out
}

// WithParams returns a copy of s using params.
func (s Spec) WithParams(params Pairs) Spec {
	out := s.Clone()
	out.Params = params.Clone()
	return out
}

// WithBody returns a copy of s carrying body. A nil body removes it.
func (s Spec) WithBody(body any) Spec {
	out := s.Clone()
	out.Body = body
	out.HasBody = body != nil
	return out
}

// BaseURL renders scheme://host[:port][/path] without a query string.
func (s Spec) BaseURL() string {
	var sb strings.Builder
	scheme := s.Scheme
	if scheme == "" {
		scheme = SchemeHTTPS
	}
	sb.WriteString(string(scheme))
	sb.WriteString("://")
	if s.Port != nil {
		sb.WriteString(net.JoinHostPort(s.Host, strconv.Itoa(*s.Port)))
	} else {
		sb.WriteString(s.Host)
	}
	if s.Path != "" {
		if !strings.HasPrefix(s.Path, "/") {
			sb.WriteByte('/')
		}
		sb.WriteString(s.Path)
	}
	return sb.String()
}

// URL renders the full request URL with params in declaration order.
func (s Spec) URL() string {
	u := s.BaseURL()
	if len(s.Params) == 0 {
		return u
	}
	return u + "?" + s.Params.Encode()
}

// BodyBytes encodes the JSON body; it returns nil when the request has no body.
func (s Spec) BodyBytes() ([]byte, error) {
	if !s.HasBody {
		return nil, nil
	}
	return json.Marshal(s.Body)
}

// HeaderStrings returns the headers with values rendered as strings, in order.
func (s Spec) HeaderStrings() Pairs {
	out := make(Pairs, 0, len(s.Headers))
	for _, h := range s.Headers {
		out = append(out, Pair{Name: h.Name, Value: ValueString(h.Value)})
	}
	return out
}
