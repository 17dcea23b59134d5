package request

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"net/url"
	"strconv"
	"strings"

	"github.com/samber/lo"
)

// Pair is one declared header or query parameter. Values of query parameters
// may be any JSON-like value; headers always carry strings.
type Pair struct {
	Name  string
	Value any
}

// Pairs keeps declaration order and duplicate names, e.g. ?id=1&id=2.
type Pairs []Pair

// Clone returns a copy of the list; values are shared.
func (p Pairs) Clone() Pairs {
	if p == nil {
		return nil
	}
	out := make(Pairs, len(p))
	copy(out, p)
	return out
}

// Append returns a new list with more appended after p.
func (p Pairs) Append(more ...Pair) Pairs {
	out := make(Pairs, 0, len(p)+len(more))
	out = append(out, p...)
	return append(out, more...)
}

// Without returns a new list with every pair called name removed.
func (p Pairs) Without(name string) Pairs {
	return lo.Filter(p, func(pr Pair, _ int) bool { return pr.Name != name })
}

// Names returns the pair names in declaration order, duplicates included.
func (p Pairs) Names() []string {
	return lo.Map(p, func(pr Pair, _ int) string { return pr.Name })
}

// Encode renders the pairs as a URL query string without reordering.
// url.Values is not used because it sorts keys on encoding.
func (p Pairs) Encode() string {
	var sb strings.Builder
	for i, pr := range p {
		if i > 0 {
			sb.WriteByte('&')
		}
		sb.WriteString(url.QueryEscape(pr.Name))
		sb.WriteByte('=')
		sb.WriteString(url.QueryEscape(ValueString(pr.Value)))
	}
	return sb.String()
}

// Object renders the pairs as a JSON object for expression contexts. A name
// declared once maps to its value; a repeated name maps to an array of values.
func (p Pairs) Object() map[string]any {
	out := make(map[string]any, len(p))
	counts := lo.CountValues(p.Names())
	for _, pr := range p {
		if counts[pr.Name] > 1 {
			arr, _ := out[pr.Name].([]any)
			out[pr.Name] = append(arr, pr.Value)
			continue
		}
		out[pr.Name] = pr.Value
	}
	return out
}

// FromSingletonMaps converts the configuration form [{name: value}, ...] into Pairs.
// Every element must hold exactly one entry.
func FromSingletonMaps(list []map[string]any) (Pairs, error) {
	out := make(Pairs, 0, len(list))
	for i, m := range list {
		if len(m) != 1 {
			return nil, fmt.Errorf("entry %d: expected exactly one key, got %d", i, len(m))
		}
		for k, v := range m {
			if strings.TrimSpace(k) == "" {
				return nil, fmt.Errorf("entry %d: empty name", i)
			}
			out = append(out, Pair{Name: k, Value: v})
		}
	}
	return out, nil
}

// ValueString renders a parameter value the way it appears on the wire.
func ValueString(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case bool:
		return strconv.FormatBool(val)
	case int:
		return strconv.Itoa(val)
	case int64:
		return strconv.FormatInt(val, 10)
	case json.Number:
		return val.String()
	case float64:
		// Avoid scientific notation for integers
		if val == math.Trunc(val) && math.Abs(val) < 1e15 {
			return strconv.FormatInt(int64(val), 10)
		}
		return strconv.FormatFloat(val, 'f', -1, 64)
	case fmt.Stringer:
		return val.String()
	default:
		b, err := json.Marshal(val)
		if err != nil {
			return fmt.Sprintf("%v", val)
		}
		return string(bytes.TrimSpace(b))
	}
}
