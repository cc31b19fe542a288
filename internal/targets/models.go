package targets

import (
	"bytes"
	"encoding/json"
	"fmt"
	"slices"
	"strconv"
	"strings"
)

// SetRule is a set-membership rule, {"$in": [...]} on the wire. Other
// operators are not evaluated but are kept verbatim in Ops.
type SetRule struct {
	In  []string
	Ops map[string]json.RawMessage
}

const opIn = "$in"

func (r SetRule) Contains(v string) bool { return slices.Contains(r.In, v) }

func (r SetRule) MarshalJSON() ([]byte, error) {
	in := r.In
	if in == nil {
		in = []string{}
	}
	out := make(map[string]any, len(r.Ops)+1)
	for k, v := range r.Ops {
		out[k] = v
	}
	out[opIn] = in
	return json.Marshal(out)
}

// UnmarshalJSON accepts numeric members ({"$in": [10, "11"]}) and stores
// them in their decimal string form.
func (r *SetRule) UnmarshalJSON(data []byte) error {
	*r = SetRule{}
	if isNull(data) {
		return nil
	}
	var ops map[string]json.RawMessage
	if err := json.Unmarshal(data, &ops); err != nil {
		return err
	}

	var members []json.RawMessage
	if raw, ok := ops[opIn]; ok {
		if err := json.Unmarshal(raw, &members); err != nil {
			return fmt.Errorf("%s: %w", opIn, err)
		}
		delete(ops, opIn)
	}
	r.In = make([]string, 0, len(members))
	for _, m := range members {
		s, err := scalarString(m)
		if err != nil {
			return fmt.Errorf("%s member %s: %w", opIn, m, err)
		}
		r.In = append(r.In, s)
	}
	if len(ops) > 0 {
		r.Ops = ops
	}
	return nil
}

// Criteria is what a target accepts. Keys other than geoState and hour
// are kept verbatim in Extra.
type Criteria struct {
	GeoState SetRule
	Hour     SetRule
	Extra    map[string]json.RawMessage
}

const (
	criteriaGeo  = "geoState"
	criteriaHour = "hour"
)

func (c Criteria) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(c.Extra)+2)
	for k, v := range c.Extra {
		out[k] = v
	}
	out[criteriaGeo] = c.GeoState
	out[criteriaHour] = c.Hour
	return json.Marshal(out)
}

func (c *Criteria) UnmarshalJSON(data []byte) error {
	*c = Criteria{}
	if isNull(data) {
		return nil
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}
	for k, raw := range fields {
		var err error
		switch k {
		case criteriaGeo:
			err = c.GeoState.UnmarshalJSON(raw)
		case criteriaHour:
			err = c.Hour.UnmarshalJSON(raw)
		default:
			if c.Extra == nil {
				c.Extra = make(map[string]json.RawMessage)
			}
			c.Extra[k] = raw
		}
		if err != nil {
			return fmt.Errorf("%s: %w", k, err)
		}
	}
	return nil
}

// Target is an advertiser endpoint. Top-level fields other than the
// four known ones are kept verbatim in Attributes.
type Target struct {
	ID               string
	URL              string
	MaxAcceptsPerDay int64
	Accept           Criteria
	Attributes       map[string]json.RawMessage
}

const (
	fieldID     = "id"
	fieldURL    = "url"
	fieldMax    = "maxAcceptsPerDay"
	fieldAccept = "accept"
)

func (t Target) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(t.Attributes)+4)
	for k, v := range t.Attributes {
		out[k] = v
	}
	out[fieldID] = t.ID
	out[fieldURL] = t.URL
	out[fieldMax] = t.MaxAcceptsPerDay
	out[fieldAccept] = t.Accept
	return json.Marshal(out)
}

func (t *Target) UnmarshalJSON(data []byte) error {
	p, err := ParsePatch(data)
	if err != nil {
		return err
	}
	*t = Merge(Target{}, p)
	return nil
}

// Parse decodes a target from a request body or a stored value.
func Parse(data []byte) (Target, error) {
	var t Target
	if err := json.Unmarshal(data, &t); err != nil {
		return Target{}, err
	}
	return t, nil
}

// Patch is a partial target. Nil fields are left untouched by Merge.
type Patch struct {
	ID               *string
	URL              *string
	MaxAcceptsPerDay *int64
	Accept           *Criteria
	Attributes       map[string]json.RawMessage
}

// ParsePatch decodes a JSON object, keeping track of which fields were sent.
func ParsePatch(data []byte) (Patch, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return Patch{}, err
	}
	if fields == nil {
		return Patch{}, fmt.Errorf("%w: target must be a JSON object", ErrValidation)
	}

	var p Patch
	for k, raw := range fields {
		switch k {
		case fieldID:
			s, err := scalarString(raw)
			if err != nil {
				return Patch{}, fmt.Errorf("%w: id: %w", ErrValidation, err)
			}
			p.ID = &s
		case fieldURL:
			var s string
			if !isNull(raw) {
				if err := json.Unmarshal(raw, &s); err != nil {
					return Patch{}, fmt.Errorf("%w: url: %w", ErrValidation, err)
				}
			}
			p.URL = &s
		case fieldMax:
			n, err := parseCount(raw)
			if err != nil {
				return Patch{}, fmt.Errorf("%w: maxAcceptsPerDay: %w", ErrValidation, err)
			}
			p.MaxAcceptsPerDay = &n
		case fieldAccept:
			var c Criteria
			if !isNull(raw) {
				if err := json.Unmarshal(raw, &c); err != nil {
					return Patch{}, fmt.Errorf("%w: accept: %w", ErrValidation, err)
				}
			}
			p.Accept = &c
		default:
			if p.Attributes == nil {
				p.Attributes = make(map[string]json.RawMessage)
			}
			p.Attributes[k] = raw
		}
	}
	return p, nil
}

// Merge lays p over t: every field present in p replaces the one in t,
// accept included as a whole. Attributes merge key by key.
func Merge(t Target, p Patch) Target {
	out := t
	if p.ID != nil {
		out.ID = *p.ID
	}
	if p.URL != nil {
		out.URL = *p.URL
	}
	if p.MaxAcceptsPerDay != nil {
		out.MaxAcceptsPerDay = *p.MaxAcceptsPerDay
	}
	if p.Accept != nil {
		out.Accept = *p.Accept
	}
	if len(t.Attributes)+len(p.Attributes) > 0 {
		out.Attributes = make(map[string]json.RawMessage, len(t.Attributes)+len(p.Attributes))
		for k, v := range t.Attributes {
			out.Attributes[k] = v
		}
		for k, v := range p.Attributes {
			out.Attributes[k] = v
		}
	}
	return out
}

func isNull(raw json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}

// scalarString renders a JSON string or number as a string.
func scalarString(raw json.RawMessage) (string, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, nil
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return "", fmt.Errorf("want string or number, got %s", raw)
	}
	return n.String(), nil
}

// parseCount accepts 10, 10.0 and "10".
func parseCount(raw json.RawMessage) (int64, error) {
	if isNull(raw) {
		return 0, nil
	}
	s, err := scalarString(raw)
	if err != nil {
		return 0, err
	}
	s = strings.TrimSpace(s)
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || f != float64(int64(f)) {
		return 0, fmt.Errorf("%q is not an integer", s)
	}
	return int64(f), nil
}
