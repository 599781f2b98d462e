package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// ErrUnsuccessful is returned when the backend answers with success:false.
var ErrUnsuccessful = errors.New("backend reported failure")

// envelope is the {success, data, message} wrapper most endpoints use.
// Some deployments return the bare data array instead.
type envelope struct {
	Success *bool           `json:"success"`
	Data    json.RawMessage `json:"data"`
	Message string          `json:"message"`
}

// unwrapList returns the JSON array carried by body, with or without envelope.
func unwrapList(body []byte) (json.RawMessage, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return json.RawMessage("[]"), nil
	}
	if trimmed[0] == '[' {
		return trimmed, nil
	}

	var env envelope
	if err := json.Unmarshal(trimmed, &env); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	if env.Success != nil && !*env.Success {
		if env.Message != "" {
			return nil, fmt.Errorf("%w: %s", ErrUnsuccessful, env.Message)
		}
		return nil, ErrUnsuccessful
	}

	data := bytes.TrimSpace(env.Data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return json.RawMessage("[]"), nil
	}
	if data[0] != '[' {
		return nil, fmt.Errorf("failed to decode response: data is not a list")
	}
	return data, nil
}

// checkAck inspects a write response body for success:false.
func checkAck(body []byte) error {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil
	}
	var env envelope
	if err := json.Unmarshal(trimmed, &env); err != nil {
		return nil
	}
	if env.Success != nil && !*env.Success {
		if env.Message != "" {
			return fmt.Errorf("%w: %s", ErrUnsuccessful, env.Message)
		}
		return ErrUnsuccessful
	}
	return nil
}

// maxFlexInt bounds decoded integers to the range a float64 holds exactly.
const maxFlexInt = 1 << 53

// flexInt accepts a JSON number, a numeric string or null. Anything else,
// including numbers out of range, decodes as absent.
type flexInt struct {
	Value int
	Set   bool
}

func (f *flexInt) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(string(b))
	if s == "null" || s == `""` {
		*f = flexInt{}
		return nil
	}
	s = strings.Trim(s, `"`)

	if n, err := strconv.Atoi(s); err == nil {
		*f = flexInt{Value: n, Set: true}
		return nil
	}
	fl, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(fl) || math.Abs(fl) > maxFlexInt {
		log.Warningf("Ignoring invalid integer %q", s)
		*f = flexInt{}
		return nil
	}
	*f = flexInt{Value: int(fl), Set: true}
	return nil
}

// Ptr returns nil when the value was absent.
func (f flexInt) Ptr() *int {
	if !f.Set {
		return nil
	}
	v := f.Value
	return &v
}

// flexString accepts a JSON string or number.
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(string(b))
	if s == "null" {
		*f = ""
		return nil
	}
	if strings.HasPrefix(s, `"`) {
		var str string
		if err := json.Unmarshal(b, &str); err != nil {
			return err
		}
		*f = flexString(str)
		return nil
	}
	*f = flexString(s)
	return nil
}

// flexAreas accepts a single code, a comma separated list or an array of codes.
// Other shapes decode as no areas.
type flexAreas []string

func (f *flexAreas) UnmarshalJSON(b []byte) error {
	trimmed := bytes.TrimSpace(b)
	if bytes.Equal(trimmed, []byte("null")) {
		*f = nil
		return nil
	}
	if len(trimmed) > 0 && trimmed[0] == '{' {
		log.Warningf("Ignoring area code object %s", trimmed)
		*f = nil
		return nil
	}

	var raw []string
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var items []flexString
		if err := json.Unmarshal(trimmed, &items); err != nil {
			log.Warningf("Ignoring invalid area list: %v", err)
			*f = nil
			return nil
		}
		for _, it := range items {
			raw = append(raw, strings.Split(string(it), ",")...)
		}
	} else {
		var s flexString
		if err := json.Unmarshal(trimmed, &s); err != nil {
			log.Warningf("Ignoring invalid area code: %v", err)
			*f = nil
			return nil
		}
		raw = strings.Split(string(s), ",")
	}

	var out []string
	for _, a := range raw {
		if a = strings.TrimSpace(a); a != "" {
			out = append(out, a)
		}
	}
	*f = out
	return nil
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.000",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// flexTime accepts ISO8601 variants, an empty string or null. Unparseable
// timestamps decode as absent.
type flexTime struct {
	Time *time.Time
}

func (f *flexTime) UnmarshalJSON(b []byte) error {
	s := strings.Trim(strings.TrimSpace(string(b)), `"`)
	if s == "" || s == "null" {
		f.Time = nil
		return nil
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			f.Time = &t
			return nil
		}
	}
	log.Warningf("Ignoring invalid timestamp %q", s)
	f.Time = nil
	return nil
}

// Value returns the zero time when absent.
func (f flexTime) Value() time.Time {
	if f.Time == nil {
		return time.Time{}
	}
	return *f.Time
}
