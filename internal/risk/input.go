package risk

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/mbd888/riskdesk/internal/validation"
)

// ErrInvalidInput is returned when a supplied counter is not a
// non-negative integer.
var ErrInvalidInput = errors.New("invalid input")

// InputError lists every offending field of a rejected request.
type InputError struct {
	Fields validation.ValidationErrors
}

func (e *InputError) Error() string {
	return fmt.Sprintf("%s: %s", ErrInvalidInput, e.Fields.Error())
}

func (e *InputError) Unwrap() error {
	return ErrInvalidInput
}

// InputPolicy decides what happens to negative counters at the boundary.
type InputPolicy string

const (
	InputPolicyReject InputPolicy = "reject"
	InputPolicyClamp  InputPolicy = "clamp"
)

// ParseInputPolicy maps a config value to an InputPolicy.
func ParseInputPolicy(s string) (InputPolicy, error) {
	switch InputPolicy(s) {
	case InputPolicyReject, "":
		return InputPolicyReject, nil
	case InputPolicyClamp:
		return InputPolicyClamp, nil
	default:
		return "", fmt.Errorf("unknown input policy %q (want reject or clamp)", s)
	}
}

// SignalsRequest is the wire form of Signals. Every field is optional; each
// holds the raw JSON value so type errors can be reported per field.
type SignalsRequest struct {
	AccountAgeDays     json.RawMessage `json:"account_age_days"`
	WithdrawalAttempts json.RawMessage `json:"withdrawal_attempts"`
	GeoSwitches        json.RawMessage `json:"geo_switches"`
	ProfileChanges     json.RawMessage `json:"profile_changes"`
}

// ParseRequest converts a request into Signals. Absent fields are zero.
// Under InputPolicyClamp, negative values become zero and their field names
// are returned so the caller can flag the adjustment.
func ParseRequest(req SignalsRequest, policy InputPolicy) (Signals, []string, error) {
	var (
		out     Signals
		errs    validation.ValidationErrors
		clamped []string
	)

	fields := []struct {
		name string
		raw  json.RawMessage
		dst  *int
	}{
		{"account_age_days", req.AccountAgeDays, &out.AccountAgeDays},
		{"withdrawal_attempts", req.WithdrawalAttempts, &out.WithdrawalAttempts},
		{"geo_switches", req.GeoSwitches, &out.GeoSwitches},
		{"profile_changes", req.ProfileChanges, &out.ProfileChanges},
	}

	for _, f := range fields {
		n, present, err := parseValue(f.raw)
		if !present {
			continue
		}
		if err != nil {
			errs = append(errs, validation.ValidationError{Field: f.name, Message: err.Error()})
			continue
		}
		if n < 0 {
			if policy != InputPolicyClamp {
				errs = append(errs, validation.ValidationError{Field: f.name, Message: "must not be negative"})
				continue
			}
			clamped = append(clamped, f.name)
			n = 0
		}
		*f.dst = n
	}

	if len(errs) > 0 {
		return Signals{}, nil, &InputError{Fields: errs}
	}
	return out, clamped, nil
}

// parseValue decodes one counter. Absent and null values are not present.
// Numbers and numeric strings are accepted; booleans, objects and arrays
// are not.
func parseValue(raw json.RawMessage) (n int, present bool, err error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return 0, false, nil
	}

	switch c := raw[0]; {
	case c == '"':
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return 0, true, errors.New("must be a number")
		}
		s = strings.TrimSpace(s)
		if s == "" || strings.Trim(s, "0123456789.eE+-") != "" {
			return 0, true, errors.New("must be a number")
		}
		n, err := parseCount(s)
		return n, true, err
	case c == '-' || (c >= '0' && c <= '9'):
		n, err := parseCount(string(raw))
		return n, true, err
	default:
		return 0, true, errors.New("must be a number")
	}
}

// parseCount accepts integer literals, including integral floats like "3.0".
func parseCount(s string) (int, error) {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, errors.New("must be a number")
	}
	if f > maxCount || f < -maxCount {
		return 0, errors.New("is out of range")
	}
	if f != math.Trunc(f) {
		return 0, errors.New("must be an integer")
	}
	return int(f), nil
}

const maxCount = 1 << 31
