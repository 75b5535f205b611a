package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ── Durations ──────────────────────────────────────────────
// Config durations accept a Go duration string ("90s", "350ms") or a bare
// number in the field's unit, so `poll_every: 60` means one minute.

// Seconds is a duration whose bare numbers are seconds.
type Seconds time.Duration

// Milliseconds is a duration whose bare numbers are milliseconds.
type Milliseconds time.Duration

// Duration returns d as a time.Duration.
func (d Seconds) Duration() time.Duration { return time.Duration(d) }

func (d Seconds) String() string { return time.Duration(d).String() }

// Duration returns d as a time.Duration.
func (d Milliseconds) Duration() time.Duration { return time.Duration(d) }

func (d Milliseconds) String() string { return time.Duration(d).String() }

func (d *Seconds) UnmarshalJSON(data []byte) error {
	v, err := decodeJSONDuration(data, time.Second)
	if err == nil {
		*d = Seconds(v)
	}
	return err
}

func (d *Milliseconds) UnmarshalJSON(data []byte) error {
	v, err := decodeJSONDuration(data, time.Millisecond)
	if err == nil {
		*d = Milliseconds(v)
	}
	return err
}

func (d *Seconds) UnmarshalYAML(node *yaml.Node) error {
	v, err := ParseDuration(node.Value, time.Second)
	if err == nil {
		*d = Seconds(v)
	}
	return err
}

func (d *Milliseconds) UnmarshalYAML(node *yaml.Node) error {
	v, err := ParseDuration(node.Value, time.Millisecond)
	if err == nil {
		*d = Milliseconds(v)
	}
	return err
}

func (d Seconds) MarshalJSON() ([]byte, error)      { return json.Marshal(d.String()) }
func (d Milliseconds) MarshalJSON() ([]byte, error) { return json.Marshal(d.String()) }

func (d Seconds) MarshalYAML() (any, error)      { return d.String(), nil }
func (d Milliseconds) MarshalYAML() (any, error) { return d.String(), nil }

// ParseDuration reads s as a Go duration string, or as a bare number of
// unit when it has no suffix.
func ParseDuration(s string, unit time.Duration) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty duration")
	}
	if n, err := strconv.ParseFloat(s, 64); err == nil {
		return time.Duration(n * float64(unit)), nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q", s)
	}
	return d, nil
}

// decodeJSONDuration accepts a string or a number; null keeps the zero value.
func decodeJSONDuration(data []byte, unit time.Duration) (time.Duration, error) {
	data = bytes.TrimSpace(data)
	if string(data) == "null" {
		return 0, nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return 0, err
		}
		return ParseDuration(s, unit)
	}
	return ParseDuration(string(data), unit)
}
