// Package http provides the REST API server and its handlers.
//
// This file implements utilities for parsing and validating request data:
// query parameters shared by the aggregate endpoints and a body parser that
// accepts either JSON or form encoded payloads.

package http

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"finguru/internal/core"
)

const (
	maxBodyBytes      = 64 << 10
	defaultPeriodDays = 30
)

// Accepted layouts for date parameters. A value without a zone is UTC.
var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02",
}

// ParseClientID extracts and validates the client_id query parameter.
func ParseClientID(query url.Values) (string, error) {
	clientID := strings.TrimSpace(query.Get("client_id"))
	if err := core.ValidateClientID(clientID); err != nil {
		return "", err
	}
	return clientID, nil
}

// ParseBankFilter reads the optional bank parameter. It may be repeated or
// comma separated; duplicates are dropped.
func ParseBankFilter(query url.Values) ([]core.BankID, error) {
	var banks []core.BankID
	seen := make(map[core.BankID]bool)
	for _, raw := range query["bank"] {
		for _, name := range strings.Split(raw, ",") {
			if strings.TrimSpace(name) == "" {
				continue
			}
			id, err := core.ParseBankID(name)
			if err != nil {
				return nil, err
			}
			if !seen[id] {
				seen[id] = true
				banks = append(banks, id)
			}
		}
	}
	return banks, nil
}

// ParseBank validates a single bank name, as found in a path segment.
func ParseBank(name string) (core.BankID, error) {
	return core.ParseBankID(name)
}

// ParseTime accepts an ISO-8601 date or date-time.
func ParseTime(field, value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, core.Invalid(field, "must be an ISO-8601 date or date-time, got %q", value)
}

// DateRange is a closed booking date interval.
type DateRange struct {
	From time.Time
	To   time.Time
}

// ParseDateRange reads from/to, defaulting to the 30 days before now. A date
// without a time selects the whole day for to.
func ParseDateRange(query url.Values, now time.Time) (DateRange, error) {
	now = now.UTC()
	rng := DateRange{From: now.AddDate(0, 0, -defaultPeriodDays), To: now}

	if v := strings.TrimSpace(query.Get("from")); v != "" {
		t, err := ParseTime("from", v)
		if err != nil {
			return DateRange{}, err
		}
		rng.From = t
	}
	if v := strings.TrimSpace(query.Get("to")); v != "" {
		t, err := ParseTime("to", v)
		if err != nil {
			return DateRange{}, err
		}
		if isDateOnly(v) {
			t = t.AddDate(0, 0, 1).Add(-time.Nanosecond)
		}
		rng.To = t
	}

	if rng.From.After(rng.To) {
		return DateRange{}, core.Invalid("from", "must not be after to")
	}
	return rng, nil
}

func isDateOnly(v string) bool {
	_, err := time.Parse("2006-01-02", v)
	return err == nil
}

// ParsePeriodParam reads the analytics period, "30d" when absent.
func ParsePeriodParam(query url.Values) (int, error) {
	v := strings.TrimSpace(query.Get("period"))
	if v == "" {
		return defaultPeriodDays, nil
	}
	return core.ParsePeriod(v)
}

// ParseBool reads a boolean flag; absent or malformed values are false.
func ParseBool(query url.Values, key string) bool {
	b, err := strconv.ParseBool(strings.TrimSpace(query.Get(key)))
	return err == nil && b
}

// RequestBodyParser handles different content types for request body parsing.
// It supports both JSON objects and form-encoded data.
type RequestBodyParser struct {
	body        []byte
	contentType string
	jsonData    map[string]any
	formData    url.Values
	parsed      bool
	err         error
}

// NewRequestBodyParser creates a parser for the given request.
// It reads the body once, up to a fixed limit.
func NewRequestBodyParser(r *http.Request) *RequestBodyParser {
	p := &RequestBodyParser{
		contentType: r.Header.Get("Content-Type"),
	}
	if r.Body != nil {
		p.body, p.err = io.ReadAll(io.LimitReader(r.Body, maxBodyBytes+1))
		if p.err == nil && len(p.body) > maxBodyBytes {
			p.err = core.Invalid("body", "exceeds %d bytes", maxBodyBytes)
		}
	}
	return p
}

// Parse attempts to parse the body as JSON or form data.
func (p *RequestBodyParser) Parse() error {
	if p.parsed {
		return p.err
	}
	p.parsed = true

	if p.err != nil {
		return p.err
	}

	trimmed := bytes.TrimSpace(p.body)
	if len(trimmed) == 0 {
		p.formData = url.Values{}
		return nil
	}

	if trimmed[0] == '{' {
		dec := json.NewDecoder(bytes.NewReader(trimmed))
		dec.UseNumber()
		p.jsonData = make(map[string]any)
		if err := dec.Decode(&p.jsonData); err != nil {
			p.err = core.Invalid("body", "malformed JSON: %v", err)
			return p.err
		}
		return nil
	}

	if trimmed[0] == '[' {
		p.err = core.Invalid("body", "must be a JSON object")
		return p.err
	}

	p.formData, p.err = url.ParseQuery(string(trimmed))
	if p.err != nil {
		p.err = core.Invalid("body", "malformed form data: %v", p.err)
	}
	return p.err
}

// Get returns a string value from the parsed data (JSON or form).
func (p *RequestBodyParser) Get(key string) string {
	if p.jsonData != nil {
		if val, ok := p.jsonData[key]; ok {
			return strings.TrimSpace(sanitizeInput(stringValue(val)))
		}
		return ""
	}
	if p.formData != nil {
		return strings.TrimSpace(sanitizeInput(p.formData.Get(key)))
	}
	return ""
}

// Strings returns a list value: a JSON array of strings, a repeated form key
// or a comma separated string.
func (p *RequestBodyParser) Strings(key string) []string {
	var raw []string
	switch {
	case p.jsonData != nil:
		switch v := p.jsonData[key].(type) {
		case []any:
			for _, item := range v {
				raw = append(raw, stringValue(item))
			}
		case string:
			raw = strings.Split(v, ",")
		}
	case p.formData != nil:
		for _, v := range p.formData[key] {
			raw = append(raw, strings.Split(v, ",")...)
		}
	}

	var out []string
	for _, s := range raw {
		if s = strings.TrimSpace(sanitizeInput(s)); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// Decimal reads a numeric value without going through float64.
func (p *RequestBodyParser) Decimal(key string) (decimal.Decimal, error) {
	v := p.Get(key)
	if v == "" {
		return decimal.Decimal{}, core.Invalid(key, "is required")
	}
	d, err := decimal.NewFromString(v)
	if err != nil {
		return decimal.Decimal{}, core.Invalid(key, "must be a number, got %q", v)
	}
	return d, nil
}

// IsJSON returns true if the parsed content was JSON.
func (p *RequestBodyParser) IsJSON() bool {
	return p.jsonData != nil
}

// stringValue converts a decoded JSON value to string.
func stringValue(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case json.Number:
		return val.String()
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(val)
	default:
		return ""
	}
}
