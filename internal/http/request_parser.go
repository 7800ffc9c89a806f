// Package http provides HTTP server and handler implementations.
//
// This file turns submitted form or JSON bodies into service inputs.

package http

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"cutpro/internal/core"
	"cutpro/internal/services"
)

const (
	dateLayout     = "2006-01-02"
	maxRequestBody = 64 << 10
)

var errInvalidDate = errors.New("invalid date")

// RequestBodyParser handles different content types for request body parsing.
// It supports both JSON and form-encoded data, commonly used with HTMX.
type RequestBodyParser struct {
	body        []byte
	contentType string
	jsonData    map[string]interface{}
	formData    url.Values
	parsed      bool
	err         error
}

// NewRequestBodyParser reads at most 64 KiB of the request body once.
func NewRequestBodyParser(r *http.Request) *RequestBodyParser {
	p := &RequestBodyParser{
		contentType: r.Header.Get("Content-Type"),
	}
	p.body, p.err = io.ReadAll(io.LimitReader(r.Body, maxRequestBody))
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

	if len(p.body) == 0 {
		p.formData = url.Values{}
		return nil
	}

	if p.body[0] == '{' || strings.HasPrefix(p.contentType, "application/json") {
		p.jsonData = make(map[string]interface{})
		if err := json.Unmarshal(p.body, &p.jsonData); err != nil {
			p.jsonData = nil
			p.err = err
			return err
		}
		return nil
	}

	p.formData, p.err = url.ParseQuery(string(p.body))
	return p.err
}

// Get returns a sanitized string value from the parsed data (JSON or form).
func (p *RequestBodyParser) Get(key string) string {
	if p.jsonData != nil {
		if val, ok := p.jsonData[key]; ok {
			return sanitizeInput(stringValue(val))
		}
		return ""
	}
	if p.formData != nil {
		return sanitizeInput(p.formData.Get(key))
	}
	return ""
}

// IsJSON returns true if the parsed content was JSON.
func (p *RequestBodyParser) IsJSON() bool {
	return p.jsonData != nil
}

func stringValue(v interface{}) string {
	switch val := v.(type) {
	case string:
		return val
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(val)
	default:
		return ""
	}
}

// parseTransactionInput reads kind, amount, category, description and an
// optional occurred_at date. A picked date keeps the time of day of now so
// same-day entries stay ordered; today's date is left for the service to
// stamp.
func parseTransactionInput(p *RequestBodyParser, now time.Time) (services.TransactionInput, error) {
	kind, err := core.ParseKind(p.Get("kind"))
	if err != nil {
		return services.TransactionInput{}, err
	}
	amount, err := core.ParseMoney(p.Get("amount"))
	if err != nil {
		return services.TransactionInput{}, err
	}
	in := services.TransactionInput{
		Kind:        kind,
		Amount:      amount,
		Category:    p.Get("category"),
		Description: p.Get("description"),
	}
	if v := p.Get("occurred_at"); v != "" {
		d, err := parseDate(v)
		if err != nil {
			return services.TransactionInput{}, err
		}
		in.OccurredAt = atTimeOfDay(d, now)
	}
	return in, nil
}

// atTimeOfDay places day at the UTC clock time of now. It returns the zero
// time when day is now's own date.
func atTimeOfDay(day, now time.Time) time.Time {
	now = now.UTC()
	y, m, d := day.Date()
	if ny, nm, nd := now.Date(); y == ny && m == nm && d == nd {
		return time.Time{}
	}
	return time.Date(y, m, d, now.Hour(), now.Minute(), now.Second(), now.Nanosecond(), time.UTC)
}

// parseGoalInput reads name, target and an optional deadline.
func parseGoalInput(p *RequestBodyParser) (services.GoalInput, error) {
	target, err := core.ParseMoney(p.Get("target"))
	if err != nil {
		return services.GoalInput{}, err
	}
	in := services.GoalInput{Name: p.Get("name"), Target: target}
	if v := p.Get("deadline"); v != "" {
		d, err := parseDate(v)
		if err != nil {
			return services.GoalInput{}, err
		}
		in.Deadline = &d
	}
	return in, nil
}

func parseDate(s string) (time.Time, error) {
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return time.Time{}, errInvalidDate
	}
	return t.UTC(), nil
}
