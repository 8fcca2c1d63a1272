// Package protocol defines the line-delimited JSON messages exchanged with the
// parent process and the Result type returned by request handlers.
package protocol

import (
	"bytes"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/bytedance/sonic"
)

var (
	// ErrNotObject is returned when a line is valid JSON but not an object.
	ErrNotObject = errors.New("expected a JSON object")
	// ErrParamType is returned when a parameter has the wrong JSON type.
	ErrParamType = errors.New("invalid parameter type")
)

// Request is one decoded input line. Fields that are present with a
// non-string type are rendered with fmt.Sprint, so a mistyped request still
// reaches dispatch and fails there with a meaningful message.
type Request struct {
	Task   string `json:"task"`
	Model  string `json:"model"`
	Input  string `json:"input"`
	Params Params `json:"params"`

	paramsErr error
}

// ParamsErr reports a params value that is present but not an object. Params
// is empty in that case.
func (r Request) ParamsErr() error {
	return r.paramsErr
}

// ParseError is a line that is not valid JSON. Its message is the first line of
// the parser's diagnostic.
type ParseError struct {
	err error
}

func (e *ParseError) Error() string {
	message := e.err.Error()

	// sonic quotes its diagnostic; the unquoted form carries a caret dump
	// after the first line.
	var described interface{ Description() string }
	if errors.As(e.err, &described) {
		message = described.Description()
	} else if unquoted, unquoteErr := strconv.Unquote(message); unquoteErr == nil {
		message = unquoted
	}

	message, _, _ = strings.Cut(message, "\n")

	return strings.TrimSpace(message)
}

func (e *ParseError) Unwrap() error {
	return e.err
}

// DecodeRequest parses a single JSON object. Only syntax errors and non-object
// values are rejected; field types are not checked here.
func DecodeRequest(line []byte) (Request, error) {
	var decoded any

	err := sonic.ConfigStd.Unmarshal(bytes.TrimSpace(line), &decoded)
	if err != nil {
		return Request{}, &ParseError{err: err}
	}

	fields, isObject := decoded.(map[string]any)
	if !isObject {
		return Request{}, ErrNotObject
	}

	req := Request{
		Task:   stringField(fields, "task"),
		Model:  stringField(fields, "model"),
		Input:  stringField(fields, "input"),
		Params: Params{},
	}

	switch params := fields["params"].(type) {
	case nil:
	case map[string]any:
		req.Params = Params(params)
	default:
		req.paramsErr = fmt.Errorf("%w: params must be an object, got %T", ErrParamType, params)
	}

	return req, nil
}

func stringField(fields map[string]any, key string) string {
	switch value := fields[key].(type) {
	case nil:
		return ""
	case string:
		return value
	default:
		return fmt.Sprint(value)
	}
}

// Params holds the free-form per-task options of a request. Accessors return
// the fallback when a key is absent or null.
type Params map[string]any

// Lookup returns the raw value for key, treating null as absent.
func (p Params) Lookup(key string) (any, bool) {
	value, ok := p[key]
	if !ok || value == nil {
		return nil, false
	}

	return value, true
}

// String returns a string parameter.
func (p Params) String(key, fallback string) (string, error) {
	value, ok := p.Lookup(key)
	if !ok {
		return fallback, nil
	}

	str, isString := value.(string)
	if !isString {
		return "", fmt.Errorf("%w: %s must be a string, got %T", ErrParamType, key, value)
	}

	return str, nil
}

// Bool returns a boolean parameter. Strings such as "true" and numbers are
// accepted.
func (p Params) Bool(key string, fallback bool) (bool, error) {
	value, ok := p.Lookup(key)
	if !ok {
		return fallback, nil
	}

	switch typed := value.(type) {
	case bool:
		return typed, nil
	case float64:
		return typed != 0, nil
	case string:
		parsed, parseErr := strconv.ParseBool(strings.TrimSpace(typed))
		if parseErr != nil {
			return false, fmt.Errorf("%w: %s: %w", ErrParamType, key, parseErr)
		}

		return parsed, nil
	default:
		return false, fmt.Errorf("%w: %s must be a boolean, got %T", ErrParamType, key, value)
	}
}

// Float returns a numeric parameter.
func (p Params) Float(key string, fallback float64) (float64, error) {
	value, ok := p.Lookup(key)
	if !ok {
		return fallback, nil
	}

	switch typed := value.(type) {
	case float64:
		return typed, nil
	case string:
		parsed, parseErr := strconv.ParseFloat(strings.TrimSpace(typed), 64)
		if parseErr != nil {
			return 0, fmt.Errorf("%w: %s: %w", ErrParamType, key, parseErr)
		}

		return parsed, nil
	default:
		return 0, fmt.Errorf("%w: %s must be a number, got %T", ErrParamType, key, value)
	}
}

// Int returns an integer parameter. Fractional numbers are rejected.
func (p Params) Int(key string, fallback int) (int, error) {
	number, err := p.Float(key, float64(fallback))
	if err != nil {
		return 0, err
	}

	if number != math.Trunc(number) {
		return 0, fmt.Errorf("%w: %s must be an integer, got %v", ErrParamType, key, number)
	}

	return int(number), nil
}
