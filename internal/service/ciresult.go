package service

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/noah-isme/revision-checker/internal/models"
)

const (
	resultBeginMarker = "CI RESULT"
	resultEndMarker   = "CI RESULT END"
)

var (
	// ErrResultMarkerNotFound means stderr lacks the CI RESULT block.
	ErrResultMarkerNotFound = errors.New("ci result markers not found")
	// ErrResultPayloadInvalid means the block was found but its payload could not be decoded.
	ErrResultPayloadInvalid = errors.New("ci result payload invalid")
)

// ResultParseError reports harness output that did not yield a result. Stderr
// holds the raw output for diagnostics.
type ResultParseError struct {
	Kind   error
	Cause  error
	Stderr []byte
}

func (e *ResultParseError) Error() string {
	if e.Cause == nil {
		return e.Kind.Error()
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Cause)
}

// Unwrap exposes both the kind sentinel and the underlying cause.
func (e *ResultParseError) Unwrap() []error {
	if e.Cause == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Cause}
}

// ParseCheckResult extracts the JSON line framed by the CI RESULT markers.
func ParseCheckResult(stderr []byte) (*models.CheckResult, error) {
	lines := bytes.Split(stderr, []byte("\n"))
	begin := -1
	for i, line := range lines {
		if string(bytes.TrimSuffix(line, []byte("\r"))) == resultBeginMarker {
			begin = i
			break
		}
	}
	if begin < 0 {
		return nil, &ResultParseError{Kind: ErrResultMarkerNotFound, Cause: fmt.Errorf("no %q line", resultBeginMarker), Stderr: stderr}
	}
	if begin+2 >= len(lines) || string(bytes.TrimSuffix(lines[begin+2], []byte("\r"))) != resultEndMarker {
		return nil, &ResultParseError{Kind: ErrResultMarkerNotFound, Cause: fmt.Errorf("no %q line after payload", resultEndMarker), Stderr: stderr}
	}

	payload := lines[begin+1]
	if err := checkPayloadFields(payload); err != nil {
		return nil, &ResultParseError{Kind: ErrResultPayloadInvalid, Cause: err, Stderr: stderr}
	}
	var result models.CheckResult
	if err := json.Unmarshal(payload, &result); err != nil {
		return nil, &ResultParseError{Kind: ErrResultPayloadInvalid, Cause: err, Stderr: stderr}
	}
	return &result, nil
}

// checkPayloadFields requires a JSON object carrying every top-level result
// field. Both suites must be objects; the common header may be null.
func checkPayloadFields(payload []byte) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(payload, &fields); err != nil {
		return err
	}
	if fields == nil {
		return errors.New("payload is null")
	}
	if _, ok := fields["common_header_contents"]; !ok {
		return errors.New(`missing "common_header_contents"`)
	}
	for _, suite := range []string{"smoke_tests", "tests"} {
		raw, ok := fields[suite]
		if !ok {
			return fmt.Errorf("missing %q", suite)
		}
		var body map[string]json.RawMessage
		if err := json.Unmarshal(raw, &body); err != nil {
			return fmt.Errorf("decode %q: %w", suite, err)
		}
		if body == nil {
			return fmt.Errorf("%q is null", suite)
		}
		if _, ok := body["tests"]; !ok {
			return fmt.Errorf(`missing %q.tests`, suite)
		}
	}
	return nil
}
