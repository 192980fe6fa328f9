package models

import (
	"bytes"
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// StageStatus is the harness verdict for a single stage of a test.
type StageStatus int

const (
	StageSuccess   StageStatus = 0
	StageFailure   StageStatus = 1
	StageWarning   StageStatus = 2
	StageException StageStatus = 3
)

// String returns the lowercase status name.
func (s StageStatus) String() string {
	switch s {
	case StageSuccess:
		return "success"
	case StageFailure:
		return "failure"
	case StageWarning:
		return "warning"
	case StageException:
		return "exception"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// CheckResult is the structured outcome of one harness run. Byte fields arrive
// base64 encoded from the harness and are replaced by blob ids before the
// result is persisted.
type CheckResult struct {
	CommonHeaderContents *string         `json:"common_header_contents"`
	SmokeTests           TestSuiteResult `json:"smoke_tests"`
	Tests                TestSuiteResult `json:"tests"`
}

// TestSuiteResult groups the tests of one harness phase.
type TestSuiteResult struct {
	ExitCode int         `json:"exit_code"`
	Tests    []TestEntry `json:"tests"`
}

// TestEntry is encoded as [test_file_name, stages, test_source].
type TestEntry struct {
	FileName string
	Stages   []StageResult
	Source   *string
}

// StageResult is encoded as [stage_name, status, info, log] with an optional
// trailing command argv.
type StageResult struct {
	Name    string
	Status  StageStatus
	Info    *string
	Log     *string
	Command []string
}

// Failed reports whether any stage of the test did not succeed.
func (t TestEntry) Failed() bool {
	for _, stage := range t.Stages {
		if stage.Status != StageSuccess {
			return true
		}
	}
	return false
}

// MarshalJSON implements json.Marshaler.
func (t TestEntry) MarshalJSON() ([]byte, error) {
	stages := t.Stages
	if stages == nil {
		stages = []StageResult{}
	}
	return json.Marshal([]interface{}{t.FileName, stages, t.Source})
}

// UnmarshalJSON implements json.Unmarshaler.
func (t *TestEntry) UnmarshalJSON(data []byte) error {
	var parts []json.RawMessage
	if err := json.Unmarshal(data, &parts); err != nil {
		return fmt.Errorf("decode test entry: %w", err)
	}
	if len(parts) != 3 {
		return fmt.Errorf("decode test entry: expected 3 elements, got %d", len(parts))
	}
	var entry TestEntry
	if err := json.Unmarshal(parts[0], &entry.FileName); err != nil {
		return fmt.Errorf("decode test name: %w", err)
	}
	if err := json.Unmarshal(parts[1], &entry.Stages); err != nil {
		return fmt.Errorf("decode stages of %s: %w", entry.FileName, err)
	}
	if err := json.Unmarshal(parts[2], &entry.Source); err != nil {
		return fmt.Errorf("decode source of %s: %w", entry.FileName, err)
	}
	*t = entry
	return nil
}

// MarshalJSON implements json.Marshaler.
func (s StageResult) MarshalJSON() ([]byte, error) {
	fields := []interface{}{s.Name, s.Status, s.Info, s.Log}
	if s.Command != nil {
		fields = append(fields, s.Command)
	}
	return json.Marshal(fields)
}

// UnmarshalJSON implements json.Unmarshaler.
func (s *StageResult) UnmarshalJSON(data []byte) error {
	var parts []json.RawMessage
	if err := json.Unmarshal(data, &parts); err != nil {
		return fmt.Errorf("decode stage: %w", err)
	}
	if len(parts) != 4 && len(parts) != 5 {
		return fmt.Errorf("decode stage: expected 4 or 5 elements, got %d", len(parts))
	}
	var stage StageResult
	if err := json.Unmarshal(parts[0], &stage.Name); err != nil {
		return fmt.Errorf("decode stage name: %w", err)
	}
	if err := json.Unmarshal(parts[1], &stage.Status); err != nil {
		return fmt.Errorf("decode status of stage %s: %w", stage.Name, err)
	}
	if err := json.Unmarshal(parts[2], &stage.Info); err != nil {
		return fmt.Errorf("decode info of stage %s: %w", stage.Name, err)
	}
	if err := json.Unmarshal(parts[3], &stage.Log); err != nil {
		return fmt.Errorf("decode log of stage %s: %w", stage.Name, err)
	}
	if len(parts) == 5 {
		if err := json.Unmarshal(parts[4], &stage.Command); err != nil {
			return fmt.Errorf("decode command of stage %s: %w", stage.Name, err)
		}
	}
	*s = stage
	return nil
}

// Value marshals the result to JSON for persistence.
func (r CheckResult) Value() (driver.Value, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("marshal check result: %w", err)
	}
	return data, nil
}

// Scan unmarshals a JSONB payload into the result.
func (r *CheckResult) Scan(value interface{}) error {
	var data []byte
	switch v := value.(type) {
	case nil:
		*r = CheckResult{}
		return nil
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("unsupported type %T for CheckResult", value)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		*r = CheckResult{}
		return nil
	}
	if err := json.Unmarshal(data, r); err != nil {
		return fmt.Errorf("unmarshal check result: %w", err)
	}
	return nil
}
