package service

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validStderr = "compiling...\nwarning: unused variable\nCI RESULT\n" +
	`{"common_header_contents": null, "smoke_tests": {"exit_code": 0, "tests": []}, "tests": {"exit_code": 0, "tests": [["t1.cpp", [["run", 0, null, null]], null]]}}` +
	"\nCI RESULT END\n"

func TestParseCheckResult(t *testing.T) {
	result, err := ParseCheckResult([]byte(validStderr))
	require.NoError(t, err)
	require.Len(t, result.Tests.Tests, 1)
	assert.Equal(t, "t1.cpp", result.Tests.Tests[0].FileName)
}

func TestParseCheckResultAcceptsCRLF(t *testing.T) {
	stderr := "CI RESULT\r\n" + `{"common_header_contents": null, "smoke_tests": {"exit_code": 0, "tests": []}, "tests": {"exit_code": 0, "tests": []}}` + "\r\nCI RESULT END\r\n"
	_, err := ParseCheckResult([]byte(stderr))
	require.NoError(t, err)
}

func TestParseCheckResultMissingMarkers(t *testing.T) {
	cases := map[string]string{
		"empty":         "",
		"no begin":      "Traceback (most recent call last):\n  boom\n",
		"no end":        "CI RESULT\n{}\n",
		"end misplaced": "CI RESULT\n{}\nextra\nCI RESULT END\n",
	}
	for name, stderr := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ParseCheckResult([]byte(stderr))
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrResultMarkerNotFound))
			assert.False(t, errors.Is(err, ErrResultPayloadInvalid))

			var parseErr *ResultParseError
			require.True(t, errors.As(err, &parseErr))
			assert.Equal(t, stderr, string(parseErr.Stderr))
		})
	}
}

func TestParseCheckResultInvalidPayload(t *testing.T) {
	_, err := ParseCheckResult([]byte("CI RESULT\n{not json\nCI RESULT END\n"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrResultPayloadInvalid))
	assert.False(t, errors.Is(err, ErrResultMarkerNotFound))
}

func TestParseCheckResultRejectsIncompletePayload(t *testing.T) {
	cases := map[string]string{
		"null":           `null`,
		"empty object":   `{}`,
		"unrelated":      `{"unexpected": 1}`,
		"array":          `[]`,
		"no header key":  `{"smoke_tests": {"exit_code": 0, "tests": []}, "tests": {"exit_code": 0, "tests": []}}`,
		"no smoke tests": `{"common_header_contents": null, "tests": {"exit_code": 0, "tests": []}}`,
		"null tests":     `{"common_header_contents": null, "smoke_tests": {"exit_code": 0, "tests": []}, "tests": null}`,
		"no test list":   `{"common_header_contents": null, "smoke_tests": {"exit_code": 0, "tests": []}, "tests": {"exit_code": 1}}`,
	}
	for name, payload := range cases {
		t.Run(name, func(t *testing.T) {
			stderr := "CI RESULT\n" + payload + "\nCI RESULT END\n"
			result, err := ParseCheckResult([]byte(stderr))
			require.Error(t, err)
			assert.Nil(t, result)
			assert.True(t, errors.Is(err, ErrResultPayloadInvalid))

			var parseErr *ResultParseError
			require.True(t, errors.As(err, &parseErr))
			assert.Equal(t, stderr, string(parseErr.Stderr))
		})
	}
}
