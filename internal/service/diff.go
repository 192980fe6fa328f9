package service

import (
	"sort"

	"github.com/noah-isme/revision-checker/internal/models"
)

// FailingTests returns the sorted file names of failing tests. Smoke tests are
// judged when their phase exited non-zero, the main suite otherwise.
func FailingTests(result *models.CheckResult) []string {
	if result == nil {
		return []string{}
	}
	suite := result.Tests
	if result.SmokeTests.ExitCode != 0 {
		suite = result.SmokeTests
	}
	seen := make(map[string]struct{}, len(suite.Tests))
	failing := make([]string, 0)
	for _, test := range suite.Tests {
		if !test.Failed() {
			continue
		}
		if _, ok := seen[test.FileName]; ok {
			continue
		}
		seen[test.FileName] = struct{}{}
		failing = append(failing, test.FileName)
	}
	sort.Strings(failing)
	return failing
}

// DecideState picks the state a freshly checked revision moves to. An
// unchanged failing set needs no human attention and is reported directly.
func DecideState(previous *models.CheckResult, current models.CheckResult) models.RevisionState {
	before := FailingTests(previous)
	after := FailingTests(&current)
	if len(before) != len(after) {
		return models.RevisionStateChecked
	}
	for i := range before {
		if before[i] != after[i] {
			return models.RevisionStateChecked
		}
	}
	return models.RevisionStateReported
}
