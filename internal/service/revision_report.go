package service

import (
	"context"
	"fmt"

	"github.com/noah-isme/revision-checker/internal/models"
	appErrors "github.com/noah-isme/revision-checker/pkg/errors"
	"github.com/noah-isme/revision-checker/pkg/export"
)

var reportHeaders = []string{"suite", "test", "stage", "status", "info"}

// RenderedReport is an exported check report ready to be served.
type RenderedReport struct {
	FileName    string
	ContentType string
	Data        []byte
}

// Report renders the stored check result of a revision as one row per stage.
func (s *RevisionService) Report(ctx context.Context, id int64, rawFormat string) (*RenderedReport, error) {
	format, err := export.ParseFormat(rawFormat)
	if err != nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, err.Error())
	}
	rev, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if rev.CheckResult == nil {
		return nil, appErrors.Clone(appErrors.ErrNotFound, fmt.Sprintf("revision %d has no check result", id))
	}

	table := checkResultTable(rev)
	data, err := export.Render(table, format)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render report")
	}
	return &RenderedReport{
		FileName:    fmt.Sprintf("revision-%d.%s", id, format),
		ContentType: format.ContentType(),
		Data:        data,
	}, nil
}

func checkResultTable(rev *models.Revision) export.Table {
	table := export.Table{
		Title:   fmt.Sprintf("Revision %d by %s: %s", rev.ID, rev.User, rev.State),
		Headers: reportHeaders,
	}
	suites := []struct {
		name  string
		suite models.TestSuiteResult
	}{
		{"smoke", rev.CheckResult.SmokeTests},
		{"tests", rev.CheckResult.Tests},
	}
	for _, item := range suites {
		for _, test := range item.suite.Tests {
			for _, stage := range test.Stages {
				info := ""
				if stage.Info != nil {
					info = *stage.Info
				}
				table.Rows = append(table.Rows, []string{item.name, test.FileName, stage.Name, stage.Status.String(), info})
			}
		}
	}
	return table
}
