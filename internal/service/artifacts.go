package service

import (
	"context"
	"encoding/base64"
	"fmt"

	"github.com/noah-isme/revision-checker/internal/models"
)

// BlobWriter stores a payload and returns its content address.
type BlobWriter interface {
	Store(ctx context.Context, data []byte) (string, error)
}

// ArtifactDecoder replaces the base64 payloads of a harness result with blob ids.
type ArtifactDecoder struct {
	blobs BlobWriter
}

// NewArtifactDecoder constructs a decoder writing into blobs.
func NewArtifactDecoder(blobs BlobWriter) *ArtifactDecoder {
	return &ArtifactDecoder{blobs: blobs}
}

// Decode rewrites result in place. Empty fields become null. A payload that is
// not valid base64 yields *ResultParseError; storage failures are returned as is.
func (d *ArtifactDecoder) Decode(ctx context.Context, result *models.CheckResult) error {
	var err error
	if result.CommonHeaderContents, err = d.decode(ctx, result.CommonHeaderContents, "common header"); err != nil {
		return err
	}
	for _, suite := range []*models.TestSuiteResult{&result.SmokeTests, &result.Tests} {
		for i := range suite.Tests {
			test := &suite.Tests[i]
			for j := range test.Stages {
				stage := &test.Stages[j]
				if stage.Log, err = d.decode(ctx, stage.Log, test.FileName+" "+stage.Name+" log"); err != nil {
					return err
				}
			}
			if test.Source, err = d.decode(ctx, test.Source, test.FileName+" source"); err != nil {
				return err
			}
		}
	}
	return nil
}

func (d *ArtifactDecoder) decode(ctx context.Context, field *string, what string) (*string, error) {
	if field == nil || *field == "" {
		return nil, nil
	}
	data, err := base64.StdEncoding.DecodeString(*field)
	if err != nil {
		return nil, &ResultParseError{Kind: ErrResultPayloadInvalid, Cause: fmt.Errorf("decode %s: %w", what, err)}
	}
	id, err := d.blobs.Store(ctx, data)
	if err != nil {
		return nil, fmt.Errorf("store %s: %w", what, err)
	}
	return &id, nil
}
