package service

import (
	"context"
	"errors"
	"fmt"
	"net/url"

	"github.com/go-playground/validator/v10"

	"github.com/noah-isme/revision-checker/internal/dto"
	appErrors "github.com/noah-isme/revision-checker/pkg/errors"
	"github.com/noah-isme/revision-checker/pkg/storage"
)

type blobReader interface {
	Get(ctx context.Context, id string) ([]byte, error)
}

// BlobLinkService issues and resolves signed download links for blobs so
// reports can point at stored logs and test sources.
type BlobLinkService struct {
	blobs     blobReader
	signer    *storage.SignedURLSigner
	baseURL   string
	validator *validator.Validate
}

// NewBlobLinkService constructs the service. baseURL is the public prefix of
// the download route.
func NewBlobLinkService(blobs blobReader, signer *storage.SignedURLSigner, baseURL string, validate *validator.Validate) *BlobLinkService {
	if validate == nil {
		validate = validator.New()
	}
	return &BlobLinkService{blobs: blobs, signer: signer, baseURL: baseURL, validator: validate}
}

// CreateLink signs a link to an existing blob.
func (s *BlobLinkService) CreateLink(ctx context.Context, blobID string, req dto.CreateBlobLinkRequest) (*dto.BlobLink, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid link payload")
	}
	if _, err := s.blobs.Get(ctx, blobID); err != nil {
		return nil, err
	}
	token, expiresAt, err := s.signer.Generate(blobID, req.Name)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to sign link")
	}
	return &dto.BlobLink{
		URL:       fmt.Sprintf("%s/blobs/%s", s.baseURL, url.PathEscape(token)),
		ExpiresAt: expiresAt,
	}, nil
}

// Resolve validates a token and returns the file name and payload it grants.
func (s *BlobLinkService) Resolve(ctx context.Context, token string) (string, []byte, error) {
	link, err := s.signer.Parse(token)
	if err != nil {
		if errors.Is(err, storage.ErrTokenExpired) {
			return "", nil, appErrors.Wrap(err, appErrors.ErrForbidden.Code, appErrors.ErrForbidden.Status, "link expired")
		}
		return "", nil, appErrors.Wrap(err, appErrors.ErrForbidden.Code, appErrors.ErrForbidden.Status, "invalid link")
	}
	data, err := s.blobs.Get(ctx, link.BlobID)
	if err != nil {
		return "", nil, err
	}
	return link.Name, data, nil
}
