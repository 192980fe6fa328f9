package handler

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/revision-checker/internal/dto"
	appErrors "github.com/noah-isme/revision-checker/pkg/errors"
)

type blobLinkServiceMock struct {
	blobID     string
	name       string
	data       []byte
	resolveErr error
}

func (m *blobLinkServiceMock) CreateLink(ctx context.Context, blobID string, req dto.CreateBlobLinkRequest) (*dto.BlobLink, error) {
	m.blobID = blobID
	return &dto.BlobLink{URL: "https://checker.local/blobs/tok", ExpiresAt: time.Unix(0, 0)}, nil
}

func (m *blobLinkServiceMock) Resolve(ctx context.Context, token string) (string, []byte, error) {
	return m.name, m.data, m.resolveErr
}

func TestBlobHandlerCreateLink(t *testing.T) {
	svc := &blobLinkServiceMock{}
	handler := NewBlobHandler(svc)

	c, w := newTestContext(http.MethodPost, "/api/v1/blobs/abc/links", []byte(`{"name":"run.log"}`))
	c.Params = gin.Params{{Key: "id", Value: "abc"}}
	handler.CreateLink(c)

	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "abc", svc.blobID)
	assert.Contains(t, w.Body.String(), "https://checker.local/blobs/tok")
}

func TestBlobHandlerDownload(t *testing.T) {
	handler := NewBlobHandler(&blobLinkServiceMock{name: "run.log", data: []byte("stage output")})

	c, w := newTestContext(http.MethodGet, "/blobs/tok", nil)
	c.Params = gin.Params{{Key: "token", Value: "tok"}}
	handler.Download(c)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "stage output", w.Body.String())
	assert.Equal(t, "attachment; filename=run.log", w.Header().Get("Content-Disposition"))
}

func TestBlobHandlerDownloadForbidden(t *testing.T) {
	handler := NewBlobHandler(&blobLinkServiceMock{resolveErr: appErrors.Clone(appErrors.ErrForbidden, "link expired")})

	c, w := newTestContext(http.MethodGet, "/blobs/tok", nil)
	c.Params = gin.Params{{Key: "token", Value: "tok"}}
	handler.Download(c)

	assert.Equal(t, http.StatusForbidden, w.Code)
}
