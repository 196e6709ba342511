package storage

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/accountd/apiserver/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenDisabled(t *testing.T) {
	backend, err := Open(context.Background(), config.StorageConfig{})
	require.NoError(t, err)
	assert.Nil(t, backend)
}

func TestOpenUnknownBackend(t *testing.T) {
	_, err := Open(context.Background(), config.StorageConfig{Backend: "s3"})
	assert.ErrorContains(t, err, `"s3"`)
}

func TestNewMinioClientValidation(t *testing.T) {
	tests := []struct {
		name string
		cfg  config.MinioConfig
		want string
	}{
		{"endpoint", config.MinioConfig{}, "endpoint is required"},
		{"credentials", config.MinioConfig{Endpoint: "localhost:9000"}, "secret key are required"},
		{"bucket", config.MinioConfig{Endpoint: "localhost:9000", AccessKey: "a", SecretKey: "s"}, "bucket is required"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewMinioClient(tc.cfg)
			assert.ErrorContains(t, err, tc.want)
		})
	}
}

func TestNewMinioClient(t *testing.T) {
	c, err := NewMinioClient(config.MinioConfig{
		Endpoint:  "localhost:9000",
		AccessKey: "a",
		SecretKey: "s",
		Bucket:    "avatars",
	})
	require.NoError(t, err)
	assert.Equal(t, "avatars", c.Bucket())
}

func TestNewGCSClientRequiresBucket(t *testing.T) {
	_, err := NewGCSClient(context.Background(), config.GCSConfig{})
	assert.ErrorContains(t, err, "bucket is required")
}

type recordingWriter struct {
	bytes.Buffer
	closed bool
}

func (w *recordingWriter) Close() error {
	w.closed = true
	return nil
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) {
	return 0, errors.New("client went away")
}

func TestCommitUploadClosesOnSuccess(t *testing.T) {
	w := &recordingWriter{}
	aborted := false

	err := commitUpload(w, strings.NewReader("png bytes"), func() { aborted = true })
	require.NoError(t, err)
	assert.True(t, w.closed)
	assert.False(t, aborted)
	assert.Equal(t, "png bytes", w.String())
}

func TestCommitUploadAbortsOnReadFailure(t *testing.T) {
	w := &recordingWriter{}
	aborted := false

	err := commitUpload(w, io.MultiReader(strings.NewReader("partial"), failingReader{}), func() { aborted = true })
	require.ErrorContains(t, err, "client went away")
	assert.True(t, aborted)
	assert.False(t, w.closed)
}
