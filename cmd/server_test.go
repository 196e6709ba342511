package cmd

import (
	"context"
	"errors"
	"testing"

	"github.com/accountd/apiserver/internal/logging"
	"github.com/stretchr/testify/assert"
)

type fakeServer struct {
	startErr    error
	block       chan struct{}
	shutdownErr error
	shutdowns   int
}

func (f *fakeServer) Start() error {
	if f.block != nil {
		<-f.block
	}
	return f.startErr
}

func (f *fakeServer) Shutdown(context.Context) error {
	f.shutdowns++
	if f.block != nil {
		close(f.block)
	}
	return f.shutdownErr
}

func TestServeShutsDownWhenStartFails(t *testing.T) {
	bind := errors.New("listen tcp :8080: address already in use")
	closeFailed := errors.New("close redis")
	srv := &fakeServer{startErr: bind, shutdownErr: closeFailed}

	err := serve(context.Background(), srv, logging.Discard())
	assert.ErrorIs(t, err, bind)
	assert.ErrorIs(t, err, closeFailed)
	assert.Equal(t, 1, srv.shutdowns)
}

func TestServeShutsDownOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	srv := &fakeServer{block: make(chan struct{})}
	cancel()

	err := serve(ctx, srv, logging.Discard())
	assert.NoError(t, err)
	assert.Equal(t, 1, srv.shutdowns)
}
