package main

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"oape/internal/config"
	"oape/internal/server/bootstrap"
)

func TestServerBuildsFromDefaultConfig(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("OAPE_LLM_API_KEY", "sk-test-key")

	cfg, err := config.Load("")
	require.NoError(t, err)

	container, err := bootstrap.Build(cfg)
	require.NoError(t, err)
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		container.Cleanup(ctx)
	}()

	srv := bootstrap.NewHTTPServer(container)
	assert.Equal(t, "0.0.0.0:8000", srv.Addr)
	assert.NotNil(t, srv.Handler)
	assert.Zero(t, srv.WriteTimeout)
}
