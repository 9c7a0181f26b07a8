package apiserver

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/hlsrec/internal/config"
)

func TestNewServerWiresRouterAndAPI(t *testing.T) {
	s := NewServer(config.ServerConfig{
		Host:            "127.0.0.1",
		Port:            0,
		ShutdownTimeout: time.Second,
	}, nil, "test")
	require.NotNil(t, s.Router())
	require.NotNil(t, s.API())
}

func TestServerShutdownWithoutStartIsNoop(t *testing.T) {
	s := NewServer(config.ServerConfig{Host: "127.0.0.1", Port: 0, ShutdownTimeout: time.Second}, nil, "")
	assert.NoError(t, s.Shutdown(t.Context()))
}
