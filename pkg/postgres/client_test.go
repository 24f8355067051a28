package postgres

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/Conversation-Archive/pkg/config"
)

func TestIsPermanent(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"bad password", &pq.Error{Code: "28P01"}, true},
		{"wrapped invalid authorization", fmt.Errorf("pinging postgres: %w", &pq.Error{Code: "28000"}), true},
		{"missing database", &pq.Error{Code: "3D000"}, true},
		{"too many connections", &pq.Error{Code: "53300"}, false},
		{"network", errors.New("dial tcp 127.0.0.1:5432: connect: connection refused"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsPermanent(tt.err))
		})
	}
}

func TestNew_UnreachableNamesTarget(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := New(ctx, config.PostgresConfig{
		Host: "127.0.0.1", Port: 1, User: "archive", Database: "conversations", SSLMode: "disable",
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "127.0.0.1:1/conversations")
	assert.False(t, IsPermanent(err))
}
