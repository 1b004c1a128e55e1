package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_FallsBackToInfo(t *testing.T) {
	l := New("test", "not-a-level", "json")
	assert.Equal(t, "info", l.GetLevel().String())
	assert.Equal(t, "test", l.Service())
}

func TestWithContext_AttachesRequestFields(t *testing.T) {
	var buf bytes.Buffer
	l := NewWithOutput("storefront", "debug", "json", &buf)

	ctx := WithTraceID(context.Background(), "trace-1")
	ctx = WithUserID(ctx, "user-1")
	ctx = WithRole(ctx, "admin")

	l.WithContext(ctx).Info("hello")

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "storefront", entry["service"])
	assert.Equal(t, "trace-1", entry["trace_id"])
	assert.Equal(t, "user-1", entry["user_id"])
	assert.Equal(t, "admin", entry["role"])
}

func TestLogRequest_LevelByStatus(t *testing.T) {
	var buf bytes.Buffer
	l := NewWithOutput("storefront", "info", "json", &buf)

	l.LogRequest(context.Background(), http.MethodGet, "/x", 503, 12*time.Millisecond)

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "error", entry["level"])
	assert.EqualValues(t, 503, entry["status"])
	assert.EqualValues(t, 12, entry["duration_ms"])
}

func TestRoles(t *testing.T) {
	ctx := WithRole(context.Background(), "cook")
	assert.Equal(t, []string{"cook"}, GetRoles(ctx))

	ctx = WithRoles(ctx, []string{"admin", "delivery_person"})
	assert.True(t, HasRole(ctx, "delivery_person"))
	assert.False(t, HasRole(ctx, "cook"))
}

func TestTraceIDEmptyIsNoop(t *testing.T) {
	ctx := WithTraceID(context.Background(), "")
	assert.Empty(t, GetTraceID(ctx))
	assert.NotEmpty(t, NewTraceID())
}
