package main

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPercentile(t *testing.T) {
	sorted := []time.Duration{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}
	assert.Equal(t, time.Duration(5), percentile(sorted, 50))
	assert.Equal(t, time.Duration(10), percentile(sorted, 99))
	assert.Equal(t, time.Duration(0), percentile(nil, 50))
}

func TestEncodeSubmission(t *testing.T) {
	body, contentType := encodeSubmission(submissions[len(submissions)-1])

	req := httptest.NewRequest("POST", "/api/conversation", body)
	req.Header.Set("Content-Type", contentType)
	require.NoError(t, req.ParseMultipartForm(1<<20))

	assert.Equal(t, "LoadBot", req.FormValue("model"))
	assert.Equal(t, "true", req.FormValue("isMCP"))
	require.Len(t, req.MultipartForm.File["htmlDoc"], 1)
}

func TestStats_RecordRequest(t *testing.T) {
	s := NewStats()
	s.RecordRequest("ingest", time.Millisecond, 201, nil)
	s.RecordRequest("list", time.Millisecond, 400, nil)
	s.RecordRequest("list", 0, 0, assert.AnError)

	assert.Equal(t, int64(3), s.totalRequests.Load())
	assert.Equal(t, int64(1), s.successCount.Load())
	assert.Equal(t, int64(2), s.errorCount.Load())
	assert.Len(t, s.latencies["list"], 1)
}
