package main

import (
	"bytes"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/bytedance/sonic"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AnEntrypoint/A2F/internal/blendshape"
)

func newTestModel(t *testing.T, key string) *httptest.Server {
	t.Helper()
	m := &mockModel{
		name:   "a2f",
		apiKey: key,
		gain:   1,
		width:  blendshape.DefaultLayout.Width(),
		layout: blendshape.DefaultLayout,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	srv := httptest.NewServer(m.routes())
	t.Cleanup(srv.Close)
	return srv
}

func TestMetadata(t *testing.T) {
	srv := newTestModel(t, "")

	resp, err := http.Get(srv.URL + "/v2/models/a2f")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var meta metadataResponse
	body, _ := io.ReadAll(resp.Body)
	require.NoError(t, sonic.Unmarshal(body, &meta))
	assert.Equal(t, "a2f", meta.Name)
	require.Len(t, meta.Outputs, 1)
	assert.Equal(t, []int64{1, 169}, meta.Outputs[0].Shape)
}

func TestInferScalesWithEnergy(t *testing.T) {
	srv := newTestModel(t, "")

	samples := make([]float32, 100)
	for i := range samples {
		samples[i] = 0.5
	}
	payload, err := sonic.Marshal(inferRequest{
		ID:     "req-1",
		Inputs: []tensor{{Name: "audio", Datatype: "FP32", Shape: []int64{1, 1, 100}, Data: samples}},
	})
	require.NoError(t, err)

	resp, err := http.Post(srv.URL+"/v2/models/a2f/infer", "application/json", bytes.NewReader(payload))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out inferResponse
	body, _ := io.ReadAll(resp.Body)
	require.NoError(t, sonic.Unmarshal(body, &out))
	assert.Equal(t, "req-1", out.ID)
	require.Len(t, out.Outputs, 1)

	data := out.Outputs[0].Data
	require.Len(t, data, 169)
	assert.InDelta(t, 0.5, data[0], 1e-6)
	assert.InDelta(t, 0.5, data[150], 1e-6)
	assert.Equal(t, float32(0), data[165])
}

func TestInferRejectsBadRequests(t *testing.T) {
	srv := newTestModel(t, "secret")

	tests := []struct {
		name   string
		auth   string
		body   string
		status int
	}{
		{"missing key", "", `{"inputs":[]}`, http.StatusUnauthorized},
		{"wrong key", "Bearer nope", `{"inputs":[]}`, http.StatusUnauthorized},
		{"no audio", "Bearer secret", `{"inputs":[{"name":"emotion","data":[0]}]}`, http.StatusBadRequest},
		{"bad json", "Bearer secret", `{`, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := http.NewRequest(http.MethodPost, srv.URL+"/v2/models/a2f/infer", bytes.NewBufferString(tt.body))
			require.NoError(t, err)
			if tt.auth != "" {
				req.Header.Set("Authorization", tt.auth)
			}
			resp, err := http.DefaultClient.Do(req)
			require.NoError(t, err)
			resp.Body.Close()
			assert.Equal(t, tt.status, resp.StatusCode)
		})
	}
}
