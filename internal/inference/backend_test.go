package inference

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenRemote(t *testing.T) {
	srv, _ := kserveServer(t, 0, 0)

	r, err := Open(context.Background(), BackendConfig{
		Backend: BackendRemote,
		Remote:  testRemoteConfig(srv.URL),
	}, nil, nil)
	require.NoError(t, err)
	defer r.Close()

	assert.IsType(t, &RemoteRunner{}, r)
}

func TestOpenErrors(t *testing.T) {
	_, err := Open(context.Background(), BackendConfig{Backend: "tflite"}, nil, nil)
	assert.ErrorContains(t, err, "unknown inference backend")

	_, err = Open(context.Background(), BackendConfig{Backend: BackendONNX}, nil, nil)
	assert.ErrorContains(t, err, "failed to open onnx backend")
}
