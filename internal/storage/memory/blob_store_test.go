package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBlobStorePutAndGet(t *testing.T) {
	store := NewBlobStore()

	uri, err := store.PutObject(context.Background(), "results/abc.json", "application/json", []byte(`{"title":"x"}`))
	require.NoError(t, err)
	require.Equal(t, "memory://results/abc.json", uri)

	data, ok := store.GetObject("results/abc.json")
	require.True(t, ok)
	require.JSONEq(t, `{"title":"x"}`, string(data))
}

func TestBlobStoreCopiesInput(t *testing.T) {
	store := NewBlobStore()
	payload := []byte("original")

	_, err := store.PutObject(context.Background(), "a", "text/plain", payload)
	require.NoError(t, err)

	payload[0] = 'X'
	data, ok := store.GetObject("a")
	require.True(t, ok)
	require.Equal(t, "original", string(data))
}

func TestBlobStoreMissing(t *testing.T) {
	store := NewBlobStore()
	_, ok := store.GetObject("nope")
	require.False(t, ok)
}
