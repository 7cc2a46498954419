package content_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"caseline/internal/content"
)

func TestLocalPutIsContentAddressed(t *testing.T) {
	store := content.Local{Dir: t.TempDir()}
	ctx := context.Background()

	id1, err := store.Put(ctx, []byte("passport scan"), "passport.pdf")
	require.NoError(t, err)
	id2, err := store.Put(ctx, []byte("passport scan"), "copy.pdf")
	require.NoError(t, err)
	assert.Equal(t, id1, id2)

	want, err := content.ComputeID([]byte("passport scan"))
	require.NoError(t, err)
	assert.Equal(t, want, id1)

	data, err := store.Get(ctx, id1)
	require.NoError(t, err)
	assert.Equal(t, "passport scan", string(data))
	assert.Equal(t, "/documents/"+id1, store.URL(id1))

	other, err := content.ComputeID([]byte("other"))
	require.NoError(t, err)
	_, err = store.Get(ctx, other)
	assert.ErrorIs(t, err, content.ErrNotFound)

	_, err = store.Put(ctx, nil, "empty.pdf")
	var upErr *content.UploadError
	assert.True(t, errors.As(err, &upErr))
}

func TestPinataPut(t *testing.T) {
	pinned, err := content.ComputeID([]byte("evidence photo"))
	require.NoError(t, err)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer test-jwt", r.Header.Get("Authorization"))
		file, header, err := r.FormFile("file")
		require.NoError(t, err)
		data, _ := io.ReadAll(file)
		assert.Equal(t, "evidence photo", string(data))
		assert.Equal(t, "photo.jpg", header.Filename)
		_ = json.NewEncoder(w).Encode(map[string]any{"IpfsHash": pinned, "PinSize": len(data)})
	}))
	defer srv.Close()

	p := content.Pinata{Endpoint: srv.URL, JWT: "test-jwt", Gateway: "https://gw.example/ipfs/"}
	id, err := p.Put(context.Background(), []byte("evidence photo"), "photo.jpg")
	require.NoError(t, err)
	assert.Equal(t, pinned, id)
	assert.Equal(t, "https://gw.example/ipfs/"+pinned, p.URL(id))
}

func TestPinataFailureIsUploadError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "invalid key", http.StatusUnauthorized)
	}))
	defer srv.Close()
	_, err := content.Pinata{Endpoint: srv.URL, JWT: "bad"}.Put(context.Background(), []byte("x"), "x.txt")
	var upErr *content.UploadError
	require.True(t, errors.As(err, &upErr))
	assert.Contains(t, upErr.Error(), "401")

	_, err = content.Pinata{Endpoint: srv.URL}.Put(context.Background(), []byte("x"), "x.txt")
	assert.True(t, errors.As(err, &upErr))
}
