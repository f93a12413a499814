package embedder

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"wikirag/internal/config"
)

func TestEmbedBatch_ZeroVectorForEmptyInput(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		var req embedReq
		json.NewDecoder(r.Body).Decode(&req)
		resp := embedResp{}
		for range req.Input {
			resp.Data = append(resp.Data, struct {
				Embedding []float32 `json:"embedding"`
			}{Embedding: []float32{1, 2, 3}})
		}
		json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	c := New(config.EmbeddingConfig{BaseURL: srv.URL, APIKey: "k", Model: "m", Dimension: 3})
	out, err := c.EmbedBatch(context.Background(), []string{"", "hello", "   "})
	require.NoError(t, err)
	require.Len(t, out, 3)
	require.Equal(t, []float32{0, 0, 0}, out[0])
	require.Equal(t, []float32{1, 2, 3}, out[1])
	require.Equal(t, []float32{0, 0, 0}, out[2])
	require.Equal(t, 1, calls)
}

func TestEmbedBatch_EmptyInputNeverCallsRemote(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	defer srv.Close()

	c := New(config.EmbeddingConfig{BaseURL: srv.URL, APIKey: "k", Model: "m", Dimension: 4})
	out, err := c.EmbedBatch(context.Background(), []string{"", "  \n "})
	require.NoError(t, err)
	require.Len(t, out, 2)
	require.False(t, called)
}

func TestEmbedBatch_RetriesOnServerError(t *testing.T) {
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts < 2 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		json.NewEncoder(w).Encode(embedResp{Data: []struct {
			Embedding []float32 `json:"embedding"`
		}{{Embedding: []float32{9}}}})
	}))
	defer srv.Close()

	c := New(config.EmbeddingConfig{BaseURL: srv.URL, APIKey: "k", Model: "m", Dimension: 1})
	out, err := c.Embed(context.Background(), "hi")
	require.NoError(t, err)
	require.Equal(t, []float32{9}, out)
	require.Equal(t, 2, attempts)
}

func TestEmbedBatch_FailsFastOnClientError(t *testing.T) {
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	c := New(config.EmbeddingConfig{BaseURL: srv.URL, APIKey: "k", Model: "m", Dimension: 1})
	_, err := c.Embed(context.Background(), "hi")
	require.Error(t, err)
	require.Equal(t, 1, attempts)
}

func TestDeterministic_SameInputSameVector(t *testing.T) {
	d := NewDeterministic(16)
	v1, _ := d.Embed(context.Background(), "hello world")
	v2, _ := d.Embed(context.Background(), "hello world")
	require.Equal(t, v1, v2)
	require.Len(t, v1, 16)
}
