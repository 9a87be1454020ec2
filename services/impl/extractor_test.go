package impl

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docstack-rag/config"
)

func TestTextExtractor_Extract(t *testing.T) {
	ctx := context.Background()

	t.Run("plain text passes through", func(t *testing.T) {
		extractor := NewTextExtractor(&config.ExtractorConfig{Timeout: 5})
		text, err := extractor.Extract(ctx, "text/plain", []byte("hola mundo"))
		require.NoError(t, err)
		assert.Equal(t, "hola mundo", text)
	})

	t.Run("charset parameter is tolerated", func(t *testing.T) {
		extractor := NewTextExtractor(&config.ExtractorConfig{Timeout: 5})
		text, err := extractor.Extract(ctx, "text/markdown; charset=utf-8", []byte("# título"))
		require.NoError(t, err)
		assert.Equal(t, "# título", text)
	})

	t.Run("invalid UTF-8 is rejected", func(t *testing.T) {
		extractor := NewTextExtractor(&config.ExtractorConfig{Timeout: 5})
		_, err := extractor.Extract(ctx, "text/plain", []byte{0xff, 0xfe, 0xfd})
		assert.Error(t, err)
	})

	t.Run("unsupported mime type is rejected", func(t *testing.T) {
		extractor := NewTextExtractor(&config.ExtractorConfig{Timeout: 5})
		_, err := extractor.Extract(ctx, "image/png", []byte("..."))
		assert.Error(t, err)
	})

	t.Run("pdf is delegated to the extraction API", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/v1/extract", r.URL.Path)
			require.NoError(t, r.ParseMultipartForm(1<<20))
			assert.Equal(t, "application/pdf", r.FormValue("mime_type"))
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{"text":"texto extraído del pdf"}`))
		}))
		defer server.Close()

		extractor := NewTextExtractor(&config.ExtractorConfig{BaseURL: server.URL, Timeout: 5})
		text, err := extractor.Extract(ctx, "application/pdf", []byte("%PDF-1.7 ..."))
		require.NoError(t, err)
		assert.Equal(t, "texto extraído del pdf", text)
	})

	t.Run("extraction API failure carries its status", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadRequest)
		}))
		defer server.Close()

		extractor := NewTextExtractor(&config.ExtractorConfig{BaseURL: server.URL, Timeout: 5})
		_, err := extractor.Extract(ctx, "application/pdf", []byte("broken"))
		var statusErr *HTTPStatusError
		require.ErrorAs(t, err, &statusErr)
		assert.Equal(t, http.StatusBadRequest, statusErr.StatusCode)
		assert.False(t, IsTransient(err))
	})
}
