package document

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRenderHTMLUploadsIndexPage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/forms/chromium/convert/html", r.URL.Path)
		require.NoError(t, r.ParseMultipartForm(1<<20))
		file, header, err := r.FormFile("files")
		require.NoError(t, err)
		defer file.Close()
		require.Equal(t, "index.html", header.Filename)
		page, err := io.ReadAll(file)
		require.NoError(t, err)
		require.Contains(t, string(page), "Ordem de Compra")
		_, _ = w.Write([]byte("%PDF-1.4"))
	}))
	defer srv.Close()

	// Trailing slash must not produce a double-slash URL.
	c := NewClient(srv.URL + "/")
	pdf, err := c.RenderHTML(context.Background(), "<html><body>Ordem de Compra OC-202609-0001</body></html>")
	require.NoError(t, err)
	require.Equal(t, "%PDF-1.4", string(pdf))
}

func TestRenderHTMLSurfacesConverterErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "chromium crashed", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL).RenderHTML(context.Background(), "<html></html>")
	require.ErrorContains(t, err, "503")
}

func TestPing(t *testing.T) {
	healthy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/health", r.URL.Path)
		w.WriteHeader(http.StatusOK)
	}))
	defer healthy.Close()
	require.NoError(t, NewClient(healthy.URL).Ping(context.Background()))

	down := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer down.Close()
	require.Error(t, NewClient(down.URL).Ping(context.Background()))
}
