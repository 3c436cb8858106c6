package embeddings

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/fyrsmithlabs/pcrsearch/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestDimensionForModel(t *testing.T) {
	tests := []struct {
		model string
		want  int
	}{
		{"BAAI/bge-small-en-v1.5", 384},
		{"BAAI/bge-base-en-v1.5", 768},
		{"text-embedding-3-small", 1536},
		{"intfloat/e5-large", 1024},
		{"some/base-model", 768},
		{"unknown", 384},
	}
	for _, tt := range tests {
		t.Run(tt.model, func(t *testing.T) {
			assert.Equal(t, tt.want, DimensionForModel(tt.model))
		})
	}
}

func TestNewProvider_UnknownProvider(t *testing.T) {
	_, err := NewProvider(config.EmbeddingsConfig{Provider: "word2vec"}, zap.NewNop())
	require.ErrorIs(t, err, ErrInvalidConfig)
}

func TestNewProvider_OpenAIRequiresKey(t *testing.T) {
	_, err := NewProvider(config.EmbeddingsConfig{Provider: "openai", Model: "text-embedding-3-small"}, zap.NewNop())
	require.ErrorIs(t, err, ErrInvalidConfig)
}

func TestNewProvider_Hash(t *testing.T) {
	p, err := NewProvider(config.EmbeddingsConfig{Provider: "hash", Model: "BAAI/bge-small-en-v1.5"}, nil)
	require.NoError(t, err)
	assert.Equal(t, 384, p.Dimension())
	require.NoError(t, p.Close())
}

func TestTEIProvider(t *testing.T) {
	var gotInputs []any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/embed", r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)

		var req teiRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.True(t, req.Truncate)

		switch in := req.Inputs.(type) {
		case string:
			gotInputs = append(gotInputs, in)
			_ = json.NewEncoder(w).Encode([][]float32{{0.1, 0.2}})
		case []any:
			gotInputs = append(gotInputs, in...)
			out := make([][]float32, len(in))
			for i := range in {
				out[i] = []float32{float32(i), 1}
			}
			_ = json.NewEncoder(w).Encode(out)
		}
	}))
	defer srv.Close()

	p, err := NewTEIProvider(TEIConfig{BaseURL: srv.URL + "/", Model: "BAAI/bge-small-en-v1.5"})
	require.NoError(t, err)
	assert.Equal(t, 384, p.Dimension())

	ctx := context.Background()
	vecs, err := p.EmbedDocuments(ctx, []string{"a", "b"})
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{0, 1}, {1, 1}}, vecs)

	vec, err := p.EmbedQuery(ctx, "q")
	require.NoError(t, err)
	assert.Equal(t, []float32{0.1, 0.2}, vec)
	assert.Equal(t, []any{"a", "b", "q"}, gotInputs)

	_, err = p.EmbedDocuments(ctx, nil)
	assert.ErrorIs(t, err, ErrEmptyInput)
	_, err = p.EmbedQuery(ctx, "")
	assert.ErrorIs(t, err, ErrEmptyInput)
}

func TestTEIProvider_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model loading", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	p, err := NewTEIProvider(TEIConfig{BaseURL: srv.URL})
	require.NoError(t, err)

	_, err = p.EmbedQuery(context.Background(), "q")
	require.ErrorIs(t, err, ErrEmbeddingFailed)
	assert.Contains(t, err.Error(), "503")
	assert.Contains(t, err.Error(), "model loading")
}

func TestTEIProvider_CountMismatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode([][]float32{{1}})
	}))
	defer srv.Close()

	p, err := NewTEIProvider(TEIConfig{BaseURL: srv.URL})
	require.NoError(t, err)

	_, err = p.EmbedDocuments(context.Background(), []string{"a", "b"})
	assert.ErrorIs(t, err, ErrEmbeddingFailed)
}

func TestNewTEIProvider_RequiresURL(t *testing.T) {
	_, err := NewTEIProvider(TEIConfig{})
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func cosine(a, b []float32) float64 {
	var dot float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
	}
	return dot
}

func TestHashEmbedder(t *testing.T) {
	e := NewHashEmbedder(128)
	ctx := context.Background()

	vecs, err := e.EmbedDocuments(ctx, []string{
		"diabetes screening program",
		"diabetes screening in rural clinics",
		"solar panel efficiency",
		"",
	})
	require.NoError(t, err)
	require.Len(t, vecs, 4)

	for _, v := range vecs {
		require.Len(t, v, 128)
		var sum float64
		for _, x := range v {
			sum += float64(x) * float64(x)
		}
		assert.InDelta(t, 1.0, math.Sqrt(sum), 1e-5)
	}

	q, err := e.EmbedQuery(ctx, "Diabetes screening")
	require.NoError(t, err)
	assert.Greater(t, cosine(q, vecs[0]), cosine(q, vecs[2]))
	assert.Greater(t, cosine(q, vecs[1]), cosine(q, vecs[2]))

	again, _ := e.EmbedQuery(ctx, "Diabetes screening")
	assert.Equal(t, q, again)
}

func writeTarGz(t *testing.T, files map[string]string) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)
	for name, body := range files {
		require.NoError(t, tw.WriteHeader(&tar.Header{Name: name, Mode: 0o644, Size: int64(len(body)), Typeflag: tar.TypeReg}))
		_, err := tw.Write([]byte(body))
		require.NoError(t, err)
	}
	require.NoError(t, tw.Close())
	require.NoError(t, gz.Close())
	return &buf
}

func TestExtractLibs(t *testing.T) {
	prefix := "onnxruntime-linux-x64-1.23.0/lib/"

	t.Run("extracts lib directory only", func(t *testing.T) {
		dir := t.TempDir()
		archive := writeTarGz(t, map[string]string{
			prefix + "libonnxruntime.so.1.23.0":           "lib",
			"onnxruntime-linux-x64-1.23.0/include/a.h":    "hdr",
			"./" + prefix + "libonnxruntime_providers.so": "prov",
		})
		require.NoError(t, extractLibs(archive, dir, prefix, "libonnxruntime.so"))

		data, err := os.ReadFile(filepath.Join(dir, "libonnxruntime.so.1.23.0"))
		require.NoError(t, err)
		assert.Equal(t, "lib", string(data))
		assert.FileExists(t, filepath.Join(dir, "libonnxruntime_providers.so"))
		assert.NoFileExists(t, filepath.Join(dir, "a.h"))
	})

	t.Run("missing library", func(t *testing.T) {
		archive := writeTarGz(t, map[string]string{prefix + "README": "x"})
		err := extractLibs(archive, t.TempDir(), prefix, "libonnxruntime.so")
		assert.ErrorContains(t, err, "not found in archive")
	})
}

func TestONNXPlatform(t *testing.T) {
	p, err := onnxPlatform("linux", "amd64")
	require.NoError(t, err)
	assert.Equal(t, "linux-x64", p)

	_, err = onnxPlatform("windows", "amd64")
	assert.ErrorIs(t, err, ErrUnsupportedPlatform)
}

func TestONNXLibraryPath_EnvOverride(t *testing.T) {
	t.Setenv("ONNX_PATH", "/opt/onnx/libonnxruntime.so")
	assert.Equal(t, "/opt/onnx/libonnxruntime.so", ONNXLibraryPath())
}
