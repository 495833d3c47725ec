package store

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tobyh/toolvault/internal/config"
	"github.com/tobyh/toolvault/internal/connection"
)

// fakeBackend serves just enough of the vector store REST surface for the
// collection listing path.
func fakeBackend(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/collections":
			fmt.Fprint(w, `{"status":"ok","result":{"collections":[{"name":"tool_responses"},{"name":"archive"}]}}`)
		case "/collections/tool_responses":
			fmt.Fprint(w, `{"status":"ok","result":{"status":"green","points_count":120,"indexed_vectors_count":96,"config":{"params":{"vectors":{"size":384,"distance":"Cosine"}}}}}`)
		case "/collections/archive":
			fmt.Fprint(w, `{"status":"ok","result":{"status":"green","points_count":5,"indexed_vectors_count":5,"config":{"params":{"vectors":{"size":384,"distance":"Cosine"}}}}}`)
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func withStoreURL(t *testing.T, url string) {
	t.Helper()
	original := config.Get()
	cfg := config.Default()
	cfg.StoreURL = url
	config.Replace(cfg)
	t.Cleanup(func() { config.Replace(original) })
}

func TestCollectionInfos(t *testing.T) {
	srv := fakeBackend(t)
	withStoreURL(t, srv.URL)

	m := NewManager(connection.NewManager())
	defer m.Close()

	infos, err := m.CollectionInfos(context.Background())
	require.NoError(t, err)
	require.Len(t, infos, 2)

	assert.Equal(t, "tool_responses", infos[0].Name)
	assert.Equal(t, int64(120), infos[0].PointCount)
	assert.Equal(t, int64(96), infos[0].IndexedCount)
	assert.Equal(t, "Cosine", infos[0].DistanceMetric)
	assert.Equal(t, 384, infos[0].VectorSize)

	assert.Equal(t, "archive", infos[1].Name)
	assert.Equal(t, int64(5), infos[1].PointCount)
}

func TestCollectionInfosDisabled(t *testing.T) {
	original := config.Get()
	cfg := config.Default()
	cfg.Disabled = true
	config.Replace(cfg)
	defer config.Replace(original)

	m := NewManager(connection.NewManager())
	defer m.Close()

	_, err := m.CollectionInfos(context.Background())
	assert.ErrorIs(t, err, connection.ErrDisabled)
}
