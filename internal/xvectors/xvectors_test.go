package xvectors_test

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/book-expert/speech-worker/internal/xvectors"
)

const rowCount = 8000

func newDatasetServer(t *testing.T) *httptest.Server {
	t.Helper()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		query := r.URL.Query()

		assert.Equal(t, "/rows", r.URL.Path)
		assert.Equal(t, xvectors.DefaultDataset, query.Get("dataset"))
		assert.Equal(t, "default", query.Get("config"))
		assert.Equal(t, xvectors.DefaultSplit, query.Get("split"))
		assert.Equal(t, "1", query.Get("length"))

		var offset int

		_, err := fmt.Sscanf(query.Get("offset"), "%d", &offset)
		if err != nil {
			http.Error(w, `{"error":"bad offset"}`, http.StatusUnprocessableEntity)

			return
		}

		if offset >= rowCount {
			_, _ = fmt.Fprint(w, `{"features":[],"rows":[],"num_rows_total":8000}`)

			return
		}

		_, _ = fmt.Fprintf(w,
			`{"rows":[{"row_idx":%d,"row":{"filename":"cmu_us_x.npy","xvector":[%d.5,-0.25]},"truncated_cells":[]}],"num_rows_total":8000}`,
			offset, offset%10)
	}))
	t.Cleanup(server.Close)

	return server
}

func TestEmbedding_FetchesRow(t *testing.T) {
	t.Parallel()

	server := newDatasetServer(t)
	dataset := xvectors.New(server.URL, "", "", 5*time.Second)

	vector, err := dataset.Embedding(context.Background(), 7306)
	require.NoError(t, err)
	assert.Equal(t, []float32{6.5, -0.25}, vector)
}

func TestEmbedding_IndexOutOfRange(t *testing.T) {
	t.Parallel()

	server := newDatasetServer(t)
	dataset := xvectors.New(server.URL, "", "", 5*time.Second)

	_, err := dataset.Embedding(context.Background(), 999999)
	require.ErrorIs(t, err, xvectors.ErrIndexOutOfRange)

	_, err = dataset.Embedding(context.Background(), -rowCount-1)
	require.ErrorIs(t, err, xvectors.ErrIndexOutOfRange)
}

func TestEmbedding_NegativeIndexCountsFromEnd(t *testing.T) {
	t.Parallel()

	server := newDatasetServer(t)
	dataset := xvectors.New(server.URL, "", "", 5*time.Second)

	vector, err := dataset.Embedding(context.Background(), -1)
	require.NoError(t, err)
	assert.Equal(t, []float32{9.5, -0.25}, vector, "row 7999")

	vector, err = dataset.Embedding(context.Background(), -rowCount)
	require.NoError(t, err)
	assert.Equal(t, []float32{0.5, -0.25}, vector, "row 0")
}

func TestEmbedding_ServerError(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "dataset is gated", http.StatusUnauthorized)
	}))
	t.Cleanup(server.Close)

	dataset := xvectors.New(server.URL, "private/set", "test", 5*time.Second)

	_, err := dataset.Embedding(context.Background(), 1)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "401")
	assert.Contains(t, err.Error(), "dataset is gated")
}

func TestEmbedding_MissingColumn(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = fmt.Fprint(w, `{"rows":[{"row_idx":0,"row":{"filename":"x"}}]}`)
	}))
	t.Cleanup(server.Close)

	dataset := xvectors.New(server.URL, "", "", 5*time.Second)

	_, err := dataset.Embedding(context.Background(), 0)
	require.ErrorIs(t, err, xvectors.ErrMissingVector)
}
