package vectorstore

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(Config{BaseURL: srv.URL}, zap.NewNop())
}

func TestSearchRequiresWorkspace(t *testing.T) {
	called := false
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) { called = true })

	_, err := c.Search(context.Background(), SearchParams{
		Collection: "workspace_files",
		Vector:     []float32{0.1, 0.2},
		TopK:       10,
	})
	require.Error(t, err)
	var missing MissingWorkspaceError
	assert.ErrorAs(t, err, &missing)
	assert.False(t, called, "no network call should happen without a workspace scope")
}

func TestSearchSendsWorkspaceFilter(t *testing.T) {
	var got map[string]interface{}
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/collections/workspace_files/points/query", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"result": map[string]interface{}{
				"points": []map[string]interface{}{
					{"id": "p1", "score": 0.91, "vector": []float32{0.5, 0.6}, "payload": map[string]interface{}{"file_path": "a/b.go", "content": "func A()", "start_line": 12, "end_line": 30}},
				},
			},
			"status": "ok",
		})
	})

	hits, err := c.Search(context.Background(), SearchParams{
		Collection:     "workspace_files",
		Vector:         []float32{0.1, 0.2},
		TopK:           50,
		ScoreThreshold: 0.3,
		Filter:         Filter{WorkspaceID: "ws-1", Type: DocTypeFile},
	})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "a/b.go", hits[0].FilePath())
	assert.Equal(t, 0.91, hits[0].Score)
	// Vectors and line ranges travel back with the hit for fusion.
	assert.Equal(t, []float32{0.5, 0.6}, hits[0].Vector)
	assert.Equal(t, 12, hits[0].IntField("start_line"))
	assert.Equal(t, 30, hits[0].IntField("end_line"))

	filter := got["filter"].(map[string]interface{})
	must := filter["must"].([]interface{})
	require.Len(t, must, 2)
	first := must[0].(map[string]interface{})
	assert.Equal(t, "workspace_id", first["key"])
	assert.Equal(t, float64(50), got["limit"])
	assert.Equal(t, 0.3, got["score_threshold"])
	assert.Equal(t, true, got["with_vector"])
}

func TestSearchFunctionFilterCarriesFilePaths(t *testing.T) {
	f := Filter{
		WorkspaceID:    "ws-1",
		Type:           DocTypeFunction,
		BelongsToStage: "code_generation",
		FilePaths:      []string{"a.go", "b.go"},
	}
	q := f.toQdrant()
	must := q["must"].([]map[string]interface{})
	require.Len(t, must, 4)
	last := must[3]
	assert.Equal(t, "file_path", last["key"])
	match := last["match"].(map[string]interface{})
	assert.Equal(t, []string{"a.go", "b.go"}, match["any"])
}

func TestSearchStoreDownIsUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close() // connection refused from here on

	c := NewClient(Config{BaseURL: url}, zap.NewNop())
	_, err := c.Search(context.Background(), SearchParams{
		Collection: "workspace_files",
		Vector:     []float32{0.1},
		TopK:       5,
		Filter:     Filter{WorkspaceID: "ws-1"},
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrStoreUnavailable)
}

func TestSearchServerErrorIsUnavailable(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	_, err := c.Search(context.Background(), SearchParams{
		Collection: "workspace_files",
		Vector:     []float32{0.1},
		TopK:       5,
		Filter:     Filter{WorkspaceID: "ws-1"},
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrStoreUnavailable)
}

func TestUpsertBatches(t *testing.T) {
	var batches []int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Points []Point `json:"points"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		batches = append(batches, len(body.Points))
		_ = json.NewEncoder(w).Encode(UpsertResponse{Status: "ok"})
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL, UpsertBatchSize: 2}, zap.NewNop())
	points := []Point{
		{ID: "1", Vector: []float32{0.1}},
		{ID: "2", Vector: []float32{0.2}},
		{ID: "3", Vector: []float32{0.3}},
	}
	require.NoError(t, c.Upsert(context.Background(), "workspace_functions", points))
	assert.Equal(t, []int{2, 1}, batches)
}

func TestDeleteByExecution(t *testing.T) {
	var path string
	var body map[string]interface{}
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		_ = json.NewDecoder(r.Body).Decode(&body)
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	})

	require.NoError(t, c.DeleteByExecution(context.Background(), "exec-7"))
	assert.Equal(t, "/collections/workspace_functions/points/delete", path)
	must := body["filter"].(map[string]interface{})["must"].([]interface{})
	clause := must[0].(map[string]interface{})
	assert.Equal(t, "execution_id", clause["key"])
}
