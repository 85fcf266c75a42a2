package handlers

import (
	"net/http"
	"testing"

	"github.com/elastic/go-elasticsearch/v9"
	"github.com/stretchr/testify/require"
)

func TestSearchUnavailableWithoutES(t *testing.T) {
	env := newTestEnv(t)
	h := &SearchHandler{Index: "quizzes"}

	_, c := env.doJSONRequest(http.MethodGet, "/api/v1/quizzes/search?q=go", nil)
	requireHTTPError(t, h.Search(c), http.StatusServiceUnavailable)
}

func TestSearchRequiresQuery(t *testing.T) {
	env := newTestEnv(t)

	// Client construction does not dial, so the parameter checks are
	// testable without a cluster.
	es, err := elasticsearch.NewClient(elasticsearch.Config{Addresses: []string{"http://localhost:9200"}})
	require.NoError(t, err)
	h := &SearchHandler{ES: es, Index: "quizzes"}

	_, c := env.doJSONRequest(http.MethodGet, "/api/v1/quizzes/search", nil)
	requireHTTPError(t, h.Search(c), http.StatusBadRequest)
}
