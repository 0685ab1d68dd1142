package geoserver

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type recorded struct {
	Method string
	Path   string
	Query  string
	Body   map[string]interface{}
}

type fakeServer struct {
	mu       sync.Mutex
	requests []recorded
	respond  func(r *http.Request) int
}

func newFakeServer(t *testing.T, respond func(r *http.Request) int) (*fakeServer, *Client) {
	t.Helper()
	fs := &fakeServer{respond: respond}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		assert.True(t, ok)
		assert.Equal(t, "admin", user)
		assert.Equal(t, "secret", pass)

		rec := recorded{Method: r.Method, Path: r.URL.Path, Query: r.URL.RawQuery}
		data, _ := io.ReadAll(r.Body)
		if len(data) > 0 {
			assert.NoError(t, json.Unmarshal(data, &rec.Body))
		}
		fs.mu.Lock()
		fs.requests = append(fs.requests, rec)
		fs.mu.Unlock()

		w.WriteHeader(fs.respond(r))
	}))
	t.Cleanup(srv.Close)

	client := NewClient(Config{
		URL:       srv.URL + "/",
		User:      "admin",
		Password:  "secret",
		Workspace: "forest",
		Store:     "postgis",
	}, zap.NewNop())
	return fs, client
}

func TestCreateFeatureType(t *testing.T) {
	fs, client := newFakeServer(t, func(r *http.Request) int { return http.StatusCreated })

	ft := NewFeatureType(client.StoreName(), "areas_abc", "Kohteet", 3067,
		CRSBox{MinX: 43547.79, MinY: 6522546.17, MaxX: 764796.72, MaxY: 7795833.46}, "areas")
	require.NoError(t, client.CreateFeatureType(context.Background(), ft))

	require.Len(t, fs.requests, 1)
	req := fs.requests[0]
	assert.Equal(t, http.MethodPost, req.Method)
	assert.Equal(t, "/rest/workspaces/forest/datastores/postgis/featuretypes", req.Path)

	body := req.Body["featureType"].(map[string]interface{})
	assert.Equal(t, "areas_abc", body["name"])
	assert.Equal(t, "areas_abc", body["nativeName"])
	assert.Equal(t, "EPSG:3067", body["srs"])
	assert.Equal(t, "FORCE_DECLARED", body["projectionPolicy"])
	assert.Equal(t, true, body["enabled"])
	assert.Equal(t, map[string]interface{}{"@class": "dataStore", "name": "forest:postgis"}, body["store"])
	assert.Equal(t, map[string]interface{}{"name": "areas"}, body["defaultStyle"])
	box := body["nativeBoundingBox"].(map[string]interface{})
	assert.Equal(t, "EPSG:3067", box["crs"])
	assert.InDelta(t, 43547.79, box["minx"], 1e-6)
}

func TestCreateFeatureTypeFailure(t *testing.T) {
	_, client := newFakeServer(t, func(r *http.Request) int { return http.StatusInternalServerError })

	err := client.CreateFeatureType(context.Background(), NewFeatureType(client.StoreName(), "v", "t", 3067, CRSBox{}, ""))
	require.Error(t, err)
	assert.True(t, Error.Has(err))
	assert.False(t, IsNotFound(err))
}

func TestDeleteFeatureType(t *testing.T) {
	fs, client := newFakeServer(t, func(r *http.Request) int {
		if r.URL.Path == "/rest/workspaces/forest/datastores/postgis/featuretypes/gone" {
			return http.StatusNotFound
		}
		return http.StatusOK
	})
	ctx := context.Background()

	deleted, err := client.DeleteFeatureType(ctx, "areas_abc")
	require.NoError(t, err)
	assert.True(t, deleted)
	assert.Equal(t, "recurse=true", fs.requests[0].Query)

	deleted, err = client.DeleteFeatureType(ctx, "gone")
	require.NoError(t, err)
	assert.False(t, deleted)
}

func TestSetLayerRulesFallsBackToPut(t *testing.T) {
	fs, client := newFakeServer(t, func(r *http.Request) int {
		if r.Method == http.MethodPost {
			return http.StatusConflict
		}
		return http.StatusOK
	})

	rules := map[string]string{
		RuleKey("forest", "areas_abc", AccessRead):  "ROLE_EDITOR,ROLE_AUTHENTICATED,ROLE_ANONYMOUS",
		RuleKey("forest", "areas_abc", AccessWrite): "ROLE_EDITOR",
	}
	require.NoError(t, client.SetLayerRules(context.Background(), rules))

	require.Len(t, fs.requests, 2)
	assert.Equal(t, http.MethodPost, fs.requests[0].Method)
	assert.Equal(t, http.MethodPut, fs.requests[1].Method)
	assert.Equal(t, "/rest/security/acl/layers", fs.requests[1].Path)
	assert.Equal(t, "ROLE_EDITOR", fs.requests[1].Body["forest.areas_abc.w"])
}

func TestDeleteLayerRule(t *testing.T) {
	fs, client := newFakeServer(t, func(r *http.Request) int { return http.StatusNotFound })

	deleted, err := client.DeleteLayerRule(context.Background(), "forest.areas_abc.r")
	require.NoError(t, err)
	assert.False(t, deleted)
	assert.Equal(t, "/rest/security/acl/layers/forest.areas_abc.r", fs.requests[0].Path)
}

func TestTruncate(t *testing.T) {
	fs, client := newFakeServer(t, func(r *http.Request) int { return http.StatusOK })

	err := client.Truncate(context.Background(), "areas_abc",
		SeedBounds{MinX: 1, MinY: 2, MaxX: 3, MaxY: 4},
		TruncateOptions{GridSRID: 3067, GridSetID: "ETRS-TM35FIN", Format: "application/vnd.mapbox-vector-tile", ZoomStart: 0, ZoomStop: 15})
	require.NoError(t, err)

	req := fs.requests[0]
	assert.Equal(t, "/gwc/rest/seed/forest:areas_abc.json", req.Path)
	seed := req.Body["seedRequest"].(map[string]interface{})
	assert.Equal(t, "forest:areas_abc", seed["name"])
	assert.Equal(t, "truncate", seed["type"])
	assert.Equal(t, "ETRS-TM35FIN", seed["gridSetId"])
	assert.Equal(t, map[string]interface{}{"number": float64(3067)}, seed["srs"])
	assert.Equal(t, float64(15), seed["zoomStop"])
	bounds := seed["coords"].(map[string]interface{})["bounds"].(map[string]interface{})
	assert.Equal(t, float64(3), bounds["maxx"])
}

func TestJoinRoles(t *testing.T) {
	assert.Equal(t, "A,B,C", JoinRoles([]string{"A", " B", "", "A", "C"}))
}
