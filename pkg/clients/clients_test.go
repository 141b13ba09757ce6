package clients

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CSCfi/sd-submit/pkg/config"
	"github.com/CSCfi/sd-submit/pkg/datacite"
	apperrors "github.com/CSCfi/sd-submit/pkg/errors"
)

func serviceConfig(srv *httptest.Server) config.ServiceConfig {
	return config.ServiceConfig{URL: srv.URL, User: "user", Key: "key", Token: "token", Enabled: true}
}

func TestPIDCreateDraftAndPublish(t *testing.T) {
	t.Parallel()

	var published map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "key", r.Header.Get("apikey"))
		w.Header().Set("Content-Type", "application/json")

		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/v1/pid/doi":
			_, _ = w.Write([]byte(`{"data":{"attributes":{"doi":"10.80869/sd-X"}}}`))
		case r.Method == http.MethodPut && r.URL.Path == "/v1/pid/doi/10.80869/sd-X":
			require.NoError(t, json.NewDecoder(r.Body).Decode(&published))
			_, _ = w.Write([]byte(`{}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	pid := NewPID(serviceConfig(srv))

	doi, err := pid.CreateDraftDOI(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "10.80869/sd-X", doi)

	md := &datacite.Metadata{Titles: []datacite.Title{{Title: "T"}}}
	require.NoError(t, pid.Publish(context.Background(), doi, md, "https://etsin.example/dataset/M", false))

	attributes := published["data"].(map[string]any)["attributes"].(map[string]any)
	assert.Equal(t, "10.80869/sd-X", attributes["doi"])
	assert.Equal(t, "https://etsin.example/dataset/M", attributes["url"])
	assert.NotContains(t, attributes, "event", "draft-only publish must not carry the publish event")
}

func TestDatacitePublishEvent(t *testing.T) {
	t.Parallel()

	var published map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		assert.True(t, ok)
		assert.Equal(t, "user", user)
		assert.Equal(t, "key", pass)
		w.Header().Set("Content-Type", "application/json")

		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/dois":
			var body map[string]any
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			attributes := body["data"].(map[string]any)["attributes"].(map[string]any)
			assert.Equal(t, "10.1234", attributes["prefix"])
			_, _ = w.Write([]byte(`{"data":{"attributes":{"doi":"10.1234/abcd"}}}`))
		case r.Method == http.MethodPut:
			require.NoError(t, json.NewDecoder(r.Body).Decode(&published))
			_, _ = w.Write([]byte(`{}`))
		}
	}))
	defer srv.Close()

	dc := NewDatacite(serviceConfig(srv), "10.1234")

	doi, err := dc.CreateDraftDOI(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "10.1234/abcd", doi)

	require.NoError(t, dc.Publish(context.Background(), doi, &datacite.Metadata{}, "https://doi.org/10.1234/abcd", true))
	attributes := published["data"].(map[string]any)["attributes"].(map[string]any)
	assert.Equal(t, "publish", attributes["event"])
}

func TestDataciteErrorFormatting(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte(`{"errors":[{"title":"DOI is invalid"}]}`))
	}))
	defer srv.Close()

	dc := NewDatacite(serviceConfig(srv), "10.1234")
	_, err := dc.CreateDraftDOI(context.Background())
	require.Error(t, err)
	assert.True(t, apperrors.IsUpstreamClient(err))
	assert.Contains(t, err.Error(), "DOI is invalid")
}

func TestMetaxCreateDraftDataset(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Token token", r.Header.Get("Authorization"))
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/v3/datasets", r.URL.Path)

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "doi:10.80869/sd-X", body["persistent_identifier"])
		assert.Equal(t, map[string]any{"en": "T"}, body["title"])
		assert.Equal(t, "draft", body["state"])

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"M"}`))
	}))
	defer srv.Close()

	metax := NewMetax(serviceConfig(srv))
	id, err := metax.CreateDraftDataset(context.Background(), "10.80869/sd-X", "T", "D")
	require.NoError(t, err)
	assert.Equal(t, "M", id)
}

func TestMetaxFieldsOfScienceCached(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		require.Equal(t, "/v3/reference-data/fields-of-science", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"results":[{"id":"u1","url":"u1","code":"ta111","pref_label":{"en":"Mathematics"}}]}`))
	}))
	defer srv.Close()

	metax := NewMetax(serviceConfig(srv))

	for range 3 {
		fields, err := metax.GetFieldsOfScience(context.Background())
		require.NoError(t, err)
		require.Len(t, fields, 1)
		assert.Equal(t, "ta111", fields[0].Code)
	}
	assert.Equal(t, int32(1), calls.Load())
}

func TestRemsCreateResourceValidatesOrganisation(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "key", r.Header.Get("x-rems-api-key"))
		assert.Equal(t, "user", r.Header.Get("x-rems-user-id"))
		w.Header().Set("Content-Type", "application/json")

		switch r.URL.Path {
		case "/api/workflows/1":
			_, _ = w.Write([]byte(`{"id":1,"enabled":true,"archived":false,"organization":{"organization/id":"1"}}`))
		case "/api/licenses/1":
			_, _ = w.Write([]byte(`{"id":1,"enabled":true,"archived":false,"organization":{"organization/id":"1"}}`))
		case "/api/licenses/2":
			_, _ = w.Write([]byte(`{"id":2,"enabled":true,"archived":false,"organization":{"organization/id":"other"}}`))
		case "/api/resources/create":
			_, _ = w.Write([]byte(`{"success":true,"id":7}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	rems := NewRems(serviceConfig(srv))

	resourceID, err := rems.CreateResource(context.Background(), "1", 1, []int{1}, "10.80869/sd-X")
	require.NoError(t, err)
	assert.Equal(t, 7, resourceID)

	// A license from another organisation stops the creation.
	_, err = rems.CreateResource(context.Background(), "1", 1, []int{2}, "10.80869/sd-X")
	assert.True(t, apperrors.IsUser(err))
}

func TestRemsApplicationBases(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/api/workflows":
			_, _ = w.Write([]byte(`[
				{"id":1,"title":"Default","enabled":true,"archived":false,
				 "organization":{"organization/id":"csc","organization/name":{"en":"CSC","fi":"CSC Oy"}}},
				{"id":2,"title":"Manual","enabled":true,"archived":false,
				 "organization":{"organization/id":"uni","organization/name":{"fi":"Yliopisto"}}}
			]`))
		case "/api/licenses":
			_, _ = w.Write([]byte(`[
				{"id":5,"enabled":true,"archived":false,
				 "organization":{"organization/id":"csc","organization/name":{"en":"CSC"}},
				 "localizations":{"fi":{"title":"Lisenssi","textcontent":"https://example.fi"}}}
			]`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	rems := NewRems(serviceConfig(srv))
	orgs, err := rems.ApplicationBases(context.Background(), "en", "")
	require.NoError(t, err)
	require.Len(t, orgs, 2)

	assert.Equal(t, "csc", orgs[0].ID)
	assert.Equal(t, "CSC", orgs[0].Name)
	require.Len(t, orgs[0].Workflows, 1)
	require.Len(t, orgs[0].Licenses, 1)
	// No English localisation: falls back to the only available language.
	assert.Equal(t, "Lisenssi", orgs[0].Licenses[0].Title)

	assert.Equal(t, "uni", orgs[1].ID)
	assert.Equal(t, "Yliopisto", orgs[1].Name)
}

func TestRemsApplicationURL(t *testing.T) {
	t.Parallel()

	rems := NewRems(config.ServiceConfig{URL: "https://apply.example.org/", Enabled: true})
	assert.Equal(t, "https://apply.example.org/application?items=1", rems.ApplicationURL(1))
}

func TestRorResolution(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		query := r.URL.Query().Get("query.advanced")
		switch {
		case query == `names.types.ror_display:"Academy of Medicine" OR names.types.label:"Academy of Medicine" OR names.types.alias:"Academy of Medicine"`:
			_, _ = w.Write([]byte(`{"number_of_results":1,"items":[
				{"names":[{"value":"Academy of Medicine","types":["ror_display","label"]}]}
			]}`))
		case query != "" && r.URL.Path == "/organizations":
			_, _ = w.Write([]byte(`{"number_of_results":2,"items":[
				{"names":[{"value":"Attogen Biomedical Research","types":["ror_display"]}]},
				{"names":[{"value":"Attogen Biomedical","types":["ror_display"]}]}
			]}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	ror := NewRor(serviceConfig(srv))

	name, err := ror.IsRorOrganisation(context.Background(), "Academy of Medicine")
	require.NoError(t, err)
	assert.Equal(t, "Academy of Medicine", name)

	// Several hits: only an exact normalised match resolves.
	name, err = ror.IsRorOrganisation(context.Background(), "attogen biomedical research")
	require.NoError(t, err)
	assert.Equal(t, "Attogen Biomedical Research", name)

	name, err = ror.IsRorOrganisation(context.Background(), "Attogen")
	require.NoError(t, err)
	assert.Empty(t, name)
}

func TestRorCacheSingleFlight(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		time.Sleep(50 * time.Millisecond)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"number_of_results":1,"items":[{"names":[{"value":"CSC","types":["ror_display"]}]}]}`))
	}))
	defer srv.Close()

	ror := NewRor(serviceConfig(srv))

	var wg sync.WaitGroup
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			name, err := ror.IsRorOrganisation(context.Background(), "CSC")
			assert.NoError(t, err)
			assert.Equal(t, "CSC", name)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load(), "concurrent misses must collapse into one lookup")
}

func TestKeystoneProjectScopedToken(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v3/auth/tokens", r.URL.Path)

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		scope := body["auth"].(map[string]any)["scope"].(map[string]any)
		assert.Equal(t, map[string]any{"id": "p-1"}, scope["project"])

		w.Header().Set("X-Subject-Token", "secret-token")
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"token":{}}`))
	}))
	defer srv.Close()

	keystone := NewKeystone(serviceConfig(srv))
	token, err := keystone.ProjectScopedToken(context.Background(), "p-1")
	require.NoError(t, err)
	assert.Equal(t, "secret-token", token)
}
