package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trowan/grantly/internal/api"
	"github.com/trowan/grantly/internal/store"
)

// newTestServer builds a server over a seeded in-memory store.
func newTestServer(t *testing.T) (*httptest.Server, *store.MemoryStore) {
	t.Helper()

	mem := store.NewMemoryStore()
	mem.AddUser(api.User{ID: 1, Name: "Ada", Email: "ada@example.com"})
	mem.AddUser(api.User{ID: 2, Name: "Ben", Email: "ben@example.com"})
	mem.AddUser(api.User{ID: 3, Name: "Cleo", Email: "cleo@example.com"})
	mem.AddGroup(api.Group{ID: 1, Name: "admin"})
	mem.AddGroup(api.Group{ID: 2, Name: "default"})
	mem.AddObject(store.KindQuery, 10, "Daily signups", 1)

	srv := httptest.NewServer(New("127.0.0.1:0", mem).Handler())
	t.Cleanup(srv.Close)
	return srv, mem
}

func doJSON(t *testing.T, method, url string, body any) *http.Response {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func TestGetPermissionsEmpty(t *testing.T) {
	srv, _ := newTestServer(t)

	resp := doJSON(t, http.MethodGet, srv.URL+"/api/permissions/queries/10", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	payload := decode[map[string]accessListPayload](t, resp)
	require.Contains(t, payload, "view")
	require.Contains(t, payload, "modify")
	// Slices are always present, never null.
	assert.NotNil(t, payload["view"].Users)
	assert.NotNil(t, payload["view"].Groups)
	assert.Empty(t, payload["view"].Users)
}

func TestGrantAndGetPermissions(t *testing.T) {
	srv, _ := newTestServer(t)
	url := srv.URL + "/api/permissions/queries/10"

	uid := 2
	resp := doJSON(t, http.MethodPost, url, api.GrantRequest{AccessType: api.AccessView, UserID: &uid})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	gid := 2
	resp = doJSON(t, http.MethodPost, url, api.GrantRequest{AccessType: api.AccessModify, GroupID: &gid})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = doJSON(t, http.MethodGet, url, nil)
	payload := decode[map[string]accessListPayload](t, resp)

	require.Len(t, payload["view"].Users, 1)
	assert.Equal(t, "Ben", payload["view"].Users[0].Name)
	require.Len(t, payload["modify"].Groups, 1)
	assert.Equal(t, "default", payload["modify"].Groups[0].Name)
}

func TestGrantIsIdempotent(t *testing.T) {
	srv, _ := newTestServer(t)
	url := srv.URL + "/api/permissions/queries/10"

	uid := 2
	for i := 0; i < 3; i++ {
		resp := doJSON(t, http.MethodPost, url, api.GrantRequest{AccessType: api.AccessView, UserID: &uid})
		require.Equal(t, http.StatusOK, resp.StatusCode)
	}

	resp := doJSON(t, http.MethodGet, url, nil)
	payload := decode[map[string]accessListPayload](t, resp)
	assert.Len(t, payload["view"].Users, 1)
}

func TestRevoke(t *testing.T) {
	srv, _ := newTestServer(t)
	url := srv.URL + "/api/permissions/queries/10"

	uid := 2
	doJSON(t, http.MethodPost, url, api.GrantRequest{AccessType: api.AccessView, UserID: &uid})

	resp := doJSON(t, http.MethodDelete, url, api.GrantRequest{AccessType: api.AccessView, UserID: &uid})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = doJSON(t, http.MethodGet, url, nil)
	payload := decode[map[string]accessListPayload](t, resp)
	assert.Empty(t, payload["view"].Users)
}

func TestRevokeMissingGrantIsOK(t *testing.T) {
	srv, _ := newTestServer(t)

	uid := 3
	resp := doJSON(t, http.MethodDelete, srv.URL+"/api/permissions/queries/10",
		api.GrantRequest{AccessType: api.AccessModify, UserID: &uid})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestGrantValidation(t *testing.T) {
	srv, _ := newTestServer(t)
	url := srv.URL + "/api/permissions/queries/10"
	uid, gid := 2, 1

	cases := []struct {
		name    string
		body    any
		status  int
		message string
	}{
		{"bad json", "not json", http.StatusBadRequest, "Invalid request body."},
		{"unknown access type", map[string]any{"access_type": "own", "user_id": 2}, http.StatusBadRequest, "Unknown access type."},
		{"no grantee", api.GrantRequest{AccessType: api.AccessView}, http.StatusBadRequest, "Missing 'user_id' or 'group_id' in payload."},
		{"both grantees", api.GrantRequest{AccessType: api.AccessView, UserID: &uid, GroupID: &gid}, http.StatusBadRequest, ""},
		{"unknown user", map[string]any{"access_type": "view", "user_id": 999}, http.StatusBadRequest, "User not found."},
		{"unknown group", map[string]any{"access_type": "view", "group_id": 999}, http.StatusBadRequest, "Group not found."},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp := doJSON(t, http.MethodPost, url, tc.body)
			require.Equal(t, tc.status, resp.StatusCode)
			if tc.message != "" {
				body := decode[map[string]string](t, resp)
				assert.Equal(t, tc.message, body["message"])
			}
		})
	}
}

func TestUnknownObjectKindAndID(t *testing.T) {
	srv, _ := newTestServer(t)

	resp := doJSON(t, http.MethodGet, srv.URL+"/api/permissions/reports/10", nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	body := decode[map[string]string](t, resp)
	assert.Equal(t, "Unknown object type.", body["message"])

	resp = doJSON(t, http.MethodGet, srv.URL+"/api/permissions/queries/9999", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestGetObject(t *testing.T) {
	srv, _ := newTestServer(t)

	resp := doJSON(t, http.MethodGet, srv.URL+"/api/objects/queries/10", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	obj := decode[api.Object](t, resp)
	assert.Equal(t, "Daily signups", obj.Name)
	assert.Equal(t, 1, obj.User.ID)
}

func TestGetGroups(t *testing.T) {
	srv, _ := newTestServer(t)

	resp := doJSON(t, http.MethodGet, srv.URL+"/api/groups", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body := decode[map[string][]api.Group](t, resp)
	require.Len(t, body["results"], 2)
}

func TestSearchUsers(t *testing.T) {
	srv, _ := newTestServer(t)

	resp := doJSON(t, http.MethodGet, srv.URL+"/api/users?q=cle", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decode[map[string][]api.User](t, resp)
	require.Len(t, body["results"], 1)
	assert.Equal(t, "Cleo", body["results"][0].Name)

	// Empty term matches everyone.
	resp = doJSON(t, http.MethodGet, srv.URL+"/api/users?q=", nil)
	body = decode[map[string][]api.User](t, resp)
	assert.Len(t, body["results"], 3)
}

func TestRequestIDHeader(t *testing.T) {
	srv, _ := newTestServer(t)

	resp := doJSON(t, http.MethodGet, srv.URL+"/health", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("X-Request-Id"))
}

func TestHealthz(t *testing.T) {
	srv, _ := newTestServer(t)

	resp := doJSON(t, http.MethodGet, fmt.Sprintf("%s/health", srv.URL), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decode[map[string]string](t, resp)
	assert.Equal(t, "healthy", body["status"])
}
