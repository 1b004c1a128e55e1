package client

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	c, err := New(Config{URL: server.URL + "/", APIKey: "service-key"})
	require.NoError(t, err)
	return c
}

func TestNew_RequiresSettings(t *testing.T) {
	_, err := New(Config{APIKey: "k"})
	assert.Error(t, err)
	_, err = New(Config{URL: "http://x"})
	assert.Error(t, err)
}

func TestQueryBuilder_Execute(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/rest/v1/products", r.URL.Path)
		q := r.URL.Query()
		assert.Equal(t, "*", q.Get("select"))
		assert.Equal(t, "eq.true", q.Get("is_active"))
		assert.Equal(t, "gt.0", q.Get("stock"))
		assert.Equal(t, "(name.ilike.*arroz*,description.ilike.*arroz*)", q.Get("or"))
		assert.Equal(t, "created_at.desc", q.Get("order"))
		assert.Equal(t, "10", q.Get("limit"))
		assert.Equal(t, "service-key", r.Header.Get("apikey"))
		assert.Equal(t, "Bearer service-key", r.Header.Get("Authorization"))

		w.Header().Set("Content-Range", "0-0/7")
		_, _ = w.Write([]byte(`[{"id":"p1"}]`))
	})

	resp, err := c.From("products").
		Select("*").
		Eq("is_active", true).
		Gt("stock", 0).
		Or("name.ilike.*arroz*,description.ilike.*arroz*").
		Order("created_at", false).
		Limit(10).
		Count("exact").
		Execute(context.Background())
	require.NoError(t, err)

	var rows []map[string]any
	require.NoError(t, resp.JSON(&rows))
	assert.Len(t, rows, 1)
	assert.Equal(t, 7, resp.Count())
}

func TestQueryBuilder_SingleNotFound(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/vnd.pgrst.object+json", r.Header.Get("Accept"))
		w.WriteHeader(http.StatusNotAcceptable)
		_, _ = w.Write([]byte(`{"code":"PGRST116","message":"JSON object requested, multiple (or no) rows returned"}`))
	})

	var row map[string]any
	err := c.From("orders").Select("*").Eq("id", "missing").Single().Into(context.Background(), &row)
	require.Error(t, err)
	assert.True(t, IsNotFound(err))
	assert.False(t, IsConflict(err))
}

func TestQueryBuilder_InsertSendsBody(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "return=representation", r.Header.Get("Prefer"))
		body, _ := io.ReadAll(r.Body)
		var got map[string]any
		require.NoError(t, json.Unmarshal(body, &got))
		assert.Equal(t, "Ana", got["full_name"])

		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write(body)
	})

	_, err := c.From("profiles").ExecuteInsert(context.Background(), map[string]any{"full_name": "Ana"})
	require.NoError(t, err)
}

func TestQueryBuilder_UpsertAndConflict(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "user_id", r.URL.Query().Get("on_conflict"))
		assert.Contains(t, r.Header.Get("Prefer"), "resolution=merge-duplicates")
		w.WriteHeader(http.StatusConflict)
		_, _ = w.Write([]byte(`{"code":"23505","message":"duplicate key"}`))
	})

	_, err := c.From("profiles").Upsert("user_id").ExecuteInsert(context.Background(), map[string]any{})
	require.Error(t, err)
	assert.True(t, IsConflict(err))
}

func TestQueryBuilder_UpdateRequiresFilter(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPatch, r.Method)
		assert.Equal(t, "eq.p1", r.URL.Query().Get("id"))
		_, _ = w.Write([]byte(`[{"id":"p1"}]`))
	})

	_, err := c.From("products").ExecuteUpdate(context.Background(), map[string]any{"image_url": "x"})
	assert.Error(t, err)

	_, err = c.From("products").Eq("id", "p1").ExecuteUpdate(context.Background(), map[string]any{"image_url": "x"})
	assert.NoError(t, err)
}

func TestQueryBuilder_In(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, `in.("a","b")`, r.URL.Query().Get("status"))
		_, _ = w.Write([]byte(`[]`))
	})

	_, err := c.From("delivery_tracking").In("status", []string{"a", "b"}).Execute(context.Background())
	require.NoError(t, err)
}

func TestAuth_AdminCreateAndDelete(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/auth/v1/admin/users":
			var attrs AdminUserAttributes
			require.NoError(t, json.NewDecoder(r.Body).Decode(&attrs))
			assert.True(t, attrs.EmailConfirm)
			assert.Equal(t, "Ana", attrs.UserMetadata["full_name"])
			_, _ = w.Write([]byte(`{"id":"u-1","email":"ana@example.com"}`))
		case r.Method == http.MethodDelete && r.URL.Path == "/auth/v1/admin/users/u-1":
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte(`{}`))
		default:
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
	})

	user, err := c.Auth().AdminCreateUser(context.Background(), AdminUserAttributes{
		Email:        "ana@example.com",
		Password:     "secret1",
		EmailConfirm: true,
		UserMetadata: map[string]any{"full_name": "Ana"},
	})
	require.NoError(t, err)
	assert.Equal(t, "u-1", user.ID)

	require.NoError(t, c.Auth().AdminDeleteUser(context.Background(), "u-1"))
}

func TestAuth_SignInError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "password", r.URL.Query().Get("grant_type"))
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"invalid_grant","error_description":"Invalid login credentials"}`))
	})

	_, err := c.Auth().SignIn(context.Background(), "a@b.co", "bad")
	require.Error(t, err)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadRequest, apiErr.StatusCode)
	assert.Equal(t, "Invalid login credentials", apiErr.Message)
}

func TestStorage_UploadAndPublicURL(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/storage/v1/object/product-images/ai-generated-arroz.jpg", r.URL.Path)
		assert.Equal(t, "image/jpeg", r.Header.Get("Content-Type"))
		assert.Equal(t, "true", r.Header.Get("x-upsert"))
		body, _ := io.ReadAll(r.Body)
		assert.Equal(t, []byte{0xff, 0xd8}, body)
		_, _ = w.Write([]byte(`{"Key":"product-images/ai-generated-arroz.jpg"}`))
	})

	bucket := c.Storage().From("product-images")
	err := bucket.Upload(context.Background(), "ai-generated-arroz.jpg", []byte{0xff, 0xd8}, UploadOptions{
		ContentType: "image/jpeg",
		Upsert:      true,
	})
	require.NoError(t, err)
	assert.Equal(t, c.BaseURL()+"/storage/v1/object/public/product-images/ai-generated-arroz.jpg",
		bucket.GetPublicURL("ai-generated-arroz.jpg"))
}

func TestRPC(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/rest/v1/rpc/create_order", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		_, _ = w.Write([]byte(`"7b1d"`))
	})

	resp, err := c.RPC(context.Background(), "create_order", map[string]any{"p_order": map[string]any{}})
	require.NoError(t, err)
	var id string
	require.NoError(t, resp.JSON(&id))
	assert.Equal(t, "7b1d", id)
}

func TestParseChange(t *testing.T) {
	event := &RealtimeEvent{
		Event: "postgres_changes",
		Topic: "realtime:public:delivery_tracking",
		Payload: json.RawMessage(`{"data":{"type":"UPDATE","schema":"public","table":"delivery_tracking",
			"record":{"id":"t1","order_id":"o1","status":"on_route"},"old_record":{"id":"t1"}}}`),
	}

	change, ok := ParseChange(event)
	require.True(t, ok)
	assert.Equal(t, "UPDATE", change.Type)
	assert.Equal(t, "o1", change.StringField("order_id"))
	assert.Equal(t, "on_route", change.StringField("status"))

	_, ok = ParseChange(&RealtimeEvent{Event: "phx_reply", Payload: json.RawMessage(`{}`)})
	assert.False(t, ok)
}
