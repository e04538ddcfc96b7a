package httpapi

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andreyvit/objstore"
)

func setup(t *testing.T) *httptest.Server {
	t.Helper()
	db, err := objstore.OpenMemory(objstore.Options{IsTesting: true})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	err = db.Upgrade(context.Background(), 1, func(tx *objstore.Tx) error {
		users, err := tx.CreateObjectStore("users", objstore.StoreOptions{
			KeyPath:       objstore.MustKeyPath("id"),
			AutoIncrement: true,
		})
		if err != nil {
			return err
		}
		if _, err := users.CreateIndex("by_email", objstore.MustKeyPath("email"), objstore.IndexOptions{Unique: true}); err != nil {
			return err
		}
		_, err = tx.CreateObjectStore("notes", objstore.StoreOptions{})
		return err
	})
	require.NoError(t, err)

	srv := httptest.NewServer(NewServer(db, zerolog.Nop()))
	t.Cleanup(srv.Close)
	return srv
}

func do(t *testing.T, srv *httptest.Server, method, path, body string) (int, string) {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, srv.URL+path, rd)
	require.NoError(t, err)
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
	return resp.StatusCode, string(raw)
}

func TestHealth(t *testing.T) {
	srv := setup(t)
	status, body := do(t, srv, "GET", "/health", "")
	require.Equal(t, http.StatusOK, status)
	require.JSONEq(t, `{"status":"ok"}`, body)
}

func TestStores(t *testing.T) {
	srv := setup(t)
	status, body := do(t, srv, "GET", "/stores", "")
	require.Equal(t, http.StatusOK, status)
	require.JSONEq(t, `{"version":1,"stores":["notes","users"]}`, body)

	do(t, srv, "POST", "/stores/users/records", `{"email":"a@example.com"}`)
	status, body = do(t, srv, "GET", "/stores/users/", "")
	require.Equal(t, http.StatusOK, status)
	require.JSONEq(t, `{"name":"users","key_path":["id"],"auto_increment":true,"indexes":["by_email"],"count":1}`, body)

	status, body = do(t, srv, "GET", "/stores/notes/", "")
	require.Equal(t, http.StatusOK, status)
	require.JSONEq(t, `{"name":"notes","indexes":[],"count":0}`, body)

	status, body = do(t, srv, "GET", "/stores/missing/", "")
	require.Equal(t, http.StatusNotFound, status)
	require.Contains(t, body, `"error":"NotFoundError"`)
}

func TestRecords(t *testing.T) {
	srv := setup(t)

	status, body := do(t, srv, "POST", "/stores/users/records", `{"email":"a@example.com"}`)
	require.Equal(t, http.StatusCreated, status)
	require.JSONEq(t, `{"key":1}`, body)

	status, body = do(t, srv, "POST", "/stores/users/records", `{"email":"b@example.com","name":"Bob"}`)
	require.Equal(t, http.StatusCreated, status)
	require.JSONEq(t, `{"key":2}`, body)

	status, body = do(t, srv, "POST", "/stores/users/records", `{"email":"a@example.com"}`)
	require.Equal(t, http.StatusConflict, status)
	require.Contains(t, body, `"error":"ConstraintError"`)

	status, body = do(t, srv, "GET", "/stores/users/records/2", "")
	require.Equal(t, http.StatusOK, status)
	require.JSONEq(t, `{"id":2,"email":"b@example.com","name":"Bob"}`, body)

	status, _ = do(t, srv, "GET", "/stores/users/records/99", "")
	require.Equal(t, http.StatusNotFound, status)

	status, body = do(t, srv, "POST", "/stores/users/records", `{"email":`)
	require.Equal(t, http.StatusBadRequest, status)
	require.Contains(t, body, `"error":"DataError"`)

	status, _ = do(t, srv, "PUT", "/stores/users/records/5", `{"id":6,"email":"c@example.com"}`)
	require.Equal(t, http.StatusBadRequest, status)
	status, body = do(t, srv, "PUT", "/stores/users/records/5", `{"email":"c@example.com"}`)
	require.Equal(t, http.StatusBadRequest, status)
	require.Contains(t, body, `"error":"DataError"`)
	status, body = do(t, srv, "PUT", "/stores/users/records/5", `{"id":5,"email":"c@example.com"}`)
	require.Equal(t, http.StatusOK, status)
	require.JSONEq(t, `{"key":5}`, body)
	status, body = do(t, srv, "GET", "/stores/users/records/5", "")
	require.Equal(t, http.StatusOK, status)
	require.JSONEq(t, `{"id":5,"email":"c@example.com"}`, body)

	status, body = do(t, srv, "PUT", "/stores/notes/records/7", `{"text":"seven"}`)
	require.Equal(t, http.StatusOK, status)
	require.JSONEq(t, `{"key":7}`, body)
	status, body = do(t, srv, "PUT", "/stores/notes/records/abc", `{"text":"abc"}`)
	require.Equal(t, http.StatusOK, status)
	require.JSONEq(t, `{"key":"abc"}`, body)
	status, _ = do(t, srv, "PUT", "/stores/notes/records/7", `{"text":"seven again"}`)
	require.Equal(t, http.StatusOK, status)

	status, body = do(t, srv, "GET", "/stores/notes/records/abc", "")
	require.Equal(t, http.StatusOK, status)
	require.JSONEq(t, `{"text":"abc"}`, body)

	status, body = do(t, srv, "DELETE", "/stores/notes/records/7", "")
	require.Equal(t, http.StatusOK, status)
	require.JSONEq(t, `{"deleted":1}`, body)
	status, body = do(t, srv, "DELETE", "/stores/notes/records/7", "")
	require.Equal(t, http.StatusOK, status)
	require.JSONEq(t, `{"deleted":0}`, body)

	status, _ = do(t, srv, "POST", "/stores/missing/records", `{}`)
	require.Equal(t, http.StatusNotFound, status)
}

func TestListRecords(t *testing.T) {
	srv := setup(t)
	for _, email := range []string{"c@example.com", "a@example.com", "b@example.com"} {
		status, _ := do(t, srv, "POST", "/stores/users/records", `{"email":"`+email+`"}`)
		require.Equal(t, http.StatusCreated, status)
	}

	status, body := do(t, srv, "GET", "/stores/users/records?keys_only=true", "")
	require.Equal(t, http.StatusOK, status)
	require.JSONEq(t, `[{"key":1},{"key":2},{"key":3}]`, body)

	status, body = do(t, srv, "GET", "/stores/users/records?dir=prev&limit=2", "")
	require.Equal(t, http.StatusOK, status)
	require.JSONEq(t, `[
		{"key":3,"value":{"id":3,"email":"b@example.com"}},
		{"key":2,"value":{"id":2,"email":"a@example.com"}}
	]`, body)

	status, body = do(t, srv, "GET", "/stores/users/records?lower=1&lower_open=true&keys_only=true", "")
	require.Equal(t, http.StatusOK, status)
	require.JSONEq(t, `[{"key":2},{"key":3}]`, body)

	status, body = do(t, srv, "GET", "/stores/users/records?upper=2&keys_only=true", "")
	require.Equal(t, http.StatusOK, status)
	require.JSONEq(t, `[{"key":1},{"key":2}]`, body)

	status, body = do(t, srv, "GET", "/stores/users/indexes/by_email/records?keys_only=true", "")
	require.Equal(t, http.StatusOK, status)
	require.JSONEq(t, `[
		{"key":"a@example.com","primary_key":2},
		{"key":"b@example.com","primary_key":3},
		{"key":"c@example.com","primary_key":1}
	]`, body)

	q := url.Values{"key": {`"b@example.com"`}}
	status, body = do(t, srv, "GET", "/stores/users/indexes/by_email/records?"+q.Encode(), "")
	require.Equal(t, http.StatusOK, status)
	require.JSONEq(t, `[{"key":"b@example.com","primary_key":3,"value":{"id":3,"email":"b@example.com"}}]`, body)

	status, body = do(t, srv, "GET", "/stores/users/records?lower=5&upper=1", "")
	require.Equal(t, http.StatusBadRequest, status)
	require.Contains(t, body, `"error":"DataError"`)

	status, _ = do(t, srv, "GET", "/stores/users/records?limit=0", "")
	require.Equal(t, http.StatusBadRequest, status)
	status, _ = do(t, srv, "GET", "/stores/users/records?dir=sideways", "")
	require.Equal(t, http.StatusBadRequest, status)
	status, _ = do(t, srv, "GET", "/stores/users/indexes/nope/records", "")
	require.Equal(t, http.StatusNotFound, status)
}

func TestParseKey(t *testing.T) {
	assert.Equal(t, 5.0, ParseKey("5"))
	assert.Equal(t, "abc", ParseKey(`"abc"`))
	assert.Equal(t, "abc", ParseKey("abc"))
	assert.Equal(t, []any{1.0, "x"}, ParseKey(`[1,"x"]`))
}
