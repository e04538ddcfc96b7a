// Package httpapi exposes an objstore database over HTTP with JSON bodies.
//
// Keys in URLs and query parameters are JSON values (5, "abc", [1,"x"]);
// anything that isn't valid JSON is taken as a string key.
package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/andreyvit/objstore"
	"github.com/andreyvit/objstore/keycodec"
)

const defaultListLimit = 100

type Server struct {
	db     *objstore.DB
	logger zerolog.Logger
}

// NewServer returns a handler serving the database.
func NewServer(db *objstore.DB, logger zerolog.Logger) http.Handler {
	s := &Server{db: db, logger: logger}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(s.accessLog)
	r.Use(middleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/stores", s.listStores)
	r.Route("/stores/{store}", func(r chi.Router) {
		r.Get("/", s.describeStore)
		r.Get("/records", s.listRecords)
		r.Post("/records", s.addRecord)
		r.Get("/records/{key}", s.getRecord)
		r.Put("/records/{key}", s.putRecord)
		r.Delete("/records/{key}", s.deleteRecord)
		r.Get("/indexes/{index}/records", s.listIndexRecords)
	})
	return r
}

func (s *Server) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug().
			Str("req_id", middleware.GetReqID(r.Context())).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Int("size", ww.BytesWritten()).
			Dur("elapsed", time.Since(start)).
			Msg("request")
	})
}

type storeInfo struct {
	Name          string   `json:"name"`
	KeyPath       []string `json:"key_path,omitempty"`
	AutoIncrement bool     `json:"auto_increment,omitempty"`
	Indexes       []string `json:"indexes"`
	Count         int      `json:"count"`
}

type record struct {
	Key        any `json:"key"`
	PrimaryKey any `json:"primary_key,omitempty"`
	Value      any `json:"value,omitempty"`
}

func (s *Server) listStores(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"version": s.db.Version(),
		"stores":  s.db.StoreNames(),
	})
}

func (s *Server) describeStore(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "store")
	var info storeInfo
	err := s.db.View(r.Context(), []string{name}, func(tx *objstore.Tx) error {
		st, err := tx.ObjectStore(name)
		if err != nil {
			return err
		}
		info = storeInfo{
			Name:          name,
			KeyPath:       st.KeyPath().Paths(),
			AutoIncrement: st.AutoIncrement(),
			Indexes:       st.IndexNames(),
		}
		info.Count, err = objstore.Await[int](st.Count(nil))
		return err
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (s *Server) getRecord(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "store")
	key := keyParam(r)
	var value any
	err := s.db.View(r.Context(), []string{name}, func(tx *objstore.Tx) error {
		st, err := tx.ObjectStore(name)
		if err != nil {
			return err
		}
		value, err = objstore.Await[any](st.Get(key))
		return err
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if value == nil {
		writeError(w, http.StatusNotFound, "NotFoundError", "no such record")
		return
	}
	writeJSON(w, http.StatusOK, value)
}

// putRecord stores the body under the URL key. Stores with a key path take
// the key from the body, which must name the same record as the URL.
func (s *Server) putRecord(w http.ResponseWriter, r *http.Request) {
	s.write(w, r, http.StatusOK, func(st *objstore.ObjectStore, value any) (objstore.Key, error) {
		if st.KeyPath().IsZero() {
			return objstore.Await[objstore.Key](st.Put(value, keyParam(r)))
		}
		want, err := keycodec.Encode(keyParam(r))
		if err != nil {
			return objstore.Key{}, badRequest("invalid key: %v", err)
		}
		key, err := objstore.Await[objstore.Key](st.Put(value))
		if err != nil {
			return objstore.Key{}, err
		}
		if !key.Equal(want) {
			return objstore.Key{}, badRequest("body has key %v at %s, but the URL names %v", key, st.KeyPath(), want)
		}
		return key, nil
	})
}

func (s *Server) addRecord(w http.ResponseWriter, r *http.Request) {
	s.write(w, r, http.StatusCreated, func(st *objstore.ObjectStore, value any) (objstore.Key, error) {
		return objstore.Await[objstore.Key](st.Add(value))
	})
}

func (s *Server) write(w http.ResponseWriter, r *http.Request, status int, f func(st *objstore.ObjectStore, value any) (objstore.Key, error)) {
	name := chi.URLParam(r, "store")
	var value any
	if err := json.NewDecoder(r.Body).Decode(&value); err != nil {
		writeError(w, http.StatusBadRequest, "DataError", "invalid JSON body: "+err.Error())
		return
	}
	var key objstore.Key
	err := s.db.Update(r.Context(), []string{name}, func(tx *objstore.Tx) error {
		st, err := tx.ObjectStore(name)
		if err != nil {
			return err
		}
		key, err = f(st, value)
		return err
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, status, record{Key: key.Value()})
}

func (s *Server) deleteRecord(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "store")
	key := keyParam(r)
	var n int
	err := s.db.Update(r.Context(), []string{name}, func(tx *objstore.Tx) error {
		st, err := tx.ObjectStore(name)
		if err != nil {
			return err
		}
		n, err = objstore.Await[int](st.Delete(key))
		return err
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"deleted": n})
}

// listRecords walks a store with a cursor. Query parameters: lower, upper,
// lower_open, upper_open, limit, dir, keys_only.
func (s *Server) listRecords(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "store")
	q, err := parseListQuery(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	var out []record
	err = s.db.View(r.Context(), []string{name}, func(tx *objstore.Tx) error {
		st, err := tx.ObjectStore(name)
		if err != nil {
			return err
		}
		var req *objstore.Request
		if q.keysOnly {
			req, err = st.OpenKeyCursor(q.rang, q.dir)
		} else {
			req, err = st.OpenCursor(q.rang, q.dir)
		}
		out, err = collect(req, err, q.limit, false)
		return err
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// listIndexRecords walks an index. Besides the listRecords parameters, it
// accepts key to look up a single index key.
func (s *Server) listIndexRecords(w http.ResponseWriter, r *http.Request) {
	name, indexName := chi.URLParam(r, "store"), chi.URLParam(r, "index")
	q, err := parseListQuery(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	var out []record
	err = s.db.View(r.Context(), []string{name}, func(tx *objstore.Tx) error {
		st, err := tx.ObjectStore(name)
		if err != nil {
			return err
		}
		idx, err := st.Index(indexName)
		if err != nil {
			return err
		}
		var req *objstore.Request
		if q.keysOnly {
			req, err = idx.OpenKeyCursor(q.rang, q.dir)
		} else {
			req, err = idx.OpenCursor(q.rang, q.dir)
		}
		out, err = collect(req, err, q.limit, true)
		return err
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func collect(req *objstore.Request, err error, limit int, withPrimary bool) ([]record, error) {
	out := []record{}
	c, err := objstore.Await[*objstore.Cursor](req, err)
	for err == nil && c != nil {
		rec := record{Key: c.Key().Value(), Value: c.Value()}
		if withPrimary {
			rec.PrimaryKey = c.PrimaryKey().Value()
		}
		out = append(out, rec)
		if len(out) >= limit {
			break
		}
		c, err = objstore.Await[*objstore.Cursor](c.Continue())
	}
	return out, err
}

type listQuery struct {
	rang     objstore.KeyRange
	dir      objstore.Direction
	limit    int
	keysOnly bool
}

func parseListQuery(r *http.Request) (listQuery, error) {
	v := r.URL.Query()
	q := listQuery{limit: defaultListLimit}
	var err error

	if s := v.Get("limit"); s != "" {
		q.limit, err = strconv.Atoi(s)
		if err != nil || q.limit <= 0 {
			return q, badRequest("invalid limit %q", s)
		}
	}
	if q.dir, err = objstore.ParseDirection(v.Get("dir")); err != nil {
		return q, err
	}
	q.keysOnly = v.Get("keys_only") == "true"

	if s := v.Get("key"); s != "" {
		q.rang, err = objstore.Only(ParseKey(s))
		return q, err
	}
	lower, upper := v.Get("lower"), v.Get("upper")
	lowerOpen, upperOpen := v.Get("lower_open") == "true", v.Get("upper_open") == "true"
	switch {
	case lower != "" && upper != "":
		q.rang, err = objstore.Bound(ParseKey(lower), ParseKey(upper), lowerOpen, upperOpen)
	case lower != "":
		q.rang, err = objstore.LowerBound(ParseKey(lower), lowerOpen)
	case upper != "":
		q.rang, err = objstore.UpperBound(ParseKey(upper), upperOpen)
	}
	return q, err
}

func keyParam(r *http.Request) any {
	raw := chi.URLParam(r, "key")
	if s, err := url.PathUnescape(raw); err == nil {
		raw = s
	}
	return ParseKey(raw)
}

// ParseKey interprets s as a JSON value, falling back to s itself when it
// isn't valid JSON.
func ParseKey(s string) any {
	var v any
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		return s
	}
	return v
}

type requestError struct {
	msg string
}

func (e *requestError) Error() string { return e.msg }

func badRequest(format string, args ...any) error {
	return &requestError{msg: fmt.Sprintf(format, args...)}
}

func statusOf(err error) int {
	var re *requestError
	switch {
	case errors.As(err, &re), errors.Is(err, objstore.ErrData):
		return http.StatusBadRequest
	case errors.Is(err, objstore.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, objstore.ErrConstraint):
		return http.StatusConflict
	case errors.Is(err, objstore.ErrReadOnly), errors.Is(err, objstore.ErrNotAllowed):
		return http.StatusMethodNotAllowed
	case errors.Is(err, objstore.ErrTransactionInactive), errors.Is(err, objstore.ErrAbort):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusOf(err)
	if status >= 500 {
		s.logger.Error().Err(err).Str("req_id", middleware.GetReqID(r.Context())).Str("path", r.URL.Path).Msg("request failed")
	}
	name := objstore.ErrorName(err)
	var re *requestError
	if errors.As(err, &re) {
		name = "DataError"
	}
	writeError(w, status, name, err.Error())
}

func writeError(w http.ResponseWriter, status int, name, msg string) {
	writeJSON(w, status, map[string]string{"error": name, "message": msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
