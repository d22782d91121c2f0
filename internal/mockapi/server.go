// Package mockapi is an in-memory stand-in for the Captain's Log REST API. It
// serves the CSRF token, health and entity endpoints the sync engine talks to
// and records every write, for integration tests and local runs.
package mockapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
)

// CSRFHeader must carry the issued token on every write.
const CSRFHeader = "X-CSRF-Token"

// Request is a recorded write.
type Request struct {
	Method string
	Path   string
	Body   map[string]interface{}
}

// Server holds the entities of every configured endpoint.
type Server struct {
	prefix        string
	endpoints     []string
	now           func() time.Time
	missingAsNull bool

	mu         sync.Mutex
	entities   map[string]map[string]map[string]interface{} // endpoint → id → entity
	nextID     int
	csrfToken  string
	csrfStatus int
	faults     map[string]int // "METHOD path" → status
	writes     []Request
}

// Option configures a Server.
type Option func(*Server)

// WithPrefix mounts every route under p, e.g. "/api".
func WithPrefix(p string) Option {
	return func(s *Server) { s.prefix = strings.TrimRight(p, "/") }
}

// WithClock sets the clock used for createdAt/updatedAt.
func WithClock(now func() time.Time) Option {
	return func(s *Server) { s.now = now }
}

// WithMissingAsNull answers reads of unknown ids with 200 {"data": null}
// instead of 404.
func WithMissingAsNull() Option {
	return func(s *Server) { s.missingAsNull = true }
}

// New returns a Server serving endpoints such as "/trips".
func New(endpoints []string, opts ...Option) *Server {
	s := &Server{
		endpoints: endpoints,
		now:       time.Now,
		entities:  make(map[string]map[string]map[string]interface{}),
		faults:    make(map[string]int),
	}
	for _, ep := range endpoints {
		s.entities[ep] = make(map[string]map[string]interface{})
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Handler builds the router.
func (s *Server) Handler() http.Handler {
	root := mux.NewRouter()
	root.Use(Recovery)

	r := root
	if s.prefix != "" {
		r = root.PathPrefix(s.prefix).Subrouter()
	}

	r.HandleFunc("/health", s.health).Methods(http.MethodGet)
	r.HandleFunc("/auth/csrf-token", s.csrf).Methods(http.MethodGet)

	for _, ep := range s.endpoints {
		r.HandleFunc(ep, s.withFaults(s.requireCSRF(s.create(ep)))).Methods(http.MethodPost)
		r.HandleFunc(ep+"/{id}", s.withFaults(s.get(ep))).Methods(http.MethodGet)
		r.HandleFunc(ep+"/{id}", s.withFaults(s.requireCSRF(s.replace(ep)))).Methods(http.MethodPut)
		r.HandleFunc(ep+"/{id}", s.withFaults(s.requireCSRF(s.remove(ep)))).Methods(http.MethodDelete)
	}
	return root
}

// ------------------------------ test hooks ------------------------------

// Seed stores an entity as if the server had it. updatedAt is kept when set.
func (s *Server) Seed(endpoint, id string, data map[string]interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := clone(data)
	e["id"] = id
	if _, ok := e["updatedAt"]; !ok {
		e["updatedAt"] = s.now().UnixMilli()
	}
	s.table(endpoint)[id] = e
}

// Entity returns a copy of a stored entity.
func (s *Server) Entity(endpoint, id string) (map[string]interface{}, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.table(endpoint)[id]
	return clone(e), ok
}

// Writes returns the recorded POST, PUT and DELETE requests.
func (s *Server) Writes() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Request(nil), s.writes...)
}

// SetCSRFStatus makes the token endpoint answer with status; 0 restores it.
func (s *Server) SetCSRFStatus(status int) {
	s.mu.Lock()
	s.csrfStatus = status
	s.mu.Unlock()
}

// SetFault makes method on path (without prefix, e.g. "/activities/a1")
// answer with status until cleared with status 0.
func (s *Server) SetFault(method, path string, status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := method + " " + path
	if status == 0 {
		delete(s.faults, key)
		return
	}
	s.faults[key] = status
}

// ------------------------------ handlers ------------------------------

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "UP"})
}

func (s *Server) csrf(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	status := s.csrfStatus
	if status == 0 {
		s.csrfToken = uuid.New().String()
	}
	token := s.csrfToken
	s.mu.Unlock()

	if status != 0 {
		writeError(w, status, "csrf token unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"csrfToken": token})
}

func (s *Server) requireCSRF(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		want := s.csrfToken
		s.mu.Unlock()
		if want == "" || r.Header.Get(CSRFHeader) != want {
			writeError(w, http.StatusForbidden, "invalid csrf token")
			return
		}
		next(w, r)
	}
}

func (s *Server) withFaults(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		path := strings.TrimPrefix(r.URL.Path, s.prefix)
		s.mu.Lock()
		status, ok := s.faults[r.Method+" "+path]
		s.mu.Unlock()
		if ok {
			writeError(w, status, "injected fault")
			return
		}
		next(w, r)
	}
}

func (s *Server) get(ep string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := mux.Vars(r)["id"]
		e, ok := s.Entity(ep, id)
		if !ok {
			if s.missingAsNull {
				writeData(w, http.StatusOK, nil)
				return
			}
			writeError(w, http.StatusNotFound, fmt.Sprintf("%s %s not found", ep, id))
			return
		}
		writeData(w, http.StatusOK, e)
	}
}

func (s *Server) create(ep string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, ok := decodeBody(w, r)
		if !ok {
			return
		}

		s.mu.Lock()
		s.record(r, ep, body)
		s.nextID++
		id := fmt.Sprintf("srv-%d", s.nextID)
		now := s.now().UnixMilli()
		e := clone(body)
		e["id"] = id
		e["createdAt"] = now
		e["updatedAt"] = now
		s.table(ep)[id] = e
		out := clone(e)
		s.mu.Unlock()

		writeData(w, http.StatusCreated, out)
	}
}

func (s *Server) replace(ep string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := mux.Vars(r)["id"]
		body, ok := decodeBody(w, r)
		if !ok {
			return
		}

		s.mu.Lock()
		s.record(r, ep+"/"+id, body)
		prev, exists := s.table(ep)[id]
		if !exists {
			s.mu.Unlock()
			writeError(w, http.StatusNotFound, fmt.Sprintf("%s %s not found", ep, id))
			return
		}
		e := clone(body)
		e["id"] = id
		e["createdAt"] = prev["createdAt"]
		e["updatedAt"] = s.now().UnixMilli()
		s.table(ep)[id] = e
		out := clone(e)
		s.mu.Unlock()

		writeData(w, http.StatusOK, out)
	}
}

func (s *Server) remove(ep string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := mux.Vars(r)["id"]

		s.mu.Lock()
		s.record(r, ep+"/"+id, nil)
		_, exists := s.table(ep)[id]
		delete(s.table(ep), id)
		s.mu.Unlock()

		if !exists {
			writeError(w, http.StatusNotFound, fmt.Sprintf("%s %s not found", ep, id))
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// ------------------------------ helpers ------------------------------

// record must be called with s.mu held.
func (s *Server) record(r *http.Request, path string, body map[string]interface{}) {
	s.writes = append(s.writes, Request{Method: r.Method, Path: path, Body: clone(body)})
}

// table must be called with s.mu held.
func (s *Server) table(ep string) map[string]map[string]interface{} {
	t, ok := s.entities[ep]
	if !ok {
		t = make(map[string]map[string]interface{})
		s.entities[ep] = t
	}
	return t
}

func decodeBody(w http.ResponseWriter, r *http.Request) (map[string]interface{}, bool) {
	var body map[string]interface{}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return nil, false
	}
	if body == nil {
		body = map[string]interface{}{}
	}
	return body, true
}

func clone(m map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
