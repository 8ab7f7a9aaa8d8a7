// Package backendtest runs an in-process fake of the backend-as-a-service:
// password auth, generic tables with exact-match filtering, a storage
// bucket, and the join-code RPC. Tests across the repo exercise the real
// HTTP clients against it.
package backendtest

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

// AnonKey is the project anon key the fake accepts.
const AnonKey = "test-anon-key"

var jwtSecret = []byte("backendtest-secret")

type userRecord struct {
	ID           uuid.UUID
	Email        string
	PasswordHash []byte
	Metadata     map[string]any
}

// Server is one fake backend instance.
type Server struct {
	mu            sync.Mutex
	users         map[string]*userRecord // by email
	refreshTokens map[string]uuid.UUID
	tables        map[string][]map[string]any
	missing       map[string]bool
	objects       map[string][]byte
	rpcEnabled    bool
	failLogout    bool
	confirmSignup bool

	srv *httptest.Server
}

// New starts a fake backend.
func New() *Server {
	s := &Server{
		users:         make(map[string]*userRecord),
		refreshTokens: make(map[string]uuid.UUID),
		tables:        make(map[string][]map[string]any),
		missing:       make(map[string]bool),
		objects:       make(map[string][]byte),
		rpcEnabled:    true,
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "Prefer", "apikey"},
	}))
	r.Use(s.requireAnonKey)

	r.Post("/auth/v1/token", s.handleToken)
	r.Post("/auth/v1/signup", s.handleSignup)
	r.Post("/auth/v1/logout", s.handleLogout)
	r.Get("/auth/v1/user", s.handleUser)

	r.Post("/rest/v1/rpc/search_apartment_by_code", s.handleSearchByCode)
	r.Get("/rest/v1/{table}", s.handleSelect)
	r.Post("/rest/v1/{table}", s.handleInsert)
	r.Patch("/rest/v1/{table}", s.handleUpdate)
	r.Delete("/rest/v1/{table}", s.handleDelete)

	r.Post("/storage/v1/object/{bucket}/*", s.handleUpload)
	r.Get("/storage/v1/object/public/{bucket}/*", s.handleDownload)
	r.Delete("/storage/v1/object/{bucket}", s.handleRemoveObjects)

	s.srv = httptest.NewServer(r)
	return s
}

// URL returns the fake's base URL.
func (s *Server) URL() string { return s.srv.URL }

// Close shuts the fake down.
func (s *Server) Close() { s.srv.Close() }

// CreateUser registers a user directly, returning its id.
func (s *Server) CreateUser(email, password string) uuid.UUID {
	hash, _ := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	u := &userRecord{ID: uuid.New(), Email: email, PasswordHash: hash, Metadata: map[string]any{}}
	s.mu.Lock()
	s.users[email] = u
	s.mu.Unlock()
	return u.ID
}

// Seed appends a row to a table.
func (s *Server) Seed(table string, row map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := row["id"]; !ok {
		row["id"] = uuid.NewString()
	}
	if _, ok := row["created_at"]; !ok {
		row["created_at"] = time.Now().UTC().Format(time.RFC3339)
	}
	s.tables[table] = append(s.tables[table], row)
}

// Rows returns a copy of a table's rows.
func (s *Server) Rows(table string) []map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]map[string]any, len(s.tables[table]))
	copy(out, s.tables[table])
	return out
}

// SetMissing makes a table answer with the undefined-table error code.
func (s *Server) SetMissing(table string, missing bool) {
	s.mu.Lock()
	s.missing[table] = missing
	s.mu.Unlock()
}

// SetRPCEnabled toggles the join-code search function.
func (s *Server) SetRPCEnabled(enabled bool) {
	s.mu.Lock()
	s.rpcEnabled = enabled
	s.mu.Unlock()
}

// SetFailLogout makes sign-out fail server-side.
func (s *Server) SetFailLogout(fail bool) {
	s.mu.Lock()
	s.failLogout = fail
	s.mu.Unlock()
}

// SetConfirmSignup makes sign-up return a user without a session, modelling
// email-confirmation-required deployments.
func (s *Server) SetConfirmSignup(confirm bool) {
	s.mu.Lock()
	s.confirmSignup = confirm
	s.mu.Unlock()
}

// HasObject reports whether the bucket holds an object at path.
func (s *Server) HasObject(bucket, path string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.objects[bucket+"/"+path]
	return ok
}

// Objects lists the paths stored in a bucket.
func (s *Server) Objects(bucket string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for key := range s.objects {
		if strings.HasPrefix(key, bucket+"/") {
			out = append(out, strings.TrimPrefix(key, bucket+"/"))
		}
	}
	sort.Strings(out)
	return out
}

// PutObject stores an object directly.
func (s *Server) PutObject(bucket, path string, data []byte) {
	s.mu.Lock()
	s.objects[bucket+"/"+path] = data
	s.mu.Unlock()
}

func (s *Server) requireAnonKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("apikey") != AnonKey {
			writeError(w, http.StatusUnauthorized, "", "invalid api key")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]string{"code": code, "message": message})
}

func (s *Server) mintSession(u *userRecord) map[string]any {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   u.ID.String(),
		ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
		IssuedAt:  jwt.NewNumericDate(now),
	}
	token, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(jwtSecret)

	refresh := uuid.NewString()
	s.refreshTokens[refresh] = u.ID

	return map[string]any{
		"access_token":  token,
		"refresh_token": refresh,
		"expires_in":    3600,
		"token_type":    "bearer",
		"user":          s.userJSON(u),
	}
}

func (s *Server) userJSON(u *userRecord) map[string]any {
	return map[string]any{
		"id":            u.ID.String(),
		"email":         u.Email,
		"user_metadata": u.Metadata,
	}
}

func (s *Server) userByBearer(r *http.Request) *userRecord {
	auth := r.Header.Get("Authorization")
	parts := strings.SplitN(auth, " ", 2)
	if len(parts) != 2 {
		return nil
	}
	var claims jwt.RegisteredClaims
	_, err := jwt.ParseWithClaims(parts[1], &claims, func(*jwt.Token) (any, error) {
		return jwtSecret, nil
	})
	if err != nil {
		return nil
	}
	id, err := uuid.Parse(claims.Subject)
	if err != nil {
		return nil
	}
	for _, u := range s.users {
		if u.ID == id {
			return u
		}
	}
	return nil
}

func (s *Server) handleToken(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email        string `json:"email"`
		Password     string `json:"password"`
		RefreshToken string `json:"refresh_token"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "", "invalid request body")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	switch r.URL.Query().Get("grant_type") {
	case "password":
		u, ok := s.users[body.Email]
		if !ok || bcrypt.CompareHashAndPassword(u.PasswordHash, []byte(body.Password)) != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error_description": "Invalid login credentials"})
			return
		}
		writeJSON(w, http.StatusOK, s.mintSession(u))

	case "refresh_token":
		id, ok := s.refreshTokens[body.RefreshToken]
		if !ok {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error_description": "Invalid refresh token"})
			return
		}
		delete(s.refreshTokens, body.RefreshToken)
		for _, u := range s.users {
			if u.ID == id {
				writeJSON(w, http.StatusOK, s.mintSession(u))
				return
			}
		}
		writeJSON(w, http.StatusBadRequest, map[string]string{"error_description": "User not found"})

	default:
		writeError(w, http.StatusBadRequest, "", "unsupported grant type")
	}
}

func (s *Server) handleSignup(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "", "invalid request body")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.users[body.Email]; exists {
		writeJSON(w, http.StatusBadRequest, map[string]string{"msg": "User already registered"})
		return
	}
	hash, _ := bcrypt.GenerateFromPassword([]byte(body.Password), bcrypt.MinCost)
	u := &userRecord{ID: uuid.New(), Email: body.Email, PasswordHash: hash, Metadata: map[string]any{}}
	s.users[body.Email] = u

	if s.confirmSignup {
		writeJSON(w, http.StatusOK, map[string]any{"user": s.userJSON(u)})
		return
	}
	writeJSON(w, http.StatusOK, s.mintSession(u))
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	fail := s.failLogout
	s.mu.Unlock()
	if fail {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"msg": "logout failed"})
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleUser(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	u := s.userByBearer(r)
	s.mu.Unlock()
	if u == nil {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"msg": "invalid token"})
		return
	}
	writeJSON(w, http.StatusOK, s.userJSON(u))
}

func (s *Server) handleSearchByCode(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	enabled := s.rpcEnabled
	s.mu.Unlock()
	if !enabled {
		writeError(w, http.StatusNotFound, "PGRST202", "Could not find the function public.search_apartment_by_code")
		return
	}

	var body struct {
		Code string `json:"code"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "", "invalid request body")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	var out []map[string]any
	for _, row := range s.tables["apartments"] {
		if asString(row["room_code"]) == body.Code {
			out = append(out, row)
		}
	}
	if out == nil {
		out = []map[string]any{}
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) checkTable(w http.ResponseWriter, table string) bool {
	if s.missing[table] {
		writeError(w, http.StatusNotFound, "42P01", "relation \""+table+"\" does not exist")
		return false
	}
	return true
}

func (s *Server) handleSelect(w http.ResponseWriter, r *http.Request) {
	table := chi.URLParam(r, "table")

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.checkTable(w, table) {
		return
	}

	rows := filterRows(s.tables[table], r.URL.Query())

	if order := r.URL.Query().Get("order"); order != "" {
		col, dir, _ := strings.Cut(order, ".")
		asc := dir != "desc"
		sort.SliceStable(rows, func(i, j int) bool {
			less := compareValues(rows[i][col], rows[j][col])
			if asc {
				return less
			}
			return !less
		})
	}

	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if limit, err := strconv.Atoi(limitStr); err == nil && limit < len(rows) {
			rows = rows[:limit]
		}
	}

	rows = s.applySelect(table, r.URL.Query().Get("select"), rows)
	writeJSON(w, http.StatusOK, rows)
}

// applySelect only understands the one embedded-resource shape the app
// uses: the joined document name on modification requests.
func (s *Server) applySelect(table, sel string, rows []map[string]any) []map[string]any {
	if !strings.Contains(sel, "documents!inner(name)") || table == "documents" {
		return rows
	}
	out := make([]map[string]any, 0, len(rows))
	for _, row := range rows {
		joined := make(map[string]any, len(row)+1)
		for k, v := range row {
			joined[k] = v
		}
		for _, doc := range s.tables["documents"] {
			if asString(doc["id"]) == asString(row["document_id"]) {
				joined["documents"] = map[string]any{"name": doc["name"]}
				break
			}
		}
		out = append(out, joined)
	}
	return out
}

func (s *Server) handleInsert(w http.ResponseWriter, r *http.Request) {
	table := chi.URLParam(r, "table")

	var raw json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
		writeError(w, http.StatusBadRequest, "", "invalid request body")
		return
	}
	var rows []map[string]any
	if len(raw) > 0 && raw[0] == '[' {
		if err := json.Unmarshal(raw, &rows); err != nil {
			writeError(w, http.StatusBadRequest, "", "invalid request body")
			return
		}
	} else {
		var row map[string]any
		if err := json.Unmarshal(raw, &row); err != nil {
			writeError(w, http.StatusBadRequest, "", "invalid request body")
			return
		}
		rows = []map[string]any{row}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.checkTable(w, table) {
		return
	}
	for _, row := range rows {
		if _, ok := row["id"]; !ok {
			row["id"] = uuid.NewString()
		}
		if _, ok := row["created_at"]; !ok {
			row["created_at"] = time.Now().UTC().Format(time.RFC3339)
		}
		s.tables[table] = append(s.tables[table], row)
	}

	if strings.Contains(r.Header.Get("Prefer"), "return=representation") {
		writeJSON(w, http.StatusCreated, rows)
		return
	}
	w.WriteHeader(http.StatusCreated)
}

func (s *Server) handleUpdate(w http.ResponseWriter, r *http.Request) {
	table := chi.URLParam(r, "table")

	var patch map[string]any
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		writeError(w, http.StatusBadRequest, "", "invalid request body")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.checkTable(w, table) {
		return
	}
	for _, row := range filterRows(s.tables[table], r.URL.Query()) {
		for k, v := range patch {
			row[k] = v
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	table := chi.URLParam(r, "table")

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.checkTable(w, table) {
		return
	}

	kept := s.tables[table][:0]
	for _, row := range s.tables[table] {
		if !matches(row, r.URL.Query()) {
			kept = append(kept, row)
		}
	}
	s.tables[table] = kept
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	bucket := chi.URLParam(r, "bucket")
	path := chi.URLParam(r, "*")

	data, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "", "failed to read body")
		return
	}

	s.mu.Lock()
	s.objects[bucket+"/"+path] = data
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]string{"Key": bucket + "/" + path})
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	bucket := chi.URLParam(r, "bucket")
	path := chi.URLParam(r, "*")

	s.mu.Lock()
	data, ok := s.objects[bucket+"/"+path]
	s.mu.Unlock()
	if !ok {
		writeError(w, http.StatusNotFound, "", "object not found")
		return
	}
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

func (s *Server) handleRemoveObjects(w http.ResponseWriter, r *http.Request) {
	bucket := chi.URLParam(r, "bucket")

	var body struct {
		Prefixes []string `json:"prefixes"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "", "invalid request body")
		return
	}

	s.mu.Lock()
	for _, p := range body.Prefixes {
		delete(s.objects, bucket+"/"+p)
	}
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, []map[string]string{})
}

// reserved query params that are not column filters.
var reservedParams = map[string]bool{"select": true, "order": true, "limit": true, "offset": true}

func filterRows(rows []map[string]any, q url.Values) []map[string]any {
	out := make([]map[string]any, 0, len(rows))
	for _, row := range rows {
		if matches(row, q) {
			out = append(out, row)
		}
	}
	return out
}

func matches(row map[string]any, q url.Values) bool {
	for key, vals := range q {
		if reservedParams[key] || len(vals) == 0 {
			continue
		}
		want, ok := strings.CutPrefix(vals[0], "eq.")
		if !ok {
			continue
		}
		if asString(row[key]) != want {
			return false
		}
	}
	return true
}

func asString(v any) string {
	if v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	data, _ := json.Marshal(v)
	return strings.Trim(string(data), `"`)
}

func compareValues(a, b any) bool {
	af, aok := toFloat(a)
	bf, bok := toFloat(b)
	if aok && bok {
		return af < bf
	}
	return asString(a) < asString(b)
}

func toFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case int:
		return float64(x), true
	case json.Number:
		f, err := x.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}
