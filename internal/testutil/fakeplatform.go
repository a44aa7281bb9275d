package testutil

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/lherron/acctmigrate/internal/api"
	"github.com/lherron/acctmigrate/internal/logging"
	"github.com/lherron/acctmigrate/internal/platform"
	"github.com/lherron/acctmigrate/internal/ratelimit"
	"github.com/lherron/acctmigrate/internal/record"
)

// FakePlatform is an in-memory platform instance served over httptest.
// Tests seed the exported fields before the first request and inspect them
// after the run. Handlers hold mu while touching state.
type FakePlatform struct {
	Server *httptest.Server
	Name   string

	mu sync.Mutex

	Tenants      []record.Record
	Categories   []record.Record
	Permissions  []record.Record
	Roles        []record.Record
	Users        []record.Record
	Applications []record.Record
	Prehooks     []record.Record
	Groups       []record.Record

	SecurityRules  map[string]record.Record
	Templates      map[string]record.Record
	EmailProvider  record.Record
	CustomCode     map[string]record.Record
	AllowedOrigins []string
	RedirectURIs   []string
	JWT            record.Record

	// Imports holds the CSV bodies uploaded to the user import endpoint.
	Imports []string
	// Invites holds bulk invite bodies by tenant.
	Invites map[string][]record.Record

	// RejectAuth makes /auth/vendor answer 401.
	RejectAuth bool
	// AuthLimit, when positive, makes every token request after that many
	// answer 401.
	AuthLimit int
	// TokenTTL overrides the issued token lifetime in seconds. A value below
	// the client's refresh leeway forces a refresh on every request.
	TokenTTL int

	calls map[string]int
	seq   int
}

// NewFakePlatform starts a fake instance that is shut down with the test.
func NewFakePlatform(t *testing.T, name string) *FakePlatform {
	t.Helper()
	f := &FakePlatform{
		Name:          name,
		SecurityRules: map[string]record.Record{},
		Templates:     map[string]record.Record{},
		CustomCode:    map[string]record.Record{},
		Invites:       map[string][]record.Record{},
		calls:         map[string]int{},
	}
	f.Server = httptest.NewServer(f.routes())
	t.Cleanup(f.Server.Close)
	return f
}

// Instance returns credentials pointing at the fake.
func (f *FakePlatform) Instance() api.Instance {
	return api.Instance{Name: f.Name, BaseURL: f.Server.URL, ClientID: "cid-" + f.Name, Secret: "secret"}
}

// Client returns an unthrottled client for the fake.
func (f *FakePlatform) Client(log logging.Logger) *api.Client {
	return api.New(api.Config{
		Instance:         f.Instance(),
		Timeout:          5 * time.Second,
		RateLimitBackoff: time.Millisecond,
		HTTPClient:       f.Server.Client(),
	}, ratelimit.New(0), log)
}

// Platform returns a platform view of the fake.
func (f *FakePlatform) Platform(log logging.Logger) *platform.Platform {
	if log == nil {
		log = logging.Discard()
	}
	return platform.New(f.Client(log), log)
}

// Calls returns how many requests hit "METHOD /path".
func (f *FakePlatform) Calls(endpoint string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[endpoint]
}

// Writes counts every non-GET request other than authentication.
func (f *FakePlatform) Writes() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for k, v := range f.calls {
		if !strings.HasPrefix(k, "GET ") && k != "POST /auth/vendor" {
			n += v
		}
	}
	return n
}

// ResetCalls clears the request counters.
func (f *FakePlatform) ResetCalls() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = map[string]int{}
}

func (f *FakePlatform) nextID(prefix string) string {
	f.seq++
	return fmt.Sprintf("%s-%s-%d", prefix, f.Name, f.seq)
}

func (f *FakePlatform) routes() http.Handler {
	mux := http.NewServeMux()
	h := func(pattern string, fn func(w http.ResponseWriter, r *http.Request)) {
		mux.HandleFunc(pattern, func(w http.ResponseWriter, r *http.Request) {
			f.mu.Lock()
			defer f.mu.Unlock()
			f.calls[r.Method+" "+r.URL.Path]++
			fn(w, r)
		})
	}

	h("POST /auth/vendor", func(w http.ResponseWriter, r *http.Request) {
		if f.RejectAuth || (f.AuthLimit > 0 && f.calls["POST /auth/vendor"] > f.AuthLimit) {
			writeJSON(w, http.StatusUnauthorized, map[string]any{"errors": []string{"invalid credentials"}})
			return
		}
		ttl := 3600
		if f.TokenTTL > 0 {
			ttl = f.TokenTTL
		}
		writeJSON(w, http.StatusOK, map[string]any{"token": "tok-" + f.Name, "expiresIn": ttl})
	})

	// tenants
	h("GET /tenants/resources/tenants/v2", func(w http.ResponseWriter, r *http.Request) {
		writePage(w, r, f.Tenants)
	})
	h("POST /tenants/resources/tenants/v1", func(w http.ResponseWriter, r *http.Request) {
		rec := readRecord(r)
		rec["id"] = f.nextID("t")
		f.Tenants = append(f.Tenants, rec)
		writeJSON(w, http.StatusCreated, rec)
	})
	h("POST /tenants/resources/tenants/v1/{id}/metadata", func(w http.ResponseWriter, r *http.Request) {
		i := indexBy(f.Tenants, "tenantId", r.PathValue("id"))
		if i < 0 {
			writeJSON(w, http.StatusNotFound, nil)
			return
		}
		body := readRecord(r)
		f.Tenants[i]["metadata"] = body["metadata"]
		writeJSON(w, http.StatusOK, f.Tenants[i])
	})
	h("DELETE /tenants/resources/tenants/v1/{id}", func(w http.ResponseWriter, r *http.Request) {
		f.Tenants = f.remove(w, f.Tenants, "tenantId", r.PathValue("id"))
	})

	// categories and permissions
	h("GET /identity/resources/permissions/v1/categories", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, nonNil(f.Categories))
	})
	h("POST /identity/resources/permissions/v1/categories", func(w http.ResponseWriter, r *http.Request) {
		rec := readRecord(r)
		rec["id"] = f.nextID("cat")
		f.Categories = append(f.Categories, rec)
		writeJSON(w, http.StatusCreated, rec)
	})
	h("GET /identity/resources/permissions/v1", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, nonNil(f.Permissions))
	})
	h("POST /identity/resources/permissions/v1", func(w http.ResponseWriter, r *http.Request) {
		var created []record.Record
		for _, rec := range readRecords(r) {
			rec["id"] = f.nextID("perm")
			f.Permissions = append(f.Permissions, rec)
			created = append(created, rec)
		}
		writeJSON(w, http.StatusCreated, created)
	})
	h("DELETE /identity/resources/permissions/v1/{id}", func(w http.ResponseWriter, r *http.Request) {
		f.Permissions = f.remove(w, f.Permissions, "id", r.PathValue("id"))
	})

	// roles
	h("GET /identity/resources/roles/v2", func(w http.ResponseWriter, r *http.Request) {
		writePage(w, r, f.Roles)
	})
	h("POST /identity/resources/roles/v1", func(w http.ResponseWriter, r *http.Request) {
		var created []record.Record
		for _, rec := range readRecords(r) {
			rec["id"] = f.nextID("role")
			if tenant := r.Header.Get("frontegg-tenant-id"); tenant != "" {
				rec["tenantId"] = tenant
			}
			rec["permissions"] = []any{}
			f.Roles = append(f.Roles, rec)
			created = append(created, rec)
		}
		writeJSON(w, http.StatusCreated, created)
	})
	h("PUT /identity/resources/roles/v1/{id}/permissions", func(w http.ResponseWriter, r *http.Request) {
		i := indexBy(f.Roles, "id", r.PathValue("id"))
		if i < 0 {
			writeJSON(w, http.StatusNotFound, nil)
			return
		}
		body := readRecord(r)
		f.Roles[i]["permissions"] = body["permissionIds"]
		writeJSON(w, http.StatusOK, f.Roles[i])
	})
	h("DELETE /identity/resources/roles/v1/{id}", func(w http.ResponseWriter, r *http.Request) {
		f.Roles = f.remove(w, f.Roles, "id", r.PathValue("id"))
	})

	// users
	h("GET /identity/resources/users/v3", func(w http.ResponseWriter, r *http.Request) {
		users := f.Users
		if tenant := r.Header.Get("frontegg-tenant-id"); tenant != "" {
			users = filter(users, func(u record.Record) bool { return u.String("tenantId") == tenant })
		}
		if email := r.URL.Query().Get("_email"); email != "" {
			users = filter(users, func(u record.Record) bool { return strings.EqualFold(u.String("email"), email) })
			writeJSON(w, http.StatusOK, map[string]any{"items": nonNil(users)})
			return
		}
		writePage(w, r, users)
	})
	h("GET /identity/resources/users/v3/roles", func(w http.ResponseWriter, r *http.Request) {
		i := indexBy(f.Users, "id", r.URL.Query().Get("ids"))
		if i < 0 {
			writeJSON(w, http.StatusOK, []any{})
			return
		}
		writeJSON(w, http.StatusOK, []any{map[string]any{"userId": f.Users[i]["id"], "roleIds": nonNilAny(f.Users[i]["roleIds"])}})
	})
	h("GET /identity/resources/users/v2", func(w http.ResponseWriter, r *http.Request) {
		writePage(w, r, f.Users)
	})
	h("DELETE /identity/resources/users/v1/{id}", func(w http.ResponseWriter, r *http.Request) {
		f.Users = f.remove(w, f.Users, "id", r.PathValue("id"))
	})
	h("POST /identity/resources/users/v1/{id}/roles", func(w http.ResponseWriter, r *http.Request) {
		i := indexBy(f.Users, "id", r.PathValue("id"))
		if i < 0 {
			writeJSON(w, http.StatusNotFound, nil)
			return
		}
		body := readRecord(r)
		roles := record.Record{"r": f.Users[i]["roleIds"]}.Strings("r")
		roles = append(roles, body.Strings("roleIds")...)
		f.Users[i]["roleIds"] = toAny(roles)
		writeJSON(w, http.StatusCreated, f.Users[i])
	})
	h("POST /identity/resources/migrations/v1/local/bulk/csv", func(w http.ResponseWriter, r *http.Request) {
		file, _, err := r.FormFile("csv")
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]any{"errors": []string{err.Error()}})
			return
		}
		data, _ := io.ReadAll(file)
		f.Imports = append(f.Imports, string(data))
		rows, err := csv.NewReader(strings.NewReader(string(data))).ReadAll()
		if err != nil || len(rows) == 0 {
			writeJSON(w, http.StatusBadRequest, map[string]any{"errors": []string{"invalid csv"}})
			return
		}
		for _, row := range rows[1:] {
			u := record.Record{"id": f.nextID("user")}
			for j, col := range rows[0] {
				if j < len(row) {
					u[col] = row[j]
				}
			}
			f.Users = append(f.Users, u)
		}
		writeJSON(w, http.StatusOK, map[string]any{"migrationId": f.nextID("mig")})
	})
	h("POST /identity/resources/users/bulk/v1/invite", func(w http.ResponseWriter, r *http.Request) {
		tenant := r.Header.Get("frontegg-tenant-id")
		body := readRecord(r)
		if users, ok := body["users"].([]any); ok {
			for _, u := range users {
				if m, ok := u.(map[string]any); ok {
					f.Invites[tenant] = append(f.Invites[tenant], record.Record(m))
				}
			}
		}
		writeJSON(w, http.StatusAccepted, map[string]any{"id": f.nextID("job")})
	})

	// groups
	h("GET /identity/resources/groups/v1", func(w http.ResponseWriter, r *http.Request) {
		tenant := r.Header.Get("frontegg-tenant-id")
		groups := filter(f.Groups, func(g record.Record) bool { return g.String("tenantId") == tenant })
		writeJSON(w, http.StatusOK, map[string]any{"groups": nonNil(groups)})
	})
	h("POST /identity/resources/groups/v1", func(w http.ResponseWriter, r *http.Request) {
		rec := readRecord(r)
		rec["id"] = f.nextID("group")
		rec["tenantId"] = r.Header.Get("frontegg-tenant-id")
		f.Groups = append(f.Groups, rec)
		writeJSON(w, http.StatusCreated, rec)
	})
	h("POST /identity/resources/groups/v1/{id}/users", func(w http.ResponseWriter, r *http.Request) {
		i := indexBy(f.Groups, "id", r.PathValue("id"))
		if i < 0 {
			writeJSON(w, http.StatusNotFound, nil)
			return
		}
		f.Groups[i]["userIds"] = readRecord(r)["userIds"]
		writeJSON(w, http.StatusCreated, f.Groups[i])
	})

	// applications; the last application cannot be deleted
	h("GET /applications/resources/applications/v1", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, nonNil(f.Applications))
	})
	h("POST /applications/resources/applications/v1", func(w http.ResponseWriter, r *http.Request) {
		rec := readRecord(r)
		rec["id"] = f.nextID("app")
		if rec.Bool("isDefault", false) {
			for _, app := range f.Applications {
				app["isDefault"] = false
			}
		}
		f.Applications = append(f.Applications, rec)
		writeJSON(w, http.StatusCreated, rec)
	})
	h("DELETE /applications/resources/applications/v1/{id}", func(w http.ResponseWriter, r *http.Request) {
		if len(f.Applications) == 1 && f.Applications[0].String("id") == r.PathValue("id") {
			writeJSON(w, http.StatusBadRequest, map[string]any{"errors": []string{"cannot delete the last application"}})
			return
		}
		f.Applications = f.remove(w, f.Applications, "id", r.PathValue("id"))
	})

	// security rules
	h("GET /security-engines/resources/policies/v1/{type}", func(w http.ResponseWriter, r *http.Request) {
		rule, ok := f.SecurityRules[r.PathValue("type")]
		if !ok {
			writeJSON(w, http.StatusNotFound, nil)
			return
		}
		writeJSON(w, http.StatusOK, rule)
	})
	h("POST /security-engines/resources/policies/v1/{type}", func(w http.ResponseWriter, r *http.Request) {
		f.SecurityRules[r.PathValue("type")] = readRecord(r)
		writeJSON(w, http.StatusOK, f.SecurityRules[r.PathValue("type")])
	})

	// email
	h("GET /identity/resources/mail/v1/configs/templates", func(w http.ResponseWriter, r *http.Request) {
		out := []record.Record{}
		for _, t := range f.Templates {
			out = append(out, t)
		}
		writeJSON(w, http.StatusOK, out)
	})
	h("POST /identity/resources/mail/v1/configs/templates", func(w http.ResponseWriter, r *http.Request) {
		rec := readRecord(r)
		f.Templates[rec.String("type")] = rec
		writeJSON(w, http.StatusOK, rec)
	})
	h("GET /identity/resources/mail/v1/configurations", func(w http.ResponseWriter, r *http.Request) {
		if f.EmailProvider == nil {
			writeJSON(w, http.StatusNotFound, nil)
			return
		}
		writeJSON(w, http.StatusOK, f.EmailProvider)
	})
	h("POST /identity/resources/mail/v1/configurations", func(w http.ResponseWriter, r *http.Request) {
		f.EmailProvider = readRecord(r)
		writeJSON(w, http.StatusCreated, f.EmailProvider)
	})

	// prehooks
	h("GET /prehooks/resources/configurations/v1", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, nonNil(f.Prehooks))
	})
	h("DELETE /prehooks/resources/configurations/v1/{id}", func(w http.ResponseWriter, r *http.Request) {
		f.Prehooks = f.remove(w, f.Prehooks, "id", r.PathValue("id"))
	})
	h("POST /prehooks/resources/configurations/v1/{kind}", func(w http.ResponseWriter, r *http.Request) {
		rec := readRecord(r)
		rec["id"] = f.nextID("hook")
		if rec.String("type") == "CUSTOM_CODE" {
			exec := f.nextID("exec")
			f.CustomCode[exec] = record.Record{"content": rec["code"], "runtime": rec["runtime"]}
			rec["executorIdentifier"] = exec
			delete(rec, "code")
		}
		f.Prehooks = append(f.Prehooks, rec)
		writeJSON(w, http.StatusCreated, rec)
	})
	h("GET /custom-code/resources/codes/v1/{id}", func(w http.ResponseWriter, r *http.Request) {
		code, ok := f.CustomCode[r.PathValue("id")]
		if !ok {
			writeJSON(w, http.StatusNotFound, nil)
			return
		}
		writeJSON(w, http.StatusOK, code)
	})

	// vendor configuration
	h("GET /vendors", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"id": "vendor-" + f.Name, "allowedOrigins": nonNilStrings(f.AllowedOrigins)})
	})
	h("PUT /vendors", func(w http.ResponseWriter, r *http.Request) {
		f.AllowedOrigins = readRecord(r).Strings("allowedOrigins")
		writeJSON(w, http.StatusOK, map[string]any{"allowedOrigins": f.AllowedOrigins})
	})
	h("GET /oauth/resources/configurations/v1/redirect-uri", func(w http.ResponseWriter, r *http.Request) {
		var entries []any
		for _, u := range f.RedirectURIs {
			entries = append(entries, map[string]any{"id": "uri-" + u, "redirectUri": u})
		}
		writeJSON(w, http.StatusOK, map[string]any{"redirectUris": nonNilAny(entries)})
	})
	h("POST /oauth/resources/configurations/v1/redirect-uri", func(w http.ResponseWriter, r *http.Request) {
		f.RedirectURIs = append(f.RedirectURIs, readRecord(r).String("redirectUri"))
		writeJSON(w, http.StatusCreated, nil)
	})
	h("GET /identity/resources/configurations/v1", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, nonNilRecord(f.JWT))
	})
	h("POST /identity/resources/configurations/v1", func(w http.ResponseWriter, r *http.Request) {
		f.JWT = nonNilRecord(f.JWT).Merge(readRecord(r))
		writeJSON(w, http.StatusOK, f.JWT)
	})

	return mux
}

// remove deletes the record whose field equals id, answering 404 when
// there is none.
func (f *FakePlatform) remove(w http.ResponseWriter, recs []record.Record, field, id string) []record.Record {
	i := indexBy(recs, field, id)
	if i < 0 {
		writeJSON(w, http.StatusNotFound, map[string]any{"errors": []string{"not found"}})
		return recs
	}
	w.WriteHeader(http.StatusNoContent)
	return append(recs[:i:i], recs[i+1:]...)
}

func writePage(w http.ResponseWriter, r *http.Request, recs []record.Record) {
	q := r.URL.Query()
	offset, _ := strconv.Atoi(q.Get("_offset"))
	limit, err := strconv.Atoi(q.Get("_limit"))
	if err != nil || limit <= 0 {
		limit = len(recs)
	}
	end := offset + limit
	if offset > len(recs) {
		offset = len(recs)
	}
	if end > len(recs) {
		end = len(recs)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"items":     nonNil(recs[offset:end]),
		"_metadata": map[string]any{"totalItems": len(recs)},
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}

func readRecord(r *http.Request) record.Record {
	rec := record.Record{}
	_ = json.NewDecoder(r.Body).Decode(&rec)
	return rec
}

func readRecords(r *http.Request) []record.Record {
	var recs []record.Record
	_ = json.NewDecoder(r.Body).Decode(&recs)
	return recs
}

func indexBy(recs []record.Record, field, value string) int {
	for i, rec := range recs {
		if rec.String(field) == value {
			return i
		}
	}
	return -1
}

func filter(recs []record.Record, keep func(record.Record) bool) []record.Record {
	var out []record.Record
	for _, r := range recs {
		if keep(r) {
			out = append(out, r)
		}
	}
	return out
}

func nonNil(recs []record.Record) []record.Record {
	if recs == nil {
		return []record.Record{}
	}
	return recs
}

func nonNilRecord(rec record.Record) record.Record {
	if rec == nil {
		return record.Record{}
	}
	return rec
}

func nonNilStrings(ss []string) []string {
	if ss == nil {
		return []string{}
	}
	return ss
}

func nonNilAny(v any) any {
	if v == nil {
		return []any{}
	}
	if s, ok := v.([]any); ok && s == nil {
		return []any{}
	}
	return v
}

func toAny(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}
