package migrate

import (
	"context"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"
	"golang.org/x/text/unicode/norm"

	"github.com/lherron/acctmigrate/internal/logging"
	"github.com/lherron/acctmigrate/internal/platform"
	"github.com/lherron/acctmigrate/internal/record"
)

// directoryTTL outlives any realistic run; entries only go stale if users
// are edited on the destination while the run is in progress.
const directoryTTL = 30 * time.Minute

// NormalizeEmail returns the natural key of a user: trimmed, NFC-normalised
// and lower-cased.
func NormalizeEmail(email string) string {
	return strings.ToLower(norm.NFC.String(strings.TrimSpace(email)))
}

// Directory caches user lookups against both instances for the duration of
// a run. Several steps resolve the same emails; each distinct lookup is
// issued once.
type Directory struct {
	src, dst *platform.Platform
	cache    *cache.Cache
	log      logging.Logger
}

// NewDirectory creates an empty directory.
func NewDirectory(src, dst *platform.Platform, log logging.Logger) *Directory {
	if log == nil {
		log = logging.Discard()
	}
	return &Directory{
		src:   src,
		dst:   dst,
		cache: cache.New(directoryTTL, 2*directoryTTL),
		log:   log,
	}
}

type sourceUser struct {
	id    string
	found bool
}

// SourceUserID returns the source id of the user with email in tenantID.
func (d *Directory) SourceUserID(ctx context.Context, email, tenantID string) (string, bool, error) {
	key := "src:" + tenantID + ":" + NormalizeEmail(email)
	if v, ok := d.cache.Get(key); ok {
		u := v.(sourceUser)
		return u.id, u.found, nil
	}

	rec, found, err := d.src.UserByEmail(ctx, email, tenantID)
	if err != nil {
		return "", false, err
	}
	u := sourceUser{found: found}
	if found {
		u.id = rec.String("id")
	}
	d.cache.Set(key, u, cache.DefaultExpiration)
	return u.id, u.found, nil
}

// DestUsers returns destination user ids by normalised email across all
// tenants.
func (d *Directory) DestUsers(ctx context.Context) (map[string]string, error) {
	return d.index(ctx, "dst:*", func(ctx context.Context) ([]record.Record, error) {
		return d.dst.Users(ctx)
	})
}

// DestTenantUsers returns destination user ids by normalised email within
// one tenant.
func (d *Directory) DestTenantUsers(ctx context.Context, tenantID string) (map[string]string, error) {
	return d.index(ctx, "dst:"+tenantID, func(ctx context.Context) ([]record.Record, error) {
		return d.dst.TenantUsers(ctx, tenantID)
	})
}

func (d *Directory) index(ctx context.Context, key string, fetch func(context.Context) ([]record.Record, error)) (map[string]string, error) {
	if v, ok := d.cache.Get(key); ok {
		return v.(map[string]string), nil
	}
	users, err := fetch(ctx)
	if err != nil {
		return nil, err
	}
	byEmail := make(map[string]string, len(users))
	for _, u := range users {
		email, id := NormalizeEmail(u.String("email")), u.String("id")
		if email == "" || id == "" {
			continue
		}
		if _, dup := byEmail[email]; !dup {
			byEmail[email] = id
		}
	}
	d.log.Debug("indexed destination users", "scope", key, "count", len(byEmail))
	d.cache.Set(key, byEmail, cache.DefaultExpiration)
	return byEmail, nil
}

// Forget drops cached destination listings after users were created.
func (d *Directory) Forget() {
	for k := range d.cache.Items() {
		if strings.HasPrefix(k, "dst:") {
			d.cache.Delete(k)
		}
	}
}
