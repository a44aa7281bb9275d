package migrate

import (
	"context"
	"strings"

	"github.com/lherron/acctmigrate/internal/api"
	"github.com/lherron/acctmigrate/internal/bulk"
	"github.com/lherron/acctmigrate/internal/platform"
	"github.com/lherron/acctmigrate/internal/policy"
	"github.com/lherron/acctmigrate/internal/reconcile"
	"github.com/lherron/acctmigrate/internal/record"
)

// ruleTypeField carries the rule type on fetched security rule records; it
// is stripped again before anything is written.
const ruleTypeField = "__type"

type securityRuleStrategy struct {
	dst *platform.Platform
	pol *policy.Policy
}

func (s *securityRuleStrategy) Resource() string { return "security rule" }

func (s *securityRuleStrategy) Label(rec record.Record) string {
	return s.pol.RuleName(rec.String(ruleTypeField))
}

func (s *securityRuleStrategy) Create(ctx context.Context, rec record.Record) (string, error) {
	t := rec.String(ruleTypeField)
	if err := s.dst.SetSecurityRule(ctx, t, rec.Without(ruleTypeField, "id")); err != nil {
		return "", &api.UpdateError{Resource: "security rule", Name: s.pol.RuleName(t), Err: err}
	}
	return t, nil
}

func (s *securityRuleStrategy) Update(ctx context.Context, src, _ record.Record, _ string) error {
	_, err := s.Create(ctx, src)
	return err
}

func fetchRules(ctx context.Context, p *platform.Platform, types []string) ([]record.Record, error) {
	var out []record.Record
	for _, t := range types {
		rule, err := p.SecurityRule(ctx, t)
		if err != nil {
			return nil, err
		}
		if rule == nil {
			continue
		}
		rule[ruleTypeField] = t
		rule["id"] = t
		out = append(out, rule)
	}
	return out, nil
}

func migrateSecurityRules(ctx context.Context, env *Env) (*bulk.Result, error) {
	types := env.Policy.SecurityRules()
	src, err := fetchRules(ctx, env.Source, types)
	if err != nil {
		return nil, err
	}
	if len(src) == 0 {
		env.Reporter.Warning("No security rules found in source account")
		return &bulk.Result{Resource: "security rule"}, nil
	}
	env.Reporter.Success("Retrieved %d security rules from source", len(src))

	dst, err := fetchRules(ctx, env.Dest, types)
	if err != nil {
		return nil, err
	}

	res, err := env.reconcile(StepSecurityRules, src, dst, reconcile.FieldKey(ruleTypeField), env.diffFor(StepSecurityRules))
	if err != nil {
		return nil, err
	}
	for _, c := range res.Classifications {
		if c.Kind == reconcile.Conflict {
			env.Log.Info("security rule differs", "rule", env.Policy.RuleName(src[c.Index].String(ruleTypeField)), "fields", c.Diff)
		}
	}

	_, out, err := env.apply(ctx, &securityRuleStrategy{dst: env.Dest, pol: env.Policy}, res, src)
	env.summarize("Security Rules Migration Summary", out)
	return out, err
}

type templateStrategy struct {
	dst *platform.Platform
	ent policy.Entity
}

func (s *templateStrategy) Resource() string { return "email template" }

func (s *templateStrategy) Label(rec record.Record) string { return rec.String("type") }

func (s *templateStrategy) Create(ctx context.Context, rec record.Record) (string, error) {
	return rec.String("type"), s.upsert(ctx, rec, nil)
}

func (s *templateStrategy) Update(ctx context.Context, src, dest record.Record, _ string) error {
	return s.upsert(ctx, src, dest)
}

// upsert writes the source content while keeping the destination's own
// redirect URLs.
func (s *templateStrategy) upsert(ctx context.Context, src, dest record.Record) error {
	payload := bulk.MergePreserved(bulk.Payload(src, s.ent.Create, s.ent.Defaults), dest, s.ent.Preserve)
	if err := s.dst.UpsertEmailTemplate(ctx, payload); err != nil {
		return &api.UpdateError{Resource: "email template", Name: src.String("type"), Err: err}
	}
	return nil
}

func migrateEmailTemplates(ctx context.Context, env *Env) (*bulk.Result, error) {
	src, err := env.Source.EmailTemplates(ctx, env.Policy.EmailTemplateTypes)
	if err != nil {
		return nil, err
	}
	if len(src) == 0 {
		env.Reporter.Warning("No email templates found in source account")
		return &bulk.Result{Resource: "email template"}, nil
	}
	dst, err := env.Dest.EmailTemplates(ctx, env.Policy.EmailTemplateTypes)
	if err != nil {
		return nil, err
	}

	// Compare what would be written, so a field the source omits matches
	// the default already stored in the destination.
	ent := env.Policy.Entity(StepEmailTemplates)
	for i, t := range src {
		src[i] = bulk.Payload(t, ent.Create, ent.Defaults)
	}

	res, err := env.reconcile(StepEmailTemplates, src, dst, env.keyFor(StepEmailTemplates), env.diffFor(StepEmailTemplates), reconcile.WithIDField("type"))
	if err != nil {
		return nil, err
	}
	env.Log.Info("email templates", "to_update", res.Count(reconcile.ToCreate)+res.Count(reconcile.Conflict), "unchanged", res.Count(reconcile.Matched))

	_, out, err := env.apply(ctx, &templateStrategy{dst: env.Dest, ent: ent}, res, src)
	env.summarize("Email Template Summary", out)
	return out, err
}

// singletonKey matches a per-account configuration object with its
// counterpart.
func singletonKey(record.Record) reconcile.Key { return "config" }

type settingStrategy struct {
	resource string
	write    func(ctx context.Context, rec record.Record) error
}

func (s *settingStrategy) Resource() string { return s.resource }

func (s *settingStrategy) Label(record.Record) string { return s.resource }

func (s *settingStrategy) Create(ctx context.Context, rec record.Record) (string, error) {
	if err := s.write(ctx, rec.Without("id")); err != nil {
		return "", &api.UpdateError{Resource: s.resource, Name: s.resource, Err: err}
	}
	return "config", nil
}

func (s *settingStrategy) Update(ctx context.Context, src, _ record.Record, _ string) error {
	_, err := s.Create(ctx, src)
	return err
}

// applySetting reconciles one configuration object. A missing destination
// object is written; a differing one is overwritten.
func (e *Env) applySetting(ctx context.Context, entity string, s *settingStrategy, src, dst record.Record) (*bulk.Result, error) {
	src = src.Merge(record.Record{"id": "config"})
	var dsts []record.Record
	if len(dst) > 0 {
		dsts = []record.Record{dst.Merge(record.Record{"id": "config"})}
	}
	res, err := e.reconcile(entity, []record.Record{src}, dsts, singletonKey, e.diffFor(entity))
	if err != nil {
		return nil, err
	}
	_, out, err := e.apply(ctx, s, res, []record.Record{src})
	return out, err
}

func migrateEmailSender(ctx context.Context, env *Env) (*bulk.Result, error) {
	src, err := env.Source.EmailProvider(ctx)
	if err != nil {
		return nil, err
	}
	if src == nil {
		env.Reporter.Warning("No email provider configured in source account")
		return &bulk.Result{Resource: "email sender"}, nil
	}
	if src.String("provider") == "" || src.String("secret") == "" {
		env.Reporter.Warning("Invalid provider configuration in source account")
		return &bulk.Result{Resource: "email sender"}, nil
	}
	env.Reporter.Success("Found %s provider in source account", src.String("provider"))

	dst, err := env.Dest.EmailProvider(ctx)
	if err != nil {
		return nil, err
	}

	ent := env.Policy.Entity(StepEmailSender)
	out, err := env.applySetting(ctx, StepEmailSender, &settingStrategy{
		resource: "email sender",
		write: func(ctx context.Context, rec record.Record) error {
			return env.Dest.SetEmailProvider(ctx, rec.Pick(ent.Create...))
		},
	}, src, dst)
	if err != nil {
		return out, err
	}
	if out.Skipped > 0 {
		env.Reporter.Success("Email provider already configured correctly in destination")
	}
	return out, nil
}

func migrateJWTSettings(ctx context.Context, env *Env) (*bulk.Result, error) {
	fields := env.Policy.Entity(StepJWTSettings).Compare
	src, err := env.Source.JWTSettings(ctx, fields)
	if err != nil {
		return nil, err
	}
	if len(src) == 0 {
		env.Reporter.Warning("Source account reports no JWT settings")
		return &bulk.Result{Resource: "jwt settings"}, nil
	}
	dst, err := env.Dest.JWTSettings(ctx, fields)
	if err != nil {
		return nil, err
	}

	ent := env.Policy.Entity(StepJWTSettings)
	out, err := env.applySetting(ctx, StepJWTSettings, &settingStrategy{
		resource: "jwt settings",
		write: func(ctx context.Context, rec record.Record) error {
			return env.Dest.SetJWTSettings(ctx, rec.Pick(ent.Create...))
		},
	}, src, dst)
	if err != nil {
		return out, err
	}
	if out.Skipped > 0 {
		env.Reporter.Success("JWT settings are already up to date in destination")
	}
	return out, nil
}

// migrateAllowedOrigins unions the source's allowed origins into the
// destination's, then adds the source redirect URIs the destination lacks.
func migrateAllowedOrigins(ctx context.Context, env *Env) (*bulk.Result, error) {
	out := &bulk.Result{Resource: "allowed origins"}

	srcOrigins, err := env.Source.AllowedOrigins(ctx)
	if err != nil {
		return nil, err
	}
	if len(srcOrigins) == 0 {
		env.Reporter.Warning("No allowed origins found in source account")
	} else {
		dstOrigins, err := env.Dest.AllowedOrigins(ctx)
		if err != nil {
			return nil, err
		}
		merged := union(dstOrigins, srcOrigins)
		added := len(merged) - len(dstOrigins)

		res, err := env.applySetting(ctx, StepAllowedOrigins, &settingStrategy{
			resource: "allowed origins",
			write: func(ctx context.Context, _ record.Record) error {
				return env.Dest.SetAllowedOrigins(ctx, merged)
			},
		}, record.Record{"allowedOrigins": toAny(merged)}, record.Record{"allowedOrigins": toAny(dstOrigins)})
		out.Add(res)
		if err != nil {
			return out, err
		}
		if added == 0 {
			env.Reporter.Success("Allowed origins already up to date")
		} else if res.Failed == 0 {
			env.Reporter.Success("Updated allowed origins (%d new, %d total)", added, len(merged))
		}
	}

	redirects, err := migrateRedirectURIs(ctx, env)
	if err != nil {
		return out, err
	}
	out.Add(redirects)
	env.summarize("Allowed Origins Summary", out)
	return out, nil
}

func migrateRedirectURIs(ctx context.Context, env *Env) (*bulk.Result, error) {
	out := &bulk.Result{Resource: "redirect uri"}

	src, err := env.Source.RedirectURIs(ctx)
	if err != nil {
		return nil, err
	}
	if len(src) == 0 {
		env.Reporter.Warning("No redirect URIs found in source account")
		return out, nil
	}
	dst, err := env.Dest.RedirectURIs(ctx)
	if err != nil {
		return nil, err
	}

	have := make(map[string]bool, len(dst))
	for _, u := range dst {
		have[u] = true
	}
	out.Total = len(src)
	for _, uri := range src {
		if have[uri] {
			out.Skipped++
			continue
		}
		have[uri] = true
		if !env.write("add redirect uri", "uri", uri) {
			out.Created++
			continue
		}
		if err := env.Dest.AddRedirectURI(ctx, uri); err != nil {
			err = &api.CreateError{Resource: "redirect uri", Name: uri, Err: err}
			env.Reporter.Failure("%v", err)
			out.Fail(uri, err)
			if api.IsAuth(err) {
				return out, err
			}
			continue
		}
		out.Created++
		env.Log.Debug("added redirect uri", "uri", uri)
	}
	if out.Created == 0 && out.Failed == 0 {
		env.Reporter.Success("Redirect URIs already up to date")
	}
	return out, nil
}

// union returns base followed by the items of extra it lacks, in order.
func union(base, extra []string) []string {
	seen := make(map[string]bool, len(base)+len(extra))
	out := make([]string, 0, len(base)+len(extra))
	for _, list := range [][]string{base, extra} {
		for _, s := range list {
			s = strings.TrimSpace(s)
			if s == "" || seen[s] {
				continue
			}
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}

func toAny(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}
