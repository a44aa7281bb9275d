package migrate

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/lherron/acctmigrate/internal/api"
	"github.com/lherron/acctmigrate/internal/bulk"
	"github.com/lherron/acctmigrate/internal/csvio"
	"github.com/lherron/acctmigrate/internal/reconcile"
	"github.com/lherron/acctmigrate/internal/record"
	"github.com/lherron/acctmigrate/internal/remap"
)

const (
	fileUserData  = "user_migration_data.csv"
	fileUserFinal = "final_data.csv"
)

func migrateUsers(ctx context.Context, env *Env) (*bulk.Result, error) {
	tbl, err := csvio.ReadFile(env.dataFile(fileUserData))
	if err != nil {
		return nil, fmt.Errorf("failed to read user data: %w", err)
	}
	if err := tbl.Require("email", "tenantId"); err != nil {
		return nil, fmt.Errorf("%s: %w", fileUserData, err)
	}
	for _, w := range tbl.Warnings {
		env.Reporter.Warning("%s %s", fileUserData, w)
	}

	src := make([]record.Record, len(tbl.Rows))
	for i, row := range tbl.Rows {
		src[i] = rowRecord(row)
	}

	existing, err := env.Users().DestUsers(ctx)
	if err != nil {
		return nil, err
	}
	dst := make([]record.Record, 0, len(existing))
	for email, id := range existing {
		dst = append(dst, record.Record{"id": id, "email": email})
	}

	res, err := env.reconcile(StepUsers, src, dst, env.keyFor(StepUsers), nil, reconcile.WithIDField("email"))
	if err != nil {
		return nil, err
	}
	out := &bulk.Result{Resource: "user", Total: len(src), Skipped: res.Count(reconcile.Matched)}
	if out.Skipped > 0 {
		env.Reporter.Warning("Skipping %d users already present in the destination", out.Skipped)
	}

	var roles *remap.Remapper
	headers := tbl.Headers
	if env.MigrateUserRoles {
		ids, err := env.userRoleMap(ctx)
		if err != nil {
			return nil, err
		}
		roles = remap.New(StepRoles, ids, env.Log)
		if !tbl.Has("roleIds") {
			headers = append(append([]string(nil), headers...), "roleIds")
		}
	}

	var rows []map[string]string
	for _, c := range res.Classifications {
		if c.Kind != reconcile.ToCreate {
			continue
		}
		row := transformUserRow(tbl.Rows[c.Index])
		if roles != nil {
			row["roleIds"] = userRoleIDs(ctx, env, roles, row["email"], row["tenantId"])
		}
		rows = append(rows, row)
	}

	if len(rows) == 0 {
		env.Reporter.Success("All %d users already exist in the destination", len(src))
		return out, nil
	}

	path := env.dataFile(fileUserFinal)
	content, err := csvio.Encode(headers, rows)
	if err != nil {
		return nil, err
	}
	if !env.write("import users", "count", len(rows)) {
		out.Created = len(rows)
		return out, nil
	}
	if err := csvio.WriteFile(path, headers, rows); err != nil {
		return nil, fmt.Errorf("failed to write %s: %w", path, err)
	}
	env.Reporter.Success("Generated transformed CSV file at %s", path)

	resp, err := env.Dest.ImportUsersCSV(ctx, fileUserFinal, content)
	if err != nil {
		return nil, &api.CreateError{Resource: "users", Name: fileUserFinal, Err: err}
	}
	env.Log.Debug("user import accepted", "response", resp)
	env.Users().Forget()

	out.Created = len(rows)
	env.Reporter.Success("Submitted %d users for import", len(rows))
	env.summarize("User Import Summary", out)
	return out, nil
}

// userRoleMap maps source role ids to destination ones: the roles step's
// mapping when it ran, otherwise roles matched by name.
func (e *Env) userRoleMap(ctx context.Context) (reconcile.IDMap, error) {
	if m, ok := e.Registry.Sealed(StepRoles); ok {
		return m, nil
	}
	src, err := e.Source.Roles(ctx)
	if err != nil {
		return nil, err
	}
	dst, err := e.Dest.Roles(ctx)
	if err != nil {
		return nil, err
	}
	res, err := e.reconcile("roles by name", src, dst, reconcile.FieldKey("name"), nil)
	if err != nil {
		return nil, err
	}
	ids := make(reconcile.IDMap)
	for _, c := range res.Classifications {
		if c.Kind == reconcile.Matched {
			ids.Set(c.SourceID, c.DestID)
		}
	}
	e.Log.Debug("mapped roles by name", "mapped", len(ids))
	return ids, nil
}

func userRoleIDs(ctx context.Context, env *Env, roles *remap.Remapper, email, tenantID string) string {
	userID, found, err := env.Users().SourceUserID(ctx, email, tenantID)
	if err != nil {
		env.Reporter.Warning("Could not look up source user %s: %v", email, err)
		return ""
	}
	if !found {
		env.Log.Debug("user not found in source", "email", email, "tenant", tenantID)
		return ""
	}
	srcRoles, err := env.Source.UserRoleIDs(ctx, userID, tenantID)
	if err != nil {
		env.Reporter.Warning("Could not fetch roles of %s: %v", email, err)
		return ""
	}
	mapped := roles.IDs(srcRoles)
	env.Log.Debug("translated user roles", "email", email, "roles", mapped)
	return strings.Join(mapped, "|")
}

func rowRecord(row map[string]string) record.Record {
	rec := make(record.Record, len(row))
	for k, v := range row {
		rec[k] = v
	}
	return rec
}

// transformUserRow prepares one row for the import API.
func transformUserRow(in map[string]string) map[string]string {
	out := make(map[string]string, len(in)+1)
	for k, v := range in {
		out[k] = v
	}
	if _, ok := in["metadata"]; ok {
		out["metadata"] = formatMetadata(in["metadata"])
	}
	if _, ok := in["phoneNumber"]; ok {
		out["phoneNumber"] = formatPhone(in["phoneNumber"])
	}
	return out
}

// formatMetadata re-serialises metadata compactly. Empty becomes {} and
// anything that is not JSON passes through untouched.
func formatMetadata(s string) string {
	if strings.TrimSpace(s) == "" {
		return "{}"
	}
	var v any
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		return s
	}
	data, err := json.Marshal(v)
	if err != nil {
		return s
	}
	return string(data)
}

// formatPhone undoes spreadsheet damage: a float suffix is cut and the
// international prefix restored.
func formatPhone(s string) string {
	s = strings.TrimSpace(s)
	if s == "" || strings.EqualFold(s, "nan") {
		return ""
	}
	if i := strings.IndexByte(s, '.'); i >= 0 {
		s = s[:i]
	}
	if !strings.HasPrefix(s, "+") {
		s = "+" + s
	}
	return s
}
