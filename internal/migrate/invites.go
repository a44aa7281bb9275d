package migrate

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/lherron/acctmigrate/internal/api"
	"github.com/lherron/acctmigrate/internal/bulk"
	"github.com/lherron/acctmigrate/internal/csvio"
	"github.com/lherron/acctmigrate/internal/platform"
	"github.com/lherron/acctmigrate/internal/reconcile"
	"github.com/lherron/acctmigrate/internal/record"
)

const (
	fileTenantRoles     = "user_tenants_with_roles.csv"
	fileRoleAssignments = "assign_roles_to_users.csv"
	fileDestRoles       = "roles_in_destination.csv"
	fileGroups          = "groups.csv"
)

func readData(env *Env, name string, columns ...string) (*csvio.Table, error) {
	tbl, err := csvio.ReadFile(env.dataFile(name))
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", name, err)
	}
	if err := tbl.Require(columns...); err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	for _, w := range tbl.Warnings {
		env.Reporter.Warning("%s %s", name, w)
	}
	return tbl, nil
}

type invitee struct {
	email string
	name  string
	roles map[string]bool
}

// bulkInvite invites users into tenants with their role sets, one request
// per tenant. Rows repeat a user once per role.
func bulkInvite(ctx context.Context, env *Env) (*bulk.Result, error) {
	tbl, err := readData(env, fileTenantRoles, "tenantId", "email", "id")
	if err != nil {
		return nil, err
	}

	var tenants []string
	grouped := make(map[string][]*invitee)
	index := make(map[string]*invitee)
	for i, row := range tbl.Rows {
		tenantID, email, roleID := strings.TrimSpace(row["tenantId"]), strings.TrimSpace(row["email"]), strings.TrimSpace(row["id"])
		if tenantID == "" || email == "" || roleID == "" {
			env.Reporter.Warning("Skipping row %d with missing tenantId, email or role id", i+2)
			continue
		}
		if _, ok := grouped[tenantID]; !ok {
			tenants = append(tenants, tenantID)
			grouped[tenantID] = nil
		}
		key := tenantID + "\x1f" + NormalizeEmail(email)
		inv, ok := index[key]
		if !ok {
			inv = &invitee{email: email, name: row["name"], roles: make(map[string]bool)}
			index[key] = inv
			grouped[tenantID] = append(grouped[tenantID], inv)
		}
		inv.roles[roleID] = true
	}

	out := &bulk.Result{Resource: "invite", Total: len(index)}
	for _, tenantID := range tenants {
		users := make([]platform.InviteUser, 0, len(grouped[tenantID]))
		for _, inv := range grouped[tenantID] {
			roles := make([]string, 0, len(inv.roles))
			for r := range inv.roles {
				roles = append(roles, r)
			}
			sort.Strings(roles)
			users = append(users, platform.InviteUser{
				Email:           inv.email,
				Name:            inv.name,
				SkipInviteEmail: true,
				RoleIDs:         roles,
				Verified:        true,
			})
		}

		if !env.write("invite users", "tenant", tenantID, "count", len(users)) {
			out.Created += len(users)
			continue
		}
		jobID, err := env.Dest.BulkInvite(ctx, tenantID, users)
		if err != nil {
			err = &api.CreateError{Resource: "invite", Name: tenantID, Err: err}
			env.Reporter.Failure("%v", err)
			for _, u := range users {
				out.Fail(tenantID+"/"+u.Email, err)
			}
			if api.IsAuth(err) {
				return out, err
			}
			continue
		}
		out.Created += len(users)
		if jobID != "" {
			env.Reporter.Success("Bulk invite for tenant %s accepted (job %s)", tenantID, jobID)
		} else {
			env.Reporter.Success("Invited %d users to tenant %s", len(users), tenantID)
		}
	}

	env.summarize("Bulk Invite Summary", out)
	return out, nil
}

// assignRoles grants destination roles, resolved by role name, to existing
// destination users in each tenant listed in the assignment file.
func assignRoles(ctx context.Context, env *Env) (*bulk.Result, error) {
	roleFile, err := readData(env, fileDestRoles, "roleId", "name")
	if err != nil {
		return nil, err
	}
	roleByName := make(map[string]string, len(roleFile.Rows))
	for _, row := range roleFile.Rows {
		name, id := strings.TrimSpace(row["name"]), strings.TrimSpace(row["roleId"])
		if name != "" && id != "" {
			roleByName[name] = id
		}
	}

	tbl, err := readData(env, fileRoleAssignments, "email", "tenantId", "name")
	if err != nil {
		return nil, err
	}

	users, err := env.Users().DestUsers(ctx)
	if err != nil {
		return nil, err
	}

	type target struct{ email, tenantID string }
	var order []target
	rows := make(map[target][]map[string]string)
	for _, row := range tbl.Rows {
		t := target{email: strings.TrimSpace(row["email"]), tenantID: strings.TrimSpace(row["tenantId"])}
		if _, ok := rows[t]; !ok {
			order = append(order, t)
		}
		rows[t] = append(rows[t], row)
	}

	out := &bulk.Result{Resource: "role assignment", Total: len(order)}
	for _, t := range order {
		userID, ok := users[NormalizeEmail(t.email)]
		if !ok {
			env.Reporter.Warning("Destination user not found for email: %s", t.email)
			out.Skipped++
			continue
		}

		var roleIDs []string
		for _, row := range rows[t] {
			name := strings.TrimSpace(row["name"])
			if id, ok := roleByName[name]; ok {
				roleIDs = append(roleIDs, id)
			} else {
				env.Log.Debug("role name has no destination role", "role", name, "email", t.email)
			}
		}
		if len(roleIDs) == 0 {
			env.Reporter.Warning("No valid roles to assign for %s in tenant %s", t.email, t.tenantID)
			out.Skipped++
			continue
		}

		if !env.write("assign roles", "email", t.email, "tenant", t.tenantID, "roles", roleIDs) {
			out.Updated++
			continue
		}
		if err := env.Dest.AssignUserRoles(ctx, userID, t.tenantID, roleIDs); err != nil {
			err = &api.UpdateError{Resource: "user roles", Name: t.email, Err: err}
			env.Reporter.Failure("%v", err)
			out.Fail(t.email, err)
			if api.IsAuth(err) {
				return out, err
			}
			continue
		}
		out.Updated++
		env.Log.Info("assigned roles", "email", t.email, "tenant", t.tenantID, "roles", roleIDs)
	}

	env.summarize("Role Assignment Summary", out)
	return out, nil
}

// migrateGroups creates the groups listed in groups.csv that the
// destination tenant does not already have, then adds the members that
// exist in that tenant. Groups are matched by tenant and name.
func migrateGroups(ctx context.Context, env *Env) (*bulk.Result, error) {
	tbl, err := readData(env, fileGroups, "tenantId", "name")
	if err != nil {
		return nil, err
	}

	out := &bulk.Result{Resource: "group", Total: len(tbl.Rows)}
	var src []record.Record
	var tenants []string
	seen := make(map[string]bool)
	for i, row := range tbl.Rows {
		tenantID, name := strings.TrimSpace(row["tenantId"]), strings.TrimSpace(row["name"])
		if row["userIds"] == "" && row["userEmails"] == "" {
			env.Log.Info("skipping group without members", "group", name, "tenant", tenantID)
			out.Skipped++
			continue
		}
		src = append(src, record.Record{
			"id":          fmt.Sprintf("row-%d", i+2),
			"tenantId":    tenantID,
			"name":        name,
			"description": row["description"],
			"userEmails":  row["userEmails"],
		})
		if !seen[tenantID] {
			seen[tenantID] = true
			tenants = append(tenants, tenantID)
		}
	}

	var dst []record.Record
	for _, tenantID := range tenants {
		groups, err := env.Dest.Groups(ctx, tenantID)
		if err != nil {
			return out, err
		}
		dst = append(dst, groups...)
	}

	res, err := env.reconcile(StepGroups, src, dst, env.keyFor(StepGroups), nil)
	if err != nil {
		return out, err
	}

	ent := env.Policy.Entity(StepGroups)
	for _, c := range res.Classifications {
		g := src[c.Index]
		tenantID, name := g.String("tenantId"), g.String("name")
		if c.Kind == reconcile.Matched {
			env.Log.Debug("group already exists, skipping", "group", name, "tenant", tenantID, "dest_id", c.DestID)
			out.Skipped++
			continue
		}

		if !env.write("create group", "group", name, "tenant", tenantID) {
			out.Created++
			continue
		}
		groupID, err := env.Dest.CreateGroup(ctx, tenantID, g.Pick(ent.Create...))
		if err != nil {
			err = &api.CreateError{Resource: "group", Name: name, Err: err}
			env.Reporter.Failure("%v", err)
			out.Fail(name, err)
			if api.IsAuth(err) {
				return out, err
			}
			continue
		}
		out.Created++
		env.Reporter.Success("Created group %q with ID %s", name, groupID)

		members, err := env.Users().DestTenantUsers(ctx, tenantID)
		if err != nil {
			return out, err
		}
		var userIDs []string
		for _, email := range strings.Split(g.String("userEmails"), ",") {
			if id, ok := members[NormalizeEmail(email)]; ok {
				userIDs = append(userIDs, id)
			}
		}
		if len(userIDs) == 0 {
			env.Reporter.Warning("No valid user IDs found for group %q", name)
			continue
		}
		if err := env.Dest.AddGroupUsers(ctx, tenantID, groupID, userIDs); err != nil {
			err = &api.UpdateError{Resource: "group members", Name: name, Err: err}
			env.Reporter.Failure("%v", err)
			out.Fail(name, err)
			if api.IsAuth(err) {
				return out, err
			}
			continue
		}
		env.Log.Info("added group members", "group", name, "count", len(userIDs))
	}

	env.summarize("Group Summary", out)
	return out, nil
}
