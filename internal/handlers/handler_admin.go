package handlers

import (
	"encoding/json"
	"strconv"

	"github.com/valyala/fasthttp"

	"github.com/defguard/defguard-core/internal/middlewares"
)

type userGroupsRequest struct {
	Groups []string `json:"groups"`
}

// UserGroupsPut implements PUT /admin/users/{id}/groups (admin-only): the write side
// of group assignment. It replaces the target user's group membership wholesale,
// which is what gates admin elevation (spec §4.5, model.User.IsAdmin) and network
// eligibility (spec §4.7, model.User.InAnyGroup) for locally-sourced accounts; an
// LDAP-sourced account's groups are instead resolved live from the directory
// (internal/ldapsource) and this endpoint does not apply to it.
func UserGroupsPut(ctx *middlewares.DefguardCtx) {
	raw, _ := ctx.UserValue("id").(string)

	userID, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		ctx.SetJSONError("invalid user id")

		return
	}

	var body userGroupsRequest
	if err := json.Unmarshal(ctx.PostBody(), &body); err != nil {
		ctx.SetJSONError("invalid request body")

		return
	}

	user, err := ctx.Providers.Storage.FindUserByID(ctx, userID)
	if err != nil {
		ctx.Error(err, "failed to update groups")

		return
	}

	if user == nil {
		ctx.SetStatusCode(fasthttp.StatusNotFound)
		ctx.SetJSONError("user not found")

		return
	}

	if user.FromLDAP {
		ctx.SetJSONError("ldap-sourced users have their groups resolved from the directory")

		return
	}

	if err := ctx.Providers.Storage.SetUserGroups(ctx, userID, body.Groups); err != nil {
		ctx.Error(err, "failed to update groups")

		return
	}

	ctx.SetStatusCode(fasthttp.StatusNoContent)
}
