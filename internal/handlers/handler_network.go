package handlers

import (
	"encoding/json"
	"strconv"

	"github.com/valyala/fasthttp"

	"github.com/defguard/defguard-core/internal/middlewares"
	"github.com/defguard/defguard-core/internal/model"
	"github.com/defguard/defguard-core/internal/network"
)

const (
	defaultKeepaliveInterval       = 25
	defaultPeerDisconnectThreshold = 180
)

type networkImportRequest struct {
	Name          string   `json:"name"`
	Config        string   `json:"config"`
	AllowedGroups []string `json:"allowed_groups"`
}

// wgQuickToNetwork builds the persisted network record from a parsed wg-quick
// document (spec §6 "wg-quick import format"): the interface section supplies the
// gateway's own address pool and keys, the first peer section (if any) supplies the
// client-facing allowed-ips/endpoint.
func wgQuickToNetwork(name string, cfg *network.WGQuickConfig, allowedGroups []string) *model.WireGuardNetwork {
	n := &model.WireGuardNetwork{
		Name:                    name,
		Address:                 cfg.Interface.Address,
		Port:                    cfg.Interface.ListenPort,
		DNS:                     cfg.Interface.DNS,
		AllowedGroups:           allowedGroups,
		GatewayPrivateKey:       cfg.Interface.PrivateKey,
		KeepaliveInterval:       defaultKeepaliveInterval,
		PeerDisconnectThreshold: defaultPeerDisconnectThreshold,
	}

	if len(cfg.Peers) > 0 {
		n.AllowedIPs = cfg.Peers[0].AllowedIPs
		n.Endpoint = cfg.Peers[0].Endpoint
	}

	return n
}

// NetworkImportPost implements the admin-only network creation path (spec §6 item 5):
// POST /network/import with a raw wg-quick document in the JSON "config" field.
func NetworkImportPost(ctx *middlewares.DefguardCtx) {
	var body networkImportRequest
	if err := json.Unmarshal(ctx.PostBody(), &body); err != nil {
		ctx.SetJSONError("invalid request body")

		return
	}

	cfg, err := network.ParseWGQuick(body.Config)
	if err != nil {
		ctx.SetJSONError("invalid wg-quick config: " + err.Error())

		return
	}

	n := wgQuickToNetwork(body.Name, cfg, body.AllowedGroups)

	if err := ctx.Providers.Network.CreateNetwork(ctx, n); err != nil {
		ctx.ReplyError(err)

		return
	}

	if err := ctx.SetJSONBody(n); err != nil {
		ctx.Error(err, "failed to create network")
	}
}

func networkIDParam(ctx *middlewares.DefguardCtx) (int64, bool) {
	raw, _ := ctx.UserValue("id").(string)

	id, err := strconv.ParseInt(raw, 10, 64)

	return id, err == nil
}

// NetworkGet implements GET /network/{id}.
func NetworkGet(ctx *middlewares.DefguardCtx) {
	id, ok := networkIDParam(ctx)
	if !ok {
		ctx.SetJSONError("invalid network id")

		return
	}

	n, err := ctx.Providers.Network.GetNetwork(ctx, id)
	if err != nil {
		ctx.Error(err, "failed to load network")

		return
	}

	if n == nil {
		ctx.SetStatusCode(fasthttp.StatusNotFound)
		ctx.SetJSONError("network not found")

		return
	}

	if err := ctx.SetJSONBody(n); err != nil {
		ctx.Error(err, "failed to load network")
	}
}

// NetworkPeersGet implements GET /network/{id}/peers, the same view the gateway fan-
// out ships as a Reconcile snapshot (spec §4.8).
func NetworkPeersGet(ctx *middlewares.DefguardCtx) {
	id, ok := networkIDParam(ctx)
	if !ok {
		ctx.SetJSONError("invalid network id")

		return
	}

	peers, err := ctx.Providers.Network.Peers(ctx, id)
	if err != nil {
		ctx.Error(err, "failed to load peers")

		return
	}

	if err := ctx.SetJSONBody(peers); err != nil {
		ctx.Error(err, "failed to load peers")
	}
}
