package handlers

import (
	"encoding/json"
	"net"
	"time"

	"github.com/defguard/defguard-core/internal/middlewares"
	"github.com/defguard/defguard-core/internal/model"
)

type deviceCreateRequest struct {
	Name   string `json:"name"`
	Pubkey string `json:"pubkey"`
}

type deviceCreateResponse struct {
	DeviceID  int64             `json:"device_id"`
	Addresses map[string]string `json:"addresses"`
}

// DevicePost implements POST /device: an already-active user adding an additional
// WireGuard device outside the enrollment flow. The device is bound into every
// network the caller's groups make them eligible for (spec §4.7), and the gateway
// fan-out is notified of each new peer (spec §4.8).
func DevicePost(ctx *middlewares.DefguardCtx) {
	var body deviceCreateRequest
	if err := json.Unmarshal(ctx.PostBody(), &body); err != nil {
		ctx.SetJSONError("invalid request body")

		return
	}

	user, err := ctx.Providers.Storage.FindUserByID(ctx, ctx.Session.UserID)
	if err != nil {
		ctx.Error(err, "failed to create device")

		return
	}

	if user == nil {
		ctx.ReplyUnauthorized()

		return
	}

	device := &model.Device{
		Name:            body.Name,
		WireguardPubkey: body.Pubkey,
		UserID:          &user.ID,
		Created:         time.Now().UTC().Unix(),
		DeviceType:      model.DeviceTypeUser,
		Configured:      true,
	}

	if err := ctx.Providers.Storage.InsertDevice(ctx, device); err != nil {
		ctx.Error(err, "failed to create device")

		return
	}

	networks, err := ctx.Providers.Network.NetworksForUser(ctx, user.Groups)
	if err != nil {
		ctx.Error(err, "failed to create device")

		return
	}

	addresses := make(map[string]string, len(networks))

	for _, n := range networks {
		ip, err := ctx.Providers.Network.BindDevice(ctx, n.ID, device.ID)
		if err != nil {
			ctx.ReplyError(err)

			return
		}

		addresses[n.Name] = ip.String()

		if ctx.Providers.Gateway != nil {
			ctx.Providers.Gateway.PeerAdded(n.ID, model.Peer{
				DeviceID:   device.ID,
				Pubkey:     device.WireguardPubkey,
				AllowedIPs: []net.IP{ip},
			})
		}
	}

	if err := ctx.SetJSONBody(deviceCreateResponse{DeviceID: device.ID, Addresses: addresses}); err != nil {
		ctx.Error(err, "failed to create device")
	}
}
