package storage

import (
	"context"
	"database/sql"
	"errors"
	"net"
	"strings"

	"github.com/jmoiron/sqlx"

	"github.com/defguard/defguard-core/internal/model"
)

// ErrNoAddressAvailable signals pool exhaustion; internal/network maps it onto
// apperrors.ErrNoAddressAvailable.
var ErrNoAddressAvailable = errors.New("storage: no address available in network pool")

// GetNetwork loads a network by id.
func (p *Provider) GetNetwork(ctx context.Context, id int64) (*model.WireGuardNetwork, error) {
	const query = `
		SELECT id, name, address, port, endpoint, allowed_ips, dns, allowed_groups,
		       mfa_enabled, keepalive_interval, peer_disconnect_threshold,
		       acl_enabled, acl_default_allow, gateway_private_key, gateway_token
		FROM wireguard_networks WHERE id = ?`

	var row networkRow

	err := p.db.GetContext(ctx, &row, p.db.Rebind(query), id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	return row.toNetwork()
}

// ListNetworksAllowingGroups returns every network whose allowed_groups policy
// permits at least one of the given groups (or which has no group restriction).
func (p *Provider) ListNetworksAllowingGroups(ctx context.Context, groups []string) ([]*model.WireGuardNetwork, error) {
	const query = `
		SELECT id, name, address, port, endpoint, allowed_ips, dns, allowed_groups,
		       mfa_enabled, keepalive_interval, peer_disconnect_threshold,
		       acl_enabled, acl_default_allow, gateway_private_key, gateway_token
		FROM wireguard_networks`

	var rows []networkRow

	if err := p.db.SelectContext(ctx, &rows, query); err != nil {
		return nil, err
	}

	var out []*model.WireGuardNetwork

	for _, r := range rows {
		n, err := r.toNetwork()
		if err != nil {
			return nil, err
		}

		if n.IsGroupAllowed(groups) {
			out = append(out, n)
		}
	}

	return out, nil
}

// AllocateAddress picks the smallest unassigned address in the network's pool for
// deviceID, under a row-level lock on the network record so concurrent enrollments
// cannot collide (spec §4.7). Returns apperrors-free ErrNoAddressAvailable on pool
// exhaustion; the network package maps that to apperrors.ErrNoAddressAvailable.
func (p *Provider) AllocateAddress(ctx context.Context, networkID, deviceID int64) (net.IP, error) {
	var assigned net.IP

	err := p.WithTx(ctx, func(tx *sqlx.Tx) error {
		ip, err := p.allocateAddressTx(ctx, tx, networkID, deviceID)
		if err != nil {
			return err
		}

		assigned = ip

		return nil
	})

	return assigned, err
}

// AllocateAddressTx is AllocateAddress run against a transaction the caller already
// holds, so it joins the caller's atomic unit instead of committing on its own. Used
// by enrollment redemption (spec §4.6 step 3), which must not leave a committed
// address binding behind when a later step in the same redemption fails.
func (p *Provider) AllocateAddressTx(ctx context.Context, tx *sqlx.Tx, networkID, deviceID int64) (net.IP, error) {
	return p.allocateAddressTx(ctx, tx, networkID, deviceID)
}

func (p *Provider) allocateAddressTx(ctx context.Context, tx *sqlx.Tx, networkID, deviceID int64) (net.IP, error) {
	lockQuery := tx.Rebind(`SELECT address FROM wireguard_networks WHERE id = ?`)
	if p.driver != "sqlite3" {
		lockQuery = tx.Rebind(`SELECT address FROM wireguard_networks WHERE id = ? FOR UPDATE`)
	}

	var addressField string

	if err := tx.GetContext(ctx, &addressField, lockQuery, networkID); err != nil {
		return nil, err
	}

	pools := parseCIDRList(addressField)

	var taken []net.IP

	rows, err := tx.QueryContext(ctx, tx.Rebind(`SELECT wireguard_ips FROM network_device_bindings WHERE network_id = ?`), networkID)
	if err != nil {
		return nil, err
	}

	for rows.Next() {
		var ips string
		if err := rows.Scan(&ips); err != nil {
			rows.Close()

			return nil, err
		}

		taken = append(taken, parseIPList(ips)...)
	}

	rows.Close()

	candidate := nextFreeAddress(pools, taken)
	if candidate == nil {
		return nil, ErrNoAddressAvailable
	}

	if _, err := tx.ExecContext(ctx, tx.Rebind(`
		INSERT INTO network_device_bindings (network_id, device_id, wireguard_ips) VALUES (?, ?, ?)`),
		networkID, deviceID, candidate.String()); err != nil {
		return nil, err
	}

	return candidate, nil
}

// ListPeers returns the current peer set for a network (every device bound to it
// with its assigned addresses), the data a gateway Reconcile snapshot is built
// from (spec §4.8).
func (p *Provider) ListPeers(ctx context.Context, networkID int64) ([]model.Peer, error) {
	const query = `
		SELECT d.id AS device_id, d.wireguard_pubkey AS pubkey, b.wireguard_ips AS ips
		FROM network_device_bindings b
		JOIN devices d ON d.id = b.device_id
		WHERE b.network_id = ?`

	var rows []struct {
		DeviceID int64  `db:"device_id"`
		Pubkey   string `db:"pubkey"`
		IPs      string `db:"ips"`
	}

	if err := p.db.SelectContext(ctx, &rows, p.db.Rebind(query), networkID); err != nil {
		return nil, err
	}

	peers := make([]model.Peer, 0, len(rows))

	for _, r := range rows {
		peers = append(peers, model.Peer{
			DeviceID:   r.DeviceID,
			Pubkey:     r.Pubkey,
			AllowedIPs: parseIPList(r.IPs),
		})
	}

	return peers, nil
}

// InsertDevice creates a device row (used for non-enrollment device creation paths,
// e.g. adding an additional device to an already-active user).
func (p *Provider) InsertDevice(ctx context.Context, d *model.Device) error {
	return p.WithTx(ctx, func(tx *sqlx.Tx) error {
		id, err := nextID(ctx, tx, p.driver, "devices")
		if err != nil {
			return err
		}

		d.ID = id

		_, err = tx.ExecContext(ctx, tx.Rebind(`
			INSERT INTO devices (id, name, wireguard_pubkey, user_id, created, device_type, configured)
			VALUES (?, ?, ?, ?, ?, ?, ?)`),
			d.ID, d.Name, d.WireguardPubkey, d.UserID, d.Created, string(d.DeviceType), d.Configured)

		return err
	})
}

// InsertNetwork persists a newly-created WireGuard network (wg-quick import or
// admin-authored), generating its gateway token if one was not already set.
func (p *Provider) InsertNetwork(ctx context.Context, n *model.WireGuardNetwork) error {
	return p.WithTx(ctx, func(tx *sqlx.Tx) error {
		id, err := nextID(ctx, tx, p.driver, "wireguard_networks")
		if err != nil {
			return err
		}

		n.ID = id

		_, err = tx.ExecContext(ctx, tx.Rebind(`
			INSERT INTO wireguard_networks
				(id, name, address, port, endpoint, allowed_ips, dns, allowed_groups,
				 mfa_enabled, keepalive_interval, peer_disconnect_threshold,
				 acl_enabled, acl_default_allow, gateway_private_key, gateway_token)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
			n.ID, n.Name, joinCIDRStrings(n.Address), n.Port, n.Endpoint,
			joinCIDRStrings(n.AllowedIPs), strings.Join(n.DNS, ","), strings.Join(n.AllowedGroups, ","),
			n.MFAEnabled, n.KeepaliveInterval, n.PeerDisconnectThreshold,
			n.ACLEnabled, n.ACLDefaultAllow, n.GatewayPrivateKey, n.GatewayToken)

		return err
	})
}

func joinCIDRStrings(nets []*net.IPNet) string {
	parts := make([]string, 0, len(nets))
	for _, n := range nets {
		parts = append(parts, n.String())
	}

	return strings.Join(parts, ",")
}

type networkRow struct {
	ID                      int64  `db:"id"`
	Name                    string `db:"name"`
	Address                 string `db:"address"`
	Port                    int    `db:"port"`
	Endpoint                string `db:"endpoint"`
	AllowedIPs              string `db:"allowed_ips"`
	DNS                     string `db:"dns"`
	AllowedGroups           string `db:"allowed_groups"`
	MFAEnabled              bool   `db:"mfa_enabled"`
	KeepaliveInterval       int    `db:"keepalive_interval"`
	PeerDisconnectThreshold int    `db:"peer_disconnect_threshold"`
	ACLEnabled              bool   `db:"acl_enabled"`
	ACLDefaultAllow         bool   `db:"acl_default_allow"`
	GatewayPrivateKey       string `db:"gateway_private_key"`
	GatewayToken            string `db:"gateway_token"`
}

func (r *networkRow) toNetwork() (*model.WireGuardNetwork, error) {
	return &model.WireGuardNetwork{
		ID:                      r.ID,
		Name:                    r.Name,
		Address:                 parseCIDRList(r.Address),
		Port:                    r.Port,
		Endpoint:                r.Endpoint,
		AllowedIPs:              parseCIDRList(r.AllowedIPs),
		DNS:                     splitNonEmpty(r.DNS),
		AllowedGroups:           splitNonEmpty(r.AllowedGroups),
		MFAEnabled:              r.MFAEnabled,
		KeepaliveInterval:       r.KeepaliveInterval,
		PeerDisconnectThreshold: r.PeerDisconnectThreshold,
		ACLEnabled:              r.ACLEnabled,
		ACLDefaultAllow:         r.ACLDefaultAllow,
		GatewayPrivateKey:       r.GatewayPrivateKey,
		GatewayToken:            r.GatewayToken,
	}, nil
}

func parseCIDRList(joined string) []*net.IPNet {
	var out []*net.IPNet

	for _, part := range splitNonEmpty(joined) {
		_, ipnet, err := net.ParseCIDR(part)
		if err == nil {
			out = append(out, ipnet)
		}
	}

	return out
}

func parseIPList(joined string) []net.IP {
	var out []net.IP

	for _, part := range splitNonEmpty(joined) {
		if ip := net.ParseIP(part); ip != nil {
			out = append(out, ip)
		}
	}

	return out
}

func splitNonEmpty(joined string) []string {
	if strings.TrimSpace(joined) == "" {
		return nil
	}

	parts := strings.Split(joined, ",")
	out := make([]string, 0, len(parts))

	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}

	return out
}

// nextFreeAddress returns the smallest address across pools not present in taken.
func nextFreeAddress(pools []*net.IPNet, taken []net.IP) net.IP {
	for _, pool := range pools {
		for ip := cloneIP(pool.IP.Mask(pool.Mask)); pool.Contains(ip); incIP(ip) {
			if isNetworkOrBroadcast(pool, ip) {
				continue
			}

			if !containsIP(taken, ip) {
				return cloneIP(ip)
			}
		}
	}

	return nil
}

func cloneIP(ip net.IP) net.IP {
	out := make(net.IP, len(ip))
	copy(out, ip)

	return out
}

func incIP(ip net.IP) {
	for i := len(ip) - 1; i >= 0; i-- {
		ip[i]++
		if ip[i] != 0 {
			break
		}
	}
}

func isNetworkOrBroadcast(n *net.IPNet, ip net.IP) bool {
	ones, bits := n.Mask.Size()
	if bits-ones <= 1 {
		// point-to-point or single-host pool: every address is usable.
		return false
	}

	if ip.Equal(n.IP.Mask(n.Mask)) {
		return true
	}

	broadcast := cloneIP(n.IP.Mask(n.Mask))
	for i := range broadcast {
		broadcast[i] |= ^n.Mask[i]
	}

	return ip.Equal(broadcast)
}

func containsIP(list []net.IP, ip net.IP) bool {
	for _, existing := range list {
		if existing.Equal(ip) {
			return true
		}
	}

	return false
}

