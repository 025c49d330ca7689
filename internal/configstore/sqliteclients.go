package configstore

import (
	"context"
	"database/sql"
	"fmt"
	"net/netip"
	"strings"

	"github.com/AdguardTeam/golibs/errors"
	"github.com/amberdns/amberdns/internal/adns"
)

// Clients returns all per-client configurations.
func (s *SQLite) Clients(ctx context.Context) (clients []*adns.ClientConf, err error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT id, addr, name, upstreams, blocking_enabled, blocking_paused_until
		FROM clients ORDER BY id`,
	)
	if err != nil {
		return nil, fmt.Errorf("reading clients: %w", err)
	}
	defer func() { err = errors.WithDeferred(err, rows.Close()) }()

	byID := map[int64]*adns.ClientConf{}
	for rows.Next() {
		var id int64
		var addrStr, upstreams string
		var pausedUntil int64

		c := &adns.ClientConf{}
		err = rows.Scan(&id, &addrStr, &c.Name, &upstreams, &c.BlockingEnabled, &pausedUntil)
		if err != nil {
			return nil, fmt.Errorf("scanning client: %w", err)
		}

		c.Addr, err = netip.ParseAddr(addrStr)
		if err != nil {
			return nil, fmt.Errorf("client %d: %w", id, err)
		}

		c.Upstreams = splitList(upstreams)
		c.BlockingPausedUntil = timeFromDB(pausedUntil)

		byID[id] = c
		clients = append(clients, c)
	}

	err = rows.Err()
	if err != nil {
		return nil, err
	}

	err = s.fillClientRules(ctx, byID)
	if err != nil {
		return nil, err
	}

	return clients, nil
}

// fillClientRules attaches the per-client allow and block rules to the
// clients in byID.
func (s *SQLite) fillClientRules(
	ctx context.Context,
	byID map[int64]*adns.ClientConf,
) (err error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT client_id, domain, action FROM client_rules ORDER BY id`,
	)
	if err != nil {
		return fmt.Errorf("reading client rules: %w", err)
	}
	defer func() { err = errors.WithDeferred(err, rows.Close()) }()

	for rows.Next() {
		var clientID int64
		var domain string
		var action adns.FilterAction
		err = rows.Scan(&clientID, &domain, &action)
		if err != nil {
			return fmt.Errorf("scanning client rule: %w", err)
		}

		c, ok := byID[clientID]
		if !ok {
			continue
		}

		if action == adns.FilterActionAllow {
			c.Allow = append(c.Allow, domain)
		} else {
			c.Block = append(c.Block, domain)
		}
	}

	return rows.Err()
}

// UpsertClient adds or updates the configuration of the client with c.Addr.
// Rules are replaced whole.
func (s *SQLite) UpsertClient(ctx context.Context, c *adns.ClientConf) (err error) {
	return s.inTx(ctx, func(tx *sql.Tx) (err error) {
		_, err = tx.ExecContext(
			ctx,
			`INSERT INTO clients (addr, name, upstreams, blocking_enabled, blocking_paused_until)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT (addr) DO UPDATE SET
				name = excluded.name,
				upstreams = excluded.upstreams,
				blocking_enabled = excluded.blocking_enabled,
				blocking_paused_until = excluded.blocking_paused_until`,
			c.Addr.String(),
			c.Name,
			strings.Join(c.Upstreams, ","),
			c.BlockingEnabled,
			timeToDB(c.BlockingPausedUntil),
		)
		if err != nil {
			return fmt.Errorf("upserting client: %w", err)
		}

		var id int64
		err = tx.QueryRowContext(
			ctx,
			`SELECT id FROM clients WHERE addr = ?`,
			c.Addr.String(),
		).Scan(&id)
		if err != nil {
			return fmt.Errorf("reading client id: %w", err)
		}

		_, err = tx.ExecContext(ctx, `DELETE FROM client_rules WHERE client_id = ?`, id)
		if err != nil {
			return fmt.Errorf("clearing client rules: %w", err)
		}

		err = insertRules(ctx, tx, `INSERT INTO client_rules (client_id, domain, action)
			VALUES (?, ?, ?)`, id, c.Allow, c.Block)
		if err != nil {
			return fmt.Errorf("writing client rules: %w", err)
		}

		return nil
	})
}

// Groups returns all client groups with their members and rules.
func (s *SQLite) Groups(ctx context.Context) (groups []*adns.ClientGroup, err error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT id, name, blocking_enabled FROM groups ORDER BY id`,
	)
	if err != nil {
		return nil, fmt.Errorf("reading groups: %w", err)
	}
	defer func() { err = errors.WithDeferred(err, rows.Close()) }()

	byID := map[adns.GroupID]*adns.ClientGroup{}
	for rows.Next() {
		g := &adns.ClientGroup{}
		err = rows.Scan(&g.ID, &g.Name, &g.BlockingEnabled)
		if err != nil {
			return nil, fmt.Errorf("scanning group: %w", err)
		}

		byID[g.ID] = g
		groups = append(groups, g)
	}

	err = rows.Err()
	if err != nil {
		return nil, err
	}

	err = s.fillGroupMembers(ctx, byID)
	if err != nil {
		return nil, err
	}

	err = s.fillGroupRules(ctx, byID)
	if err != nil {
		return nil, err
	}

	return groups, nil
}

// fillGroupMembers attaches member addresses to the groups in byID.
func (s *SQLite) fillGroupMembers(
	ctx context.Context,
	byID map[adns.GroupID]*adns.ClientGroup,
) (err error) {
	rows, err := s.db.QueryContext(ctx, `SELECT group_id, addr FROM group_members`)
	if err != nil {
		return fmt.Errorf("reading group members: %w", err)
	}
	defer func() { err = errors.WithDeferred(err, rows.Close()) }()

	for rows.Next() {
		var groupID adns.GroupID
		var addrStr string
		err = rows.Scan(&groupID, &addrStr)
		if err != nil {
			return fmt.Errorf("scanning group member: %w", err)
		}

		g, ok := byID[groupID]
		if !ok {
			continue
		}

		addr, err := netip.ParseAddr(addrStr)
		if err != nil {
			return fmt.Errorf("group %d member: %w", groupID, err)
		}

		g.Members = append(g.Members, addr)
	}

	return rows.Err()
}

// fillGroupRules attaches the per-group allow and block rules to the groups
// in byID.
func (s *SQLite) fillGroupRules(
	ctx context.Context,
	byID map[adns.GroupID]*adns.ClientGroup,
) (err error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT group_id, domain, action FROM group_rules ORDER BY id`,
	)
	if err != nil {
		return fmt.Errorf("reading group rules: %w", err)
	}
	defer func() { err = errors.WithDeferred(err, rows.Close()) }()

	for rows.Next() {
		var groupID adns.GroupID
		var domain string
		var action adns.FilterAction
		err = rows.Scan(&groupID, &domain, &action)
		if err != nil {
			return fmt.Errorf("scanning group rule: %w", err)
		}

		g, ok := byID[groupID]
		if !ok {
			continue
		}

		if action == adns.FilterActionAllow {
			g.Allow = append(g.Allow, domain)
		} else {
			g.Block = append(g.Block, domain)
		}
	}

	return rows.Err()
}

// UpsertGroup adds or updates a client group by name.  Members and rules are
// replaced whole.
func (s *SQLite) UpsertGroup(ctx context.Context, g *adns.ClientGroup) (err error) {
	return s.inTx(ctx, func(tx *sql.Tx) (err error) {
		_, err = tx.ExecContext(
			ctx,
			`INSERT INTO groups (name, blocking_enabled) VALUES (?, ?)
			ON CONFLICT (name) DO UPDATE SET blocking_enabled = excluded.blocking_enabled`,
			g.Name,
			g.BlockingEnabled,
		)
		if err != nil {
			return fmt.Errorf("upserting group: %w", err)
		}

		var id adns.GroupID
		err = tx.QueryRowContext(ctx, `SELECT id FROM groups WHERE name = ?`, g.Name).Scan(&id)
		if err != nil {
			return fmt.Errorf("reading group id: %w", err)
		}

		_, err = tx.ExecContext(ctx, `DELETE FROM group_members WHERE group_id = ?`, id)
		if err != nil {
			return fmt.Errorf("clearing group members: %w", err)
		}

		for _, addr := range g.Members {
			_, err = tx.ExecContext(
				ctx,
				`INSERT INTO group_members (group_id, addr) VALUES (?, ?)`,
				id,
				addr.String(),
			)
			if err != nil {
				return fmt.Errorf("writing group member: %w", err)
			}
		}

		_, err = tx.ExecContext(ctx, `DELETE FROM group_rules WHERE group_id = ?`, id)
		if err != nil {
			return fmt.Errorf("clearing group rules: %w", err)
		}

		err = insertRules(ctx, tx, `INSERT INTO group_rules (group_id, domain, action)
			VALUES (?, ?, ?)`, int64(id), g.Allow, g.Block)
		if err != nil {
			return fmt.Errorf("writing group rules: %w", err)
		}

		return nil
	})
}

// insertRules inserts the allow and block domains for the owner with the
// given ID using the provided statement.
func insertRules(
	ctx context.Context,
	tx *sql.Tx,
	query string,
	ownerID int64,
	allow []string,
	block []string,
) (err error) {
	for _, d := range allow {
		_, err = tx.ExecContext(ctx, query, ownerID, d, adns.FilterActionAllow)
		if err != nil {
			return err
		}
	}

	for _, d := range block {
		_, err = tx.ExecContext(ctx, query, ownerID, d, adns.FilterActionBlock)
		if err != nil {
			return err
		}
	}

	return nil
}

// splitList splits a comma-separated list, dropping empty entries.
func splitList(s string) (items []string) {
	for part := range strings.SplitSeq(s, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			items = append(items, part)
		}
	}

	return items
}
