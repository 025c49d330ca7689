package configstore

// schemaSQL is the database schema.  It is executed on every open; all
// statements are idempotent.
const schemaSQL = `
CREATE TABLE IF NOT EXISTS settings (
    name  TEXT PRIMARY KEY,
    value TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS adlists (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    name        TEXT NOT NULL,
    url         TEXT NOT NULL UNIQUE,
    enabled     INTEGER NOT NULL DEFAULT 1,
    updated_at  INTEGER NOT NULL DEFAULT 0,
    entry_count INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS domain_rules (
    id      INTEGER PRIMARY KEY AUTOINCREMENT,
    domain  TEXT NOT NULL,
    action  INTEGER NOT NULL,
    enabled INTEGER NOT NULL DEFAULT 1,
    UNIQUE (domain, action)
);

CREATE TABLE IF NOT EXISTS regex_filters (
    id      INTEGER PRIMARY KEY AUTOINCREMENT,
    pattern TEXT NOT NULL,
    action  INTEGER NOT NULL,
    enabled INTEGER NOT NULL DEFAULT 1
);

CREATE TABLE IF NOT EXISTS local_records (
    id      INTEGER PRIMARY KEY AUTOINCREMENT,
    name    TEXT NOT NULL,
    type    INTEGER NOT NULL,
    ttl     INTEGER NOT NULL,
    data    TEXT NOT NULL,
    enabled INTEGER NOT NULL DEFAULT 1
);

CREATE TABLE IF NOT EXISTS conditional_routes (
    id       INTEGER PRIMARY KEY AUTOINCREMENT,
    domain   TEXT NOT NULL,
    upstream TEXT NOT NULL,
    priority INTEGER NOT NULL DEFAULT 0,
    enabled  INTEGER NOT NULL DEFAULT 1
);

CREATE TABLE IF NOT EXISTS clients (
    id                    INTEGER PRIMARY KEY AUTOINCREMENT,
    addr                  TEXT NOT NULL UNIQUE,
    name                  TEXT NOT NULL DEFAULT '',
    upstreams             TEXT NOT NULL DEFAULT '',
    blocking_enabled      INTEGER NOT NULL DEFAULT 1,
    blocking_paused_until INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS client_rules (
    id        INTEGER PRIMARY KEY AUTOINCREMENT,
    client_id INTEGER NOT NULL REFERENCES clients (id) ON DELETE CASCADE,
    domain    TEXT NOT NULL,
    action    INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS groups (
    id               INTEGER PRIMARY KEY AUTOINCREMENT,
    name             TEXT NOT NULL UNIQUE,
    blocking_enabled INTEGER NOT NULL DEFAULT 1
);

CREATE TABLE IF NOT EXISTS group_members (
    group_id INTEGER NOT NULL REFERENCES groups (id) ON DELETE CASCADE,
    addr     TEXT NOT NULL,
    PRIMARY KEY (group_id, addr)
);

CREATE TABLE IF NOT EXISTS group_rules (
    id       INTEGER PRIMARY KEY AUTOINCREMENT,
    group_id INTEGER NOT NULL REFERENCES groups (id) ON DELETE CASCADE,
    domain   TEXT NOT NULL,
    action   INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS zones (
    id             INTEGER PRIMARY KEY AUTOINCREMENT,
    domain         TEXT NOT NULL UNIQUE,
    enabled        INTEGER NOT NULL DEFAULT 1,
    dnssec_enabled INTEGER NOT NULL DEFAULT 0,
    transfer_acl   TEXT NOT NULL DEFAULT '',
    soa_primary_ns TEXT NOT NULL,
    soa_admin      TEXT NOT NULL,
    soa_serial     INTEGER NOT NULL DEFAULT 1,
    soa_refresh    INTEGER NOT NULL DEFAULT 3600,
    soa_retry      INTEGER NOT NULL DEFAULT 600,
    soa_expire     INTEGER NOT NULL DEFAULT 604800,
    soa_minimum    INTEGER NOT NULL DEFAULT 3600,
    soa_ttl        INTEGER NOT NULL DEFAULT 3600
);

CREATE TABLE IF NOT EXISTS zone_records (
    id      INTEGER PRIMARY KEY AUTOINCREMENT,
    zone_id INTEGER NOT NULL REFERENCES zones (id) ON DELETE CASCADE,
    name    TEXT NOT NULL,
    type    INTEGER NOT NULL,
    ttl     INTEGER NOT NULL,
    data    TEXT NOT NULL,
    enabled INTEGER NOT NULL DEFAULT 1
);

CREATE TABLE IF NOT EXISTS zone_keys (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    zone_id     INTEGER NOT NULL REFERENCES zones (id) ON DELETE CASCADE,
    flags       INTEGER NOT NULL,
    algorithm   INTEGER NOT NULL,
    key_tag     INTEGER NOT NULL,
    public_key  TEXT NOT NULL,
    private_key BLOB NOT NULL,
    active      INTEGER NOT NULL DEFAULT 1
);

CREATE TABLE IF NOT EXISTS tsig_keys (
    id        INTEGER PRIMARY KEY AUTOINCREMENT,
    name      TEXT NOT NULL UNIQUE,
    algorithm TEXT NOT NULL,
    secret    TEXT NOT NULL,
    enabled   INTEGER NOT NULL DEFAULT 1
);

CREATE TABLE IF NOT EXISTS queries (
    id           INTEGER PRIMARY KEY AUTOINCREMENT,
    request_id   TEXT NOT NULL,
    ts           INTEGER NOT NULL,
    remote_ip    TEXT NOT NULL DEFAULT '',
    domain       TEXT NOT NULL,
    qtype        INTEGER NOT NULL,
    rcode        INTEGER NOT NULL,
    elapsed_ms   INTEGER NOT NULL,
    blocked      INTEGER NOT NULL,
    cached       INTEGER NOT NULL,
    block_reason TEXT NOT NULL DEFAULT '',
    upstream     TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS queries_ts ON queries (ts);
CREATE INDEX IF NOT EXISTS queries_domain_ts ON queries (domain, ts);
`
