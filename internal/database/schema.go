package database

// Schema is the full ledger schema. All timestamps are stored as RFC3339
// strings in UTC so lexicographic and chronological order agree.
const Schema = `
CREATE TABLE IF NOT EXISTS users (
    id INTEGER PRIMARY KEY,
    email TEXT UNIQUE NOT NULL,
    password_hash TEXT NOT NULL,
    created_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS accounts (
    id INTEGER PRIMARY KEY,
    user_id INTEGER NOT NULL REFERENCES users(id),
    name TEXT NOT NULL,
    currency TEXT NOT NULL,
    initial_balance REAL NOT NULL,
    balance REAL NOT NULL,
    is_liquid INTEGER NOT NULL DEFAULT 1,
    created_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS transactions (
    id INTEGER PRIMARY KEY,
    kind TEXT NOT NULL,
    amount REAL NOT NULL,
    currency TEXT NOT NULL,
    executed_at TEXT NOT NULL,
    from_account_id INTEGER REFERENCES accounts(id),
    to_account_id INTEGER REFERENCES accounts(id),
    created_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS trades (
    id INTEGER PRIMARY KEY,
    account_id INTEGER NOT NULL REFERENCES accounts(id),
    asset_class TEXT NOT NULL,
    status TEXT NOT NULL,
    direction TEXT NOT NULL,
    symbol TEXT,
    fees REAL NOT NULL DEFAULT 0,
    entry_at TEXT NOT NULL,
    exit_at TEXT,
    pattern TEXT,
    notes TEXT,
    external_ref TEXT UNIQUE,
    opening_balance REAL,
    realized_pl REAL,
    created_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS trade_payloads (
    trade_id INTEGER PRIMARY KEY REFERENCES trades(id) ON DELETE CASCADE,
    asset_class TEXT NOT NULL,
    amount_gain REAL,
    percentage_gain REAL,
    lots REAL,
    quantity REAL,
    entry_price REAL,
    exit_price REAL,
    pip_gain REAL,
    coupon_rate REAL
);

CREATE INDEX IF NOT EXISTS idx_accounts_user ON accounts(user_id);
CREATE INDEX IF NOT EXISTS idx_transactions_from ON transactions(from_account_id, executed_at);
CREATE INDEX IF NOT EXISTS idx_transactions_to ON transactions(to_account_id, executed_at);
CREATE INDEX IF NOT EXISTS idx_trades_account ON trades(account_id, entry_at);
CREATE INDEX IF NOT EXISTS idx_trades_external_ref ON trades(external_ref);
`
