package sqlite

const schemaSQL = `
CREATE TABLE IF NOT EXISTS assets (
	id             TEXT PRIMARY KEY,
	user_id        TEXT NOT NULL,
	class          TEXT NOT NULL,
	status         TEXT NOT NULL,
	symbol         TEXT NOT NULL DEFAULT '',
	venue          TEXT NOT NULL DEFAULT '',
	currency       TEXT NOT NULL DEFAULT '',
	quantity       REAL NOT NULL DEFAULT 0,
	purchase_price REAL NOT NULL DEFAULT 0,
	purchase_date  TEXT NOT NULL,
	current_price  REAL NOT NULL DEFAULT 0,
	closed_at      TEXT,
	bond_settings  TEXT,
	updated_at     TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_assets_user ON assets(user_id);
CREATE INDEX IF NOT EXISTS idx_assets_symbol_venue ON assets(symbol, venue);

CREATE TABLE IF NOT EXISTS ohlcv_bars (
	symbol    TEXT NOT NULL,
	venue     TEXT NOT NULL,
	timestamp TEXT NOT NULL,
	interval  TEXT NOT NULL,
	open      REAL NOT NULL,
	high      REAL NOT NULL,
	low       REAL NOT NULL,
	close     REAL NOT NULL,
	volume    REAL NOT NULL DEFAULT 0,
	currency  TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (symbol, venue, timestamp, interval)
);
CREATE INDEX IF NOT EXISTS idx_bars_query ON ohlcv_bars(symbol, interval, timestamp);
CREATE INDEX IF NOT EXISTS idx_bars_retention ON ohlcv_bars(interval, timestamp);

CREATE TABLE IF NOT EXISTS instruments (
	symbol         TEXT NOT NULL,
	venue          TEXT NOT NULL,
	display_venue  TEXT NOT NULL DEFAULT '',
	name           TEXT NOT NULL DEFAULT '',
	country        TEXT NOT NULL DEFAULT '',
	quote_currency TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (symbol, venue)
);

CREATE TABLE IF NOT EXISTS fx_rates (
	source_ccy TEXT NOT NULL,
	target_ccy TEXT NOT NULL,
	rate       REAL NOT NULL,
	fetched_at TEXT NOT NULL,
	PRIMARY KEY (source_ccy, target_ccy)
);

CREATE TABLE IF NOT EXISTS statistics (
	user_id       TEXT NOT NULL,
	date          TEXT NOT NULL,
	day_key       TEXT NOT NULL,
	total_usd     REAL NOT NULL,
	distribution  TEXT NOT NULL,
	PRIMARY KEY (user_id, day_key)
);
CREATE INDEX IF NOT EXISTS idx_statistics_user_date ON statistics(user_id, date);
`
