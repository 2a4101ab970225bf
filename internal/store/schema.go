package store

// schema is the single source of truth for every table this process
// owns. All statements are idempotent so Migrate can run on every start.
const schema = `
CREATE TABLE IF NOT EXISTS positions (
	symbol TEXT PRIMARY KEY,
	quantity INTEGER NOT NULL,
	average_cost INTEGER NOT NULL,
	first_entry_at DATETIME NOT NULL,
	max_price_since_entry INTEGER NOT NULL,
	partial_exit_stage INTEGER NOT NULL,
	pyramiding_stage INTEGER NOT NULL,
	strategy_tag TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS orders (
	broker_order_id TEXT PRIMARY KEY,
	symbol TEXT NOT NULL,
	side TEXT NOT NULL,
	venue TEXT NOT NULL,
	requested_qty INTEGER NOT NULL,
	limit_price INTEGER NOT NULL,
	status TEXT NOT NULL,
	filled_qty INTEGER NOT NULL,
	avg_fill_price INTEGER NOT NULL,
	placed_at DATETIME NOT NULL,
	executed_at DATETIME,
	logical_order_key TEXT NOT NULL UNIQUE
);

CREATE TABLE IF NOT EXISTS executions (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	broker_order_id TEXT NOT NULL,
	fill_qty INTEGER NOT NULL,
	fill_price INTEGER NOT NULL,
	fill_amount INTEGER NOT NULL,
	fill_timestamp DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS account_snapshots (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	timestamp DATETIME NOT NULL,
	cash_balance INTEGER NOT NULL,
	total_equity INTEGER NOT NULL,
	realized_pnl_today INTEGER NOT NULL,
	cumulative_return_pct REAL NOT NULL
);

CREATE TABLE IF NOT EXISTS trade_feedback (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	symbol TEXT NOT NULL,
	entry_price INTEGER NOT NULL,
	exit_price INTEGER NOT NULL,
	return_pct REAL NOT NULL,
	hold_days INTEGER NOT NULL,
	exit_reason TEXT NOT NULL,
	entry_quant_score REAL NOT NULL,
	entry_ai_score REAL NOT NULL,
	result TEXT NOT NULL,
	detail TEXT NOT NULL,
	created_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS trap_pattern_weights (
	pattern TEXT PRIMARY KEY,
	weight REAL NOT NULL,
	total_observations INTEGER NOT NULL,
	correct_observations INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS settings (
	key TEXT PRIMARY KEY,
	value TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS decision_log (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	created_at DATETIME NOT NULL,
	symbol TEXT NOT NULL,
	quant_score REAL NOT NULL,
	ai_score REAL NOT NULL,
	trap_adjusted_ai_score REAL NOT NULL,
	final_score REAL NOT NULL,
	action TEXT NOT NULL,
	veto_reason TEXT NOT NULL,
	trap_pattern TEXT NOT NULL DEFAULT ''
);
`
