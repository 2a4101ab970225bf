// Package store holds the SQLite-backed repositories for every
// persistent entity: Position, Order, Execution, AccountSnapshot,
// TradeFeedback, TrapPatternWeight, a settings table, and the append-only
// decision log. Each repository method that must be transactional (an
// execution-fill notice touching Order, Execution, and Position together)
// does so within a single *sql.Tx.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/joungwonlim/aegis-v3/internal/database"
	"github.com/joungwonlim/aegis-v3/internal/domain"
)

// Store bundles every repository behind the one connection pool.
type Store struct {
	db *database.DB
}

// Open opens (and migrates) the store at path.
func Open(path string) (*Store, error) {
	db, err := database.New(database.Config{Path: path, Profile: database.ProfileLedger, Name: "aegis"})
	if err != nil {
		return nil, err
	}
	if err := db.Migrate(schema); err != nil {
		return nil, err
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// --- Position ---------------------------------------------------------

func (s *Store) UpsertPosition(ctx context.Context, p domain.Position) error {
	_, err := s.db.Conn().ExecContext(ctx, `
		INSERT INTO positions (symbol, quantity, average_cost, first_entry_at, max_price_since_entry, partial_exit_stage, pyramiding_stage, strategy_tag)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(symbol) DO UPDATE SET
			quantity=excluded.quantity, average_cost=excluded.average_cost,
			max_price_since_entry=excluded.max_price_since_entry,
			partial_exit_stage=excluded.partial_exit_stage,
			pyramiding_stage=excluded.pyramiding_stage, strategy_tag=excluded.strategy_tag`,
		p.Symbol, p.Quantity, p.AverageCost, p.FirstEntryAt, p.MaxPriceSinceEntry,
		p.PartialExitStage, p.PyramidingStage, p.StrategyTag)
	if err != nil {
		return fmt.Errorf("upsert position %s: %w", p.Symbol, err)
	}
	return nil
}

// DeletePosition removes a position record once its quantity reaches
// zero — the data model forbids retaining a zero-quantity row.
func (s *Store) DeletePosition(ctx context.Context, symbol string) error {
	_, err := s.db.Conn().ExecContext(ctx, `DELETE FROM positions WHERE symbol = ?`, symbol)
	return err
}

// GetPosition returns the position for symbol, if one is open.
func (s *Store) GetPosition(ctx context.Context, symbol string) (domain.Position, bool, error) {
	var p domain.Position
	err := s.db.Conn().QueryRowContext(ctx, `
		SELECT symbol, quantity, average_cost, first_entry_at, max_price_since_entry, partial_exit_stage, pyramiding_stage, strategy_tag
		FROM positions WHERE symbol = ?`, symbol).
		Scan(&p.Symbol, &p.Quantity, &p.AverageCost, &p.FirstEntryAt, &p.MaxPriceSinceEntry, &p.PartialExitStage, &p.PyramidingStage, &p.StrategyTag)
	if err == sql.ErrNoRows {
		return domain.Position{}, false, nil
	}
	return p, err == nil, err
}

func (s *Store) ListPositions(ctx context.Context) ([]domain.Position, error) {
	rows, err := s.db.Conn().QueryContext(ctx, `SELECT symbol, quantity, average_cost, first_entry_at, max_price_since_entry, partial_exit_stage, pyramiding_stage, strategy_tag FROM positions`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Position
	for rows.Next() {
		var p domain.Position
		if err := rows.Scan(&p.Symbol, &p.Quantity, &p.AverageCost, &p.FirstEntryAt,
			&p.MaxPriceSinceEntry, &p.PartialExitStage, &p.PyramidingStage, &p.StrategyTag); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// --- Order / Execution --------------------------------------------------

func (s *Store) InsertOrder(ctx context.Context, o domain.Order) error {
	_, err := s.db.Conn().ExecContext(ctx, `
		INSERT INTO orders (broker_order_id, symbol, side, venue, requested_qty, limit_price, status, filled_qty, avg_fill_price, placed_at, executed_at, logical_order_key)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		o.BrokerOrderID, o.Symbol, o.Side, o.Venue, o.RequestedQty, o.LimitPrice,
		o.Status, o.FilledQty, o.AvgFillPrice, o.PlacedAt, nullTime(o.ExecutedAt), o.LogicalOrderKey)
	if err != nil {
		return fmt.Errorf("insert order %s: %w", o.BrokerOrderID, err)
	}
	return nil
}

// GetOrderByBrokerID returns the local mirror row for a brokerage order,
// used by the fill handler to compute the correct status transition.
func (s *Store) GetOrderByBrokerID(ctx context.Context, brokerOrderID string) (domain.Order, bool, error) {
	var o domain.Order
	var executedAt sql.NullTime
	err := s.db.Conn().QueryRowContext(ctx, `
		SELECT broker_order_id, symbol, side, venue, requested_qty, limit_price, status, filled_qty, avg_fill_price, placed_at, executed_at, logical_order_key
		FROM orders WHERE broker_order_id = ?`, brokerOrderID).
		Scan(&o.BrokerOrderID, &o.Symbol, &o.Side, &o.Venue, &o.RequestedQty, &o.LimitPrice, &o.Status,
			&o.FilledQty, &o.AvgFillPrice, &o.PlacedAt, &executedAt, &o.LogicalOrderKey)
	if err == sql.ErrNoRows {
		return domain.Order{}, false, nil
	}
	if executedAt.Valid {
		o.ExecutedAt = executedAt.Time
	}
	return o, err == nil, err
}

// ExistsByLogicalKey reports whether an order for this pipeline
// invocation's logical identity has already been submitted, enforcing
// order idempotence without relying on broker-side retries.
func (s *Store) ExistsByLogicalKey(ctx context.Context, key string) (bool, error) {
	var n int
	err := s.db.Conn().QueryRowContext(ctx, `SELECT COUNT(1) FROM orders WHERE logical_order_key = ?`, key).Scan(&n)
	return n > 0, err
}

// ApplyFill updates Order and appends Execution and upserts the
// resulting Position within one transaction, per the shared-resource
// policy that one execution-fill notice is one logical write.
func (s *Store) ApplyFill(ctx context.Context, brokerOrderID string, fillQty, fillPrice int64, fillTime time.Time, next domain.OrderStatus, pos domain.Position) error {
	tx, err := s.db.Conn().BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		UPDATE orders SET status = ?, filled_qty = filled_qty + ?, avg_fill_price = ?, executed_at = ?
		WHERE broker_order_id = ?`,
		next, fillQty, fillPrice, fillTime, brokerOrderID); err != nil {
		return fmt.Errorf("update order %s: %w", brokerOrderID, err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO executions (broker_order_id, fill_qty, fill_price, fill_amount, fill_timestamp)
		VALUES (?, ?, ?, ?, ?)`,
		brokerOrderID, fillQty, fillPrice, fillQty*fillPrice, fillTime); err != nil {
		return fmt.Errorf("insert execution for %s: %w", brokerOrderID, err)
	}

	if pos.Quantity <= 0 {
		if _, err := tx.ExecContext(ctx, `DELETE FROM positions WHERE symbol = ?`, pos.Symbol); err != nil {
			return err
		}
	} else {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO positions (symbol, quantity, average_cost, first_entry_at, max_price_since_entry, partial_exit_stage, pyramiding_stage, strategy_tag)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(symbol) DO UPDATE SET
				quantity=excluded.quantity, average_cost=excluded.average_cost,
				max_price_since_entry=excluded.max_price_since_entry,
				partial_exit_stage=excluded.partial_exit_stage,
				pyramiding_stage=excluded.pyramiding_stage`,
			pos.Symbol, pos.Quantity, pos.AverageCost, pos.FirstEntryAt, pos.MaxPriceSinceEntry,
			pos.PartialExitStage, pos.PyramidingStage, pos.StrategyTag); err != nil {
			return err
		}
	}

	return tx.Commit()
}

func (s *Store) CountOrdersPlacedSince(ctx context.Context, since time.Time) (int, error) {
	var n int
	err := s.db.Conn().QueryRowContext(ctx, `SELECT COUNT(1) FROM orders WHERE placed_at >= ?`, since).Scan(&n)
	return n, err
}

// --- AccountSnapshot ------------------------------------------------------

func (s *Store) AppendAccountSnapshot(ctx context.Context, a domain.AccountSnapshot) error {
	_, err := s.db.Conn().ExecContext(ctx, `
		INSERT INTO account_snapshots (timestamp, cash_balance, total_equity, realized_pnl_today, cumulative_return_pct)
		VALUES (?, ?, ?, ?, ?)`,
		a.Timestamp, a.CashBalance, a.TotalEquity, a.RealizedPnLToday, a.CumulativeReturnPct)
	return err
}

func (s *Store) LatestAccountSnapshot(ctx context.Context) (domain.AccountSnapshot, bool, error) {
	var a domain.AccountSnapshot
	err := s.db.Conn().QueryRowContext(ctx, `
		SELECT timestamp, cash_balance, total_equity, realized_pnl_today, cumulative_return_pct
		FROM account_snapshots ORDER BY timestamp DESC LIMIT 1`).
		Scan(&a.Timestamp, &a.CashBalance, &a.TotalEquity, &a.RealizedPnLToday, &a.CumulativeReturnPct)
	if err == sql.ErrNoRows {
		return domain.AccountSnapshot{}, false, nil
	}
	return a, err == nil, err
}

// --- TradeFeedback --------------------------------------------------------

func (s *Store) InsertTradeFeedback(ctx context.Context, tf domain.TradeFeedback) error {
	_, err := s.db.Conn().ExecContext(ctx, `
		INSERT INTO trade_feedback (symbol, entry_price, exit_price, return_pct, hold_days, exit_reason, entry_quant_score, entry_ai_score, result, detail, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		tf.Symbol, tf.EntryPrice, tf.ExitPrice, tf.ReturnPct, tf.HoldDays, tf.ExitReason,
		tf.EntryQuantScore, tf.EntryAIScore, tf.Result, tf.Detail, time.Now())
	return err
}

// RecentResults returns the most recent n trade-feedback results, newest
// first, for the feedback engine's streak computation.
func (s *Store) RecentResults(ctx context.Context, n int) ([]domain.ResultClass, error) {
	rows, err := s.db.Conn().QueryContext(ctx, `SELECT result FROM trade_feedback ORDER BY id DESC LIMIT ?`, n)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.ResultClass
	for rows.Next() {
		var r string
		if err := rows.Scan(&r); err != nil {
			return nil, err
		}
		out = append(out, domain.ResultClass(r))
	}
	return out, rows.Err()
}

// --- TrapPatternWeight -----------------------------------------------------

func (s *Store) GetPatternWeight(ctx context.Context, pattern string, defaultWeight float64) (domain.TrapPatternWeight, error) {
	var w domain.TrapPatternWeight
	err := s.db.Conn().QueryRowContext(ctx, `
		SELECT pattern, weight, total_observations, correct_observations FROM trap_pattern_weights WHERE pattern = ?`, pattern).
		Scan(&w.Pattern, &w.Weight, &w.TotalObservations, &w.CorrectObservations)
	if err == sql.ErrNoRows {
		return domain.TrapPatternWeight{Pattern: pattern, Weight: defaultWeight}, nil
	}
	return w, err
}

func (s *Store) UpsertPatternWeight(ctx context.Context, w domain.TrapPatternWeight) error {
	_, err := s.db.Conn().ExecContext(ctx, `
		INSERT INTO trap_pattern_weights (pattern, weight, total_observations, correct_observations)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(pattern) DO UPDATE SET
			weight=excluded.weight, total_observations=excluded.total_observations,
			correct_observations=excluded.correct_observations`,
		w.Pattern, w.Weight, w.TotalObservations, w.CorrectObservations)
	return err
}

// --- Settings ---------------------------------------------------------

func (s *Store) GetSetting(ctx context.Context, key, fallback string) (string, error) {
	var v string
	err := s.db.Conn().QueryRowContext(ctx, `SELECT value FROM settings WHERE key = ?`, key).Scan(&v)
	if err == sql.ErrNoRows {
		return fallback, nil
	}
	return v, err
}

func (s *Store) SetSetting(ctx context.Context, key, value string) error {
	_, err := s.db.Conn().ExecContext(ctx, `
		INSERT INTO settings (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value=excluded.value`, key, value)
	return err
}

// --- Decision log -------------------------------------------------------

// DecisionRow is one evaluated candidate written by a pipeline invocation.
type DecisionRow struct {
	CreatedAt           time.Time
	Symbol              string
	QuantScore          float64
	AIScore             float64
	TrapAdjustedAIScore float64
	FinalScore          float64
	Action              domain.Action
	VetoReason          string
	TrapPattern         string // highest-confidence pattern detected at entry, if any
}

func (s *Store) AppendDecision(ctx context.Context, d DecisionRow) error {
	_, err := s.db.Conn().ExecContext(ctx, `
		INSERT INTO decision_log (created_at, symbol, quant_score, ai_score, trap_adjusted_ai_score, final_score, action, veto_reason, trap_pattern)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		d.CreatedAt, d.Symbol, d.QuantScore, d.AIScore, d.TrapAdjustedAIScore, d.FinalScore, d.Action, d.VetoReason, d.TrapPattern)
	return err
}

func (s *Store) RecentDecisions(ctx context.Context, limit int) ([]DecisionRow, error) {
	rows, err := s.db.Conn().QueryContext(ctx, `
		SELECT created_at, symbol, quant_score, ai_score, trap_adjusted_ai_score, final_score, action, veto_reason, trap_pattern
		FROM decision_log ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []DecisionRow
	for rows.Next() {
		var d DecisionRow
		var action string
		if err := rows.Scan(&d.CreatedAt, &d.Symbol, &d.QuantScore, &d.AIScore,
			&d.TrapAdjustedAIScore, &d.FinalScore, &action, &d.VetoReason, &d.TrapPattern); err != nil {
			return nil, err
		}
		d.Action = domain.Action(action)
		out = append(out, d)
	}
	return out, rows.Err()
}

// LatestDecisionForSymbol returns the most recent decision row recorded
// for symbol, used at exit time to recover which trap pattern (if any)
// was live when the position was opened.
func (s *Store) LatestDecisionForSymbol(ctx context.Context, symbol string) (DecisionRow, bool, error) {
	var d DecisionRow
	var action string
	err := s.db.Conn().QueryRowContext(ctx, `
		SELECT created_at, symbol, quant_score, ai_score, trap_adjusted_ai_score, final_score, action, veto_reason, trap_pattern
		FROM decision_log WHERE symbol = ? ORDER BY id DESC LIMIT 1`, symbol).
		Scan(&d.CreatedAt, &d.Symbol, &d.QuantScore, &d.AIScore, &d.TrapAdjustedAIScore, &d.FinalScore, &action, &d.VetoReason, &d.TrapPattern)
	if err == sql.ErrNoRows {
		return DecisionRow{}, false, nil
	}
	d.Action = domain.Action(action)
	return d, err == nil, err
}

func nullTime(t time.Time) sql.NullTime {
	if t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t, Valid: true}
}
