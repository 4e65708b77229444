// Package storage provides SQLite-backed persistence for trigger
// configurations, per-configuration trigger state, the notification queue,
// and an append-only audit log.
package storage

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"

	"github.com/raymondclowe/ttslo-sub000/internal/models"
)

// Store wraps a SQLite database for all persistence operations. Records
// are flat and per-id; there is no relational coupling between tables.
type Store struct {
	db *sql.DB
}

// Open opens or creates the SQLite database at dbPath. An empty dbPath
// defaults to $TMPDIR/ttslo/data.db.
func Open(dbPath string) (*Store, error) {
	if dbPath == "" {
		dbPath = filepath.Join(os.TempDir(), "ttslo", "data.db")
	}
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1) // single writer; WAL allows concurrent readers
	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		return nil, fmt.Errorf("failed to set WAL mode: %w", err)
	}
	s := &Store{db: db}
	if err := s.createTables(); err != nil {
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) createTables() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS configs (
			id               TEXT PRIMARY KEY,
			pair             TEXT NOT NULL,
			threshold_price  TEXT NOT NULL,
			threshold_type   TEXT NOT NULL,
			direction        TEXT NOT NULL,
			volume           TEXT NOT NULL,
			trailing_offset  TEXT NOT NULL,
			enabled          TEXT NOT NULL,
			linked_order_id  TEXT NOT NULL DEFAULT '',
			trigger_order_id TEXT NOT NULL DEFAULT '',
			triggered_time   INTEGER NOT NULL DEFAULT 0,
			triggered_price  TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE TABLE IF NOT EXISTS trigger_state (
			config_id        TEXT PRIMARY KEY,
			triggered        INTEGER NOT NULL DEFAULT 0,
			trigger_price    TEXT NOT NULL DEFAULT '',
			trigger_time     INTEGER NOT NULL DEFAULT 0,
			activated_on     TEXT NOT NULL DEFAULT '',
			order_id         TEXT NOT NULL DEFAULT '',
			trigger_notified INTEGER NOT NULL DEFAULT 0,
			fill_notified    INTEGER NOT NULL DEFAULT 0,
			error_notified   INTEGER NOT NULL DEFAULT 0,
			last_error       TEXT NOT NULL DEFAULT '',
			last_checked     INTEGER NOT NULL DEFAULT 0,
			initial_price    TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE TABLE IF NOT EXISTS notification_queue (
			seq       INTEGER PRIMARY KEY AUTOINCREMENT,
			recipient TEXT NOT NULL,
			message   TEXT NOT NULL,
			ts        INTEGER NOT NULL,
			reason    TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS notification_meta (
			key   TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS audit_log (
			seq     INTEGER PRIMARY KEY AUTOINCREMENT,
			ts      INTEGER NOT NULL,
			level   TEXT NOT NULL,
			message TEXT NOT NULL,
			fields  TEXT NOT NULL DEFAULT '{}'
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// LoadConfigurations reads every configuration record, normalizing raw
// values at the boundary. Rows whose numeric fields do not parse are still
// returned (with zero amounts) together with an ERROR diagnostic so the
// validator pass can report and disable them; they are never silently
// dropped.
func (s *Store) LoadConfigurations() ([]models.Configuration, []models.Diagnostic, error) {
	rows, err := s.db.Query(`
		SELECT id, pair, threshold_price, threshold_type, direction,
		       volume, trailing_offset, enabled, linked_order_id
		FROM configs ORDER BY rowid`)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to query configs: %w", err)
	}
	defer rows.Close()

	var configs []models.Configuration
	var diags []models.Diagnostic
	for rows.Next() {
		var c models.Configuration
		var thresholdPrice, thresholdType, direction, volume, offset, enabled string
		if err := rows.Scan(&c.ID, &c.Pair, &thresholdPrice, &thresholdType,
			&direction, &volume, &offset, &enabled, &c.LinkedOrderID); err != nil {
			return nil, nil, fmt.Errorf("failed to scan config: %w", err)
		}
		c.ThresholdType = models.ThresholdType(strings.ToLower(strings.TrimSpace(thresholdType)))
		c.Direction = models.Direction(strings.ToLower(strings.TrimSpace(direction)))
		c.Enabled = models.ParseEnabledState(enabled)

		c.ThresholdPrice = parseAmount(c.ID, "threshold_price", thresholdPrice, &diags)
		c.Volume = parseAmount(c.ID, "volume", volume, &diags)
		c.TrailingOffsetPct = parseAmount(c.ID, "trailing_offset_percent", offset, &diags)

		configs = append(configs, c)
	}
	return configs, diags, rows.Err()
}

func parseAmount(configID, field, raw string, diags *[]models.Diagnostic) decimal.Decimal {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		*diags = append(*diags, models.Diagnostic{
			ConfigID: configID,
			Field:    field,
			Severity: models.SeverityError,
			Message:  fmt.Sprintf("non-numeric value %q", raw),
		})
		return decimal.Zero
	}
	return d
}

// SaveConfiguration inserts or replaces one configuration record with
// canonical field values.
func (s *Store) SaveConfiguration(c *models.Configuration) error {
	_, err := s.db.Exec(`
		INSERT INTO configs
			(id, pair, threshold_price, threshold_type, direction, volume,
			 trailing_offset, enabled, linked_order_id)
		VALUES (?,?,?,?,?,?,?,?,?)
		ON CONFLICT(id) DO UPDATE SET
			pair=excluded.pair, threshold_price=excluded.threshold_price,
			threshold_type=excluded.threshold_type, direction=excluded.direction,
			volume=excluded.volume, trailing_offset=excluded.trailing_offset,
			enabled=excluded.enabled, linked_order_id=excluded.linked_order_id`,
		c.ID, c.Pair, c.ThresholdPrice.String(), string(c.ThresholdType),
		string(c.Direction), c.Volume.String(), c.TrailingOffsetPct.String(),
		string(c.Enabled), c.LinkedOrderID,
	)
	if err != nil {
		return fmt.Errorf("failed to save config %s: %w", c.ID, err)
	}
	return nil
}

// DisableConfigs flips the named configurations to the canonical disabled
// state in one transaction.
func (s *Store) DisableConfigs(ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck
	for _, id := range ids {
		if _, err := tx.Exec(`UPDATE configs SET enabled=? WHERE id=?`, string(models.Disabled), id); err != nil {
			return fmt.Errorf("failed to disable config %s: %w", id, err)
		}
	}
	return tx.Commit()
}

// UpdateConfigEnabled sets one configuration's enabled state.
func (s *Store) UpdateConfigEnabled(id string, state models.EnabledState) error {
	res, err := s.db.Exec(`UPDATE configs SET enabled=? WHERE id=?`, string(state), id)
	if err != nil {
		return fmt.Errorf("failed to update enabled for %s: %w", id, err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("config not found: %s", id)
	}
	return nil
}

// UpdateConfigOnTrigger annotates a configuration record with the order
// its trigger produced, so the record itself shows what happened.
func (s *Store) UpdateConfigOnTrigger(id, orderID string, at time.Time, price decimal.Decimal) error {
	res, err := s.db.Exec(`
		UPDATE configs SET trigger_order_id=?, triggered_time=?, triggered_price=?
		WHERE id=?`,
		orderID, at.UnixNano(), price.String(), id)
	if err != nil {
		return fmt.Errorf("failed to record trigger on config %s: %w", id, err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("config not found: %s", id)
	}
	return nil
}

// SaveState upserts the full trigger-state map in one transaction.
func (s *Store) SaveState(states map[string]*models.TriggerState) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck
	for id, st := range states {
		if err := saveOneState(tx, id, st); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// SaveOneState upserts a single trigger-state row.
func (s *Store) SaveOneState(st *models.TriggerState) error {
	return saveOneState(s.db, st.ConfigID, st)
}

type execer interface {
	Exec(query string, args ...any) (sql.Result, error)
}

func saveOneState(db execer, id string, st *models.TriggerState) error {
	_, err := db.Exec(`
		INSERT OR REPLACE INTO trigger_state
			(config_id, triggered, trigger_price, trigger_time, activated_on,
			 order_id, trigger_notified, fill_notified, error_notified,
			 last_error, last_checked, initial_price)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?)`,
		id, boolToInt(st.Triggered), st.TriggerPrice.String(), timeToNano(st.TriggerTime),
		st.ActivatedOn, st.OrderID,
		boolToInt(st.TriggerNotified), boolToInt(st.FillNotified), boolToInt(st.ErrorNotified),
		st.LastError, timeToNano(st.LastChecked), st.InitialPrice.String(),
	)
	if err != nil {
		return fmt.Errorf("failed to save state for %s: %w", id, err)
	}
	return nil
}

// LoadState reads the full trigger-state map.
func (s *Store) LoadState() (map[string]*models.TriggerState, error) {
	rows, err := s.db.Query(`
		SELECT config_id, triggered, trigger_price, trigger_time, activated_on,
		       order_id, trigger_notified, fill_notified, error_notified,
		       last_error, last_checked, initial_price
		FROM trigger_state`)
	if err != nil {
		return nil, fmt.Errorf("failed to query trigger state: %w", err)
	}
	defer rows.Close()

	states := make(map[string]*models.TriggerState)
	for rows.Next() {
		var st models.TriggerState
		var triggered, triggerNotified, fillNotified, errorNotified int
		var triggerPrice, initialPrice string
		var triggerTimeNano, lastCheckedNano int64
		if err := rows.Scan(&st.ConfigID, &triggered, &triggerPrice, &triggerTimeNano,
			&st.ActivatedOn, &st.OrderID, &triggerNotified, &fillNotified, &errorNotified,
			&st.LastError, &lastCheckedNano, &initialPrice); err != nil {
			return nil, fmt.Errorf("failed to scan trigger state: %w", err)
		}
		st.Triggered = triggered != 0
		st.TriggerNotified = triggerNotified != 0
		st.FillNotified = fillNotified != 0
		st.ErrorNotified = errorNotified != 0
		st.TriggerPrice = parseStoredAmount(triggerPrice)
		st.InitialPrice = parseStoredAmount(initialPrice)
		st.TriggerTime = nanoToTime(triggerTimeNano)
		st.LastChecked = nanoToTime(lastCheckedNano)
		states[st.ConfigID] = &st
	}
	return states, rows.Err()
}

// LoadQueue reads the persisted notification queue in append order, plus
// the unreachable-since timestamp (zero when the channel is healthy).
func (s *Store) LoadQueue() ([]models.QueueItem, time.Time, error) {
	rows, err := s.db.Query(`SELECT recipient, message, ts, reason FROM notification_queue ORDER BY seq`)
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("failed to query notification queue: %w", err)
	}
	defer rows.Close()

	var items []models.QueueItem
	for rows.Next() {
		var it models.QueueItem
		var tsNano int64
		if err := rows.Scan(&it.Recipient, &it.Message, &tsNano, &it.Reason); err != nil {
			return nil, time.Time{}, fmt.Errorf("failed to scan queue item: %w", err)
		}
		it.Timestamp = nanoToTime(tsNano)
		items = append(items, it)
	}
	if err := rows.Err(); err != nil {
		return nil, time.Time{}, err
	}

	var since time.Time
	var value string
	err = s.db.QueryRow(`SELECT value FROM notification_meta WHERE key='unreachable_since'`).Scan(&value)
	if err == nil && value != "" {
		if nano, perr := strconv.ParseInt(value, 10, 64); perr == nil {
			since = nanoToTime(nano)
		}
	} else if err != nil && err != sql.ErrNoRows {
		return nil, time.Time{}, fmt.Errorf("failed to read unreachable timestamp: %w", err)
	}
	return items, since, nil
}

// SaveQueue replaces the persisted queue and the unreachable-since
// timestamp in one transaction. Called after every queue mutation.
func (s *Store) SaveQueue(items []models.QueueItem, unreachableSince time.Time) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.Exec(`DELETE FROM notification_queue`); err != nil {
		return fmt.Errorf("failed to clear notification queue: %w", err)
	}
	for _, it := range items {
		if _, err := tx.Exec(`
			INSERT INTO notification_queue (recipient, message, ts, reason)
			VALUES (?,?,?,?)`,
			it.Recipient, it.Message, it.Timestamp.UnixNano(), it.Reason); err != nil {
			return fmt.Errorf("failed to insert queue item: %w", err)
		}
	}
	var value string
	if !unreachableSince.IsZero() {
		value = strconv.FormatInt(unreachableSince.UnixNano(), 10)
	}
	if _, err := tx.Exec(`
		INSERT OR REPLACE INTO notification_meta (key, value)
		VALUES ('unreachable_since', ?)`, value); err != nil {
		return fmt.Errorf("failed to save unreachable timestamp: %w", err)
	}
	return tx.Commit()
}

// Log appends one structured entry to the audit log. Failures are returned
// but callers treat them as advisory.
func (s *Store) Log(level, message string, fields map[string]string) error {
	encoded := "{}"
	if len(fields) > 0 {
		if raw, err := json.Marshal(fields); err == nil {
			encoded = string(raw)
		}
	}
	_, err := s.db.Exec(`INSERT INTO audit_log (ts, level, message, fields) VALUES (?,?,?,?)`,
		time.Now().UnixNano(), level, message, encoded)
	if err != nil {
		return fmt.Errorf("failed to append audit log: %w", err)
	}
	return nil
}

func parseStoredAmount(raw string) decimal.Decimal {
	if raw == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero
	}
	return d
}

func timeToNano(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func nanoToTime(nano int64) time.Time {
	if nano == 0 {
		return time.Time{}
	}
	return time.Unix(0, nano)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
