package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/quarterhill/stockledger/internal/core/domain"
	"github.com/quarterhill/stockledger/internal/port"
)

// MySQLAdapter is the authoritative store: append-only ledger entries,
// reservations, and the item/location catalog. A multi-entry append commits
// in one transaction, which is the visibility boundary for transfer pairs.
type MySQLAdapter struct {
	db *sql.DB
}

func NewMySQLAdapter(db *sql.DB) *MySQLAdapter {
	return &MySQLAdapter{db: db}
}

func (m *MySQLAdapter) AppendBatch(ctx context.Context, entries []domain.LedgerEntry) error {
	if len(entries) == 0 {
		return nil
	}

	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	for _, e := range entries {
		var cost any
		if e.CostPerBase != nil {
			cost = e.CostPerBase.String()
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO ledger_entries
				(id, item_id, location_id, event_type, qty_base, lot_id, serial_no, cost_per_base, source_doc, posted_by, posted_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			e.ID, e.ItemID, e.LocationID, string(e.EventType), e.QtyBase.String(),
			nullable(e.LotID), nullable(e.SerialNo), cost, nullable(e.SourceDoc), e.PostedBy, e.PostedAt,
		)
		if err != nil {
			return fmt.Errorf("insert entry %s: %w", e.ID, err)
		}
	}

	return tx.Commit()
}

func (m *MySQLAdapter) ReadEntries(ctx context.Context, f port.EntryFilter) ([]domain.LedgerEntry, error) {
	query := strings.Builder{}
	query.WriteString(`
		SELECT id, item_id, location_id, event_type, qty_base, lot_id, serial_no, cost_per_base, source_doc, posted_by, posted_at
		FROM ledger_entries WHERE 1=1`)
	var args []any

	add := func(clause string, v any) {
		query.WriteString(" AND " + clause)
		args = append(args, v)
	}
	if f.ItemID != "" {
		add("item_id = ?", f.ItemID)
	}
	if f.LocationID != "" {
		add("location_id = ?", f.LocationID)
	}
	if f.LotID != "" {
		add("lot_id = ?", f.LotID)
	}
	if f.SerialNo != "" {
		add("serial_no = ?", f.SerialNo)
	}
	if f.EventType != "" {
		add("event_type = ?", string(f.EventType))
	}
	if !f.From.IsZero() {
		add("posted_at >= ?", f.From)
	}
	if !f.To.IsZero() {
		add("posted_at < ?", f.To)
	}
	if !f.AsOf.IsZero() {
		add("posted_at <= ?", f.AsOf)
	}

	if f.Descending {
		query.WriteString(" ORDER BY posted_at DESC, id DESC")
	} else {
		query.WriteString(" ORDER BY posted_at ASC, id ASC")
	}
	if f.Limit > 0 {
		query.WriteString(" LIMIT ?")
		args = append(args, f.Limit)
	}

	rows, err := m.db.QueryContext(ctx, query.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("query entries: %w", err)
	}
	defer rows.Close()

	var entries []domain.LedgerEntry
	for rows.Next() {
		var (
			e                       domain.LedgerEntry
			qty                     string
			lot, serial, cost, sdoc sql.NullString
		)
		if err := rows.Scan(&e.ID, &e.ItemID, &e.LocationID, &e.EventType, &qty, &lot, &serial, &cost, &sdoc, &e.PostedBy, &e.PostedAt); err != nil {
			return nil, fmt.Errorf("scan entry: %w", err)
		}
		if e.QtyBase, err = decimal.NewFromString(qty); err != nil {
			return nil, fmt.Errorf("parse qty for entry %s: %w", e.ID, err)
		}
		e.LotID = lot.String
		e.SerialNo = serial.String
		e.SourceDoc = sdoc.String
		if cost.Valid {
			c, err := decimal.NewFromString(cost.String)
			if err != nil {
				return nil, fmt.Errorf("parse cost for entry %s: %w", e.ID, err)
			}
			e.CostPerBase = &c
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (m *MySQLAdapter) ActiveItemIDs(ctx context.Context, since time.Time) ([]string, error) {
	rows, err := m.db.QueryContext(ctx,
		`SELECT DISTINCT item_id FROM ledger_entries WHERE posted_at >= ?`, since)
	if err != nil {
		return nil, fmt.Errorf("query active items: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan item id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (m *MySQLAdapter) CreateReservation(ctx context.Context, r domain.Reservation) error {
	_, err := m.db.ExecContext(ctx, `
		INSERT INTO reservations
			(id, item_id, location_id, event_id, qty_base, start_ts, end_ts, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.ItemID, r.LocationID, nullable(r.EventID), r.QtyBase.String(),
		r.StartTs, r.EndTs, string(r.Status), r.CreatedAt, r.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert reservation: %w", err)
	}
	return nil
}

func (m *MySQLAdapter) GetReservation(ctx context.Context, id string) (*domain.Reservation, error) {
	row := m.db.QueryRowContext(ctx, `
		SELECT id, item_id, location_id, event_id, qty_base, start_ts, end_ts, status, created_at, updated_at
		FROM reservations WHERE id = ?`, id)

	r, err := scanReservation(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query reservation: %w", err)
	}
	return r, nil
}

func (m *MySQLAdapter) ListReservations(ctx context.Context, f port.ReservationFilter) ([]domain.Reservation, error) {
	query := strings.Builder{}
	query.WriteString(`
		SELECT id, item_id, location_id, event_id, qty_base, start_ts, end_ts, status, created_at, updated_at
		FROM reservations WHERE 1=1`)
	var args []any

	if f.ItemID != "" {
		query.WriteString(" AND item_id = ?")
		args = append(args, f.ItemID)
	}
	if f.LocationID != "" {
		query.WriteString(" AND location_id = ?")
		args = append(args, f.LocationID)
	}
	if f.EventID != "" {
		query.WriteString(" AND event_id = ?")
		args = append(args, f.EventID)
	}
	if f.Status != "" {
		query.WriteString(" AND status = ?")
		args = append(args, string(f.Status))
	}
	query.WriteString(" ORDER BY created_at DESC, id DESC")

	return m.queryReservations(ctx, query.String(), args...)
}

func (m *MySQLAdapter) OverlappingHeld(ctx context.Context, itemID, locationID string, from, to time.Time) ([]domain.Reservation, error) {
	query := `
		SELECT id, item_id, location_id, event_id, qty_base, start_ts, end_ts, status, created_at, updated_at
		FROM reservations
		WHERE item_id = ? AND status = ? AND start_ts < ? AND end_ts > ?`
	args := []any{itemID, string(domain.ReservationHeld), to, from}
	if locationID != "" {
		query += " AND location_id = ?"
		args = append(args, locationID)
	}
	return m.queryReservations(ctx, query, args...)
}

func (m *MySQLAdapter) UpdateReservationStatus(ctx context.Context, id string, from, to domain.ReservationStatus) (bool, error) {
	result, err := m.db.ExecContext(ctx, `
		UPDATE reservations SET status = ?, updated_at = NOW(6)
		WHERE id = ? AND status = ?`,
		string(to), id, string(from),
	)
	if err != nil {
		return false, fmt.Errorf("update reservation: %w", err)
	}
	rows, _ := result.RowsAffected()
	return rows > 0, nil
}

func (m *MySQLAdapter) GetItem(ctx context.Context, id string) (*domain.Item, error) {
	var (
		item       domain.Item
		schemaID   sql.NullString
		attributes sql.NullString
	)
	err := m.db.QueryRowContext(ctx, `
		SELECT id, sku, name, item_type, base_unit, schema_id, attributes, active, created_at, updated_at
		FROM items WHERE id = ?`, id,
	).Scan(&item.ID, &item.SKU, &item.Name, &item.Type, &item.BaseUnit, &schemaID, &attributes, &item.Active, &item.CreatedAt, &item.UpdatedAt)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query item: %w", err)
	}

	item.SchemaID = schemaID.String
	if attributes.Valid && attributes.String != "" {
		if err := json.Unmarshal([]byte(attributes.String), &item.Attributes); err != nil {
			return nil, fmt.Errorf("decode attributes for item %s: %w", id, err)
		}
	}

	rows, err := m.db.QueryContext(ctx, `SELECT unit, factor FROM item_units WHERE item_id = ?`, id)
	if err != nil {
		return nil, fmt.Errorf("query item units: %w", err)
	}
	defer rows.Close()

	item.Conversions = make(map[string]decimal.Decimal)
	for rows.Next() {
		var unit, factor string
		if err := rows.Scan(&unit, &factor); err != nil {
			return nil, fmt.Errorf("scan item unit: %w", err)
		}
		f, err := decimal.NewFromString(factor)
		if err != nil {
			return nil, fmt.Errorf("parse factor for unit %s: %w", unit, err)
		}
		item.Conversions[unit] = f
	}
	return &item, rows.Err()
}

func (m *MySQLAdapter) CreateItem(ctx context.Context, item domain.Item) error {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	attrs, err := encodeAttributes(item.Attributes)
	if err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO items (id, sku, name, item_type, base_unit, schema_id, attributes, active, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		item.ID, item.SKU, item.Name, string(item.Type), item.BaseUnit,
		nullable(item.SchemaID), attrs, item.Active, item.CreatedAt, item.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert item: %w", err)
	}

	if err := insertUnits(ctx, tx, item.ID, item.Conversions); err != nil {
		return err
	}
	return tx.Commit()
}

func (m *MySQLAdapter) UpdateItem(ctx context.Context, id string, patch port.ItemPatch) (*domain.Item, error) {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	sets := []string{"updated_at = NOW(6)"}
	var args []any
	if patch.Name != nil {
		sets = append(sets, "name = ?")
		args = append(args, *patch.Name)
	}
	if patch.Active != nil {
		sets = append(sets, "active = ?")
		args = append(args, *patch.Active)
	}
	if patch.SchemaID != nil {
		sets = append(sets, "schema_id = ?")
		args = append(args, nullable(*patch.SchemaID))
	}
	if patch.Attributes != nil {
		attrs, err := encodeAttributes(patch.Attributes)
		if err != nil {
			return nil, err
		}
		sets = append(sets, "attributes = ?")
		args = append(args, attrs)
	}
	args = append(args, id)

	result, err := tx.ExecContext(ctx, `UPDATE items SET `+strings.Join(sets, ", ")+` WHERE id = ?`, args...)
	if err != nil {
		return nil, fmt.Errorf("update item: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		var exists int
		if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM items WHERE id = ?`, id).Scan(&exists); err != nil {
			return nil, fmt.Errorf("check item: %w", err)
		}
		if exists == 0 {
			return nil, nil
		}
	}

	if patch.Conversions != nil {
		if _, err := tx.ExecContext(ctx, `DELETE FROM item_units WHERE item_id = ?`, id); err != nil {
			return nil, fmt.Errorf("clear item units: %w", err)
		}
		if err := insertUnits(ctx, tx, id, patch.Conversions); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return m.GetItem(ctx, id)
}

func (m *MySQLAdapter) GetLocation(ctx context.Context, id string) (*domain.Location, error) {
	var loc domain.Location
	err := m.db.QueryRowContext(ctx, `
		SELECT id, department_id, name FROM locations WHERE id = ?`, id,
	).Scan(&loc.ID, &loc.DepartmentID, &loc.Name)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query location: %w", err)
	}
	return &loc, nil
}

func (m *MySQLAdapter) CreateLocation(ctx context.Context, loc domain.Location) error {
	_, err := m.db.ExecContext(ctx, `
		INSERT INTO locations (id, department_id, name) VALUES (?, ?, ?)`,
		loc.ID, loc.DepartmentID, loc.Name,
	)
	if err != nil {
		return fmt.Errorf("insert location: %w", err)
	}
	return nil
}

func (m *MySQLAdapter) queryReservations(ctx context.Context, query string, args ...any) ([]domain.Reservation, error) {
	rows, err := m.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query reservations: %w", err)
	}
	defer rows.Close()

	var out []domain.Reservation
	for rows.Next() {
		r, err := scanReservation(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan reservation: %w", err)
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

func scanReservation(scan func(...any) error) (*domain.Reservation, error) {
	var (
		r       domain.Reservation
		eventID sql.NullString
		qty     string
	)
	if err := scan(&r.ID, &r.ItemID, &r.LocationID, &eventID, &qty, &r.StartTs, &r.EndTs, &r.Status, &r.CreatedAt, &r.UpdatedAt); err != nil {
		return nil, err
	}
	r.EventID = eventID.String

	q, err := decimal.NewFromString(qty)
	if err != nil {
		return nil, fmt.Errorf("parse qty: %w", err)
	}
	r.QtyBase = q
	return &r, nil
}

func insertUnits(ctx context.Context, tx *sql.Tx, itemID string, conversions map[string]decimal.Decimal) error {
	for unit, factor := range conversions {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO item_units (item_id, unit, factor) VALUES (?, ?, ?)`,
			itemID, unit, factor.String(),
		); err != nil {
			return fmt.Errorf("insert unit %s: %w", unit, err)
		}
	}
	return nil
}

func encodeAttributes(attrs map[string]any) (any, error) {
	if len(attrs) == 0 {
		return nil, nil
	}
	raw, err := json.Marshal(attrs)
	if err != nil {
		return nil, fmt.Errorf("encode attributes: %w", err)
	}
	return string(raw), nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
