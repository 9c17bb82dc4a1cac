package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // SQLite driver registration.

	"realty_tracker/internal/model"
	"realty_tracker/migrations"
)

// SQLite implements Storage backed by a SQLite database.
type SQLite struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at dsn and runs pending migrations.
func NewSQLite(dsn string) (*SQLite, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One connection serializes writers and keeps ":memory:" databases shared.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	if err := migrations.Run(context.Background(), db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLite{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLite) Close() error {
	return s.db.Close()
}

const entityColumns = `id, source_id, entity_id, price, currency, realty_type, area_size, yard_area_size,
	rooms, bedrooms, address, district, subdistrict, lng, lat, street_ref, subdistrict_ref,
	out_of_area, posted_at, scraped_at`

// UpsertEntity inserts an entity or replaces the stored version.
func (s *SQLite) UpsertEntity(ctx context.Context, e model.Entity) error {
	var lng, lat *float64
	if c := e.Location.Coordinates; c != nil {
		lng, lat = &c.Lng, &c.Lat
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO entities (`+entityColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   price = excluded.price, currency = excluded.currency, realty_type = excluded.realty_type,
		   area_size = excluded.area_size, yard_area_size = excluded.yard_area_size,
		   rooms = excluded.rooms, bedrooms = excluded.bedrooms, address = excluded.address,
		   district = excluded.district, subdistrict = excluded.subdistrict,
		   lng = excluded.lng, lat = excluded.lat, street_ref = excluded.street_ref,
		   subdistrict_ref = excluded.subdistrict_ref, out_of_area = excluded.out_of_area,
		   posted_at = excluded.posted_at, scraped_at = excluded.scraped_at`,
		e.ID, e.SourceID, e.EntityID, e.Price, string(e.Currency), string(e.RealtyType), e.AreaSize, e.YardAreaSize,
		e.Rooms, e.Bedrooms, e.Location.Address, e.Location.District, e.Location.Subdistrict, lng, lat,
		e.Location.StreetRef, e.Location.SubdistrictRef, boolToInt(e.OutOfArea),
		toMillis(e.PostedAt), toMillis(e.ScrapedAt),
	)
	if err != nil {
		return fmt.Errorf("upsert entity %s: %w", e.ID, err)
	}
	return nil
}

// DeleteEntity removes an entity by its global id.
func (s *SQLite) DeleteEntity(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM entities WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete entity %s: %w", id, err)
	}
	return nil
}

// DeleteAllEntities wipes the entity table.
func (s *SQLite) DeleteAllEntities(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM entities`); err != nil {
		return fmt.Errorf("wipe entities: %w", err)
	}
	return nil
}

// GetEntity returns a single entity by its global id.
func (s *SQLite) GetEntity(ctx context.Context, id string) (*model.Entity, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+entityColumns+` FROM entities WHERE id = ?`, id)
	e, err := scanEntity(row)
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// ListEntityRefs returns the source and entity id of every stored entity.
func (s *SQLite) ListEntityRefs(ctx context.Context) ([]model.EntityRef, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT source_id, entity_id FROM entities ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("query entity ids: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var refs []model.EntityRef
	for rows.Next() {
		var ref model.EntityRef
		if err := rows.Scan(&ref.SourceID, &ref.EntityID); err != nil {
			return nil, fmt.Errorf("scan entity id: %w", err)
		}
		refs = append(refs, ref)
	}
	return refs, rows.Err()
}

// ListEntitiesScrapedSince returns entities with a scrape time at or after ts.
func (s *SQLite) ListEntitiesScrapedSince(ctx context.Context, ts time.Time) ([]model.Entity, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+entityColumns+` FROM entities WHERE scraped_at >= ? ORDER BY scraped_at, id`,
		toMillis(ts),
	)
	if err != nil {
		return nil, fmt.Errorf("query entities: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var entities []model.Entity
	for rows.Next() {
		e, err := scanEntity(rows)
		if err != nil {
			return nil, err
		}
		entities = append(entities, e)
	}
	return entities, rows.Err()
}

// DeleteEntitiesPostedBefore removes entities posted at or before ts and
// returns how many were removed.
func (s *SQLite) DeleteEntitiesPostedBefore(ctx context.Context, ts time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM entities WHERE posted_at <= ?`, toMillis(ts))
	if err != nil {
		return 0, fmt.Errorf("delete old entities: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return n, nil
}

const requestColumns = `id, enabled, filter, notifiers, notified_at, created_at`

// ListRequests returns every tracker request, enabled or not.
func (s *SQLite) ListRequests(ctx context.Context) ([]model.TrackerRequest, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+requestColumns+` FROM tracker_requests ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("query requests: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var requests []model.TrackerRequest
	for rows.Next() {
		r, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		requests = append(requests, r)
	}
	return requests, rows.Err()
}

// GetRequest returns a single tracker request.
func (s *SQLite) GetRequest(ctx context.Context, id string) (*model.TrackerRequest, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+requestColumns+` FROM tracker_requests WHERE id = ?`, id)
	r, err := scanRequest(row)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// UpsertRequest inserts a request or replaces its filters, notifiers,
// enabled flag and watermark. CreatedAt is populated on insert.
func (s *SQLite) UpsertRequest(ctx context.Context, r *model.TrackerRequest) error {
	filter, err := json.Marshal(r.Filter)
	if err != nil {
		return fmt.Errorf("encode filter: %w", err)
	}
	notifiers, err := json.Marshal(r.Notifiers)
	if err != nil {
		return fmt.Errorf("encode notifiers: %w", err)
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO tracker_requests (`+requestColumns+`) VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   enabled = excluded.enabled, filter = excluded.filter,
		   notifiers = excluded.notifiers, notified_at = excluded.notified_at`,
		r.ID, boolToInt(r.Enabled), string(filter), string(notifiers), toMillis(r.NotifiedAt), toMillis(r.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("upsert request %s: %w", r.ID, err)
	}
	return nil
}

// SetRequestEnabled toggles a request.
func (s *SQLite) SetRequestEnabled(ctx context.Context, id string, enabled bool) error {
	res, err := s.db.ExecContext(ctx, `UPDATE tracker_requests SET enabled = ? WHERE id = ?`, boolToInt(enabled), id)
	if err != nil {
		return fmt.Errorf("set request %s enabled: %w", id, err)
	}
	return expectRow(res, id)
}

// AdvanceWatermark moves the notified timestamp forward. It never moves it
// backwards.
func (s *SQLite) AdvanceWatermark(ctx context.Context, id string, ts time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE tracker_requests SET notified_at = MAX(notified_at, ?) WHERE id = ?`,
		toMillis(ts), id,
	)
	if err != nil {
		return fmt.Errorf("advance watermark %s: %w", id, err)
	}
	return expectRow(res, id)
}

// AppendMatchIDs records matched entity ids, ignoring ones already recorded.
func (s *SQLite) AppendMatchIDs(ctx context.Context, requestID string, entityIDs []string) error {
	if len(entityIDs) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := toMillis(time.Now())
	for i, id := range entityIDs {
		// Preserve the input order within one append.
		if _, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO request_matches (request_id, entity_id, matched_at) VALUES (?, ?, ?)`,
			requestID, id, now+int64(i),
		); err != nil {
			return fmt.Errorf("insert match %s: %w", id, err)
		}
	}
	return tx.Commit()
}

// ListMatchIDs returns the match history of a request, oldest first.
func (s *SQLite) ListMatchIDs(ctx context.Context, requestID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT entity_id FROM request_matches WHERE request_id = ? ORDER BY matched_at, entity_id`, requestID,
	)
	if err != nil {
		return nil, fmt.Errorf("query matches: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan match: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// LinkChat binds a request to a chat. Each chat owns at most one request.
func (s *SQLite) LinkChat(ctx context.Context, requestID, chatID string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO request_links (request_id, chat_id) VALUES (?, ?)
		 ON CONFLICT(request_id) DO UPDATE SET chat_id = excluded.chat_id`,
		requestID, chatID,
	)
	if err != nil {
		return fmt.Errorf("link chat %s: %w", chatID, err)
	}
	return nil
}

// GetRequestByChat returns the request linked to a chat.
func (s *SQLite) GetRequestByChat(ctx context.Context, chatID string) (*model.TrackerRequest, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT r.id, r.enabled, r.filter, r.notifiers, r.notified_at, r.created_at
		 FROM tracker_requests r JOIN request_links l ON l.request_id = r.id
		 WHERE l.chat_id = ?`, chatID,
	)
	r, err := scanRequest(row)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func toMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}

func expectRow(res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("request %s: %w", id, ErrNotFound)
	}
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanEntity(row scannable) (model.Entity, error) {
	var (
		e                     model.Entity
		currency, realtyType  string
		yard, lng, lat        sql.NullFloat64
		district, subdistrict sql.NullString
		outOfArea             int
		postedAt, scrapedAt   int64
	)
	err := row.Scan(&e.ID, &e.SourceID, &e.EntityID, &e.Price, &currency, &realtyType, &e.AreaSize, &yard,
		&e.Rooms, &e.Bedrooms, &e.Location.Address, &district, &subdistrict, &lng, &lat,
		&e.Location.StreetRef, &e.Location.SubdistrictRef, &outOfArea, &postedAt, &scrapedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return e, ErrNotFound
	}
	if err != nil {
		return e, fmt.Errorf("scan entity: %w", err)
	}
	e.Currency = model.Currency(currency)
	e.RealtyType = model.RealtyType(realtyType)
	if yard.Valid {
		v := yard.Float64
		e.YardAreaSize = &v
	}
	if district.Valid {
		v := district.String
		e.Location.District = &v
	}
	if subdistrict.Valid {
		v := subdistrict.String
		e.Location.Subdistrict = &v
	}
	if lng.Valid && lat.Valid {
		e.Location.Coordinates = &model.Point{Lng: lng.Float64, Lat: lat.Float64}
	}
	e.OutOfArea = outOfArea == 1
	e.PostedAt = fromMillis(postedAt)
	e.ScrapedAt = fromMillis(scrapedAt)
	return e, nil
}

func scanRequest(row scannable) (model.TrackerRequest, error) {
	var (
		r                   model.TrackerRequest
		enabled             int
		filter, notifiers   string
		notifiedAt, created int64
	)
	err := row.Scan(&r.ID, &enabled, &filter, &notifiers, &notifiedAt, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return r, ErrNotFound
	}
	if err != nil {
		return r, fmt.Errorf("scan request: %w", err)
	}
	if err := json.Unmarshal([]byte(filter), &r.Filter); err != nil {
		return r, fmt.Errorf("decode filter of %s: %w", r.ID, err)
	}
	if err := json.Unmarshal([]byte(notifiers), &r.Notifiers); err != nil {
		return r, fmt.Errorf("decode notifiers of %s: %w", r.ID, err)
	}
	r.Enabled = enabled == 1
	r.NotifiedAt = fromMillis(notifiedAt)
	r.CreatedAt = fromMillis(created)
	return r, nil
}
