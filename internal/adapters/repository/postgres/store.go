package postgres

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/okian/tradevalue/internal/adapters/repository"
	"github.com/okian/tradevalue/internal/domain/model"
	"github.com/okian/tradevalue/pkg/metrics"
)

const uniqueViolation = "23505"

// Store implements repository.Store on PostgreSQL.
type Store struct {
	db       *sqlx.DB
	timeout  time.Duration
	maxLimit int
}

// Option configures a Store.
type Option func(*Store)

// WithTimeout bounds every statement.
func WithTimeout(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// WithMaxLimit bounds history reads.
func WithMaxLimit(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.maxLimit = n
		}
	}
}

// NewStore wraps an open connection pool.
func NewStore(db *sqlx.DB, opts ...Option) *Store {
	s := &Store{db: db, timeout: DefaultConfig().QueryTimeout, maxLimit: 1000}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

var (
	_ repository.Store         = (*Store)(nil)
	_ repository.SegmentLocker = (*Store)(nil)
)

type predictionRow struct {
	OfferID     string       `db:"offer_id"`
	Segment     string       `db:"segment"`
	Mode        string       `db:"mode"`
	Probability float64      `db:"probability"`
	Source      string       `db:"source"`
	Features    []byte       `db:"features"`
	Tags        []byte       `db:"tags"`
	CreatedAt   time.Time    `db:"created_at"`
	Accepted    sql.NullBool `db:"accepted"`
	ObservedAt  sql.NullTime `db:"observed_at"`
}

const predictionColumns = `offer_id, segment, mode, probability, source, features, tags, created_at, accepted, observed_at`

func (r predictionRow) record() (model.PredictionRecord, error) {
	out := model.PredictionRecord{
		OfferID:     r.OfferID,
		Segment:     r.Segment,
		Mode:        r.Mode,
		Probability: r.Probability,
		Source:      r.Source,
		CreatedAt:   r.CreatedAt.UTC(),
	}
	if err := json.Unmarshal(r.Features, &out.Features); err != nil {
		return out, fmt.Errorf("unmarshal features of %s: %w", r.OfferID, err)
	}
	if len(r.Tags) > 0 {
		if err := json.Unmarshal(r.Tags, &out.Tags); err != nil {
			return out, fmt.Errorf("unmarshal tags of %s: %w", r.OfferID, err)
		}
		if len(out.Tags) == 0 {
			out.Tags = nil
		}
	}
	if r.ObservedAt.Valid {
		out.Outcome = &model.Outcome{
			TradeOfferID: r.OfferID,
			Accepted:     r.Accepted.Valid && r.Accepted.Bool,
			ObservedAt:   r.ObservedAt.Time.UTC(),
		}
	}
	return out, nil
}

type weightsRow struct {
	SchemaVersion  int       `db:"schema_version"`
	Segment        string    `db:"segment"`
	B0             float64   `db:"b0"`
	Weights        []byte    `db:"weights"`
	UpdatedAt      time.Time `db:"updated_at"`
	SampleSize     int       `db:"sample_size"`
	TrainedThrough time.Time `db:"trained_through"`
}

const weightsColumns = `schema_version, segment, b0, weights, updated_at, sample_size, trained_through`

func (r weightsRow) weights() (model.SegmentWeights, error) {
	w := model.SegmentWeights{
		SchemaVersion:  r.SchemaVersion,
		Segment:        r.Segment,
		B0:             r.B0,
		UpdatedAt:      r.UpdatedAt.UTC(),
		SampleSize:     r.SampleSize,
		TrainedThrough: r.TrainedThrough.UTC(),
	}
	if err := json.Unmarshal(r.Weights, &w.Weights); err != nil {
		return w, fmt.Errorf("unmarshal weights of %s: %w", r.Segment, err)
	}
	return w, nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && string(pqErr.Code) == uniqueViolation
}

func (s *Store) ctx(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, s.timeout)
}

func since(start time.Time) float64 {
	return float64(time.Since(start).Microseconds()) / 1000
}

// SavePrediction implements repository.Store.
func (s *Store) SavePrediction(ctx context.Context, r model.PredictionRecord) error {
	if r.OfferID == "" {
		return fmt.Errorf("%w: missing offer id", repository.ErrInvalidRecord)
	}
	ctx, cancel := s.ctx(ctx)
	defer cancel()
	start := time.Now()
	defer func() { metrics.RecordRepositoryUpdateLatency(since(start)) }()

	features, err := json.Marshal(r.Features)
	if err != nil {
		return fmt.Errorf("marshal features: %w", err)
	}
	tags := r.Tags
	if tags == nil {
		tags = map[string]string{}
	}
	tagsJSON, err := json.Marshal(tags)
	if err != nil {
		return fmt.Errorf("marshal tags: %w", err)
	}

	query := `
		INSERT INTO predictions (` + predictionColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NULL, NULL)`
	_, err = s.db.ExecContext(ctx, query,
		r.OfferID, r.Segment, r.Mode, r.Probability, r.Source, features, tagsJSON, r.CreatedAt.UTC())
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: prediction %s", repository.ErrDuplicate, r.OfferID)
		}
		return fmt.Errorf("insert prediction: %w", err)
	}
	return nil
}

// RecordOutcome implements repository.Store. The update only matches an
// unresolved row, which makes the first outcome final.
func (s *Store) RecordOutcome(ctx context.Context, o model.Outcome) error {
	ctx, cancel := s.ctx(ctx)
	defer cancel()
	start := time.Now()
	defer func() { metrics.RecordRepositoryUpdateLatency(since(start)) }()

	res, err := s.db.ExecContext(ctx, `
		UPDATE predictions SET accepted = $2, observed_at = $3
		WHERE offer_id = $1 AND observed_at IS NULL`,
		o.TradeOfferID, o.Accepted, o.ObservedAt.UTC())
	if err != nil {
		return fmt.Errorf("record outcome: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("record outcome: %w", err)
	}
	if n == 1 {
		return nil
	}

	var exists bool
	if err := s.db.QueryRowxContext(ctx, `SELECT EXISTS(SELECT 1 FROM predictions WHERE offer_id = $1)`, o.TradeOfferID).Scan(&exists); err != nil {
		return fmt.Errorf("check prediction: %w", err)
	}
	if !exists {
		return fmt.Errorf("%w: prediction %s", repository.ErrNotFound, o.TradeOfferID)
	}
	return fmt.Errorf("%w: outcome for %s", repository.ErrDuplicate, o.TradeOfferID)
}

// Prediction implements repository.Store.
func (s *Store) Prediction(ctx context.Context, offerID string) (model.PredictionRecord, error) {
	ctx, cancel := s.ctx(ctx)
	defer cancel()
	start := time.Now()
	defer func() { metrics.RecordRepositoryQueryLatency(since(start)) }()

	var row predictionRow
	err := s.db.QueryRowxContext(ctx, `SELECT `+predictionColumns+` FROM predictions WHERE offer_id = $1`, offerID).StructScan(&row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.PredictionRecord{}, fmt.Errorf("%w: prediction %s", repository.ErrNotFound, offerID)
		}
		return model.PredictionRecord{}, fmt.Errorf("get prediction: %w", err)
	}
	return row.record()
}

// Predictions implements repository.Store.
func (s *Store) Predictions(ctx context.Context, q repository.PredictionQuery) ([]model.PredictionRecord, error) {
	if q.Limit < 0 {
		return nil, repository.ErrInvalidLimit
	}
	ctx, cancel := s.ctx(ctx)
	defer cancel()
	start := time.Now()
	defer func() { metrics.RecordRepositoryQueryLatency(since(start)) }()

	var where []string
	var args []any
	add := func(cond string, arg any) {
		args = append(args, arg)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}
	if q.Segment != "" {
		add("segment = $%d", q.Segment)
	}
	if !q.Since.IsZero() {
		add("created_at >= $%d", q.Since.UTC())
	}
	if !q.Until.IsZero() {
		add("created_at <= $%d", q.Until.UTC())
	}
	if q.ResolvedOnly {
		where = append(where, "observed_at IS NOT NULL")
	}

	query := `SELECT ` + predictionColumns + ` FROM predictions`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	if q.Limit > 0 {
		args = append(args, q.Limit)
		query = fmt.Sprintf(`SELECT * FROM (%s ORDER BY created_at DESC, offer_id DESC LIMIT $%d) latest`, query, len(args))
	}
	query += ` ORDER BY created_at ASC, offer_id ASC`

	return s.selectPredictions(ctx, query, args...)
}

// OutcomesForSegment implements repository.Store.
func (s *Store) OutcomesForSegment(ctx context.Context, segment string, from time.Time) ([]model.PredictionRecord, error) {
	ctx, cancel := s.ctx(ctx)
	defer cancel()
	start := time.Now()
	defer func() { metrics.RecordRepositoryQueryLatency(since(start)) }()

	query := `
		SELECT ` + predictionColumns + ` FROM predictions
		WHERE segment = $1 AND observed_at IS NOT NULL AND observed_at >= $2
		ORDER BY observed_at ASC, offer_id ASC`
	return s.selectPredictions(ctx, query, segment, from.UTC())
}

func (s *Store) selectPredictions(ctx context.Context, query string, args ...any) ([]model.PredictionRecord, error) {
	var rows []predictionRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("select predictions: %w", err)
	}
	out := make([]model.PredictionRecord, 0, len(rows))
	for _, row := range rows {
		r, err := row.record()
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

// ActiveWeights implements repository.Store.
func (s *Store) ActiveWeights(ctx context.Context, segment string) (model.SegmentWeights, bool, error) {
	ctx, cancel := s.ctx(ctx)
	defer cancel()

	var row weightsRow
	err := s.db.QueryRowxContext(ctx, `SELECT `+weightsColumns+` FROM segment_weights WHERE segment = $1`, segment).StructScan(&row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.SegmentWeights{}, false, nil
		}
		return model.SegmentWeights{}, false, fmt.Errorf("get active weights: %w", err)
	}
	w, err := row.weights()
	if err != nil {
		return model.SegmentWeights{}, false, err
	}
	return w, true, nil
}

// PutWeights implements repository.Store. History and the active row are
// written in one transaction.
func (s *Store) PutWeights(ctx context.Context, w model.SegmentWeights) (err error) {
	if w.Segment == "" || !w.Valid() {
		return fmt.Errorf("%w: weights for %q", repository.ErrInvalidRecord, w.Segment)
	}
	ctx, cancel := s.ctx(ctx)
	defer cancel()
	start := time.Now()
	defer func() { metrics.RecordRepositoryUpdateLatency(since(start)) }()

	weightsJSON, err := json.Marshal(w.Weights)
	if err != nil {
		return fmt.Errorf("marshal weights: %w", err)
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	args := []any{w.SchemaVersion, w.Segment, w.B0, weightsJSON, w.UpdatedAt.UTC(), w.SampleSize, w.TrainedThrough.UTC()}
	if _, err = tx.ExecContext(ctx, `
		INSERT INTO segment_weights_history (`+weightsColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`, args...); err != nil {
		return fmt.Errorf("append weights history: %w", err)
	}
	if _, err = tx.ExecContext(ctx, `
		INSERT INTO segment_weights (`+weightsColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (segment) DO UPDATE SET
			schema_version = EXCLUDED.schema_version,
			b0 = EXCLUDED.b0,
			weights = EXCLUDED.weights,
			updated_at = EXCLUDED.updated_at,
			sample_size = EXCLUDED.sample_size,
			trained_through = EXCLUDED.trained_through`, args...); err != nil {
		return fmt.Errorf("swap active weights: %w", err)
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit weights: %w", err)
	}
	return nil
}

// WeightsHistory implements repository.Store.
func (s *Store) WeightsHistory(ctx context.Context, segment string, limit int) ([]model.SegmentWeights, error) {
	if err := s.checkLimit(limit); err != nil {
		return nil, err
	}
	ctx, cancel := s.ctx(ctx)
	defer cancel()

	var rows []weightsRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT `+weightsColumns+` FROM segment_weights_history
		WHERE segment = $1 ORDER BY id DESC LIMIT $2`, segment, limit)
	if err != nil {
		return nil, fmt.Errorf("select weights history: %w", err)
	}
	out := make([]model.SegmentWeights, 0, len(rows))
	for _, row := range rows {
		w, err := row.weights()
		if err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	return out, nil
}

// AppendDriftReport implements repository.Store.
func (s *Store) AppendDriftReport(ctx context.Context, r model.DriftReport) error {
	if r.ID == "" {
		return fmt.Errorf("%w: drift report without id", repository.ErrInvalidRecord)
	}
	ctx, cancel := s.ctx(ctx)
	defer cancel()
	start := time.Now()
	defer func() { metrics.RecordRepositoryUpdateLatency(since(start)) }()

	body, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("marshal drift report: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO drift_reports (id, segment, ts, overall_severity, report)
		VALUES ($1, $2, $3, $4, $5)`,
		r.ID, r.Segment, r.Timestamp.UTC(), string(r.OverallSeverity), body)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: drift report %s", repository.ErrDuplicate, r.ID)
		}
		return fmt.Errorf("insert drift report: %w", err)
	}
	return nil
}

// DriftHistory implements repository.Store.
func (s *Store) DriftHistory(ctx context.Context, segment string, limit int) ([]model.DriftReport, error) {
	if err := s.checkLimit(limit); err != nil {
		return nil, err
	}
	ctx, cancel := s.ctx(ctx)
	defer cancel()
	start := time.Now()
	defer func() { metrics.RecordRepositoryQueryLatency(since(start)) }()

	var bodies [][]byte
	err := s.db.SelectContext(ctx, &bodies, `
		SELECT report FROM drift_reports
		WHERE segment = $1 ORDER BY ts DESC, seq DESC LIMIT $2`, segment, limit)
	if err != nil {
		return nil, fmt.Errorf("select drift history: %w", err)
	}
	out := make([]model.DriftReport, 0, len(bodies))
	for _, b := range bodies {
		var r model.DriftReport
		if err := json.Unmarshal(b, &r); err != nil {
			return nil, fmt.Errorf("unmarshal drift report: %w", err)
		}
		out = append(out, r)
	}
	return out, nil
}

// Segments implements repository.Store.
func (s *Store) Segments(ctx context.Context) ([]string, error) {
	ctx, cancel := s.ctx(ctx)
	defer cancel()

	var out []string
	err := s.db.SelectContext(ctx, &out, `
		SELECT segment FROM predictions WHERE segment <> ''
		UNION
		SELECT segment FROM segment_weights
		ORDER BY 1`)
	if err != nil {
		return nil, fmt.Errorf("select segments: %w", err)
	}
	return out, nil
}

// Stats implements repository.Store.
func (s *Store) Stats(ctx context.Context) (repository.Stats, error) {
	ctx, cancel := s.ctx(ctx)
	defer cancel()

	var st repository.Stats
	err := s.db.QueryRowxContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM predictions),
			(SELECT COUNT(*) FROM predictions WHERE observed_at IS NOT NULL),
			(SELECT COUNT(*) FROM (SELECT segment FROM predictions WHERE segment <> '' UNION SELECT segment FROM segment_weights) s),
			(SELECT COUNT(*) FROM segment_weights_history),
			(SELECT COUNT(*) FROM drift_reports)`).
		Scan(&st.Predictions, &st.Resolved, &st.Segments, &st.WeightRows, &st.DriftReports)
	if err != nil {
		return st, fmt.Errorf("collect stats: %w", err)
	}
	metrics.UpdateStoredPredictions(st.Predictions)
	return st, nil
}

// Ping reports whether the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	ctx, cancel := s.ctx(ctx)
	defer cancel()
	return s.db.PingContext(ctx)
}

// LockSegment takes a session advisory lock keyed by the segment name on a
// dedicated connection. Waiting is bounded by ctx only.
func (s *Store) LockSegment(ctx context.Context, segment string) (func(), error) {
	conn, err := s.db.Connx(ctx)
	if err != nil {
		return nil, fmt.Errorf("lock segment %s: %w", segment, err)
	}
	if _, err := conn.ExecContext(ctx, `SELECT pg_advisory_lock(hashtext($1))`, segment); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("lock segment %s: %w", segment, err)
	}
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
		defer cancel()
		if _, err := conn.ExecContext(ctx, `SELECT pg_advisory_unlock(hashtext($1))`, segment); err != nil {
			metrics.RecordErrorByComponent("postgres", "advisory_unlock")
			// Discard the session instead of pooling it; that drops the lock.
			_ = conn.Raw(func(any) error { return driver.ErrBadConn })
		}
		_ = conn.Close()
	}, nil
}

func (s *Store) checkLimit(limit int) error {
	if limit <= 0 || limit > s.maxLimit {
		return fmt.Errorf("%w: %d (max %d)", repository.ErrInvalidLimit, limit, s.maxLimit)
	}
	return nil
}
