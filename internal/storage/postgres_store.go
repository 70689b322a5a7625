package storage

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/lib/pq"

	"github.com/alexitico1989/gruapp-sub003/internal/models"
)

// PostgresStore implements RequestStore and NotificationStore on top of
// Postgres. The accept/complete/cancel races are settled by conditional
// UPDATEs: the WHERE clause re-checks the source status so only one writer's
// row count comes back as 1.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	// quick ping
	if err := db.Ping(); err != nil {
		return nil, err
	}
	return &PostgresStore{db: db}, nil
}

const requestColumns = `id, client_id, operator_id, origin_lat, origin_lon, origin_address,
	dest_lat, dest_lon, dest_address, distance_km, duration_min, polyline,
	client_amount, operator_amount, status, version, paid, prepaid,
	rating_stars, rating_comment, rated_at, offered_to,
	cancelled_by, cancel_reason, created_at, completed_at`

func (p *PostgresStore) CreateRequest(ctx context.Context, r *models.ServiceRequest) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO service_requests(
			id, client_id, origin_lat, origin_lon, origin_address,
			dest_lat, dest_lon, dest_address, distance_km, duration_min, polyline,
			client_amount, operator_amount, status, version, paid, prepaid,
			offered_to, created_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19)`,
		r.ID, r.ClientID, r.Origin.Coord.Lat, r.Origin.Coord.Lon, r.Origin.Address,
		r.Destination.Coord.Lat, r.Destination.Coord.Lon, r.Destination.Address,
		r.Quote.DistanceKm, r.Quote.DurationMin, r.Quote.Polyline,
		r.Quote.ClientAmount, r.Quote.OperatorAmount, r.Status.String(), r.Version,
		r.Paid, r.Prepaid, pq.Array(r.OfferedTo), r.CreatedAt)
	return err
}

func (p *PostgresStore) GetRequest(ctx context.Context, id string) (*models.ServiceRequest, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+requestColumns+` FROM service_requests WHERE id=$1`, id)
	return scanRequest(row)
}

func (p *PostgresStore) ListPendingFor(ctx context.Context, operatorID string) ([]*models.ServiceRequest, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+requestColumns+` FROM service_requests
		WHERE status='PENDING' AND $1 = ANY(offered_to)
		ORDER BY created_at DESC`, operatorID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*models.ServiceRequest
	for rows.Next() {
		r, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (p *PostgresStore) AssignOperator(ctx context.Context, id, operatorID string) (*models.ServiceRequest, error) {
	res, err := p.db.ExecContext(ctx, `
		UPDATE service_requests
		SET operator_id=$2, status='ACCEPTED', version=version+1
		WHERE id=$1 AND status='PENDING' AND $2 = ANY(offered_to)`, id, operatorID)
	if err != nil {
		return nil, err
	}
	if n, _ := res.RowsAffected(); n == 1 {
		return p.GetRequest(ctx, id)
	}
	// lost the race or never a candidate; read the row to classify
	r, err := p.GetRequest(ctx, id)
	if err != nil {
		return nil, err
	}
	if !contains(r.OfferedTo, operatorID) {
		return nil, models.ErrNotFound
	}
	if r.Status.Assigned() {
		return nil, models.ErrAlreadyAssigned
	}
	return nil, &models.InvalidTransitionError{RequestID: id, From: r.Status, Attempted: models.StatusAccepted}
}

func (p *PostgresStore) AdvanceStatus(ctx context.Context, id, operatorID string, from, to models.Status) (*models.ServiceRequest, error) {
	if !from.CanTransitionTo(to) {
		return nil, &models.InvalidTransitionError{RequestID: id, From: from, Attempted: to}
	}
	res, err := p.db.ExecContext(ctx, `
		UPDATE service_requests SET status=$3, version=version+1
		WHERE id=$1 AND operator_id=$2 AND status=$4`, id, operatorID, to.String(), from.String())
	if err != nil {
		return nil, err
	}
	if n, _ := res.RowsAffected(); n == 1 {
		return p.GetRequest(ctx, id)
	}
	r, err := p.GetRequest(ctx, id)
	if err != nil {
		return nil, err
	}
	if r.OperatorID != operatorID {
		return nil, models.ErrNotFound
	}
	return nil, &models.InvalidTransitionError{RequestID: id, From: r.Status, Attempted: to}
}

func (p *PostgresStore) CompleteRequest(ctx context.Context, id, actorID string, at time.Time) (*models.ServiceRequest, bool, error) {
	r, err := p.GetRequest(ctx, id)
	if err != nil {
		return nil, false, err
	}
	if !r.IsParty(actorID) {
		return nil, false, models.ErrNotFound
	}
	res, err := p.db.ExecContext(ctx, `
		UPDATE service_requests SET status='COMPLETED', completed_at=$2, version=version+1
		WHERE id=$1 AND status='ON_SITE'`, id, at)
	if err != nil {
		return nil, false, err
	}
	if n, _ := res.RowsAffected(); n == 1 {
		r, err := p.GetRequest(ctx, id)
		return r, false, err
	}
	r, err = p.GetRequest(ctx, id)
	if err != nil {
		return nil, false, err
	}
	if r.Status == models.StatusCompleted {
		return r, true, nil
	}
	return nil, false, &models.InvalidTransitionError{RequestID: id, From: r.Status, Attempted: models.StatusCompleted}
}

func (p *PostgresStore) CancelRequest(ctx context.Context, id, actorID, reason string) (*models.ServiceRequest, string, error) {
	r, err := p.GetRequest(ctx, id)
	if err != nil {
		return nil, "", err
	}
	if !r.IsParty(actorID) {
		return nil, "", models.ErrNotFound
	}
	// the assignment never changes once made, so the pre-read operator id
	// is stable; clearing it is part of the cancel commit
	operatorID := r.OperatorID
	res, err := p.db.ExecContext(ctx, `
		UPDATE service_requests
		SET status='CANCELLED', operator_id=NULL, cancelled_by=$2, cancel_reason=$3, version=version+1
		WHERE id=$1 AND status NOT IN ('COMPLETED','CANCELLED')`, id, actorID, reason)
	if err != nil {
		return nil, "", err
	}
	if n, _ := res.RowsAffected(); n == 1 {
		r, err := p.GetRequest(ctx, id)
		return r, operatorID, err
	}
	r, err = p.GetRequest(ctx, id)
	if err != nil {
		return nil, "", err
	}
	return nil, "", &models.InvalidTransitionError{RequestID: id, From: r.Status, Attempted: models.StatusCancelled}
}

func (p *PostgresStore) AttachRating(ctx context.Context, id, clientID string, rec models.RatingRecord) (*models.ServiceRequest, error) {
	res, err := p.db.ExecContext(ctx, `
		UPDATE service_requests SET rating_stars=$3, rating_comment=$4, rated_at=$5
		WHERE id=$1 AND client_id=$2 AND status IN ('COMPLETED','CANCELLED') AND rating_stars IS NULL`,
		id, clientID, rec.Stars, rec.Comment, rec.CreatedAt)
	if err != nil {
		return nil, err
	}
	if n, _ := res.RowsAffected(); n == 1 {
		return p.GetRequest(ctx, id)
	}
	r, err := p.GetRequest(ctx, id)
	if err != nil {
		return nil, err
	}
	if r.ClientID != clientID {
		return nil, models.ErrNotFound
	}
	if r.Rating != nil {
		return nil, models.ErrAlreadyRated
	}
	return nil, models.ErrNotRatable
}

func (p *PostgresStore) MarkPaid(ctx context.Context, id string) (*models.ServiceRequest, error) {
	res, err := p.db.ExecContext(ctx, `
		UPDATE service_requests SET paid=TRUE WHERE id=$1 AND status='COMPLETED'`, id)
	if err != nil {
		return nil, err
	}
	if n, _ := res.RowsAffected(); n == 1 {
		return p.GetRequest(ctx, id)
	}
	if _, err := p.GetRequest(ctx, id); err != nil {
		return nil, err
	}
	return nil, models.ErrNotCompleted
}

func (p *PostgresStore) CreateNotification(ctx context.Context, n *models.Notification) error {
	if n.ID == "" {
		n.ID = NewID()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now()
	}
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO notifications(id, user_id, role, title, body, request_id, read, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		n.ID, n.UserID, n.Role, n.Title, n.Body, n.RequestID, n.Read, n.CreatedAt)
	return err
}

func (p *PostgresStore) ListRecent(ctx context.Context, userID, role string, limit int) ([]models.Notification, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, user_id, role, title, body, COALESCE(request_id,''), read, created_at
		FROM notifications WHERE user_id=$1 AND role=$2
		ORDER BY created_at DESC LIMIT $3`, userID, role, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.Notification
	for rows.Next() {
		var n models.Notification
		if err := rows.Scan(&n.ID, &n.UserID, &n.Role, &n.Title, &n.Body, &n.RequestID, &n.Read, &n.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

func (p *PostgresStore) UnreadCount(ctx context.Context, userID, role string) (int, error) {
	var count int
	err := p.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM notifications WHERE user_id=$1 AND role=$2 AND read=FALSE`,
		userID, role).Scan(&count)
	return count, err
}

func (p *PostgresStore) MarkRead(ctx context.Context, userID, role, id string) error {
	res, err := p.db.ExecContext(ctx, `
		UPDATE notifications SET read=TRUE WHERE id=$1 AND user_id=$2 AND role=$3`, id, userID, role)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return models.ErrNotFound
	}
	return nil
}

func (p *PostgresStore) MarkAllRead(ctx context.Context, userID, role string) error {
	_, err := p.db.ExecContext(ctx, `
		UPDATE notifications SET read=TRUE WHERE user_id=$1 AND role=$2 AND read=FALSE`, userID, role)
	return err
}

func (p *PostgresStore) DeleteNotification(ctx context.Context, userID, role, id string) error {
	res, err := p.db.ExecContext(ctx, `
		DELETE FROM notifications WHERE id=$1 AND user_id=$2 AND role=$3`, id, userID, role)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return models.ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRequest(row rowScanner) (*models.ServiceRequest, error) {
	var (
		r            models.ServiceRequest
		operatorID   sql.NullString
		polyline     sql.NullString
		ratingStars  sql.NullInt64
		ratingText   sql.NullString
		ratedAt      sql.NullTime
		cancelledBy  sql.NullString
		cancelReason sql.NullString
		completedAt  sql.NullTime
		status       string
		offered      pq.StringArray
	)
	err := row.Scan(
		&r.ID, &r.ClientID, &operatorID,
		&r.Origin.Coord.Lat, &r.Origin.Coord.Lon, &r.Origin.Address,
		&r.Destination.Coord.Lat, &r.Destination.Coord.Lon, &r.Destination.Address,
		&r.Quote.DistanceKm, &r.Quote.DurationMin, &polyline,
		&r.Quote.ClientAmount, &r.Quote.OperatorAmount, &status, &r.Version,
		&r.Paid, &r.Prepaid, &ratingStars, &ratingText, &ratedAt, &offered,
		&cancelledBy, &cancelReason, &r.CreatedAt, &completedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	r.OperatorID = operatorID.String
	r.Quote.Polyline = polyline.String
	r.Status = models.Status(status)
	r.OfferedTo = []string(offered)
	r.CancelledBy = cancelledBy.String
	r.CancelReason = cancelReason.String
	if ratingStars.Valid {
		r.Rating = &models.RatingRecord{
			Stars:     int(ratingStars.Int64),
			Comment:   ratingText.String,
			CreatedAt: ratedAt.Time,
		}
	}
	if completedAt.Valid {
		at := completedAt.Time
		r.CompletedAt = &at
	}
	return &r, nil
}
