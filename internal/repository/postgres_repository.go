package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/rongwang/sitetrack-server/internal/models"
)

// Repository interface defines the methods that any repository implementation must satisfy.
// Lookups return (nil, nil) when the row does not exist.
type Repository interface {
	// User operations
	CreateUser(ctx context.Context, user *models.User) error
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
	GetUserByUsername(ctx context.Context, username string) (*models.User, error)
	GetUserByID(ctx context.Context, id string) (*models.User, error)
	UpdateUserProfile(ctx context.Context, user *models.User) error

	// Approval operations
	CreateApprovalRequest(ctx context.Context, req *models.ApprovalRequest) error
	GetApprovalRequest(ctx context.Context, id string) (*models.ApprovalRequest, error)
	ListApprovalRequestsByStatus(ctx context.Context, status string) ([]models.ApprovalRequest, error)
	ResolveApprovalRequest(ctx context.Context, res *models.Resolution) error

	// Notification operations
	ListUnreadNotifications(ctx context.Context, userID string) ([]models.InvestorNotification, error)
	GetNotification(ctx context.Context, id string) (*models.InvestorNotification, error)
	MarkNotificationRead(ctx context.Context, id string, readAt time.Time) error

	Ping(ctx context.Context) error
}

// PostgresRepository implements the Repository interface using PostgreSQL
type PostgresRepository struct {
	db *sqlx.DB
}

// NewPostgresRepository creates a new PostgreSQL repository
func NewPostgresRepository(db *sqlx.DB) *PostgresRepository {
	return &PostgresRepository{
		db: db,
	}
}

func (r *PostgresRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// User repository methods
func (r *PostgresRepository) CreateUser(ctx context.Context, user *models.User) error {
	query := `
		INSERT INTO users (id, email, username, password, role, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	if user.ID == "" {
		user.ID = uuid.New().String()
	}

	now := time.Now().UTC()
	user.CreatedAt = now
	user.UpdatedAt = now

	_, err := r.db.ExecContext(ctx, query,
		user.ID, user.Email, user.Username, user.Password, user.Role, user.CreatedAt, user.UpdatedAt)

	return mapWriteError(err)
}

func (r *PostgresRepository) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	return r.getUser(ctx, `SELECT * FROM users WHERE lower(email) = lower($1)`, email)
}

func (r *PostgresRepository) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	return r.getUser(ctx, `SELECT * FROM users WHERE username = $1`, username)
}

func (r *PostgresRepository) GetUserByID(ctx context.Context, id string) (*models.User, error) {
	return r.getUser(ctx, `SELECT * FROM users WHERE id = $1`, id)
}

func (r *PostgresRepository) getUser(ctx context.Context, query string, arg string) (*models.User, error) {
	var user models.User
	err := r.db.GetContext(ctx, &user, query, arg)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // User not found
		}
		return nil, err
	}

	return &user, nil
}

func (r *PostgresRepository) UpdateUserProfile(ctx context.Context, user *models.User) error {
	user.UpdatedAt = time.Now().UTC()

	_, err := r.db.ExecContext(ctx,
		`UPDATE users SET email = $1, username = $2, updated_at = $3 WHERE id = $4`,
		user.Email, user.Username, user.UpdatedAt, user.ID)

	return mapWriteError(err)
}

// Approval repository methods

// CreateApprovalRequest stores the request and all of its changes in one
// transaction; either everything is written or nothing is.
func (r *PostgresRepository) CreateApprovalRequest(ctx context.Context, req *models.ApprovalRequest) (err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}

	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	if req.ID == "" {
		req.ID = uuid.New().String()
	}
	if req.SubmittedAt.IsZero() {
		req.SubmittedAt = time.Now().UTC()
	}
	req.Status = models.StatusPending

	_, err = tx.ExecContext(ctx, `
		INSERT INTO approval_requests (id, user_id, user_name, status, submitted_at)
		VALUES ($1, $2, $3, $4, $5)
	`, req.ID, req.UserID, req.UserName, req.Status, req.SubmittedAt)
	if err != nil {
		return err
	}

	for i := range req.Changes {
		change := &req.Changes[i]
		if change.ID == "" {
			change.ID = uuid.New().String()
		}
		change.ApprovalRequestID = req.ID
		change.Position = i

		_, err = tx.ExecContext(ctx, `
			INSERT INTO approval_changes (id, approval_request_id, position, item_id, field_name, old_value, new_value)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
		`, change.ID, change.ApprovalRequestID, change.Position,
			change.ItemID, change.FieldName, change.OldValue, change.NewValue)
		if err != nil {
			return err
		}
	}

	return tx.Commit()
}

func (r *PostgresRepository) GetApprovalRequest(ctx context.Context, id string) (*models.ApprovalRequest, error) {
	var req models.ApprovalRequest
	err := r.db.GetContext(ctx, &req, `SELECT * FROM approval_requests WHERE id = $1`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}

	changes := []models.Change{}
	err = r.db.SelectContext(ctx, &changes,
		`SELECT * FROM approval_changes WHERE approval_request_id = $1 ORDER BY position ASC`, id)
	if err != nil {
		return nil, err
	}
	req.Changes = changes

	return &req, nil
}

// ListApprovalRequestsByStatus returns requests newest first with their
// changes loaded.
func (r *PostgresRepository) ListApprovalRequestsByStatus(ctx context.Context, status string) ([]models.ApprovalRequest, error) {
	requests := []models.ApprovalRequest{}
	err := r.db.SelectContext(ctx, &requests,
		`SELECT * FROM approval_requests WHERE status = $1 ORDER BY submitted_at DESC, id DESC`, status)
	if err != nil {
		return nil, err
	}
	if len(requests) == 0 {
		return requests, nil
	}

	ids := make([]string, len(requests))
	byID := make(map[string]int, len(requests))
	for i := range requests {
		ids[i] = requests[i].ID
		byID[requests[i].ID] = i
		requests[i].Changes = []models.Change{}
	}

	var changes []models.Change
	err = r.db.SelectContext(ctx, &changes, `
		SELECT * FROM approval_changes
		WHERE approval_request_id = ANY($1)
		ORDER BY approval_request_id, position ASC
	`, pq.Array(ids))
	if err != nil {
		return nil, err
	}

	for _, change := range changes {
		if i, ok := byID[change.ApprovalRequestID]; ok {
			requests[i].Changes = append(requests[i].Changes, change)
		}
	}

	return requests, nil
}

// ResolveApprovalRequest flips a pending request to its terminal status,
// records per-change outcomes and inserts the notification atomically.
// It returns ErrConflict when the request is no longer pending.
func (r *PostgresRepository) ResolveApprovalRequest(ctx context.Context, res *models.Resolution) (err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}

	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	result, err := tx.ExecContext(ctx, `
		UPDATE approval_requests
		SET status = $1, resolved_at = $2, resolved_by = $3
		WHERE id = $4 AND status = 'pending'
	`, res.Status, res.ResolvedAt, res.ResolvedBy, res.RequestID)
	if err != nil {
		return err
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		err = ErrConflict
		return err
	}

	for _, outcome := range res.Outcomes {
		_, err = tx.ExecContext(ctx, `
			UPDATE approval_changes SET apply_status = $1, apply_error = $2
			WHERE id = $3 AND approval_request_id = $4
		`, outcome.Status, outcome.Error, outcome.ChangeID, res.RequestID)
		if err != nil {
			return err
		}
	}

	if n := res.Notification; n != nil {
		if n.ID == "" {
			n.ID = uuid.New().String()
		}
		if n.CreatedAt.IsZero() {
			n.CreatedAt = res.ResolvedAt
		}
		n.ApprovalRequestID = res.RequestID

		_, err = tx.ExecContext(ctx, `
			INSERT INTO investor_notifications (id, user_id, approval_request_id, message, type, is_read, created_at)
			VALUES ($1, $2, $3, $4, $5, FALSE, $6)
		`, n.ID, n.UserID, n.ApprovalRequestID, n.Message, n.Type, n.CreatedAt)
		if err != nil {
			return err
		}
	}

	return tx.Commit()
}

// Notification repository methods
func (r *PostgresRepository) ListUnreadNotifications(ctx context.Context, userID string) ([]models.InvestorNotification, error) {
	notifications := []models.InvestorNotification{}
	err := r.db.SelectContext(ctx, &notifications, `
		SELECT * FROM investor_notifications
		WHERE user_id = $1 AND is_read = FALSE
		ORDER BY created_at DESC
	`, userID)
	if err != nil {
		return nil, err
	}

	return notifications, nil
}

func (r *PostgresRepository) GetNotification(ctx context.Context, id string) (*models.InvestorNotification, error) {
	var n models.InvestorNotification
	err := r.db.GetContext(ctx, &n, `SELECT * FROM investor_notifications WHERE id = $1`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}

	return &n, nil
}

// MarkNotificationRead is idempotent; read_at keeps the first read time
func (r *PostgresRepository) MarkNotificationRead(ctx context.Context, id string, readAt time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE investor_notifications SET is_read = TRUE, read_at = COALESCE(read_at, $2) WHERE id = $1`,
		id, readAt)
	return err
}
