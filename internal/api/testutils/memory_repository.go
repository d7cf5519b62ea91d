package testutils

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rongwang/sitetrack-server/internal/models"
	"github.com/rongwang/sitetrack-server/internal/repository"
)

// MemoryRepository is an in-process repository.Repository with the same
// uniqueness and state-transition rules as the Postgres one.
type MemoryRepository struct {
	mu            sync.Mutex
	users         map[string]models.User
	requests      map[string]models.ApprovalRequest
	notifications map[string]models.InvestorNotification
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		users:         make(map[string]models.User),
		requests:      make(map[string]models.ApprovalRequest),
		notifications: make(map[string]models.InvestorNotification),
	}
}

var _ repository.Repository = (*MemoryRepository)(nil)

func (r *MemoryRepository) Ping(context.Context) error { return nil }

func (r *MemoryRepository) CreateUser(_ context.Context, user *models.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, u := range r.users {
		if strings.EqualFold(u.Email, user.Email) || sameUsername(u.Username, user.Username) {
			return repository.ErrDuplicate
		}
	}

	if user.ID == "" {
		user.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	user.CreatedAt = now
	user.UpdatedAt = now
	r.users[user.ID] = *user
	return nil
}

func (r *MemoryRepository) GetUserByEmail(_ context.Context, email string) (*models.User, error) {
	return r.findUser(func(u models.User) bool { return strings.EqualFold(u.Email, email) }), nil
}

func (r *MemoryRepository) GetUserByUsername(_ context.Context, username string) (*models.User, error) {
	return r.findUser(func(u models.User) bool { return u.Username != nil && *u.Username == username }), nil
}

func (r *MemoryRepository) GetUserByID(_ context.Context, id string) (*models.User, error) {
	return r.findUser(func(u models.User) bool { return u.ID == id }), nil
}

func (r *MemoryRepository) UpdateUserProfile(_ context.Context, user *models.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for id, u := range r.users {
		if id == user.ID {
			continue
		}
		if strings.EqualFold(u.Email, user.Email) || sameUsername(u.Username, user.Username) {
			return repository.ErrDuplicate
		}
	}
	user.UpdatedAt = time.Now().UTC()
	r.users[user.ID] = *user
	return nil
}

func (r *MemoryRepository) CreateApprovalRequest(_ context.Context, req *models.ApprovalRequest) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if req.ID == "" {
		req.ID = uuid.New().String()
	}
	if req.SubmittedAt.IsZero() {
		req.SubmittedAt = time.Now().UTC()
	}
	req.Status = models.StatusPending
	for i := range req.Changes {
		if req.Changes[i].ID == "" {
			req.Changes[i].ID = uuid.New().String()
		}
		req.Changes[i].ApprovalRequestID = req.ID
		req.Changes[i].Position = i
	}

	r.requests[req.ID] = cloneRequest(*req)
	return nil
}

func (r *MemoryRepository) GetApprovalRequest(_ context.Context, id string) (*models.ApprovalRequest, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	req, ok := r.requests[id]
	if !ok {
		return nil, nil
	}
	out := cloneRequest(req)
	return &out, nil
}

func (r *MemoryRepository) ListApprovalRequestsByStatus(_ context.Context, status string) ([]models.ApprovalRequest, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := []models.ApprovalRequest{}
	for _, req := range r.requests {
		if req.Status == status {
			out = append(out, cloneRequest(req))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].SubmittedAt.Equal(out[j].SubmittedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].SubmittedAt.After(out[j].SubmittedAt)
	})
	return out, nil
}

func (r *MemoryRepository) ResolveApprovalRequest(_ context.Context, res *models.Resolution) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	req, ok := r.requests[res.RequestID]
	if !ok || req.Status != models.StatusPending {
		return repository.ErrConflict
	}

	resolvedAt := res.ResolvedAt
	resolvedBy := res.ResolvedBy
	req.Status = res.Status
	req.ResolvedAt = &resolvedAt
	req.ResolvedBy = &resolvedBy

	for _, outcome := range res.Outcomes {
		for i := range req.Changes {
			if req.Changes[i].ID == outcome.ChangeID {
				req.Changes[i].ApplyStatus = outcome.Status
				req.Changes[i].ApplyError = outcome.Error
			}
		}
	}
	r.requests[req.ID] = req

	if n := res.Notification; n != nil {
		if n.ID == "" {
			n.ID = uuid.New().String()
		}
		if n.CreatedAt.IsZero() {
			n.CreatedAt = res.ResolvedAt
		}
		n.ApprovalRequestID = res.RequestID
		n.Read = false
		r.notifications[n.ID] = *n
	}
	return nil
}

func (r *MemoryRepository) ListUnreadNotifications(_ context.Context, userID string) ([]models.InvestorNotification, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := []models.InvestorNotification{}
	for _, n := range r.notifications {
		if n.UserID == userID && !n.Read {
			out = append(out, n)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (r *MemoryRepository) GetNotification(_ context.Context, id string) (*models.InvestorNotification, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	n, ok := r.notifications[id]
	if !ok {
		return nil, nil
	}
	return &n, nil
}

func (r *MemoryRepository) MarkNotificationRead(_ context.Context, id string, readAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	n, ok := r.notifications[id]
	if !ok {
		return nil
	}
	n.Read = true
	if n.ReadAt == nil {
		n.ReadAt = &readAt
	}
	r.notifications[id] = n
	return nil
}

// UserCount returns the number of stored users
func (r *MemoryRepository) UserCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.users)
}

// NotificationsFor returns every notification of a user, read or not
func (r *MemoryRepository) NotificationsFor(userID string) []models.InvestorNotification {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []models.InvestorNotification
	for _, n := range r.notifications {
		if n.UserID == userID {
			out = append(out, n)
		}
	}
	return out
}

func (r *MemoryRepository) findUser(match func(models.User) bool) *models.User {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, u := range r.users {
		if match(u) {
			found := u
			return &found
		}
	}
	return nil
}

func sameUsername(a, b *string) bool {
	return a != nil && b != nil && *a == *b
}

func cloneRequest(req models.ApprovalRequest) models.ApprovalRequest {
	req.Changes = append([]models.Change{}, req.Changes...)
	return req
}
