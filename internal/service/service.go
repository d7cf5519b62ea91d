package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rongwang/sitetrack-server/internal/config"
	"github.com/rongwang/sitetrack-server/internal/models"
	"github.com/rongwang/sitetrack-server/internal/queue"
	"github.com/rongwang/sitetrack-server/internal/repository"
	"github.com/rongwang/sitetrack-server/internal/sheets"
	"github.com/rongwang/sitetrack-server/internal/tracker"
	"github.com/rongwang/sitetrack-server/internal/utils"
	"golang.org/x/sync/singleflight"
)

// Service defines all the business logic operations
type Service interface {
	// Authentication
	Authorize(ctx context.Context, req models.AuthRequest) (*models.AuthResponse, error)
	ParseToken(tokenString string) (*models.Caller, error)
	GetProfile(ctx context.Context, caller models.Caller) (*models.UserResponse, error)
	UpdateProfile(ctx context.Context, caller models.Caller, req models.UpdateProfileRequest) (*models.UserResponse, error)

	// Change tracking
	TrackChange(ctx context.Context, caller models.Caller, req models.TrackChangeRequest) (*models.TrackChangeResponse, error)
	PendingChanges(caller models.Caller) []tracker.Pending
	ClearPendingChanges(caller models.Caller)

	// Approval workflow
	SubmitChanges(ctx context.Context, caller models.Caller, changes []tracker.Pending) (*models.ApprovalRequest, error)
	ListPendingRequests(ctx context.Context, caller models.Caller) ([]models.ApprovalRequest, error)
	ApproveRequest(ctx context.Context, caller models.Caller, requestID string) (*models.ApproveResult, error)
	RejectRequest(ctx context.Context, caller models.Caller, requestID string) (*models.RejectResult, error)

	// Notifications
	ListNotifications(ctx context.Context, caller models.Caller) ([]models.InvestorNotification, error)
	MarkNotificationRead(ctx context.Context, caller models.Caller, notificationID string) error

	// Sheet data
	GetSheetData(ctx context.Context, filter sheets.Filter, refresh bool) (*models.SheetDataResponse, error)
	RefreshSheetData(ctx context.Context) (int, error)
	WriteCell(ctx context.Context, caller models.Caller, req models.CellUpdateRequest) error

	Health(ctx context.Context) error
}

// SheetClient reads and writes the remote spreadsheet
type SheetClient interface {
	FetchRows(ctx context.Context) ([][]string, error)
	UpdateCell(ctx context.Context, update sheets.CellUpdate) error
}

// Dependencies are the collaborators of DefaultService. Nil optional
// fields get in-process defaults.
type Dependencies struct {
	Sheets   SheetClient
	Rows     sheets.RowStore
	Trackers *tracker.Registry
	Locker   Locker
	Events   queue.Publisher
	Logger   *utils.Logger
	Now      func() time.Time
}

// DefaultService implements the Service interface
type DefaultService struct {
	repo          repository.Repository
	sheets        SheetClient
	rows          sheets.RowStore
	trackers      *tracker.Registry
	locker        Locker
	events        queue.Publisher
	log           *utils.Logger
	columns       sheets.ColumnMap
	firstRow      int
	jwtSecret     []byte
	tokenDuration time.Duration
	bcryptCost    int
	adminInvite   string
	inviteCodes   []string
	lockTTL       time.Duration

	refreshGroup singleflight.Group
	dummyOnce    sync.Once
	dummyHash    []byte
	now          func() time.Time
}

// NewDefaultService creates a new DefaultService
func NewDefaultService(cfg *config.Config, repo repository.Repository, deps Dependencies) (*DefaultService, error) {
	columns, err := sheets.ParseColumnMap(cfg.Sheets.ColumnMap)
	if err != nil {
		return nil, fmt.Errorf("column map: %w", err)
	}
	if deps.Sheets == nil {
		return nil, fmt.Errorf("sheet client is required")
	}

	s := &DefaultService{
		repo:          repo,
		sheets:        deps.Sheets,
		rows:          deps.Rows,
		trackers:      deps.Trackers,
		locker:        deps.Locker,
		events:        deps.Events,
		log:           deps.Logger,
		columns:       columns,
		firstRow:      cfg.Sheets.FirstRow,
		jwtSecret:     []byte(cfg.Auth.JWTSecret),
		tokenDuration: cfg.Auth.TokenTTL,
		bcryptCost:    cfg.Auth.BcryptCost,
		adminInvite:   cfg.Auth.AdminInviteCode,
		inviteCodes:   cfg.Auth.InviteCodes,
		lockTTL:       5 * time.Minute,
		now:           func() time.Time { return time.Now().UTC() },
	}

	if s.rows == nil {
		s.rows = sheets.NewMemoryStore()
	}
	if s.trackers == nil {
		s.trackers = tracker.NewRegistry(cfg.Auth.SessionIdleTTL)
	}
	if s.locker == nil {
		s.locker = NewLocalLocker()
	}
	if s.events == nil {
		s.events = queue.NopPublisher{}
	}
	if s.log == nil {
		s.log = utils.NewNopLogger()
	}
	if deps.Now != nil {
		s.now = deps.Now
	}
	if s.tokenDuration <= 0 {
		s.tokenDuration = 24 * time.Hour
	}

	return s, nil
}

func (s *DefaultService) Health(ctx context.Context) error {
	return s.repo.Ping(ctx)
}
