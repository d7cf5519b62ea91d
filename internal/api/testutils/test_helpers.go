package testutils

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rongwang/sitetrack-server/internal/api"
	"github.com/rongwang/sitetrack-server/internal/config"
	"github.com/rongwang/sitetrack-server/internal/models"
	"github.com/rongwang/sitetrack-server/internal/service"
	"github.com/rongwang/sitetrack-server/internal/sheets"
	"github.com/rongwang/sitetrack-server/internal/utils"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

const (
	AdminInvite    = "admin-invite"
	InvestorInvite = "investor-invite"
	TestPassword   = "correct-horse"
)

// TestContext holds all dependencies for tests
type TestContext struct {
	Router     *gin.Engine
	Repository *MemoryRepository
	Service    *service.DefaultService
	Sheet      *FakeSheet
	Config     *config.Config

	AdminID     string
	AdminJWT    string
	InvestorID  string
	InvestorJWT string
}

// TestConfig returns a valid configuration pointing at the fake sheet
func TestConfig(sheet *FakeSheet) *config.Config {
	return &config.Config{
		Auth: config.AuthConfig{
			JWTSecret:       "test-secret-key",
			TokenTTL:        time.Hour,
			BcryptCost:      bcrypt.MinCost,
			AdminInviteCode: AdminInvite,
			InviteCodes:     []string{InvestorInvite},
			SessionIdleTTL:  time.Hour,
		},
		Sheets: config.SheetsConfig{
			APIBase:       sheet.APIBase(),
			SpreadsheetID: "test-sheet",
			SheetName:     "Projects",
			Range:         "A2:L",
			FirstRow:      FirstDataRow,
			WebhookURL:    sheet.WebhookURL(),
			Timeout:       2 * time.Second,
			ColumnMap:     config.DefaultColumnMap,
		},
		Log: config.LogConfig{Level: "error", Format: "json"},
	}
}

// SetupTestContext wires the real service and router over an in-memory
// repository and a fake spreadsheet, and creates one admin and one investor.
func SetupTestContext(t *testing.T) *TestContext {
	t.Helper()

	sheet := NewFakeSheet(t, SampleRows())
	cfg := TestConfig(sheet)
	log := utils.NewNopLogger()
	repo := NewMemoryRepository()

	client := sheets.NewClient(sheets.ClientConfig{
		APIBase:       cfg.Sheets.APIBase,
		SpreadsheetID: cfg.Sheets.SpreadsheetID,
		SheetName:     cfg.Sheets.SheetName,
		Range:         cfg.Sheets.Range,
		WebhookURL:    cfg.Sheets.WebhookURL,
		Timeout:       cfg.Sheets.Timeout,
	}, nil, log)

	svc, err := service.NewDefaultService(cfg, repo, service.Dependencies{
		Sheets: client,
		Logger: log,
		Now:    SteppingClock(time.Millisecond),
	})
	require.NoError(t, err, "Failed to create service")

	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(api.RequestID(), api.Recovery(log))
	api.NewHandler(svc, log).SetupRoutes(router, nil)

	tc := &TestContext{
		Router:     router,
		Repository: repo,
		Service:    svc,
		Sheet:      sheet,
		Config:     cfg,
	}

	tc.AdminID, tc.AdminJWT = tc.CreateUser(t, "admin@example.com", "boss", models.RoleAdmin)
	tc.InvestorID, tc.InvestorJWT = tc.CreateUser(t, "investor@example.com", "ivy", models.RoleInvestor)

	return tc
}

// SteppingClock starts at the current time and moves forward by step on
// every call, so timestamps taken by the service are strictly increasing.
func SteppingClock(step time.Duration) func() time.Time {
	start := time.Now().UTC()
	var ticks atomic.Int64
	return func() time.Time {
		return start.Add(time.Duration(ticks.Add(1)) * step)
	}
}

// CreateUser stores a user directly and logs it in through the API
func (tc *TestContext) CreateUser(t *testing.T, email, username, role string) (string, string) {
	t.Helper()

	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(TestPassword), bcrypt.MinCost)
	require.NoError(t, err)

	user := &models.User{
		ID:       uuid.New().String(),
		Email:    email,
		Password: string(hashedPassword),
		Role:     role,
	}
	if username != "" {
		user.Username = &username
	}
	require.NoError(t, tc.Repository.CreateUser(context.Background(), user), "Failed to create test user")

	return user.ID, tc.Login(t, email)
}

// Login returns a fresh session token; every call starts a new session
func (tc *TestContext) Login(t *testing.T, identifier string) string {
	t.Helper()

	w := PerformRequest(tc.Router, http.MethodPost, "/auth", models.AuthRequest{
		Mode:       models.AuthModeLogin,
		Identifier: identifier,
		Password:   TestPassword,
	}, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp models.AuthResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp.Token
}

// PerformRequest executes an HTTP request against the router
func PerformRequest(r http.Handler, method, path string, body interface{}, headers map[string]string) *httptest.ResponseRecorder {
	var reqBody *bytes.Buffer

	if body != nil {
		jsonBody, _ := json.Marshal(body)
		reqBody = bytes.NewBuffer(jsonBody)
	} else {
		reqBody = bytes.NewBuffer(nil)
	}

	req, _ := http.NewRequest(method, path, reqBody)
	req.Header.Set("Content-Type", "application/json")

	for k, v := range headers {
		req.Header.Set(k, v)
	}

	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

// AuthHeaders returns headers with Authorization token
func AuthHeaders(token string) map[string]string {
	return map[string]string{
		"Authorization": fmt.Sprintf("Bearer %s", token),
	}
}

// DecodeError unmarshals the error envelope of a response
func DecodeError(t *testing.T, w *httptest.ResponseRecorder) models.ErrorResponse {
	t.Helper()

	var resp models.ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp), w.Body.String())
	return resp
}
