package api_test

import (
	"encoding/json"
	"net/http"
	"testing"

	"github.com/rongwang/sitetrack-server/internal/api/testutils"
	"github.com/rongwang/sitetrack-server/internal/models"
	"github.com/rongwang/sitetrack-server/internal/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegister(t *testing.T) {
	testCtx := testutils.SetupTestContext(t)
	usersBefore := testCtx.Repository.UserCount()

	// Test case 1: Successful investor registration
	registerReq := models.AuthRequest{
		Mode:       models.AuthModeRegister,
		Email:      "New.Investor@Example.com",
		Username:   "newbie",
		Password:   "Password123",
		InviteCode: testutils.InvestorInvite,
	}

	w := testutils.PerformRequest(testCtx.Router, http.MethodPost, "/auth", registerReq, nil)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var resp models.AuthResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.Token)
	assert.Equal(t, "new.investor@example.com", resp.User.Email)
	assert.Equal(t, "newbie", resp.User.Username)
	assert.Equal(t, models.RoleInvestor, resp.User.Role)

	caller, err := testCtx.Service.ParseToken(resp.Token)
	require.NoError(t, err)
	assert.Equal(t, resp.User.ID, caller.UserID)
	assert.Equal(t, models.RoleInvestor, caller.Role)
	assert.Equal(t, "newbie", caller.Username)

	// Test case 2: Duplicate email, differently cased
	dup := registerReq
	dup.Email = "new.investor@example.com"
	dup.Username = "someone-else"
	w = testutils.PerformRequest(testCtx.Router, http.MethodPost, "/auth", dup, nil)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, service.CodeUserExists, testutils.DecodeError(t, w).Error)
	assert.Equal(t, usersBefore+1, testCtx.Repository.UserCount(), "duplicate must not create a second user")

	// Test case 3: Duplicate username
	dup = registerReq
	dup.Email = "other@example.com"
	w = testutils.PerformRequest(testCtx.Router, http.MethodPost, "/auth", dup, nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	// Test case 4: Invalid invite code
	bad := registerReq
	bad.Email = "stranger@example.com"
	bad.Username = ""
	bad.InviteCode = "let-me-in"
	w = testutils.PerformRequest(testCtx.Router, http.MethodPost, "/auth", bad, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, service.CodeInvalidInvite, testutils.DecodeError(t, w).Error)

	// Test case 5: Missing fields
	w = testutils.PerformRequest(testCtx.Router, http.MethodPost, "/auth", models.AuthRequest{
		Mode:  models.AuthModeRegister,
		Email: "incomplete@example.com",
	}, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, service.CodeMissingFields, testutils.DecodeError(t, w).Error)

	// Test case 6: Short password
	short := registerReq
	short.Email = "short@example.com"
	short.Username = ""
	short.Password = "abc"
	w = testutils.PerformRequest(testCtx.Router, http.MethodPost, "/auth", short, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	assert.Equal(t, usersBefore+1, testCtx.Repository.UserCount())
}

func TestRegisterAdminInvite(t *testing.T) {
	testCtx := testutils.SetupTestContext(t)

	w := testutils.PerformRequest(testCtx.Router, http.MethodPost, "/auth", models.AuthRequest{
		Mode:       models.AuthModeRegister,
		Email:      "second.admin@example.com",
		Password:   "Password123",
		InviteCode: testutils.AdminInvite,
	}, nil)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var resp models.AuthResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, models.RoleAdmin, resp.User.Role)

	// Without a username the token carries the email
	caller, err := testCtx.Service.ParseToken(resp.Token)
	require.NoError(t, err)
	assert.Equal(t, "second.admin@example.com", caller.Username)

	stored, err := testCtx.Repository.GetUserByEmail(t.Context(), "second.admin@example.com")
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.NotEqual(t, "Password123", stored.Password, "password must be stored hashed")
}

func TestLogin(t *testing.T) {
	testCtx := testutils.SetupTestContext(t)

	// Test case 1: Login by username
	w := testutils.PerformRequest(testCtx.Router, http.MethodPost, "/auth", models.AuthRequest{
		Mode:       models.AuthModeLogin,
		Identifier: "ivy",
		Password:   testutils.TestPassword,
	}, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp models.AuthResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "success", resp.Status)
	assert.Equal(t, testCtx.InvestorID, resp.User.ID)
	assert.Greater(t, resp.ExpiresIn, 0)

	// Test case 2: Login by email through the email field
	w = testutils.PerformRequest(testCtx.Router, http.MethodPost, "/auth", models.AuthRequest{
		Mode:     models.AuthModeLogin,
		Email:    "ADMIN@example.com",
		Password: testutils.TestPassword,
	}, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	// Test case 3: Wrong password
	w = testutils.PerformRequest(testCtx.Router, http.MethodPost, "/auth", models.AuthRequest{
		Mode:       models.AuthModeLogin,
		Identifier: "ivy",
		Password:   "wrong-password",
	}, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	wrongPassword := testutils.DecodeError(t, w)
	assert.Equal(t, service.CodeInvalidCredentials, wrongPassword.Error)

	// Test case 4: Unknown user gets the same answer
	w = testutils.PerformRequest(testCtx.Router, http.MethodPost, "/auth", models.AuthRequest{
		Mode:       models.AuthModeLogin,
		Identifier: "nobody@example.com",
		Password:   "wrong-password",
	}, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, wrongPassword, testutils.DecodeError(t, w))

	// Test case 5: Unknown mode
	w = testutils.PerformRequest(testCtx.Router, http.MethodPost, "/auth", map[string]string{
		"mode": "reset",
	}, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAuthenticationRequired(t *testing.T) {
	testCtx := testutils.SetupTestContext(t)

	for _, path := range []string{"/auth/me", "/approvals?type=notifications", "/sheet-data", "/changes"} {
		w := testutils.PerformRequest(testCtx.Router, http.MethodGet, path, nil, nil)
		assert.Equal(t, http.StatusUnauthorized, w.Code, path)
		assert.Equal(t, service.CodeUnauthorized, testutils.DecodeError(t, w).Error, path)
	}

	w := testutils.PerformRequest(testCtx.Router, http.MethodGet, "/auth/me", nil,
		testutils.AuthHeaders("not.a.token"))
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = testutils.PerformRequest(testCtx.Router, http.MethodGet, "/auth/me", nil,
		map[string]string{"Authorization": "Token " + testCtx.AdminJWT})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestProfile(t *testing.T) {
	testCtx := testutils.SetupTestContext(t)

	w := testutils.PerformRequest(testCtx.Router, http.MethodGet, "/auth/me", nil,
		testutils.AuthHeaders(testCtx.InvestorJWT))
	require.Equal(t, http.StatusOK, w.Code)

	var me models.UserResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &me))
	assert.Equal(t, "investor@example.com", me.Email)
	assert.Equal(t, "ivy", me.Username)

	// Username already used by the admin
	taken := "boss"
	w = testutils.PerformRequest(testCtx.Router, http.MethodPatch, "/auth/profile",
		models.UpdateProfileRequest{Username: &taken}, testutils.AuthHeaders(testCtx.InvestorJWT))
	assert.Equal(t, http.StatusConflict, w.Code)

	renamed := "ivy2"
	w = testutils.PerformRequest(testCtx.Router, http.MethodPatch, "/auth/profile",
		models.UpdateProfileRequest{Username: &renamed}, testutils.AuthHeaders(testCtx.InvestorJWT))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &me))
	assert.Equal(t, "ivy2", me.Username)

	// The new username is accepted at the next login
	assert.NotEmpty(t, testCtx.Login(t, "ivy2"))
}
