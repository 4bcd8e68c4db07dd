package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/achievetrack/apiserver/internal/services"
	"github.com/achievetrack/apiserver/types"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePagination(t *testing.T) {
	tests := []struct {
		query      string
		page       int
		limit      int
		offset     int
		wantErrMsg string
	}{
		{query: "", page: 1, limit: defaultLimit, offset: 0},
		{query: "page=3&limit=10", page: 3, limit: 10, offset: 20},
		{query: "page=2&per_page=5", page: 2, limit: 5, offset: 5},
		{query: "limit=1000", page: 1, limit: maxLimit, offset: 0},
		{query: "page=0", wantErrMsg: "invalid page"},
		{query: "limit=abc", wantErrMsg: "invalid limit"},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/?"+tt.query, nil)
			page, limit, offset, err := parsePagination(r)
			if tt.wantErrMsg != "" {
				assert.EqualError(t, err, tt.wantErrMsg)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.page, page)
			assert.Equal(t, tt.limit, limit)
			assert.Equal(t, tt.offset, offset)
		})
	}
}

func TestWriteServiceError(t *testing.T) {
	tests := []struct {
		err    error
		status int
	}{
		{err: &services.ValidationError{Fields: []services.FieldError{{Field: "title", Message: "title is required"}}}, status: http.StatusBadRequest},
		{err: fmt.Errorf("create: %w", services.ErrDuplicateKey), status: http.StatusConflict},
		{err: fmt.Errorf("%w: pending to admin_approved", services.ErrInvalidTransition), status: http.StatusConflict},
		{err: services.ErrForbidden, status: http.StatusForbidden},
		{err: services.ErrNotFound, status: http.StatusNotFound},
		{err: services.ErrNotApproved, status: http.StatusBadRequest},
		{err: services.ErrInvalidCredentials, status: http.StatusUnauthorized},
		{err: services.ErrInactiveUser, status: http.StatusUnauthorized},
		{err: errors.New("connection refused"), status: http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			rec := httptest.NewRecorder()
			writeServiceError(rec, httptest.NewRequest(http.MethodGet, "/", nil), tt.err, "achievement")
			assert.Equal(t, tt.status, rec.Code)
			assert.NotContains(t, rec.Body.String(), "connection refused")
		})
	}
}

func TestWriteServiceErrorIncludesFields(t *testing.T) {
	rec := httptest.NewRecorder()
	err := &services.ValidationError{Fields: []services.FieldError{{Field: "level", Message: "level is required"}}}
	writeServiceError(rec, httptest.NewRequest(http.MethodPost, "/", nil), err, "achievement")

	var body ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "validation failed", body.Error)
	assert.Equal(t, []services.FieldError{{Field: "level", Message: "level is required"}}, body.Fields)
}

func TestTokenRoundTrip(t *testing.T) {
	secret := []byte("s3cret")

	token, err := issueToken(42, secret, time.Hour)
	require.NoError(t, err)

	subject, err := parseTokenSubject(token, secret)
	require.NoError(t, err)
	assert.Equal(t, "42", subject)

	_, err = parseTokenSubject(token, []byte("other"))
	assert.Error(t, err)

	expired, err := issueToken(42, secret, -time.Minute)
	require.NoError(t, err)
	_, err = parseTokenSubject(expired, secret)
	assert.ErrorIs(t, err, jwt.ErrTokenExpired)
}

func TestBearerToken(t *testing.T) {
	for header, want := range map[string]string{
		"Bearer abc":   "abc",
		"bearer  abc ": "abc",
	} {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r.Header.Set("Authorization", header)
		token, err := bearerToken(r)
		require.NoError(t, err)
		assert.Equal(t, want, token)
	}

	for _, header := range []string{"", "Basic abc", "Bearer "} {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r.Header.Set("Authorization", header)
		_, err := bearerToken(r)
		assert.Error(t, err, header)
	}
}

func TestRequireRole(t *testing.T) {
	handler := RequireRole(types.RoleAdmin)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	for role, want := range map[types.Role]int{
		types.RoleAdmin:      http.StatusNoContent,
		types.RoleCounsellor: http.StatusForbidden,
		types.RoleStudent:    http.StatusForbidden,
	} {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r = r.WithContext(withUser(r.Context(), types.User{ID: 1, Role: role}))
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, r)
		assert.Equal(t, want, rec.Code, role)
	}
}

func TestParseDate(t *testing.T) {
	date, err := parseDate("2024-03-01")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), date)

	date, err = parseDate("2024-03-01T10:00:00Z")
	require.NoError(t, err)
	assert.Equal(t, 10, date.Hour())

	_, err = parseDate("01/03/2024")
	assert.Error(t, err)
}

func TestParseAchievementFilter(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/?status=PENDING&level=national&section=4&department=CSE", nil)
	filter, err := parseAchievementFilter(r)
	require.NoError(t, err)
	assert.Equal(t, types.AchievementFilter{
		Status:     types.StatusPending,
		Level:      types.LevelNational,
		Department: "CSE",
		Section:    4,
	}, filter)

	_, err = parseAchievementFilter(httptest.NewRequest(http.MethodGet, "/?section=x", nil))
	assert.Error(t, err)
}
