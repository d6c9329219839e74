package handler

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"watchover/internal/config"
	"watchover/internal/logger"
	"watchover/internal/middleware"
)

func postLogin(h http.HandlerFunc, password string) *httptest.ResponseRecorder {
	form := url.Values{"password": {password}}
	req := httptest.NewRequest(http.MethodPost, "/auth/login", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	rec := httptest.NewRecorder()
	h(rec, req)
	return rec
}

func TestLoginHandler(t *testing.T) {
	cfg := config.Default()
	cfg.Password = "s3cret"
	h := LoginHandler(cfg, logger.NewNop())

	rec := postLogin(h, "wrong")
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("Expected 401, got %d", rec.Code)
	}

	rec = postLogin(h, "s3cret")
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}

	cookies := rec.Result().Cookies()
	if len(cookies) != 1 || cookies[0].Name != middleware.AuthCookie {
		t.Fatalf("Expected auth cookie, got %v", cookies)
	}
	if cookies[0].Value != middleware.SessionToken("s3cret") || !cookies[0].HttpOnly {
		t.Errorf("Unexpected cookie %+v", cookies[0])
	}
}

func TestLoginHandler_NoPasswordConfigured(t *testing.T) {
	h := LoginHandler(config.Default(), logger.NewNop())
	if rec := postLogin(h, ""); rec.Code != http.StatusUnauthorized {
		t.Errorf("Expected 401 when no password is configured, got %d", rec.Code)
	}
}

func TestLogoutHandler(t *testing.T) {
	rec := httptest.NewRecorder()
	LogoutHandler(rec, httptest.NewRequest(http.MethodPost, "/auth/logout", nil))

	cookies := rec.Result().Cookies()
	if len(cookies) != 1 || cookies[0].MaxAge >= 0 {
		t.Errorf("Expected expired cookie, got %v", cookies)
	}
}
