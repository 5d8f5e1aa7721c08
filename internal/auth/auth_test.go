package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
)

const (
	testKey    = "test-signing-key-0123456789"
	testIssuer = "attendance-engine"
)

func TestIssueParse(t *testing.T) {
	token, exp, err := Issue("m1", RoleMember, testIssuer, testKey, time.Minute)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if time.Until(exp) <= 0 {
		t.Errorf("expiry %s is in the past", exp)
	}
	claims, err := Parse(token, testKey, testIssuer)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if claims.Subject != "m1" || claims.Role != RoleMember {
		t.Errorf("unexpected claims: %+v", claims)
	}
}

func TestIssue_RejectsUnknownRole(t *testing.T) {
	if _, _, err := Issue("m1", "admin", testIssuer, testKey, time.Minute); err == nil {
		t.Error("expected error for unknown role")
	}
	if _, _, err := Issue("", RoleOwner, testIssuer, testKey, time.Minute); err == nil {
		t.Error("expected error for empty subject")
	}
}

func TestParse_Rejects(t *testing.T) {
	good, _, _ := Issue("m1", RoleMember, testIssuer, testKey, time.Minute)
	expired, _, _ := Issue("m1", RoleMember, testIssuer, testKey, -time.Minute)

	cases := []struct {
		name   string
		token  string
		key    string
		issuer string
	}{
		{"wrong key", good, "another-signing-key-987654", testIssuer},
		{"wrong issuer", good, testKey, "someone-else"},
		{"expired", expired, testKey, testIssuer},
		{"garbage", "not.a.token", testKey, testIssuer},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := Parse(tc.token, tc.key, tc.issuer); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	g := r.Group("/v1", Bearer(testKey, testIssuer))
	g.GET("/me", func(c *gin.Context) {
		claims, _ := ClaimsFrom(c)
		c.String(http.StatusOK, claims.Subject)
	})
	g.GET("/owner", RequireRole(RoleOwner), func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})

	member, _, _ := Issue("m1", RoleMember, testIssuer, testKey, time.Minute)
	owner, _, _ := Issue("prof-1", RoleOwner, testIssuer, testKey, time.Minute)

	cases := []struct {
		name   string
		path   string
		header string
		want   int
		body   string
	}{
		{"no header", "/v1/me", "", http.StatusUnauthorized, ""},
		{"bad token", "/v1/me", "Bearer nope", http.StatusUnauthorized, ""},
		{"member", "/v1/me", "Bearer " + member, http.StatusOK, "m1"},
		{"lowercase scheme", "/v1/me", "bearer " + member, http.StatusOK, "m1"},
		{"member on owner route", "/v1/owner", "Bearer " + member, http.StatusForbidden, ""},
		{"owner on owner route", "/v1/owner", "Bearer " + owner, http.StatusNoContent, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tc.path, nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)
			if w.Code != tc.want {
				t.Fatalf("status = %d, want %d (%s)", w.Code, tc.want, w.Body.String())
			}
			if tc.body != "" && w.Body.String() != tc.body {
				t.Errorf("body = %q, want %q", w.Body.String(), tc.body)
			}
		})
	}
}
