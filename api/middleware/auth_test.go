package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/commission-escrow/pkg/auth"
	"github.com/angelmondragon/commission-escrow/pkg/config"
	"github.com/angelmondragon/commission-escrow/pkg/enums"
)

var testJWT = config.JWTConfig{Secret: "secret", Issuer: "issuer"}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestAuthRejectsMissingToken(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	resp := httptest.NewRecorder()
	Auth(testJWT, nil)(okHandler()).ServeHTTP(resp, req)
	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 got %d", resp.Code)
	}
}

func TestAuthRejectsInvalidToken(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer invalid")
	resp := httptest.NewRecorder()
	Auth(testJWT, nil)(okHandler()).ServeHTTP(resp, req)
	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 got %d", resp.Code)
	}
}

func TestAuthSeedsSellerContext(t *testing.T) {
	sellerID := uuid.New()
	token := mintTestToken(t, enums.ActorRoleSeller, sellerID)

	var got Principal
	handler := Auth(testJWT, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, _ = PrincipalFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", resp.Code)
	}
	if got.SellerID != sellerID || !got.IsSeller() {
		t.Fatalf("expected seller %s got %+v", sellerID, got)
	}
	if got.TokenID == "" {
		t.Fatal("expected token id to be carried")
	}
}

func TestBearerToken(t *testing.T) {
	cases := map[string]struct {
		header string
		want   string
		ok     bool
	}{
		"bearer":         {"Bearer abc", "abc", true},
		"lowercase":      {"bearer  abc ", "abc", true},
		"missing scheme": {"abc", "", false},
		"basic":          {"Basic abc", "", false},
		"empty token":    {"Bearer ", "", false},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			got, ok := bearerToken(tc.header)
			if got != tc.want || ok != tc.ok {
				t.Fatalf("bearerToken(%q) = %q %v", tc.header, got, ok)
			}
		})
	}
}

func TestRequireRole(t *testing.T) {
	operator := mintTestToken(t, enums.ActorRoleOperator, uuid.Nil)
	seller := mintTestToken(t, enums.ActorRoleSeller, uuid.New())
	chain := Auth(testJWT, nil)(RequireRole(nil, enums.ActorRoleOperator)(okHandler()))

	cases := map[string]struct {
		token string
		want  int
	}{
		"operator allowed": {operator, http.StatusOK},
		"seller forbidden": {seller, http.StatusForbidden},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/", nil)
			req.Header.Set("Authorization", "Bearer "+tc.token)
			resp := httptest.NewRecorder()
			chain.ServeHTTP(resp, req)
			if resp.Code != tc.want {
				t.Fatalf("expected %d got %d", tc.want, resp.Code)
			}
		})
	}
}

func mintTestToken(t *testing.T, role enums.ActorRole, sellerID uuid.UUID) string {
	t.Helper()
	token, err := auth.MintAccessToken(testJWT, time.Now(), time.Hour, auth.AccessTokenPayload{
		SellerID: sellerID,
		Role:     role,
	})
	if err != nil {
		t.Fatalf("mint token: %v", err)
	}
	return token
}
