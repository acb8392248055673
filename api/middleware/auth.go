package middleware

import (
	"net/http"
	"strings"

	"github.com/angelmondragon/commission-escrow/api/responses"
	pkgAuth "github.com/angelmondragon/commission-escrow/pkg/auth"
	"github.com/angelmondragon/commission-escrow/pkg/config"
	pkgerrors "github.com/angelmondragon/commission-escrow/pkg/errors"
	"github.com/angelmondragon/commission-escrow/pkg/logger"
)

// Auth validates a bearer token and seeds the request context with the caller.
func Auth(cfg config.JWTConfig, logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := bearerToken(r.Header.Get("Authorization"))
			if !ok {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "missing credentials"))
				return
			}

			claims, err := pkgAuth.ParseAccessToken(cfg, token)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeUnauthorized, err, "invalid token"))
				return
			}

			principal := Principal{Role: claims.Role, SellerID: claims.SellerID, TokenID: claims.ID}
			ctx := WithPrincipal(r.Context(), principal)
			if logg != nil {
				ctx = logg.WithActorRole(ctx, string(principal.Role))
				if principal.IsSeller() {
					ctx = logg.WithSellerID(ctx, principal.SellerID.String())
				}
			}

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func bearerToken(header string) (string, bool) {
	scheme, token, found := strings.Cut(strings.TrimSpace(header), " ")
	if !found || !strings.EqualFold(scheme, "bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}
