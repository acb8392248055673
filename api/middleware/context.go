package middleware

import (
	"context"

	"github.com/google/uuid"

	"github.com/angelmondragon/commission-escrow/pkg/enums"
)

type contextKey int

const (
	ctxPrincipal contextKey = iota
	ctxRequestID
)

// Principal is the authenticated caller. SellerID is uuid.Nil for operators.
type Principal struct {
	Role     enums.ActorRole
	SellerID uuid.UUID
	TokenID  string
}

// IsSeller reports whether the caller acts for a single seller.
func (p Principal) IsSeller() bool {
	return p.Role == enums.ActorRoleSeller && p.SellerID != uuid.Nil
}

// WithPrincipal stores the caller on ctx.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, ctxPrincipal, p)
}

// PrincipalFromContext returns the caller set by Auth, if any.
func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	if ctx == nil {
		return Principal{}, false
	}
	p, ok := ctx.Value(ctxPrincipal).(Principal)
	return p, ok
}

func RoleFromContext(ctx context.Context) enums.ActorRole {
	p, _ := PrincipalFromContext(ctx)
	return p.Role
}
