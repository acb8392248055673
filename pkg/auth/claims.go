package auth

import (
	"fmt"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/angelmondragon/commission-escrow/pkg/enums"
)

// AccessTokenPayload captures the data available when minting a JWT.
type AccessTokenPayload struct {
	SellerID uuid.UUID
	Role     enums.ActorRole
	JTI      string
}

// AccessTokenClaims represents the typed JWT presented by sellers and
// operators. Operators carry no seller id.
type AccessTokenClaims struct {
	SellerID uuid.UUID       `json:"seller_id"`
	Role     enums.ActorRole `json:"role"`
	jwt.RegisteredClaims
}

// Validate runs after the registered claims pass; jwt calls it during parsing.
func (c AccessTokenClaims) Validate() error {
	return validateActor(c.Role, c.SellerID)
}

func validateActor(role enums.ActorRole, sellerID uuid.UUID) error {
	if !role.IsValid() {
		return fmt.Errorf("invalid actor role %q", role)
	}
	if role == enums.ActorRoleSeller && sellerID == uuid.Nil {
		return fmt.Errorf("seller token missing seller_id")
	}
	return nil
}
