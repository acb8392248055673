package controllers

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/angelmondragon/commission-escrow/api/responses"
	"github.com/angelmondragon/commission-escrow/internal/ledger"
	"github.com/angelmondragon/commission-escrow/pkg/logger"
)

type balanceReader interface {
	SellerBalance(ctx context.Context, sellerID uuid.UUID) (ledger.Balance, error)
}

// SellerBalance summarizes escrowed, in-flight and paid amounts for the seller.
func SellerBalance(svc balanceReader, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sellerID, ok := sellerFromRequest(w, r, logg)
		if !ok {
			return
		}
		balance, err := svc.SellerBalance(r.Context(), sellerID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, balance)
	}
}
