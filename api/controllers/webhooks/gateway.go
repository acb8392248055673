package webhooks

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/angelmondragon/commission-escrow/api/responses"
	gatewaywebhook "github.com/angelmondragon/commission-escrow/internal/webhooks/gateway"
	"github.com/angelmondragon/commission-escrow/pkg/config"
	pkgerrors "github.com/angelmondragon/commission-escrow/pkg/errors"
	"github.com/angelmondragon/commission-escrow/pkg/logger"
)

// GatewayWebhookService is the ingestion surface the handler drives.
type GatewayWebhookService interface {
	Ingest(ctx context.Context, payload []byte, signature string) (gatewaywebhook.Result, error)
}

// GatewayWebhook receives payment gateway callbacks. It answers 200 for
// accepted and duplicate events, 400 for bad signatures or malformed
// payloads and 503 when the gateway should redeliver.
func GatewayWebhook(svc GatewayWebhookService, cfg config.WebhookConfig, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "webhook service unavailable"))
			return
		}

		body := r.Body
		if cfg.MaxBodyBytes > 0 {
			body = http.MaxBytesReader(w, r.Body, cfg.MaxBodyBytes)
		}
		payload, err := io.ReadAll(body)
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "webhook payload too large"))
				return
			}
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "read request body"))
			return
		}

		result, err := svc.Ingest(ctx, payload, r.Header.Get(cfg.SignatureHeader))
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, result)
	}
}
