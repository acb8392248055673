package controllers

import (
	"context"
	"net/http"
	"time"

	"github.com/angelmondragon/commission-escrow/api/responses"
	"github.com/angelmondragon/commission-escrow/pkg/config"
	"github.com/angelmondragon/commission-escrow/pkg/db"
	pkgerrors "github.com/angelmondragon/commission-escrow/pkg/errors"
	"github.com/angelmondragon/commission-escrow/pkg/logger"
	"github.com/angelmondragon/commission-escrow/pkg/redis"
)

const readinessTimeout = 2 * time.Second

const envHeader = "X-Commission-Env"

func HealthLive(cfg *config.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set(envHeader, cfg.App.Env)
		responses.WriteSuccess(w, map[string]string{"status": "live"})
	}
}

// HealthReady pings Postgres and Redis. Either failing reports 503 so the
// load balancer stops routing webhooks to this instance.
func HealthReady(cfg *config.Config, logg *logger.Logger, dbP db.Pinger, redisP redis.Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set(envHeader, cfg.App.Env)
		ctx, cancel := context.WithTimeout(r.Context(), readinessTimeout)
		defer cancel()

		checks := map[string]string{}
		healthy := true
		for name, pinger := range map[string]interface{ Ping(context.Context) error }{"database": dbP, "redis": redisP} {
			if pinger == nil {
				checks[name] = "skipped"
				continue
			}
			if err := pinger.Ping(ctx); err != nil {
				healthy = false
				checks[name] = "unavailable"
				if logg != nil {
					logg.Warn(logg.WithFields(ctx, map[string]any{"check": name, "error": err.Error()}), "readiness check failed")
				}
				continue
			}
			checks[name] = "ok"
		}

		if !healthy {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeDependency, "not ready").WithDetails(checks))
			return
		}
		responses.WriteSuccess(w, map[string]any{"status": "ready", "checks": checks})
	}
}
