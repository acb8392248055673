package controllers

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/angelmondragon/commission-escrow/api/middleware"
	"github.com/angelmondragon/commission-escrow/api/responses"
	"github.com/angelmondragon/commission-escrow/api/validators"
	"github.com/angelmondragon/commission-escrow/internal/notifications"
	pkgerrors "github.com/angelmondragon/commission-escrow/pkg/errors"
	"github.com/angelmondragon/commission-escrow/pkg/logger"
)

const (
	defaultNotificationLimit = 20
	maxNotificationLimit     = 100
)

// ListNotifications returns paginated, unexpired notifications for the seller.
func ListNotifications(svc notifications.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sellerID, ok := sellerFromRequest(w, r, logg)
		if !ok {
			return
		}

		limit, err := validators.ParseQueryInt(r, "limit", defaultNotificationLimit, 1, maxNotificationLimit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		unreadOnly, err := validators.ParseQueryBool(r, "unreadOnly")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		resp, err := svc.List(r.Context(), notifications.ListParams{
			SellerID:   sellerID,
			Limit:      limit,
			Cursor:     r.URL.Query().Get("cursor"),
			UnreadOnly: unreadOnly,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, resp)
	}
}

// MarkNotificationRead flags a single notification as read.
func MarkNotificationRead(svc notifications.Service, logg *logger.Logger) http.HandlerFunc {
	return toggleNotification(svc.MarkRead, true, logg)
}

// MarkNotificationUnread flags a single notification as unread.
func MarkNotificationUnread(svc notifications.Service, logg *logger.Logger) http.HandlerFunc {
	return toggleNotification(svc.MarkUnread, false, logg)
}

func toggleNotification(apply func(ctx context.Context, sellerID, notificationID uuid.UUID) error, read bool, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sellerID, ok := sellerFromRequest(w, r, logg)
		if !ok {
			return
		}
		notificationID, err := validators.ParseURLUUID(r, "notificationId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if err := apply(r.Context(), sellerID, notificationID); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]bool{"read": read})
	}
}

// MarkAllNotificationsRead flags every unread notification as read.
func MarkAllNotificationsRead(svc notifications.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sellerID, ok := sellerFromRequest(w, r, logg)
		if !ok {
			return
		}
		updated, err := svc.MarkAllRead(r.Context(), sellerID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]int64{"updated": updated})
	}
}

// UnreadNotificationCount reports the seller's unread badge count.
func UnreadNotificationCount(svc notifications.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sellerID, ok := sellerFromRequest(w, r, logg)
		if !ok {
			return
		}
		count, err := svc.UnreadCount(r.Context(), sellerID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]int64{"unread": count})
	}
}

func sellerFromRequest(w http.ResponseWriter, r *http.Request, logg *logger.Logger) (uuid.UUID, bool) {
	principal, ok := middleware.PrincipalFromContext(r.Context())
	if !ok || !principal.IsSeller() {
		responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeForbidden, "seller context missing"))
		return uuid.Nil, false
	}
	return principal.SellerID, true
}
