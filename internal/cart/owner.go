package cart

import (
	"strings"

	"github.com/google/uuid"

	pkgerrors "github.com/angelmondragon/tradehub-backend/pkg/errors"
)

// Owner identifies whose cart a line belongs to: a signed-in user or a
// guest session. UserID wins when both are set.
type Owner struct {
	UserID    *uuid.UUID
	SessionID string
}

// UserOwner returns an owner for a signed-in user.
func UserOwner(id uuid.UUID) Owner {
	return Owner{UserID: &id}
}

// SessionOwner returns an owner for a guest session.
func SessionOwner(sessionID string) Owner {
	return Owner{SessionID: sessionID}
}

// Key is the value stored in cart_items.owner_key.
func (o Owner) Key() string {
	if o.UserID != nil {
		return "user:" + o.UserID.String()
	}
	return "session:" + strings.TrimSpace(o.SessionID)
}

func (o Owner) validate() error {
	if o.UserID != nil {
		if *o.UserID == uuid.Nil {
			return pkgerrors.New(pkgerrors.CodeValidation, "user id required")
		}
		return nil
	}
	if strings.TrimSpace(o.SessionID) == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "cart owner required")
	}
	return nil
}

func (o Owner) sessionPtr() *string {
	if o.UserID != nil {
		return nil
	}
	s := strings.TrimSpace(o.SessionID)
	return &s
}
