// Package audit records session-boundary events. Audit writes are a side
// channel: they carry their own failure kind and never corrupt session
// state.
package audit

import (
	"context"
	"time"

	"go.uber.org/zap"

	"scms-access-service/internal/domain/identity"
	xerrors "scms-access-service/internal/pkg/errors"
	"scms-access-service/internal/pkg/rbac"
	"scms-access-service/internal/store"
)

const writeTimeout = 5 * time.Second

type Recorder struct {
	store  store.AuditStore
	logger *zap.Logger
}

func NewRecorder(s store.AuditStore, logger *zap.Logger) *Recorder {
	return &Recorder{store: s, logger: logger}
}

// Record appends one login/logout event. Failures are reported as
// ErrAuditFailed; the caller decides whether they matter.
func (r *Recorder) Record(ctx context.Context, action, userID, email string, role rbac.Role) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()

	rec := &identity.AuditRecord{
		UserID: userID,
		Email:  email,
		Action: action,
		Role:   role,
	}

	if err := r.store.Append(ctx, rec); err != nil {
		r.logger.Error("audit write failed",
			zap.String("action", action),
			zap.String("user_id", userID),
			zap.Error(err),
		)
		return xerrors.Wrap(xerrors.ErrAuditFailed, err.Error())
	}

	return nil
}
