package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bsm/redislock"
	"github.com/mmdatafocus/card_audit_backend/config"
	"github.com/sirupsen/logrus"
)

const sessionLockTTL = 30 * time.Second

// AcquireAuditSessionLock takes a best-effort redis lock for one session across instances.
// Correctness does not depend on it: the session row lock inside the transaction is
// what serializes finalize. Without redis, or if the lock is held, it proceeds unlocked.
// The returned func releases the lock and is always safe to call.
func AcquireAuditSessionLock(ctx context.Context, logger *logrus.Logger, sessionId int) func() {
	noop := func() {}
	locker := config.GetRedisLock()
	if locker == nil {
		return noop
	}
	fields := logrus.Fields{"field": "AuditSessionLock", "session_id": sessionId}

	lock, err := locker.Obtain(ctx, fmt.Sprintf("lock:audit:%d", sessionId), sessionLockTTL, nil)
	if err != nil {
		if logger != nil {
			if errors.Is(err, redislock.ErrNotObtained) {
				logger.WithFields(fields).Warn("could not obtain redis lock; proceeding without redis lock")
			} else {
				logger.WithFields(fields).Warn("error obtaining redis lock; proceeding without redis lock: " + err.Error())
			}
		}
		return noop
	}
	return func() {
		if releaseErr := lock.Release(context.Background()); releaseErr != nil && logger != nil {
			logger.WithFields(fields).Warn("failed to release redis lock: " + releaseErr.Error())
		}
	}
}
