package health

import (
	"context"
	"time"

	"github.com/cuemby/flux/pkg/persistence"
)

// LeaseChecker reports unhealthy the moment this process's commit lease has
// been fenced out by another writer, so the admin surface stops reporting
// SERVING for a process that can no longer commit.
type LeaseChecker struct {
	lease *persistence.Lease
}

func NewLeaseChecker(lease *persistence.Lease) *LeaseChecker {
	return &LeaseChecker{lease: lease}
}

func (c *LeaseChecker) Check(ctx context.Context) Result {
	start := time.Now()
	if err := c.lease.Check(); err != nil {
		return Result{Healthy: false, Message: err.Error(), CheckedAt: start, Duration: time.Since(start)}
	}
	return Result{Healthy: true, Message: "lease held", CheckedAt: start, Duration: time.Since(start)}
}

func (c *LeaseChecker) Type() CheckType { return CheckTypeLease }
