package throttle

import (
	"github.com/wspnet/subengine/internal/models"
	"github.com/wspnet/subengine/internal/quantity"
)

// Restorer resets a subscription's bandwidth to its plan speed at the start of a new period.
type Restorer struct{}

// Restore sets both the allocated and the baseline bandwidth to the plan's download speed.
// The reset is unconditional and returns the allocation it replaced. The caller persists sub.
func (Restorer) Restore(sub *models.Subscription, plan *models.ServicePlan) quantity.Bandwidth {
	if sub == nil || plan == nil {
		return 0
	}
	previous := sub.BandwidthAllocated
	speed := plan.DownloadSpeed
	sub.BandwidthAllocated = speed
	sub.OriginalBandwidth = &speed
	return previous
}
