package lifecycle

import (
	"slices"

	"github.com/wspnet/subengine/internal/models"
)

// Transition is a status change between two subscription states.
type Transition struct {
	From models.SubscriptionStatus
	To   models.SubscriptionStatus
}

var validTransitions = map[Transition]bool{
	{models.SubscriptionStatusActive, models.SubscriptionStatusActive}:      true, // Renewal of the current period
	{models.SubscriptionStatusExpired, models.SubscriptionStatusActive}:     true, // Renewal after lapse
	{models.SubscriptionStatusActive, models.SubscriptionStatusExpired}:     true, // Administrative expiry
	{models.SubscriptionStatusActive, models.SubscriptionStatusTerminated}:  true, // Termination or upgrade
	{models.SubscriptionStatusExpired, models.SubscriptionStatusTerminated}: true, // Termination or upgrade after lapse
}

// CanTransition reports whether a subscription may move from one status to another.
func CanTransition(from, to models.SubscriptionStatus) bool {
	return validTransitions[Transition{from, to}]
}

// ValidTransitionsFrom returns the reachable statuses from the given status.
func ValidTransitionsFrom(from models.SubscriptionStatus) []models.SubscriptionStatus {
	targets := make([]models.SubscriptionStatus, 0)
	for t := range validTransitions {
		if t.From == from {
			targets = append(targets, t.To)
		}
	}
	slices.Sort(targets)
	return targets
}
