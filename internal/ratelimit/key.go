package ratelimit

import "fmt"

// Key builds a limiter key for the given scope and identifier.
func Key(scope Scope, id uint64) string {
	if id == 0 {
		return ""
	}
	switch scope {
	case ScopeSubscription:
		return fmt.Sprintf("sub:%d", id)
	case ScopeOperator:
		return fmt.Sprintf("op:%d", id)
	default:
		return ""
	}
}
