package health

import "context"

// DefaultStrategies returns the §4.3 default recovery strategy chain for a
// component kind. Each strategy is a no-op placeholder unless the caller
// overrides it with a closure bound to their actual connection/client —
// Register accepts a custom list for exactly that purpose.
func DefaultStrategies(kind ComponentKind) []RecoveryStrategy {
	switch kind {
	case KindDatabase:
		return []RecoveryStrategy{
			{Name: "reset_connection_pool", Run: noop},
			{Name: "reinitialize_client", Run: noop},
		}
	case KindCache:
		return []RecoveryStrategy{
			{Name: "reconnect", Run: noop},
			{Name: "selective_clear", Run: noop},
		}
	case KindExternalAPI:
		return []RecoveryStrategy{
			{Name: "recreate_session", Run: noop},
			{Name: "clear_local_cache", Run: noop},
			{Name: "rotate_credentials", Run: noop},
		}
	case KindAgent:
		return []RecoveryStrategy{
			{Name: "reset_handle", Run: noop},
			{Name: "restart_handle", Run: noop},
		}
	default:
		return []RecoveryStrategy{
			{Name: "reconnect", Run: noop},
			{Name: "clear_cache", Run: noop},
			{Name: "restart_service", Run: noop},
		}
	}
}

func noop(ctx context.Context) error { return nil }
