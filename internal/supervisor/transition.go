package supervisor

import (
	"log/slog"

	"github.com/AndreiStanca/account-supervisor/internal/model"
)

// validNext encodes the account lifecycle. Statuses not listed as a source
// accept no outgoing transitions (logged_out is terminal until the operator
// re-adds the account).
var validNext = map[model.AccountStatus][]model.AccountStatus{
	model.StatusIdle: {model.StatusConnecting},
	model.StatusConnecting: {
		model.StatusQRReady, model.StatusConnected,
		model.StatusReconnecting, model.StatusNeedsQR,
		model.StatusDisconnected, model.StatusLoggedOut,
	},
	model.StatusQRReady: {
		model.StatusConnected, model.StatusQRExpired, model.StatusQRInvalid,
		model.StatusLoggedOut,
	},
	model.StatusQRExpired: {model.StatusConnecting, model.StatusQRReady},
	model.StatusQRInvalid: {model.StatusConnecting, model.StatusQRReady},
	model.StatusConnected: {
		model.StatusReconnecting, model.StatusDisconnected, model.StatusLoggedOut,
	},
	model.StatusReconnecting: {
		model.StatusConnecting, model.StatusConnected, model.StatusNeedsQR,
		model.StatusLoggedOut,
	},
	model.StatusNeedsQR:      {model.StatusConnecting},
	model.StatusDisconnected: {model.StatusConnecting},
}

func transitionAllowed(from, to model.AccountStatus) bool {
	if from == to {
		return true
	}
	for _, next := range validNext[from] {
		if next == to {
			return true
		}
	}
	return false
}

// setStatusLocked applies a lifecycle transition, rejecting jumps the state
// machine does not define. Caller holds e.mu.
func (e *entry) setStatusLocked(to model.AccountStatus) bool {
	from := e.account.Status
	if !transitionAllowed(from, to) {
		slog.Warn("rejected account status transition",
			"account", e.account.ID, "from", string(from), "to", string(to))
		return false
	}
	if from != to {
		slog.Info("account status changed",
			"account", e.account.ID, "from", string(from), "to", string(to))
	}
	e.account.Status = to
	return true
}
