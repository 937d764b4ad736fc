package policy

import (
	"log/slog"

	"github.com/ppiankov/segvguard/internal/model"
	"github.com/ppiankov/segvguard/internal/scope"
)

// ExecInput is what the loader knows about the program image being
// activated.
type ExecInput struct {
	SetID   bool          // set-user-id or set-group-id bit is present
	Opt     model.OptFlag // explicit request embedded in the image
	AttrErr error         // attributes could not be read
}

// ComputeExecDecision decides whether crash tracking is active for one
// program load. It has no side effects besides logging, so the result can
// be cached or recomputed freely; callers compute it once and carry it.
//
// Decision table:
//
//	disabled       inactive
//	force_enabled  active
//	optin          active iff set-id, explicit track request, or attribute failure
//	optout         active unless the image asks not to be tracked
//	anything else  active, with a warning
func ComputeExecDecision(cfg scope.Config, in ExecInput, logger *slog.Logger) model.ExecDecision {
	switch cfg.Mode {
	case scope.Disabled:
		return model.Inactive

	case scope.ForceEnabled:
		return model.Active

	case scope.OptIn:
		// Unreadable attributes are treated as privileged.
		if in.AttrErr != nil || in.SetID || in.Opt == model.OptTrack {
			return model.Active
		}
		return model.Inactive

	case scope.OptOut:
		if in.Opt == model.OptNoTrack {
			return model.Inactive
		}
		return model.Active
	}

	if logger != nil {
		logger.Warn("unknown segvguard status, tracking enabled", "status", int(cfg.Mode))
	}
	return model.Active
}
