package middleware

import (
	"net/http"
	"time"

	"github.com/fulmenhq/gofulmen/errors"
	"github.com/fulmenhq/gofulmen/logging"
	"go.uber.org/zap"

	"github.com/krewdev/bluetrap/internal/defense"
	"github.com/krewdev/bluetrap/internal/metrics"
)

// DefenseOptions wires the credential gate and speed trap into the request path.
type DefenseOptions struct {
	Gate      *defense.Gate
	SpeedTrap *defense.SpeedTrap
	SkipPaths []string

	// RequireAuth rejects unauthenticated callers that survive the speed trap.
	RequireAuth bool

	Logger *logging.Logger
	Now    func() time.Time
}

// Defense classifies every request that is not on a skip path:
//
//  1. a valid X-Agent-Auth credential tags the request authenticated and
//     bypasses the speed trap (its timestamp is still recorded);
//  2. otherwise the speed trap runs and fast clients get a 307 into the maze;
//  3. with RequireAuth, surviving unauthenticated requests get a 401.
//
// It never blocks a request because the state store misbehaves.
func Defense(opts DefenseOptions) func(http.Handler) http.Handler {
	if opts.SkipPaths == nil {
		opts.SkipPaths = defense.DefaultSkipPaths
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if defense.ShouldSkip(r.URL.Path, opts.SkipPaths) {
				next.ServeHTTP(w, r)
				return
			}

			clientID := GetClientID(r)
			now := opts.Now()
			info := defense.AuthInfo{
				ClientID:      clientID,
				WalletAddress: r.Header.Get(defense.WalletAddressHeader),
			}

			presented := r.Header.Get(defense.AgentAuthHeader)
			if opts.Gate.Authenticate(presented) {
				metrics.RecordAgentAuth(true)
				info.Authenticated = true
				info.KeyID = defense.KeyID(presented)
				if opts.SpeedTrap != nil {
					opts.SpeedTrap.Record(r.Context(), clientID, now)
				}
				next.ServeHTTP(w, r.WithContext(defense.WithAuthInfo(r.Context(), info)))
				return
			}
			if presented != "" {
				metrics.RecordAgentAuth(false)
			}

			if opts.SpeedTrap != nil {
				verdict := opts.SpeedTrap.Evaluate(r.Context(), clientID, now)
				info.SinceLast = verdict.Delta
				if verdict.Redirect {
					metrics.RecordSpeedTrapRedirect()
					if opts.Logger != nil {
						opts.Logger.Info("Speed trap triggered, redirecting to maze",
							zap.String("client", clientID),
							zap.String("path", r.URL.Path),
							zap.Float64("delta_seconds", verdict.Delta),
							zap.String("requestID", GetRequestID(r.Context())))
					}
					http.Redirect(w, r, defense.MazeEntrance, http.StatusTemporaryRedirect)
					return
				}
			}

			if opts.RequireAuth {
				envelope := errors.NewErrorEnvelope("UNAUTHORIZED", "agent credential required").
					WithCorrelationID(GetRequestID(r.Context()))
				writeErrorResponse(w, envelope, http.StatusUnauthorized)
				return
			}

			next.ServeHTTP(w, r.WithContext(defense.WithAuthInfo(r.Context(), info)))
		})
	}
}
