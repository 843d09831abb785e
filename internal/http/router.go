package httpapi

import "net/http"

// NewRouter wires the ledger endpoints, optionally wrapping each with the
// auth middleware.
func NewRouter(svc *Service, wsHandler http.Handler, mw func(http.Handler) http.Handler) http.Handler {
	mux := http.NewServeMux()
	wrap := func(h http.HandlerFunc) http.Handler {
		handler := http.Handler(h)
		if mw != nil {
			handler = mw(handler)
		}
		return handler
	}

	mux.Handle("/api/balances", wrap(svc.handleBalances))
	mux.Handle("/api/balances/", wrap(svc.handleBalanceByID))
	mux.Handle("/api/leaderboard", wrap(svc.handleLeaderboard))
	mux.Handle("/api/stash", wrap(svc.handleStash))
	mux.Handle("/api/stash/", wrap(svc.handleStashBySender))
	mux.Handle("/api/links", wrap(svc.handleLinks))
	mux.Handle("/api/links/", wrap(svc.handleLinkBySender))
	mux.Handle("/api/redeem", wrap(svc.handleRedeem))

	if wsHandler != nil {
		if mw != nil {
			mux.Handle("/ws/identities/", mw(wsHandler))
		} else {
			mux.Handle("/ws/identities/", wsHandler)
		}
	}

	return mux
}
