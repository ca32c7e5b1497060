// Package handlers manages the different versions of the ops API.
package handlers

import (
	"net/http"

	"github.com/dimfeld/httptreemux/v5"
	"github.com/hubcoin/hubcoin/app/services/node/handlers/v1/public"
	"github.com/hubcoin/hubcoin/foundation/blockchain/state"
	"github.com/hubcoin/hubcoin/foundation/events"
	"github.com/hubcoin/hubcoin/foundation/keystore"
	"go.uber.org/zap"
)

// MuxConfig contains all the mandatory systems required by handlers.
type MuxConfig struct {
	Log   *zap.SugaredLogger
	State *state.State
	KS    *keystore.KeyStore
	Evts  *events.Events
}

// PublicMux constructs a http.Handler with all application routes defined.
func PublicMux(cfg MuxConfig) http.Handler {
	mux := httptreemux.NewContextMux()

	public.Routes(mux, public.Config{
		Log:   cfg.Log,
		State: cfg.State,
		KS:    cfg.KS,
		Evts:  cfg.Evts,
	})

	return mux
}
