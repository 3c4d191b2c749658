// Package v1 contains the full set of handler functions and routes
// supported by the v1 web api.
package v1

import (
	"net/http"

	"github.com/ardanlabs/hybridchain/app/services/node/handlers/v1/private"
	"github.com/ardanlabs/hybridchain/app/services/node/handlers/v1/public"
	"github.com/ardanlabs/hybridchain/foundation/blockchain/generator"
	"github.com/ardanlabs/hybridchain/foundation/blockchain/state"
	"github.com/ardanlabs/hybridchain/foundation/events"
	"github.com/ardanlabs/hybridchain/foundation/nameservice"
	"github.com/ardanlabs/hybridchain/foundation/web"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const version = "v1"

// Config contains all the mandatory systems required by handlers.
type Config struct {
	Log    *zap.SugaredLogger
	State  *state.State
	Engine *generator.Engine
	Active *generator.ActiveSet
	NS     *nameservice.NameService
	Evts   *events.Events
}

// PublicRoutes binds all the version 1 public routes.
func PublicRoutes(app *web.App, cfg Config) {
	pbl := public.Handlers{
		Log:    cfg.Log,
		State:  cfg.State,
		Engine: cfg.Engine,
		Active: cfg.Active,
		NS:     cfg.NS,
		WS:     websocket.Upgrader{},
		Evts:   cfg.Evts,
	}

	app.Handle(http.MethodGet, version, "/events", pbl.Events)
	app.Handle(http.MethodGet, version, "/status", pbl.Status)
	app.Handle(http.MethodGet, version, "/blocks/last", pbl.LastBlock)
	app.Handle(http.MethodGet, version, "/blocks/lastkey", pbl.LastKeyBlock)
	app.Handle(http.MethodGet, version, "/blocks/id/:id", pbl.BlockByID)
	app.Handle(http.MethodGet, version, "/blocks/height/:height", pbl.BlockAtHeight)
	app.Handle(http.MethodGet, version, "/blocks/local/:kind/:local", pbl.BlockAtLocalHeight)
	app.Handle(http.MethodGet, version, "/blocks/after/:height", pbl.BlocksAfter)
	app.Handle(http.MethodGet, version, "/generators", pbl.Generators)
	app.Handle(http.MethodGet, version, "/generators/active", pbl.ActiveGenerators)
	app.Handle(http.MethodGet, version, "/accounts/:account", pbl.Account)
	app.Handle(http.MethodGet, version, "/tx/uncommitted/list", pbl.Mempool)
}

// PrivateRoutes binds all the version 1 private routes.
func PrivateRoutes(app *web.App, cfg Config) {
	prv := private.Handlers{
		Log:    cfg.Log,
		State:  cfg.State,
		Engine: cfg.Engine,
		NS:     cfg.NS,
	}

	app.Handle(http.MethodPost, version, "/node/block/push", prv.PushBlock)
	app.Handle(http.MethodPost, version, "/node/block/fork", prv.ProcessFork)
	app.Handle(http.MethodPost, version, "/node/block/popoff/:height", prv.PopOffTo)
	app.Handle(http.MethodPost, version, "/node/rescan", prv.Rescan)
	app.Handle(http.MethodPost, version, "/node/tx/submit", prv.SubmitTransaction)
	app.Handle(http.MethodPost, version, "/node/forging/start", prv.StartForging)
	app.Handle(http.MethodPost, version, "/node/forging/stop", prv.StopForging)
}
