package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ardanlabs/conf/v3"
	"github.com/ardanlabs/hybridchain/app/services/node/handlers"
	"github.com/ardanlabs/hybridchain/foundation/blockchain/accounts"
	"github.com/ardanlabs/hybridchain/foundation/blockchain/cache"
	"github.com/ardanlabs/hybridchain/foundation/blockchain/consensus"
	"github.com/ardanlabs/hybridchain/foundation/blockchain/database"
	"github.com/ardanlabs/hybridchain/foundation/blockchain/generator"
	"github.com/ardanlabs/hybridchain/foundation/blockchain/genesis"
	"github.com/ardanlabs/hybridchain/foundation/blockchain/mempool"
	"github.com/ardanlabs/hybridchain/foundation/blockchain/signature"
	"github.com/ardanlabs/hybridchain/foundation/blockchain/state"
	"github.com/ardanlabs/hybridchain/foundation/blockchain/storage/badger"
	"github.com/ardanlabs/hybridchain/foundation/blockchain/worker"
	"github.com/ardanlabs/hybridchain/foundation/events"
	"github.com/ardanlabs/hybridchain/foundation/logger"
	"github.com/ardanlabs/hybridchain/foundation/nameservice"
	"go.uber.org/zap"
)

// build is the git version of this program. It is set using build flags in the makefile.
var build = "develop"

func main() {

	// Construct the application logger.
	log, err := logger.New("NODE")
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
	defer log.Sync()

	// Perform the startup and shutdown sequence.
	if err := run(log); err != nil {
		log.Errorw("startup", "ERROR", err)
		log.Sync()
		os.Exit(1)
	}
}

func run(log *zap.SugaredLogger) error {

	// =========================================================================
	// Configuration

	cfg := struct {
		conf.Version
		Web struct {
			ReadTimeout     time.Duration `conf:"default:5s"`
			WriteTimeout    time.Duration `conf:"default:10s"`
			IdleTimeout     time.Duration `conf:"default:120s"`
			ShutdownTimeout time.Duration `conf:"default:20s"`
			DebugHost       string        `conf:"default:0.0.0.0:7080"`
			PublicHost      string        `conf:"default:0.0.0.0:8080"`
			PrivateHost     string        `conf:"default:0.0.0.0:9080"`
		}
		State struct {
			DBPath         string        `conf:"default:zblock/blocks.db"`
			GenesisPath    string        `conf:"default:zblock/genesis.json"`
			Network        string        `conf:"default:test,help:main or test protocol parameters"`
			ReadCache      int           `conf:"default:1024"`
			KeyCacheWindow uint64        `conf:"default:720"`
			PosCacheWindow uint64        `conf:"default:1440"`
			ForgingTick    time.Duration `conf:"default:500ms"`
			Forgers        []string      `conf:"default:kennedy;pavel;cesar"`
			Mining         bool          `conf:"default:false"`
			MinerName      string        `conf:"default:kennedy"`
			Offline        bool          `conf:"default:true"`
		}
		NameService struct {
			Folder string `conf:"default:zblock/accounts/"`
		}
	}{
		Version: conf.Version{
			Build: build,
			Desc:  "hybrid proof of work and proof of stake node",
		},
	}

	const prefix = "NODE"
	help, err := conf.Parse(prefix, &cfg)
	if err != nil {
		if errors.Is(err, conf.ErrHelpWanted) {
			fmt.Println(help)
			return nil
		}
		return fmt.Errorf("parsing config: %w", err)
	}

	// =========================================================================
	// App Starting

	log.Infow("starting service", "version", build)
	defer log.Infow("shutdown complete")

	out, err := conf.String(&cfg)
	if err != nil {
		return fmt.Errorf("generating config for output: %w", err)
	}
	log.Infow("startup", "config", out)

	// =========================================================================
	// Name Service Support

	// The names come from the file names in the zblock/accounts folder. The
	// same key files are the ones this node forges with.
	ns, err := nameservice.New(cfg.NameService.Folder)
	if err != nil {
		return fmt.Errorf("unable to load account name service: %w", err)
	}

	for account, name := range ns.Copy() {
		log.Infow("startup", "status", "nameservice", "name", name, "account", signature.StringID(account))
	}

	// =========================================================================
	// Blockchain Support

	gen, err := genesis.Load(cfg.State.GenesisPath)
	if err != nil {
		return fmt.Errorf("unable to load genesis: %w", err)
	}

	var params consensus.Params
	switch cfg.State.Network {
	case "main":
		params = consensus.DefaultParams()
	case "test":
		params = consensus.TestParams()
	default:
		return fmt.Errorf("unknown network %q", cfg.State.Network)
	}
	params = gen.Apply(params)
	params.Offline = cfg.State.Offline

	// The blockchain packages accept a function of this signature to allow the
	// application to log. These raw messages are also sent to any websocket
	// client that is connected into the system through the events package.
	evts := events.New()
	ev := func(v string, args ...any) {
		s := fmt.Sprintf(v, args...)
		log.Infow(s, "traceid", "00000000-0000-0000-0000-000000000000")
		evts.Send(s)
	}

	storage, err := badger.New(cfg.State.DBPath, log)
	if err != nil {
		return fmt.Errorf("unable to open storage: %w", err)
	}

	db, err := database.New(storage, cfg.State.ReadCache)
	if err != nil {
		storage.Close()
		return fmt.Errorf("unable to open database: %w", err)
	}

	act, err := accounts.New(gen)
	if err != nil {
		db.Close()
		return fmt.Errorf("unable to construct accounts: %w", err)
	}

	// The state value represents the chain and is the only value allowed to
	// change it.
	st, err := state.New(state.Config{
		Params: params,
		DB:     db,
		Cache: cache.New(cache.Config{
			DB:        db,
			KeyWindow: cfg.State.KeyCacheWindow,
			PosWindow: cfg.State.PosCacheWindow,
			EvHandler: ev,
		}),
		Accounts:  act,
		Mempool:   mempool.New(),
		EvHandler: ev,
	})
	if err != nil {
		db.Close()
		return err
	}
	defer st.Shutdown()

	active, err := generator.NewActiveSet(generator.ActiveConfig{
		Params:    params,
		DB:        db,
		Accounts:  act,
		EvHandler: ev,
	})
	if err != nil {
		return err
	}
	st.AddListener(active.Listener())

	engine := generator.New(generator.Config{
		State:     st,
		EvHandler: ev,
	})

	for _, name := range cfg.State.Forgers {
		pk, exists := ns.PrivateKey(name)
		if !exists {
			return fmt.Errorf("no key file for forger %q", name)
		}
		g := engine.StartForging(pk)
		log.Infow("startup", "status", "forging", "name", name, "account", signature.StringID(g.AccountID), "armed", g.Armed())
	}

	var minerID int64
	if cfg.State.Mining {
		pk, exists := ns.PrivateKey(cfg.State.MinerName)
		if !exists {
			return fmt.Errorf("no key file for miner %q", cfg.State.MinerName)
		}
		minerID = signature.AccountID(signature.PublicKey(pk))
	}

	// The worker drives forging and mining. It registers itself with the
	// state so block pushes can cancel mining on a stale tip.
	worker.Run(worker.Config{
		State:        st,
		Engine:       engine,
		Active:       active,
		TickInterval: cfg.State.ForgingTick,
		Mining:       cfg.State.Mining,
		MinerID:      minerID,
		Fatal: func(err error) {
			log.Errorw("forging", "status", "local forging state lost", "ERROR", err)
			log.Sync()
			os.Exit(1)
		},
		EvHandler: ev,
	})

	// =========================================================================
	// Start Debug Service

	log.Infow("startup", "status", "debug v1 router started", "host", cfg.Web.DebugHost)

	debugMux := handlers.DebugMux(build, log, st)

	// Not concerned with shutting this down with load shedding.
	go func() {
		if err := http.ListenAndServe(cfg.Web.DebugHost, debugMux); err != nil {
			log.Errorw("shutdown", "status", "debug v1 router closed", "host", cfg.Web.DebugHost, "ERROR", err)
		}
	}()

	// =========================================================================
	// Service Start/Stop Support

	// Make a channel to listen for an interrupt or terminate signal from the OS.
	// Use a buffered channel because the signal package requires it.
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	// Make a channel to listen for errors coming from the listener. Use a
	// buffered channel so the goroutine can exit if we don't collect this error.
	serverErrors := make(chan error, 1)

	muxCfg := handlers.MuxConfig{
		Shutdown: shutdown,
		Log:      log,
		State:    st,
		Engine:   engine,
		Active:   active,
		NS:       ns,
		Evts:     evts,
	}

	// =========================================================================
	// Start Public Service

	log.Infow("startup", "status", "initializing V1 public API support")

	public := http.Server{
		Addr:         cfg.Web.PublicHost,
		Handler:      handlers.PublicMux(muxCfg),
		ReadTimeout:  cfg.Web.ReadTimeout,
		WriteTimeout: cfg.Web.WriteTimeout,
		IdleTimeout:  cfg.Web.IdleTimeout,
		ErrorLog:     zap.NewStdLog(log.Desugar()),
	}

	go func() {
		log.Infow("startup", "status", "public api router started", "host", public.Addr)
		serverErrors <- public.ListenAndServe()
	}()

	// =========================================================================
	// Start Private Service

	log.Infow("startup", "status", "initializing V1 private API support")

	private := http.Server{
		Addr:         cfg.Web.PrivateHost,
		Handler:      handlers.PrivateMux(muxCfg),
		ReadTimeout:  cfg.Web.ReadTimeout,
		WriteTimeout: cfg.Web.WriteTimeout,
		IdleTimeout:  cfg.Web.IdleTimeout,
		ErrorLog:     zap.NewStdLog(log.Desugar()),
	}

	go func() {
		log.Infow("startup", "status", "private api router started", "host", private.Addr)
		serverErrors <- private.ListenAndServe()
	}()

	// =========================================================================
	// Shutdown

	// Blocking main and waiting for shutdown.
	select {
	case err := <-serverErrors:
		return fmt.Errorf("server error: %w", err)

	case sig := <-shutdown:
		log.Infow("shutdown", "status", "shutdown started", "signal", sig)
		defer log.Infow("shutdown", "status", "shutdown complete", "signal", sig)

		// Release any web sockets that are currently active.
		log.Infow("shutdown", "status", "shutdown web socket channels")
		evts.Shutdown()

		// Give outstanding requests a deadline for completion.
		ctx, cancelPri := context.WithTimeout(context.Background(), cfg.Web.ShutdownTimeout)
		defer cancelPri()

		log.Infow("shutdown", "status", "shutdown private API started")
		if err := private.Shutdown(ctx); err != nil {
			private.Close()
			return fmt.Errorf("could not stop private service gracefully: %w", err)
		}

		ctx, cancelPub := context.WithTimeout(context.Background(), cfg.Web.ShutdownTimeout)
		defer cancelPub()

		log.Infow("shutdown", "status", "shutdown public API started")
		if err := public.Shutdown(ctx); err != nil {
			public.Close()
			return fmt.Errorf("could not stop public service gracefully: %w", err)
		}
	}

	return nil
}
