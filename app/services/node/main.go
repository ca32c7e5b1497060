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
	"github.com/hubcoin/hubcoin/app/services/node/handlers"
	"github.com/hubcoin/hubcoin/foundation/blockchain/addrbook"
	"github.com/hubcoin/hubcoin/foundation/blockchain/chain"
	"github.com/hubcoin/hubcoin/foundation/blockchain/peer"
	"github.com/hubcoin/hubcoin/foundation/blockchain/signature"
	"github.com/hubcoin/hubcoin/foundation/blockchain/state"
	"github.com/hubcoin/hubcoin/foundation/blockchain/storage/sqlite"
	"github.com/hubcoin/hubcoin/foundation/blockchain/transport"
	"github.com/hubcoin/hubcoin/foundation/blockchain/worker"
	"github.com/hubcoin/hubcoin/foundation/events"
	"github.com/hubcoin/hubcoin/foundation/keystore"
	"github.com/hubcoin/hubcoin/foundation/logger"
	"go.uber.org/zap"
)

// build is the git version of this program. It can be set at build time
// with -ldflags.
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
			APIHost         string        `conf:"default:0.0.0.0:7080"`
			ReadTimeout     time.Duration `conf:"default:5s"`
			WriteTimeout    time.Duration `conf:"default:10s"`
			IdleTimeout     time.Duration `conf:"default:120s"`
			ShutdownTimeout time.Duration `conf:"default:20s"`
		}
		Node struct {
			Role         string        `conf:"default:peer"`
			ListenHost   string        `conf:"default:0.0.0.0"`
			ListenPort   uint          `conf:"default:0"`
			CentralHost  string        `conf:"default:127.0.0.1"`
			CentralPort  uint          `conf:"default:8333"`
			Difficulty   uint          `conf:"default:3"`
			PingInterval time.Duration `conf:"default:10s"`
			MinerName    string        `conf:"default:miner1"`
			StorePath    string        `conf:"default:zblock/chain.db"`
			AddrBookPath string        `conf:"default:zblock/peers.db"`
			KeysFolder   string        `conf:"default:zblock/keys/"`
		}
	}{
		Version: conf.Version{
			Build: build,
			Desc:  "copyright information here",
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
	// Key Support

	// The miner key credits this node with block rewards. It is created
	// on first start.
	ks, err := keystore.New(cfg.Node.KeysFolder)
	if err != nil {
		return fmt.Errorf("unable to open keystore: %w", err)
	}

	privateKey, err := ks.LoadOrGenerate(cfg.Node.MinerName)
	if err != nil {
		return fmt.Errorf("unable to load miner key: %w", err)
	}
	minerAddress := signature.PublicKeyToAddress(&privateKey.PublicKey)

	names, err := ks.Copy()
	if err != nil {
		return fmt.Errorf("unable to list keystore: %w", err)
	}
	for addr, name := range names {
		log.Infow("startup", "status", "keystore", "name", name, "address", addr)
	}

	// =========================================================================
	// Blockchain Support

	store, err := sqlite.New(cfg.Node.StorePath)
	if err != nil {
		return fmt.Errorf("unable to open block store: %w", err)
	}
	defer store.Close()

	book, err := addrbook.New(cfg.Node.AddrBookPath)
	if err != nil {
		return fmt.Errorf("unable to open address book: %w", err)
	}
	defer book.Close()

	// The blockchain packages accept a function of this signature to
	// allow the application to log. These raw messages are also sent to
	// any websocket client connected through the events package.
	evts := events.New()
	defer evts.Shutdown()

	ev := func(v string, args ...any) {
		s := fmt.Sprintf(v, args...)
		log.Infow(s)
		evts.Send(s)
	}

	// The hub listens on its well known port unless told otherwise.
	listenPort := uint32(cfg.Node.ListenPort)
	if listenPort == 0 && state.Role(cfg.Node.Role) == state.RoleCentral {
		listenPort = uint32(cfg.Node.CentralPort)
	}

	trans := transport.New(cfg.Node.ListenHost, listenPort, ev)

	st, err := state.New(state.Config{
		Role:         state.Role(cfg.Node.Role),
		MinerAddress: minerAddress,
		CentralHost:  cfg.Node.CentralHost,
		CentralPort:  uint32(cfg.Node.CentralPort),
		Difficulty:   uint32(cfg.Node.Difficulty),
		PingInterval: cfg.Node.PingInterval,
		Chain:        chain.New(store),
		KnownPeers:   peer.NewPeerSet(),
		AddressBook:  book,
		Transport:    trans,
		EvHandler:    ev,
	})
	if err != nil {
		return err
	}

	if err := st.Connect(); err != nil {
		return fmt.Errorf("unable to start node: %w", err)
	}
	defer st.Disconnect()

	// The worker package implements the mining and liveness workflows.
	// The worker will register itself with the state.
	worker.Run(st, ev)

	// =========================================================================
	// Start Ops API Service

	log.Infow("startup", "status", "ops API router started", "host", cfg.Web.APIHost)

	mux := handlers.PublicMux(handlers.MuxConfig{
		Log:   log,
		State: st,
		KS:    ks,
		Evts:  evts,
	})

	api := http.Server{
		Addr:         cfg.Web.APIHost,
		Handler:      mux,
		ReadTimeout:  cfg.Web.ReadTimeout,
		WriteTimeout: cfg.Web.WriteTimeout,
		IdleTimeout:  cfg.Web.IdleTimeout,
	}

	serverErrors := make(chan error, 1)

	go func() {
		serverErrors <- api.ListenAndServe()
	}()

	// =========================================================================
	// Service Start/Stop Support

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		return fmt.Errorf("server error: %w", err)

	case sig := <-shutdown:
		log.Infow("shutdown", "status", "shutdown started", "signal", sig)
		defer log.Infow("shutdown", "status", "shutdown complete", "signal", sig)

		ctx, cancel := context.WithTimeout(context.Background(), cfg.Web.ShutdownTimeout)
		defer cancel()

		if err := api.Shutdown(ctx); err != nil {
			api.Close()
			return fmt.Errorf("could not stop server gracefully: %w", err)
		}
	}

	return nil
}
