// Package public maintains the group of handlers for public access to
// the node.
package public

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/dimfeld/httptreemux/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/hubcoin/hubcoin/foundation/blockchain/database"
	"github.com/hubcoin/hubcoin/foundation/blockchain/signature"
	"github.com/hubcoin/hubcoin/foundation/blockchain/state"
	"github.com/hubcoin/hubcoin/foundation/events"
	"github.com/hubcoin/hubcoin/foundation/keystore"
	"go.uber.org/zap"
)

// Config contains all the mandatory systems required by handlers.
type Config struct {
	Log   *zap.SugaredLogger
	State *state.State
	KS    *keystore.KeyStore
	Evts  *events.Events
}

// Routes binds all the version 1 public routes.
func Routes(mux *httptreemux.ContextMux, cfg Config) {
	h := handlers{
		log:      cfg.Log,
		state:    cfg.State,
		ks:       cfg.KS,
		evts:     cfg.Evts,
		validate: validator.New(),
	}

	const version = "/v1"

	mux.Handle(http.MethodGet, version+"/node/status", h.status)
	mux.Handle(http.MethodGet, version+"/accounts/:address/balance", h.balance)
	mux.Handle(http.MethodGet, version+"/accounts/:address/unspent", h.unspent)
	mux.Handle(http.MethodGet, version+"/accounts/:address/payments", h.payments)
	mux.Handle(http.MethodGet, version+"/tx/mempool", h.mempool)
	mux.Handle(http.MethodPost, version+"/tx/send", h.send)
	mux.Handle(http.MethodPost, version+"/mine", h.mine)
	mux.Handle(http.MethodGet, version+"/blocks/list", h.blocks)
	mux.Handle(http.MethodGet, version+"/events", h.events)
}

// =============================================================================

type handlers struct {
	log      *zap.SugaredLogger
	state    *state.State
	ks       *keystore.KeyStore
	evts     *events.Events
	validate *validator.Validate
	ws       websocket.Upgrader
}

// status reports the node's view of the chain and the network.
func (h handlers) status(w http.ResponseWriter, r *http.Request) {
	height, err := h.state.QueryHeight()
	if err != nil {
		respondError(w, http.StatusInternalServerError, err)
		return
	}

	latest, err := h.state.QueryLatestBlockHash()
	if err != nil {
		respondError(w, http.StatusInternalServerError, err)
		return
	}

	supply, err := h.state.QueryCirculatingSupply()
	if err != nil {
		respondError(w, http.StatusInternalServerError, err)
		return
	}

	mempool, err := h.state.QueryMempoolLength()
	if err != nil {
		respondError(w, http.StatusInternalServerError, err)
		return
	}

	var peers []string
	for _, p := range h.state.RetrieveKnownPeers() {
		peers = append(peers, p.String())
	}

	respond(w, http.StatusOK, status{
		Role:              string(h.state.Role()),
		Height:            height,
		LatestBlockHash:   latest,
		CirculatingSupply: supply,
		MempoolLength:     mempool,
		KnownPeers:        peers,
		MinerAddress:      h.state.MinerAddress(),
	})
}

// balance returns the sum of unspent output values for an address.
func (h handlers) balance(w http.ResponseWriter, r *http.Request) {
	addr, err := database.ToAddress(httptreemux.ContextParams(r.Context())["address"])
	if err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}

	value, err := h.state.QueryBalance(addr)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err)
		return
	}

	respond(w, http.StatusOK, balance{Address: addr, Balance: value})
}

// unspent returns the unspent output entries for an address.
func (h handlers) unspent(w http.ResponseWriter, r *http.Request) {
	addr, err := database.ToAddress(httptreemux.ContextParams(r.Context())["address"])
	if err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}

	utxos, err := h.state.QueryUnspent(addr)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err)
		return
	}

	respond(w, http.StatusOK, utxos)
}

// payments returns the payment history for the key whose address matches
// the route, resolved through the node's keystore.
func (h handlers) payments(w http.ResponseWriter, r *http.Request) {
	addr, err := database.ToAddress(httptreemux.ContextParams(r.Context())["address"])
	if err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}

	names, err := h.ks.Copy()
	if err != nil {
		respondError(w, http.StatusInternalServerError, err)
		return
	}

	name, exists := names[addr]
	if !exists {
		respondError(w, http.StatusNotFound, errors.New("unknown account"))
		return
	}

	privateKey, err := h.ks.Load(name)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err)
		return
	}

	history, err := h.state.QueryPayments(signature.PublicBytes(&privateKey.PublicKey))
	if err != nil {
		respondError(w, http.StatusInternalServerError, err)
		return
	}

	respond(w, http.StatusOK, history)
}

// mempool returns the set of accepted but unmined transactions.
func (h handlers) mempool(w http.ResponseWriter, r *http.Request) {
	txs, err := h.state.QueryMempool()
	if err != nil {
		respondError(w, http.StatusInternalServerError, err)
		return
	}

	respond(w, http.StatusOK, txs)
}

// send creates, signs, and gossips a spend from a keystore account.
func (h handlers) send(w http.ResponseWriter, r *http.Request) {
	traceID := uuid.NewString()

	var req sendTx
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}

	to, err := database.ToAddress(req.To)
	if err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}

	privateKey, err := h.ks.Load(req.From)
	if err != nil {
		respondError(w, http.StatusNotFound, err)
		return
	}

	h.log.Infow("create tran", "traceid", traceID, "from", req.From, "to", req.To, "value", req.Value)

	tx, err := h.state.CreateTransaction(privateKey, to, req.Value)
	if err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}

	respond(w, http.StatusOK, struct {
		Status string        `json:"status"`
		TxHash database.Hash `json:"tx_hash"`
	}{
		Status: "transaction added to mempool",
		TxHash: tx.Hash(),
	})
}

// mine signals the mining worker to produce the next block.
func (h handlers) mine(w http.ResponseWriter, r *http.Request) {
	h.state.Worker.SignalStartMining()

	respond(w, http.StatusAccepted, struct {
		Status string `json:"status"`
	}{
		Status: "mining signaled",
	})
}

// blocks returns the full chain in ascending order.
func (h handlers) blocks(w http.ResponseWriter, r *http.Request) {
	list, err := h.state.QueryBlocks(nil)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err)
		return
	}

	respond(w, http.StatusOK, list)
}

// events handles a web socket to provide node lifecycle events to a
// client.
func (h handlers) events(w http.ResponseWriter, r *http.Request) {
	h.ws.CheckOrigin = func(r *http.Request) bool { return true }

	c, err := h.ws.Upgrade(w, r, nil)
	if err != nil {
		h.log.Infow("events", "ERROR", err)
		return
	}
	defer c.Close()

	id := uuid.NewString()
	ch := h.evts.Acquire(id)
	defer h.evts.Release(id)

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case msg, wd := <-ch:
			if !wd {
				return
			}
			if err := c.WriteMessage(websocket.TextMessage, []byte(msg)); err != nil {
				return
			}

		case <-ticker.C:
			if err := c.WriteMessage(websocket.PingMessage, []byte("ping")); err != nil {
				return
			}
		}
	}
}

// =============================================================================

// respond writes the value as JSON with the specified status code.
func respond(w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(v)
}

// respondError writes the error as a JSON document.
func respondError(w http.ResponseWriter, statusCode int, err error) {
	respond(w, statusCode, struct {
		Error string `json:"error"`
	}{
		Error: err.Error(),
	})
}
