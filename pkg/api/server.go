package api

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/mux"
	"github.com/holiman/uint256"
	"github.com/rs/cors"

	"github.com/uhyunpark/optionvault/pkg/driver"
	"github.com/uhyunpark/optionvault/pkg/fixed"
	"github.com/uhyunpark/optionvault/pkg/storage"
	"github.com/uhyunpark/optionvault/pkg/token"
	"github.com/uhyunpark/optionvault/pkg/vault"
)

// Server exposes the vault's participant operations, keeper commands
// and views over REST, and the event feed over WebSocket.
//
// Caller identity comes from the X-Caller header as a hex address;
// request authentication is the deployment's concern, not the core's.
type Server struct {
	drv    *driver.Driver
	store  *storage.Store
	router *mux.Router
	hub    *Hub
}

func NewServer(drv *driver.Driver, store *storage.Store) *Server {
	s := &Server{
		drv:    drv,
		store:  store,
		router: mux.NewRouter(),
		hub:    NewHub(),
	}
	s.setupRoutes()
	return s
}

// EventSink returns the sink that feeds the WebSocket hub.
func (s *Server) EventSink() Sink { return Sink{Hub: s.hub} }

func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api/v1").Subrouter()

	// views
	api.HandleFunc("/vault", s.handleGetVault).Methods("GET")
	api.HandleFunc("/vault/options/{epoch}", s.handleGetOption).Methods("GET")
	api.HandleFunc("/auctions/{epoch}", s.handleGetAuction).Methods("GET")
	api.HandleFunc("/auctions/{epoch}/orders/{id}", s.handleGetOrder).Methods("GET")
	api.HandleFunc("/auctions/{epoch}/preview-withdraw", s.handlePreviewWithdraw).Methods("GET")
	api.HandleFunc("/buyers/{address}/epochs", s.handleGetBuyerEpochs).Methods("GET")
	api.HandleFunc("/queue", s.handleGetQueue).Methods("GET")
	api.HandleFunc("/queue/unredeemed/{tokenId}", s.handlePreviewUnredeemed).Methods("GET")
	api.HandleFunc("/events", s.handleGetEvents).Methods("GET")

	// keeper commands
	api.HandleFunc("/keeper/init-auction", s.keeperCmd((*vault.Vault).InitializeAuction)).Methods("POST")
	api.HandleFunc("/keeper/init-epoch", s.keeperCmd((*vault.Vault).InitializeEpoch)).Methods("POST")
	api.HandleFunc("/keeper/process-auction", s.keeperCmd((*vault.Vault).ProcessAuction)).Methods("POST")

	// auction participation
	api.HandleFunc("/orders", s.handleSubmitOrder).Methods("POST")
	api.HandleFunc("/orders/cancel", s.handleCancelOrder).Methods("POST")
	api.HandleFunc("/auctions/{epoch}/finalize", s.handleFinalizeAuction).Methods("POST")
	api.HandleFunc("/auctions/{epoch}/withdraw", s.handleAuctionWithdraw).Methods("POST")

	// deposit queue
	api.HandleFunc("/queue/deposit", s.handleDeposit).Methods("POST")
	api.HandleFunc("/queue/cancel", s.handleQueueCancel).Methods("POST")
	api.HandleFunc("/queue/redeem", s.handleRedeem).Methods("POST")
	api.HandleFunc("/queue/redeem-max", s.handleRedeemMax).Methods("POST")

	// vault shares
	api.HandleFunc("/vault/withdraw", s.handleVaultWithdraw).Methods("POST")
	api.HandleFunc("/vault/redeem", s.handleVaultRedeem).Methods("POST")

	// WebSocket event feed
	s.router.HandleFunc("/ws", s.handleWebSocket)

	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
}

// Start runs the HTTP server.
func (s *Server) Start(addr string) error {
	go s.hub.Run()

	c := cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "X-Caller"},
		AllowCredentials: false,
	})

	log.Printf("[api] server starting on %s", addr)
	return http.ListenAndServe(addr, c.Handler(s.router))
}

// ==============================
// helpers
// ==============================

func respondJSON(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, msg, details string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(ErrorResponse{Error: msg, Details: details})
}

func caller(r *http.Request) (common.Address, error) {
	h := r.Header.Get("X-Caller")
	if h == "" {
		return common.Address{}, fmt.Errorf("missing X-Caller header")
	}
	if !common.IsHexAddress(h) {
		return common.Address{}, fmt.Errorf("bad X-Caller address %q", h)
	}
	return common.HexToAddress(h), nil
}

func pathEpoch(r *http.Request) (uint64, error) {
	return strconv.ParseUint(mux.Vars(r)["epoch"], 10, 64)
}

func parseAmount(s string) (*uint256.Int, error) {
	if s == "" {
		return nil, fmt.Errorf("missing amount")
	}
	return uint256.FromDecimal(s)
}

func decodeBody(r *http.Request, v any) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(v)
}

// submit runs a command through the driver with the request context.
func (s *Server) submit(r *http.Request, cmd driver.Command) (any, error) {
	return s.drv.Submit(r.Context(), cmd)
}

// ==============================
// view handlers
// ==============================

func (s *Server) handleGetVault(w http.ResponseWriter, r *http.Request) {
	info := s.drv.View(func(v *vault.Vault) any {
		return VaultInfo{
			Epoch:                  v.GetEpoch(),
			IsCall:                 v.IsCall(),
			TotalAssets:            v.TotalAssets().Dec(),
			TotalCollateral:        v.TotalCollateral().Dec(),
			TotalReserves:          v.TotalReserves().Dec(),
			TotalShortAsContracts:  v.TotalShortAsContracts().Dec(),
			TotalShortAsCollateral: v.TotalShortAsCollateral().Dec(),
			ShareSupply:            v.Shares().TotalSupply().Dec(),
			WithdrawalsLocked:      v.CheckWithdrawalLock() != nil,
		}
	})
	respondJSON(w, info)
}

func (s *Server) handleGetOption(w http.ResponseWriter, r *http.Request) {
	epoch, err := pathEpoch(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "bad epoch", err.Error())
		return
	}
	info := s.drv.View(func(v *vault.Vault) any {
		opt := v.GetOption(epoch)
		return OptionInfo{
			Epoch:        epoch,
			Expiry:       opt.Expiry,
			Strike:       opt.Strike.String(),
			LongTokenID:  opt.LongTokenID.String(),
			ShortTokenID: opt.ShortTokenID.String(),
		}
	})
	respondJSON(w, info)
}

func (s *Server) handleGetAuction(w http.ResponseWriter, r *http.Request) {
	epoch, err := pathEpoch(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "bad epoch", err.Error())
		return
	}
	info := s.drv.View(func(v *vault.Vault) any {
		a := v.Auction().GetAuction(epoch)
		return AuctionInfo{
			Epoch:              epoch,
			Status:             a.Status.String(),
			Expiry:             a.Expiry,
			Strike:             a.Strike.String(),
			MaxPrice:           a.MaxPrice.String(),
			MinPrice:           a.MinPrice.String(),
			LastPrice:          a.LastPrice.String(),
			ClearingPrice:      v.Auction().ClearingPrice64x64(epoch).String(),
			StartTime:          a.StartTime,
			EndTime:            a.EndTime,
			ProcessedTime:      a.ProcessedTime,
			TotalContracts:     a.TotalContracts.Dec(),
			TotalContractsSold: a.TotalContractsSold.Dec(),
			TotalPremiums:      a.TotalPremiums.Dec(),
		}
	})
	respondJSON(w, info)
}

func (s *Server) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	epoch, err := pathEpoch(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "bad epoch", err.Error())
		return
	}
	id, err := strconv.ParseUint(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "bad order id", err.Error())
		return
	}
	info := s.drv.View(func(v *vault.Vault) any {
		o := v.Auction().GetOrderByID(epoch, id)
		return OrderInfo{
			ID:    o.ID,
			Price: o.Price.String(),
			Size:  o.Size.Dec(),
			Buyer: o.Buyer.Hex(),
		}
	})
	respondJSON(w, info)
}

func (s *Server) handlePreviewWithdraw(w http.ResponseWriter, r *http.Request) {
	epoch, err := pathEpoch(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "bad epoch", err.Error())
		return
	}
	buyerHex := r.URL.Query().Get("buyer")
	if !common.IsHexAddress(buyerHex) {
		respondError(w, http.StatusBadRequest, "bad buyer address", buyerHex)
		return
	}
	buyer := common.HexToAddress(buyerHex)
	result := s.drv.View(func(v *vault.Vault) any {
		refund, fill, err := v.Auction().PreviewWithdraw(epoch, buyer)
		if err != nil {
			return ErrorResponse{Error: "preview failed", Details: err.Error()}
		}
		return PreviewWithdrawResult{Refund: refund.Dec(), Fill: fill.Dec()}
	})
	respondJSON(w, result)
}

func (s *Server) handleGetBuyerEpochs(w http.ResponseWriter, r *http.Request) {
	addr := mux.Vars(r)["address"]
	if !common.IsHexAddress(addr) {
		respondError(w, http.StatusBadRequest, "bad address", addr)
		return
	}
	buyer := common.HexToAddress(addr)
	epochs := s.drv.View(func(v *vault.Vault) any {
		return v.Auction().GetEpochsByBuyer(buyer)
	})
	respondJSON(w, epochs)
}

func (s *Server) handleGetQueue(w http.ResponseWriter, r *http.Request) {
	info := s.drv.View(func(v *vault.Vault) any {
		q := v.Queue()
		return QueueInfo{
			CurrentTokenID:        q.CurrentTokenID().String(),
			Epoch:                 q.Epoch(),
			TotalQueuedCollateral: q.TotalQueuedCollateral().Dec(),
		}
	})
	respondJSON(w, info)
}

func (s *Server) handlePreviewUnredeemed(w http.ResponseWriter, r *http.Request) {
	id, err := parseTokenID(mux.Vars(r)["tokenId"])
	if err != nil {
		respondError(w, http.StatusBadRequest, "bad token id", err.Error())
		return
	}
	holderHex := r.URL.Query().Get("holder")
	if !common.IsHexAddress(holderHex) {
		respondError(w, http.StatusBadRequest, "bad holder address", holderHex)
		return
	}
	holder := common.HexToAddress(holderHex)
	shares := s.drv.View(func(v *vault.Vault) any {
		return v.Queue().PreviewUnredeemed(id, holder).Dec()
	})
	respondJSON(w, map[string]any{"shares": shares})
}

func parseTokenID(s string) (token.ID, error) {
	v, err := uint256.FromHex(s)
	if err != nil {
		return token.ID{}, err
	}
	return token.IDFromUint(v), nil
}

func (s *Server) handleGetEvents(w http.ResponseWriter, r *http.Request) {
	n := 100
	if q := r.URL.Query().Get("n"); q != "" {
		if parsed, err := strconv.Atoi(q); err == nil && parsed > 0 && parsed <= 1000 {
			n = parsed
		}
	}
	records, err := s.store.Recent(n)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "journal read failed", err.Error())
		return
	}
	respondJSON(w, records)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, map[string]string{"status": "ok"})
}

// ==============================
// mutating handlers
// ==============================

func (s *Server) keeperCmd(fn func(*vault.Vault, common.Address) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		from, err := caller(r)
		if err != nil {
			respondError(w, http.StatusUnauthorized, "caller required", err.Error())
			return
		}
		if _, err := s.submit(r, func(v *vault.Vault) (any, error) {
			return nil, fn(v, from)
		}); err != nil {
			respondError(w, http.StatusConflict, "keeper command failed", err.Error())
			return
		}
		respondJSON(w, map[string]string{"status": "ok"})
	}
}

func (s *Server) handleSubmitOrder(w http.ResponseWriter, r *http.Request) {
	from, err := caller(r)
	if err != nil {
		respondError(w, http.StatusUnauthorized, "caller required", err.Error())
		return
	}
	var req OrderRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "bad request body", err.Error())
		return
	}
	size, err := parseAmount(req.Size)
	if err != nil {
		respondError(w, http.StatusBadRequest, "bad size", err.Error())
		return
	}

	result, err := s.submit(r, func(v *vault.Vault) (any, error) {
		switch req.Type {
		case "limit":
			price, err := fixed.FromDec(req.Price)
			if err != nil {
				return nil, err
			}
			return v.Auction().AddLimitOrder(from, req.Epoch, price, size)
		case "market":
			var maxCost *uint256.Int
			if req.MaxCost != "" {
				var err error
				if maxCost, err = parseAmount(req.MaxCost); err != nil {
					return nil, err
				}
			}
			return v.Auction().AddMarketOrder(from, req.Epoch, size, maxCost)
		default:
			return nil, fmt.Errorf("unknown order type %q", req.Type)
		}
	})
	if err != nil {
		respondError(w, http.StatusConflict, "order rejected", err.Error())
		return
	}
	respondJSON(w, map[string]any{"orderId": result})
}

func (s *Server) handleCancelOrder(w http.ResponseWriter, r *http.Request) {
	from, err := caller(r)
	if err != nil {
		respondError(w, http.StatusUnauthorized, "caller required", err.Error())
		return
	}
	var req CancelOrderRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "bad request body", err.Error())
		return
	}
	if _, err := s.submit(r, func(v *vault.Vault) (any, error) {
		return nil, v.Auction().CancelLimitOrder(from, req.Epoch, req.OrderID)
	}); err != nil {
		respondError(w, http.StatusConflict, "cancel rejected", err.Error())
		return
	}
	respondJSON(w, map[string]string{"status": "ok"})
}

func (s *Server) handleFinalizeAuction(w http.ResponseWriter, r *http.Request) {
	epoch, err := pathEpoch(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "bad epoch", err.Error())
		return
	}
	if _, err := s.submit(r, func(v *vault.Vault) (any, error) {
		return nil, v.Auction().FinalizeAuction(epoch)
	}); err != nil {
		respondError(w, http.StatusConflict, "finalize rejected", err.Error())
		return
	}
	respondJSON(w, map[string]string{"status": "ok"})
}

func (s *Server) handleAuctionWithdraw(w http.ResponseWriter, r *http.Request) {
	from, err := caller(r)
	if err != nil {
		respondError(w, http.StatusUnauthorized, "caller required", err.Error())
		return
	}
	epoch, err := pathEpoch(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "bad epoch", err.Error())
		return
	}
	result, err := s.submit(r, func(v *vault.Vault) (any, error) {
		refund, fill, err := v.Auction().Withdraw(from, epoch)
		if err != nil {
			return nil, err
		}
		return PreviewWithdrawResult{Refund: refund.Dec(), Fill: fill.Dec()}, nil
	})
	if err != nil {
		respondError(w, http.StatusConflict, "withdraw rejected", err.Error())
		return
	}
	respondJSON(w, result)
}

func (s *Server) handleDeposit(w http.ResponseWriter, r *http.Request) {
	from, err := caller(r)
	if err != nil {
		respondError(w, http.StatusUnauthorized, "caller required", err.Error())
		return
	}
	var req AmountRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "bad request body", err.Error())
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		respondError(w, http.StatusBadRequest, "bad amount", err.Error())
		return
	}
	if _, err := s.submit(r, func(v *vault.Vault) (any, error) {
		return nil, v.Queue().Deposit(from, amount)
	}); err != nil {
		respondError(w, http.StatusConflict, "deposit rejected", err.Error())
		return
	}
	respondJSON(w, map[string]string{"status": "ok"})
}

func (s *Server) handleQueueCancel(w http.ResponseWriter, r *http.Request) {
	from, err := caller(r)
	if err != nil {
		respondError(w, http.StatusUnauthorized, "caller required", err.Error())
		return
	}
	var req AmountRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "bad request body", err.Error())
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		respondError(w, http.StatusBadRequest, "bad amount", err.Error())
		return
	}
	if _, err := s.submit(r, func(v *vault.Vault) (any, error) {
		return nil, v.Queue().Cancel(from, amount)
	}); err != nil {
		respondError(w, http.StatusConflict, "cancel rejected", err.Error())
		return
	}
	respondJSON(w, map[string]string{"status": "ok"})
}

func (s *Server) handleRedeem(w http.ResponseWriter, r *http.Request) {
	from, err := caller(r)
	if err != nil {
		respondError(w, http.StatusUnauthorized, "caller required", err.Error())
		return
	}
	var req RedeemRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "bad request body", err.Error())
		return
	}
	id, err := parseTokenID(req.TokenID)
	if err != nil {
		respondError(w, http.StatusBadRequest, "bad token id", err.Error())
		return
	}
	receiver := from
	if req.Receiver != "" {
		if !common.IsHexAddress(req.Receiver) {
			respondError(w, http.StatusBadRequest, "bad receiver", req.Receiver)
			return
		}
		receiver = common.HexToAddress(req.Receiver)
	}
	if _, err := s.submit(r, func(v *vault.Vault) (any, error) {
		return nil, v.Queue().Redeem(from, id, receiver)
	}); err != nil {
		respondError(w, http.StatusConflict, "redeem rejected", err.Error())
		return
	}
	respondJSON(w, map[string]string{"status": "ok"})
}

func (s *Server) handleRedeemMax(w http.ResponseWriter, r *http.Request) {
	from, err := caller(r)
	if err != nil {
		respondError(w, http.StatusUnauthorized, "caller required", err.Error())
		return
	}
	var req RedeemRequest
	_ = decodeBody(r, &req) // body optional
	receiver := from
	if req.Receiver != "" {
		if !common.IsHexAddress(req.Receiver) {
			respondError(w, http.StatusBadRequest, "bad receiver", req.Receiver)
			return
		}
		receiver = common.HexToAddress(req.Receiver)
	}
	if _, err := s.submit(r, func(v *vault.Vault) (any, error) {
		return nil, v.Queue().RedeemMax(from, receiver)
	}); err != nil {
		respondError(w, http.StatusConflict, "redeem rejected", err.Error())
		return
	}
	respondJSON(w, map[string]string{"status": "ok"})
}

func (s *Server) handleVaultWithdraw(w http.ResponseWriter, r *http.Request) {
	s.handleShareExit(w, r, true)
}

func (s *Server) handleVaultRedeem(w http.ResponseWriter, r *http.Request) {
	s.handleShareExit(w, r, false)
}

func (s *Server) handleShareExit(w http.ResponseWriter, r *http.Request, byAssets bool) {
	from, err := caller(r)
	if err != nil {
		respondError(w, http.StatusUnauthorized, "caller required", err.Error())
		return
	}
	var req WithdrawRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "bad request body", err.Error())
		return
	}
	raw := req.Assets
	if !byAssets {
		raw = req.Shares
	}
	amount, err := parseAmount(raw)
	if err != nil {
		respondError(w, http.StatusBadRequest, "bad amount", err.Error())
		return
	}
	receiver, owner := from, from
	if req.Receiver != "" {
		if !common.IsHexAddress(req.Receiver) {
			respondError(w, http.StatusBadRequest, "bad receiver", req.Receiver)
			return
		}
		receiver = common.HexToAddress(req.Receiver)
	}
	if req.Owner != "" {
		if !common.IsHexAddress(req.Owner) {
			respondError(w, http.StatusBadRequest, "bad owner", req.Owner)
			return
		}
		owner = common.HexToAddress(req.Owner)
	}
	if _, err := s.submit(r, func(v *vault.Vault) (any, error) {
		if byAssets {
			return nil, v.Withdraw(from, receiver, owner, amount)
		}
		return nil, v.Redeem(from, receiver, owner, amount)
	}); err != nil {
		respondError(w, http.StatusConflict, "withdraw rejected", err.Error())
		return
	}
	respondJSON(w, map[string]string{"status": "ok"})
}
