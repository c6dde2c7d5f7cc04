package main

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/flashbots/go-utils/httplogger"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/cloudx-io/openbid/archive"
	"github.com/cloudx-io/openbid/enclaveapi"
)

// API relays HTTP requests to the auction service frame protocol and
// serves the archived settlement record.
type API struct {
	house       *HouseClient
	hub         *Hub
	archiver    *Archiver
	settlements archive.SettlementStore
	auctionID   string
	log         *slog.Logger
}

func NewAPI(house *HouseClient, hub *Hub, archiver *Archiver, settlements archive.SettlementStore, auctionID string, log *slog.Logger) *API {
	return &API{
		house:       house,
		hub:         hub,
		archiver:    archiver,
		settlements: settlements,
		auctionID:   auctionID,
		log:         log,
	}
}

// RegisterRoutes registers the auction API under /api/v1.
func (a *API) RegisterRoutes(r chi.Router) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(a.httpLogger)
			r.Post("/deposits", a.handleDeposit)
			r.Post("/bids", a.handlePlaceBid)
			r.Post("/finalize", a.handleFinalize)
			r.Post("/withdrawals", a.handleWithdraw)
			r.Post("/admin/transfer", a.handleAdminTransfer)
			r.Get("/status", a.handleStatus)
			r.Get("/winner", a.handleWinner)
			r.Get("/bidders", a.handleBidders)
			r.Get("/key", a.handleKey)
			r.Get("/receipts/latest", a.handleLatestReceipt)
		})

		// The upgrade needs the raw ResponseWriter; the request logger's
		// recorder does not pass Hijack through.
		r.Get("/events", a.hub.handleEvents)
	})
}

func (a *API) httpLogger(next http.Handler) http.Handler {
	return httplogger.LoggingMiddlewareSlog(a.log, next)
}

func newRequestID() string {
	return uuid.New().String()
}

func (a *API) handleDeposit(w http.ResponseWriter, r *http.Request) {
	var req enclaveapi.DepositRequest
	if !decodeBody(w, r, &req) {
		return
	}
	req.Type = enclaveapi.TypeDeposit
	stampRequestID(&req.RequestID)
	a.relay(w, r, req)
}

func (a *API) handlePlaceBid(w http.ResponseWriter, r *http.Request) {
	var req enclaveapi.PlaceBidRequest
	if !decodeBody(w, r, &req) {
		return
	}
	req.Type = enclaveapi.TypePlaceBid
	stampRequestID(&req.RequestID)
	a.relay(w, r, req)
}

func (a *API) handleFinalize(w http.ResponseWriter, r *http.Request) {
	var req enclaveapi.FinalizeRequest
	if !decodeBody(w, r, &req) {
		return
	}
	req.Type = enclaveapi.TypeFinalize
	stampRequestID(&req.RequestID)

	raw := a.relay(w, r, req)
	if raw == nil {
		return
	}

	var resp enclaveapi.FinalizeResponse
	if err := json.Unmarshal(raw, &resp); err != nil || !resp.Success || resp.Receipt == "" {
		return
	}
	if err := a.archiver.RecordSettlement(r.Context(), &resp); err != nil {
		a.log.Error("failed to archive settlement", "err", err)
	}
}

func (a *API) handleWithdraw(w http.ResponseWriter, r *http.Request) {
	var req enclaveapi.WithdrawRequest
	if !decodeBody(w, r, &req) {
		return
	}
	req.Type = enclaveapi.TypeWithdraw
	stampRequestID(&req.RequestID)
	a.relay(w, r, req)
}

func (a *API) handleAdminTransfer(w http.ResponseWriter, r *http.Request) {
	var req enclaveapi.AdminTransferRequest
	if !decodeBody(w, r, &req) {
		return
	}
	req.Type = enclaveapi.TypeAdminTransfer
	stampRequestID(&req.RequestID)
	a.relay(w, r, req)
}

func (a *API) handleStatus(w http.ResponseWriter, r *http.Request) {
	a.relay(w, r, enclaveapi.StatusRequest{Type: enclaveapi.TypeStatus, RequestID: newRequestID()})
}

func (a *API) handleWinner(w http.ResponseWriter, r *http.Request) {
	a.relay(w, r, enclaveapi.WinnerRequest{Type: enclaveapi.TypeWinner, RequestID: newRequestID()})
}

func (a *API) handleBidders(w http.ResponseWriter, r *http.Request) {
	a.relay(w, r, enclaveapi.BiddersRequest{Type: enclaveapi.TypeBidders, RequestID: newRequestID()})
}

func (a *API) handleKey(w http.ResponseWriter, r *http.Request) {
	a.relay(w, r, enclaveapi.KeyRequest{Type: enclaveapi.TypeKeyRequest, RequestID: newRequestID()})
}

// handleLatestReceipt serves the archived settlement, which carries the
// signed receipt for offline verification.
func (a *API) handleLatestReceipt(w http.ResponseWriter, r *http.Request) {
	settlement, err := a.settlements.Get(r.Context(), a.auctionID)
	if errors.Is(err, archive.ErrNotFound) {
		writeError(w, http.StatusNotFound, "not_found", "no settlement archived yet")
		return
	}
	if err != nil {
		a.log.Error("failed to load settlement", "err", err)
		writeError(w, http.StatusInternalServerError, enclaveapi.ErrorInternal, "archive lookup failed")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(settlement); err != nil {
		a.log.Error("failed to encode settlement", "err", err)
	}
}

// relay forwards one frame to the auction service and writes its reply
// back with a status derived from the frame error code. It returns the
// raw reply, or nil when the round trip failed and an error response
// has already been written.
func (a *API) relay(w http.ResponseWriter, r *http.Request, req any) json.RawMessage {
	raw, err := a.house.RoundTrip(r.Context(), req)
	if err != nil {
		a.log.Error("auction service round trip failed", "err", err)
		writeError(w, http.StatusBadGateway, enclaveapi.ErrorInternal, "auction service unreachable")
		return nil
	}

	var resp enclaveapi.Response
	if err := json.Unmarshal(raw, &resp); err != nil {
		a.log.Error("auction service sent malformed response", "err", err)
		writeError(w, http.StatusBadGateway, enclaveapi.ErrorInternal, "malformed auction service response")
		return nil
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusForResponse(resp))
	if _, err := w.Write(raw); err != nil {
		a.log.Error("failed to write response", "err", err)
	}
	return raw
}

// statusForResponse maps frame error codes onto HTTP statuses: caller
// mistakes to 4xx, auction state conflicts to 409, downstream transfer
// failures to 502.
func statusForResponse(resp enclaveapi.Response) int {
	if resp.Success {
		return http.StatusOK
	}
	switch resp.Error {
	case enclaveapi.ErrorBadRequest, enclaveapi.ErrorInvalidAccount, enclaveapi.ErrorInvalidAmount:
		return http.StatusBadRequest
	case enclaveapi.ErrorBadSignature, enclaveapi.ErrorNotAdmin:
		return http.StatusForbidden
	case enclaveapi.ErrorNonceUsed,
		enclaveapi.ErrorAuctionClosed,
		enclaveapi.ErrorNotYetClosed,
		enclaveapi.ErrorInsufficientBid,
		enclaveapi.ErrorWinnerCannotWithdraw,
		enclaveapi.ErrorNoFunds,
		enclaveapi.ErrorNoDeposit,
		enclaveapi.ErrorNoExcess:
		return http.StatusConflict
	case enclaveapi.ErrorTransferFailed:
		return http.StatusBadGateway
	case enclaveapi.ErrorBusy:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, enclaveapi.ErrorBadRequest, "malformed JSON body")
		return false
	}
	return true
}

// stampRequestID fills in a request id unless the caller supplied one.
func stampRequestID(id *string) {
	if *id == "" {
		*id = newRequestID()
	}
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(enclaveapi.Response{
		Success: false,
		Error:   code,
		Message: message,
	})
}
