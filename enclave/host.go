package main

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"math/big"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cloudx-io/openbid/core"
	"github.com/cloudx-io/openbid/enclaveapi"
	"github.com/cloudx-io/openbid/funds"
	"github.com/cloudx-io/openbid/identity"
	"github.com/cloudx-io/openbid/journal"
)

// Host-level request rejections that have no engine sentinel.
var (
	errBadRequest = errors.New("bad request")
	errNonceUsed  = errors.New("nonce already used")
)

// AuctionHost owns the auction behind the frame protocol: the escrow
// engine, vault, roles, journal, signing key, and event hub. One mutex
// serializes every mutating command together with its journal append, so
// the journal replays in engine order; queries go straight to the
// engine's own lock.
type AuctionHost struct {
	auctionID string

	mu      sync.Mutex
	clock   int64
	seq     uint64
	engine  *core.Engine
	vault   *funds.Vault
	roles   *funds.Roles
	journal journal.Journal

	keys     *KeyManager
	attester EnclaveAttester
	hub      *EventHub
	nonces   *NonceRegistry
	nowFn    func() int64
}

// HostConfig carries the collaborators NewAuctionHost wires together.
// Journal and Nonces may be nil; they default to NopJournal and a fresh
// registry. StartSeq seeds the journal sequence after recovery.
type HostConfig struct {
	AuctionID string
	Engine    *core.Engine
	Vault     *funds.Vault
	Roles     *funds.Roles
	Journal   journal.Journal
	Keys      *KeyManager
	Attester  EnclaveAttester
	Hub       *EventHub
	Nonces    *NonceRegistry
	StartSeq  uint64
}

func NewAuctionHost(cfg HostConfig) *AuctionHost {
	h := &AuctionHost{
		auctionID: cfg.AuctionID,
		seq:       cfg.StartSeq,
		engine:    cfg.Engine,
		vault:     cfg.Vault,
		roles:     cfg.Roles,
		journal:   cfg.Journal,
		keys:      cfg.Keys,
		attester:  cfg.Attester,
		hub:       cfg.Hub,
		nonces:    cfg.Nonces,
		nowFn:     func() int64 { return time.Now().Unix() },
	}
	if h.journal == nil {
		h.journal = journal.NopJournal{}
	}
	if h.nonces == nil {
		h.nonces = NewNonceRegistry()
	}
	// The engine reads the command clock pinned by pinNow, so one
	// command sees one time and the journal replays the same decisions.
	h.engine.SetNowFunc(func() int64 { return h.clock })
	return h
}

// Handle decodes one request frame and runs its handler. The returned
// value is the response to encode back to the client.
func (h *AuctionHost) Handle(frameType string, raw []byte) any {
	switch frameType {
	case enclaveapi.TypePing:
		return h.handlePing(raw)
	case enclaveapi.TypeKeyRequest:
		return h.handleKeyRequest(raw)
	case enclaveapi.TypeDeposit:
		return h.handleDeposit(raw)
	case enclaveapi.TypePlaceBid:
		return h.handlePlaceBid(raw)
	case enclaveapi.TypeFinalize:
		return h.handleFinalize(raw)
	case enclaveapi.TypeWithdraw:
		return h.handleWithdraw(raw)
	case enclaveapi.TypeAdminTransfer:
		return h.handleAdminTransfer(raw)
	case enclaveapi.TypeStatus:
		return h.handleStatus(raw)
	case enclaveapi.TypeBidders:
		return h.handleBidders(raw)
	case enclaveapi.TypeWinner:
		return h.handleWinner(raw)
	default:
		return failureResponse(frameType, "", enclaveapi.ErrorBadRequest, fmt.Sprintf("unknown request type: %s", frameType))
	}
}

// pinNow fixes the engine clock for one command. Callers hold h.mu.
func (h *AuctionHost) pinNow() int64 {
	h.clock = h.nowFn()
	return h.clock
}

// appendRecord journals an accepted command. Callers hold h.mu.
func (h *AuctionHost) appendRecord(rec journal.Record) uint64 {
	h.seq++
	rec.Seq = h.seq
	if err := h.journal.Append(rec); err != nil {
		log.Printf("ERROR: Journal append failed at seq %d: %v", rec.Seq, err)
	}
	return rec.Seq
}

// verifyEnvelope checks a signed request: known auction, fresh nonce,
// valid signature over the request fields. The payload argument is the
// exact string the client signed in the amount position: the bid amount,
// the withdrawal path, or the successor account, depending on action.
func (h *AuctionHost) verifyEnvelope(action, auctionID string, account core.Account, payload, nonce, signatureB64 string) error {
	if auctionID != h.auctionID {
		return fmt.Errorf("%w: unknown auction %q", errBadRequest, auctionID)
	}
	if nonce == "" {
		return fmt.Errorf("%w: missing nonce", errBadRequest)
	}
	signature, err := base64.StdEncoding.DecodeString(signatureB64)
	if err != nil {
		return fmt.Errorf("%w: signature is not base64", identity.ErrBadSignature)
	}
	if err := identity.VerifyRequest(action, auctionID, account, payload, nonce, signature); err != nil {
		return err
	}
	if !h.nonces.Consume(nonce) {
		return errNonceUsed
	}
	return nil
}

func (h *AuctionHost) handlePing(raw []byte) any {
	var req enclaveapi.PingRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return failureResponse(enclaveapi.TypePing, "", enclaveapi.ErrorBadRequest, err.Error())
	}
	resp := enclaveapi.PingResponse{Response: okResponse(enclaveapi.TypePing, req.RequestID)}
	resp.Message = "auction service is healthy"
	return resp
}

func (h *AuctionHost) handleKeyRequest(raw []byte) any {
	var req enclaveapi.KeyRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return failureResponse(enclaveapi.TypeKeyRequest, "", enclaveapi.ErrorBadRequest, err.Error())
	}

	publicKeyPEM, err := h.keys.PublicKeyPEM()
	if err != nil {
		return failureResponse(enclaveapi.TypeKeyRequest, req.RequestID, enclaveapi.ErrorInternal, err.Error())
	}

	attestation, err := GenerateKeyAttestation(h.attester, publicKeyPEM)
	if err != nil {
		return failureResponse(enclaveapi.TypeKeyRequest, req.RequestID, enclaveapi.ErrorInternal, err.Error())
	}

	resp := enclaveapi.KeyResponse{
		Response:     okResponse(enclaveapi.TypeKeyRequest, req.RequestID),
		PublicKeyPEM: publicKeyPEM,
	}
	if len(attestation) > 0 {
		resp.Attestation = attestation.EncodeBase64()
	}
	return resp
}

func (h *AuctionHost) handleDeposit(raw []byte) any {
	var req enclaveapi.DepositRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return failureResponse(enclaveapi.TypeDeposit, "", enclaveapi.ErrorBadRequest, err.Error())
	}

	account := core.Account(req.Account)
	if _, err := identity.ParseAccount(account); err != nil {
		return engineFailure(enclaveapi.TypeDeposit, req.RequestID, err)
	}
	amount, err := enclaveapi.ParseAmount(req.Amount)
	if err != nil {
		return engineFailure(enclaveapi.TypeDeposit, req.RequestID, err)
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	now := h.pinNow()
	if err := h.vault.Credit(account, amount); err != nil {
		return engineFailure(enclaveapi.TypeDeposit, req.RequestID, err)
	}
	h.appendRecord(journal.Record{
		Kind:    journal.KindCredit,
		At:      now,
		Account: req.Account,
		Amount:  enclaveapi.FormatAmount(amount),
	})

	return enclaveapi.DepositResponse{
		Response: okResponse(enclaveapi.TypeDeposit, req.RequestID),
		Account:  req.Account,
		Balance:  enclaveapi.FormatAmount(h.vault.Balance(account)),
	}
}

func (h *AuctionHost) handlePlaceBid(raw []byte) any {
	var req enclaveapi.PlaceBidRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return failureResponse(enclaveapi.TypePlaceBid, "", enclaveapi.ErrorBadRequest, err.Error())
	}

	account := core.Account(req.Account)
	if err := h.verifyEnvelope(enclaveapi.TypePlaceBid, req.AuctionID, account, req.Amount, req.Nonce, req.Signature); err != nil {
		return engineFailure(enclaveapi.TypePlaceBid, req.RequestID, err)
	}
	amount, err := enclaveapi.ParseAmount(req.Amount)
	if err != nil {
		return engineFailure(enclaveapi.TypePlaceBid, req.RequestID, err)
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	now := h.pinNow()
	if err := h.engine.PlaceBid(account, amount); err != nil {
		return engineFailure(enclaveapi.TypePlaceBid, req.RequestID, err)
	}
	status := h.engine.Status()
	h.appendRecord(journal.Record{
		Kind:    journal.KindBid,
		At:      now,
		Account: req.Account,
		Amount:  enclaveapi.FormatAmount(amount),
		Closing: status.Closing,
	})

	return enclaveapi.PlaceBidResponse{
		Response: okResponse(enclaveapi.TypePlaceBid, req.RequestID),
		Account:  req.Account,
		Amount:   enclaveapi.FormatAmount(amount),
		Closing:  status.Closing,
	}
}

func (h *AuctionHost) handleFinalize(raw []byte) any {
	var req enclaveapi.FinalizeRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return failureResponse(enclaveapi.TypeFinalize, "", enclaveapi.ErrorBadRequest, err.Error())
	}

	account := core.Account(req.Account)
	if err := h.verifyEnvelope(enclaveapi.TypeFinalize, req.AuctionID, account, "", req.Nonce, req.Signature); err != nil {
		return engineFailure(enclaveapi.TypeFinalize, req.RequestID, err)
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	now := h.pinNow()
	if err := h.engine.Finalize(); err != nil {
		return engineFailure(enclaveapi.TypeFinalize, req.RequestID, err)
	}
	winner, amount, err := h.engine.Winner()
	if err != nil {
		return failureResponse(enclaveapi.TypeFinalize, req.RequestID, enclaveapi.ErrorInternal, err.Error())
	}
	seq := h.appendRecord(journal.Record{
		Kind:   journal.KindFinalize,
		At:     now,
		Winner: string(winner),
		Amount: enclaveapi.FormatAmount(amount),
	})

	fee := core.Fee(amount)
	payout := new(big.Int).Sub(amount, fee)

	resp := enclaveapi.FinalizeResponse{
		Response: okResponse(enclaveapi.TypeFinalize, req.RequestID),
		Winner:   string(winner),
		Amount:   enclaveapi.FormatAmount(amount),
		Fee:      enclaveapi.FormatAmount(fee),
		Payout:   enclaveapi.FormatAmount(payout),
	}

	receipt, payload, err := h.buildReceipt(winner, amount, fee, payout, now, seq)
	if err != nil {
		// The auction settled; a receipt problem must not unsettle it.
		log.Printf("ERROR: Receipt generation failed: %v", err)
		resp.Message = fmt.Sprintf("settled, but receipt generation failed: %v", err)
		return resp
	}

	signed, err := SignReceipt(h.keys, payload)
	if err != nil {
		log.Printf("ERROR: Receipt signing failed: %v", err)
		resp.Message = fmt.Sprintf("settled, but receipt signing failed: %v", err)
		return resp
	}
	resp.Receipt = signed.EncodeBase64()
	log.Printf("INFO: Settlement receipt %s signed for auction %s", receipt.ReceiptID, h.auctionID)

	publicKeyPEM, err := h.keys.PublicKeyPEM()
	if err != nil {
		log.Printf("ERROR: Public key export failed: %v", err)
		return resp
	}
	attestation, err := GenerateSettlementAttestation(h.attester, ReceiptHash(payload), publicKeyPEM)
	if err != nil {
		log.Printf("ERROR: Settlement attestation failed: %v", err)
		return resp
	}
	if len(attestation) > 0 {
		resp.Attestation = attestation.EncodeBase64()
	}
	return resp
}

// buildReceipt assembles the settlement receipt and its CBOR payload.
// Callers hold h.mu.
func (h *AuctionHost) buildReceipt(winner core.Account, amount, fee, payout *big.Int, finalizedAt int64, seq uint64) (enclaveapi.SettlementReceipt, []byte, error) {
	standings := h.engine.AllBidders()
	receiptStandings := make([]enclaveapi.ReceiptStanding, len(standings))
	for i, st := range standings {
		receiptStandings[i] = enclaveapi.ReceiptStanding{
			Account: string(st.Bidder),
			Deposit: enclaveapi.FormatAmount(st.Deposit),
		}
	}

	receipt := enclaveapi.SettlementReceipt{
		ReceiptID:    uuid.New().String(),
		AuctionID:    h.auctionID,
		Winner:       string(winner),
		Amount:       enclaveapi.FormatAmount(amount),
		Fee:          enclaveapi.FormatAmount(fee),
		Payout:       enclaveapi.FormatAmount(payout),
		Beneficiary:  string(h.engine.Beneficiary()),
		FeeRecipient: string(h.roles.CurrentAdmin()),
		Closing:      h.engine.Status().Closing,
		FinalizedAt:  finalizedAt,
		Standings:    receiptStandings,
		JournalSeq:   seq,
	}
	payload, err := receipt.Encode()
	if err != nil {
		return receipt, nil, err
	}
	return receipt, payload, nil
}

func (h *AuctionHost) handleWithdraw(raw []byte) any {
	var req enclaveapi.WithdrawRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return failureResponse(enclaveapi.TypeWithdraw, "", enclaveapi.ErrorBadRequest, err.Error())
	}

	var kind journal.Kind
	switch req.Path {
	case enclaveapi.WithdrawPathLosing:
		kind = journal.KindWithdrawLosing
	case enclaveapi.WithdrawPathExcess:
		kind = journal.KindWithdrawExcess
	default:
		return failureResponse(enclaveapi.TypeWithdraw, req.RequestID, enclaveapi.ErrorBadRequest,
			fmt.Sprintf("unknown withdrawal path %q", req.Path))
	}

	account := core.Account(req.Account)
	if err := h.verifyEnvelope(enclaveapi.TypeWithdraw, req.AuctionID, account, req.Path, req.Nonce, req.Signature); err != nil {
		return engineFailure(enclaveapi.TypeWithdraw, req.RequestID, err)
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	now := h.pinNow()
	var amount *big.Int
	var err error
	if kind == journal.KindWithdrawLosing {
		amount, err = h.engine.WithdrawLosing(account)
	} else {
		amount, err = h.engine.WithdrawExcess(account)
	}
	if err != nil {
		if errors.Is(err, core.ErrTransferFailed) {
			// The claim was consumed even though the transfer failed;
			// the journal has to carry the forfeit.
			h.appendRecord(journal.Record{
				Kind:      kind,
				At:        now,
				Account:   req.Account,
				Forfeited: true,
			})
		}
		return engineFailure(enclaveapi.TypeWithdraw, req.RequestID, err)
	}
	h.appendRecord(journal.Record{
		Kind:    kind,
		At:      now,
		Account: req.Account,
		Amount:  enclaveapi.FormatAmount(amount),
	})

	return enclaveapi.WithdrawResponse{
		Response: okResponse(enclaveapi.TypeWithdraw, req.RequestID),
		Account:  req.Account,
		Amount:   enclaveapi.FormatAmount(amount),
	}
}

func (h *AuctionHost) handleAdminTransfer(raw []byte) any {
	var req enclaveapi.AdminTransferRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return failureResponse(enclaveapi.TypeAdminTransfer, "", enclaveapi.ErrorBadRequest, err.Error())
	}

	caller := core.Account(req.Account)
	successor := core.Account(req.Successor)
	if err := h.verifyEnvelope(enclaveapi.TypeAdminTransfer, req.AuctionID, caller, req.Successor, req.Nonce, req.Signature); err != nil {
		return engineFailure(enclaveapi.TypeAdminTransfer, req.RequestID, err)
	}
	if _, err := identity.ParseAccount(successor); err != nil {
		return engineFailure(enclaveapi.TypeAdminTransfer, req.RequestID, err)
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	now := h.pinNow()
	if err := h.roles.TransferAdmin(caller, successor); err != nil {
		return engineFailure(enclaveapi.TypeAdminTransfer, req.RequestID, err)
	}
	h.appendRecord(journal.Record{
		Kind:      journal.KindAdminTransfer,
		At:        now,
		Account:   req.Account,
		Successor: req.Successor,
	})

	return enclaveapi.AdminTransferResponse{
		Response: okResponse(enclaveapi.TypeAdminTransfer, req.RequestID),
		Admin:    string(h.roles.CurrentAdmin()),
	}
}

func (h *AuctionHost) handleStatus(raw []byte) any {
	var req enclaveapi.StatusRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return failureResponse(enclaveapi.TypeStatus, "", enclaveapi.ErrorBadRequest, err.Error())
	}

	status := h.engine.Status()
	return enclaveapi.StatusResponse{
		Response: okResponse(enclaveapi.TypeStatus, req.RequestID),
		Leader:   string(status.Leader),
		Highest:  enclaveapi.FormatAmount(status.Highest),
		Closing:  status.Closing,
		Closed:   status.Closed,
		Escrowed: enclaveapi.FormatAmount(status.Escrowed),
	}
}

func (h *AuctionHost) handleBidders(raw []byte) any {
	var req enclaveapi.BiddersRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return failureResponse(enclaveapi.TypeBidders, "", enclaveapi.ErrorBadRequest, err.Error())
	}

	standings := h.engine.AllBidders()
	bidders := make([]enclaveapi.BidderStanding, len(standings))
	for i, st := range standings {
		bidders[i] = enclaveapi.BidderStanding{
			Account: string(st.Bidder),
			Deposit: enclaveapi.FormatAmount(st.Deposit),
		}
	}
	return enclaveapi.BiddersResponse{
		Response: okResponse(enclaveapi.TypeBidders, req.RequestID),
		Bidders:  bidders,
	}
}

func (h *AuctionHost) handleWinner(raw []byte) any {
	var req enclaveapi.WinnerRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return failureResponse(enclaveapi.TypeWinner, "", enclaveapi.ErrorBadRequest, err.Error())
	}

	winner, amount, err := h.engine.Winner()
	if err != nil {
		return engineFailure(enclaveapi.TypeWinner, req.RequestID, err)
	}
	return enclaveapi.WinnerResponse{
		Response: okResponse(enclaveapi.TypeWinner, req.RequestID),
		Winner:   string(winner),
		Amount:   enclaveapi.FormatAmount(amount),
	}
}

func okResponse(frameType, requestID string) enclaveapi.Response {
	return enclaveapi.Response{Type: frameType, RequestID: requestID, Success: true}
}

func failureResponse(frameType, requestID, code, message string) enclaveapi.Response {
	return enclaveapi.Response{
		Type:      frameType,
		RequestID: requestID,
		Success:   false,
		Error:     code,
		Message:   message,
	}
}

func engineFailure(frameType, requestID string, err error) enclaveapi.Response {
	return failureResponse(frameType, requestID, wireErrorCode(err), err.Error())
}

// wireErrorCode maps sentinel errors onto stable wire codes.
func wireErrorCode(err error) string {
	switch {
	case errors.Is(err, core.ErrAuctionClosed):
		return enclaveapi.ErrorAuctionClosed
	case errors.Is(err, core.ErrNotYetClosed):
		return enclaveapi.ErrorNotYetClosed
	case errors.Is(err, core.ErrInsufficientBid):
		return enclaveapi.ErrorInsufficientBid
	case errors.Is(err, core.ErrWinnerCannotWithdraw):
		return enclaveapi.ErrorWinnerCannotWithdraw
	case errors.Is(err, core.ErrNoFunds):
		return enclaveapi.ErrorNoFunds
	case errors.Is(err, core.ErrNoDeposit):
		return enclaveapi.ErrorNoDeposit
	case errors.Is(err, core.ErrNoExcess):
		return enclaveapi.ErrorNoExcess
	case errors.Is(err, core.ErrTransferFailed):
		return enclaveapi.ErrorTransferFailed
	case errors.Is(err, identity.ErrBadSignature):
		return enclaveapi.ErrorBadSignature
	case errors.Is(err, identity.ErrInvalidAccount):
		return enclaveapi.ErrorInvalidAccount
	case errors.Is(err, enclaveapi.ErrInvalidAmount), errors.Is(err, funds.ErrInvalidAmount):
		return enclaveapi.ErrorInvalidAmount
	case errors.Is(err, funds.ErrNotAdmin):
		return enclaveapi.ErrorNotAdmin
	case errors.Is(err, errNonceUsed):
		return enclaveapi.ErrorNonceUsed
	case errors.Is(err, errBadRequest), errors.Is(err, funds.ErrInvalidSuccessor):
		return enclaveapi.ErrorBadRequest
	default:
		return enclaveapi.ErrorInternal
	}
}
