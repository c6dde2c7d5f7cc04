package enclaveapi

import "time"

// Frame type values. Every message on an enclave connection is a JSON
// object whose "type" field selects the handler.
const (
	TypePing          = "ping"
	TypeKeyRequest    = "key_request"
	TypeDeposit       = "deposit"
	TypePlaceBid      = "place_bid"
	TypeFinalize      = "finalize"
	TypeWithdraw      = "withdraw"
	TypeAdminTransfer = "admin_transfer"
	TypeStatus        = "status"
	TypeBidders       = "bidders"
	TypeWinner        = "winner"
	TypeSubscribe     = "subscribe"
	TypeEvent         = "event"
)

// Withdrawal paths accepted by a withdraw frame.
const (
	WithdrawPathLosing = "losing"
	WithdrawPathExcess = "excess"
)

// Event names pushed on a subscribed connection.
const (
	EventBidAccepted = "bid_accepted"
	EventFinalized   = "finalized"
	EventWithdrawn   = "withdrawn"
)

// Stable error codes carried in Response.Error. Clients match on these;
// Message carries free-form detail.
const (
	ErrorAuctionClosed        = "auction_closed"
	ErrorNotYetClosed         = "not_yet_closed"
	ErrorInsufficientBid      = "insufficient_bid"
	ErrorWinnerCannotWithdraw = "winner_cannot_withdraw"
	ErrorNoFunds              = "no_funds"
	ErrorNoDeposit            = "no_deposit"
	ErrorNoExcess             = "no_excess"
	ErrorTransferFailed       = "transfer_failed"
	ErrorBadSignature         = "bad_signature"
	ErrorInvalidAccount       = "invalid_account"
	ErrorInvalidAmount        = "invalid_amount"
	ErrorNonceUsed            = "nonce_used"
	ErrorNotAdmin             = "not_admin"
	ErrorBusy                 = "busy"
	ErrorBadRequest           = "bad_request"
	ErrorInternal             = "internal"
)

// Frame is the envelope read first from every inbound message to learn
// which request struct to decode it into.
type Frame struct {
	Type string `json:"type"`
}

// Response carries the fields shared by every reply. Error is one of the
// Error* codes and is empty on success.
type Response struct {
	Type      string `json:"type"`
	RequestID string `json:"request_id,omitempty"`
	Success   bool   `json:"success"`
	Error     string `json:"error,omitempty"`
	Message   string `json:"message,omitempty"`
}

// PingRequest checks liveness of the enclave service.
type PingRequest struct {
	Type      string `json:"type"`
	RequestID string `json:"request_id,omitempty"`
}

// PingResponse acknowledges a ping.
type PingResponse struct {
	Response
}

// KeyRequest asks for the house signing key and its attestation.
type KeyRequest struct {
	Type      string `json:"type"`
	RequestID string `json:"request_id,omitempty"`
}

// KeyResponse returns the house receipt-signing key. Attestation is
// empty when the service runs without an attester.
type KeyResponse struct {
	Response
	PublicKeyPEM string                `json:"public_key"`
	Attestation  AttestationCOSEBase64 `json:"key_attestation,omitempty"`
}

// DepositRequest credits escrow funds to a bidder's vault account.
type DepositRequest struct {
	Type      string `json:"type"`
	RequestID string `json:"request_id,omitempty"`
	Account   string `json:"account"`
	Amount    string `json:"amount"`
}

// DepositResponse reports the vault balance after the credit.
type DepositResponse struct {
	Response
	Account string `json:"account,omitempty"`
	Balance string `json:"balance,omitempty"`
}

// PlaceBidRequest submits a signed bid. Signature is the base64-encoded
// ed25519 envelope signature over (type, auction, account, amount, nonce).
type PlaceBidRequest struct {
	Type      string `json:"type"`
	RequestID string `json:"request_id,omitempty"`
	AuctionID string `json:"auction_id"`
	Account   string `json:"account"`
	Amount    string `json:"amount"`
	Nonce     string `json:"nonce"`
	Signature string `json:"signature"`
}

// PlaceBidResponse reports the accepted bid and the closing time after
// any anti-snipe extension.
type PlaceBidResponse struct {
	Response
	Account string `json:"account,omitempty"`
	Amount  string `json:"amount,omitempty"`
	Closing int64  `json:"closing,omitempty"`
}

// FinalizeRequest settles the auction. Any account may call it once the
// closing time has passed; the envelope signature proves the caller.
type FinalizeRequest struct {
	Type      string `json:"type"`
	RequestID string `json:"request_id,omitempty"`
	AuctionID string `json:"auction_id"`
	Account   string `json:"account"`
	Nonce     string `json:"nonce"`
	Signature string `json:"signature"`
}

// FinalizeResponse reports the settlement split and carries the signed
// receipt, plus its attestation when the service runs inside an enclave.
type FinalizeResponse struct {
	Response
	Winner      string                `json:"winner,omitempty"`
	Amount      string                `json:"amount,omitempty"`
	Fee         string                `json:"fee,omitempty"`
	Payout      string                `json:"payout,omitempty"`
	Receipt     ReceiptCOSEBase64     `json:"receipt,omitempty"`
	Attestation AttestationCOSEBase64 `json:"attestation,omitempty"`
}

// WithdrawRequest reclaims escrowed funds over one of the two paths.
type WithdrawRequest struct {
	Type      string `json:"type"`
	RequestID string `json:"request_id,omitempty"`
	AuctionID string `json:"auction_id"`
	Path      string `json:"path"`
	Account   string `json:"account"`
	Nonce     string `json:"nonce"`
	Signature string `json:"signature"`
}

// WithdrawResponse reports the amount sent back to the caller.
type WithdrawResponse struct {
	Response
	Account string `json:"account,omitempty"`
	Amount  string `json:"amount,omitempty"`
}

// AdminTransferRequest hands the fee-recipient role to a successor. Only
// the current admin's signature is accepted.
type AdminTransferRequest struct {
	Type      string `json:"type"`
	RequestID string `json:"request_id,omitempty"`
	AuctionID string `json:"auction_id"`
	Account   string `json:"account"`
	Successor string `json:"successor"`
	Nonce     string `json:"nonce"`
	Signature string `json:"signature"`
}

// AdminTransferResponse reports the admin account after the transfer.
type AdminTransferResponse struct {
	Response
	Admin string `json:"admin,omitempty"`
}

// StatusRequest asks for the auction snapshot.
type StatusRequest struct {
	Type      string `json:"type"`
	RequestID string `json:"request_id,omitempty"`
}

// StatusResponse is a consistent snapshot of the auction.
type StatusResponse struct {
	Response
	Leader   string `json:"leader,omitempty"`
	Highest  string `json:"highest"`
	Closing  int64  `json:"closing"`
	Closed   bool   `json:"closed"`
	Escrowed string `json:"escrowed"`
}

// BiddersRequest asks for the participant registry.
type BiddersRequest struct {
	Type      string `json:"type"`
	RequestID string `json:"request_id,omitempty"`
}

// BidderStanding is one registry entry: the account and its cumulative
// escrowed deposit.
type BidderStanding struct {
	Account string `json:"account"`
	Deposit string `json:"deposit"`
}

// BiddersResponse lists participants in first-bid order.
type BiddersResponse struct {
	Response
	Bidders []BidderStanding `json:"bidders"`
}

// WinnerRequest asks for the settlement outcome.
type WinnerRequest struct {
	Type      string `json:"type"`
	RequestID string `json:"request_id,omitempty"`
}

// WinnerResponse reports the winning account and amount. Winner is empty
// when the auction closed with no bids.
type WinnerResponse struct {
	Response
	Winner string `json:"winner"`
	Amount string `json:"amount"`
}

// SubscribeRequest upgrades the connection to a push stream. The service
// acknowledges with a Response and then writes EventFrames until the
// connection closes.
type SubscribeRequest struct {
	Type      string `json:"type"`
	RequestID string `json:"request_id,omitempty"`
}

// EventFrame is one pushed auction event.
type EventFrame struct {
	Type    string `json:"type"`
	Event   string `json:"event"`
	Account string `json:"account,omitempty"`
	Amount  string `json:"amount,omitempty"`
	Closing int64  `json:"closing,omitempty"`
	At      int64  `json:"at"`
}

// PCRs represents the Platform Configuration Registers from AWS Nitro Enclaves
type PCRs struct {
	// PCR0: Hash of the Enclave Image File (EIF)
	ImageFileHash string `json:"0"`

	// PCR1: Hash of the Linux kernel and initial RAM data (initramfs)
	KernelHash string `json:"1"`

	// PCR2: Hash of user applications, excluding the boot ramfs
	ApplicationHash string `json:"2"`

	// PCR3: Hash of the IAM role assigned to the parent instance
	IAMRoleHash string `json:"3"`

	// PCR4: Hash of the parent instance's ID
	InstanceIDHash string `json:"4"`

	// PCR8: Hash of the enclave image file's signing certificate
	SigningCertHash string `json:"8,omitempty"`
}

// AttestationDoc represents the base structured attestation data from AWS
// Nitro Enclaves. It contains the common fields shared by all attestation
// types.
type AttestationDoc struct {
	// Module ID identifies the enclave
	ModuleID string `json:"module_id"`

	// Timestamp when the attestation was generated
	Timestamp time.Time `json:"timestamp"`

	// Digest algorithm used (e.g., "SHA384")
	DigestAlgorithm string `json:"digest"`

	// PCRs (Platform Configuration Registers) containing measurements
	PCRs PCRs `json:"pcrs"`

	// Certificate containing the attestation signature
	Certificate string `json:"certificate"`

	// Cabundle for certificate chain validation
	CABundle []string `json:"cabundle"`

	// Public key used for attestation
	PublicKey string `json:"public_key"`

	// Nonce for replay protection
	Nonce string `json:"nonce"`
}

// SettlementAttestationDoc is the attestation accompanying a settlement
// receipt.
type SettlementAttestationDoc struct {
	AttestationDoc
	UserData *SettlementAttestationUserData `json:"user_data"`
}

// SettlementAttestationUserData binds an attestation to one receipt and
// to the key that signed it.
type SettlementAttestationUserData struct {
	// Hex-encoded SHA-256 of the receipt's CBOR payload
	ReceiptHash string `json:"receipt_hash"`

	// PEM-encoded house signing key
	PublicKeyPEM string `json:"public_key"`

	// 32-byte hex nonce for replay protection
	Nonce string `json:"nonce"`
}

// KeyAttestationDoc is the attestation accompanying a key distribution
// response.
type KeyAttestationDoc struct {
	AttestationDoc
	UserData *KeyAttestationUserData `json:"user_data"`
}

// KeyAttestationUserData describes the distributed house key.
type KeyAttestationUserData struct {
	KeyAlgorithm string `json:"key_algorithm"` // e.g., "ECDSA-P384"
	PublicKeyPEM string `json:"public_key"`
}
