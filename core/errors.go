package core

import "errors"

// Engine errors
var (
	ErrAuctionClosed        = errors.New("auction already closed")
	ErrNotYetClosed         = errors.New("auction not yet closed")
	ErrInsufficientBid      = errors.New("bid below minimum acceptable amount")
	ErrWinnerCannotWithdraw = errors.New("winner cannot use the losing withdrawal path")
	ErrNoFunds              = errors.New("no funds to withdraw")
	ErrNoDeposit            = errors.New("no deposit on record")
	ErrNoExcess             = errors.New("no withdrawable excess")
	ErrTransferFailed       = errors.New("value transfer failed")
)
