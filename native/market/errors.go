package market

import "errors"

var (
	ErrNilState           = errors.New("market: state not configured")
	ErrNilAdmin           = errors.New("market: admin control not configured")
	ErrNilAssets          = errors.New("market: asset registry not configured")
	ErrNilTokens          = errors.New("market: token resolver not configured")
	ErrListingNotFound    = errors.New("market: listing not found")
	ErrAlreadyListed      = errors.New("market: listing already active")
	ErrListingNotActive   = errors.New("market: listing not in LISTED state")
	ErrNotPendingPayment  = errors.New("market: listing not awaiting payment")
	ErrNotOwner           = errors.New("market: caller is not the asset owner")
	ErrOwnerBid           = errors.New("market: owner cannot bid on own asset")
	ErrNotKYCVerified     = errors.New("market: caller not KYC verified")
	ErrUnauthorized       = errors.New("market: unauthorized")
	ErrInvalidAmount      = errors.New("market: amount must be positive")
	ErrAmountOverflow     = errors.New("market: amount exceeds numeric domain")
	ErrBelowListingPrice  = errors.New("market: amount below listing price")
	ErrInsufficientValue  = errors.New("market: attached value below required payment")
	ErrBelowMinIncrement  = errors.New("market: amount below minimum increment")
	ErrTokenNotAllowed    = errors.New("market: payment token not allowed")
	ErrNativeImmutable    = errors.New("market: native currency cannot be toggled")
	ErrCurrencyMismatch   = errors.New("market: bid currency cannot change")
	ErrExactValueRequired = errors.New("market: attached value must equal bid amount")
	ErrUnexpectedValue    = errors.New("market: unexpected attached value")
	ErrBidNotFound        = errors.New("market: no live bid for bidder")
	ErrBidMismatch        = errors.New("market: bid does not match amount and currency")
	ErrBidAccepted        = errors.New("market: accepted bid cannot be cancelled")
	ErrInsufficientAllow  = errors.New("market: token allowance below bid amount")
	ErrTransferFailed     = errors.New("market: token transfer failed")
	ErrNothingReceived    = errors.New("market: token transfer delivered nothing")
	ErrNoPendingRefund    = errors.New("market: no pending refund")
	ErrNothingToClaim     = errors.New("market: no undelivered asset for caller")
	ErrInsufficientFunds  = errors.New("market: insufficient balance")
)
