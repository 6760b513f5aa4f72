package rpc

import (
	"encoding/json"
	"errors"
	"net/http"

	"deedmarket/core/types"
	"deedmarket/native/common"
	"deedmarket/native/market"
)

const (
	codeMarketInvalidParams = -32021
	codeMarketNotFound      = -32022
	codeMarketForbidden     = -32023
	codeMarketConflict      = -32024
	codeMarketInternal      = -32025
)

func writeMarketError(w http.ResponseWriter, id interface{}, err error) {
	switch {
	case errors.Is(err, market.ErrListingNotFound),
		errors.Is(err, market.ErrBidNotFound),
		errors.Is(err, market.ErrNoPendingRefund),
		errors.Is(err, market.ErrNothingToClaim):
		writeError(w, http.StatusNotFound, id, codeMarketNotFound, "not_found", err.Error())
	case errors.Is(err, market.ErrNotOwner),
		errors.Is(err, market.ErrOwnerBid),
		errors.Is(err, market.ErrNotKYCVerified),
		errors.Is(err, market.ErrUnauthorized):
		writeError(w, http.StatusForbidden, id, codeMarketForbidden, "forbidden", err.Error())
	case errors.Is(err, market.ErrInvalidAmount),
		errors.Is(err, market.ErrAmountOverflow):
		writeError(w, http.StatusBadRequest, id, codeMarketInvalidParams, "invalid_params", err.Error())
	case errors.Is(err, market.ErrAlreadyListed),
		errors.Is(err, market.ErrListingNotActive),
		errors.Is(err, market.ErrNotPendingPayment),
		errors.Is(err, market.ErrBidAccepted),
		errors.Is(err, market.ErrBidMismatch),
		errors.Is(err, market.ErrBelowListingPrice),
		errors.Is(err, market.ErrBelowMinIncrement),
		errors.Is(err, market.ErrCurrencyMismatch),
		errors.Is(err, market.ErrExactValueRequired),
		errors.Is(err, market.ErrUnexpectedValue),
		errors.Is(err, market.ErrInsufficientValue),
		errors.Is(err, market.ErrTokenNotAllowed),
		errors.Is(err, market.ErrNativeImmutable),
		errors.Is(err, market.ErrInsufficientAllow),
		errors.Is(err, market.ErrInsufficientFunds),
		errors.Is(err, common.ErrModulePaused),
		errors.Is(err, common.ErrReentrantCall):
		writeError(w, http.StatusConflict, id, codeMarketConflict, "conflict", err.Error())
	default:
		writeError(w, http.StatusInternalServerError, id, codeMarketInternal, "internal_error", err.Error())
	}
}

func decodeParams(w http.ResponseWriter, req *RPCRequest, out interface{}) bool {
	if len(req.Params) != 1 {
		writeError(w, http.StatusBadRequest, req.ID, codeMarketInvalidParams, "invalid_params", "exactly one parameter object expected")
		return false
	}
	if err := json.Unmarshal(req.Params[0], out); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeMarketInvalidParams, "invalid_params", err.Error())
		return false
	}
	return true
}

type listParams struct {
	Caller   string `json:"caller"`
	TokenID  uint64 `json:"tokenId"`
	Price    string `json:"price"`
	Currency string `json:"currency,omitempty"`
}

func (s *Server) handleList(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params listParams
	if !decodeParams(w, req, &params) {
		return
	}
	caller, err := parseBech32Address(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeMarketInvalidParams, "invalid_params", err.Error())
		return
	}
	price, err := parseAmount(params.Price)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeMarketInvalidParams, "invalid_params", err.Error())
		return
	}
	cur, err := parseCurrency(params.Currency)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeMarketInvalidParams, "invalid_params", err.Error())
		return
	}
	listing, err := s.node.List(caller, params.TokenID, price, cur)
	if err != nil {
		writeMarketError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, listingToJSON(listing))
}

func (s *Server) handleUpdateListing(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params listParams
	if !decodeParams(w, req, &params) {
		return
	}
	caller, err := parseBech32Address(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeMarketInvalidParams, "invalid_params", err.Error())
		return
	}
	price, err := parseAmount(params.Price)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeMarketInvalidParams, "invalid_params", err.Error())
		return
	}
	cur, err := parseCurrency(params.Currency)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeMarketInvalidParams, "invalid_params", err.Error())
		return
	}
	listing, err := s.node.UpdateListing(caller, params.TokenID, price, cur)
	if err != nil {
		writeMarketError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, listingToJSON(listing))
}

type tokenActorParams struct {
	Caller  string `json:"caller"`
	TokenID uint64 `json:"tokenId"`
}

func (s *Server) handleDelist(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params tokenActorParams
	if !decodeParams(w, req, &params) {
		return
	}
	caller, err := parseBech32Address(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeMarketInvalidParams, "invalid_params", err.Error())
		return
	}
	if err := s.node.Delist(caller, params.TokenID); err != nil {
		writeMarketError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, map[string]string{"status": "delisted"})
}

type purchaseParams struct {
	Buyer   string `json:"buyer"`
	TokenID uint64 `json:"tokenId"`
	Value   string `json:"value,omitempty"`
}

func (s *Server) handlePurchase(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params purchaseParams
	if !decodeParams(w, req, &params) {
		return
	}
	buyer, err := parseBech32Address(params.Buyer)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeMarketInvalidParams, "invalid_params", err.Error())
		return
	}
	value, err := parseOptionalAmount(params.Value)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeMarketInvalidParams, "invalid_params", err.Error())
		return
	}
	if err := s.node.Purchase(buyer, params.TokenID, value); err != nil {
		writeMarketError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, map[string]string{"status": "sold"})
}

type placeBidParams struct {
	Bidder   string `json:"bidder"`
	TokenID  uint64 `json:"tokenId"`
	Amount   string `json:"amount"`
	Currency string `json:"currency,omitempty"`
	Value    string `json:"value,omitempty"`
}

func (s *Server) handlePlaceBid(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params placeBidParams
	if !decodeParams(w, req, &params) {
		return
	}
	bidder, err := parseBech32Address(params.Bidder)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeMarketInvalidParams, "invalid_params", err.Error())
		return
	}
	amount, err := parseAmount(params.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeMarketInvalidParams, "invalid_params", err.Error())
		return
	}
	cur, err := parseCurrency(params.Currency)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeMarketInvalidParams, "invalid_params", err.Error())
		return
	}
	value, err := parseOptionalAmount(params.Value)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeMarketInvalidParams, "invalid_params", err.Error())
		return
	}
	if err := s.node.PlaceBid(bidder, params.TokenID, amount, cur, value); err != nil {
		writeMarketError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, map[string]string{"status": "bid_placed"})
}

func (s *Server) handleCancelBid(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params tokenActorParams
	if !decodeParams(w, req, &params) {
		return
	}
	caller, err := parseBech32Address(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeMarketInvalidParams, "invalid_params", err.Error())
		return
	}
	if err := s.node.CancelBid(caller, params.TokenID); err != nil {
		writeMarketError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, map[string]string{"status": "bid_cancelled"})
}

type acceptBidParams struct {
	Caller   string `json:"caller"`
	TokenID  uint64 `json:"tokenId"`
	Bidder   string `json:"bidder"`
	Amount   string `json:"amount"`
	Currency string `json:"currency,omitempty"`
}

func (s *Server) handleAcceptBid(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params acceptBidParams
	if !decodeParams(w, req, &params) {
		return
	}
	caller, err := parseBech32Address(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeMarketInvalidParams, "invalid_params", err.Error())
		return
	}
	bidder, err := parseBech32Address(params.Bidder)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeMarketInvalidParams, "invalid_params", err.Error())
		return
	}
	amount, err := parseAmount(params.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeMarketInvalidParams, "invalid_params", err.Error())
		return
	}
	cur, err := parseCurrency(params.Currency)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeMarketInvalidParams, "invalid_params", err.Error())
		return
	}
	if err := s.node.AcceptBid(caller, params.TokenID, bidder, amount, cur); err != nil {
		writeMarketError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, map[string]string{"status": "bid_accepted"})
}

type completePaymentParams struct {
	Caller  string `json:"caller"`
	TokenID uint64 `json:"tokenId"`
	Value   string `json:"value,omitempty"`
}

func (s *Server) handleCompleteBidPayment(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params completePaymentParams
	if !decodeParams(w, req, &params) {
		return
	}
	caller, err := parseBech32Address(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeMarketInvalidParams, "invalid_params", err.Error())
		return
	}
	value, err := parseOptionalAmount(params.Value)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeMarketInvalidParams, "invalid_params", err.Error())
		return
	}
	if err := s.node.CompleteBidPayment(caller, params.TokenID, value); err != nil {
		writeMarketError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, map[string]string{"status": "sold"})
}

type tokenIDParams struct {
	TokenID uint64 `json:"tokenId"`
}

func (s *Server) handleCleanupBids(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params tokenIDParams
	if !decodeParams(w, req, &params) {
		return
	}
	res, err := s.node.CleanupBids(params.TokenID)
	if err != nil {
		writeMarketError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, map[string]int{"removed": res.Removed, "retained": res.Retained})
}

type addressParams struct {
	Address string `json:"address"`
}

func (s *Server) handleWithdrawPendingRefund(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params addressParams
	if !decodeParams(w, req, &params) {
		return
	}
	caller, err := parseBech32Address(params.Address)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeMarketInvalidParams, "invalid_params", err.Error())
		return
	}
	amount, err := s.node.WithdrawPendingRefund(caller)
	if err != nil {
		writeMarketError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, map[string]string{"withdrawn": amount.String()})
}

type tokenRefundParams struct {
	Address string `json:"address"`
	Token   string `json:"token"`
}

func (s *Server) handleWithdrawPendingTokenRefund(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params tokenRefundParams
	if !decodeParams(w, req, &params) {
		return
	}
	caller, err := parseBech32Address(params.Address)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeMarketInvalidParams, "invalid_params", err.Error())
		return
	}
	token, err := parseBech32Address(params.Token)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeMarketInvalidParams, "invalid_params", err.Error())
		return
	}
	amount, err := s.node.WithdrawPendingTokenRefund(caller, token)
	if err != nil {
		writeMarketError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, map[string]string{"withdrawn": amount.String()})
}

func (s *Server) handleClaimAsset(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params tokenActorParams
	if !decodeParams(w, req, &params) {
		return
	}
	caller, err := parseBech32Address(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeMarketInvalidParams, "invalid_params", err.Error())
		return
	}
	if err := s.node.ClaimAsset(caller, params.TokenID); err != nil {
		writeMarketError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, map[string]string{"status": "claimed"})
}

type allowTokenParams struct {
	Caller  string `json:"caller"`
	Token   string `json:"token"`
	Allowed bool   `json:"allowed"`
}

func (s *Server) handleSetAllowedToken(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params allowTokenParams
	if !decodeParams(w, req, &params) {
		return
	}
	caller, err := parseBech32Address(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeMarketInvalidParams, "invalid_params", err.Error())
		return
	}
	token, err := parseBech32Address(params.Token)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeMarketInvalidParams, "invalid_params", err.Error())
		return
	}
	if err := s.node.SetAllowedToken(caller, token, params.Allowed); err != nil {
		writeMarketError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, map[string]bool{"allowed": params.Allowed})
}

type whitelistParams struct {
	Caller  string `json:"caller"`
	Enabled bool   `json:"enabled"`
}

func (s *Server) handleSetWhitelistEnabled(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params whitelistParams
	if !decodeParams(w, req, &params) {
		return
	}
	caller, err := parseBech32Address(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeMarketInvalidParams, "invalid_params", err.Error())
		return
	}
	if err := s.node.SetWhitelistEnabled(caller, params.Enabled); err != nil {
		writeMarketError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, map[string]bool{"enabled": params.Enabled})
}

type emergencyWithdrawParams struct {
	Caller   string `json:"caller"`
	To       string `json:"to"`
	Amount   string `json:"amount"`
	Currency string `json:"currency,omitempty"`
}

func (s *Server) handleEmergencyWithdraw(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params emergencyWithdrawParams
	if !decodeParams(w, req, &params) {
		return
	}
	caller, err := parseBech32Address(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeMarketInvalidParams, "invalid_params", err.Error())
		return
	}
	to, err := parseBech32Address(params.To)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeMarketInvalidParams, "invalid_params", err.Error())
		return
	}
	amount, err := parseAmount(params.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeMarketInvalidParams, "invalid_params", err.Error())
		return
	}
	cur, err := parseCurrency(params.Currency)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeMarketInvalidParams, "invalid_params", err.Error())
		return
	}
	if err := s.node.EmergencyWithdraw(caller, to, amount, cur); err != nil {
		writeMarketError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, map[string]string{"status": "withdrawn"})
}

func (s *Server) handleGetListing(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params tokenIDParams
	if !decodeParams(w, req, &params) {
		return
	}
	listing, err := s.node.Listing(params.TokenID)
	if err != nil {
		writeMarketError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, listingToJSON(listing))
}

func (s *Server) handleGetHighestBid(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params tokenIDParams
	if !decodeParams(w, req, &params) {
		return
	}
	highest, err := s.node.HighestBid(params.TokenID)
	if err != nil {
		writeMarketError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, map[string]string{"highestBid": highest.String()})
}

type activeBidsParams struct {
	TokenID uint64 `json:"tokenId"`
	Offset  int    `json:"offset"`
	Limit   int    `json:"limit"`
}

type activeBidsResult struct {
	Bids  []*bidJSON `json:"bids"`
	Total int        `json:"total"`
}

func (s *Server) handleGetActiveBids(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params activeBidsParams
	if !decodeParams(w, req, &params) {
		return
	}
	bids, total, err := s.node.ActiveBids(params.TokenID, params.Offset, params.Limit)
	if err != nil {
		writeMarketError(w, req.ID, err)
		return
	}
	out := activeBidsResult{Bids: make([]*bidJSON, 0, len(bids)), Total: total}
	for _, b := range bids {
		out.Bids = append(out.Bids, bidToJSON(b))
	}
	writeResult(w, req.ID, out)
}

func (s *Server) handleGetPendingRefund(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params addressParams
	if !decodeParams(w, req, &params) {
		return
	}
	addr, err := parseBech32Address(params.Address)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeMarketInvalidParams, "invalid_params", err.Error())
		return
	}
	pending, err := s.node.PendingRefund(addr)
	if err != nil {
		writeMarketError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, map[string]string{"pending": pending.String()})
}

func (s *Server) handleGetPendingTokenRefund(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params tokenRefundParams
	if !decodeParams(w, req, &params) {
		return
	}
	addr, err := parseBech32Address(params.Address)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeMarketInvalidParams, "invalid_params", err.Error())
		return
	}
	token, err := parseBech32Address(params.Token)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeMarketInvalidParams, "invalid_params", err.Error())
		return
	}
	pending, err := s.node.PendingTokenRefund(addr, token)
	if err != nil {
		writeMarketError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, map[string]string{"pending": pending.String()})
}

func (s *Server) handleGetBalance(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params addressParams
	if !decodeParams(w, req, &params) {
		return
	}
	addr, err := parseBech32Address(params.Address)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeMarketInvalidParams, "invalid_params", err.Error())
		return
	}
	balance, err := s.node.Balance(addr)
	if err != nil {
		writeMarketError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, map[string]string{"balance": balance.String()})
}

type eventsParams struct {
	Limit int `json:"limit"`
}

func (s *Server) handleGetEvents(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params eventsParams
	if !decodeParams(w, req, &params) {
		return
	}
	evts := s.node.RecentEvents(params.Limit)
	out := make([]*types.Event, 0, len(evts))
	out = append(out, evts...)
	writeResult(w, req.ID, out)
}
