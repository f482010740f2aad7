package rpc

import (
	"net/http"
	"strings"
	"time"
)

type setPriceParams struct {
	Caller string `json:"caller"`
	Asset  string `json:"asset"`
	Price  string `json:"price"`
	// Timestamp is optional; the current time is used when omitted.
	Timestamp int64 `json:"timestamp,omitempty"`
}

func (s *Server) handleSetPrice(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	if authErr := s.requireAuth(r); authErr != nil {
		writeRPCError(w, req.ID, authErr)
		return
	}
	var params setPriceParams
	if rpcErr := decodeParams(req, &params); rpcErr != nil {
		writeRPCError(w, req.ID, rpcErr)
		return
	}
	caller, rpcErr := parseAddress(params.Caller, "caller")
	if rpcErr != nil {
		writeRPCError(w, req.ID, rpcErr)
		return
	}
	price, rpcErr := parseAmount(params.Price, "price")
	if rpcErr != nil {
		writeRPCError(w, req.ID, rpcErr)
		return
	}
	asset := strings.ToUpper(strings.TrimSpace(params.Asset))
	feed, ok := s.feeds[asset]
	if !ok {
		writeRPCError(w, req.ID, &RPCError{Code: codeInvalidParams, Message: "no manual feed for asset " + asset})
		return
	}
	ts := time.Now().UTC()
	if params.Timestamp > 0 {
		ts = time.Unix(params.Timestamp, 0).UTC()
	}
	if err := feed.SetPrice(caller, asset, price, ts); err != nil {
		writeRPCError(w, req.ID, engineError(err))
		return
	}
	writeResult(w, req.ID, map[string]bool{"ok": true})
}
