package rpc

import (
	"net/http"

	"crosslend/native/bridge"
)

type dispatchParams struct {
	MessageID string `json:"messageId"`
}

type dispatchResult struct {
	Record bridge.OutboxRecord `json:"record"`
}

type dispatchListResult struct {
	Records []bridge.OutboxRecord `json:"records"`
}

func (s *Server) handleGetDispatch(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	if s.outbox == nil {
		writeRPCError(w, req.ID, &RPCError{Code: codeServerError, Message: "bridge outbox not configured"})
		return
	}
	var params dispatchParams
	if rpcErr := decodeParams(req, &params); rpcErr != nil {
		writeRPCError(w, req.ID, rpcErr)
		return
	}
	record, found, err := s.outbox.Get(params.MessageID)
	if err != nil {
		writeRPCError(w, req.ID, engineError(err))
		return
	}
	if !found {
		writeError(w, http.StatusNotFound, req.ID, codeServerError, "dispatch not found", params.MessageID)
		return
	}
	writeResult(w, req.ID, dispatchResult{Record: record})
}

func (s *Server) handleListDispatches(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	if s.outbox == nil {
		writeRPCError(w, req.ID, &RPCError{Code: codeServerError, Message: "bridge outbox not configured"})
		return
	}
	if len(req.Params) != 0 {
		writeRPCError(w, req.ID, &RPCError{Code: codeInvalidParams, Message: "no parameters expected"})
		return
	}
	records, err := s.outbox.List()
	if err != nil {
		writeRPCError(w, req.ID, engineError(err))
		return
	}
	if records == nil {
		records = []bridge.OutboxRecord{}
	}
	writeResult(w, req.ID, dispatchListResult{Records: records})
}
