package rpc

import (
	"math/big"
	"net/http"

	"github.com/ZeusMonkey/cdl-loan/native/lending"
)

// handleAdmin services the authenticated parameter setters. All of them take
// effect on future loans only; outstanding loans keep their snapshotted
// terms.
func (s *Server) handleAdmin(w http.ResponseWriter, req *RPCRequest) {
	switch req.Method {
	case "lending_setInterestPerDay":
		s.adminSetRate(w, req, s.engine.SetInterestPerDay)
	case "lending_setPenalizationPerDay":
		s.adminSetRate(w, req, s.engine.SetPenalizationPerDay)
	case "lending_setCollateralRatio":
		var params struct {
			Ratio uint64 `json:"ratio"`
		}
		if err := decodeParams(req, &params); err != nil {
			writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
			return
		}
		s.adminApply(w, req, s.engine.SetCollateralRatio(params.Ratio))
	case "lending_setMaxLoanDays":
		var params struct {
			Days uint64 `json:"days"`
		}
		if err := decodeParams(req, &params); err != nil {
			writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
			return
		}
		s.adminApply(w, req, s.engine.SetMaxLoanDays(params.Days))
	case "lending_setLockDuration":
		var params struct {
			Seconds int64 `json:"seconds"`
		}
		if err := decodeParams(req, &params); err != nil {
			writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
			return
		}
		s.adminApply(w, req, s.engine.SetLockDuration(params.Seconds))
	case "lending_setRepaidSplit":
		var params struct {
			LP  string `json:"lp"`
			Dev string `json:"dev"`
		}
		if err := decodeParams(req, &params); err != nil {
			writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
			return
		}
		lp, err := parseAmount(params.LP)
		if err != nil {
			writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
			return
		}
		dev, err := parseAmount(params.Dev)
		if err != nil {
			writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
			return
		}
		s.adminApply(w, req, s.engine.SetRepaidSplit(lending.RepaidSplit{LP: lp, Dev: dev}))
	case "lending_setCalledSplit":
		var params struct {
			LP       string `json:"lp"`
			Dev      string `json:"dev"`
			Recaller string `json:"recaller"`
		}
		if err := decodeParams(req, &params); err != nil {
			writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
			return
		}
		lp, err := parseAmount(params.LP)
		if err != nil {
			writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
			return
		}
		dev, err := parseAmount(params.Dev)
		if err != nil {
			writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
			return
		}
		recaller, err := parseAmount(params.Recaller)
		if err != nil {
			writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
			return
		}
		s.adminApply(w, req, s.engine.SetCalledSplit(lending.CalledSplit{LP: lp, Dev: dev, Recaller: recaller}))
	default:
		writeError(w, http.StatusNotFound, req.ID, codeMethodNotFound, "method not found", req.Method)
	}
}

func (s *Server) adminSetRate(w http.ResponseWriter, req *RPCRequest, set func(rate *big.Int) error) {
	var params struct {
		Rate string `json:"rate"`
	}
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	rate, err := parseAmount(params.Rate)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	s.adminApply(w, req, set(rate))
}

func (s *Server) adminApply(w http.ResponseWriter, req *RPCRequest, err error) {
	if err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	s.log.Info("parameter updated", "method", req.Method)
	writeResult(w, req.ID, map[string]bool{"applied": true})
}
