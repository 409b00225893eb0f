package rpc

import (
	"net/http"

	"github.com/ZeusMonkey/cdl-loan/observability"
)

func (s *Server) handlePoolLock(w http.ResponseWriter, req *RPCRequest) {
	var params struct {
		Token     string `json:"token"`
		Depositor string `json:"depositor"`
		Amount    string `json:"amount"`
	}
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	tokenAddr, err := parseAddress(params.Token)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	depositor, err := parseAddress(params.Depositor)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	amount, err := parseAmount(params.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	if err := s.engine.LockLiquidity(tokenAddr, depositor, amount); err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	observability.LendingMetrics().PoolFlow(tokenAddr.Hex(), "lock")
	s.log.Info("liquidity locked", "token", tokenAddr.Hex(), "depositor", depositor.Hex(), "amount", amount.String())
	writeResult(w, req.ID, map[string]bool{"locked": true})
}

func (s *Server) handlePoolLockNative(w http.ResponseWriter, req *RPCRequest) {
	var params struct {
		Depositor string `json:"depositor"`
		Amount    string `json:"amount"`
	}
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	depositor, err := parseAddress(params.Depositor)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	amount, err := parseAmount(params.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	if err := s.engine.LockLiquidityNative(depositor, amount); err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	observability.LendingMetrics().PoolFlow("native", "lock")
	s.log.Info("native liquidity locked", "depositor", depositor.Hex(), "amount", amount.String())
	writeResult(w, req.ID, map[string]bool{"locked": true})
}

func (s *Server) handlePoolExtract(w http.ResponseWriter, req *RPCRequest) {
	var params struct {
		Token     string `json:"token"`
		Depositor string `json:"depositor"`
	}
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	tokenAddr, err := parseAddress(params.Token)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	depositor, err := parseAddress(params.Depositor)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	amount, err := s.engine.ExtractLiquidity(tokenAddr, depositor)
	if err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	observability.LendingMetrics().PoolFlow(tokenAddr.Hex(), "extract")
	s.log.Info("liquidity extracted", "token", tokenAddr.Hex(), "depositor", depositor.Hex(), "amount", amount.String())
	writeResult(w, req.ID, map[string]string{"extracted": amount.String()})
}

func (s *Server) handlePoolInfo(w http.ResponseWriter, req *RPCRequest) {
	var params struct {
		Token string `json:"token"`
	}
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	tokenAddr, err := parseAddress(params.Token)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	pool, err := s.engine.PoolFor(tokenAddr)
	if err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	held, err := pool.HeldBalance()
	if err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, map[string]interface{}{
		"token":       pool.Token().Hex(),
		"poolAddress": pool.Address().Hex(),
		"native":      pool.IsNative(),
		"totalLocked": pool.TotalLocked().String(),
		"heldBalance": held.String(),
	})
}

func (s *Server) handlePoolPosition(w http.ResponseWriter, req *RPCRequest) {
	var params struct {
		Token     string `json:"token"`
		Depositor string `json:"depositor"`
	}
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	tokenAddr, err := parseAddress(params.Token)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	depositor, err := parseAddress(params.Depositor)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	pool, err := s.engine.PoolFor(tokenAddr)
	if err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, map[string]interface{}{
		"amountLocked": pool.AmountLocked(depositor).String(),
		"lockingTime":  pool.LockingTime(depositor),
	})
}
