package rpc

import (
	"net/http"

	"github.com/ethereum/go-ethereum/common"

	"github.com/ZeusMonkey/cdl-loan/native/lending"
	"github.com/ZeusMonkey/cdl-loan/observability"
)

// LoanResult is the wire form of a loan record. Amounts travel as decimal
// strings so clients never lose precision to JSON numbers.
type LoanResult struct {
	ID             uint64             `json:"id"`
	Owner          string             `json:"owner"`
	Token          string             `json:"token"`
	Amount         string             `json:"amount"`
	DaysToRepay    uint64             `json:"daysToRepay"`
	InterestPerDay string             `json:"interestPerDay"`
	IssuedAt       int64              `json:"issuedAt"`
	Deadline       int64              `json:"deadline"`
	State          string             `json:"state"`
	Collateral     []CollateralResult `json:"collateral,omitempty"`
}

type CollateralResult struct {
	Token     string `json:"token"`
	FromScore string `json:"fromScore"`
	FromPool  string `json:"fromPool"`
}

func loanResult(loan *lending.Loan) *LoanResult {
	if loan == nil {
		return nil
	}
	out := &LoanResult{
		ID:             loan.ID,
		Owner:          loan.Owner.Hex(),
		Token:          loan.Token.Hex(),
		Amount:         loan.Amount.String(),
		DaysToRepay:    loan.DaysToRepay,
		InterestPerDay: loan.InterestPerDay.String(),
		IssuedAt:       loan.IssuedAt,
		Deadline:       loan.Deadline(),
		State:          loan.State.String(),
	}
	for _, lock := range loan.Collateral {
		out.Collateral = append(out.Collateral, CollateralResult{
			Token:     lock.Token.Hex(),
			FromScore: lock.FromScore.String(),
			FromPool:  lock.FromPool.String(),
		})
	}
	return out
}

func (s *Server) handleGenerateLoan(w http.ResponseWriter, req *RPCRequest) {
	var params struct {
		Borrower    string `json:"borrower"`
		Token       string `json:"token"`
		Amount      string `json:"amount"`
		DaysToRepay uint64 `json:"daysToRepay"`
	}
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	borrower, err := parseAddress(params.Borrower)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	tokenAddr, err := parseAddress(params.Token)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	amount, err := parseAmount(params.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	loan, err := s.engine.GenerateLoan(borrower, tokenAddr, amount, params.DaysToRepay)
	if err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	observability.LendingMetrics().LoanIssued(loan.Token.Hex())
	s.log.Info("loan issued", "id", loan.ID, "owner", loan.Owner.Hex(), "amount", loan.Amount.String())
	writeResult(w, req.ID, loanResult(loan))
}

func (s *Server) handleGenerateLoanNative(w http.ResponseWriter, req *RPCRequest) {
	var params struct {
		Borrower    string `json:"borrower"`
		Amount      string `json:"amount"`
		DaysToRepay uint64 `json:"daysToRepay"`
	}
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	borrower, err := parseAddress(params.Borrower)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	amount, err := parseAmount(params.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	loan, err := s.engine.GenerateLoanNative(borrower, amount, params.DaysToRepay)
	if err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	observability.LendingMetrics().LoanIssued(loan.Token.Hex())
	s.log.Info("native loan issued", "id", loan.ID, "owner", loan.Owner.Hex(), "amount", loan.Amount.String())
	writeResult(w, req.ID, loanResult(loan))
}

func (s *Server) handleRepayLoan(w http.ResponseWriter, req *RPCRequest) {
	var params struct {
		Borrower string `json:"borrower"`
	}
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	borrower, err := parseAddress(params.Borrower)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	loan, err := s.engine.RepayLoan(borrower)
	if err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	observability.LendingMetrics().LoanRepaid(loan.Token.Hex())
	s.log.Info("loan repaid", "id", loan.ID, "owner", loan.Owner.Hex())
	writeResult(w, req.ID, loanResult(loan))
}

func (s *Server) handleRepayLoanNative(w http.ResponseWriter, req *RPCRequest) {
	var params struct {
		Borrower string `json:"borrower"`
		Value    string `json:"value"`
	}
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	borrower, err := parseAddress(params.Borrower)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	value, err := parseAmount(params.Value)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	loan, err := s.engine.RepayLoanNative(borrower, value)
	if err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	observability.LendingMetrics().LoanRepaid(loan.Token.Hex())
	s.log.Info("native loan repaid", "id", loan.ID, "owner", loan.Owner.Hex())
	writeResult(w, req.ID, loanResult(loan))
}

func (s *Server) handleCallLatePayment(w http.ResponseWriter, req *RPCRequest) {
	var params struct {
		Recaller string `json:"recaller"`
		LoanID   uint64 `json:"loanId"`
	}
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	recaller, err := parseAddress(params.Recaller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	loan, err := s.engine.CallLatePayment(recaller, params.LoanID)
	if err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	observability.LendingMetrics().LoanRecalled(loan.Token.Hex())
	s.log.Info("loan recalled", "id", loan.ID, "owner", loan.Owner.Hex(), "recaller", recaller.Hex())
	writeResult(w, req.ID, loanResult(loan))
}

func (s *Server) handleGetLoan(w http.ResponseWriter, req *RPCRequest) {
	var params struct {
		LoanID uint64 `json:"loanId"`
	}
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	loan, err := s.engine.Loan(params.LoanID)
	if err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, loanResult(loan))
}

func (s *Server) handleListLoans(w http.ResponseWriter, req *RPCRequest) {
	ids, err := s.engine.LoanIDs()
	if err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, map[string]interface{}{"loanIds": ids})
}

func (s *Server) handleActiveLoan(w http.ResponseWriter, req *RPCRequest) {
	var params struct {
		Borrower string `json:"borrower"`
	}
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	borrower, err := parseAddress(params.Borrower)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	loan, err := s.engine.ActiveLoan(borrower)
	if err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, loanResult(loan))
}

func (s *Server) handleAmountToRepay(w http.ResponseWriter, req *RPCRequest) {
	var params struct {
		LoanID uint64 `json:"loanId"`
	}
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	loan, err := s.engine.Loan(params.LoanID)
	if err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, map[string]string{"amountToRepay": s.engine.AmountToRepay(loan).String()})
}

func (s *Server) handleCryptoScore(w http.ResponseWriter, req *RPCRequest) {
	tokenAddr, user, ok := s.tokenUserParams(w, req)
	if !ok {
		return
	}
	score, err := s.engine.CryptoScore(tokenAddr, user)
	if err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, map[string]string{"cryptoScore": score.String()})
}

func (s *Server) handleUserCollateral(w http.ResponseWriter, req *RPCRequest) {
	tokenAddr, user, ok := s.tokenUserParams(w, req)
	if !ok {
		return
	}
	collateral, err := s.engine.UserCollateral(tokenAddr, user)
	if err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, map[string]string{"collateral": collateral.String()})
}

func (s *Server) handleUSDAmountForToken(w http.ResponseWriter, req *RPCRequest) {
	var params struct {
		Token  string `json:"token"`
		Amount string `json:"amount"`
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
	amount, err := parseAmount(params.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	usd, err := s.engine.USDAmountForToken(tokenAddr, amount)
	if err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, map[string]string{"usd": usd.String()})
}

func (s *Server) handleTotalCollateralUSD(w http.ResponseWriter, req *RPCRequest) {
	user, ok := s.userParam(w, req)
	if !ok {
		return
	}
	usd, err := s.engine.TotalCollateralInUSD(user)
	if err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, map[string]string{"usd": usd.String()})
}

func (s *Server) handleUserActiveFundsLentUSD(w http.ResponseWriter, req *RPCRequest) {
	user, ok := s.userParam(w, req)
	if !ok {
		return
	}
	usd, err := s.engine.UserActiveFundsLentInUSD(user)
	if err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, map[string]string{"usd": usd.String()})
}

func (s *Server) handleActiveFundsLentUSD(w http.ResponseWriter, req *RPCRequest) {
	usd, err := s.engine.ActiveFundsLentInUSD()
	if err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, map[string]string{"usd": usd.String()})
}

func (s *Server) handleTotalLockedCollateralUSD(w http.ResponseWriter, req *RPCRequest) {
	usd, err := s.engine.TotalLockedCollateralInUSD()
	if err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, map[string]string{"usd": usd.String()})
}

func (s *Server) handleUserLockedCollateralUSD(w http.ResponseWriter, req *RPCRequest) {
	user, ok := s.userParam(w, req)
	if !ok {
		return
	}
	usd, err := s.engine.UserLockedCollateralInUSD(user)
	if err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, map[string]string{"usd": usd.String()})
}

func (s *Server) handleParams(w http.ResponseWriter, req *RPCRequest) {
	params := s.engine.Params()
	writeResult(w, req.ID, map[string]interface{}{
		"collateralRatio":    params.CollateralRatio,
		"interestPerDay":     params.InterestPerDay.String(),
		"penalizationPerDay": params.PenalizationPerDay.String(),
		"maxLoanDays":        params.MaxLoanDays,
		"lockDuration":       params.LockDuration,
		"repaidSplit": map[string]string{
			"lp":  params.RepaidSplit.LP.String(),
			"dev": params.RepaidSplit.Dev.String(),
		},
		"calledSplit": map[string]string{
			"lp":       params.CalledSplit.LP.String(),
			"dev":      params.CalledSplit.Dev.String(),
			"recaller": params.CalledSplit.Recaller.String(),
		},
	})
}

func (s *Server) tokenUserParams(w http.ResponseWriter, req *RPCRequest) (tokenAddr, user common.Address, ok bool) {
	var params struct {
		Token string `json:"token"`
		User  string `json:"user"`
	}
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return tokenAddr, user, false
	}
	parsedToken, err := parseAddress(params.Token)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return tokenAddr, user, false
	}
	parsedUser, err := parseAddress(params.User)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return tokenAddr, user, false
	}
	return parsedToken, parsedUser, true
}

func (s *Server) userParam(w http.ResponseWriter, req *RPCRequest) (user common.Address, ok bool) {
	var params struct {
		User string `json:"user"`
	}
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return user, false
	}
	parsed, err := parseAddress(params.User)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return user, false
	}
	return parsed, true
}
