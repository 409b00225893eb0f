package token

import (
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

var (
	ErrUnknownToken          = errors.New("token: unknown token")
	ErrDuplicateToken        = errors.New("token: token already registered")
	ErrInvalidAmount         = errors.New("token: amount must be positive")
	ErrInsufficientBalance   = errors.New("token: insufficient balance")
	ErrInsufficientAllowance = errors.New("token: insufficient allowance")
	ErrNotNativeToken        = errors.New("token: not the wrapped native token")
	ErrNoWrappedNative       = errors.New("token: wrapped native token not registered")
)

// Ledger is the value-transfer capability the lending module depends on. It
// follows approve-then-transfer semantics: a spender may only pull funds the
// owner authorised beforehand.
type Ledger interface {
	Decimals(token common.Address) (uint8, error)
	BalanceOf(token, holder common.Address) (*big.Int, error)
	Allowance(token, owner, spender common.Address) (*big.Int, error)
	Transfer(token, from, to common.Address, amount *big.Int) error
	TransferFrom(token, spender, owner, to common.Address, amount *big.Int) error
}

// NativeLedger extends Ledger with the wrapped-native token: native value can
// be wrapped into a fungible balance and unwrapped back out.
type NativeLedger interface {
	Ledger
	WrappedNative() common.Address
	NativeBalanceOf(holder common.Address) *big.Int
	Wrap(holder common.Address, amount *big.Int) error
	Unwrap(holder common.Address, amount *big.Int) error
}

type tokenInfo struct {
	symbol   string
	decimals uint8
}

// Registry is the in-process fungible token ledger used by the pools, the
// loan ledger and the daemon. One registry instance backs every registered
// collateral token plus the chain-native balance table.
type Registry struct {
	tokens        map[common.Address]tokenInfo
	balances      map[common.Address]map[common.Address]*big.Int
	allowances    map[common.Address]map[common.Address]map[common.Address]*big.Int
	native        map[common.Address]*big.Int
	wrappedNative common.Address
	hasNative     bool
}

// NewRegistry constructs an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		tokens:     make(map[common.Address]tokenInfo),
		balances:   make(map[common.Address]map[common.Address]*big.Int),
		allowances: make(map[common.Address]map[common.Address]map[common.Address]*big.Int),
		native:     make(map[common.Address]*big.Int),
	}
}

// Register adds a fungible token under the supplied address.
func (r *Registry) Register(token common.Address, symbol string, decimals uint8) error {
	if _, ok := r.tokens[token]; ok {
		return ErrDuplicateToken
	}
	r.tokens[token] = tokenInfo{symbol: symbol, decimals: decimals}
	r.balances[token] = make(map[common.Address]*big.Int)
	r.allowances[token] = make(map[common.Address]map[common.Address]*big.Int)
	return nil
}

// RegisterWrappedNative registers the token that wraps the chain-native
// value. The wrapper always carries 18 decimals.
func (r *Registry) RegisterWrappedNative(token common.Address, symbol string) error {
	if err := r.Register(token, symbol, 18); err != nil {
		return err
	}
	r.wrappedNative = token
	r.hasNative = true
	return nil
}

// WrappedNative returns the wrapped native token address. The zero address is
// returned when no wrapper has been registered.
func (r *Registry) WrappedNative() common.Address {
	return r.wrappedNative
}

// Symbol returns the registered symbol for a token.
func (r *Registry) Symbol(token common.Address) (string, error) {
	info, ok := r.tokens[token]
	if !ok {
		return "", ErrUnknownToken
	}
	return info.symbol, nil
}

// Decimals returns the decimal precision the token amounts are expressed in.
func (r *Registry) Decimals(token common.Address) (uint8, error) {
	info, ok := r.tokens[token]
	if !ok {
		return 0, ErrUnknownToken
	}
	return info.decimals, nil
}

// BalanceOf returns a copy of the holder's balance.
func (r *Registry) BalanceOf(token, holder common.Address) (*big.Int, error) {
	balances, ok := r.balances[token]
	if !ok {
		return nil, ErrUnknownToken
	}
	if balance, ok := balances[holder]; ok {
		return new(big.Int).Set(balance), nil
	}
	return big.NewInt(0), nil
}

// NativeBalanceOf returns a copy of the holder's unwrapped native balance.
func (r *Registry) NativeBalanceOf(holder common.Address) *big.Int {
	if balance, ok := r.native[holder]; ok {
		return new(big.Int).Set(balance)
	}
	return big.NewInt(0)
}

// Mint credits freshly created units to the holder. Used at genesis and in
// tests; the lending module itself never mints.
func (r *Registry) Mint(token, holder common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	balances, ok := r.balances[token]
	if !ok {
		return ErrUnknownToken
	}
	balances[holder] = add(balances[holder], amount)
	return nil
}

// MintNative credits chain-native value to the holder.
func (r *Registry) MintNative(holder common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	r.native[holder] = add(r.native[holder], amount)
	return nil
}

// Approve authorises spender to pull up to amount from owner. A fresh approve
// replaces any prior allowance.
func (r *Registry) Approve(token, owner, spender common.Address, amount *big.Int) error {
	allowances, ok := r.allowances[token]
	if !ok {
		return ErrUnknownToken
	}
	if amount == nil || amount.Sign() < 0 {
		return ErrInvalidAmount
	}
	if allowances[owner] == nil {
		allowances[owner] = make(map[common.Address]*big.Int)
	}
	allowances[owner][spender] = new(big.Int).Set(amount)
	return nil
}

// Allowance returns a copy of the remaining allowance owner granted spender.
func (r *Registry) Allowance(token, owner, spender common.Address) (*big.Int, error) {
	allowances, ok := r.allowances[token]
	if !ok {
		return nil, ErrUnknownToken
	}
	if byOwner, ok := allowances[owner]; ok {
		if remaining, ok := byOwner[spender]; ok {
			return new(big.Int).Set(remaining), nil
		}
	}
	return big.NewInt(0), nil
}

// Transfer moves amount from one holder to another.
func (r *Registry) Transfer(token, from, to common.Address, amount *big.Int) error {
	balances, ok := r.balances[token]
	if !ok {
		return ErrUnknownToken
	}
	if amount == nil || amount.Sign() < 0 {
		return ErrInvalidAmount
	}
	if amount.Sign() == 0 {
		return nil
	}
	fromBalance := balances[from]
	if fromBalance == nil || fromBalance.Cmp(amount) < 0 {
		return ErrInsufficientBalance
	}
	balances[from] = new(big.Int).Sub(fromBalance, amount)
	balances[to] = add(balances[to], amount)
	return nil
}

// TransferFrom moves amount from owner to the destination, consuming the
// spender's allowance. The allowance check runs before any balance moves so a
// failed pull leaves the ledger untouched.
func (r *Registry) TransferFrom(token, spender, owner, to common.Address, amount *big.Int) error {
	allowances, ok := r.allowances[token]
	if !ok {
		return ErrUnknownToken
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	remaining := big.NewInt(0)
	if byOwner, ok := allowances[owner]; ok {
		if granted, ok := byOwner[spender]; ok {
			remaining = granted
		}
	}
	if remaining.Cmp(amount) < 0 {
		return ErrInsufficientAllowance
	}
	if err := r.Transfer(token, owner, to, amount); err != nil {
		return err
	}
	allowances[owner][spender] = new(big.Int).Sub(remaining, amount)
	return nil
}

// Wrap converts native value held by holder into the wrapped token.
func (r *Registry) Wrap(holder common.Address, amount *big.Int) error {
	if !r.hasNative {
		return ErrNoWrappedNative
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	balance := r.native[holder]
	if balance == nil || balance.Cmp(amount) < 0 {
		return ErrInsufficientBalance
	}
	r.native[holder] = new(big.Int).Sub(balance, amount)
	wrapped := r.balances[r.wrappedNative]
	wrapped[holder] = add(wrapped[holder], amount)
	return nil
}

// Unwrap converts wrapped token balance back into native value.
func (r *Registry) Unwrap(holder common.Address, amount *big.Int) error {
	if !r.hasNative {
		return ErrNoWrappedNative
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	wrapped := r.balances[r.wrappedNative]
	balance := wrapped[holder]
	if balance == nil || balance.Cmp(amount) < 0 {
		return ErrInsufficientBalance
	}
	wrapped[holder] = new(big.Int).Sub(balance, amount)
	r.native[holder] = add(r.native[holder], amount)
	return nil
}

func add(existing, amount *big.Int) *big.Int {
	if existing == nil {
		return new(big.Int).Set(amount)
	}
	return new(big.Int).Add(existing, amount)
}
