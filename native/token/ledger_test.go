package token

import (
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

var (
	tkn   = common.HexToAddress("0x00000000000000000000000000000000000000a0")
	wnat  = common.HexToAddress("0x00000000000000000000000000000000000000c0")
	alice = common.HexToAddress("0x0000000000000000000000000000000000000010")
	bob   = common.HexToAddress("0x0000000000000000000000000000000000000011")
)

func newLedger(t *testing.T) *Registry {
	t.Helper()
	r := NewRegistry()
	if err := r.Register(tkn, "TKN", 6); err != nil {
		t.Fatalf("register: %v", err)
	}
	return r
}

func TestRegisterRejectsDuplicates(t *testing.T) {
	r := newLedger(t)
	if err := r.Register(tkn, "TKN", 6); !errors.Is(err, ErrDuplicateToken) {
		t.Fatalf("duplicate register: got %v, want %v", err, ErrDuplicateToken)
	}
	dec, err := r.Decimals(tkn)
	if err != nil || dec != 6 {
		t.Fatalf("decimals: got %d, %v", dec, err)
	}
	if _, err := r.Decimals(wnat); !errors.Is(err, ErrUnknownToken) {
		t.Fatalf("unknown decimals: got %v, want %v", err, ErrUnknownToken)
	}
}

func TestTransferMovesBalance(t *testing.T) {
	r := newLedger(t)
	if err := r.Mint(tkn, alice, big.NewInt(100)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	if err := r.Transfer(tkn, alice, bob, big.NewInt(150)); !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("overdraw: got %v, want %v", err, ErrInsufficientBalance)
	}
	if err := r.Transfer(tkn, alice, bob, big.NewInt(60)); err != nil {
		t.Fatalf("transfer: %v", err)
	}
	aliceBalance, _ := r.BalanceOf(tkn, alice)
	bobBalance, _ := r.BalanceOf(tkn, bob)
	if aliceBalance.Int64() != 40 || bobBalance.Int64() != 60 {
		t.Fatalf("balances: alice=%s bob=%s", aliceBalance, bobBalance)
	}
}

func TestTransferFromConsumesAllowance(t *testing.T) {
	r := newLedger(t)
	if err := r.Mint(tkn, alice, big.NewInt(100)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	if err := r.TransferFrom(tkn, bob, alice, bob, big.NewInt(10)); !errors.Is(err, ErrInsufficientAllowance) {
		t.Fatalf("no allowance: got %v, want %v", err, ErrInsufficientAllowance)
	}
	if err := r.Approve(tkn, alice, bob, big.NewInt(30)); err != nil {
		t.Fatalf("approve: %v", err)
	}
	if err := r.TransferFrom(tkn, bob, alice, bob, big.NewInt(20)); err != nil {
		t.Fatalf("transfer from: %v", err)
	}
	remaining, _ := r.Allowance(tkn, alice, bob)
	if remaining.Int64() != 10 {
		t.Fatalf("allowance: got %s, want 10", remaining)
	}
	if err := r.TransferFrom(tkn, bob, alice, bob, big.NewInt(11)); !errors.Is(err, ErrInsufficientAllowance) {
		t.Fatalf("spent allowance: got %v, want %v", err, ErrInsufficientAllowance)
	}
}

func TestWrapUnwrapNative(t *testing.T) {
	r := newLedger(t)
	if err := r.Wrap(alice, big.NewInt(1)); !errors.Is(err, ErrNoWrappedNative) {
		t.Fatalf("wrap without wrapper: got %v, want %v", err, ErrNoWrappedNative)
	}
	if err := r.RegisterWrappedNative(wnat, "WNAT"); err != nil {
		t.Fatalf("register wrapped: %v", err)
	}
	if dec, _ := r.Decimals(wnat); dec != 18 {
		t.Fatalf("wrapper decimals: got %d, want 18", dec)
	}
	if err := r.MintNative(alice, big.NewInt(100)); err != nil {
		t.Fatalf("mint native: %v", err)
	}
	if err := r.Wrap(alice, big.NewInt(150)); !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("over wrap: got %v, want %v", err, ErrInsufficientBalance)
	}
	if err := r.Wrap(alice, big.NewInt(70)); err != nil {
		t.Fatalf("wrap: %v", err)
	}
	wrapped, _ := r.BalanceOf(wnat, alice)
	if wrapped.Int64() != 70 || r.NativeBalanceOf(alice).Int64() != 30 {
		t.Fatalf("after wrap: wrapped=%s native=%s", wrapped, r.NativeBalanceOf(alice))
	}
	if err := r.Unwrap(alice, big.NewInt(70)); err != nil {
		t.Fatalf("unwrap: %v", err)
	}
	if r.NativeBalanceOf(alice).Int64() != 100 {
		t.Fatalf("native not restored: %s", r.NativeBalanceOf(alice))
	}
}
