package biz

import (
	"context"
	"errors"
	"testing"

	"avalanche/internal/game/xxl"

	"github.com/shopspring/decimal"
	"github.com/yola1107/kratos/v2/log"
)

// fakeWalletRepo 内存钱包桩
type fakeWalletRepo struct {
	account  *Account
	seen     map[string]bool
	settles  int
	failNext error
}

func (r *fakeWalletRepo) Account(ctx context.Context, playerID int64) (*Account, error) {
	if r.account == nil {
		return nil, errors.New("no account")
	}
	return r.account, nil
}

func (r *fakeWalletRepo) SpinTransact(ctx context.Context, playerID int64, spinID string,
	bet decimal.Decimal, simulate func() (*xxl.SpinResult, error)) (*xxl.SpinResult, decimal.Decimal, error) {

	if r.failNext != nil {
		err := r.failNext
		r.failNext = nil
		return nil, decimal.Zero, err
	}
	if r.seen == nil {
		r.seen = map[string]bool{}
	}
	if r.seen[spinID] {
		return nil, decimal.Zero, ErrDuplicateSpin
	}
	if r.account.Balance.LessThan(bet) {
		return nil, decimal.Zero, InsufficientBalance
	}
	res, err := simulate()
	if err != nil {
		return nil, decimal.Zero, err
	}
	r.seen[spinID] = true
	r.settles++
	r.account.Balance = r.account.Balance.Sub(bet).Add(res.TotalWin)
	return res, r.account.Balance, nil
}

func TestSettleDemoSkipsLedger(t *testing.T) {
	sim := xxl.NewSimulator(nil, nil)
	res := findSpin(t, sim, 1)
	repo := &fakeWalletRepo{}
	uc := NewWalletUsecase(repo, log.DefaultLogger)

	demo := &Account{PlayerID: 1, Type: AccountDemo, Status: AccountActive, Balance: decimal.NewFromInt(100)}
	bet := decimal.NewFromInt(1)
	got, balance, err := uc.Settle(context.Background(), demo, "s1", bet,
		func() (*xxl.SpinResult, error) { return res, nil })
	if err != nil {
		t.Fatal(err)
	}
	if repo.settles != 0 {
		t.Fatal("demo settle touched the ledger")
	}
	want := demo.Balance.Sub(bet).Add(res.TotalWin)
	if !balance.Equal(want) {
		t.Fatalf("balance=%s want %s", balance, want)
	}
	if got != res {
		t.Fatal("result not passed through")
	}
}

func TestSettleRealDelegates(t *testing.T) {
	sim := xxl.NewSimulator(nil, nil)
	res := findSpin(t, sim, 1)
	repo := &fakeWalletRepo{
		account: &Account{PlayerID: 1, Type: AccountReal, Status: AccountActive, Balance: decimal.NewFromInt(100)},
	}
	uc := NewWalletUsecase(repo, log.DefaultLogger)
	bet := decimal.NewFromInt(1)

	_, balance, err := uc.Settle(context.Background(), repo.account, "s1", bet,
		func() (*xxl.SpinResult, error) { return res, nil })
	if err != nil {
		t.Fatal(err)
	}
	if repo.settles != 1 {
		t.Fatalf("settles=%d", repo.settles)
	}
	want := decimal.NewFromInt(100).Sub(bet).Add(res.TotalWin)
	if !balance.Equal(want) {
		t.Fatalf("balance=%s want %s", balance, want)
	}

	// 同spinId二次结算撞幂等键
	if _, _, err := uc.Settle(context.Background(), repo.account, "s1", bet,
		func() (*xxl.SpinResult, error) { return res, nil }); !errors.Is(err, ErrDuplicateSpin) {
		t.Fatalf("duplicate settle: %v", err)
	}
}

func TestSettleSimulateFailureRollsBack(t *testing.T) {
	repo := &fakeWalletRepo{
		account: &Account{PlayerID: 1, Type: AccountReal, Status: AccountActive, Balance: decimal.NewFromInt(100)},
	}
	uc := NewWalletUsecase(repo, log.DefaultLogger)

	boom := errors.New("integrity failure")
	_, _, err := uc.Settle(context.Background(), repo.account, "s2", decimal.NewFromInt(1),
		func() (*xxl.SpinResult, error) { return nil, boom })
	if !errors.Is(err, boom) {
		t.Fatalf("got %v", err)
	}
	if repo.settles != 0 {
		t.Fatal("failed simulate still settled")
	}
	if !repo.account.Balance.Equal(decimal.NewFromInt(100)) {
		t.Fatalf("balance changed: %s", repo.account.Balance)
	}
}
