package biz

import (
	"context"

	"avalanche/internal/game/xxl"

	"github.com/shopspring/decimal"
	"github.com/yola1107/kratos/v2/log"
)

// WalletRepo 钱包持久层。SpinTransact在单个事务内完成
// 行锁→验资→借记→模拟→贷记→落单，任何一步失败整体回滚；
// (spin_id, direction)唯一索引保证重放请求被拒绝而非重处理。
type WalletRepo interface {
	Account(ctx context.Context, playerID int64) (*Account, error)
	SpinTransact(ctx context.Context, playerID int64, spinID string, bet decimal.Decimal,
		simulate func() (*xxl.SpinResult, error)) (*xxl.SpinResult, decimal.Decimal, error)
}

// WalletUsecase 钱包边界：原子的 借记→模拟→贷记 序列。
type WalletUsecase struct {
	repo WalletRepo
	log  *log.Helper
}

func NewWalletUsecase(repo WalletRepo, logger log.Logger) *WalletUsecase {
	return &WalletUsecase{repo: repo, log: log.NewHelper(logger)}
}

func (uc *WalletUsecase) Account(ctx context.Context, playerID int64) (*Account, error) {
	return uc.repo.Account(ctx, playerID)
}

// Settle 执行一笔spin的完整结算。演示账户跳过账本与余额变更，
// 但仍走完整的模拟与自校验路径。
func (uc *WalletUsecase) Settle(ctx context.Context, account *Account, spinID string,
	bet decimal.Decimal, simulate func() (*xxl.SpinResult, error)) (*xxl.SpinResult, decimal.Decimal, error) {

	if account.IsDemo() {
		res, err := simulate()
		if err != nil {
			return nil, account.Balance, err
		}
		balance := account.Balance.Sub(bet).Add(res.TotalWin)
		return res, balance, nil
	}

	res, balance, err := uc.repo.SpinTransact(ctx, account.PlayerID, spinID, bet, simulate)
	if err != nil {
		uc.log.WithContext(ctx).Errorf("settle: player=%d spin=%s err=%v", account.PlayerID, spinID, err)
		return nil, decimal.Zero, err
	}
	return res, balance, nil
}
