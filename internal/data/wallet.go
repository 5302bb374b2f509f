package data

import (
	"context"
	"errors"

	"avalanche/internal/biz"
	"avalanche/internal/conf"
	"avalanche/internal/game/xxl"

	"github.com/go-sql-driver/mysql"
	"github.com/shopspring/decimal"
	"github.com/yola1107/kratos/v2/log"
	"xorm.io/xorm"
)

const _mysqlDupEntry = 1062

type walletRepo struct {
	data *Data
	site string
	log  *log.Helper
}

// NewWalletRepo .
func NewWalletRepo(data *Data, c *conf.Game, logger log.Logger) biz.WalletRepo {
	return &walletRepo{
		data: data,
		site: c.Site,
		log:  log.NewHelper(logger),
	}
}

func (r *walletRepo) Account(ctx context.Context, playerID int64) (*biz.Account, error) {
	var w WalletBalance
	has, err := r.data.db.Context(ctx).Where("member_id = ?", playerID).Get(&w)
	if err != nil {
		return nil, err
	}
	if !has {
		// 首次进入按真实账户开户，余额为零
		w = WalletBalance{MemberID: playerID, Type: biz.AccountReal, Status: biz.AccountActive}
		if _, err := r.data.db.Context(ctx).Insert(&w); err != nil && !isDupEntry(err) {
			return nil, err
		}
	}
	return &biz.Account{
		PlayerID: playerID,
		Type:     w.Type,
		Status:   w.Status,
		Balance:  decimal.NewFromFloat(w.Balance),
	}, nil
}

// SpinTransact 单事务内完成：行锁取余额→借记→模拟→贷记→落注单。
// 模拟或自校验失败时整体回滚，余额不变。
func (r *walletRepo) SpinTransact(ctx context.Context, playerID int64, spinID string,
	bet decimal.Decimal, simulate func() (*xxl.SpinResult, error)) (*xxl.SpinResult, decimal.Decimal, error) {

	var (
		res     *xxl.SpinResult
		balance decimal.Decimal
	)
	_, err := r.data.db.Transaction(func(sess *xorm.Session) (interface{}, error) {
		sess = sess.Context(ctx)

		var w WalletBalance
		has, err := sess.ForUpdate().Where("member_id = ?", playerID).Get(&w)
		if err != nil {
			return nil, err
		}
		if !has {
			return nil, biz.InvalidRequestParams
		}
		cur := decimal.NewFromFloat(w.Balance)
		if cur.LessThan(bet) {
			return nil, biz.InsufficientBalance
		}

		// 借记先落账：重复spinId在此撞唯一键
		cur = cur.Sub(bet)
		debit := &WalletLedger{
			MemberID:  playerID,
			SpinID:    spinID,
			Direction: LedgerDebit,
			Amount:    bet.Neg().Round(2).InexactFloat64(),
			Balance:   cur.Round(2).InexactFloat64(),
		}
		if _, err := sess.Insert(debit); err != nil {
			if isDupEntry(err) {
				return nil, biz.ErrDuplicateSpin
			}
			return nil, err
		}

		if res, err = simulate(); err != nil {
			return nil, err
		}

		cur = cur.Add(res.TotalWin)
		credit := &WalletLedger{
			MemberID:  playerID,
			SpinID:    spinID,
			Direction: LedgerCredit,
			Amount:    res.TotalWin.Round(2).InexactFloat64(),
			Balance:   cur.Round(2).InexactFloat64(),
		}
		if _, err := sess.Insert(credit); err != nil {
			if isDupEntry(err) {
				return nil, biz.ErrDuplicateSpin
			}
			return nil, err
		}

		w.Balance = cur.Round(2).InexactFloat64()
		if _, err := sess.ID(w.Id).Cols("balance").Update(&w); err != nil {
			return nil, err
		}

		order, err := buildGameOrder(r.site, res, w.Balance)
		if err != nil {
			return nil, err
		}
		if _, err := sess.Insert(order); err != nil {
			return nil, err
		}

		balance = cur
		return nil, nil
	})
	if err != nil {
		return nil, decimal.Zero, err
	}
	return res, balance, nil
}

func isDupEntry(err error) bool {
	var me *mysql.MySQLError
	return errors.As(err, &me) && me.Number == _mysqlDupEntry
}
