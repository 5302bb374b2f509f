package data

import (
	"time"

	"avalanche/internal/game/xxl"
)

// WalletBalance 玩家余额行，扣款路径对其加行锁
type WalletBalance struct {
	Id       int64     `xorm:"pk autoincr 'id'"`
	MemberID int64     `xorm:"unique 'member_id'"`
	Type     int       `xorm:"'type'"`   // 1演示 2真实
	Status   int       `xorm:"'status'"` // 1正常 2冻结
	Balance  float64   `xorm:"'balance'"`
	Version  int64     `xorm:"version 'version'"`
	Updated  time.Time `xorm:"updated 'updated_at'"`
}

func (WalletBalance) TableName() string { return "wallet_balance" }

// 账本方向
const (
	LedgerDebit  = "debit"
	LedgerCredit = "credit"
)

// WalletLedger 不可变账本。(spin_id, direction)唯一索引保证同一
// spinId的借记/贷记各至多落账一次，重复请求撞唯一键回滚。
type WalletLedger struct {
	Id        int64     `xorm:"pk autoincr 'id'"`
	MemberID  int64     `xorm:"index 'member_id'"`
	SpinID    string    `xorm:"varchar(64) unique(uq_spin_dir) 'spin_id'"`
	Direction string    `xorm:"varchar(8) unique(uq_spin_dir) 'direction'"`
	Amount    float64   `xorm:"'amount'"`
	Balance   float64   `xorm:"'balance'"` // 落账后余额
	Created   time.Time `xorm:"created 'created_at'"`
}

func (WalletLedger) TableName() string { return "wallet_ledger" }

// GameOrder 注单
type GameOrder struct {
	Id             int64     `xorm:"pk autoincr 'id'"`
	Site           string    `xorm:"varchar(32) 'site'"`
	MemberID       int64     `xorm:"index 'member_id'"`
	GameID         int64     `xorm:"'game_id'"`
	GameName       string    `xorm:"varchar(64) 'game_name'"`
	OrderSn        string    `xorm:"varchar(64) unique 'order_sn'"`
	ParentOrderSn  string    `xorm:"varchar(64) 'parent_order_sn'"`
	Amount         float64   `xorm:"'amount'"`
	ValidAmount    float64   `xorm:"'valid_amount'"`
	BonusAmount    float64   `xorm:"'bonus_amount'"`
	CurBalance     float64   `xorm:"'cur_balance'"`
	Multiple       int64     `xorm:"'multiple'"`
	IsFree         int       `xorm:"'is_free'"`
	FreeNum        int64     `xorm:"'free_num'"`
	State          int       `xorm:"'state'"`
	Seed           int64     `xorm:"'seed'"`
	WinClipped     int       `xorm:"'win_clipped'"`
	BetRawDetail   string    `xorm:"text 'bet_raw_detail'"`
	BonusRawDetail string    `xorm:"text 'bonus_raw_detail'"`
	WinDetails     string    `xorm:"text 'win_details'"`
	Created        time.Time `xorm:"created 'created_at'"`
}

func (GameOrder) TableName() string { return "game_order" }

// buildGameOrder 由结算结果生成注单
func buildGameOrder(site string, res *xxl.SpinResult, balance float64) (*GameOrder, error) {
	betRaw, err := cjson.MarshalToString(res.InitialGrid)
	if err != nil {
		return nil, err
	}
	bonusRaw, err := cjson.MarshalToString(res.CascadeSteps)
	if err != nil {
		return nil, err
	}
	winDetails, err := cjson.MarshalToString(map[string]any{
		"orderSN":          res.SpinID,
		"isFreeRound":      res.IsFreeSpin,
		"finalGrid":        res.FinalGrid,
		"scatterCount":     res.ScatterCount,
		"freeSpinsAwarded": res.FreeSpinsAwarded,
		"endMultiplier":    res.EndMultiplier,
		"totalSteps":       len(res.CascadeSteps),
	})
	if err != nil {
		return nil, err
	}
	order := &GameOrder{
		Site:           site,
		MemberID:       res.PlayerID,
		GameID:         xxl.GameID,
		GameName:       xxl.GameName,
		OrderSn:        res.SpinID,
		Amount:         res.BetAmount.Round(2).InexactFloat64(),
		ValidAmount:    res.BetAmount.Round(2).InexactFloat64(),
		BonusAmount:    res.TotalWin.Round(2).InexactFloat64(),
		CurBalance:     balance,
		Multiple:       res.EndMultiplier,
		FreeNum:        res.FreeSpinsAwarded,
		State:          1,
		Seed:           res.RngSeed,
		BetRawDetail:   betRaw,
		BonusRawDetail: bonusRaw,
		WinDetails:     winDetails,
	}
	if res.IsFreeSpin {
		order.IsFree = 1
	}
	if res.WinClipped {
		order.WinClipped = 1
	}
	return order, nil
}
