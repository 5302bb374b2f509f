package biz

import (
	"errors"

	"github.com/google/wire"
	"github.com/shopspring/decimal"
)

// ProviderSet is biz providers.
var ProviderSet = wire.NewSet(
	NewSimulator,
	NewAntiCheatGate,
	NewWalletUsecase,
	NewSessionManager,
	NewGameUsecase,
)

var (
	InternalServerError  = errors.New("internal server error")
	InvalidRequestParams = errors.New("invalid request params")
	InsufficientBalance  = errors.New("insufficient balance")
	ErrDuplicateSpin     = errors.New("duplicate spin id")
	ErrSpinInFlight      = errors.New("spin already in flight")
	ErrReloadRequired    = errors.New("session reload required")
)

// 账户类型
const (
	AccountDemo = 1 // 演示账户
	AccountReal = 2 // 真实账户
)

// 账户状态
const (
	AccountActive = 1
	AccountFrozen = 2
)

// Account 玩家账户快照
type Account struct {
	PlayerID int64
	Type     int
	Status   int
	Balance  decimal.Decimal
}

func (a *Account) IsDemo() bool   { return a.Type == AccountDemo }
func (a *Account) IsActive() bool { return a.Status == AccountActive }

// SpinRequest 鉴权层透传的下注请求
type SpinRequest struct {
	PlayerID        int64   `json:"playerId"`
	SpinID          string  `json:"spinId"` // 幂等键，缺省时服务端生成
	BetAmount       float64 `json:"betAmount"`
	QuickSpinMode   bool    `json:"quickSpinMode"`
	FreeSpinsActive bool    `json:"freeSpinsActive"`
	AccumMultiplier int64   `json:"accumulatedMultiplier"`
	BonusMode       bool    `json:"bonusMode"`
	IP              string  `json:"ip"`
}

// StepAckRequest 客户端步进确认，附带其本地计算结果用于比对
type StepAckRequest struct {
	PlayerID     int64     `json:"playerId"`
	SpinID       string    `json:"spinId"`
	StepNumber   int64     `json:"stepNumber"`
	GridAfter    [][]int64 `json:"gridAfter"`
	ClusterCount int64     `json:"clusterCount"`
	GridHash     string    `json:"gridHash"`
}
