package biz

import (
	"context"
	"fmt"
	"sync"
	"time"

	"avalanche/internal/game/xxl"

	"github.com/looplab/fsm"
	"github.com/shopspring/decimal"
)

// 会话状态机状态
const (
	StateIdle       = "idle"       // 无进行中的消除序列
	StateCascading  = "cascading"  // 消除序列播放中
	StateDesynced   = "desynced"   // 客户端与服务端状态失步
	StateRecovering = "recovering" // 恢复中
)

// 会话同步状态（对外暴露）
const (
	SyncSynchronized   = "synchronized"
	SyncDesynchronized = "desynchronized"
	SyncRecovering     = "recovering"
)

// 恢复方式，按严重程度递增
const (
	RecoveryPartialReplay = "partial_replay" // 仅重发未确认的step
	RecoveryFullResync    = "full_resync"    // 重发权威全量状态，丢弃排队校验
)

// 状态机事件
const (
	evStart     = "start"
	evComplete  = "complete"
	evDesync    = "desync"
	evRecover   = "recover"
	evRecovered = "recovered"
	evReset     = "reset"
)

// RecoveryCheckpoint 恢复起点的值拷贝快照（不持有会话反向指针）
type RecoveryCheckpoint struct {
	TakenAt          time.Time  `json:"takenAt"`
	SpinID           string     `json:"spinId"`
	ExpectedNextStep int64      `json:"expectedNextStep"`
	TotalSteps       int64      `json:"totalSteps"`
	GridHistory      []xxl.Grid `json:"gridHistory"`
	Balance          string     `json:"balance"`
	CurrentBet       string     `json:"currentBet"`
	FreeSpinsLeft    int64      `json:"freeSpinsLeft"`
	AccumMultiplier  int64      `json:"accumMultiplier"`
}

// GameSession 单个在线玩家的会话。字段仅由持有mu的方法触碰；
// BetLock串行化该玩家的下注请求（同一玩家同一时刻至多一笔spin在途）。
type GameSession struct {
	PlayerID int64
	BetLock  sync.Mutex

	mu  sync.Mutex
	fsm *fsm.FSM

	// 消除进度
	currentSpinID    string
	expectedNextStep int64
	totalSteps       int64
	cascadeDeadline  time.Time
	spin             *xxl.SpinResult // 播放期间临时借用，归档后置空
	lastSpin         *xxl.SpinResult // 最近归档的spin，供末步确认的校验比对使用
	gridHistory      []xxl.Grid

	// 校验队列
	stepQueue []*StepValidation
	gridQueue []*GridValidation

	// 同步状态
	syncFailures      int
	failedValidations int
	salt              string

	// 恢复状态
	recoveryAttempts  int
	lastRecovery      string
	recoveryStartedAt time.Time
	checkpoint        *RecoveryCheckpoint
	reloadRequired    bool

	// 游戏模式状态
	balance         decimal.Decimal
	currentBet      decimal.Decimal
	freeSpinsLeft   int64
	accumMultiplier int64
	totalBet        decimal.Decimal
	totalWin        decimal.Decimal

	lastActive time.Time
}

func NewGameSession(playerID int64, salt string) *GameSession {
	s := &GameSession{
		PlayerID:        playerID,
		salt:            salt,
		accumMultiplier: 1,
		totalBet:        decimal.Zero,
		totalWin:        decimal.Zero,
		balance:         decimal.Zero,
		currentBet:      decimal.Zero,
		lastActive:      time.Now(),
	}
	s.fsm = fsm.NewFSM(
		StateIdle,
		fsm.Events{
			{Name: evStart, Src: []string{StateIdle}, Dst: StateCascading},
			{Name: evComplete, Src: []string{StateCascading}, Dst: StateIdle},
			{Name: evDesync, Src: []string{StateCascading, StateRecovering}, Dst: StateDesynced},
			{Name: evRecover, Src: []string{StateDesynced}, Dst: StateRecovering},
			{Name: evRecovered, Src: []string{StateRecovering}, Dst: StateCascading},
			{Name: evReset, Src: []string{StateIdle, StateCascading, StateDesynced, StateRecovering}, Dst: StateIdle},
		},
		fsm.Callbacks{},
	)
	return s
}

func (s *GameSession) event(name string) error {
	return s.fsm.Event(context.Background(), name)
}

// State 当前状态机状态
func (s *GameSession) State() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fsm.Current()
}

// SyncStatus 对外同步状态
func (s *GameSession) SyncStatus() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.fsm.Current() {
	case StateDesynced:
		return SyncDesynchronized
	case StateRecovering:
		return SyncRecovering
	default:
		return SyncSynchronized
	}
}

// Touch 更新活跃时间
func (s *GameSession) Touch() {
	s.mu.Lock()
	s.lastActive = time.Now()
	s.mu.Unlock()
}

// StartCascadeSequence 开始一段消除序列：初始化步进计数、超时截止
// （各step时长之和+固定缓冲）并以初始网格播种网格历史。
func (s *GameSession) StartCascadeSequence(res *xxl.SpinResult, buffer time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.reloadRequired {
		return ErrReloadRequired
	}
	if err := s.event(evStart); err != nil {
		return fmt.Errorf("cascade in progress: %w", err)
	}
	var total time.Duration
	for _, st := range res.CascadeSteps {
		total += time.Duration(st.DurationMs) * time.Millisecond
	}
	s.currentSpinID = res.SpinID
	s.expectedNextStep = 0
	s.totalSteps = int64(len(res.CascadeSteps))
	s.cascadeDeadline = time.Now().Add(total + buffer)
	s.spin = res
	s.lastSpin = nil
	s.gridHistory = []xxl.Grid{res.InitialGrid}
	s.stepQueue = s.stepQueue[:0]
	s.gridQueue = s.gridQueue[:0]
	s.failedValidations = 0
	s.currentBet = res.BetAmount
	s.lastActive = time.Now()

	// 零消除的spin没有待确认step，直接完成
	if s.totalSteps == 0 {
		s.completeLocked()
	}
	return nil
}

// AdvanceCascadeStep 仅接受 n == expectedNextStep 的严格顺序确认；
// 乱序或重复的确认被拒绝且不改变任何计数。
func (s *GameSession) AdvanceCascadeStep(n int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fsm.Current() != StateCascading || s.spin == nil {
		return false
	}
	if n != s.expectedNextStep || n >= s.totalSteps {
		s.failedValidations++
		return false
	}
	s.gridHistory = append(s.gridHistory, s.spin.CascadeSteps[n].GridAfter)
	s.expectedNextStep++
	s.lastActive = time.Now()
	if s.expectedNextStep == s.totalSteps {
		s.completeLocked()
	}
	return true
}

// completeLocked 消除序列收尾：收益并入会话累计，归档spin（调用方持锁）。
// 归档件保留到下一次StartCascadeSequence，末步确认随包提交的校验
// 仍能与服务端记录比对。
func (s *GameSession) completeLocked() {
	if s.spin != nil {
		s.totalBet = s.totalBet.Add(s.spin.BetAmount)
		s.totalWin = s.totalWin.Add(s.spin.TotalWin)
		if s.spin.FreeSpinsAwarded > 0 {
			s.freeSpinsLeft += s.spin.FreeSpinsAwarded
		}
		if s.spin.IsFreeSpin {
			s.accumMultiplier = s.spin.EndMultiplier
		} else {
			s.accumMultiplier = 1
		}
		s.lastSpin = s.spin
	}
	s.spin = nil
	s.currentSpinID = ""
	s.expectedNextStep = 0
	s.totalSteps = 0
	_ = s.event(evComplete)
}

// CascadeInProgress 是否有播放中的消除序列
func (s *GameSession) CascadeInProgress() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fsm.Current() == StateCascading && s.currentSpinID != ""
}

// DetectDesynchronization 每个tick/校验周期调用。截止时间已过、
// 校验失败超阈值或失步计数到达上限时转入desynced。
func (s *GameSession) DetectDesynchronization(failThreshold, syncCeiling int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fsm.Current() != StateCascading {
		return false
	}
	deadlinePassed := !s.cascadeDeadline.IsZero() && time.Now().After(s.cascadeDeadline)
	tooManyFails := failThreshold > 0 && s.failedValidations >= failThreshold
	ceilingHit := syncCeiling > 0 && s.syncFailures >= syncCeiling
	if !deadlinePassed && !tooManyFails && !ceilingHit {
		return false
	}
	_ = s.event(evDesync)
	return true
}

// InitiateRecovery 进入恢复流程：受最大尝试数约束，先快照检查点。
// 返回快照供持久化；尝试耗尽返回ErrReloadRequired（强制客户端整载）。
func (s *GameSession) InitiateRecovery(method string, maxAttempts int) (*RecoveryCheckpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.reloadRequired {
		return nil, ErrReloadRequired
	}
	if maxAttempts > 0 && s.recoveryAttempts >= maxAttempts {
		s.reloadRequired = true
		return nil, ErrReloadRequired
	}
	if err := s.event(evRecover); err != nil {
		return nil, err
	}
	s.recoveryAttempts++
	s.lastRecovery = method
	s.recoveryStartedAt = time.Now()

	cp := s.snapshotLocked()
	s.checkpoint = cp

	if method == RecoveryFullResync {
		// 全量重同步丢弃所有排队校验
		s.stepQueue = s.stepQueue[:0]
		s.gridQueue = s.gridQueue[:0]
	}
	return cp, nil
}

// CompleteRecovery 恢复完毕。成功则回到cascading并清零失败计数；
// 失败退回desynced，尝试耗尽后置为终态（需要整载）。
func (s *GameSession) CompleteRecovery(success bool, maxAttempts int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fsm.Current() != StateRecovering {
		return fmt.Errorf("not recovering: %s", s.fsm.Current())
	}
	if success {
		if err := s.event(evRecovered); err != nil {
			return err
		}
		s.syncFailures = 0
		s.failedValidations = 0
		s.recoveryAttempts = 0
		s.checkpoint = nil
		// 恢复后重新给剩余step留出播放时间
		remaining := s.totalSteps - s.expectedNextStep
		if s.spin != nil && remaining > 0 {
			var dur time.Duration
			for _, st := range s.spin.CascadeSteps[s.expectedNextStep:] {
				dur += time.Duration(st.DurationMs) * time.Millisecond
			}
			s.cascadeDeadline = time.Now().Add(dur + time.Second)
		}
		return nil
	}
	_ = s.event(evDesync)
	if maxAttempts > 0 && s.recoveryAttempts >= maxAttempts {
		s.reloadRequired = true
		return ErrReloadRequired
	}
	return nil
}

// snapshotLocked 当前消除与游戏模式状态的值拷贝（调用方持锁）
func (s *GameSession) snapshotLocked() *RecoveryCheckpoint {
	history := make([]xxl.Grid, len(s.gridHistory))
	copy(history, s.gridHistory)
	return &RecoveryCheckpoint{
		TakenAt:          time.Now(),
		SpinID:           s.currentSpinID,
		ExpectedNextStep: s.expectedNextStep,
		TotalSteps:       s.totalSteps,
		GridHistory:      history,
		Balance:          s.balance.String(),
		CurrentBet:       s.currentBet.String(),
		FreeSpinsLeft:    s.freeSpinsLeft,
		AccumMultiplier:  s.accumMultiplier,
	}
}

// Checkpoint 无状态迁移的即时快照（spin开始时持久化，供断线重连）
func (s *GameSession) Checkpoint() *RecoveryCheckpoint {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// RecoveryStalled 恢复已发出但客户端超时未响应
func (s *GameSession) RecoveryStalled(timeout time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fsm.Current() != StateRecovering || timeout <= 0 {
		return false
	}
	return !s.recoveryStartedAt.IsZero() && time.Since(s.recoveryStartedAt) > timeout
}

// NextRecoveryMethod 按严重程度递增选择恢复方式
func (s *GameSession) NextRecoveryMethod() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.recoveryAttempts == 0 {
		return RecoveryPartialReplay
	}
	return RecoveryFullResync
}

// UnackedSteps 未确认step的拷贝（partial_replay重发内容）
func (s *GameSession) UnackedSteps() []*xxl.CascadeStep {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.spin == nil || s.expectedNextStep >= s.totalSteps {
		return nil
	}
	steps := make([]*xxl.CascadeStep, 0, s.totalSteps-s.expectedNextStep)
	steps = append(steps, s.spin.CascadeSteps[s.expectedNextStep:]...)
	return steps
}

// AbandonCascade 连接丢失等原因放弃在途序列，回到idle
func (s *GameSession) AbandonCascade() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.spin = nil
	s.lastSpin = nil
	s.currentSpinID = ""
	s.expectedNextStep = 0
	s.totalSteps = 0
	s.stepQueue = s.stepQueue[:0]
	s.gridQueue = s.gridQueue[:0]
	_ = s.event(evReset)
}

// ReloadRequired 恢复尝试耗尽后的终态
func (s *GameSession) ReloadRequired() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reloadRequired
}

// RestoreFromCheckpoint 重连时从持久化检查点复原游戏模式状态
func (s *GameSession) RestoreFromCheckpoint(cp *RecoveryCheckpoint) {
	if cp == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.freeSpinsLeft = cp.FreeSpinsLeft
	s.accumMultiplier = cp.AccumMultiplier
	if b, err := decimal.NewFromString(cp.Balance); err == nil {
		s.balance = b
	}
	if b, err := decimal.NewFromString(cp.CurrentBet); err == nil {
		s.currentBet = b
	}
}

// ---------- 游戏模式状态访问 ----------

func (s *GameSession) SetBalance(b decimal.Decimal) {
	s.mu.Lock()
	s.balance = b
	s.mu.Unlock()
}

func (s *GameSession) Balance() decimal.Decimal {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.balance
}

func (s *GameSession) FreeSpinsLeft() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.freeSpinsLeft
}

// ConsumeFreeSpin 占用一次免费机会，返回延续的累积倍数
func (s *GameSession) ConsumeFreeSpin() (int64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.freeSpinsLeft <= 0 {
		return 1, false
	}
	s.freeSpinsLeft--
	return s.accumMultiplier, true
}

// RefundFreeSpin 结算未能完成时归还已占用的免费机会并还原延续倍数
func (s *GameSession) RefundFreeSpin(carry int64) {
	s.mu.Lock()
	s.freeSpinsLeft++
	s.accumMultiplier = carry
	s.mu.Unlock()
}

func (s *GameSession) CurrentBet() decimal.Decimal {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.currentBet
}

func (s *GameSession) CurrentSpinID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.currentSpinID
}

func (s *GameSession) ExpectedNextStep() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.expectedNextStep
}

func (s *GameSession) FailedValidations() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.failedValidations
}

func (s *GameSession) IdleSince() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActive
}

func (s *GameSession) Totals() (bet, win decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.totalBet, s.totalWin
}
