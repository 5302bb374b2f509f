package biz

import (
	"context"
	"fmt"
	"time"

	"avalanche/internal/conf"
	"avalanche/internal/game/xxl"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/yola1107/kratos/v2/log"
	"go.uber.org/zap"
)

// 审计事件类型
const (
	AuditAntiCheat = "anti_cheat_violation"
	AuditIntegrity = "integrity_failure"
	AuditWinClip   = "win_clipped"
	AuditRecovery  = "recovery"
)

// AuditEvent 审计事件，以spinId/playerId为键写入不可变审计流
type AuditEvent struct {
	Kind     string         `json:"kind"`
	SpinID   string         `json:"spinId"`
	PlayerID int64          `json:"playerId"`
	At       int64          `json:"at"`
	Detail   map[string]any `json:"detail,omitempty"`
}

// AuditRepo 审计流发布（rabbitmq实现见data层）
type AuditRepo interface {
	Publish(ctx context.Context, ev *AuditEvent) error
}

// RejectedError 客户端自身原因导致的拒绝（不重试），与内部可恢复
// 的同步故障严格区分。
type RejectedError struct {
	Violations []Violation
}

func (e *RejectedError) Error() string {
	if len(e.Violations) == 0 {
		return "request rejected"
	}
	return fmt.Sprintf("request rejected: %s(%s)", e.Violations[0].Field, e.Violations[0].Reason)
}

// NewSimulator 由配置构造引擎模拟器
func NewSimulator(c *conf.Game, zlog *zap.Logger) *xxl.Simulator {
	var engine *xxl.GameConfig
	if c != nil {
		engine = c.Engine
	}
	return xxl.NewSimulator(engine, zlog)
}

// GameUsecase 核心编排：闸门→钱包边界（借记/模拟/贷记）→会话播放。
type GameUsecase struct {
	cfg      *conf.Game
	sim      *xxl.Simulator
	gate     *AntiCheatGate
	wallet   *WalletUsecase
	sessions *SessionManager
	scenes   SceneRepo
	audit    AuditRepo
	log      *log.Helper
}

func NewGameUsecase(c *conf.Game, sim *xxl.Simulator, gate *AntiCheatGate, wallet *WalletUsecase,
	sessions *SessionManager, scenes SceneRepo, audit AuditRepo, logger log.Logger) *GameUsecase {
	uc := &GameUsecase{
		cfg:      c,
		sim:      sim,
		gate:     gate,
		wallet:   wallet,
		sessions: sessions,
		scenes:   scenes,
		audit:    audit,
		log:      log.NewHelper(logger),
	}
	// 限频桶随会话清扫周期一并回收
	sessions.AddSweepHook(func() { gate.Sweep(2 * time.Hour) })
	return uc
}

func (uc *GameUsecase) Sessions() *SessionManager { return uc.sessions }

// Spin 处理一次下注请求。拒绝路径不产生任何状态变更与钱包动作。
func (uc *GameUsecase) Spin(ctx context.Context, req *SpinRequest) (map[string]any, error) {
	if req == nil || req.PlayerID <= 0 || req.BetAmount <= 0 {
		return nil, InvalidRequestParams
	}

	sess := uc.sessions.GetOrCreate(ctx, req.PlayerID)
	if sess.ReloadRequired() {
		return nil, ErrReloadRequired
	}

	sess.BetLock.Lock()
	defer sess.BetLock.Unlock()

	if sess.CascadeInProgress() {
		return nil, ErrSpinInFlight
	}

	account, err := uc.wallet.Account(ctx, req.PlayerID)
	if err != nil {
		uc.log.WithContext(ctx).Errorf("spin: account load player=%d err=%v", req.PlayerID, err)
		return nil, InternalServerError
	}

	if violations := uc.gate.Validate(ctx, req, account); len(violations) > 0 {
		uc.publishAudit(ctx, &AuditEvent{
			Kind: AuditAntiCheat, SpinID: req.SpinID, PlayerID: req.PlayerID,
			Detail: map[string]any{"violations": violations, "ip": req.IP},
		})
		return nil, &RejectedError{Violations: violations}
	}

	spinID := req.SpinID
	if spinID == "" {
		spinID = uuid.NewString()
	}

	bet := decimal.NewFromFloat(req.BetAmount)
	carry, isFree := sess.ConsumeFreeSpin()
	if isFree && sess.CurrentBet().IsPositive() {
		// 免费spin沿用触发时的注额，且不再借记
		bet = sess.CurrentBet()
	}
	debit := bet
	if isFree {
		debit = decimal.Zero
	}

	seed := xxl.NewSeed()
	flags := xxl.ModeFlags{
		FreeSpinsActive: isFree,
		AccumMultiplier: carry,
		BonusMode:       req.BonusMode,
	}

	simulate := func() (*xxl.SpinResult, error) {
		res, err := uc.sim.Simulate(bet, seed, flags)
		if err != nil {
			return nil, err
		}
		res.SpinID = spinID
		res.PlayerID = req.PlayerID
		// 自校验失败视为本次spin的致命错误：整体回滚，绝不下发
		if err := uc.sim.ValidateGameResult(res); err != nil {
			uc.publishAudit(ctx, &AuditEvent{
				Kind: AuditIntegrity, SpinID: spinID, PlayerID: req.PlayerID,
				Detail: map[string]any{"error": err.Error(), "seed": seed},
			})
			uc.log.WithContext(ctx).Errorf("spin: integrity failure spin=%s err=%v", spinID, err)
			return nil, InternalServerError
		}
		return res, nil
	}

	start := time.Now()
	res, balance, err := uc.wallet.Settle(ctx, account, spinID, debit, simulate)
	if err != nil {
		// 结算整体回滚，已占用的免费机会一并归还
		if isFree {
			sess.RefundFreeSpin(carry)
		}
		return nil, err
	}

	if res.WinClipped {
		uc.publishAudit(ctx, &AuditEvent{
			Kind: AuditWinClip, SpinID: spinID, PlayerID: req.PlayerID,
			Detail: map[string]any{"totalWin": res.TotalWin.String(), "bet": bet.String()},
		})
	}

	sess.SetBalance(balance)
	buffer := time.Duration(uc.sessionCfg().CascadeBufferMs) * time.Millisecond
	if buffer <= 0 {
		buffer = 5 * time.Second
	}
	if err := sess.StartCascadeSequence(res, buffer); err != nil {
		if isFree {
			sess.RefundFreeSpin(carry)
		}
		return nil, err
	}

	// spin起点检查点：宽限期内断线重连由此复原
	if uc.scenes != nil {
		if err := uc.scenes.SaveCheckpoint(ctx, req.PlayerID, sess.Checkpoint()); err != nil {
			uc.log.WithContext(ctx).Errorf("spin: save checkpoint player=%d err=%v", req.PlayerID, err)
		}
	}

	return uc.spinResultMap(sess, res, balance, time.Since(start)), nil
}

// StepAck 处理客户端步进确认：严格顺序推进并入队校验比对。
func (uc *GameUsecase) StepAck(ctx context.Context, req *StepAckRequest) (map[string]any, error) {
	if req == nil || req.PlayerID <= 0 || req.StepNumber < 0 {
		return nil, InvalidRequestParams
	}
	sess, ok := uc.sessions.Get(req.PlayerID)
	if !ok {
		return nil, InvalidRequestParams
	}

	sess.BetLock.Lock()
	defer sess.BetLock.Unlock()

	if req.SpinID != "" && req.SpinID != sess.CurrentSpinID() {
		return nil, InvalidRequestParams
	}

	accepted := sess.AdvanceCascadeStep(req.StepNumber)
	if accepted {
		maxQueue := uc.sessionCfg().ValidationQueueSize
		if len(req.GridAfter) > 0 {
			grid, err := xxl.GridFromRows(req.GridAfter)
			if err != nil {
				return nil, InvalidRequestParams
			}
			sess.AddStepValidation(req.StepNumber, grid, req.ClusterCount, maxQueue)
		}
		if req.GridHash != "" {
			sess.AddGridValidation(req.StepNumber+1, req.GridHash, maxQueue)
		}
	}

	return map[string]any{
		"accepted":         accepted,
		"stepNumber":       req.StepNumber,
		"expectedNextStep": sess.ExpectedNextStep(),
		"cascadeComplete":  !sess.CascadeInProgress(),
		"syncStatus":       sess.SyncStatus(),
	}, nil
}

// Resync 客户端请求全量重同步：返回服务端权威状态。
func (uc *GameUsecase) Resync(ctx context.Context, playerID int64) (map[string]any, error) {
	sess, ok := uc.sessions.Get(playerID)
	if !ok {
		return nil, InvalidRequestParams
	}
	if sess.ReloadRequired() {
		return nil, ErrReloadRequired
	}

	sess.BetLock.Lock()
	defer sess.BetLock.Unlock()

	out := map[string]any{
		"playerId":         playerID,
		"syncStatus":       sess.SyncStatus(),
		"state":            sess.State(),
		"currentSpinId":    sess.CurrentSpinID(),
		"expectedNextStep": sess.ExpectedNextStep(),
		"freeSpinsLeft":    sess.FreeSpinsLeft(),
		"balance":          sess.Balance().Round(2).InexactFloat64(),
	}
	if steps := sess.UnackedSteps(); len(steps) > 0 {
		out["pendingSteps"] = stepMaps(steps)
	}
	if sess.SyncStatus() == SyncRecovering {
		if err := sess.CompleteRecovery(true, uc.sessionCfg().MaxRecoveryAttempts); err != nil {
			return nil, err
		}
		out["syncStatus"] = sess.SyncStatus()
		uc.publishAudit(ctx, &AuditEvent{
			Kind: AuditRecovery, SpinID: sess.CurrentSpinID(), PlayerID: playerID,
			Detail: map[string]any{"result": "resynced"},
		})
	}
	return out, nil
}

func (uc *GameUsecase) sessionCfg() *conf.Session {
	return uc.sessions.Config()
}

func (uc *GameUsecase) publishAudit(ctx context.Context, ev *AuditEvent) {
	if uc.audit == nil {
		return
	}
	ev.At = time.Now().Unix()
	if err := uc.audit.Publish(ctx, ev); err != nil {
		uc.log.WithContext(ctx).Errorf("audit publish: kind=%s spin=%s err=%v", ev.Kind, ev.SpinID, err)
	}
}

// spinResultMap 下发载荷
func (uc *GameUsecase) spinResultMap(sess *GameSession, res *xxl.SpinResult, balance decimal.Decimal, elapsed time.Duration) map[string]any {
	return map[string]any{
		"spinId":           res.SpinID,
		"betAmount":        res.BetAmount.Round(2).InexactFloat64(),
		"totalWin":         res.TotalWin.Round(2).InexactFloat64(),
		"baseWin":          res.BaseWin.Round(2).InexactFloat64(),
		"initialGrid":      xxl.GridRows(&res.InitialGrid),
		"finalGrid":        xxl.GridRows(&res.FinalGrid),
		"cascadeSteps":     stepMaps(res.CascadeSteps),
		"totalSteps":       len(res.CascadeSteps),
		"scatterCount":     res.ScatterCount,
		"freeSpinsAwarded": res.FreeSpinsAwarded,
		"freeSpinsLeft":    sess.FreeSpinsLeft(),
		"isFreeSpin":       res.IsFreeSpin,
		"endMultiplier":    res.EndMultiplier,
		"currentBalance":   balance.Round(2).InexactFloat64(),
		"antiCheatPassed":  true,
		"elapsedMs":        elapsed.Milliseconds(),
	}
}

func stepMaps(steps []*xxl.CascadeStep) []map[string]any {
	out := make([]map[string]any, 0, len(steps))
	for _, st := range steps {
		clusters := make([]map[string]any, 0, len(st.Clusters))
		for _, cl := range st.Clusters {
			clusters = append(clusters, map[string]any{
				"symbol":     cl.Symbol,
				"positions":  cl.Positions,
				"count":      cl.Count,
				"multiplier": cl.Multiplier,
				"win":        cl.Win.Round(2).InexactFloat64(),
			})
		}
		out = append(out, map[string]any{
			"stepNumber": st.StepNumber,
			"gridBefore": xxl.GridRows(&st.GridBefore),
			"gridAfter":  xxl.GridRows(&st.GridAfter),
			"clusters":   clusters,
			"drops":      st.Drops,
			"multiplier": st.Multiplier,
			"stepWin":    st.StepWin.Round(2).InexactFloat64(),
			"durationMs": st.DurationMs,
		})
	}
	return out
}
