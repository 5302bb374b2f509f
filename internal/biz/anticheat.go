package biz

import (
	"context"
	"sync"
	"time"

	"avalanche/internal/conf"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/yola1107/kratos/v2/log"
)

// Violation 单条违规明细
type Violation struct {
	Field  string `json:"field"`
	Reason string `json:"reason"`
	Risk   string `json:"risk"` // low / medium / high
}

// ReplayGuard spinId防重放（redis SETNX实现，见data层）
type ReplayGuard interface {
	FirstSeen(ctx context.Context, spinID string) (bool, error)
}

const _rateShardCount = 16

// rateBucket 单玩家限频窗口
type rateBucket struct {
	minuteStart time.Time
	minuteCount int
	hourStart   time.Time
	hourCount   int
	lastSpinAt  time.Time
}

type rateShard struct {
	mu      sync.Mutex
	buckets map[int64]*rateBucket
}

// AntiCheatGate 反作弊闸门。所有检查按序执行，遇硬性失败立即短路；
// 拒绝的请求不产生任何状态变更与钱包动作。
type AntiCheatGate struct {
	cfg        *conf.AntiCheat
	demoMaxBet decimal.Decimal
	realMaxBet decimal.Decimal
	shards     [_rateShardCount]*rateShard
	guard      ReplayGuard
	log        *log.Helper
}

func NewAntiCheatGate(c *conf.Game, guard ReplayGuard, logger log.Logger) *AntiCheatGate {
	cfg := c.AntiCheat
	if cfg == nil {
		cfg = &conf.AntiCheat{}
	}
	g := &AntiCheatGate{
		cfg:        cfg,
		demoMaxBet: parseAmount(cfg.DemoMaxBet, "100"),
		realMaxBet: parseAmount(cfg.RealMaxBet, "1000"),
		guard:      guard,
		log:        log.NewHelper(logger),
	}
	for i := range g.shards {
		g.shards[i] = &rateShard{buckets: make(map[int64]*rateBucket)}
	}
	return g
}

func parseAmount(s, def string) decimal.Decimal {
	if d, err := decimal.NewFromString(s); err == nil && d.IsPositive() {
		return d
	}
	d, _ := decimal.NewFromString(def)
	return d
}

// Validate 校验一次下注请求。返回违规列表，列表为空即通过。
func (g *AntiCheatGate) Validate(ctx context.Context, req *SpinRequest, account *Account) []Violation {
	bet := decimal.NewFromFloat(req.BetAmount)

	// 1. 注额边界（演示账户上限低于真实账户）
	maxBet := g.realMaxBet
	if account.IsDemo() {
		maxBet = g.demoMaxBet
	}
	if bet.LessThanOrEqual(decimal.Zero) || bet.GreaterThan(maxBet) {
		return []Violation{{Field: "betAmount", Reason: "bet out of bounds", Risk: "medium"}}
	}

	// 2. 申报倍数上限
	if g.cfg.MaxMultiplier > 0 && req.AccumMultiplier > g.cfg.MaxMultiplier {
		return []Violation{{Field: "accumulatedMultiplier", Reason: "multiplier above ceiling", Risk: "high"}}
	}

	// 3. 账户状态
	if !account.IsActive() {
		return []Violation{{Field: "account", Reason: "account not active", Risk: "high"}}
	}

	// 4. 限频与冷却
	if v := g.checkRate(req.PlayerID); v != nil {
		return []Violation{*v}
	}

	// 5. spinId防重放
	if req.SpinID != "" {
		if _, err := uuid.Parse(req.SpinID); err != nil {
			return []Violation{{Field: "spinId", Reason: "malformed spin id", Risk: "medium"}}
		}
		first, err := g.guard.FirstSeen(ctx, req.SpinID)
		if err != nil {
			g.log.WithContext(ctx).Errorf("replay guard: %v", err)
			return []Violation{{Field: "spinId", Reason: "replay guard unavailable", Risk: "high"}}
		}
		if !first {
			return []Violation{{Field: "spinId", Reason: "spin id already seen", Risk: "high"}}
		}
	}

	return nil
}

func (g *AntiCheatGate) shard(playerID int64) *rateShard {
	return g.shards[playerID%_rateShardCount]
}

// checkRate 分钟/小时窗口限频 + 最小冷却间隔。通过时记账。
func (g *AntiCheatGate) checkRate(playerID int64) *Violation {
	sh := g.shard(playerID)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	now := time.Now()
	b, ok := sh.buckets[playerID]
	if !ok {
		b = &rateBucket{minuteStart: now, hourStart: now}
		sh.buckets[playerID] = b
	}

	if cd := time.Duration(g.cfg.CooldownMs) * time.Millisecond; cd > 0 && !b.lastSpinAt.IsZero() {
		if now.Sub(b.lastSpinAt) < cd {
			return &Violation{Field: "rate", Reason: "spin cooldown not elapsed", Risk: "low"}
		}
	}
	if now.Sub(b.minuteStart) >= time.Minute {
		b.minuteStart, b.minuteCount = now, 0
	}
	if now.Sub(b.hourStart) >= time.Hour {
		b.hourStart, b.hourCount = now, 0
	}
	if g.cfg.SpinsPerMinute > 0 && b.minuteCount >= g.cfg.SpinsPerMinute {
		return &Violation{Field: "rate", Reason: "per-minute spin ceiling reached", Risk: "medium"}
	}
	if g.cfg.SpinsPerHour > 0 && b.hourCount >= g.cfg.SpinsPerHour {
		return &Violation{Field: "rate", Reason: "per-hour spin ceiling reached", Risk: "medium"}
	}

	b.minuteCount++
	b.hourCount++
	b.lastSpinAt = now
	return nil
}

// Sweep 清理长时间不活跃的限频桶，由周期任务调用
func (g *AntiCheatGate) Sweep(maxIdle time.Duration) int {
	now := time.Now()
	removed := 0
	for _, sh := range g.shards {
		sh.mu.Lock()
		for id, b := range sh.buckets {
			if now.Sub(b.lastSpinAt) > maxIdle {
				delete(sh.buckets, id)
				removed++
			}
		}
		sh.mu.Unlock()
	}
	return removed
}
