package biz

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"avalanche/internal/conf"

	"github.com/shopspring/decimal"
	"github.com/yola1107/kratos/v2/log"
)

// fakeSceneRepo 内存检查点桩
type fakeSceneRepo struct {
	mu     sync.Mutex
	saves  int
	checks map[int64]*RecoveryCheckpoint
}

func (r *fakeSceneRepo) SaveCheckpoint(ctx context.Context, playerID int64, cp *RecoveryCheckpoint) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.checks == nil {
		r.checks = map[int64]*RecoveryCheckpoint{}
	}
	r.checks[playerID] = cp
	r.saves++
	return nil
}

func (r *fakeSceneRepo) LoadCheckpoint(ctx context.Context, playerID int64) (*RecoveryCheckpoint, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.checks[playerID], nil
}

func (r *fakeSceneRepo) DeleteCheckpoint(ctx context.Context, playerID int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.checks, playerID)
	return nil
}

func (r *fakeSceneRepo) SessionSalt(ctx context.Context, playerID int64) (string, error) {
	return "test-salt", nil
}

// fakeAudit 记录发布的审计事件
type fakeAudit struct {
	mu     sync.Mutex
	events []*AuditEvent
}

func (a *fakeAudit) Publish(ctx context.Context, ev *AuditEvent) error {
	a.mu.Lock()
	a.events = append(a.events, ev)
	a.mu.Unlock()
	return nil
}

func (a *fakeAudit) kinds() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, 0, len(a.events))
	for _, ev := range a.events {
		out = append(out, ev.Kind)
	}
	return out
}

func newTestUsecase(t *testing.T, account *Account) (*GameUsecase, *fakeSceneRepo, *fakeAudit) {
	t.Helper()
	cfg := &conf.Game{
		Site: "test",
		AntiCheat: &conf.AntiCheat{
			DemoMaxBet: "10",
			RealMaxBet: "100",
		},
		Session: &conf.Session{
			ValidationQueueSize: 16,
			ValidationTimeoutMs: 5000,
			CascadeBufferMs:     60000,
			MaxRecoveryAttempts: 3,
			RecoveryTimeoutMs:   50,
			MaxSyncFailures:     5,
			FailedValidations:   3,
			SweepIntervalMs:     60000,
		},
	}
	scenes := &fakeSceneRepo{}
	audit := &fakeAudit{}
	sessions, cleanup, err := NewSessionManager(cfg, scenes, log.DefaultLogger)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(cleanup)

	sim := NewSimulator(cfg, nil)
	gate := NewAntiCheatGate(cfg, &fakeGuard{first: true}, log.DefaultLogger)
	wallet := NewWalletUsecase(&fakeWalletRepo{account: account}, log.DefaultLogger)
	uc := NewGameUsecase(cfg, sim, gate, wallet, sessions, scenes, audit, log.DefaultLogger)
	return uc, scenes, audit
}

func demoAccount() *Account {
	return &Account{PlayerID: 1, Type: AccountDemo, Status: AccountActive, Balance: decimal.NewFromInt(1000)}
}

func TestSpinRoundTrip(t *testing.T) {
	uc, scenes, _ := newTestUsecase(t, demoAccount())
	ctx := context.Background()

	result, err := uc.Spin(ctx, &SpinRequest{PlayerID: 1, BetAmount: 1})
	if err != nil {
		t.Fatal(err)
	}
	spinID, ok := result["spinId"].(string)
	if !ok || spinID == "" {
		t.Fatalf("spinId missing: %v", result["spinId"])
	}
	if result["antiCheatPassed"] != true {
		t.Fatal("antiCheatPassed missing")
	}
	steps, _ := result["cascadeSteps"].([]map[string]any)
	totalSteps, _ := result["totalSteps"].(int)

	scenes.mu.Lock()
	saved := scenes.saves
	scenes.mu.Unlock()
	if saved != 1 {
		t.Fatalf("checkpoint saves=%d", saved)
	}

	// 按序确认全部step
	for n := 0; n < totalSteps; n++ {
		ack, err := uc.StepAck(ctx, &StepAckRequest{PlayerID: 1, SpinID: spinID, StepNumber: int64(n)})
		if err != nil {
			t.Fatal(err)
		}
		if ack["accepted"] != true {
			t.Fatalf("step %d rejected: %+v", n, ack)
		}
	}
	if len(steps) != totalSteps {
		t.Fatalf("steps=%d totalSteps=%d", len(steps), totalSteps)
	}

	sess, _ := uc.Sessions().Get(1)
	if sess.CascadeInProgress() {
		t.Fatal("cascade still in progress after full ack")
	}

	// 序列完结后可以开下一笔
	if _, err := uc.Spin(ctx, &SpinRequest{PlayerID: 1, BetAmount: 1}); err != nil {
		t.Fatal(err)
	}
}

func TestSpinInFlightRejected(t *testing.T) {
	uc, _, _ := newTestUsecase(t, demoAccount())
	ctx := context.Background()

	// 找一笔带消除轮的spin占住会话
	var inFlight bool
	for i := 0; i < 50; i++ {
		result, err := uc.Spin(ctx, &SpinRequest{PlayerID: 1, BetAmount: 1})
		if err != nil {
			t.Fatal(err)
		}
		if n, _ := result["totalSteps"].(int); n > 0 {
			inFlight = true
			break
		}
	}
	if !inFlight {
		t.Fatal("no cascading spin in 50 tries")
	}

	if _, err := uc.Spin(ctx, &SpinRequest{PlayerID: 1, BetAmount: 1}); !errors.Is(err, ErrSpinInFlight) {
		t.Fatalf("got %v", err)
	}
}

func TestSpinRejectionAudited(t *testing.T) {
	uc, _, audit := newTestUsecase(t, demoAccount())

	_, err := uc.Spin(context.Background(), &SpinRequest{PlayerID: 1, BetAmount: 999})
	var rej *RejectedError
	if !errors.As(err, &rej) {
		t.Fatalf("got %v", err)
	}
	if len(rej.Violations) == 0 || rej.Violations[0].Field != "betAmount" {
		t.Fatalf("violations=%+v", rej.Violations)
	}
	kinds := audit.kinds()
	if len(kinds) != 1 || kinds[0] != AuditAntiCheat {
		t.Fatalf("audit kinds=%v", kinds)
	}

	// 拒绝不触碰会话与钱包
	sess, _ := uc.Sessions().Get(1)
	if sess.CascadeInProgress() {
		t.Fatal("rejected spin started a cascade")
	}
}

func TestStepAckValidations(t *testing.T) {
	uc, _, _ := newTestUsecase(t, demoAccount())
	ctx := context.Background()

	var spinID string
	var steps []map[string]any
	for i := 0; i < 50; i++ {
		result, err := uc.Spin(ctx, &SpinRequest{PlayerID: 1, BetAmount: 1})
		if err != nil {
			t.Fatal(err)
		}
		if n, _ := result["totalSteps"].(int); n > 0 {
			spinID = result["spinId"].(string)
			steps, _ = result["cascadeSteps"].([]map[string]any)
			break
		}
	}
	if spinID == "" {
		t.Fatal("no cascading spin in 50 tries")
	}

	// 乱序确认被拒
	ack, err := uc.StepAck(ctx, &StepAckRequest{PlayerID: 1, SpinID: spinID, StepNumber: 7})
	if err != nil {
		t.Fatal(err)
	}
	if ack["accepted"] != false {
		t.Fatal("out-of-order ack accepted")
	}

	// 全程携带网格按序确认，末步确认随包提交的校验在序列
	// 收尾后处理，同样必须比对通过
	for n, st := range steps {
		gridAfter, _ := st["gridAfter"].([][]int64)
		clusters, _ := st["clusters"].([]map[string]any)
		ack, err = uc.StepAck(ctx, &StepAckRequest{
			PlayerID:     1,
			SpinID:       spinID,
			StepNumber:   int64(n),
			GridAfter:    gridAfter,
			ClusterCount: int64(len(clusters)),
		})
		if err != nil {
			t.Fatal(err)
		}
		if ack["accepted"] != true {
			t.Fatalf("in-order ack %d rejected: %+v", n, ack)
		}
	}

	sess, _ := uc.Sessions().Get(1)
	if sess.CascadeInProgress() {
		t.Fatal("cascade not complete after full ack")
	}
	sum := sess.ProcessPendingValidations(time.Minute)
	if sum.Failed != 0 || sum.Passed != sum.Processed {
		t.Fatalf("honest client failed validation: %+v", sum)
	}
	if sess.SyncFailures() != 0 {
		t.Fatalf("syncFailures=%d after honest acks", sess.SyncFailures())
	}

	// 错误spinId被拒
	if _, err := uc.StepAck(ctx, &StepAckRequest{PlayerID: 1, SpinID: "other", StepNumber: 1}); !errors.Is(err, InvalidRequestParams) {
		t.Fatalf("got %v", err)
	}
}

func TestResyncReturnsAuthoritativeState(t *testing.T) {
	uc, _, _ := newTestUsecase(t, demoAccount())
	ctx := context.Background()

	if _, err := uc.Spin(ctx, &SpinRequest{PlayerID: 1, BetAmount: 1}); err != nil {
		t.Fatal(err)
	}
	out, err := uc.Resync(ctx, 1)
	if err != nil {
		t.Fatal(err)
	}
	if out["playerId"] != int64(1) {
		t.Fatalf("playerId=%v", out["playerId"])
	}
	if out["syncStatus"] != SyncSynchronized {
		t.Fatalf("syncStatus=%v", out["syncStatus"])
	}
	if _, ok := out["balance"]; !ok {
		t.Fatal("balance missing")
	}

	// 未知玩家拒绝
	if _, err := uc.Resync(ctx, 42); !errors.Is(err, InvalidRequestParams) {
		t.Fatalf("got %v", err)
	}
}

func TestManagerRecoveryEscalatesToFullResync(t *testing.T) {
	uc, _, _ := newTestUsecase(t, demoAccount())
	ctx := context.Background()

	var methods []string
	uc.Sessions().SetDesyncHandler(func(sess *GameSession, method string) {
		methods = append(methods, method)
	})

	sess := uc.Sessions().GetOrCreate(ctx, 1)
	sim := NewSimulator(&conf.Game{}, nil)
	res := findSpin(t, sim, 1)
	if err := sess.StartCascadeSequence(res, -time.Hour); err != nil {
		t.Fatal(err)
	}

	// 首轮清扫发出partial_replay
	uc.Sessions().RunSweep(ctx)
	if len(methods) != 1 || methods[0] != RecoveryPartialReplay {
		t.Fatalf("methods=%v", methods)
	}

	// 客户端对恢复指令毫无响应：超时后升级为full_resync
	time.Sleep(60 * time.Millisecond)
	uc.Sessions().RunSweep(ctx)
	if len(methods) != 2 || methods[1] != RecoveryFullResync {
		t.Fatalf("methods=%v", methods)
	}
	if sess.State() != StateRecovering {
		t.Fatalf("state=%s", sess.State())
	}

	// 持续无响应直至尝试耗尽，会话进入需整载的终态
	for i := 0; i < 5 && !sess.ReloadRequired(); i++ {
		time.Sleep(60 * time.Millisecond)
		uc.Sessions().RunSweep(ctx)
	}
	if !sess.ReloadRequired() {
		t.Fatalf("reload not required, methods=%v", methods)
	}
}

func TestSpinSettleFailureRestoresFreeSpin(t *testing.T) {
	cfg := &conf.Game{
		Site: "test",
		AntiCheat: &conf.AntiCheat{
			DemoMaxBet: "10",
			RealMaxBet: "100",
		},
		Session: &conf.Session{
			ValidationQueueSize: 16,
			CascadeBufferMs:     60000,
			MaxRecoveryAttempts: 3,
			SweepIntervalMs:     60000,
		},
	}
	repo := &fakeWalletRepo{
		account: &Account{PlayerID: 1, Type: AccountReal, Status: AccountActive, Balance: decimal.NewFromInt(100)},
	}
	scenes := &fakeSceneRepo{}
	sessions, cleanup, err := NewSessionManager(cfg, scenes, log.DefaultLogger)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(cleanup)
	uc := NewGameUsecase(cfg, NewSimulator(cfg, nil),
		NewAntiCheatGate(cfg, &fakeGuard{first: true}, log.DefaultLogger),
		NewWalletUsecase(repo, log.DefaultLogger), sessions, scenes, &fakeAudit{}, log.DefaultLogger)

	ctx := context.Background()
	sess := uc.Sessions().GetOrCreate(ctx, 1)
	sess.RestoreFromCheckpoint(&RecoveryCheckpoint{
		Balance: "100", CurrentBet: "2", FreeSpinsLeft: 2, AccumMultiplier: 5,
	})

	// 结算失败整体回滚，已占用的免费机会与延续倍数归还
	repo.failNext = errors.New("db down")
	if _, err := uc.Spin(ctx, &SpinRequest{PlayerID: 1, BetAmount: 2}); err == nil {
		t.Fatal("settle failure not surfaced")
	}
	if sess.FreeSpinsLeft() != 2 {
		t.Fatalf("freeSpinsLeft=%d after rollback", sess.FreeSpinsLeft())
	}
	carry, ok := sess.ConsumeFreeSpin()
	if !ok || carry != 5 {
		t.Fatalf("carry=%d ok=%v after rollback", carry, ok)
	}
}

func TestManagerSweepRecovery(t *testing.T) {
	uc, scenes, _ := newTestUsecase(t, demoAccount())
	ctx := context.Background()

	var recovered []string
	uc.Sessions().SetDesyncHandler(func(sess *GameSession, method string) {
		recovered = append(recovered, method)
	})

	// 人为制造超时失步
	sess := uc.Sessions().GetOrCreate(ctx, 1)
	sim := NewSimulator(&conf.Game{}, nil)
	res := findSpin(t, sim, 1)
	if err := sess.StartCascadeSequence(res, -time.Hour); err != nil {
		t.Fatal(err)
	}

	uc.Sessions().RunSweep(ctx)
	if len(recovered) != 1 || recovered[0] != RecoveryPartialReplay {
		t.Fatalf("recovered=%v", recovered)
	}
	if sess.SyncStatus() != SyncRecovering {
		t.Fatalf("syncStatus=%s", sess.SyncStatus())
	}
	scenes.mu.Lock()
	saved := scenes.saves
	scenes.mu.Unlock()
	if saved == 0 {
		t.Fatal("recovery checkpoint not persisted")
	}

	// 客户端请求resync完成恢复
	out, err := uc.Resync(ctx, 1)
	if err != nil {
		t.Fatal(err)
	}
	if out["syncStatus"] != SyncSynchronized {
		t.Fatalf("syncStatus=%v", out["syncStatus"])
	}
}
