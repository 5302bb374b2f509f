package service

import (
	"context"
	"errors"

	"avalanche/internal/biz"

	"github.com/google/wire"
	"go.uber.org/zap"
)

// ProviderSet is service providers.
var ProviderSet = wire.NewSet(NewGameService, NewHub)

// 响应码
const (
	CodeOK             = 0
	CodeInvalidParams  = 1001
	CodeInsufficient   = 1002
	CodeRejected       = 1003 // 反作弊拒绝
	CodeDuplicateSpin  = 1004
	CodeSpinInFlight   = 1005
	CodeReloadRequired = 1006
	CodeInternal       = 1500
)

// GameService 对外暴露游戏操作，入口统一兜底panic。
type GameService struct {
	uc   *biz.GameUsecase
	zlog *zap.Logger
}

// NewGameService new a game service.
func NewGameService(uc *biz.GameUsecase, zlog *zap.Logger) *GameService {
	return &GameService{uc: uc, zlog: zlog}
}

// BetOrder 下注
func (s *GameService) BetOrder(ctx context.Context, req *biz.SpinRequest) (result map[string]any, err error) {
	defer func() {
		if r := recover(); r != nil {
			s.zlog.Error("BetOrder", zap.Any("r", r), zap.Stack("stack"))
			result, err = nil, biz.InternalServerError
			return
		}
	}()
	return s.uc.Spin(ctx, req)
}

// StepAck 步进确认
func (s *GameService) StepAck(ctx context.Context, req *biz.StepAckRequest) (result map[string]any, err error) {
	defer func() {
		if r := recover(); r != nil {
			s.zlog.Error("StepAck", zap.Any("r", r), zap.Stack("stack"))
			result, err = nil, biz.InternalServerError
			return
		}
	}()
	return s.uc.StepAck(ctx, req)
}

// Resync 全量重同步
func (s *GameService) Resync(ctx context.Context, playerID int64) (result map[string]any, err error) {
	defer func() {
		if r := recover(); r != nil {
			s.zlog.Error("Resync", zap.Any("r", r), zap.Stack("stack"))
			result, err = nil, biz.InternalServerError
			return
		}
	}()
	return s.uc.Resync(ctx, playerID)
}

// ErrCode 业务错误到响应码
func ErrCode(err error) (int, string) {
	var rej *biz.RejectedError
	switch {
	case err == nil:
		return CodeOK, "ok"
	case errors.As(err, &rej):
		return CodeRejected, rej.Error()
	case errors.Is(err, biz.InvalidRequestParams):
		return CodeInvalidParams, err.Error()
	case errors.Is(err, biz.InsufficientBalance):
		return CodeInsufficient, err.Error()
	case errors.Is(err, biz.ErrDuplicateSpin):
		return CodeDuplicateSpin, err.Error()
	case errors.Is(err, biz.ErrSpinInFlight):
		return CodeSpinInFlight, err.Error()
	case errors.Is(err, biz.ErrReloadRequired):
		return CodeReloadRequired, err.Error()
	default:
		return CodeInternal, "internal server error"
	}
}
