package data

import (
	"context"
	"errors"
	"fmt"
	"time"

	"avalanche/internal/biz"
	"avalanche/internal/conf"
	"avalanche/internal/game/xxl"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/yola1107/kratos/v2/log"
)

const (
	_sceneTTL = 24 * time.Hour
	_saltTTL  = 7 * 24 * time.Hour
)

type sceneRepo struct {
	data *Data
	site string
	log  *log.Helper
}

// NewSceneRepo .
func NewSceneRepo(data *Data, c *conf.Game, logger log.Logger) biz.SceneRepo {
	return &sceneRepo{
		data: data,
		site: c.Site,
		log:  log.NewHelper(logger),
	}
}

func (r *sceneRepo) sceneKey(playerID int64) string {
	return fmt.Sprintf("%s:scene-%d:%d", r.site, xxl.GameID, playerID)
}

func (r *sceneRepo) saltKey(playerID int64) string {
	return fmt.Sprintf("%s:salt-%d:%d", r.site, xxl.GameID, playerID)
}

func (r *sceneRepo) SaveCheckpoint(ctx context.Context, playerID int64, cp *biz.RecoveryCheckpoint) error {
	raw, err := cjson.MarshalToString(cp)
	if err != nil {
		return err
	}
	return r.data.rdb.Set(ctx, r.sceneKey(playerID), raw, _sceneTTL).Err()
}

func (r *sceneRepo) LoadCheckpoint(ctx context.Context, playerID int64) (*biz.RecoveryCheckpoint, error) {
	raw, err := r.data.rdb.Get(ctx, r.sceneKey(playerID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}
	var cp biz.RecoveryCheckpoint
	if err := cjson.UnmarshalFromString(raw, &cp); err != nil {
		// 坏档直接丢弃，宁可让客户端重载也不复原脏状态
		r.log.Errorf("scene: corrupt checkpoint player=%d err=%v", playerID, err)
		r.data.rdb.Del(ctx, r.sceneKey(playerID))
		return nil, nil
	}
	return &cp, nil
}

func (r *sceneRepo) DeleteCheckpoint(ctx context.Context, playerID int64) error {
	return r.data.rdb.Del(ctx, r.sceneKey(playerID)).Err()
}

// SessionSalt 取玩家网格哈希盐，缺省时生成并原子占位
func (r *sceneRepo) SessionSalt(ctx context.Context, playerID int64) (string, error) {
	key := r.saltKey(playerID)
	salt := uuid.NewString()
	ok, err := r.data.rdb.SetNX(ctx, key, salt, _saltTTL).Result()
	if err != nil {
		return "", err
	}
	if ok {
		return salt, nil
	}
	return r.data.rdb.Get(ctx, key).Result()
}
