package data

import (
	"context"
	"fmt"
	"time"

	"avalanche/internal/biz"
	"avalanche/internal/conf"
	"avalanche/internal/game/xxl"
)

const _guardTTL = 24 * time.Hour

type replayGuard struct {
	data *Data
	site string
}

// NewReplayGuard .
func NewReplayGuard(data *Data, c *conf.Game) biz.ReplayGuard {
	return &replayGuard{data: data, site: c.Site}
}

// FirstSeen 以SETNX占位判定spinId是否首次出现
func (g *replayGuard) FirstSeen(ctx context.Context, spinID string) (bool, error) {
	key := fmt.Sprintf("%s:spin-%d:%s", g.site, xxl.GameID, spinID)
	return g.data.rdb.SetNX(ctx, key, 1, _guardTTL).Result()
}
