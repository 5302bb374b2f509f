package data

import (
	"avalanche/internal/conf"

	_ "github.com/go-sql-driver/mysql"
	"github.com/google/wire"
	jsoniter "github.com/json-iterator/go"
	"github.com/redis/go-redis/v9"
	kredis "github.com/yola1107/kratos/v2/library/db/redis"
	kxorm "github.com/yola1107/kratos/v2/library/db/xorm"
	"github.com/yola1107/kratos/v2/log"
	"xorm.io/xorm"
)

// ProviderSet is data providers.
var ProviderSet = wire.NewSet(NewData, NewRedis, NewMysql, NewRabbitMQ, NewWalletRepo, NewSceneRepo, NewReplayGuard, NewAuditRepo)

var cjson = jsoniter.ConfigCompatibleWithStandardLibrary

// Data .
type Data struct {
	db  *xorm.Engine
	rdb redis.UniversalClient
	mq  *Broker
}

// NewData .
func NewData(c *conf.Data, logger log.Logger, db *xorm.Engine, rdb redis.UniversalClient, mq *Broker) (*Data, func(), error) {
	cleanup := func() {
		log.NewHelper(logger).Info("closing the data resources")
	}
	return &Data{
		db:  db,
		rdb: rdb,
		mq:  mq,
	}, cleanup, nil
}

func NewRedis(c *conf.Data, logger log.Logger) redis.UniversalClient {
	return kredis.NewClient(kredis.WithAddress(c.Redis.Addr))
}

func NewMysql(c *conf.Data, logger log.Logger) (*xorm.Engine, func(), error) {
	engine, err := kxorm.NewEngine(
		kxorm.WithDriver(c.Database.Driver),
		kxorm.WithDataSource(c.Database.Source),
	)
	if err != nil {
		return nil, nil, err
	}
	if err := engine.Sync2(new(WalletBalance), new(WalletLedger), new(GameOrder)); err != nil {
		engine.Close()
		return nil, nil, err
	}
	return engine, func() { engine.Close() }, nil
}
