package service

import (
	"context"
	"net/http"
	"strconv"
	"sync"
	"time"

	"avalanche/internal/biz"

	"github.com/gorilla/websocket"
	jsoniter "github.com/json-iterator/go"
	"github.com/yola1107/kratos/v2/log"
	"go.uber.org/zap"
)

var wsjson = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	_writeWait  = 10 * time.Second
	_pongWait   = 60 * time.Second
	_pingPeriod = 54 * time.Second
)

// 帧指令
const (
	CmdSpin    = "spin"
	CmdStepAck = "stepAck"
	CmdResync  = "resync"
	CmdDesync  = "desync" // 服务端主动推送
)

// Frame 双向帧
type Frame struct {
	Cmd  string              `json:"cmd"`
	Seq  int64               `json:"seq,omitempty"`
	Code int                 `json:"code"`
	Msg  string              `json:"msg,omitempty"`
	Data jsoniter.RawMessage `json:"data,omitempty"`
}

type wsClient struct {
	playerID int64
	conn     *websocket.Conn

	writeMu sync.Mutex
}

func (c *wsClient) send(f *Frame) error {
	raw, err := wsjson.Marshal(f)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(_writeWait))
	return c.conn.WriteMessage(websocket.TextMessage, raw)
}

// Hub 维护玩家到长连接的映射，失步恢复由此主动下推。
type Hub struct {
	svc  *GameService
	zlog *zap.Logger
	log  *log.Helper

	upgrader websocket.Upgrader

	mu      sync.RWMutex
	clients map[int64]*wsClient
}

// NewHub new a websocket hub.
func NewHub(svc *GameService, zlog *zap.Logger, logger log.Logger) *Hub {
	h := &Hub{
		svc:  svc,
		zlog: zlog,
		log:  log.NewHelper(logger),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		clients: make(map[int64]*wsClient),
	}
	// 失步时把恢复指令推给对应客户端
	svc.uc.Sessions().SetDesyncHandler(func(sess *biz.GameSession, method string) {
		h.pushDesync(sess, method)
	})
	return h
}

// ServeWS 升级连接。playerId由查询参数携带（鉴权网关已前置校验）。
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	playerID, err := strconv.ParseInt(r.URL.Query().Get("playerId"), 10, 64)
	if err != nil || playerID <= 0 {
		http.Error(w, "invalid playerId", http.StatusBadRequest)
		return
	}
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Errorf("ws upgrade: player=%d err=%v", playerID, err)
		return
	}
	c := &wsClient{playerID: playerID, conn: conn}
	h.register(c)
	go h.readLoop(c, r.RemoteAddr)
}

func (h *Hub) register(c *wsClient) {
	h.mu.Lock()
	old := h.clients[c.playerID]
	h.clients[c.playerID] = c
	h.mu.Unlock()
	if old != nil {
		// 同账号重连踢掉旧连接
		old.conn.Close()
	}
}

func (h *Hub) unregister(c *wsClient) {
	h.mu.Lock()
	if h.clients[c.playerID] == c {
		delete(h.clients, c.playerID)
	}
	h.mu.Unlock()
	c.conn.Close()
}

func (h *Hub) readLoop(c *wsClient, remoteAddr string) {
	defer func() {
		if r := recover(); r != nil {
			h.zlog.Error("readLoop", zap.Any("r", r), zap.Stack("stack"))
		}
		h.unregister(c)
	}()

	c.conn.SetReadDeadline(time.Now().Add(_pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(_pongWait))
	})

	stop := make(chan struct{})
	defer close(stop)
	go h.pingLoop(c, stop)

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		var f Frame
		if err := wsjson.Unmarshal(raw, &f); err != nil {
			c.send(&Frame{Cmd: f.Cmd, Code: CodeInvalidParams, Msg: "bad frame"})
			continue
		}
		h.dispatch(c, &f, remoteAddr)
	}
}

func (h *Hub) pingLoop(c *wsClient, stop <-chan struct{}) {
	ticker := time.NewTicker(_pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			c.writeMu.Lock()
			c.conn.SetWriteDeadline(time.Now().Add(_writeWait))
			err := c.conn.WriteMessage(websocket.PingMessage, nil)
			c.writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

func (h *Hub) dispatch(c *wsClient, f *Frame, remoteAddr string) {
	ctx := context.Background()

	var (
		result map[string]any
		err    error
	)
	switch f.Cmd {
	case CmdSpin:
		var req biz.SpinRequest
		if err = wsjson.Unmarshal(f.Data, &req); err == nil {
			req.PlayerID = c.playerID
			req.IP = remoteAddr
			result, err = h.svc.BetOrder(ctx, &req)
		}
	case CmdStepAck:
		var req biz.StepAckRequest
		if err = wsjson.Unmarshal(f.Data, &req); err == nil {
			req.PlayerID = c.playerID
			result, err = h.svc.StepAck(ctx, &req)
		}
	case CmdResync:
		result, err = h.svc.Resync(ctx, c.playerID)
	default:
		c.send(&Frame{Cmd: f.Cmd, Seq: f.Seq, Code: CodeInvalidParams, Msg: "unknown cmd"})
		return
	}

	code, msg := ErrCode(err)
	resp := &Frame{Cmd: f.Cmd, Seq: f.Seq, Code: code, Msg: msg}
	if result != nil {
		if raw, merr := wsjson.Marshal(result); merr == nil {
			resp.Data = raw
		}
	}
	if serr := c.send(resp); serr != nil {
		h.log.Errorf("ws send: player=%d cmd=%s err=%v", c.playerID, f.Cmd, serr)
	}
}

func (h *Hub) pushDesync(sess *biz.GameSession, method string) {
	h.mu.RLock()
	c := h.clients[sess.PlayerID]
	h.mu.RUnlock()
	if c == nil {
		return
	}
	payload, err := wsjson.Marshal(map[string]any{
		"method":           method,
		"syncStatus":       sess.SyncStatus(),
		"currentSpinId":    sess.CurrentSpinID(),
		"expectedNextStep": sess.ExpectedNextStep(),
	})
	if err != nil {
		return
	}
	if err := c.send(&Frame{Cmd: CmdDesync, Code: CodeOK, Data: payload}); err != nil {
		h.log.Errorf("ws push desync: player=%d err=%v", sess.PlayerID, err)
	}
}
