package server

import (
	stdhttp "net/http"
	"time"

	"avalanche/internal/biz"
	"avalanche/internal/conf"
	"avalanche/internal/service"

	"github.com/google/wire"
	jsoniter "github.com/json-iterator/go"
	"github.com/yola1107/kratos/v2/log"
	"github.com/yola1107/kratos/v2/middleware/recovery"
	"github.com/yola1107/kratos/v2/transport/http"
)

// ProviderSet is server providers.
var ProviderSet = wire.NewSet(NewHTTPServer)

var hjson = jsoniter.ConfigCompatibleWithStandardLibrary

type reply struct {
	Code int            `json:"code"`
	Msg  string         `json:"msg"`
	Data map[string]any `json:"data,omitempty"`
}

// NewHTTPServer new an HTTP server.
func NewHTTPServer(c *conf.Server, svc *service.GameService, hub *service.Hub, logger log.Logger) *http.Server {
	var opts = []http.ServerOption{
		http.Middleware(
			recovery.Recovery(),
		),
	}
	if c.Http != nil {
		if c.Http.Network != "" {
			opts = append(opts, http.Network(c.Http.Network))
		}
		if c.Http.Addr != "" {
			opts = append(opts, http.Address(c.Http.Addr))
		}
		if c.Http.TimeoutMs > 0 {
			opts = append(opts, http.Timeout(time.Duration(c.Http.TimeoutMs)*time.Millisecond))
		}
	}
	srv := http.NewServer(opts...)

	srv.HandleFunc("/healthz", func(w stdhttp.ResponseWriter, r *stdhttp.Request) {
		w.WriteHeader(stdhttp.StatusOK)
		w.Write([]byte("ok"))
	})
	srv.HandleFunc("/v1/game/spin", handleSpin(svc))
	srv.HandleFunc("/v1/game/step", handleStep(svc))
	srv.HandleFunc("/v1/game/resync", handleResync(svc))

	wsPath := "/v1/game/ws"
	if c.Websocket != nil && c.Websocket.Path != "" {
		wsPath = c.Websocket.Path
	}
	srv.HandleFunc(wsPath, hub.ServeWS)
	return srv
}

func handleSpin(svc *service.GameService) stdhttp.HandlerFunc {
	return func(w stdhttp.ResponseWriter, r *stdhttp.Request) {
		var req biz.SpinRequest
		if !decodeBody(w, r, &req) {
			return
		}
		if req.IP == "" {
			req.IP = r.RemoteAddr
		}
		result, err := svc.BetOrder(r.Context(), &req)
		writeReply(w, result, err)
	}
}

func handleStep(svc *service.GameService) stdhttp.HandlerFunc {
	return func(w stdhttp.ResponseWriter, r *stdhttp.Request) {
		var req biz.StepAckRequest
		if !decodeBody(w, r, &req) {
			return
		}
		result, err := svc.StepAck(r.Context(), &req)
		writeReply(w, result, err)
	}
}

func handleResync(svc *service.GameService) stdhttp.HandlerFunc {
	return func(w stdhttp.ResponseWriter, r *stdhttp.Request) {
		var req struct {
			PlayerID int64 `json:"playerId"`
		}
		if !decodeBody(w, r, &req) {
			return
		}
		result, err := svc.Resync(r.Context(), req.PlayerID)
		writeReply(w, result, err)
	}
}

func decodeBody(w stdhttp.ResponseWriter, r *stdhttp.Request, out any) bool {
	if r.Method != stdhttp.MethodPost {
		stdhttp.Error(w, "method not allowed", stdhttp.StatusMethodNotAllowed)
		return false
	}
	if err := hjson.NewDecoder(r.Body).Decode(out); err != nil {
		writeJSON(w, &reply{Code: service.CodeInvalidParams, Msg: "bad request body"})
		return false
	}
	return true
}

func writeReply(w stdhttp.ResponseWriter, result map[string]any, err error) {
	code, msg := service.ErrCode(err)
	writeJSON(w, &reply{Code: code, Msg: msg, Data: result})
}

func writeJSON(w stdhttp.ResponseWriter, rep *reply) {
	w.Header().Set("Content-Type", "application/json")
	hjson.NewEncoder(w).Encode(rep)
}
