package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"time"

	"github.com/gorilla/websocket"
)

var (
	addr     = flag.String("addr", "127.0.0.1:8000", "server address")
	playerID = flag.Int64("player", 1, "player id")
	bet      = flag.Float64("bet", 1, "bet amount")
	spins    = flag.Int("spins", 3, "number of spins to play")
)

type frame struct {
	Cmd  string          `json:"cmd"`
	Seq  int64           `json:"seq,omitempty"`
	Code int             `json:"code"`
	Msg  string          `json:"msg,omitempty"`
	Data json.RawMessage `json:"data,omitempty"`
}

func main() {
	flag.Parse()

	url := fmt.Sprintf("ws://%s/v1/game/ws?playerId=%d", *addr, *playerID)
	log.Printf("dial %s", url)

	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		log.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	seq := int64(0)
	for i := 0; i < *spins; i++ {
		seq++
		send(conn, &frame{Cmd: "spin", Seq: seq, Data: mustJSON(map[string]any{
			"betAmount": *bet,
		})})

		resp := recv(conn)
		if resp.Code != 0 {
			log.Printf("spin rejected: code=%d msg=%s", resp.Code, resp.Msg)
			time.Sleep(time.Second)
			continue
		}

		var result struct {
			SpinID     string  `json:"spinId"`
			TotalWin   float64 `json:"totalWin"`
			TotalSteps int64   `json:"totalSteps"`
			Balance    float64 `json:"currentBalance"`
		}
		if err := json.Unmarshal(resp.Data, &result); err != nil {
			log.Fatalf("decode spin result: %v", err)
		}
		log.Printf("spin=%s steps=%d win=%.2f balance=%.2f",
			result.SpinID, result.TotalSteps, result.TotalWin, result.Balance)

		// 逐step按序确认
		for n := int64(0); n < result.TotalSteps; n++ {
			seq++
			send(conn, &frame{Cmd: "stepAck", Seq: seq, Data: mustJSON(map[string]any{
				"spinId":     result.SpinID,
				"stepNumber": n,
			})})
			ack := recv(conn)
			log.Printf("  ack step=%d code=%d", n, ack.Code)
		}

		seq++
		send(conn, &frame{Cmd: "resync", Seq: seq})
		sync := recv(conn)
		log.Printf("resync code=%d data=%s", sync.Code, string(sync.Data))

		time.Sleep(500 * time.Millisecond)
	}
}

func send(conn *websocket.Conn, f *frame) {
	if err := conn.WriteJSON(f); err != nil {
		log.Fatalf("write: %v", err)
	}
}

func recv(conn *websocket.Conn) *frame {
	var f frame
	if err := conn.ReadJSON(&f); err != nil {
		log.Fatalf("read: %v", err)
	}
	return &f
}

func mustJSON(v any) json.RawMessage {
	raw, err := json.Marshal(v)
	if err != nil {
		log.Fatal(err)
	}
	return raw
}
