package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"

	"github.com/gorilla/websocket"

	"tradepost.ai/internal/protocol"
)

type botConfig struct {
	// Propose, if set, is the agent this bot keeps asking to trade with.
	Propose     string
	ProposeEach uint64
	GiveItem    string
	GiveCount   int
	Pay         int64
}

// bot holds the little state that survives between observations.
type bot struct {
	cfg      botConfig
	lastAsk  uint64
	asked    bool
	prepared string // session id the proposer already filled its side for
	seq      int
}

func main() {
	var (
		url   = flag.String("url", "ws://localhost:8080/v1/ws", "ws url")
		name  = flag.String("name", "bot", "agent name")
		token = flag.String("resume", "", "resume token from a previous WELCOME")

		propose   = flag.String("propose", "", "agent id to keep proposing trades to (empty: only answer requests)")
		every     = flag.Uint64("every", 50, "ticks between proposals")
		giveItem  = flag.String("give_item", "WOOD", "item the proposer puts up")
		giveCount = flag.Int("give_count", 1, "how many of give_item to put up")
		pay       = flag.Int64("pay", 0, "currency the proposer offers")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[bot] ", log.LstdFlags|log.Lmicroseconds)
	conn, _, err := websocket.DefaultDialer.Dial(*url, nil)
	if err != nil {
		logger.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	hello := protocol.HelloMsg{
		Type:            protocol.TypeHello,
		ProtocolVersion: protocol.Version,
		AgentName:       *name,
		Capabilities:    protocol.HelloCapabilities{MaxQueue: 8},
	}
	if t := strings.TrimSpace(*token); t != "" {
		hello.Auth = &protocol.HelloAuth{Token: t}
	}
	if err := conn.WriteJSON(hello); err != nil {
		logger.Fatalf("send HELLO: %v", err)
	}

	b := &bot{cfg: botConfig{
		Propose:     strings.ToLower(strings.TrimSpace(*propose)),
		ProposeEach: *every,
		GiveItem:    *giveItem,
		GiveCount:   *giveCount,
		Pay:         *pay,
	}}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt)

	for {
		select {
		case <-stop:
			return
		default:
		}

		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		base, err := protocol.DecodeBase(msg)
		if err != nil {
			continue
		}
		switch base.Type {
		case protocol.TypeWelcome:
			var w protocol.WelcomeMsg
			if err := json.Unmarshal(msg, &w); err != nil {
				continue
			}
			if w.AgentID == "" {
				logger.Fatalf("join rejected: %s %s", w.Code, w.Message)
			}
			logger.Printf("WELCOME agent_id=%s resume_token=%s tick_rate=%d", w.AgentID, w.ResumeToken, w.WorldParams.TickRateHz)

		case protocol.TypeAck:
			var ack protocol.AckMsg
			if err := json.Unmarshal(msg, &ack); err == nil && ack.Code != "" {
				logger.Printf("ACK %s: %s", ack.Code, ack.Message)
			}

		case protocol.TypeObs:
			var obs protocol.ObsMsg
			if err := json.Unmarshal(msg, &obs); err != nil {
				continue
			}
			for _, e := range obs.Events {
				logEvent(logger, e)
			}
			inst := b.decide(&obs)
			if len(inst) == 0 {
				continue
			}
			act := protocol.ActMsg{
				Type:            protocol.TypeAct,
				ProtocolVersion: protocol.Version,
				Tick:            obs.Tick,
				AgentID:         obs.AgentID,
				Instants:        inst,
			}
			if err := conn.WriteJSON(act); err != nil {
				return
			}
		}
	}
}

func logEvent(logger *log.Logger, e protocol.Event) {
	typ, _ := e["type"].(string)
	switch typ {
	case "", "TRADE_STATE":
		return
	case "ACTION_RESULT":
		if ok, _ := e["ok"].(bool); ok {
			return
		}
	}
	logger.Printf("%s %v", typ, e)
}

// decide turns one observation into the instants to send back.
func (b *bot) decide(obs *protocol.ObsMsg) []protocol.InstantReq {
	var out []protocol.InstantReq

	for _, e := range obs.Events {
		switch e["type"] {
		case "TRADE_REQUEST_RECEIVED":
			if from, _ := e["from"].(string); from != "" && obs.Trade == nil {
				out = append(out, b.inst(protocol.InstantReq{Type: protocol.InstantTradeAccept, From: from}))
			}
		case "TRADE_REQUEST_DENIED", "TRADE_REQUEST_EXPIRED", "TRADE_CANCELLED", "TRADE_DONE":
			b.asked = false
		case "ACTION_RESULT":
			ref, _ := e["ref"].(string)
			if ok, _ := e["ok"].(bool); !ok && strings.HasPrefix(ref, "I_trade_request_") {
				b.asked = false
			}
		}
	}

	if len(obs.Ground) > 0 && obs.Tick%10 == 0 {
		out = append(out, b.inst(protocol.InstantReq{Type: protocol.InstantPickup}))
	}

	if tr := obs.Trade; tr != nil {
		b.asked = false
		if b.cfg.Propose != "" && tr.Them.AgentID == b.cfg.Propose && b.prepared != tr.SessionID {
			b.prepared = tr.SessionID
			if b.cfg.GiveCount > 0 && b.cfg.GiveItem != "" {
				out = append(out, b.inst(protocol.InstantReq{
					Type:  protocol.InstantTradeSlot,
					Slot:  tr.You.FirstSlot,
					Item:  b.cfg.GiveItem,
					Count: b.cfg.GiveCount,
				}))
			}
			if b.cfg.Pay > 0 {
				out = append(out, b.inst(protocol.InstantReq{Type: protocol.InstantTradeOffer, Amount: b.cfg.Pay}))
			}
			out = append(out, b.inst(protocol.InstantReq{Type: protocol.InstantTradeConfirm}))
			return out
		}
		if tr.Them.Confirmed && !tr.You.Confirmed {
			out = append(out, b.inst(protocol.InstantReq{Type: protocol.InstantTradeConfirm}))
		}
		return out
	}

	if b.cfg.Propose != "" && !b.asked && !obs.Self.Busy && obs.Tick >= b.lastAsk+b.cfg.ProposeEach {
		b.asked = true
		b.lastAsk = obs.Tick
		out = append(out, b.inst(protocol.InstantReq{Type: protocol.InstantTradeRequest, To: b.cfg.Propose}))
	}
	return out
}

func (b *bot) inst(r protocol.InstantReq) protocol.InstantReq {
	b.seq++
	r.ID = fmt.Sprintf("I_%s_%d", strings.ToLower(r.Type), b.seq)
	return r
}
