package ws

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"golang.org/x/time/rate"

	"tradepost.ai/internal/protocol"
	"tradepost.ai/internal/sim/world"
)

type Options struct {
	// ActPerSec and ActBurst bound how fast one connection may send ACTs.
	// Zero disables the limit.
	ActPerSec float64
	ActBurst  int

	// ActSchema, if set, validates every ACT before it reaches the world.
	ActSchema *jsonschema.Schema
}

type Server struct {
	world *world.World
	log   *log.Logger
	opts  Options

	upgrader websocket.Upgrader
}

func NewServer(w *world.World, logger *log.Logger, opts Options) *Server {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	s := &Server{
		world: w,
		log:   logger,
		opts:  opts,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  16 * 1024,
			WriteBufferSize: 16 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // dev default
		},
	}
	return s
}

func (s *Server) limiter() *rate.Limiter {
	if s.opts.ActPerSec <= 0 {
		return rate.NewLimiter(rate.Inf, 0)
	}
	burst := s.opts.ActBurst
	if burst <= 0 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(s.opts.ActPerSec), burst)
}

func (s *Server) Handler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		welcome, out := s.handshake(conn)
		if welcome.AgentID == "" {
			return
		}
		agentID := welcome.AgentID
		s.log.Printf("agent %s connected (session %s)", agentID, welcome.SessionID)

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		acks := make(chan []byte, 8)

		// Writer goroutine.
		go func() {
			for {
				var b []byte
				select {
				case <-ctx.Done():
					return
				case b = <-acks:
				case b = <-out:
				}
				_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
				if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
					cancel()
					return
				}
			}
		}()

		lim := s.limiter()
		// Reader loop.
		for {
			_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			_, msg, err := conn.ReadMessage()
			if err != nil {
				cancel()
				break
			}
			act, code, reason := s.decodeAct(msg)
			if code == "" && !lim.Allow() {
				code, reason = protocol.ErrRateLimit, "too many messages"
			}
			if code != "" {
				sendAck(acks, protocol.AckMsg{
					Type:            protocol.TypeAck,
					ProtocolVersion: protocol.Version,
					AckFor:          protocol.TypeAct,
					Code:            code,
					Message:         reason,
					ServerTick:      s.world.CurrentTick(),
				})
				continue
			}
			select {
			case s.world.Inbox() <- world.ActionEnvelope{AgentID: agentID, Act: act}:
			case <-ctx.Done():
			}
		}

		// Cleanup.
		s.world.Leave() <- world.LeaveRequest{AgentID: agentID, SessionID: welcome.SessionID}
		s.log.Printf("agent %s disconnected", agentID)
	}
}

func (s *Server) decodeAct(msg []byte) (protocol.ActMsg, string, string) {
	var act protocol.ActMsg
	base, err := protocol.DecodeBase(msg)
	if err != nil {
		return act, protocol.ErrProtoBadRequest, "invalid json"
	}
	if base.Type != protocol.TypeAct {
		return act, protocol.ErrProtoBadRequest, "expected ACT"
	}
	if base.ProtocolVersion != protocol.Version {
		return act, protocol.ErrProtoBadRequest, "bad protocol_version"
	}
	if s.opts.ActSchema != nil {
		var v any
		if err := json.Unmarshal(msg, &v); err != nil {
			return act, protocol.ErrProtoBadRequest, "invalid json"
		}
		if err := s.opts.ActSchema.Validate(v); err != nil {
			return act, protocol.ErrProtoBadRequest, err.Error()
		}
	}
	if err := json.Unmarshal(msg, &act); err != nil {
		return act, protocol.ErrProtoBadRequest, "invalid ACT"
	}
	return act, "", ""
}

func sendAck(ch chan []byte, ack protocol.AckMsg) {
	b, err := json.Marshal(ack)
	if err != nil {
		return
	}
	select {
	case ch <- b:
	default:
	}
}

func (s *Server) handshake(conn *websocket.Conn) (welcome protocol.WelcomeMsg, out chan []byte) {
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		return protocol.WelcomeMsg{}, nil
	}

	base, err := protocol.DecodeBase(msg)
	if err != nil || base.Type != protocol.TypeHello {
		closeWith(conn, "expected HELLO")
		return protocol.WelcomeMsg{}, nil
	}

	var hello protocol.HelloMsg
	if err := json.Unmarshal(msg, &hello); err != nil {
		closeWith(conn, "bad HELLO")
		return protocol.WelcomeMsg{}, nil
	}
	if hello.ProtocolVersion != protocol.Version {
		closeWith(conn, "bad protocol_version")
		return protocol.WelcomeMsg{}, nil
	}

	maxQ := hello.Capabilities.MaxQueue
	if maxQ <= 0 {
		maxQ = 8
	}
	if maxQ > 64 {
		maxQ = 64
	}
	out = make(chan []byte, maxQ)

	// Optional: resume an existing agent (reconnect).
	resumeToken := ""
	if hello.Auth != nil {
		resumeToken = strings.TrimSpace(hello.Auth.Token)
	}

	var resp world.JoinResponse
	if resumeToken != "" {
		respCh := make(chan world.JoinResponse, 1)
		s.world.Attach() <- world.AttachRequest{
			ResumeToken: resumeToken,
			Out:         out,
			Resp:        respCh,
		}
		resp = <-respCh
	}
	if resp.Welcome.AgentID == "" {
		// Fresh join.
		respCh := make(chan world.JoinResponse, 1)
		s.world.Join() <- world.JoinRequest{
			Name: hello.AgentName,
			Out:  out,
			Resp: respCh,
		}
		resp = <-respCh
	}

	if err := writeJSON(conn, resp.Welcome); err != nil {
		return protocol.WelcomeMsg{}, nil
	}
	if resp.Welcome.AgentID == "" {
		closeWith(conn, resp.Welcome.Code)
		return protocol.WelcomeMsg{}, nil
	}
	return resp.Welcome, out
}

func closeWith(conn *websocket.Conn, reason string) {
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, reason), time.Now().Add(time.Second))
}

func writeJSON(conn *websocket.Conn, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return conn.WriteMessage(websocket.TextMessage, b)
}
