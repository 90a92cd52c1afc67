package api

import (
	"encoding/json"
	"errors"
	"time"
	"unicode/utf8"

	"echoapp/logger"
	"echoapp/metrics"
	"echoapp/models"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

var (
	ErrUnsupportedData = errors.New("only text frames are accepted")
	ErrInvalidUTF8     = errors.New("text frame is not valid UTF-8")
)

// Recorder receives every completed exchange. Implementations must not block.
type Recorder interface {
	Submit(ex models.Exchange) error
}

// Session is one accepted websocket connection. Its read-reply loop runs on a single
// goroutine, so replies leave in the order messages arrived; only pings are written
// from elsewhere, through the connection's concurrent-safe control path.
type Session struct {
	id        string
	mode      string
	conn      *websocket.Conn
	opts      Options
	validator *EnvelopeValidator
	recorder  Recorder
	now       func() time.Time
}

func newSession(conn *websocket.Conn, opts Options, v *EnvelopeValidator, rec Recorder) *Session {
	mode := models.ModeText
	if conn.Subprotocol() == SubprotocolJSON {
		mode = models.ModeJSON
	}
	return &Session{
		id:        uuid.NewString(),
		mode:      mode,
		conn:      conn,
		opts:      opts,
		validator: v,
		recorder:  rec,
		now:       time.Now,
	}
}

func (s *Session) serve() {
	s.conn.SetReadLimit(s.opts.MaxMessageBytes)
	_ = s.conn.SetReadDeadline(s.now().Add(s.opts.PongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(s.now().Add(s.opts.PongWait))
	})

	stop := make(chan struct{})
	defer close(stop)
	go s.pingLoop(stop)

	for {
		typ, data, err := s.conn.ReadMessage()
		if err != nil {
			s.logReadError(err)
			return
		}
		_ = s.conn.SetReadDeadline(s.now().Add(s.opts.PongWait))
		if typ != websocket.TextMessage {
			metrics.IncEchoError("unsupported_data")
			s.closeWith(websocket.CloseUnsupportedData, ErrUnsupportedData.Error())
			return
		}
		if !utf8.Valid(data) {
			metrics.IncEchoError("invalid_utf8")
			s.closeWith(websocket.CloseInvalidFramePayloadData, ErrInvalidUTF8.Error())
			return
		}
		if err := s.handle(data); err != nil {
			metrics.IncEchoError("write")
			logger.Error("websocket write error", err, logger.FieldKV("connection_id", s.id))
			return
		}
	}
}

func (s *Session) handle(data []byte) error {
	if s.mode == models.ModeJSON {
		return s.handleEnvelope(data)
	}
	text := string(data)
	reply := Reply(text)
	if err := s.write(websocket.TextMessage, []byte(reply)); err != nil {
		return err
	}
	metrics.IncMsgEchoed(models.ModeText)
	s.record(text, reply)
	return nil
}

func (s *Session) handleEnvelope(data []byte) error {
	if err := s.validator.Validate(data); err != nil {
		metrics.IncEchoError("invalid_envelope")
		logger.Debug("envelope rejected", logger.FieldKV("connection_id", s.id), logger.FieldKV("reason", err.Error()))
		return s.writeJSON(models.ErrorEnvelope{Error: err.Error()})
	}
	var in models.Envelope
	if err := json.Unmarshal(data, &in); err != nil {
		metrics.IncEchoError("invalid_envelope")
		return s.writeJSON(models.ErrorEnvelope{Error: err.Error()})
	}
	if in.MessageID == "" {
		in.MessageID = uuid.NewString()
	}
	out := models.Envelope{MessageID: in.MessageID, Content: Reply(in.Content), Timestamp: s.now().UTC()}
	if err := s.writeJSON(out); err != nil {
		return err
	}
	metrics.IncMsgEchoed(models.ModeJSON)
	s.record(in.Content, out.Content)
	return nil
}

func (s *Session) write(typ int, b []byte) error {
	_ = s.conn.SetWriteDeadline(s.now().Add(s.opts.WriteTimeout))
	return s.conn.WriteMessage(typ, b)
}

func (s *Session) writeJSON(v interface{}) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return s.write(websocket.TextMessage, b)
}

func (s *Session) record(received, reply string) {
	if s.recorder == nil {
		return
	}
	err := s.recorder.Submit(models.Exchange{
		ExchangeID:   uuid.NewString(),
		ConnectionID: s.id,
		Mode:         s.mode,
		Received:     received,
		Reply:        reply,
		Timestamp:    s.now().UTC(),
	})
	if err != nil {
		logger.Debug("exchange not recorded", logger.FieldKV("connection_id", s.id), logger.FieldKV("reason", err.Error()))
	}
}

func (s *Session) pingLoop(stop <-chan struct{}) {
	t := time.NewTicker(s.opts.PingInterval)
	defer t.Stop()
	for {
		select {
		case <-stop:
			return
		case <-t.C:
			if err := s.conn.WriteControl(websocket.PingMessage, nil, s.now().Add(s.opts.WriteTimeout)); err != nil {
				logger.Debug("ping failed", logger.FieldKV("connection_id", s.id), logger.FieldKV("reason", err.Error()))
				return
			}
		}
	}
}

func (s *Session) closeWith(code int, text string) {
	msg := websocket.FormatCloseMessage(code, text)
	_ = s.conn.WriteControl(websocket.CloseMessage, msg, s.now().Add(s.opts.WriteTimeout))
}

func (s *Session) logReadError(err error) {
	switch {
	case errors.Is(err, websocket.ErrReadLimit):
		metrics.IncEchoError("too_big")
		logger.Info("message exceeds read limit", logger.FieldKV("connection_id", s.id), logger.FieldKV("limit", s.opts.MaxMessageBytes))
	case websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived):
		metrics.IncEchoError("read")
		logger.Error("websocket read error", err, logger.FieldKV("connection_id", s.id))
	default:
		logger.Debug("websocket read finished", logger.FieldKV("connection_id", s.id), logger.FieldKV("reason", err.Error()))
	}
}
