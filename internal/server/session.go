package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"pumpfun-candles/internal/domain"
	"pumpfun-candles/internal/observability"
)

// SwitchRequest is sent by a viewer to change the displayed pair.
type SwitchRequest struct {
	Token      string `json:"token"`
	Resolution string `json:"resolution"`
}

type pair struct {
	token string
	res   domain.Resolution
}

func (s *Server) handleChartWS(w http.ResponseWriter, r *http.Request) {
	res, err := domain.ParseResolution(chi.URLParam(r, "resolution"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	token := chi.URLParam(r, "token")

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already replied with an HTTP error.
		s.logger.WithError(err).Debug("websocket upgrade failed")
		return
	}
	defer conn.Close()

	sess := &session{
		srv:    s,
		conn:   conn,
		logger: s.logger.WithFields(logrus.Fields{"remote": r.RemoteAddr}),
	}
	sess.run(r.Context(), pair{token: token, res: res})
}

// session streams one viewer's chart. All writes happen on the run goroutine.
type session struct {
	srv    *Server
	conn   *websocket.Conn
	logger logrus.FieldLogger

	// Newest candle sent for the current pair; older deltas are stale.
	lastBucket time.Time
	lastRev    uint64
}

func (ss *session) run(ctx context.Context, p pair) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	switches := make(chan pair, 1)
	go ss.readLoop(ctx, cancel, switches)

	ping := time.NewTicker(ss.srv.pingInterval)
	defer ping.Stop()

	for {
		next, ok := ss.stream(ctx, p, switches, ping.C)
		if !ok {
			return
		}
		observability.RecordSessionSwitch()
		p = next
	}
}

// stream serves one pair until the viewer switches (returns the new pair) or
// the session ends (returns false).
func (ss *session) stream(ctx context.Context, p pair, switches <-chan pair, ping <-chan time.Time) (pair, bool) {
	logger := ss.logger.WithFields(logrus.Fields{"mint": p.token, "resolution": p.res.String()})

	// Subscribe before reading history so no delta falls in between.
	sub := ss.srv.hub.Subscribe(p.token, p.res)
	defer ss.srv.hub.Unsubscribe(sub)

	ss.lastBucket, ss.lastRev = time.Time{}, 0

	candles, err := ss.srv.history(ctx, p.token, p.res, time.Now(), ss.srv.historyBuckets)
	if err != nil {
		logger.WithError(err).Warn("failed to load history")
	}
	observability.RecordSession(len(candles))
	for _, c := range candles {
		if !ss.send(c) {
			return pair{}, false
		}
	}

	var batch []domain.Candle
	for {
		select {
		case <-ctx.Done():
			ss.close(websocket.CloseGoingAway, "server shutting down")
			return pair{}, false

		case <-sub.Done():
			logger.Warn("viewer evicted for falling behind")
			ss.close(websocket.CloseTryAgainLater, "too slow")
			return pair{}, false

		case <-sub.Ready():
			batch = sub.Drain(batch[:0])
			for _, c := range batch {
				if ss.stale(c) {
					continue
				}
				if !ss.send(c) {
					return pair{}, false
				}
			}

		case next := <-switches:
			logger.WithField("to", next.token).Debug("viewer switched pair")
			return next, true

		case <-ping:
			deadline := time.Now().Add(ss.srv.writeTimeout)
			if err := ss.conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				return pair{}, false
			}
		}
	}
}

// stale reports whether c is older than what the viewer already has.
func (ss *session) stale(c domain.Candle) bool {
	if c.Bucket.Before(ss.lastBucket) {
		return true
	}
	return c.Bucket.Equal(ss.lastBucket) && c.Revision != 0 && c.Revision <= ss.lastRev
}

func (ss *session) send(c domain.Candle) bool {
	_ = ss.conn.SetWriteDeadline(time.Now().Add(ss.srv.writeTimeout))
	if err := ss.conn.WriteJSON(NewCandleMessage(c)); err != nil {
		observability.RecordSessionWriteError()
		ss.logger.WithError(err).Debug("write failed")
		return false
	}
	ss.lastBucket, ss.lastRev = c.Bucket, c.Revision
	return true
}

func (ss *session) close(code int, reason string) {
	deadline := time.Now().Add(time.Second)
	_ = ss.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), deadline)
}

// readLoop handles viewer messages. A read error ends the session.
func (ss *session) readLoop(ctx context.Context, cancel context.CancelFunc, switches chan<- pair) {
	defer cancel()

	readTimeout := 2 * ss.srv.pingInterval
	_ = ss.conn.SetReadDeadline(time.Now().Add(readTimeout))
	ss.conn.SetPongHandler(func(string) error {
		return ss.conn.SetReadDeadline(time.Now().Add(readTimeout))
	})

	for {
		_, data, err := ss.conn.ReadMessage()
		if err != nil {
			return
		}
		_ = ss.conn.SetReadDeadline(time.Now().Add(readTimeout))

		var req SwitchRequest
		if err := json.Unmarshal(data, &req); err != nil || req.Token == "" {
			ss.logger.Debug("ignoring malformed viewer message")
			continue
		}
		res, err := domain.ParseResolution(req.Resolution)
		if err != nil {
			ss.logger.WithError(err).Debug("ignoring switch to unknown resolution")
			continue
		}

		select {
		case switches <- pair{token: req.Token, res: res}:
		case <-ctx.Done():
			return
		}
	}
}
