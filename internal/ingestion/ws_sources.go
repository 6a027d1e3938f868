package ingestion

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"

	"pumpfun-candles/internal/logging"
	"pumpfun-candles/internal/observability"
	"pumpfun-candles/internal/pumpfun"
	"pumpfun-candles/internal/solana"
)

// WSSource streams pump.fun events from Solana logsSubscribe notifications.
type WSSource struct {
	ws       solana.WSClient
	programs []string
	buffer   int
	logger   logrus.FieldLogger
}

// WSSourceOptions configures a WSSource.
type WSSourceOptions struct {
	Client     solana.WSClient
	Programs   []string // Default: pump.fun program
	BufferSize int      // Default: 1024
	Logger     logrus.FieldLogger
}

var _ Source = (*WSSource)(nil)

// NewWSSource creates a WebSocket log source.
func NewWSSource(opts WSSourceOptions) *WSSource {
	programs := opts.Programs
	if len(programs) == 0 {
		programs = []string{pumpfun.ProgramID}
	}
	buffer := opts.BufferSize
	if buffer <= 0 {
		buffer = 1024
	}

	return &WSSource{
		ws:       opts.Client,
		programs: programs,
		buffer:   buffer,
		logger:   logging.Component(opts.Logger, "ws-source"),
	}
}

// Name implements Source.
func (s *WSSource) Name() string { return "solana_ws" }

// Subscribe subscribes to logs of every configured program, one subscription
// per program since some providers accept a single address only.
func (s *WSSource) Subscribe(ctx context.Context) (<-chan Event, error) {
	var logsChannels []<-chan solana.LogNotification
	for _, program := range s.programs {
		ch, err := s.ws.SubscribeLogs(ctx, solana.LogsFilter{Mentions: []string{program}})
		if err != nil {
			return nil, err
		}
		logsChannels = append(logsChannels, ch)
		s.logger.WithField("program", program).Info("subscribed to program logs")
	}

	out := make(chan Event, s.buffer)

	var wg sync.WaitGroup
	for _, ch := range logsChannels {
		wg.Add(1)
		go func(logsCh <-chan solana.LogNotification) {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case notif, ok := <-logsCh:
					if !ok {
						return
					}
					if !s.forward(ctx, out, notif) {
						return
					}
				}
			}
		}(ch)
	}

	go func() {
		wg.Wait()
		close(out)
	}()

	return out, nil
}

// forward decodes a notification and sends its events. Reports false once ctx is done.
func (s *WSSource) forward(ctx context.Context, out chan<- Event, notif solana.LogNotification) bool {
	// Failed transactions are rolled back, so their logged events never settled.
	if notif.Err != nil {
		return true
	}

	for _, ev := range pumpfun.ParseLogs(notif.Logs) {
		var e Event
		switch {
		case ev.Trade != nil:
			trade := ev.Trade.ToTrade(notif.Signature)
			e.Trade = &trade
			observability.RecordEventReceived(s.Name(), "trade")
		case ev.Create != nil:
			e.Token = &TokenEvent{Mint: ev.Create.Mint, Metadata: ev.Create.Metadata()}
			observability.RecordEventReceived(s.Name(), "create")
		default:
			continue
		}

		select {
		case out <- e:
		case <-ctx.Done():
			return false
		}
	}
	return true
}
