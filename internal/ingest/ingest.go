// Package ingest feeds the hub from the rest of the platform. Backend
// services publish booking status changes and user notifications to NATS;
// this consumer decodes them and hands the fan-out to the worker pool so a
// burst of updates cannot stall the subscriptions.
package ingest

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/rideline/realtime/internal/hub"
	"github.com/rideline/realtime/internal/protocol"
	"github.com/rideline/realtime/internal/worker"
)

const (
	// SubjectBookingUpdates carries booking status changes; the last token
	// is the booking ID.
	SubjectBookingUpdates = "booking.update.*"

	// SubjectNotifications carries user notifications; the last token is
	// the target identity.
	SubjectNotifications = "notify.*"
)

// Consumer subscribes to the platform subjects and republishes into the hub.
type Consumer struct {
	nc     *nats.Conn
	hub    *hub.Hub
	pool   *worker.Pool
	logger zerolog.Logger

	subs []*nats.Subscription
}

// NewConsumer connects to NATS. The connection reconnects indefinitely with
// buffering, so a broker restart does not take the push path down with it.
func NewConsumer(url string, h *hub.Hub, pool *worker.Pool, logger zerolog.Logger) (*Consumer, error) {
	log := logger.With().Str("component", "ingest").Logger()

	nc, err := nats.Connect(url,
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS at %s: %w", url, err)
	}

	return &Consumer{nc: nc, hub: h, pool: pool, logger: log}, nil
}

// Start subscribes to the booking update and notification subjects.
func (c *Consumer) Start() error {
	sub, err := c.nc.Subscribe(SubjectBookingUpdates, c.onBookingUpdate)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", SubjectBookingUpdates, err)
	}
	c.subs = append(c.subs, sub)

	sub, err = c.nc.Subscribe(SubjectNotifications, c.onNotification)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", SubjectNotifications, err)
	}
	c.subs = append(c.subs, sub)

	c.logger.Info().
		Strs("subjects", []string{SubjectBookingUpdates, SubjectNotifications}).
		Msg("Ingest consumer started")
	return nil
}

func (c *Consumer) onBookingUpdate(msg *nats.Msg) {
	bookingID, err := bookingIDFromSubject(msg.Subject)
	if err != nil {
		c.logger.Warn().Err(err).Str("subject", msg.Subject).Msg("Dropping booking update")
		return
	}

	var update protocol.StatusUpdate
	if err := json.Unmarshal(msg.Data, &update); err != nil {
		c.logger.Warn().Err(err).Int64("booking_id", bookingID).Msg("Undecodable booking update")
		return
	}

	c.pool.Submit(func() {
		c.hub.BroadcastStatus(bookingID, update)
	})
}

func (c *Consumer) onNotification(msg *nats.Msg) {
	identity, err := identityFromSubject(msg.Subject)
	if err != nil {
		c.logger.Warn().Err(err).Str("subject", msg.Subject).Msg("Dropping notification")
		return
	}

	var n protocol.Notification
	if err := json.Unmarshal(msg.Data, &n); err != nil {
		c.logger.Warn().Err(err).Str("identity", identity).Msg("Undecodable notification")
		return
	}

	c.pool.Submit(func() {
		c.hub.BroadcastNotification(identity, n)
	})
}

// Stop drains the subscriptions so in-flight messages finish, then closes
// the connection.
func (c *Consumer) Stop() {
	for _, sub := range c.subs {
		if err := sub.Drain(); err != nil {
			c.logger.Warn().Err(err).Str("subject", sub.Subject).Msg("Drain failed")
		}
	}
	c.nc.Close()
	c.logger.Info().Msg("Ingest consumer stopped")
}

func bookingIDFromSubject(subject string) (int64, error) {
	idx := strings.LastIndexByte(subject, '.')
	if idx < 0 || idx == len(subject)-1 {
		return 0, fmt.Errorf("subject %q has no booking ID token", subject)
	}
	id, err := strconv.ParseInt(subject[idx+1:], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("subject %q booking ID: %w", subject, err)
	}
	return id, nil
}

func identityFromSubject(subject string) (string, error) {
	idx := strings.LastIndexByte(subject, '.')
	if idx < 0 || idx == len(subject)-1 {
		return "", fmt.Errorf("subject %q has no identity token", subject)
	}
	return subject[idx+1:], nil
}
