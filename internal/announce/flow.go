package announce

import (
	"context"

	"github.com/google/uuid"

	"relaybot/internal/eventbus"
	"relaybot/pkg/logx"
)

// Outcome reports how a task-completion announce was handled.
type Outcome string

const (
	OutcomeDelivered Outcome = "delivered" // sent inline, bypassing the queue
	OutcomeSteered   Outcome = "steered"   // injected into the running session
	OutcomeQueued    Outcome = "queued"    // admitted to the announce queue
	OutcomeRejected  Outcome = "rejected"  // refused by the queue (reject-new at cap)
)

// Session is the resolver's view of a destination.
type Session struct {
	ID        string
	Channel   string
	Recipient string
	AccountID string
	Active    bool

	InputTokens  int64
	OutputTokens int64
	Cost         float64
}

// Resolver maps a logical destination key to its session.
type Resolver interface {
	Resolve(ctx context.Context, key string) (Session, error)
}

// Steerer attempts to inject a message into a session's current turn.
type Steerer interface {
	Inject(sessionID, text string) bool
}

// Controller decides, per task completion, whether an announce is delivered
// inline, steered into the active run, or enqueued for a later drain.
type Controller struct {
	store    *Store
	resolver Resolver
	steerer  Steerer
	bus      eventbus.Bus
	log      logx.Logger
}

func NewController(store *Store, resolver Resolver, steerer Steerer, bus eventbus.Bus, log logx.Logger) *Controller {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Controller{
		store:    store,
		resolver: resolver,
		steerer:  steerer,
		bus:      bus,
		log:      log,
	}
}

// Announce routes one completed-task notification for key. Delivery
// failures on the inline path are logged, never returned; task-completion
// reporting is best-effort.
func (c *Controller) Announce(ctx context.Context, key, text, summary string, settings Settings) Outcome {
	var sess Session
	if c.resolver != nil {
		var err error
		sess, err = c.resolver.Resolve(ctx, key)
		if err != nil {
			// Unknown destination counts as inactive; deliver inline.
			c.log.Debug("session resolve failed", logx.String("key", key), logx.Err(err))
		}
	}
	origin := Origin{Channel: sess.Channel, Recipient: sess.Recipient, AccountID: sess.AccountID}

	if !sess.Active || settings.Mode == ModeImmediate {
		d := Delivery{
			Key:            key,
			Text:           text,
			Origin:         origin,
			Final:          true,
			IdempotencyKey: uuid.NewString(),
			Timeout:        c.store.cfg.DeliverTimeout,
		}
		if err := c.store.deliver(ctx, d); err != nil {
			c.log.Warn("inline announce delivery failed", logx.String("key", key), logx.Err(err))
		}
		c.publish(eventbus.EventAnnounceDelivered, key, origin.Channel)
		return OutcomeDelivered
	}

	if settings.Mode == ModeSteer || settings.Mode == ModeSteerBacklog {
		if c.steerer != nil && sess.ID != "" && c.steerer.Inject(sess.ID, text) {
			c.publish(eventbus.EventAnnounceSteered, key, origin.Channel)
			return OutcomeSteered
		}
		if settings.Mode == ModeSteer {
			c.log.Debug("steer injection failed; queueing instead", logx.String("key", key))
		}
	}

	item := Item{Key: key, Text: text, Summary: summary, Origin: origin}
	if !c.store.Enqueue(item, settings) {
		c.log.Warn("announce rejected at capacity", logx.String("key", key))
		c.publish(eventbus.EventAnnounceDropped, key, origin.Channel)
		return OutcomeRejected
	}
	c.store.Kick(key)
	c.publish(eventbus.EventAnnounceQueued, key, origin.Channel)
	return OutcomeQueued
}

func (c *Controller) publish(typ, key, channel string) {
	if c.bus == nil {
		return
	}
	c.bus.Publish(eventbus.Event{Type: typ, Data: map[string]any{"key": key, "channel": channel}})
}
