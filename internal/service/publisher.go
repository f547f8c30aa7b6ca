package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/ledgersync/internal/domain"
)

// Redis channels carrying update notices.
const (
	ChannelSession   = "ch:session"
	ChannelAccount   = "ch:account"
	ChannelOffers    = "ch:offers"
	ChannelOrderbook = "ch:orderbook"
	ChannelEffects   = "ch:effects"
)

// StreamEffects is the durable stream of effect notices. Clients replay it
// after a reconnect.
const StreamEffects = "stream:effects"

// Cached view names.
const (
	ViewSession   = "session"
	ViewAccount   = "account"
	ViewHistory   = "history"
	ViewOrderbook = "orderbook"
)

// Alert events.
const (
	EventFundingDetected = "funding_detected"
	EventPaymentReceived = "payment_received"
	EventSetupError      = "setup_error"
)

const publisherQueueSize = 256

// UpdateNotice is the payload published on every channel. It only says
// that something changed; readers fetch the view they care about.
type UpdateNotice struct {
	Kind      string    `json:"kind"`
	AccountID string    `json:"account_id,omitempty"`
	EffectID  string    `json:"effect_id,omitempty"`
	At        time.Time `json:"at"`
}

type update struct {
	kind    string
	session domain.SessionView
	effect  domain.EffectRecord
}

// Publisher mirrors session updates to the signal bus and view cache and
// raises operator alerts. Bus, views and alerts are each optional.
type Publisher struct {
	session *Session
	bus     domain.SignalBus
	views   domain.ViewCache
	alerts  Alerter
	logger  *slog.Logger

	queue chan update

	last domain.SessionView
}

// NewPublisher creates a publisher for session.
func NewPublisher(session *Session, bus domain.SignalBus, views domain.ViewCache, alerts Alerter, logger *slog.Logger) *Publisher {
	return &Publisher{
		session: session,
		bus:     bus,
		views:   views,
		alerts:  alerts,
		logger:  logger.With(slog.String("component", "publisher")),
		queue:   make(chan update, publisherQueueSize),
		last:    domain.SessionView{State: domain.SessionOut},
	}
}

// Run listens to the session until ctx is cancelled. Listeners only
// enqueue, so slow Redis calls never stall a stream.
func (p *Publisher) Run(ctx context.Context) error {
	unlisten := []func(){
		p.session.OnSession(func(v domain.SessionView) { p.enqueue(update{kind: ViewSession, session: v}) }),
		p.session.OnAccount(func() { p.enqueue(update{kind: ViewAccount}) }),
		p.session.OnOffers(func() { p.enqueue(update{kind: ChannelOffers}) }),
		p.session.OnOrderbook(func() { p.enqueue(update{kind: ViewOrderbook}) }),
		p.session.OnEffect(func(e domain.EffectRecord) { p.enqueue(update{kind: ChannelEffects, effect: e}) }),
	}
	defer func() {
		for _, u := range unlisten {
			u()
		}
	}()

	p.logger.InfoContext(ctx, "publisher started")
	for {
		select {
		case <-ctx.Done():
			p.logger.Info("publisher stopped")
			return nil
		case u := <-p.queue:
			p.handle(ctx, u)
		}
	}
}

func (p *Publisher) enqueue(u update) {
	select {
	case p.queue <- u:
	default:
		p.logger.Warn("publisher queue full, dropping update", slog.String("kind", u.kind))
	}
}

func (p *Publisher) handle(ctx context.Context, u update) {
	view := p.session.View()
	switch u.kind {
	case ViewSession:
		p.storeView(ctx, ViewSession, u.session)
		if u.session.State != domain.SessionIn {
			p.dropView(ctx, ViewAccount)
			p.dropView(ctx, ViewHistory)
		}
		if _, err := p.session.OrderbookView(); err != nil {
			p.dropView(ctx, ViewOrderbook)
		}
		p.publish(ctx, ChannelSession, UpdateNotice{Kind: "session", AccountID: u.session.AccountID})
		p.alertTransition(ctx, u.session)

	case ViewAccount, ChannelOffers:
		if av, err := p.session.AccountView(false); err == nil {
			p.storeView(ctx, ViewAccount, av)
		} else {
			p.dropView(ctx, ViewAccount)
		}
		if u.kind == ViewAccount {
			if h, err := p.session.History(); err == nil {
				p.storeView(ctx, ViewHistory, h)
			} else {
				p.dropView(ctx, ViewHistory)
			}
			p.publish(ctx, ChannelAccount, UpdateNotice{Kind: "account", AccountID: view.AccountID})
		} else {
			p.publish(ctx, ChannelOffers, UpdateNotice{Kind: "offers", AccountID: view.AccountID})
		}

	case ViewOrderbook:
		if ov, err := p.session.OrderbookView(); err == nil {
			p.storeView(ctx, ViewOrderbook, ov)
		} else {
			p.dropView(ctx, ViewOrderbook)
		}
		p.publish(ctx, ChannelOrderbook, UpdateNotice{Kind: "orderbook"})

	case ChannelEffects:
		n := UpdateNotice{Kind: "effect", AccountID: view.AccountID, EffectID: u.effect.ID}
		p.publish(ctx, ChannelEffects, n)
		p.appendStream(ctx, StreamEffects, n)
		if u.effect.Category == domain.EffectAccountCredited {
			p.alert(ctx, EventPaymentReceived, "Payment received", paymentMessage(view.AccountID, u.effect))
		}
	}
}

// alertTransition raises alerts on state edges, not on every notice.
func (p *Publisher) alertTransition(ctx context.Context, v domain.SessionView) {
	prev := p.last
	p.last = v
	if prev.State == domain.SessionUnfunded && v.State == domain.SessionIn {
		p.alert(ctx, EventFundingDetected, "Account funded", fmt.Sprintf("Account %s now exists on the ledger.", v.AccountID))
	}
	if v.SetupError && !prev.SetupError {
		p.alert(ctx, EventSetupError, "Account setup failed", "Loading the account failed; the session is logged out.")
	}
}

func (p *Publisher) storeView(ctx context.Context, name string, v any) {
	if p.views == nil {
		return
	}
	data, err := json.Marshal(v)
	if err != nil {
		p.logger.WarnContext(ctx, "encode view failed", slog.String("view", name), slog.String("error", err.Error()))
		return
	}
	if err := p.views.SetView(ctx, name, data); err != nil {
		p.logger.WarnContext(ctx, "store view failed", slog.String("view", name), slog.String("error", err.Error()))
	}
}

// dropView removes a view that no longer describes a live session.
func (p *Publisher) dropView(ctx context.Context, name string) {
	if p.views == nil {
		return
	}
	if err := p.views.DeleteView(ctx, name); err != nil {
		p.logger.WarnContext(ctx, "delete view failed", slog.String("view", name), slog.String("error", err.Error()))
	}
}

func (p *Publisher) publish(ctx context.Context, channel string, n UpdateNotice) {
	if p.bus == nil {
		return
	}
	n.At = time.Now().UTC()
	data, err := json.Marshal(n)
	if err != nil {
		return
	}
	if err := p.bus.Publish(ctx, channel, data); err != nil {
		p.logger.WarnContext(ctx, "publish failed", slog.String("channel", channel), slog.String("error", err.Error()))
	}
}

func (p *Publisher) appendStream(ctx context.Context, stream string, n UpdateNotice) {
	if p.bus == nil {
		return
	}
	n.At = time.Now().UTC()
	data, err := json.Marshal(n)
	if err != nil {
		return
	}
	if err := p.bus.StreamAppend(ctx, stream, data); err != nil {
		p.logger.WarnContext(ctx, "stream append failed", slog.String("stream", stream), slog.String("error", err.Error()))
	}
}

func (p *Publisher) alert(ctx context.Context, event, title, message string) {
	if p.alerts == nil {
		return
	}
	if err := p.alerts.Notify(ctx, event, title, message); err != nil {
		p.logger.WarnContext(ctx, "alert failed", slog.String("event", event), slog.String("error", err.Error()))
	}
}

func paymentMessage(account string, e domain.EffectRecord) string {
	amount, _ := e.Fields["amount"].(string)
	code, _ := e.Fields["asset_code"].(string)
	if code == "" {
		code = domain.NativeCode
	}
	return fmt.Sprintf("%s received %s %s (effect %s).", account, amount, code, e.ID)
}
