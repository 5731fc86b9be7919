package pipeline

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/JakeFAU/outreach-pipeline/internal/apperr"
	"github.com/JakeFAU/outreach-pipeline/internal/mailgun"
	"github.com/JakeFAU/outreach-pipeline/internal/metrics"
	"github.com/JakeFAU/outreach-pipeline/internal/store"
	"github.com/JakeFAU/outreach-pipeline/internal/templates"
)

const maxDetail = 500

// DeliveryRepository is the store surface delivery needs.
type DeliveryRepository interface {
	store.ContactRepository
	store.DeliveryRepository
}

// DeliveryParams bounds one send run.
type DeliveryParams struct {
	RunLimit   int
	DailyCap   int
	MinDelay   time.Duration
	MaxDelay   time.Duration
	Cooldown   time.Duration
	TemplateID string
}

// Validate checks the parameters before any store access.
func (p DeliveryParams) Validate() error {
	switch {
	case p.RunLimit <= 0:
		return apperr.Invalid("limit", fmt.Sprint(p.RunLimit), "must be positive")
	case p.DailyCap < 0:
		return apperr.Invalid("daily cap", fmt.Sprint(p.DailyCap), "must not be negative")
	case p.MinDelay < 0 || p.MaxDelay < 0:
		return apperr.Invalid("delay", fmt.Sprintf("%s..%s", p.MinDelay, p.MaxDelay), "must not be negative")
	case p.MinDelay > p.MaxDelay:
		return apperr.Invalid("delay", fmt.Sprintf("%s..%s", p.MinDelay, p.MaxDelay), "min exceeds max")
	case p.Cooldown < 0:
		return apperr.Invalid("cooldown", p.Cooldown.String(), "must not be negative")
	}
	return nil
}

// DeliverySummary counts one run's outcomes.
type DeliverySummary struct {
	Selected   int
	Sent       int
	Failed     int
	Skipped    int
	Errors     int
	CapReached bool
}

// DeliveryConfig carries the message settings shared by every run.
type DeliveryConfig struct {
	// Location defines the local midnight the daily cap resets at.
	Location   *time.Location
	Link       string
	SenderName string
	Tags       []string
}

// Delivery sends templated messages within the cap and cooldown rules.
type Delivery struct {
	repo     DeliveryRepository
	mailer   Mailer
	renderer Renderer
	clock    Clock
	cfg      DeliveryConfig
	randN    func(n int64) int64
	logger   *zap.Logger
}

// NewDelivery wires the delivery stage.
func NewDelivery(
	repo DeliveryRepository,
	mailer Mailer,
	renderer Renderer,
	clock Clock,
	cfg DeliveryConfig,
	logger *zap.Logger,
) *Delivery {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	return &Delivery{
		repo:     repo,
		mailer:   mailer,
		renderer: renderer,
		clock:    clock,
		cfg:      cfg,
		randN:    rand.Int64N,
		logger:   logger.Named(StageDelivery),
	}
}

// StartOfDay returns local midnight of t in loc.
func StartOfDay(t time.Time, loc *time.Location) time.Time {
	local := t.In(loc)
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
}

// SentToday counts sent events since local midnight.
func (d *Delivery) SentToday(ctx context.Context) (int, error) {
	n, err := d.repo.CountEvents(ctx, store.OutcomeSent, StartOfDay(d.clock.Now(), d.cfg.Location))
	if err != nil {
		return 0, fmt.Errorf("count sent today: %w", err)
	}
	return n, nil
}

// Run sends to at most min(RunLimit, DailyCap-sentToday) contacts. Provider
// rejections become failed events and are never returned as errors.
func (d *Delivery) Run(ctx context.Context, p DeliveryParams) (sum DeliverySummary, err error) {
	start := time.Now()
	defer func() { metrics.ObserveStage(StageDelivery, stageResult(err), time.Since(start)) }()

	if err := p.Validate(); err != nil {
		return sum, err
	}
	if p.TemplateID == "" {
		p.TemplateID = templates.DefaultID
	}
	if !d.renderer.Has(p.TemplateID) {
		return sum, apperr.Invalid("template", p.TemplateID, "not in catalog")
	}

	sent, err := d.SentToday(ctx)
	if err != nil {
		return sum, err
	}
	remaining := p.DailyCap - sent
	if remaining <= 0 {
		sum.CapReached = true
		d.logger.Info("daily cap reached", zap.Int("sent_today", sent), zap.Int("cap", p.DailyCap))
		return sum, nil
	}

	now := d.clock.Now()
	recipients, err := d.repo.ListDeliverable(ctx, store.DeliveryQuery{
		Limit:         min(p.RunLimit, remaining),
		CooldownStart: now.Add(-p.Cooldown),
	})
	if err != nil {
		return sum, fmt.Errorf("select recipients: %w", err)
	}
	sum.Selected = len(recipients)
	d.logger.Info("delivery started",
		zap.Int("selected", sum.Selected),
		zap.Int("sent_today", sent),
		zap.Int("remaining", remaining),
		zap.String("template", p.TemplateID),
	)

	attempted := false
	for _, r := range recipients {
		if err := ctx.Err(); err != nil {
			return sum, err
		}
		recent, err := d.repo.EmailContactedSince(ctx, r.Contact.Email, r.Contact.ID, d.clock.Now().Add(-p.Cooldown))
		if err != nil {
			sum.Errors++
			d.logger.Error("cooldown check failed", zap.String("contact_id", r.Contact.ID), zap.Error(err))
			continue
		}
		if recent {
			d.record(ctx, r, store.OutcomeSkippedCooldown, p.TemplateID, "", "address contacted within cooldown", &sum)
			sum.Skipped++
			continue
		}

		if attempted {
			if err := d.clock.Sleep(ctx, d.delay(p.MinDelay, p.MaxDelay)); err != nil {
				return sum, err
			}
		}
		attempted = true

		if err := d.deliver(ctx, r, p.TemplateID, &sum); err != nil {
			return sum, err
		}
	}

	if sent+sum.Sent >= p.DailyCap {
		sum.CapReached = true
	}
	d.logger.Info("delivery finished",
		zap.Int("selected", sum.Selected),
		zap.Int("sent", sum.Sent),
		zap.Int("failed", sum.Failed),
		zap.Int("skipped", sum.Skipped),
		zap.Int("errors", sum.Errors),
		zap.Bool("cap_reached", sum.CapReached),
	)
	return sum, nil
}

// deliver renders and sends one message. Only a configuration failure is
// returned; it stops the run because every later send would fail the same way.
func (d *Delivery) deliver(ctx context.Context, r store.Recipient, templateID string, sum *DeliverySummary) error {
	msg, err := d.renderer.Render(templateID, templates.DataFor(r, d.cfg.Link, d.cfg.SenderName))
	if err != nil {
		d.record(ctx, r, store.OutcomeFailed, templateID, "", "render: "+err.Error(), sum)
		sum.Failed++
		return nil
	}
	res, err := d.mailer.Send(ctx, mailgun.Message{
		To:      r.Contact.Email,
		Subject: msg.Subject,
		Text:    msg.Text,
		HTML:    msg.HTML,
		Tags:    append(append([]string(nil), d.cfg.Tags...), templateID),
		Variables: map[string]string{
			"contact_id":  r.Contact.ID,
			"business_id": r.Business.ID,
		},
	})
	if err != nil {
		if errors.Is(err, context.Canceled) && ctx.Err() != nil {
			return ctx.Err()
		}
		d.record(ctx, r, store.OutcomeFailed, templateID, "", err.Error(), sum)
		sum.Failed++
		if apperr.IsConfiguration(err) {
			return err
		}
		return nil
	}
	d.record(ctx, r, store.OutcomeSent, templateID, res.ID, res.Message, sum)
	sum.Sent++
	return nil
}

func (d *Delivery) record(
	ctx context.Context,
	r store.Recipient,
	outcome store.Outcome,
	templateID, providerID, detail string,
	sum *DeliverySummary,
) {
	detail = clip(detail, maxDetail)
	_, err := d.repo.AppendEvent(ctx, store.DeliveryEvent{
		ContactID:         r.Contact.ID,
		OccurredAt:        d.clock.Now(),
		Outcome:           outcome,
		TemplateID:        templateID,
		ProviderMessageID: providerID,
		Detail:            detail,
	})
	metrics.ObserveDelivery(string(outcome))
	log := d.logger.With(
		zap.String("contact_id", r.Contact.ID),
		zap.String("email", r.Contact.Email),
		zap.String("outcome", string(outcome)),
	)
	if err != nil {
		sum.Errors++
		log.Error("append delivery event failed", zap.Error(err))
		return
	}
	if outcome == store.OutcomeFailed {
		log.Warn("send failed", zap.String("detail", detail))
		return
	}
	log.Info("delivery recorded", zap.String("provider_id", providerID))
}

// clip cuts s to at most n runes.
func clip(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}

// delay picks a uniform duration in [lo, hi].
func (d *Delivery) delay(lo, hi time.Duration) time.Duration {
	if hi <= lo {
		return lo
	}
	return lo + time.Duration(d.randN(int64(hi-lo)+1))
}

// RecordBounce appends a bounced event for the contact that received the
// message with providerID.
func (d *Delivery) RecordBounce(ctx context.Context, providerID, reason string) (store.DeliveryEvent, error) {
	if providerID == "" {
		return store.DeliveryEvent{}, apperr.Invalid("message_id", "", "required")
	}
	sent, err := d.repo.FindEventByProviderID(ctx, providerID)
	if err != nil {
		return store.DeliveryEvent{}, fmt.Errorf("find sent event: %w", err)
	}
	reason = clip(reason, maxDetail)
	ev, err := d.repo.AppendEvent(ctx, store.DeliveryEvent{
		ContactID:         sent.ContactID,
		OccurredAt:        d.clock.Now(),
		Outcome:           store.OutcomeBounced,
		TemplateID:        sent.TemplateID,
		ProviderMessageID: providerID,
		Detail:            reason,
	})
	if err != nil {
		return store.DeliveryEvent{}, fmt.Errorf("append bounce: %w", err)
	}
	metrics.ObserveDelivery(string(store.OutcomeBounced))
	d.logger.Info("bounce recorded", zap.String("contact_id", sent.ContactID), zap.String("provider_id", providerID))
	return ev, nil
}
