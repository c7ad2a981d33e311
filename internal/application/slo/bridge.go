package slo

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/itechsmart/sentinel/internal/domain/shared"
	"github.com/itechsmart/sentinel/internal/domain/slo"
	"go.uber.org/zap"
)

// DefaultDeliveryTarget is the availability target of SLOs created by the bridge
const DefaultDeliveryTarget = 99.0

type outcomeCount struct {
	success int64
	total   int64
}

// DeliveryBridge turns delivery attempt outcomes into SLO measurements.
// Outcomes are counted per destination and flushed periodically as one
// measurement on the availability SLO "<destination> delivery" of service
// "hl7-<destination>", created on first use.
type DeliveryBridge struct {
	svc    *Service
	target float64
	logger *zap.Logger

	mu     sync.Mutex
	counts map[string]*outcomeCount
}

// NewDeliveryBridge creates a bridge; a zero target uses DefaultDeliveryTarget
func NewDeliveryBridge(svc *Service, target float64, logger *zap.Logger) *DeliveryBridge {
	if target <= 0 || target >= 100 {
		target = DefaultDeliveryTarget
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DeliveryBridge{
		svc:    svc,
		target: target,
		logger: logger.Named("slo_bridge"),
		counts: make(map[string]*outcomeCount),
	}
}

// RecordOutcome counts one delivery attempt
func (b *DeliveryBridge) RecordOutcome(destination string, success bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	c, ok := b.counts[destination]
	if !ok {
		c = &outcomeCount{}
		b.counts[destination] = c
	}
	c.total++
	if success {
		c.success++
	}
}

// Flush records the pending counts. Counts of a destination whose
// measurement could not be stored are kept for the next flush.
func (b *DeliveryBridge) Flush(ctx context.Context) error {
	b.mu.Lock()
	pending := b.counts
	b.counts = make(map[string]*outcomeCount)
	b.mu.Unlock()

	destinations := make([]string, 0, len(pending))
	for d := range pending {
		destinations = append(destinations, d)
	}
	sort.Strings(destinations)

	var errs []error
	for _, dest := range destinations {
		c := pending[dest]
		saved, err := b.flushOne(ctx, dest, c)
		if err != nil {
			errs = append(errs, fmt.Errorf("destination %s: %w", dest, err))
		}
		if !saved {
			b.restore(dest, c)
		}
	}
	return errors.Join(errs...)
}

// flushOne reports saved once the measurement is stored, even when updating
// the SLO afterwards fails.
func (b *DeliveryBridge) flushOne(ctx context.Context, destination string, c *outcomeCount) (saved bool, err error) {
	def, err := b.ensureSLO(ctx, destination)
	if err != nil {
		return false, err
	}
	m, err := b.svc.record(ctx, def, RecordMeasurementRequest{SuccessCount: c.success, TotalCount: c.total})
	if m == nil {
		return false, err
	}
	if err != nil {
		return true, err
	}
	b.logger.Debug("delivery outcomes recorded",
		zap.String("destination", destination),
		zap.Int64("success", c.success),
		zap.Int64("total", c.total),
		zap.Float64("success_percentage", m.SuccessPercentage),
	)
	return true, nil
}

func (b *DeliveryBridge) restore(destination string, c *outcomeCount) {
	b.mu.Lock()
	defer b.mu.Unlock()
	cur, ok := b.counts[destination]
	if !ok {
		b.counts[destination] = c
		return
	}
	cur.success += c.success
	cur.total += c.total
}

func (b *DeliveryBridge) ensureSLO(ctx context.Context, destination string) (*slo.SLO, error) {
	serviceName := "hl7-" + destination
	name := destination + " delivery"

	def, err := b.svc.slos.FindByServiceAndName(ctx, serviceName, name)
	if err == nil {
		return def, nil
	}
	if !errors.Is(err, shared.ErrNotFound) {
		return nil, err
	}

	created, err := b.svc.CreateSLO(ctx, CreateSLORequest{
		ServiceName:      serviceName,
		Name:             name,
		Description:      "Share of delivery attempts to " + destination + " acknowledged with AA",
		Type:             string(slo.TypeAvailability),
		TargetPercentage: b.target,
	})
	if err != nil {
		return nil, err
	}
	return b.svc.slos.FindByID(ctx, created.ID)
}
