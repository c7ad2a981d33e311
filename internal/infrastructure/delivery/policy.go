// Package delivery runs the HL7 retry queue: the background processor that
// claims ready messages and sends them, and the queue backlog monitor.
package delivery

import (
	"github.com/itechsmart/sentinel/internal/domain/delivery"
	"github.com/itechsmart/sentinel/internal/infrastructure/config"
)

// PolicyFromConfig builds the retry policy, keeping defaults for unset fields
func PolicyFromConfig(cfg config.DeliveryConfig) delivery.RetryPolicy {
	p := delivery.DefaultRetryPolicy()
	if s := delivery.RetryStrategy(cfg.RetryStrategy); s.IsValid() {
		p.Strategy = s
	}
	if cfg.MaxRetries > 0 {
		p.MaxRetries = cfg.MaxRetries
	}
	if cfg.InitialDelay > 0 {
		p.InitialDelay = cfg.InitialDelay
	}
	if cfg.MaxDelay > 0 {
		p.MaxDelay = cfg.MaxDelay
	}
	if cfg.BackoffMultiplier > 0 {
		p.BackoffMultiplier = cfg.BackoffMultiplier
	}
	if len(cfg.RetryOnErrors) > 0 {
		p.RetryOnErrors = cfg.RetryOnErrors
	}
	if len(cfg.DeadLetterOnErrors) > 0 {
		p.DeadLetterOnErrors = cfg.DeadLetterOnErrors
	}
	return p
}
