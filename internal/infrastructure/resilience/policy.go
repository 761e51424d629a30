package resilience

import (
	"time"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/webkernel/internal/infrastructure/logging"
)

// Fetch guards outbound HTTP from guest programs. External origins vary in
// reliability, so it trips late.
func Fetch(logger *logging.Logger) *Breaker {
	return New("fetch", Settings{
		Probes:   5,
		Window:   time.Minute,
		Cooldown: 30 * time.Second,
		Trip:     FailureRate(10, 20, 0.7),
		OnChange: logChange(logger),
	})
}

// Transport guards calls to a remote kernel.
func Transport(name string, logger *logging.Logger) *Breaker {
	return New(name, Settings{
		Probes:   2,
		Window:   30 * time.Second,
		Cooldown: 10 * time.Second,
		Trip:     ConsecutiveFailures(5),
		OnChange: logChange(logger),
	})
}

func logChange(logger *logging.Logger) func(string, State, State) {
	log := logging.OrNop(logger).Named("breaker")
	return func(name string, from, to State) {
		log.Warn("breaker state changed",
			zap.String("breaker", name),
			zap.Stringer("from", from),
			zap.Stringer("to", to))
	}
}
