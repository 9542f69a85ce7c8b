package stream

import (
	"github.com/rs/zerolog/log"

	"github.com/mlsorensen/gobalance"
)

// Tee passes every update from in to the returned channel after handing it
// to each sink. Sink failures are logged. The returned channel is closed
// when in is.
func Tee(in <-chan gobalance.WeightUpdate, sinks ...Sink) <-chan gobalance.WeightUpdate {
	out := make(chan gobalance.WeightUpdate, cap(in))
	go func() {
		defer close(out)
		for u := range in {
			for _, s := range sinks {
				if err := s.Publish(u); err != nil {
					log.Warn().Err(err).Str("kind", string(u.Kind)).Msg("stream sink failed")
				}
			}
			out <- u
		}
	}()
	return out
}
