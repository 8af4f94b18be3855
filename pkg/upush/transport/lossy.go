package transport

import (
	"errors"
	"math/rand/v2"
	"net/netip"

	"github.com/rs/zerolog"
)

var ErrBadLossPercent = errors.New("loss percentage must be 0 <= x <= 100")

// Lossy wraps a Transport and randomly drops outbound datagrams.
// It exists to exercise the reliability layer; a dropped datagram is reported to the caller as sent.
type Lossy struct {
	Transport
	log *zerolog.Logger
	p   float64 // 0.0 - 1.0
	rng *rand.Rand
}

// LossyOption function to set various options on a Lossy transport.
type LossyOption func(*Lossy)

// WithRand replaces the default randomness source, for reproducible drop patterns.
func WithRand(r *rand.Rand) LossyOption {
	return func(l *Lossy) {
		l.rng = r
	}
}

// WithLossyLogger sets the logger drops are reported to.
func WithLossyLogger(log *zerolog.Logger) LossyOption {
	return func(l *Lossy) {
		l.log = log
	}
}

// NewLossy wraps t such that each Send is dropped with probability percent/100.
func NewLossy(t Transport, percent uint8, opts ...LossyOption) (*Lossy, error) {
	if percent > 100 {
		return nil, ErrBadLossPercent
	}
	l := &Lossy{Transport: t, p: float64(percent) / 100.0}
	for _, opt := range opts {
		opt(l)
	}
	if l.log == nil {
		nop := zerolog.Nop()
		l.log = &nop
	}
	return l, nil
}

// Send drops the payload with the configured probability, otherwise hands it to the wrapped transport.
func (l *Lossy) Send(payload []byte, to netip.AddrPort) error {
	var rnd float64
	if l.rng != nil {
		rnd = l.rng.Float64()
	} else {
		rnd = rand.Float64()
	}
	if rnd < l.p {
		l.log.Debug().Str("target address", to.String()).Int("size (bytes)", len(payload)).Msg("randomly dropping a packet")
		return nil
	}
	return l.Transport.Send(payload, to)
}
