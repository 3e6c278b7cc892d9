package device

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"
)

// limited throttles frame writes so a fast animation cannot flood the controller.
type limited struct {
	Device
	limiter *rate.Limiter
}

// Limit wraps dev with a token bucket of rps writes per second and the given burst.
// A non-positive rps returns dev unchanged.
func Limit(dev Device, rps float64, burst int) Device {
	if rps <= 0 {
		return dev
	}
	if burst < 1 {
		burst = 1
	}
	return &limited{
		Device:  dev,
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
	}
}

func (l *limited) WriteFrame(ctx context.Context, f Frame) error {
	if err := l.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("%w: rate limiter: %v", ErrWrite, err)
	}
	return l.Device.WriteFrame(ctx, f)
}
