// Package notify implements the digest delivery fan-out: channels that
// deliver the rendered digest, each a thin wrapper around one external
// service.
package notify

import "context"

// Channel delivers a rendered digest. A run is "delivered" when any
// configured channel returns success; individual channel failures do not
// abort the others and are returned by FanOut keyed by channel name.
type Channel interface {
	Name() string
	Deliver(ctx context.Context, runType, digestDate, htmlBody string) error
}

// FanOut delivers to every channel, returning true if at least one
// succeeded, plus the per-channel errors encountered.
func FanOut(ctx context.Context, channels []Channel, runType, digestDate, htmlBody string) (delivered bool, errs map[string]error) {
	errs = make(map[string]error)
	for _, ch := range channels {
		if err := ch.Deliver(ctx, runType, digestDate, htmlBody); err != nil {
			errs[ch.Name()] = err
			continue
		}
		delivered = true
	}
	return delivered, errs
}
