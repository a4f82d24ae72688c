package victron

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Advertisement is Victron manufacturer data seen from one device.
type Advertisement struct {
	// Address is the device MAC address as reported by the adapter.
	Address string
	// Data is the manufacturer data without the company id.
	Data []byte
}

// Scanner delivers Victron advertisements.
//
// Scan blocks until Stop is called or ctx is done and returns nil in both
// cases. The callback may run on an adapter goroutine and must not block.
type Scanner interface {
	Scan(ctx context.Context, fn func(Advertisement)) error
	Stop() error
}

// AwaitDevice scans until an advertisement from mac arrives and returns its
// data. MAC comparison ignores case. The scanner is stopped before
// returning.
//
// Returns ErrScanTimeout when timeout elapses first, the context error
// when ctx is cancelled, or ErrScanFailed when the scan fails or ends early.
func AwaitDevice(ctx context.Context, scanner Scanner, mac string, timeout time.Duration) ([]byte, error) {
	scanCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	found := make(chan []byte, 1)
	scanDone := make(chan error, 1)

	go func() {
		scanDone <- scanner.Scan(scanCtx, func(adv Advertisement) {
			if !strings.EqualFold(adv.Address, mac) {
				return
			}
			data := append([]byte(nil), adv.Data...)
			select {
			case found <- data:
			default:
			}
		})
	}()

	select {
	case data := <-found:
		scanner.Stop() //nolint:errcheck // scan is already complete
		cancel()
		<-scanDone
		return data, nil

	case err := <-scanDone:
		// An advertisement may have raced with the scan ending.
		select {
		case data := <-found:
			return data, nil
		default:
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrScanFailed, err)
		}
		if scanCtx.Err() == nil {
			// The adapter stopped on its own before the timeout.
			return nil, fmt.Errorf("%w: scan ended without an advertisement from %s", ErrScanFailed, mac)
		}
		return nil, scanEndErr(ctx, timeout)

	case <-scanCtx.Done():
		scanner.Stop() //nolint:errcheck // stopping on timeout
		<-scanDone
		select {
		case data := <-found:
			return data, nil
		default:
		}
		return nil, scanEndErr(ctx, timeout)
	}
}

func scanEndErr(ctx context.Context, timeout time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return fmt.Errorf("%w within %v", ErrScanTimeout, timeout)
}
