package victron

import (
	"context"
	"fmt"
	"sync"

	"tinygo.org/x/bluetooth"
)

// BLEScanner scans with the host's default Bluetooth adapter
// (BlueZ over D-Bus on Linux).
type BLEScanner struct {
	adapter *bluetooth.Adapter

	enableOnce sync.Once
	enableErr  error
}

// NewBLEScanner returns a scanner on the default adapter. The adapter is
// enabled on first Scan.
func NewBLEScanner() *BLEScanner {
	return &BLEScanner{adapter: bluetooth.DefaultAdapter}
}

// Scan reports every advertisement carrying Victron manufacturer data.
func (s *BLEScanner) Scan(ctx context.Context, fn func(Advertisement)) error {
	s.enableOnce.Do(func() {
		s.enableErr = s.adapter.Enable()
	})
	if s.enableErr != nil {
		return fmt.Errorf("enabling bluetooth adapter: %w", s.enableErr)
	}

	stop := context.AfterFunc(ctx, func() {
		s.adapter.StopScan() //nolint:errcheck // may already be stopped
	})
	defer stop()

	err := s.adapter.Scan(func(_ *bluetooth.Adapter, result bluetooth.ScanResult) {
		for _, md := range result.ManufacturerData() {
			if md.CompanyID != CompanyID {
				continue
			}
			fn(Advertisement{
				Address: result.Address.String(),
				Data:    md.Data,
			})
		}
	})
	if err != nil {
		return fmt.Errorf("bluetooth scan: %w", err)
	}
	return nil
}

// Stop ends a running Scan.
func (s *BLEScanner) Stop() error {
	return s.adapter.StopScan()
}
