package scanning

import (
	"fmt"

	domain "github.com/ahrav/scan-orchestrator/internal/domain/scanning"
)

// Dispatcher maps each scan type to the scanner that performs it.
type Dispatcher struct {
	scanners map[domain.ScanType]domain.Scanner
}

// NewDispatcher builds a dispatch table from scanners. Registering two
// scanners for the same type is a wiring error.
func NewDispatcher(scanners ...domain.Scanner) (*Dispatcher, error) {
	d := &Dispatcher{scanners: make(map[domain.ScanType]domain.Scanner, len(scanners))}
	for _, s := range scanners {
		t := s.ScanType()
		if !t.IsSupported() {
			return nil, fmt.Errorf("scanner registered for unknown scan type %q", t)
		}
		if _, dup := d.scanners[t]; dup {
			return nil, fmt.Errorf("duplicate scanner registered for scan type %q", t)
		}
		d.scanners[t] = s
	}
	return d, nil
}

// Resolve returns the scanner for t. It fails with ErrUnsupportedScanType for
// unknown types and for known types without a registered scanner.
func (d *Dispatcher) Resolve(t domain.ScanType) (domain.Scanner, error) {
	if !t.IsSupported() {
		return nil, fmt.Errorf("%w: %q", domain.ErrUnsupportedScanType, t)
	}
	s, ok := d.scanners[t]
	if !ok {
		return nil, fmt.Errorf("%w: no scanner registered for %q", domain.ErrUnsupportedScanType, t)
	}
	return s, nil
}

// ScanTypes lists the registered scan types in their canonical order.
func (d *Dispatcher) ScanTypes() []domain.ScanType {
	types := make([]domain.ScanType, 0, len(d.scanners))
	for _, t := range domain.SupportedScanTypes {
		if _, ok := d.scanners[t]; ok {
			types = append(types, t)
		}
	}
	return types
}
