// Copyright 2017-18 Daniel Swarbrick. All rights reserved.
// Use of this source code is governed by a GPL license that can be found in the LICENSE file.

// Device is the top-level facade pairing a Controller with its
// discovered Namespaces (§3, supplements spec.md per
// original_source/src/dev.rs).

package nvmecore

import (
	"fmt"
	"log"
	"sync"
)

// Device owns a Controller and the Namespaces opened against it.
// Ownership is one-directional: Device -> Namespace -> Controller.
// Namespaces hold an upward reference to their Controller but the
// Controller never holds a reference back down to avoid a reference
// cycle (§9 design note).
type Device struct {
	ctrl *Controller

	mu sync.RWMutex
	ns map[uint32]*Namespace
}

// OpenDevice brings up a controller at mmioBase and opens every
// namespace it reports as active (§4.6 bring-up followed by §4.7
// namespace enumeration).
func OpenDevice(mmioBase uintptr, dma Dma, logger *log.Logger) (*Device, error) {
	ctrl, err := NewController(mmioBase, dma, logger)
	if err != nil {
		return nil, err
	}

	d := &Device{ctrl: ctrl, ns: make(map[uint32]*Namespace)}

	ids, err := ctrl.NamespaceIDs()
	if err != nil {
		ctrl.Destroy()
		return nil, err
	}

	for _, nsid := range ids {
		n, err := OpenNamespace(ctrl, nsid)
		if err != nil {
			ctrl.Destroy()
			return nil, err
		}
		d.ns[nsid] = n
	}

	return d, nil
}

// Controller returns the underlying controller handle.
func (d *Device) Controller() *Controller { return d.ctrl }

// Namespace returns the namespace handle for nsid, or nil if unknown.
func (d *Device) Namespace(nsid uint32) *Namespace {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.ns[nsid]
}

// NamespaceIDs returns the set of namespace IDs opened at attach time.
func (d *Device) NamespaceIDs() []uint32 {
	d.mu.RLock()
	defer d.mu.RUnlock()
	ids := make([]uint32, 0, len(d.ns))
	for nsid := range d.ns {
		ids = append(ids, nsid)
	}
	return ids
}

// Rescan re-reads the active namespace list and opens any namespace
// not already known (it never drops one that disappeared, since an
// in-flight Namespace handle must stay valid for its callers).
func (d *Device) Rescan() error {
	ids, err := d.ctrl.NamespaceIDs()
	if err != nil {
		return err
	}

	for _, nsid := range ids {
		d.mu.RLock()
		_, known := d.ns[nsid]
		d.mu.RUnlock()
		if known {
			continue
		}

		n, err := OpenNamespace(d.ctrl, nsid)
		if err != nil {
			return err
		}

		d.mu.Lock()
		d.ns[nsid] = n
		d.mu.Unlock()
	}
	return nil
}

// String renders a human-readable summary of the device and its
// namespaces.
func (d *Device) String() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return fmt.Sprintf("%s, %d namespace(s)", d.ctrl.String(), len(d.ns))
}

// Close shuts the controller down and releases all DMA resources held
// by the device and its namespaces (§4.6 teardown).
func (d *Device) Close() {
	d.ctrl.Destroy()
}
