package simulator

import (
	"context"
	"sync"

	"github.com/msageha/observatory/internal/hardware"
)

type Dome struct {
	name string

	mu        sync.Mutex
	connected bool
	open      bool
}

func NewDome(name string) *Dome { return &Dome{name: name} }

func (d *Dome) Name() string { return d.name }

func (d *Dome) Connect(context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.connected = true
	return nil
}

func (d *Dome) Open(context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.connected {
		return hardware.ErrNotConnected
	}
	d.open = true
	return nil
}

func (d *Dome) CloseShutter(context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.connected {
		return hardware.ErrNotConnected
	}
	d.open = false
	return nil
}

func (d *Dome) IsOpen() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.open
}

func (d *Dome) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.connected = false
	return nil
}

type Focuser struct {
	name string

	mu        sync.Mutex
	connected bool
	position  int
}

func NewFocuser(name string, position int) *Focuser {
	return &Focuser{name: name, position: position}
}

func (f *Focuser) Name() string { return f.name }

func (f *Focuser) Connect(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = true
	return nil
}

func (f *Focuser) MoveTo(_ context.Context, position int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.connected {
		return hardware.ErrNotConnected
	}
	f.position = position
	return nil
}

func (f *Focuser) Position() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.position
}

func (f *Focuser) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = false
	return nil
}

type FilterWheel struct {
	name    string
	filters map[string]bool

	mu        sync.Mutex
	connected bool
	current   string
}

func NewFilterWheel(name string, filters []string) *FilterWheel {
	fw := &FilterWheel{name: name, filters: make(map[string]bool, len(filters))}
	for _, f := range filters {
		fw.filters[f] = true
	}
	if len(filters) > 0 {
		fw.current = filters[0]
	}
	return fw
}

func (w *FilterWheel) Name() string { return w.name }

func (w *FilterWheel) Connect(context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.connected = true
	return nil
}

func (w *FilterWheel) SetFilter(_ context.Context, filter string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.connected {
		return hardware.ErrNotConnected
	}
	if len(w.filters) > 0 && !w.filters[filter] {
		return &UnknownFilterError{Filter: filter}
	}
	w.current = filter
	return nil
}

func (w *FilterWheel) Filter() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

func (w *FilterWheel) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.connected = false
	return nil
}

type UnknownFilterError struct {
	Filter string
}

func (e *UnknownFilterError) Error() string { return "unknown filter: " + e.Filter }
