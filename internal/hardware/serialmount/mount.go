package serialmount

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"go.bug.st/serial"

	"github.com/msageha/observatory/internal/astro"
	"github.com/msageha/observatory/internal/hardware"
	"github.com/msageha/observatory/internal/logging"
	"github.com/msageha/observatory/internal/model"
)

const (
	DefaultBaudRate    = 9600
	DefaultReadTimeout = 2 * time.Second
	maxResponse        = 256
)

// Port is the subset of serial.Port the mount uses.
type Port interface {
	io.ReadWriteCloser
}

// Opener opens the serial device. Tests replace it with an in-memory port.
type Opener func(path string, mode *serial.Mode, readTimeout time.Duration) (Port, error)

func openSerial(path string, mode *serial.Mode, readTimeout time.Duration) (Port, error) {
	p, err := serial.Open(path, mode)
	if err != nil {
		return nil, err
	}
	if err := p.SetReadTimeout(readTimeout); err != nil {
		_ = p.Close()
		return nil, err
	}
	return p, nil
}

type Config struct {
	Name        string
	Port        string
	Mode        *serial.Mode
	ReadTimeout time.Duration
	Table       *CommandTable
	Open        Opener
}

type Mount struct {
	cfg Config
	log *logging.Logger

	io   sync.Mutex
	port Port

	mu          sync.Mutex
	initialized bool
	target      *astro.Equatorial
	status      hardware.MountStatus
}

func New(cfg Config, log *logging.Logger) (*Mount, error) {
	if cfg.Table == nil {
		return nil, fmt.Errorf("serial mount: command table required")
	}
	if cfg.Port == "" {
		return nil, fmt.Errorf("serial mount: port required")
	}
	if cfg.Mode == nil {
		cfg.Mode = &serial.Mode{BaudRate: DefaultBaudRate, DataBits: 8, Parity: serial.NoParity, StopBits: serial.OneStopBit}
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = DefaultReadTimeout
	}
	if cfg.Open == nil {
		cfg.Open = openSerial
	}
	if log == nil {
		log = logging.Discard()
	}
	return &Mount{cfg: cfg, log: log}, nil
}

// NewFromConfig is the "serial" backend factory. The command table path is
// the "commands" option; "baud" overrides the baud rate.
func NewFromConfig(dc model.DeviceConfig, log *logging.Logger) (hardware.Mount, error) {
	opts := hardware.Options(dc.Options)
	path := opts.String("commands", "")
	if path == "" {
		return nil, fmt.Errorf("serial mount: option \"commands\" is required")
	}
	table, err := LoadCommandTable(path)
	if err != nil {
		return nil, err
	}
	baud, err := opts.Int("baud", DefaultBaudRate)
	if err != nil {
		return nil, err
	}
	timeout, err := opts.Seconds("read_timeout_sec", DefaultReadTimeout)
	if err != nil {
		return nil, err
	}
	return New(Config{
		Name:        dc.Name,
		Port:        dc.Port,
		Mode:        &serial.Mode{BaudRate: baud, DataBits: 8, Parity: serial.NoParity, StopBits: serial.OneStopBit},
		ReadTimeout: timeout,
		Table:       table,
	}, log)
}

func (m *Mount) Name() string { return m.cfg.Name }

func (m *Mount) Connect(context.Context) error {
	m.io.Lock()
	defer m.io.Unlock()
	if m.port != nil {
		return nil
	}
	p, err := m.cfg.Open(m.cfg.Port, m.cfg.Mode, m.cfg.ReadTimeout)
	if err != nil {
		return fmt.Errorf("open %s: %w", m.cfg.Port, err)
	}
	m.port = p
	m.log.Infof("connected port=%s baud=%d", m.cfg.Port, m.cfg.Mode.BaudRate)
	return nil
}

func (m *Mount) Initialize(ctx context.Context) error {
	if _, ok := m.cfg.Table.Commands["version"]; ok {
		v, err := m.query(ctx, "version", "")
		if err != nil {
			return fmt.Errorf("initialize: %w", err)
		}
		m.log.Infof("firmware version=%q", v)
	}
	m.mu.Lock()
	m.initialized = true
	m.mu.Unlock()
	return nil
}

func (m *Mount) Poll(ctx context.Context) (hardware.MountStatus, error) {
	raw, err := m.query(ctx, "get_status", "")
	if err != nil {
		return m.Status(), err
	}
	fields, err := m.cfg.Table.DecodeStatus(raw)
	if err != nil {
		return m.Status(), err
	}
	state := fields["state"]

	pos, err := m.readCoordinates(ctx)
	if err != nil {
		return m.Status(), err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	st := hardware.MountStatus{
		Connected:   true,
		Initialized: m.initialized,
		State:       state,
		Parked:      strings.Contains(state, "Park"),
		AtHome:      strings.Contains(state, "Stopped - Zero Position"),
		Tracking:    strings.Contains(state, "Tracking"),
		Slewing:     strings.Contains(state, "Slewing"),
		Position:    pos,
		UpdatedAt:   time.Now(),
	}
	if m.target != nil {
		t := *m.target
		st.Target = &t
	}
	m.status = st
	return st, nil
}

func (m *Mount) readCoordinates(ctx context.Context) (astro.Equatorial, error) {
	raw, err := m.query(ctx, "get_coordinates", "")
	if err != nil {
		return astro.Equatorial{}, err
	}
	return m.cfg.Table.parseCoordinates(raw)
}

func (m *Mount) Status() hardware.MountStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

func (m *Mount) SetTarget(ctx context.Context, coord astro.Equatorial) error {
	if err := m.sendCoordinates(ctx, coord); err != nil {
		return fmt.Errorf("set target: %w", err)
	}
	m.mu.Lock()
	c := coord
	m.target = &c
	m.mu.Unlock()
	return nil
}

func (m *Mount) sendCoordinates(ctx context.Context, coord astro.Equatorial) error {
	if _, err := m.query(ctx, "set_ra", formatRA(coord.RA)); err != nil {
		return err
	}
	_, err := m.query(ctx, "set_dec", formatDec(coord.Dec))
	return err
}

// Sync loads coord as the commanded position and calibrates the mount on it.
// The previous target, if any, is restored afterwards.
func (m *Mount) Sync(ctx context.Context, coord astro.Equatorial) error {
	if err := m.sendCoordinates(ctx, coord); err != nil {
		return fmt.Errorf("sync: %w", err)
	}
	if _, err := m.query(ctx, "calibrate_mount", ""); err != nil {
		return fmt.Errorf("sync: %w", err)
	}
	m.mu.Lock()
	target := m.target
	m.mu.Unlock()
	if target != nil {
		return m.sendCoordinates(ctx, *target)
	}
	return nil
}

func (m *Mount) SlewToTarget(ctx context.Context) error {
	m.mu.Lock()
	hasTarget := m.target != nil
	m.mu.Unlock()
	if !hasTarget {
		return hardware.ErrNoTarget
	}
	_, err := m.query(ctx, "slew_to_target", "")
	return err
}

func (m *Mount) SlewToHome(ctx context.Context) error {
	m.mu.Lock()
	m.target = nil
	m.mu.Unlock()
	_, err := m.query(ctx, "goto_home", "")
	return err
}

func (m *Mount) Park(ctx context.Context) error {
	m.mu.Lock()
	m.target = nil
	m.mu.Unlock()
	_, err := m.query(ctx, "park", "")
	return err
}

func (m *Mount) Unpark(ctx context.Context) error {
	_, err := m.query(ctx, "unpark", "")
	return err
}

// ApplyTrackingCorrection sends a timed guide pulse.
func (m *Mount) ApplyTrackingCorrection(ctx context.Context, c hardware.TrackingCorrection) error {
	name := "guide_" + string(c.Direction)
	_, err := m.query(ctx, name, formatDuration(c.Duration.Milliseconds()))
	return err
}

func (m *Mount) Close() error {
	m.io.Lock()
	defer m.io.Unlock()
	if m.port == nil {
		return nil
	}
	err := m.port.Close()
	m.port = nil
	return err
}

// query sends one command and returns its reply with the terminator removed.
func (m *Mount) query(ctx context.Context, name, params string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	line, err := m.cfg.Table.Format(name, params)
	if err != nil {
		return "", err
	}

	m.io.Lock()
	defer m.io.Unlock()
	if m.port == nil {
		return "", hardware.ErrNotConnected
	}
	if r, ok := m.port.(interface{ ResetInputBuffer() error }); ok {
		_ = r.ResetInputBuffer()
	}
	if _, err := io.WriteString(m.port, line); err != nil {
		return "", fmt.Errorf("%s: write: %w", name, err)
	}

	resp, err := m.readResponse()
	if err != nil {
		return "", fmt.Errorf("%s: read: %w", name, err)
	}
	m.log.Debugf("query cmd=%s sent=%q resp=%q", name, line, resp)

	if want := m.cfg.Table.Commands[name].Response; want != "" && resp != want {
		return resp, fmt.Errorf("%s: unexpected response %q (want %q)", name, resp, want)
	}
	return resp, nil
}

// readResponse reads until the terminator, a read timeout (zero-byte read)
// or EOF.
func (m *Mount) readResponse() (string, error) {
	post := []byte(m.cfg.Table.CmdPost)
	var buf bytes.Buffer
	one := make([]byte, 1)
	for buf.Len() < maxResponse {
		n, err := m.port.Read(one)
		if n > 0 {
			buf.WriteByte(one[0])
			if bytes.HasSuffix(buf.Bytes(), post) {
				return strings.TrimSuffix(buf.String(), string(post)), nil
			}
			continue
		}
		if err != nil && !errors.Is(err, io.EOF) {
			return "", err
		}
		break
	}
	if buf.Len() == 0 {
		return "", fmt.Errorf("no response")
	}
	return buf.String(), nil
}
