package simulator

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/msageha/observatory/internal/hardware"
	"github.com/msageha/observatory/internal/logging"
)

type CameraConfig struct {
	Primary bool
	// Speedup divides every exposure time. Values below 1 are treated as 1.
	Speedup     float64
	FailCapture bool
	// NeverWrite starts exposures that never produce a file.
	NeverWrite bool
}

// Camera writes a FITS file at the destination once the (scaled) exposure
// time has passed. The file is renamed into place so its existence means it
// is complete.
type Camera struct {
	name string
	cfg  CameraConfig
	rig  *Rig
	log  *logging.Logger

	mu        sync.Mutex
	connected bool
	done      chan struct{}
	wg        sync.WaitGroup
}

func NewCamera(name string, cfg CameraConfig, rig *Rig, log *logging.Logger) *Camera {
	if cfg.Speedup < 1 {
		cfg.Speedup = 1
	}
	if log == nil {
		log = logging.Discard()
	}
	return &Camera{name: name, cfg: cfg, rig: rig, log: log}
}

func (c *Camera) Name() string  { return c.name }
func (c *Camera) Primary() bool { return c.cfg.Primary }

func (c *Camera) Connect(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.connected {
		c.done = make(chan struct{})
		c.connected = true
	}
	return nil
}

func (c *Camera) Capture(ctx context.Context, exptime time.Duration, dest string, header map[string]string) error {
	c.mu.Lock()
	connected, done := c.connected, c.done
	c.mu.Unlock()
	if !connected {
		return hardware.ErrNotConnected
	}
	if c.cfg.FailCapture {
		return fmt.Errorf("simulated capture failure")
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return fmt.Errorf("create image dir: %w", err)
	}

	cards := make(map[string]string, len(header)+4)
	for k, v := range header {
		cards[k] = v
	}
	cards["EXPTIME"] = strconv.FormatFloat(exptime.Seconds(), 'f', 3, 64)
	cards["INSTRUME"] = c.name
	if c.rig != nil {
		if pos, ok := c.rig.skyPosition(); ok {
			cards["CRVAL1"] = strconv.FormatFloat(pos.RA, 'f', 6, 64)
			cards["CRVAL2"] = strconv.FormatFloat(pos.Dec, 'f', 6, 64)
		}
	}

	wait := time.Duration(float64(exptime) / c.cfg.Speedup)
	c.log.Debugf("capture start dest=%s exptime=%s", dest, exptime)

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		timer := time.NewTimer(wait)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			c.log.Warnf("capture aborted dest=%s", dest)
			return
		case <-done:
			return
		case <-timer.C:
		}
		if c.cfg.NeverWrite {
			return
		}
		cards["DATE-OBS"] = time.Now().UTC().Format("2006-01-02T15:04:05.000")
		if err := writeImage(dest, cards); err != nil {
			c.log.Errorf("capture write dest=%s: %v", dest, err)
			return
		}
		c.log.Debugf("capture done dest=%s", dest)
	}()
	return nil
}

func writeImage(dest string, cards map[string]string) error {
	tmp, err := os.CreateTemp(filepath.Dir(dest), ".capture-*.fits")
	if err != nil {
		return err
	}
	name := tmp.Name()
	defer func() { _ = os.Remove(name) }()
	if err := writeFITS(tmp, cards); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(name, dest)
}

// Close aborts pending exposures and waits for them to stop.
func (c *Camera) Close() error {
	c.mu.Lock()
	if c.connected {
		c.connected = false
		close(c.done)
	}
	c.mu.Unlock()
	c.wg.Wait()
	return nil
}
