// Package notify raises operator alerts through a desktop notification
// command. Alerts are throttled per key so a condition that persists does not
// flood the operator.
package notify

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/msageha/observatory/internal/events"
	"github.com/msageha/observatory/internal/logging"
	"github.com/msageha/observatory/internal/model"
)

const (
	DefaultMinInterval = 10 * time.Minute
	sendTimeout        = 10 * time.Second
)

type Config struct {
	Enabled bool
	// Command is run with sh -c; the alert is passed in the
	// OBSERVATORY_ALERT_TITLE and OBSERVATORY_ALERT_MESSAGE environment
	// variables. Empty selects the platform notifier.
	Command     string
	MinInterval time.Duration
}

func ConfigFrom(nc model.NotifyConfig) Config {
	return Config{
		Enabled:     nc.Enabled,
		Command:     nc.Command,
		MinInterval: time.Duration(nc.MinIntervalSec) * time.Second,
	}
}

// SendFunc delivers one notification.
type SendFunc func(ctx context.Context, title, message string) error

type Notifier struct {
	cfg  Config
	send SendFunc
	log  *logging.Logger

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

func New(cfg Config, log *logging.Logger) *Notifier {
	if log == nil {
		log = logging.Discard()
	}
	if cfg.MinInterval <= 0 {
		cfg.MinInterval = DefaultMinInterval
	}
	n := &Notifier{cfg: cfg, log: log, limiters: make(map[string]*rate.Limiter)}
	if cfg.Command != "" {
		n.send = commandSender(cfg.Command)
	} else {
		n.send = desktopSender(runtime.GOOS)
	}
	return n
}

// WithSender replaces the delivery function.
func (n *Notifier) WithSender(send SendFunc) *Notifier {
	n.send = send
	return n
}

// Alert sends title/message unless an alert with the same key was sent within
// the minimum interval. It reports whether the alert was sent.
func (n *Notifier) Alert(key, title, message string) bool {
	if !n.cfg.Enabled {
		return false
	}
	if !n.limiter(key).Allow() {
		n.log.Debugf("alert throttled key=%s", key)
		return false
	}
	ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
	defer cancel()
	if err := n.send(ctx, title, message); err != nil {
		n.log.Warnf("alert key=%s: %v", key, err)
		return false
	}
	n.log.Infof("alert_sent key=%s title=%q", key, title)
	return true
}

func (n *Notifier) limiter(key string) *rate.Limiter {
	n.mu.Lock()
	defer n.mu.Unlock()
	l, ok := n.limiters[key]
	if !ok {
		l = rate.NewLimiter(rate.Every(n.cfg.MinInterval), 1)
		n.limiters[key] = l
	}
	return l
}

// Record is an event bus subscriber raising alerts for safety parks and fatal errors.
func (n *Notifier) Record(e events.Event) {
	switch e.Type {
	case events.EventSafetyPark:
		reason := e.String("reason")
		n.Alert("safety_park:"+reason, "Observatory parked",
			fmt.Sprintf("Parked from %s: %s", e.String("state"), reason))
	case events.EventFatal:
		n.Alert("fatal", "Observatory stopped", e.String("error"))
	}
}

func commandSender(command string) SendFunc {
	return func(ctx context.Context, title, message string) error {
		cmd := exec.CommandContext(ctx, "sh", "-c", command)
		cmd.Env = append(os.Environ(),
			"OBSERVATORY_ALERT_TITLE="+title,
			"OBSERVATORY_ALERT_MESSAGE="+message,
		)
		if out, err := cmd.CombinedOutput(); err != nil {
			return fmt.Errorf("notify command: %w: %s", err, strings.TrimSpace(string(out)))
		}
		return nil
	}
}

func desktopSender(goos string) SendFunc {
	if goos == "darwin" {
		return func(ctx context.Context, title, message string) error {
			script := fmt.Sprintf(
				`display notification "%s" with title "%s" sound name "default"`,
				escapeAppleScript(message), escapeAppleScript(title),
			)
			if out, err := exec.CommandContext(ctx, "osascript", "-e", script).CombinedOutput(); err != nil {
				return fmt.Errorf("osascript: %w: %s", err, strings.TrimSpace(string(out)))
			}
			return nil
		}
	}
	return func(ctx context.Context, title, message string) error {
		if out, err := exec.CommandContext(ctx, "notify-send", "--urgency=critical", title, message).CombinedOutput(); err != nil {
			return fmt.Errorf("notify-send: %w: %s", err, strings.TrimSpace(string(out)))
		}
		return nil
	}
}

func escapeAppleScript(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `"`, `\"`)
	return s
}
