package transport

import (
	"fmt"
	"sync"
	"time"

	"github.com/goliatone/go-connect"
)

// Mode is how the authorization URL was presented.
type Mode string

const (
	ModePopup    Mode = "popup"
	ModeRedirect Mode = "redirect"
)

// WindowName is the name given to the authorization popup.
const WindowName = "connect_oauth"

// Popup is a handle on an opened secondary window.
type Popup interface {
	Closed() bool
	Close()
}

// Window is the primary window that owns the connection screen.
type Window interface {
	// Open returns nil when the user agent blocked the popup.
	Open(url, name, features string) Popup
	// Navigate replaces the current document with url.
	Navigate(url string)
}

// Option customizes a Selector.
type Option func(*Selector)

// WithSize sets the popup dimensions.
func WithSize(width, height int) Option {
	return func(s *Selector) {
		if width > 0 {
			s.width = width
		}
		if height > 0 {
			s.height = height
		}
	}
}

// WithScreen sets the screen size used to center the popup.
func WithScreen(width, height int) Option {
	return func(s *Selector) {
		s.screenW, s.screenH = width, height
	}
}

// WithCheckDelay sets when the early close heuristic runs.
func WithCheckDelay(d time.Duration) Option {
	return func(s *Selector) {
		if d > 0 {
			s.checkDelay = d
		}
	}
}

// WithPollInterval sets how often an open popup is checked for closure.
func WithPollInterval(d time.Duration) Option {
	return func(s *Selector) {
		if d > 0 {
			s.pollInterval = d
		}
	}
}

// WithScheduler injects the timer implementation (useful for tests).
func WithScheduler(schedule connect.Scheduler) Option {
	return func(s *Selector) {
		if schedule != nil {
			s.schedule = schedule
		}
	}
}

// WithLogger overrides the logger.
func WithLogger(logger connect.Logger) Option {
	return func(s *Selector) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithModeObserver is told which mode every Open used.
func WithModeObserver(fn func(Mode)) Option {
	return func(s *Selector) {
		if fn != nil {
			s.onMode = fn
		}
	}
}

// OpenOption customizes a single Open call.
type OpenOption func(*openConfig)

type openConfig struct {
	onClosed func()
}

// WithCloseWatcher polls the popup and calls fn once when the user closes
// it. It has no effect in redirect mode.
func WithCloseWatcher(fn func()) OpenOption {
	return func(c *openConfig) {
		c.onClosed = fn
	}
}

// Selector opens the authorization URL in a popup, falling back to a
// full-page redirect when popups are blocked.
type Selector struct {
	window       Window
	width        int
	height       int
	screenW      int
	screenH      int
	checkDelay   time.Duration
	pollInterval time.Duration
	schedule     connect.Scheduler
	logger       connect.Logger
	onMode       func(Mode)
}

// NewSelector creates a Selector for window.
func NewSelector(window Window, opts ...Option) *Selector {
	s := &Selector{
		window:       window,
		width:        connect.DefaultPopupWidth,
		height:       connect.DefaultPopupHeight,
		checkDelay:   connect.DefaultPopupCheckDelay,
		pollInterval: connect.DefaultPopupPollInterval,
		schedule:     connect.AfterFunc,
		logger:       connect.DefaultLogger(),
		onMode:       func(Mode) {},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Open presents url and returns the handle describing how.
func (s *Selector) Open(url string, opts ...OpenOption) *Handle {
	cfg := openConfig{}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}

	popup := s.window.Open(url, WindowName, s.features())
	if popup == nil || popup.Closed() {
		s.logger.Info("popup blocked, falling back to redirect")
		s.onMode(ModeRedirect)
		s.window.Navigate(url)
		return &Handle{Mode: ModeRedirect, URL: url}
	}

	s.onMode(ModePopup)
	h := &Handle{Mode: ModePopup, URL: url, popup: popup}

	stopCheck := s.schedule(s.checkDelay, func() {
		if popup.Closed() {
			s.logger.Warn("popup closed shortly after opening; the provider may have redirected early or consent was interrupted")
		}
	})
	h.addStop(stopCheck)

	if cfg.onClosed != nil {
		s.watch(h, cfg.onClosed)
	}
	return h
}

func (s *Selector) watch(h *Handle, onClosed func()) {
	var tick func()
	tick = func() {
		if h.stopped() {
			return
		}
		if h.popup.Closed() {
			h.closedOnce.Do(onClosed)
			return
		}
		h.setPoll(s.schedule(s.pollInterval, tick))
	}
	h.setPoll(s.schedule(s.pollInterval, tick))
}

func (s *Selector) features() string {
	left, top := 0, 0
	if s.screenW > 0 {
		left = (s.screenW - s.width) / 2
	}
	if s.screenH > 0 {
		top = (s.screenH - s.height) / 2
	}
	return fmt.Sprintf("popup=yes,width=%d,height=%d,left=%d,top=%d", s.width, s.height, left, top)
}

// Handle is the result of Selector.Open.
type Handle struct {
	Mode Mode
	URL  string

	popup      Popup
	mu         sync.Mutex
	stops      []func() bool
	poll       func() bool
	done       bool
	closedOnce sync.Once
}

// Opened reports whether a popup is in use.
func (h *Handle) Opened() bool {
	return h.Mode == ModePopup
}

// Closed reports whether the popup has been closed. Redirect handles are
// never closed.
func (h *Handle) Closed() bool {
	return h.popup != nil && h.popup.Closed()
}

// ClosePopup closes the popup if one is open.
func (h *Handle) ClosePopup() {
	if h.popup != nil && !h.popup.Closed() {
		h.popup.Close()
	}
}

// Stop cancels pending checks and polling. It is safe to call repeatedly.
func (h *Handle) Stop() {
	h.mu.Lock()
	h.done = true
	stops := h.stops
	if h.poll != nil {
		stops = append(stops, h.poll)
	}
	h.stops, h.poll = nil, nil
	h.mu.Unlock()
	for _, stop := range stops {
		stop()
	}
}

func (h *Handle) addStop(stop func() bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.done {
		stop()
		return
	}
	h.stops = append(h.stops, stop)
}

func (h *Handle) setPoll(stop func() bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.done {
		stop()
		return
	}
	h.poll = stop
}

func (h *Handle) stopped() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.done
}
