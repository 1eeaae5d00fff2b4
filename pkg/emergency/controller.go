// Package emergency watches for the coordinator's out-of-band shutdown
// triggers: SIGINT/SIGTERM and an operator-dropped stop file, for
// environments where sending a signal isn't convenient (e.g. reaching into
// a container without exec access).
package emergency

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/edgemesh/core/pkg/logging"
)

// Controller triggers a single shutdown event from whichever source fires
// first, and runs every registered callback exactly once.
type Controller struct {
	stopFile       string
	stopCh         chan struct{}
	stopped        bool
	mutex          sync.RWMutex
	callbacks      []func()
	pollInterval   time.Duration
	signalHandlers bool
	log            *logging.Logger
}

// Config configures a Controller.
type Config struct {
	// StopFile is the path to watch for an operator-triggered stop.
	StopFile string

	// PollInterval for checking the stop file.
	PollInterval time.Duration

	// EnableSignalHandlers enables SIGINT/SIGTERM handling.
	EnableSignalHandlers bool
}

// New constructs a Controller.
func New(config Config, log *logging.Logger) *Controller {
	if config.StopFile == "" {
		config.StopFile = "/tmp/coordinator-shutdown"
	}
	if config.PollInterval == 0 {
		config.PollInterval = 1 * time.Second
	}
	if log == nil {
		log = logging.Noop()
	}

	return &Controller{
		stopFile:       config.StopFile,
		stopCh:         make(chan struct{}),
		callbacks:      make([]func(), 0),
		pollInterval:   config.PollInterval,
		signalHandlers: config.EnableSignalHandlers,
		log:            log,
	}
}

// Start begins monitoring for shutdown conditions.
func (c *Controller) Start(ctx context.Context) {
	go c.watchStopFile(ctx)
	if c.signalHandlers {
		go c.watchSignals(ctx)
	}
}

func (c *Controller) watchStopFile(ctx context.Context) {
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if c.checkStopFile() {
				c.triggerStop("stop file detected at " + c.stopFile)
				return
			}
		}
	}
}

func (c *Controller) watchSignals(ctx context.Context) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-ctx.Done():
		signal.Stop(sigCh)
		return
	case sig := <-sigCh:
		c.triggerStop(fmt.Sprintf("signal: %v", sig))
		signal.Stop(sigCh)
		return
	}
}

func (c *Controller) checkStopFile() bool {
	_, err := os.Stat(c.stopFile)
	return err == nil
}

func (c *Controller) triggerStop(reason string) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if c.stopped {
		return
	}
	c.stopped = true
	close(c.stopCh)

	c.log.Info("shutdown triggered", "reason", reason)
	for i, callback := range c.callbacks {
		c.log.Debug("running shutdown callback", "index", i, "total", len(c.callbacks))
		callback()
	}
}

// Stop manually triggers shutdown, e.g. from an admin endpoint.
func (c *Controller) Stop(reason string) {
	c.triggerStop(reason)
}

// IsStopped reports whether shutdown has been triggered.
func (c *Controller) IsStopped() bool {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	return c.stopped
}

// StopChannel returns a channel that closes when shutdown is triggered.
func (c *Controller) StopChannel() <-chan struct{} {
	return c.stopCh
}

// OnStop registers a callback to run when shutdown is triggered. Callbacks
// run synchronously, in registration order, on whichever goroutine detected
// the trigger.
func (c *Controller) OnStop(callback func()) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.callbacks = append(c.callbacks, callback)
}

// CreateStopFile writes the stop file, the out-of-band trigger for
// environments that can touch the filesystem but can't send a signal.
func (c *Controller) CreateStopFile() error {
	f, err := os.Create(c.stopFile)
	if err != nil {
		return fmt.Errorf("create stop file: %w", err)
	}
	defer f.Close()

	if _, err := f.WriteString(fmt.Sprintf("shutdown requested at %s\n", time.Now().Format(time.RFC3339))); err != nil {
		return fmt.Errorf("write stop file: %w", err)
	}
	return nil
}

// RemoveStopFile removes the stop file.
func (c *Controller) RemoveStopFile() error {
	if err := os.Remove(c.stopFile); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove stop file: %w", err)
	}
	return nil
}

// GetStopFilePath returns the path to the stop file.
func (c *Controller) GetStopFilePath() string {
	return c.stopFile
}
