package metrics

import (
	"sync"
	"time"

	"github.com/rothirschtec/Simple-Backup-Environment/pkg/types"
)

// QueueReader exposes the queue contents to the collector
type QueueReader interface {
	Pending() ([]types.QueueEntry, error)
	Running() ([]types.QueueEntry, error)
}

// Collector samples queue depth into QueueEntries
type Collector struct {
	queue    QueueReader
	interval time.Duration
	stopCh   chan struct{}
	once     sync.Once
}

// NewCollector creates a collector sampling every interval
func NewCollector(queue QueueReader, interval time.Duration) *Collector {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return &Collector{
		queue:    queue,
		interval: interval,
		stopCh:   make(chan struct{}),
	}
}

// Start begins sampling in the background
func (c *Collector) Start() {
	go func() {
		ticker := time.NewTicker(c.interval)
		defer ticker.Stop()

		c.Collect()
		for {
			select {
			case <-ticker.C:
				c.Collect()
			case <-c.stopCh:
				return
			}
		}
	}()
}

// Stop ends sampling
func (c *Collector) Stop() {
	c.once.Do(func() { close(c.stopCh) })
}

// Collect samples the queue once
func (c *Collector) Collect() {
	if pending, err := c.queue.Pending(); err == nil {
		QueueEntries.WithLabelValues(string(types.QueuePending)).Set(float64(len(pending)))
	}
	if running, err := c.queue.Running(); err == nil {
		QueueEntries.WithLabelValues(string(types.QueueRunning)).Set(float64(len(running)))
	}
}
