package eventbus

import (
	"sync"

	evbus "github.com/asaskevich/EventBus"
)

// Bus re-exports the underlying pub/sub contract so consumers do not import
// the library directly.
type Bus = evbus.Bus

var (
	instance Bus
	asyncBus *AsyncEventBus
	once     sync.Once
)

// Get returns the process-wide synchronous bus.
func Get() Bus {
	once.Do(func() {
		instance = New()
		asyncBus = NewAsyncEventBus(4)
		asyncBus.Start()
	})
	return instance
}

// GetAsync returns the process-wide asynchronous bus.
func GetAsync() *AsyncEventBus {
	Get()
	return asyncBus
}

// New creates an isolated synchronous bus. Controllers under test own one
// instead of sharing the process-wide instance.
func New() Bus {
	return evbus.New()
}

// Publish publishes on the process-wide bus.
func Publish(topic string, args ...interface{}) {
	Get().Publish(topic, args...)
}

// Subscribe subscribes on the process-wide bus.
func Subscribe(topic string, fn interface{}) error {
	return Get().Subscribe(topic, fn)
}

// PublishAsync queues an event for background delivery.
func PublishAsync(topic string, args ...interface{}) {
	GetAsync().PublishAsync(topic, args...)
}

// Shutdown stops the async workers.
func Shutdown() {
	if asyncBus != nil {
		asyncBus.Stop()
	}
}
