// Package arbiter multiplexes the transport's single inbound-message slot.
//
// The transport keeps one replaceable handler per slot name, so only the most
// recent registration ever sees a message. The Arbiter occupies that slot
// permanently and replaces "register a handler that overwrites the previous
// one" with an explicit ownership table:
//
//   - In-flight operations take a Claim. The newest claim that accepts a
//     message is the only consumer responsible for it.
//   - A long-lived default handler (for example the watcher for unsolicited
//     identification responses) runs only while no claim is active and the
//     topic is not reserved by another owner.
//   - Every message is acknowledged exactly once, whether it was processed
//     or deferred.
//
// Releasing a claim hands the channel back to the default handler.
package arbiter

import (
	"strings"
	"sync"

	"github.com/Njogu-Ndegwa/swapstation/internal/transport"
)

// Logger defines the logging interface used by the Arbiter.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}

// Registrar is the part of the transport the Arbiter needs.
type Registrar interface {
	RegisterInboundHandler(name string, handler transport.InboundHandler)
}

// Handler is a claim's consumer. It returns true when it takes
// responsibility for the message; false offers the message to older claims.
// Handlers must not call Ack; the Arbiter does.
type Handler func(msg transport.Message) bool

// Arbiter owns the inbound slot and decides who handles each message.
//
// All methods are safe for concurrent use.
type Arbiter struct {
	mu       sync.RWMutex
	claims   []*Claim
	reserved map[string]string // topic prefix -> owner
	fallback transport.InboundHandler
	seq      uint64
	logger   Logger
}

// Claim is an operation's ownership token on the inbound channel.
type Claim struct {
	arbiter *Arbiter
	id      uint64
	owner   string
	handler Handler

	releaseOnce sync.Once
}

// New creates an Arbiter and installs it in the transport's inbound slot.
func New(registrar Registrar) *Arbiter {
	a := &Arbiter{
		reserved: make(map[string]string),
		logger:   noopLogger{},
	}
	registrar.RegisterInboundHandler(transport.InboundSlot, a.Dispatch)
	return a
}

// SetLogger sets the logger for the arbiter.
func (a *Arbiter) SetLogger(logger Logger) {
	a.mu.Lock()
	a.logger = logger
	a.mu.Unlock()
}

// SetDefault installs the long-lived default consumer. A nil handler turns
// the default into a no-op.
func (a *Arbiter) SetDefault(handler transport.InboundHandler) {
	a.mu.Lock()
	a.fallback = handler
	a.mu.Unlock()
}

// Claim registers an operation as an owner of the inbound channel. Newer
// claims take precedence over older ones.
func (a *Arbiter) Claim(owner string, handler Handler) *Claim {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.seq++
	c := &Claim{
		arbiter: a,
		id:      a.seq,
		owner:   owner,
		handler: handler,
	}
	a.claims = append(a.claims, c)
	a.logger.Debug("inbound channel claimed", "owner", owner, "active_claims", len(a.claims))
	return c
}

// Owner returns the name the claim was registered with.
func (c *Claim) Owner() string {
	return c.owner
}

// Release removes the claim. Once the last claim is released the default
// handler is responsible again. Release is idempotent.
func (c *Claim) Release() {
	c.releaseOnce.Do(func() {
		c.arbiter.release(c)
	})
}

func (a *Arbiter) release(c *Claim) {
	a.mu.Lock()
	defer a.mu.Unlock()

	for i, existing := range a.claims {
		if existing.id == c.id {
			a.claims = append(a.claims[:i], a.claims[i+1:]...)
			break
		}
	}
	if len(a.claims) == 0 {
		a.logger.Debug("inbound channel returned to default handler", "released_by", c.owner)
	}
}

// Reserve marks every topic starting with prefix as owned by owner. The
// default handler defers such messages even when no claim is active. The
// returned function removes the reservation.
func (a *Arbiter) Reserve(prefix, owner string) func() {
	a.mu.Lock()
	a.reserved[prefix] = owner
	a.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			a.mu.Lock()
			if a.reserved[prefix] == owner {
				delete(a.reserved, prefix)
			}
			a.mu.Unlock()
		})
	}
}

// ActiveClaims returns the number of unreleased claims.
func (a *Arbiter) ActiveClaims() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.claims)
}

// Dispatch routes one inbound message. It is installed as the transport's
// inbound handler by New and acknowledges every message exactly once.
func (a *Arbiter) Dispatch(msg transport.Message) {
	defer msg.Ack()

	a.mu.RLock()
	claims := make([]*Claim, len(a.claims))
	copy(claims, a.claims)
	fallback := a.fallback
	reservedBy := a.reservedOwner(msg.Topic)
	logger := a.logger
	a.mu.RUnlock()

	for i := len(claims) - 1; i >= 0; i-- {
		if claims[i].handler(msg) {
			return
		}
	}

	if len(claims) > 0 {
		logger.Debug("inbound message deferred: channel claimed",
			"topic", msg.Topic,
			"active_claims", len(claims),
		)
		return
	}
	if reservedBy != "" {
		logger.Debug("inbound message deferred: topic reserved",
			"topic", msg.Topic,
			"owner", reservedBy,
		)
		return
	}
	if fallback != nil {
		fallback(msg)
	}
}

// reservedOwner must be called with a.mu held.
func (a *Arbiter) reservedOwner(topic string) string {
	for prefix, owner := range a.reserved {
		if strings.HasPrefix(topic, prefix) {
			return owner
		}
	}
	return ""
}
