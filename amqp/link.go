package amqp

import (
	"context"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/israelio/amqp10-go-client/internal/engine"
	"github.com/israelio/amqp10-go-client/internal/util"
)

// Link is a Sender or Receiver. AcceptLink returns one; use a type switch
// to tell which.
type Link interface {
	Name() string
	Role() Role
	Detach(ctx context.Context) error
	Done() <-chan struct{}
	Err() error
}

// link is the state shared by senders and receivers. Fields below the
// handles are owned by the session's mux goroutine.
type link struct {
	session  *Session
	logger   *zap.Logger
	name     string
	role     Role
	attached *util.Cell[error]
	detached chan struct{}
	err      error // set before detached is closed

	opts       linkOptions
	engine     *engine.Link
	closing    bool
	terminated bool
	abandoned  bool
	cause      error

	// sender
	pending   []*sendRequest
	current   *outgoing
	outcomes  map[uint32]*sendRequest
	credit    atomic.Uint32
	unsettled atomic.Int64

	// receiver
	deliveries    chan *Delivery
	settleWaiters map[uint32]chan error
	drainWaiters  []chan error
}

func (s *Session) newLink(role Role, opts []LinkOption) *link {
	o := s.linkOptions(opts)
	if o.name == "" {
		o.name = randomID(role.String())
	}
	l := s.initLink(o.name, role)
	l.opts = o
	if role == RoleReceiver {
		l.deliveries = make(chan *Delivery, o.capacity)
	}
	return l
}

// newRemoteLink wraps a link attached by the peer until AcceptLink claims it
func (s *Session) newRemoteLink(el *engine.Link) *link {
	l := s.initLink(el.Name, el.Role)
	l.engine = el
	l.opts = s.linkOptions(nil)
	if l.role == RoleReceiver {
		l.deliveries = make(chan *Delivery, l.opts.capacity)
	}
	return l
}

func (s *Session) initLink(name string, role Role) *link {
	return &link{
		session:       s,
		logger:        s.logger.With(zap.String("link", name)),
		name:          name,
		role:          role,
		attached:      util.NewCell[error](),
		detached:      make(chan struct{}),
		outcomes:      make(map[uint32]*sendRequest),
		settleWaiters: make(map[uint32]chan error),
	}
}

func (l *link) config() engine.LinkConfig {
	return engine.LinkConfig{
		Name:               l.name,
		Role:               l.role,
		Source:             l.opts.source,
		Target:             l.opts.target,
		SenderSettleMode:   l.opts.senderSettleMode,
		ReceiverSettleMode: l.opts.receiverSettleMode,
		MaxMessageSize:     l.opts.maxMessageSize,
		MaxInFlight:        l.opts.maxInFlight,
		Properties:         l.opts.properties,
	}
}

// attach sends Attach for a local link and waits for the peer's answer
func (s *Session) attach(ctx context.Context, l *link) error {
	err := s.call(ctx, func() error {
		el, a, err := s.engine.Attach(l.config())
		if err != nil {
			return err
		}
		l.engine = el
		s.links[el] = l
		_ = s.send(a)
		if el.Attached() {
			// claimed a link the peer attached first
			s.linkAttached(l)
		}
		return nil
	})
	if err != nil {
		return err
	}

	err, cerr := l.attached.GetWithContext(ctx)
	if cerr != nil {
		s.post(func() { s.detachLink(l, ErrLinkClosed, nil) })
		return cerr
	}
	return err
}

// Name returns the link name
func (l *link) Name() string {
	return l.name
}

// Role returns whether the local end sends or receives
func (l *link) Role() Role {
	return l.role
}

// Done is closed when the link has detached
func (l *link) Done() <-chan struct{} {
	return l.detached
}

// Err returns the terminal error, or nil while the link is attached
func (l *link) Err() error {
	select {
	case <-l.detached:
		return l.err
	default:
		return nil
	}
}

// Detach detaches the link and waits for the peer's Detach
func (l *link) Detach(ctx context.Context) error {
	s := l.session
	err := s.call(ctx, func() error {
		s.detachLink(l, ErrLinkClosed, nil)
		return nil
	})
	if err != nil {
		select {
		case <-l.detached:
		default:
			return err
		}
	}

	select {
	case <-l.detached:
	case <-ctx.Done():
		return ctx.Err()
	}
	if graceful(l.err) {
		return nil
	}
	return l.err
}
