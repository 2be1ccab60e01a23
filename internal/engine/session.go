package engine

import (
	"fmt"
	"math"

	"github.com/israelio/amqp10-go-client/internal/protocol"
	"github.com/israelio/amqp10-go-client/internal/util"
)

// SessionState represents the state of a session endpoint
type SessionState int

const (
	SessionUnmapped SessionState = iota
	SessionBeginSent
	SessionBeginReceived
	SessionMapped
	SessionEndSent
	SessionEndReceived
)

// String returns a string representation of the state
func (s SessionState) String() string {
	switch s {
	case SessionUnmapped:
		return "unmapped"
	case SessionBeginSent:
		return "begin-sent"
	case SessionBeginReceived:
		return "begin-rcvd"
	case SessionMapped:
		return "mapped"
	case SessionEndSent:
		return "end-sent"
	case SessionEndReceived:
		return "end-rcvd"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// SessionConfig holds the local window and handle limits of a session
type SessionConfig struct {
	IncomingWindow uint32
	OutgoingWindow uint32
	HandleMax      uint32
}

// DefaultSessionConfig returns the limits used when none are configured
func DefaultSessionConfig() SessionConfig {
	return SessionConfig{
		IncomingWindow: 5000,
		OutgoingWindow: math.MaxUint32,
		HandleMax:      protocol.DefaultHandleMax,
	}
}

// Session is the session endpoint state machine. It owns the delivery-id
// sequence and both transfer windows, and maps handles to links.
type Session struct {
	Channel          uint16
	RemoteChannel    uint16
	HasRemoteChannel bool
	State            SessionState
	Config           SessionConfig

	NextOutgoingID       uint32
	NextIncomingID       uint32
	IncomingWindow       uint32
	OutgoingWindow       uint32
	RemoteIncomingWindow uint32
	RemoteOutgoingWindow uint32
	RemoteHandleMax      uint32

	LocalError  *protocol.Error
	RemoteError *protocol.Error

	ended   bool
	handles *util.IntAllocator

	links       map[uint32]*Link // by local handle
	remoteLinks map[uint32]*Link // by remote handle
	byName      map[string]*Link

	// delivery-id back-references; the links are owned by the maps above
	outgoing map[uint32]*Link
	incoming map[uint32]*Link
}

// NewSession creates a session endpoint bound to a local channel
func NewSession(channel uint16, cfg SessionConfig) *Session {
	if cfg.IncomingWindow == 0 {
		cfg.IncomingWindow = DefaultSessionConfig().IncomingWindow
	}
	if cfg.OutgoingWindow == 0 {
		cfg.OutgoingWindow = math.MaxUint32
	}
	return &Session{
		Channel:        channel,
		State:          SessionUnmapped,
		Config:         cfg,
		IncomingWindow: cfg.IncomingWindow,
		OutgoingWindow: cfg.OutgoingWindow,
		handles:        util.NewIntAllocator(0, cfg.HandleMax),
		links:          make(map[uint32]*Link),
		remoteLinks:    make(map[uint32]*Link),
		byName:         make(map[string]*Link),
		outgoing:       make(map[uint32]*Link),
		incoming:       make(map[uint32]*Link),
	}
}

// Begin builds the Begin performative for this endpoint
func (s *Session) Begin() *protocol.Begin {
	b := &protocol.Begin{
		NextOutgoingID: s.NextOutgoingID,
		IncomingWindow: s.IncomingWindow,
		OutgoingWindow: s.OutgoingWindow,
		HandleMax:      s.Config.HandleMax,
	}
	if s.HasRemoteChannel {
		ch := s.RemoteChannel
		b.RemoteChannel = &ch
	}
	return b
}

// BeginSent records the local Begin
func (s *Session) BeginSent() error {
	switch s.State {
	case SessionUnmapped:
		if s.ended {
			return violation(ScopeSession, protocol.ErrCondIllegalState, "begin on ended session")
		}
		s.State = SessionBeginSent
	case SessionBeginReceived:
		s.State = SessionMapped
	default:
		return violation(ScopeSession, protocol.ErrCondIllegalState, "begin sent in state %s", s.State)
	}
	return nil
}

// BeginReceived records the peer's Begin arriving on remoteChannel
func (s *Session) BeginReceived(b *protocol.Begin, remoteChannel uint16) error {
	switch s.State {
	case SessionUnmapped:
		s.State = SessionBeginReceived
	case SessionBeginSent:
		s.State = SessionMapped
	default:
		return violation(ScopeConnection, protocol.ErrCondIllegalState, "begin received on channel %d in state %s", remoteChannel, s.State)
	}
	s.RemoteChannel = remoteChannel
	s.HasRemoteChannel = true
	s.NextIncomingID = b.NextOutgoingID
	s.RemoteIncomingWindow = b.IncomingWindow
	s.RemoteOutgoingWindow = b.OutgoingWindow
	s.RemoteHandleMax = b.HandleMax
	s.handles = util.NewIntAllocator(0, min(s.Config.HandleMax, b.HandleMax))
	return nil
}

// Mapped reports whether both Begins have been exchanged
func (s *Session) Mapped() bool {
	return s.State == SessionMapped
}

// End builds the End performative for this endpoint
func (s *Session) End(err *protocol.Error) *protocol.End {
	return &protocol.End{Error: err}
}

// EndSent records the local End
func (s *Session) EndSent(err *protocol.Error) error {
	switch s.State {
	case SessionMapped, SessionBeginSent, SessionBeginReceived:
		s.State = SessionEndSent
	case SessionEndReceived:
		s.State = SessionUnmapped
		s.ended = true
	default:
		return violation(ScopeSession, protocol.ErrCondIllegalState, "end sent in state %s", s.State)
	}
	s.LocalError = err
	return nil
}

// EndReceived records the peer's End
func (s *Session) EndReceived(e *protocol.End) error {
	switch s.State {
	case SessionMapped, SessionBeginSent:
		s.State = SessionEndReceived
	case SessionEndSent:
		s.State = SessionUnmapped
		s.ended = true
	default:
		return violation(ScopeConnection, protocol.ErrCondIllegalState, "end received in state %s", s.State)
	}
	s.RemoteError = e.Error
	return nil
}

// Ended reports whether both Ends have been exchanged
func (s *Session) Ended() bool {
	return s.ended
}

// ForceDetachAll detaches every link without exchanging performatives and
// returns them. Called when the session ends.
func (s *Session) ForceDetachAll() []*Link {
	detached := make([]*Link, 0, len(s.byName))
	for _, l := range s.byName {
		if !l.Detached() {
			l.ForceDetach(protocol.NewError(protocol.ErrCondDetachForced, "session ended"))
		}
		detached = append(detached, l)
	}
	clear(s.links)
	clear(s.remoteLinks)
	clear(s.byName)
	clear(s.outgoing)
	clear(s.incoming)
	return detached
}

// Attach creates a local link, or claims a peer-initiated link waiting under
// the same name, and returns it with the Attach to send
func (s *Session) Attach(cfg LinkConfig) (*Link, *protocol.Attach, error) {
	if !s.Mapped() {
		return nil, nil, ErrSessionNotMapped
	}
	if l, ok := s.byName[cfg.Name]; ok {
		if l.State != LinkAttachReceived || l.Role != cfg.Role {
			return nil, nil, fmt.Errorf("%w: %q", ErrDuplicateLinkName, cfg.Name)
		}
		a, err := s.Claim(l, cfg)
		return l, a, err
	}

	handle, ok := s.handles.Allocate()
	if !ok {
		return nil, nil, ErrHandlesExhausted
	}
	l := NewLink(cfg)
	l.Handle = handle
	a := l.Attach()
	if err := l.AttachSent(a); err != nil {
		s.handles.Free(handle)
		return nil, nil, err
	}
	s.links[handle] = l
	s.byName[l.Name] = l
	return l, a, nil
}

// Claim completes a peer-initiated link with local parameters and returns
// the response Attach
func (s *Session) Claim(l *Link, cfg LinkConfig) (*protocol.Attach, error) {
	if l.State != LinkAttachReceived {
		return nil, violation(ScopeLink, protocol.ErrCondIllegalState, "claim link %q in state %s", l.Name, l.State)
	}
	handle, ok := s.handles.Allocate()
	if !ok {
		return nil, ErrHandlesExhausted
	}
	l.Claim(cfg)
	l.Handle = handle
	a := l.Attach()
	if err := l.AttachSent(a); err != nil {
		s.handles.Free(handle)
		return nil, err
	}
	s.links[handle] = l
	return a, nil
}

// Refuse answers a peer-initiated link with a null terminus; the caller
// must follow with a Detach
func (s *Session) Refuse(l *Link) (*protocol.Attach, error) {
	handle, ok := s.handles.Allocate()
	if !ok {
		return nil, ErrHandlesExhausted
	}
	l.Handle = handle
	if l.IsSender() {
		l.Target = nil
	} else {
		l.Source = nil
	}
	a := l.Attach()
	if err := l.AttachSent(a); err != nil {
		s.handles.Free(handle)
		return nil, err
	}
	s.links[handle] = l
	return a, nil
}

// AttachReceived routes a peer Attach to the link awaiting it, or creates a
// peer-initiated link in the attach-received state
func (s *Session) AttachReceived(a *protocol.Attach) (*Link, error) {
	if a.Handle > s.Config.HandleMax {
		return nil, violation(ScopeSession, protocol.ErrCondResourceLimitExceeded, "handle %d above handle-max %d", a.Handle, s.Config.HandleMax)
	}
	if _, ok := s.remoteLinks[a.Handle]; ok {
		return nil, violation(ScopeSession, protocol.ErrCondHandleInUse, "handle %d already attached", a.Handle)
	}

	if l, ok := s.byName[a.Name]; ok {
		if l.State != LinkAttachSent {
			return nil, violation(ScopeSession, protocol.ErrCondNotAllowed, "link name %q already attached", a.Name)
		}
		if err := l.AttachReceived(a); err != nil {
			return l, err
		}
		s.remoteLinks[a.Handle] = l
		return l, nil
	}

	l := newRemoteLink(a)
	if err := l.AttachReceived(a); err != nil {
		return nil, err
	}
	s.remoteLinks[a.Handle] = l
	s.byName[l.Name] = l
	return l, nil
}

// LinkByRemoteHandle resolves a handle chosen by the peer
func (s *Session) LinkByRemoteHandle(handle uint32) (*Link, error) {
	l, ok := s.remoteLinks[handle]
	if !ok {
		return nil, violation(ScopeSession, protocol.ErrCondUnattachedHandle, "no link attached on handle %d", handle)
	}
	return l, nil
}

// LinkByName returns a link by name
func (s *Session) LinkByName(name string) (*Link, bool) {
	l, ok := s.byName[name]
	return l, ok
}

// Links returns the number of links known to the session
func (s *Session) Links() int {
	return len(s.byName)
}

// DetachSent records the local Detach of a link
func (s *Session) DetachSent(l *Link, err *protocol.Error) (*protocol.Detach, error) {
	if err := l.DetachSent(err); err != nil {
		return nil, err
	}
	d := l.Detach(err)
	if l.Detached() {
		s.release(l)
	}
	return d, nil
}

// DetachReceived records a peer Detach and returns the link it names
func (s *Session) DetachReceived(d *protocol.Detach) (*Link, error) {
	l, err := s.LinkByRemoteHandle(d.Handle)
	if err != nil {
		return nil, err
	}
	if err := l.DetachReceived(d); err != nil {
		return l, err
	}
	if l.Detached() {
		s.release(l)
	}
	return l, nil
}

// release frees the handles of a fully detached link
func (s *Session) release(l *Link) {
	if cur, ok := s.links[l.Handle]; ok && cur == l {
		delete(s.links, l.Handle)
		s.handles.Free(l.Handle)
	}
	if l.HasRemoteHandle {
		if cur, ok := s.remoteLinks[l.RemoteHandle]; ok && cur == l {
			delete(s.remoteLinks, l.RemoteHandle)
		}
	}
	if cur, ok := s.byName[l.Name]; ok && cur == l {
		delete(s.byName, l.Name)
	}
	for _, id := range l.Unsettled.IDs() {
		delete(s.outgoing, id)
		delete(s.incoming, id)
	}
	l.Unsettled.Clear()
}

// CanSendTransfer reports whether the peer's incoming window admits a frame
func (s *Session) CanSendTransfer() bool {
	return s.Mapped() && s.RemoteIncomingWindow > 0
}

// StartDelivery consumes link credit and allocates the delivery-id for a
// new outgoing delivery. Unsettled deliveries are tracked until the peer
// settles them.
func (s *Session) StartDelivery(l *Link, tag []byte, settled bool) (uint32, error) {
	if !l.Attached() {
		return 0, ErrLinkNotAttached
	}
	if !s.CanSendTransfer() {
		return 0, ErrWindowClosed
	}
	if err := l.ConsumeCredit(); err != nil {
		return 0, err
	}
	id := s.NextOutgoingID
	s.NextOutgoingID++
	if !settled {
		s.outgoing[id] = l
		l.Unsettled.Add(&Delivery{ID: id, Tag: tag})
	}
	return id, nil
}

// TransferFrameSent accounts for one outgoing transfer frame
func (s *Session) TransferFrameSent() error {
	if s.RemoteIncomingWindow == 0 {
		return ErrWindowClosed
	}
	s.RemoteIncomingWindow--
	return nil
}

// TransferReceived accounts for an inbound transfer frame and hands it to
// the link. The delivery is returned once its last frame arrives.
func (s *Session) TransferReceived(t *protocol.Transfer, payload []byte) (*Link, *Partial, error) {
	if s.IncomingWindow == 0 {
		return nil, nil, violation(ScopeSession, protocol.ErrCondWindowViolation, "transfer with incoming window closed")
	}
	l, err := s.LinkByRemoteHandle(t.Handle)
	if err != nil {
		return nil, nil, err
	}
	if l.IsSender() {
		return l, nil, violation(ScopeLink, protocol.ErrCondNotAllowed, "transfer received on sender link %q", l.Name)
	}
	if !l.Attached() {
		// transfers racing our Detach are dropped
		s.IncomingWindow--
		return l, nil, nil
	}
	if l.IsFirstTransfer(t) {
		if t.DeliveryID == nil {
			return l, nil, violation(ScopeLink, protocol.ErrCondInvalidField, "first transfer of a delivery without delivery-id")
		}
	}
	s.IncomingWindow--

	p, err := l.ReceiverTransfer(t, payload)
	if err != nil || p == nil {
		return l, nil, err
	}
	s.NextIncomingID = p.ID + 1
	if !p.Settled {
		s.incoming[p.ID] = l
	}
	return l, p, nil
}

// FlowReceived applies a peer Flow and returns the link it addresses, if any
func (s *Session) FlowReceived(f *protocol.Flow) (*Link, error) {
	next := uint32(0)
	if f.NextIncomingID != nil {
		next = *f.NextIncomingID
	}
	s.RemoteIncomingWindow = next + f.IncomingWindow - s.NextOutgoingID
	s.RemoteOutgoingWindow = f.OutgoingWindow

	if f.Handle == nil {
		return nil, nil
	}
	l, err := s.LinkByRemoteHandle(*f.Handle)
	if err != nil {
		return nil, err
	}
	if l.IsSender() {
		l.SenderFlow(f)
	} else {
		l.ReceiverFlow(f)
	}
	return l, nil
}

// SessionFlow builds a Flow carrying only session state
func (s *Session) SessionFlow() *protocol.Flow {
	next := s.NextIncomingID
	return &protocol.Flow{
		NextIncomingID: &next,
		IncomingWindow: s.IncomingWindow,
		NextOutgoingID: s.NextOutgoingID,
		OutgoingWindow: s.OutgoingWindow,
	}
}

// LinkFlow builds a Flow carrying session state and the link's flow state
func (s *Session) LinkFlow(l *Link, echo bool) *protocol.Flow {
	f := s.SessionFlow()
	handle, count, credit, avail := l.Handle, l.DeliveryCount, l.Credit, l.Available
	f.Handle = &handle
	f.DeliveryCount = &count
	f.LinkCredit = &credit
	f.Available = &avail
	f.Drain = l.Drain
	f.Echo = echo
	return f
}

// NeedsWindowUpdate reports whether the incoming window dropped below half
func (s *Session) NeedsWindowUpdate() bool {
	return s.IncomingWindow < s.Config.IncomingWindow/2
}

// RestoreWindow reopens the incoming window to its configured size
func (s *Session) RestoreWindow() {
	s.IncomingWindow = s.Config.IncomingWindow
}

// DispositionResult is the effect of a peer Disposition on one delivery
type DispositionResult struct {
	Link    *Link
	ID      uint32
	State   protocol.DeliveryState
	Settled bool
}

// DispositionReceived resolves a peer Disposition against the deliveries it
// covers. Ids that match no tracked delivery are counted and skipped.
func (s *Session) DispositionReceived(d *protocol.Disposition) ([]DispositionResult, int) {
	// a disposition from the receiver addresses deliveries we sent
	refs := s.incoming
	if d.Role == protocol.RoleReceiver {
		refs = s.outgoing
	}
	first, last := d.First, d.LastID()

	var ids []uint32
	if span := uint64(last-first) + 1; span > uint64(len(refs)) {
		for id := range refs {
			if inRange(id, first, last) {
				ids = append(ids, id)
			}
		}
	} else {
		for id := first; ; id++ {
			if _, ok := refs[id]; ok {
				ids = append(ids, id)
			}
			if id == last {
				break
			}
		}
	}

	known := 0
	results := make([]DispositionResult, 0, len(ids))
	for _, id := range ids {
		l := refs[id]
		rec, ok := l.Unsettled.Get(id)
		if !ok {
			continue
		}
		known++
		if d.State != nil {
			rec.State = d.State
		}
		if d.Settled {
			delete(refs, id)
			l.Unsettled.Settle(id)
		}
		results = append(results, DispositionResult{Link: l, ID: id, State: d.State, Settled: d.Settled})
	}

	span := uint64(last-first) + 1
	return results, int(span - uint64(known))
}

// Settle records a local settlement of a delivery on a link. Settling an
// id that is not tracked returns ErrAlreadySettled.
func (s *Session) Settle(l *Link, id uint32) error {
	if _, ok := l.Unsettled.Settle(id); !ok {
		return ErrAlreadySettled
	}
	if l.IsSender() {
		delete(s.outgoing, id)
	} else {
		delete(s.incoming, id)
	}
	return nil
}

// Disposition builds a Disposition for a single delivery of a link
func (s *Session) Disposition(l *Link, id uint32, settled bool, state protocol.DeliveryState) *protocol.Disposition {
	if rec, ok := l.Unsettled.Get(id); ok && state != nil {
		rec.State = state
		rec.Settled = settled
	}
	return &protocol.Disposition{
		Role:    l.Role,
		First:   id,
		Settled: settled,
		State:   state,
	}
}

// Unsettled returns the number of deliveries tracked by the session
func (s *Session) Unsettled() int {
	return len(s.outgoing) + len(s.incoming)
}

// inRange reports whether id lies in [first, last] using serial number
// arithmetic so ranges may wrap
func inRange(id, first, last uint32) bool {
	return id-first <= last-first
}
