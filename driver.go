package tgen

import (
	"fmt"
	"time"

	"golang.org/x/sys/unix"
)

// forwardPayload/forwardPeer queue entries, keyed by peer name, arrival
// time, and a once-sampled wait time. Driver owns both
// queues; they are plain forwardQueue values, not pointers, because the
// driver itself is already the single owner serialized on the loop.

// transferRecord is what the driver keeps per in-flight Transfer so its
// completion callback can resume graph traversal at the right vertex.
type transferRecord struct {
	transfer *Transfer
	fd       int
	action   *Action // nil for transfers initiated by an inbound accept
}

// pauseTimerRecord associates a registered one-shot pause timer with the
// action it must resume.
type pauseTimerRecord struct {
	timer  *Timer
	fd     int
	action Action
}

// Driver is the core single-threaded orchestrator: it walks
// the action graph, opens transports, drives transfers, and answers
// end-condition/heartbeat bookkeeping. All driver state is touched only
// from the event-loop goroutine that calls Activate.
type Driver struct {
	cfg   *Config
	graph *Graph

	startID     string
	startAction Action

	io     *Multiplexer
	server *Server

	transfers   map[int]*transferRecord
	pauseTimers map[int]*pauseTimerRecord
	timerFDs    map[int]func()

	forwardPeers    forwardQueue
	forwardPayloads forwardQueue

	chosenPeers *Pool

	globalTransferCounter uint64

	totalBytesRead        uint64
	totalBytesWritten     uint64
	totalTransfersSucceeded uint64
	totalTransfersFailed    uint64

	heartbeatBytesRead        int64
	heartbeatBytesWritten     int64
	heartbeatTransfersSucceeded int64
	heartbeatTransfersFailed    int64

	startTime      time.Time
	clientHasEnded bool
	serverHasEnded bool

	refcount int
}

// New builds a Driver over an already-loaded Graph. The graph's
// Start action supplies
// server port, peers, timeouts, and heartbeat cadence.
func New(graph *Graph, opts ...Option) (*Driver, error) {
	startID, startAction, err := graph.Start()
	if err != nil {
		return nil, err
	}
	if startAction.Start == nil {
		return nil, fmt.Errorf("%w: start action missing parameters", ErrGraphFailure)
	}

	cfg := applyConfig(opts)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if startAction.Start.SocksProxy != nil {
		cfg.socksProxy = startAction.Start.SocksProxy
	}

	io, err := NewMultiplexer(cfg.acceptPoll)
	if err != nil {
		return nil, err
	}

	d := &Driver{
		cfg:         cfg,
		graph:       graph,
		startID:     startID,
		startAction: startAction,
		io:          io,
		transfers:   make(map[int]*transferRecord),
		pauseTimers: make(map[int]*pauseTimerRecord),
		timerFDs:    make(map[int]func()),
		refcount:    1,
	}

	if err := d.startServer(); err != nil {
		d.io.Close()
		return nil, err
	}
	if err := d.setHeartbeatTimer(); err != nil {
		d.io.Close()
		return nil, err
	}
	if d.hasForwardingRole() {
		if err := d.setTransferHeartbeatTimer(); err != nil {
			d.io.Close()
			return nil, err
		}
	}
	if graph.HasEdges() {
		delay := startAction.Start.StartDelay
		if err := d.setStartClientTimer(delay); err != nil {
			d.io.Close()
			return nil, err
		}
	}

	return d, nil
}

func (d *Driver) hasForwardingRole() bool {
	switch d.startAction.Start.TransferType {
	case TransferForwardServe, TransferForwardReturn:
		return true
	default:
		return false
	}
}

func (d *Driver) startServer() error {
	port := d.startAction.Start.ServerPort
	if port == 0 {
		return nil
	}
	server, err := NewServer(port, d.onNewPeer, d.HasEnded)
	if err != nil {
		return err
	}
	fd, err := server.FD()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRegisterFailed, err)
	}
	if err := d.io.Register(fd, handlerServer, "server", unix.EPOLLIN, func(uint32) {
		_ = server.AcceptOnce()
	}); err != nil {
		return err
	}
	d.server = server
	return nil
}

// EpollDescriptor returns the real kernel epoll fd so a host process
// can embed the driver's readiness set.
func (d *Driver) EpollDescriptor() int { return d.io.EpollDescriptor() }

// HasEnded reports whether the client side has stopped initiating new
// outbound transfers.
func (d *Driver) HasEnded() bool { return d.clientHasEnded }

// ServerHasEnded reports whether the server side has also stopped
// accepting inbound work, which only happens when an End action's time
// threshold fires.
func (d *Driver) ServerHasEnded() bool { return d.serverHasEnded }

// Ref and Unref exist for API parity with the embedding contract
// an embedding host might expect. Go's garbage collector owns Driver
// lifetime, so these are bookkeeping only and never free anything
// themselves.
func (d *Driver) Ref()   { d.refcount++ }
func (d *Driver) Unref() { d.refcount-- }

// Activate runs exactly one iteration of the event loop.
func (d *Driver) Activate() error {
	if err := d.io.LoopOnce(); err != nil {
		return err
	}
	return nil
}

// --- graph traversal ---

func (d *Driver) process(action Action) {
	switch action.Kind {
	case ActionStart:
		d.continueNext(action)
	case ActionTransfer:
		d.initiateTransfer(action)
	case ActionEnd:
		d.checkEnd(action)
		d.continueNext(action)
	case ActionPause:
		d.handlePause(action)
	default:
		d.cfg.logger.WithFields(map[string]interface{}{"action": action.ID}).Warn("unrecognized action kind")
	}
}

func (d *Driver) continueNext(action Action) {
	if d.clientHasEnded {
		return
	}
	for _, next := range d.graph.Successors(action.ID) {
		d.process(next)
	}
}

// --- transfer initiation ---

func (d *Driver) resolvePeers(action Action) *Pool {
	peers := action.Transfer.Peers
	honorOverride := d.cfg.HonorPerActionPeersAfterSampling && peers != nil && peers.Len() > 0

	if peers == nil || peers.Len() == 0 {
		peers = d.startAction.Start.Peers
	}

	if d.chosenPeers != nil {
		if honorOverride {
			return action.Transfer.Peers
		}
		return d.chosenPeers
	}

	// Build chosenPeers once, memoized for the life of the driver
	// Later per-action peer overrides are ignored from here on unless
	// HonorPerActionPeersAfterSampling is set.
	shuffled := peers.Shuffled()
	n := int(d.startAction.Start.PercentServers * float64(len(shuffled)))
	if n <= 0 && d.cfg.ZeroPercentServersMeansFullPool {
		n = len(shuffled)
	}
	if n < 0 {
		n = 0
	}
	if n > len(shuffled) {
		n = len(shuffled)
	}
	d.chosenPeers = FromSlice(shuffled[:n])
	return d.chosenPeers
}

func (d *Driver) initiateTransfer(action Action) {
	peers := d.resolvePeers(action)

	var peer *Peer
	var outboundLabel string
	switch action.Transfer.Type {
	case TransferForwardReturn:
		p, ok := d.getForwardPeers(action)
		if !ok {
			return
		}
		peer = p
	case TransferForwardServe:
		entry, ok := d.forwardPayloads.peekHead()
		if !ok {
			return
		}
		if !entry.eligible(time.Now()) {
			return
		}
		if peers.Len() == 0 {
			return
		}
		label, ok := d.GetPayload()
		if !ok {
			return
		}
		outboundLabel = label
		peer = peers.Random()
	default:
		if peers.Len() == 0 {
			d.cfg.logger.Error("missing peers for transfer action; peers must be specified in either the start action or in every transfer action")
			return
		}
		peer = peers.Random()
	}

	transport, err := DialActive(d.cfg.ctx, peer, d.cfg.socksProxy, d.cfg.connectTimeout)
	if err != nil {
		d.cfg.logger.WithFields(map[string]interface{}{"peer": peer.String(), "error": err.Error()}).Warn("failed to initialize transport for transfer action, skipping")
		d.continueNext(action)
		return
	}
	transport.SetByteHook(d.onBytesTransferred)

	d.globalTransferCounter++
	act := action
	params := *act.Transfer
	params.Label = outboundLabel
	if params.Timeout <= 0 {
		params.Timeout = d.startAction.Start.DefaultTimeout
	}
	if params.Timeout <= 0 {
		params.Timeout = d.cfg.defaultTimeout
	}
	if params.Stallout <= 0 {
		params.Stallout = d.startAction.Start.DefaultStallout
	}
	if params.Stallout <= 0 {
		params.Stallout = d.cfg.defaultStallout
	}
	transfer := NewTransfer(act.ID, params, transport, func(t *Transfer, success bool) {
		d.onTransferComplete(t, &act, success)
	})

	if err := transfer.Start(); err != nil {
		d.cfg.logger.WithFields(map[string]interface{}{"error": err.Error()}).Warn("failed to start transfer")
		_ = transport.Close()
		d.continueNext(action)
		return
	}

	fd := transport.FD()
	if err := d.io.Register(fd, handlerTransport, act.ID, unix.EPOLLIN|unix.EPOLLOUT, func(events uint32) {
		d.onTransferEvent(fd, events)
	}); err != nil {
		d.cfg.logger.WithFields(map[string]interface{}{"error": err.Error()}).Warn("failed to register transfer for events")
		_ = transport.Close()
		d.continueNext(action)
		return
	}
	d.transfers[fd] = &transferRecord{transfer: transfer, fd: fd, action: &act}
}

func (d *Driver) onTransferEvent(fd int, events uint32) {
	rec, ok := d.transfers[fd]
	if !ok {
		return
	}
	if events&unix.EPOLLIN != 0 {
		_ = rec.transfer.OnReadable()
	}
	if !rec.transfer.completed && events&unix.EPOLLOUT != 0 {
		_ = rec.transfer.OnWritable(time.Now())
	}
}

// --- inbound accepts ---

func (d *Driver) onNewPeer(transport *Transport, peer *Peer) {
	transport.SetByteHook(d.onBytesTransferred)

	d.globalTransferCounter++
	timeout := d.startAction.Start.DefaultTimeout
	if timeout <= 0 {
		timeout = d.cfg.defaultTimeout
	}
	stallout := d.startAction.Start.DefaultStallout
	if stallout <= 0 {
		stallout = d.cfg.defaultStallout
	}
	role := d.startAction.Start.TransferType
	if peer != nil {
		d.cfg.logger.WithFields(map[string]interface{}{"peer": peer.String()}).Debug("accepted inbound connection")
	}
	transfer := NewTransfer("", TransferParams{
		Type:     TransferNone,
		Role:     role,
		Timeout:  timeout,
		Stallout: stallout,
		OnForwardIngress: func(peerLabel string, arrival time.Time) {
			switch role {
			case TransferForwardServe:
				_ = d.SetPayload(peerLabel, arrival)
			case TransferForwardReturn:
				_ = d.SetForwardPeer(peerLabel, arrival)
			}
		},
	}, transport, func(t *Transfer, success bool) {
		d.onTransferComplete(t, nil, success)
	})
	transfer.Accept()

	fd := transport.FD()
	if err := d.io.Register(fd, handlerTransport, "inbound", unix.EPOLLIN|unix.EPOLLOUT, func(events uint32) {
		d.onTransferEvent(fd, events)
	}); err != nil {
		d.cfg.logger.WithFields(map[string]interface{}{"error": err.Error()}).Warn("failed to register inbound transfer for events")
		_ = transport.Close()
		return
	}
	d.transfers[fd] = &transferRecord{transfer: transfer, fd: fd}
}

// --- completion / bookkeeping ---

func (d *Driver) onTransferComplete(t *Transfer, action *Action, success bool) {
	if success {
		d.heartbeatTransfersSucceeded++
		d.totalTransfersSucceeded++
		d.cfg.metrics.IncrementTransfersSucceeded()
		d.onTransferTypeComplete(d.startAction.Start.TransferType)
	} else {
		d.heartbeatTransfersFailed++
		d.totalTransfersFailed++
		d.cfg.metrics.IncrementTransfersFailed()
	}

	if t.transport != nil {
		_ = d.io.Unregister(t.transport.FD())
		_ = t.transport.Close()
		delete(d.transfers, t.transport.FD())
	}

	if action != nil {
		d.continueNext(*action)
	}
}

// onTransferTypeComplete is a per-transfer-type extension seam: each
// case is currently a no-op. It is unexported and the driver offers no
// exported completion hook, so code outside the package cannot observe
// or replace it.
func (d *Driver) onTransferTypeComplete(kind TransferType) {
	switch kind {
	case TransferForward:
	case TransferForwardServe:
		d.forwardPayloads.peekHead()
	case TransferForwardReturn:
	case TransferNone:
	}
}

func (d *Driver) onBytesTransferred(read, written int64) {
	d.totalBytesRead += uint64(read)
	d.totalBytesWritten += uint64(written)
	d.heartbeatBytesRead += read
	d.heartbeatBytesWritten += written
	d.cfg.metrics.IncrementBytesRead(read)
	d.cfg.metrics.IncrementBytesWritten(written)
}

// --- forwarding queues ---

// SetPayload enqueues a forwarding payload record and schedules the
// graph's client timer to wake at arrival+wait.
func (d *Driver) SetPayload(peerName string, arrival time.Time) error {
	wait := sampleWaitTime(d.startAction.Start.WaitTimePool, forwardRand)
	d.forwardPayloads.push(forwardEntry{peerName: peerName, arrival: arrival, wait: wait})
	return d.setStartClientTimer(d.wakeDelay(arrival, wait))
}

// SetForwardPeer enqueues a forwarding peer record, symmetric to
// SetPayload.
func (d *Driver) SetForwardPeer(peerName string, arrival time.Time) error {
	wait := sampleWaitTime(d.startAction.Start.WaitTimePool, forwardRand)
	d.forwardPeers.push(forwardEntry{peerName: peerName, arrival: arrival, wait: wait})
	return d.setStartClientTimer(d.wakeDelay(arrival, wait))
}

// wakeDelay resolves how far in the future to arm the client timer for
// a forwarding-queue entry. With StartClientTimerIsAbsolute (default
// true) the timer fires at the original arrival+wait deadline, matching
// the original's "timerTime = time + waitTime" scheduling convention.
// Disabling it instead restarts the wait relative to now every time a
// new entry is enqueued.
func (d *Driver) wakeDelay(arrival time.Time, wait time.Duration) time.Duration {
	if d.cfg.StartClientTimerIsAbsolute {
		return time.Until(arrival.Add(wait))
	}
	return wait
}

// GetPayload pops one forwarding payload and returns its peer name. Per
// Config.ForwardPayloadPopFromTail (default true) this pops the most
// recently enqueued entry from the tail, even though eligibility
// elsewhere is always checked at the head; with the flag off it pops
// the head. GetPayload itself does not check eligibility.
func (d *Driver) GetPayload() (string, bool) {
	var entry forwardEntry
	var ok bool
	if d.cfg.ForwardPayloadPopFromTail {
		entry, ok = d.forwardPayloads.popTail()
	} else {
		entry, ok = d.forwardPayloads.popHead()
	}
	if !ok {
		return "", false
	}
	return entry.peerName, true
}

// getForwardPeers consumes one eligible forwardPeers entry whose peer
// name matches a candidate in action's configured peer pool, matching
// the original's linear name-scan.
func (d *Driver) getForwardPeers(action Action) (*Peer, bool) {
	head, ok := d.forwardPeers.peekHead()
	if !ok || !head.eligible(time.Now()) {
		return nil, false
	}
	peers := action.Transfer.Peers
	if peers == nil {
		peers = d.startAction.Start.Peers
	}
	for i := 0; i < peers.Len(); i++ {
		candidate := peers.At(i)
		if candidate.Name == head.peerName {
			d.forwardPeers.popHead()
			return candidate, true
		}
	}
	return nil, false
}

// --- pause ---

func (d *Driver) handlePause(action Action) {
	if action.Pause.HasDuration {
		if err := d.initiatePause(action); err != nil {
			d.cfg.logger.WithFields(map[string]interface{}{"error": err.Error()}).Warn("failed to initialize timer for pause action, skipping")
			d.continueNext(action)
		}
		return
	}
	if action.Pause.IncrementVisited() {
		d.continueNext(action)
	}
}

func (d *Driver) initiatePause(action Action) error {
	timer, err := NewTimer(action.Pause.Duration, 0)
	if err != nil {
		return err
	}
	fd := timer.FD()
	act := action
	if err := d.io.Register(fd, handlerTimer, act.ID, unix.EPOLLIN, func(uint32) {
		d.onTimerFired(fd, func() {
			d.continueNext(act)
		})
	}); err != nil {
		timer.Close()
		return err
	}
	d.pauseTimers[fd] = &pauseTimerRecord{timer: timer, fd: fd, action: act}
	return nil
}

// --- end conditions ---

func (d *Driver) checkEnd(action Action) {
	size := action.End.Size
	count := action.End.Count
	endTime := action.End.Time

	totalBytes := d.totalBytesRead + d.totalBytesWritten
	now := time.Now()

	if size > 0 && totalBytes >= size {
		d.clientHasEnded = true
	} else if count > 0 && d.totalTransfersSucceeded >= count {
		d.clientHasEnded = true
	} else if endTime > 0 && now.Sub(d.startTime) >= endTime {
		d.clientHasEnded = true
		d.serverHasEnded = true
	}
}

// --- timers ---

func (d *Driver) onTimerFired(fd int, fire func()) {
	var timer *Timer
	if rec, ok := d.pauseTimers[fd]; ok {
		timer = rec.timer
		delete(d.pauseTimers, fd)
	}
	if timer != nil {
		_, _ = timer.ConsumeExpirations()
		_ = d.io.Unregister(fd)
		_ = timer.Close()
	}
	fire()
}

func (d *Driver) setStartClientTimer(delay time.Duration) error {
	if delay < 0 {
		delay = 0
	}
	timer, err := NewTimer(delay, 0)
	if err != nil {
		return err
	}
	fd := timer.FD()
	if err := d.io.Register(fd, handlerTimer, "start-client", unix.EPOLLIN, func(uint32) {
		d.onTimerFired(fd, d.onStartClientTimerExpired)
	}); err != nil {
		timer.Close()
		return err
	}
	d.pauseTimers[fd] = &pauseTimerRecord{timer: timer, fd: fd}
	return nil
}

func (d *Driver) onStartClientTimerExpired() {
	d.startTime = time.Now()
	d.cfg.logger.WithFields(map[string]interface{}{"graph": d.startID}).Info("starting client using action graph")
	d.continueNext(d.startAction)
}

func (d *Driver) setHeartbeatTimer() error {
	interval := d.startAction.Start.HeartbeatInterval
	if interval <= 0 {
		interval = d.cfg.heartbeatInterval
	}
	timer, err := NewTimer(interval, interval)
	if err != nil {
		return err
	}
	fd := timer.FD()
	if err := d.io.Register(fd, handlerTimer, "heartbeat", unix.EPOLLIN, func(uint32) {
		_, _ = timer.ConsumeExpirations()
		d.onHeartbeat()
	}); err != nil {
		timer.Close()
		return err
	}
	d.timerFDs[fd] = func() { _ = timer.Close() }
	return nil
}

func (d *Driver) onHeartbeat() {
	d.cfg.logger.WithFields(heartbeatFields(d.cfg.metrics,
		d.heartbeatBytesRead, d.heartbeatBytesWritten,
		d.heartbeatTransfersSucceeded, d.heartbeatTransfersFailed)).Info("driver-heartbeat")

	d.heartbeatBytesRead = 0
	d.heartbeatBytesWritten = 0
	d.heartbeatTransfersSucceeded = 0
	d.heartbeatTransfersFailed = 0

	d.checkTimeouts()
}

func (d *Driver) setTransferHeartbeatTimer() error {
	interval := d.cfg.transferHeartbeat
	timer, err := NewTimer(interval, interval)
	if err != nil {
		return err
	}
	fd := timer.FD()
	if err := d.io.Register(fd, handlerTimer, "transfer-heartbeat", unix.EPOLLIN, func(uint32) {
		_, _ = timer.ConsumeExpirations()
		d.onTransferHeartbeat()
	}); err != nil {
		timer.Close()
		return err
	}
	d.timerFDs[fd] = func() { _ = timer.Close() }
	return nil
}

func (d *Driver) onTransferHeartbeat() {
	d.process(d.startAction)
	d.checkTimeouts()
}

// checkTimeouts scans every in-flight transfer for a blown timeout or
// stallout deadline, matching the original's "tgenio_checkTimeouts"
// call from both heartbeat handlers.
func (d *Driver) checkTimeouts() {
	now := time.Now()
	for fd, rec := range d.transfers {
		if rec.transfer.CheckTimeout(now) {
			_ = d.io.Unregister(fd)
			_ = rec.transfer.transport.Close()
			delete(d.transfers, fd)
			if rec.action != nil {
				d.continueNext(*rec.action)
			}
		}
	}
}
