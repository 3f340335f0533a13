// Package call pairs, bridges, and tears down internal extension-to-extension
// calls driven by the ARI event stream.
package call

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/Jywan/PBX/internal/ari"
	"github.com/Jywan/PBX/internal/database/models"
	"github.com/google/uuid"
)

// Event types the state machine reacts to. Everything else only feeds the
// audit log and the channel/bridge indices.
const (
	eventStasisStart          = "StasisStart"
	eventChannelHangupRequest = "ChannelHangupRequest"
	eventChannelDestroyed     = "ChannelDestroyed"
)

// roleCallee marks the second leg entering the stasis app as the result of
// an originate; its app args are ["callee", "<exten>"].
const roleCallee = "callee"

const (
	originateCallerID   = "ARI"
	originateTimeoutSec = 30
	bridgeType          = "mixing"
)

// Engine is the subset of the ARI REST surface the service drives.
type Engine interface {
	Originate(ctx context.Context, req ari.OriginateRequest) (string, error)
	CreateBridge(ctx context.Context, name, bridgeType string) (string, error)
	AddChannelToBridge(ctx context.Context, bridgeID, channelID string) error
	HangupChannel(ctx context.Context, channelID string) error
	DestroyBridge(ctx context.Context, bridgeID string) error
}

// Recorder persists calls and their raw events. Implemented by
// database.CallRepository.
type Recorder interface {
	EnsureCall(ctx context.Context, id uuid.UUID, callerExten, calleeExten, callerChannelID *string) error
	AddEvent(ctx context.Context, ev *models.CallEvent) error
	MarkBridged(ctx context.Context, id uuid.UUID, bridgeID, callerChannelID, calleeChannelID string) error
	MarkFailed(ctx context.Context, id uuid.UUID, reason string) error
	MarkEnded(ctx context.Context, id uuid.UUID, endedAt *time.Time, cause *int, reason *string) error
}

// session is the in-memory state of one live call. Sessions are owned
// exclusively by the service's session table.
type session struct {
	callID        uuid.UUID
	targetExten   string
	callerChannel string
	calleeChannel string
	bridgeID      string
	bridged       bool
	done          bool
}

// Service is the stateful call-control core. One mutex serializes all
// access to the four indices; REST and database I/O happen outside it.
type Service struct {
	engine Engine
	rec    Recorder

	mu              sync.Mutex
	sessions        map[uuid.UUID]*session
	pendingByExten  map[string][]uuid.UUID // FIFO of calls awaiting their callee leg
	channelToCall   map[string]uuid.UUID
	channelToBridge map[string]string

	bridges sync.WaitGroup
}

// NewService creates the call service.
func NewService(engine Engine, rec Recorder) *Service {
	return &Service{
		engine:          engine,
		rec:             rec,
		sessions:        make(map[uuid.UUID]*session),
		pendingByExten:  make(map[string][]uuid.UUID),
		channelToCall:   make(map[string]uuid.UUID),
		channelToBridge: make(map[string]string),
	}
}

// HandleEvent processes one event from the socket. It never returns an
// error: persistence and REST failures are logged, and the reader loop must
// not die from a single bad event.
func (s *Service) HandleEvent(ctx context.Context, ev ari.ParsedEvent) error {
	if ev.Type == "" {
		return nil
	}

	// StasisStart is handled before the event is persisted so the channel
	// mapping exists when the row is annotated.
	if ev.Type == eventStasisStart {
		s.handleStasisStart(ctx, ev)
	}

	if ev.BridgeID != "" && ev.ChannelID != "" {
		s.mu.Lock()
		s.channelToBridge[ev.ChannelID] = ev.BridgeID
		s.mu.Unlock()
	}

	s.recordEvent(ctx, ev)

	switch ev.Type {
	case eventChannelHangupRequest, eventChannelDestroyed:
		s.handleHangup(ctx, ev)
	}
	return nil
}

// recordEvent appends the event to the audit log, annotated with whatever
// call and bridge the channel currently maps to.
func (s *Service) recordEvent(ctx context.Context, ev ari.ParsedEvent) {
	row := &models.CallEvent{
		TS:  parseTimestamp(ev.Timestamp),
		Raw: string(ev.Raw),
	}
	if ev.Type != "" {
		t := ev.Type
		row.Type = &t
	}
	if ev.ChannelID != "" {
		ch := ev.ChannelID
		row.ChannelID = &ch

		s.mu.Lock()
		if id, ok := s.channelToCall[ev.ChannelID]; ok {
			callID := id
			row.CallID = &callID
		}
		if b, ok := s.channelToBridge[ev.ChannelID]; ok {
			bridgeID := b
			row.BridgeID = &bridgeID
		}
		s.mu.Unlock()
	}

	if err := s.rec.AddEvent(ctx, row); err != nil {
		slog.Error("recording event failed", "type", ev.Type, "channel_id", ev.ChannelID, "error", err)
	}
}

// handleStasisStart discriminates the two roles of StasisStart: the callee
// leg produced by a prior originate, and a fresh caller dialing an
// extension.
func (s *Service) handleStasisStart(ctx context.Context, ev ari.ParsedEvent) {
	if ev.ChannelID == "" || len(ev.AppArgs) == 0 {
		return
	}

	if ev.AppArgs[0] == roleCallee {
		if len(ev.AppArgs) < 2 {
			slog.Warn("callee stasis start without extension", "channel_id", ev.ChannelID)
			return
		}
		s.attachCallee(ev.AppArgs[1], ev.ChannelID)
		return
	}

	s.startCall(ctx, ev.AppArgs[0], ev)
}

// attachCallee pairs an arriving callee leg with the oldest caller waiting
// on its extension and schedules the bridge task.
func (s *Service) attachCallee(exten, channelID string) {
	s.mu.Lock()

	q := s.pendingByExten[exten]
	if len(q) == 0 {
		s.mu.Unlock()
		slog.Info("orphan callee, no waiting caller", "exten", exten, "channel_id", channelID)
		return
	}

	callID := q[0]
	if rest := q[1:]; len(rest) == 0 {
		delete(s.pendingByExten, exten)
	} else {
		s.pendingByExten[exten] = rest
	}

	sess := s.sessions[callID]
	if sess == nil || sess.done {
		s.mu.Unlock()
		return
	}

	sess.calleeChannel = channelID
	s.channelToCall[channelID] = callID
	caller := sess.callerChannel
	s.mu.Unlock()

	s.bridges.Add(1)
	go func() {
		defer s.bridges.Done()
		s.bridgePair(callID, caller, channelID)
	}()
}

// startCall registers a fresh caller session, persists the call row, and
// originates the callee leg.
func (s *Service) startCall(ctx context.Context, target string, ev ari.ParsedEvent) {
	s.mu.Lock()
	if _, ok := s.channelToCall[ev.ChannelID]; ok {
		// Duplicate StasisStart for a channel already tracked.
		s.mu.Unlock()
		return
	}

	callID := uuid.New()
	sess := &session{
		callID:        callID,
		targetExten:   target,
		callerChannel: ev.ChannelID,
	}
	s.sessions[callID] = sess
	s.channelToCall[ev.ChannelID] = callID
	s.pendingByExten[target] = append(s.pendingByExten[target], callID)
	s.mu.Unlock()

	var callerExten *string
	if exten := callerExtenFromName(ev.ChannelName); exten != "" {
		callerExten = &exten
	}

	if err := s.rec.EnsureCall(ctx, callID, callerExten, &target, &ev.ChannelID); err != nil {
		slog.Error("creating call row failed", "call_id", callID, "error", err)
	}

	slog.Info("caller entered stasis",
		"call_id", callID,
		"caller_channel_id", ev.ChannelID,
		"dialed_exten", target,
	)

	calleeChannel, err := s.engine.Originate(ctx, ari.OriginateRequest{
		Endpoint:   "PJSIP/" + target,
		AppArgs:    roleCallee + "," + target,
		CallerID:   originateCallerID,
		TimeoutSec: originateTimeoutSec,
	})
	if err != nil {
		// The caller channel is left alone; the engine emits its own hangup
		// when the caller gives up.
		slog.Error("originate failed", "call_id", callID, "exten", target, "error", err)
		reason := err.Error()
		if err := s.rec.MarkEnded(ctx, callID, nil, nil, &reason); err != nil {
			slog.Error("marking call ended failed", "call_id", callID, "error", err)
		}
		s.mu.Lock()
		s.cleanupLocked(callID)
		s.mu.Unlock()
		return
	}

	slog.Info("originated callee leg",
		"call_id", callID,
		"exten", target,
		"callee_channel_id", calleeChannel,
	)
}

// bridgePair runs once per paired call: create a mixing bridge, add both
// legs, and record the bridged state. The session may terminate concurrently
// at any point, so liveness is re-checked under the mutex around each step.
func (s *Service) bridgePair(callID uuid.UUID, caller, callee string) {
	ctx := context.Background()

	s.mu.Lock()
	sess := s.sessions[callID]
	if sess == nil || sess.done || sess.bridged {
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	name := "call-" + callID.String()[:8]
	bridgeID, err := s.engine.CreateBridge(ctx, name, bridgeType)
	if err != nil {
		s.failBridge(ctx, callID, err)
		return
	}

	// Record the bridge on the session before adding channels so a
	// concurrent termination tears down partial state.
	s.mu.Lock()
	if sess := s.sessions[callID]; sess != nil {
		sess.bridgeID = bridgeID
	}
	s.mu.Unlock()

	if err := s.engine.AddChannelToBridge(ctx, bridgeID, caller); err != nil {
		s.failBridge(ctx, callID, err)
		return
	}
	if err := s.engine.AddChannelToBridge(ctx, bridgeID, callee); err != nil {
		s.failBridge(ctx, callID, err)
		return
	}

	s.mu.Lock()
	bridged := false
	if sess := s.sessions[callID]; sess != nil && !sess.done {
		sess.bridged = true
		bridged = true
		s.channelToBridge[caller] = bridgeID
		s.channelToBridge[callee] = bridgeID
	}
	s.mu.Unlock()

	if !bridged {
		// Terminated while the bridge was being set up; teardown already
		// handled or in flight.
		return
	}

	if err := s.rec.MarkBridged(ctx, callID, bridgeID, caller, callee); err != nil {
		slog.Error("marking call bridged failed", "call_id", callID, "error", err)
	}

	slog.Info("call bridged", "call_id", callID, "bridge_id", bridgeID)
}

// failBridge records the failure and tears the call down.
func (s *Service) failBridge(ctx context.Context, callID uuid.UUID, err error) {
	slog.Error("bridge setup failed", "call_id", callID, "error", err)

	if err2 := s.rec.MarkFailed(ctx, callID, err.Error()); err2 != nil {
		slog.Error("marking call failed failed", "call_id", callID, "error", err2)
	}
	s.terminate(ctx, callID)
}

// handleHangup reacts to ChannelHangupRequest / ChannelDestroyed: persist
// the terminal state with the engine's cause, then terminate.
func (s *Service) handleHangup(ctx context.Context, ev ari.ParsedEvent) {
	if ev.ChannelID == "" {
		return
	}

	s.mu.Lock()
	callID, ok := s.channelToCall[ev.ChannelID]
	s.mu.Unlock()
	if !ok {
		return
	}

	endedAt := parseTimestamp(ev.Timestamp)
	reason := ev.CauseText
	if reason == "" {
		reason = ev.Type
	}

	if err := s.rec.MarkEnded(ctx, callID, endedAt, ev.Cause, &reason); err != nil {
		slog.Error("marking call ended failed", "call_id", callID, "error", err)
	}

	s.terminate(ctx, callID)
}

// terminate is the idempotent teardown of one call: flag the session done,
// best-effort hangup of both legs and bridge destruction, then index
// cleanup. Callers persist the terminal status before invoking it.
func (s *Service) terminate(ctx context.Context, callID uuid.UUID) {
	s.mu.Lock()
	sess := s.sessions[callID]
	if sess == nil || sess.done {
		s.mu.Unlock()
		return
	}
	sess.done = true
	caller := sess.callerChannel
	callee := sess.calleeChannel
	bridgeID := sess.bridgeID
	s.mu.Unlock()

	// Best-effort REST teardown. "Already gone" is success at the client;
	// anything else is logged and swallowed so memory cleanup always runs.
	if caller != "" {
		if err := s.engine.HangupChannel(ctx, caller); err != nil {
			slog.Warn("hangup of caller leg failed", "call_id", callID, "channel_id", caller, "error", err)
		}
	}
	if callee != "" {
		if err := s.engine.HangupChannel(ctx, callee); err != nil {
			slog.Warn("hangup of callee leg failed", "call_id", callID, "channel_id", callee, "error", err)
		}
	}
	if bridgeID != "" {
		if err := s.engine.DestroyBridge(ctx, bridgeID); err != nil {
			slog.Warn("bridge destroy failed", "call_id", callID, "bridge_id", bridgeID, "error", err)
		}
	}

	s.mu.Lock()
	s.cleanupLocked(callID)
	s.mu.Unlock()

	slog.Info("call terminated", "call_id", callID)
}

// cleanupLocked removes every trace of the call from the four indices.
// Caller holds the mutex.
func (s *Service) cleanupLocked(callID uuid.UUID) {
	sess := s.sessions[callID]
	if sess == nil {
		return
	}
	delete(s.sessions, callID)

	if q, ok := s.pendingByExten[sess.targetExten]; ok {
		kept := q[:0]
		for _, id := range q {
			if id != callID {
				kept = append(kept, id)
			}
		}
		if len(kept) == 0 {
			delete(s.pendingByExten, sess.targetExten)
		} else {
			s.pendingByExten[sess.targetExten] = kept
		}
	}

	if sess.callerChannel != "" {
		delete(s.channelToCall, sess.callerChannel)
		delete(s.channelToBridge, sess.callerChannel)
	}
	if sess.calleeChannel != "" {
		delete(s.channelToCall, sess.calleeChannel)
		delete(s.channelToBridge, sess.calleeChannel)
	}
}

// Wait blocks until all in-flight bridge tasks have finished. Used during
// shutdown after the reader loop has exited.
func (s *Service) Wait() {
	s.bridges.Wait()
}

// ActiveSessionCount returns the number of live sessions.
func (s *Service) ActiveSessionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// PendingCallerCount returns the number of callers still waiting for their
// callee leg, across all extensions.
func (s *Service) PendingCallerCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, q := range s.pendingByExten {
		n += len(q)
	}
	return n
}

// callerExtenFromName derives the caller's extension from a channel name of
// the form "PJSIP/<exten>-<suffix>". Returns "" when the name does not
// match.
func callerExtenFromName(name string) string {
	slash := strings.Index(name, "/")
	if slash < 0 {
		return ""
	}
	rest := name[slash+1:]
	dash := strings.Index(rest, "-")
	if dash < 0 {
		return ""
	}
	return rest[:dash]
}
