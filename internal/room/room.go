// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package room implements the Room: the per-playlist playback state
// machine that owns device sockets, the current song, the queue view,
// targeting modes, and ping/pong clock-skew estimation. A Room is the
// single playback authority for its playlist; every attached device is
// driven toward the Room's view, never the other way around.
package room

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/jukebox-room/corectl/internal/jukebox"
	"github.com/jukebox-room/corectl/internal/log"
	"github.com/jukebox-room/corectl/internal/metrics"
	"github.com/jukebox-room/corectl/internal/normalize"
)

// ErrInvalidTransition is returned when a command would move the Room
// into a forbidden state, e.g. selecting a song that is not yet
// playable.
var ErrInvalidTransition = errors.New("room: invalid playback transition")

// ErrDeviceNotFound is returned by operations addressing a deviceID
// that is not a member of the Room.
var ErrDeviceNotFound = errors.New("room: device not found")

// Command action names accepted by HandleCommand.
const (
	ActionPlay           = "play"
	ActionPause          = "pause"
	ActionToggle         = "toggle"
	ActionSkip           = "skip"
	ActionSeek           = "seek"
	ActionSetVolume      = "setVolume"
	ActionToggleMute     = "toggleMute"
	ActionRate           = "rate"
	ActionSelectSong     = "selectSong"
	ActionSyncAll        = "syncAll"
	ActionResetToDefault = "resetToDefault"
)

// Config tunes the Room's timers. Zero values take the defaults noted
// per field.
type Config struct {
	SyncBroadcastThrottle time.Duration // default 1s
	SyncPriorityWindow    time.Duration // default 500ms
	PostSeekSuppression   time.Duration // default 500ms
	SongEndedDebounce     time.Duration // default 1s
	PreloadLeadTime       time.Duration // default 500ms, used for nextSong.startAt
	Now                   func() time.Time
}

func (c *Config) setDefaults() {
	if c.SyncBroadcastThrottle <= 0 {
		c.SyncBroadcastThrottle = time.Second
	}
	if c.SyncPriorityWindow <= 0 {
		c.SyncPriorityWindow = 500 * time.Millisecond
	}
	if c.PostSeekSuppression <= 0 {
		c.PostSeekSuppression = 500 * time.Millisecond
	}
	if c.SongEndedDebounce <= 0 {
		c.SongEndedDebounce = time.Second
	}
	if c.PreloadLeadTime <= 0 {
		c.PreloadLeadTime = 500 * time.Millisecond
	}
	if c.Now == nil {
		c.Now = time.Now
	}
}

// Callbacks are plain function handles the Manager injects into a
// Room at construction time. Rooms never hold a back-reference to the
// Manager, so disposing the Manager never has a cycle to untangle.
type Callbacks struct {
	// MarkPlayed is invoked once a song is advanced past, naturally or
	// via skip/selectSong.
	MarkPlayed func(ctx context.Context, songID string)
	// ReportPosition is invoked whenever the Room's current song
	// changes, so the playlist's currentOrderIndex can be persisted.
	ReportPosition func(ctx context.Context, playlistID string, orderIndex float64)
}

// Room is the in-memory playback authority for one playlist. All
// mutating methods are serialized by mu; the Room behaves as a
// single-writer actor and outbound sends happen under that lock.
type Room struct {
	ID          string
	Name        string
	PlaylistKey string

	cfg       Config
	callbacks Callbacks

	mu            sync.Mutex
	playlistID    string
	playlistEpoch int64

	playback jukebox.PlaybackState
	queue    []jukebox.Song

	devices map[string]*jukebox.Device

	songEndedHandledUntil time.Time
	lastStateBroadcastAt  time.Time
	syncPriorityUntil     time.Time
	lastSeekAt            time.Time

	pendingTrailingBroadcast bool
	trailingTimer            *time.Timer

	lastQueueHash string

	disposed bool
}

// New constructs a Room bound to playlistKey for its lifetime; the
// key never changes once set.
func New(id, name, playlistKey string, cfg Config, callbacks Callbacks) *Room {
	cfg.setDefaults()
	return &Room{
		ID:          id,
		Name:        name,
		PlaylistKey: playlistKey,
		cfg:         cfg,
		callbacks:   callbacks,
		devices:     make(map[string]*jukebox.Device),
		playback:    jukebox.PlaybackState{Volume: 1.0},
	}
}

// AddDevice adds d with mode=default, sends it current state, queue,
// and, if it is a player, a nextSong hint, then broadcasts state to
// the whole room.
func (r *Room) AddDevice(ctx context.Context, d jukebox.Device) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.disposed {
		return
	}

	d.Mode = jukebox.ModeDefault
	r.devices[d.ID] = &d

	r.sendStateLocked(d.ID)
	r.sendQueueLocked(d.ID)
	if d.Role == jukebox.RolePlayer {
		r.sendCurrentSongHintLocked(d.ID)
	}
	r.broadcastStateLocked()
}

// RemoveDevice removes deviceID and broadcasts state.
func (r *Room) RemoveDevice(ctx context.Context, deviceID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.disposed {
		return
	}
	if _, ok := r.devices[deviceID]; !ok {
		return
	}
	delete(r.devices, deviceID)
	r.broadcastStateLocked()
}

// SetDeviceRole updates deviceID's role; if it becomes a player it is
// immediately sent a nextSong hint.
func (r *Room) SetDeviceRole(ctx context.Context, deviceID string, role jukebox.DeviceRole) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.devices[deviceID]
	if !ok {
		return ErrDeviceNotFound
	}
	d.Role = role
	if role == jukebox.RolePlayer {
		r.sendCurrentSongHintLocked(deviceID)
	}
	return nil
}

// UpdateQueue replaces the queue snapshot and updates the playlist
// epoch. If the Room is idle and the new queue contains a playable
// song, it auto-starts via the idle-start policy and returns
// seededFromIdle plus the selected song's OrderIndex, so the caller
// can prime upstream generation with runway songs.
func (r *Room) UpdateQueue(ctx context.Context, songs []jukebox.Song, epoch int64) (seededFromIdle bool, seededSongOrderIndex float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.disposed {
		return false, 0
	}

	sorted := append([]jukebox.Song(nil), songs...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].OrderIndex < sorted[j].OrderIndex })
	r.queue = sorted
	r.playlistEpoch = epoch

	if r.playback.CurrentSongID == "" {
		if s, ok := pickIdleStart(r.queue, r.playlistEpoch); ok {
			r.setCurrentSongLocked(ctx, s)
			r.playback.IsPlaying = true
			seededFromIdle = true
			seededSongOrderIndex = s.OrderIndex
		}
	} else if !r.currentSongStillValidLocked() {
		// The current song fell out of the queue or lost its audio;
		// stop rather than broadcast an invariant-violating state.
		r.stopPlaybackLocked()
	}

	r.broadcastQueueLocked()
	r.sendPreloadToAllPlayersLocked()
	r.broadcastStateLocked()
	return seededFromIdle, seededSongOrderIndex
}

// HandleCommand mutates playback state and/or fans out to devices.
// Commands with a targetDeviceID address a single device and move it
// into individual mode; room-wide commands go to every default-mode
// player.
func (r *Room) HandleCommand(ctx context.Context, deviceID, action string, payload json.RawMessage, targetDeviceID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.disposed {
		return nil
	}

	if targetDeviceID != "" {
		return r.handleTargetedCommandLocked(ctx, action, payload, targetDeviceID)
	}

	switch action {
	case ActionPlay:
		r.playback.IsPlaying = true
		r.raiseSyncPriorityLocked()
		r.broadcastExecuteLocked(ActionPlay, payload)
	case ActionPause:
		r.playback.IsPlaying = false
		r.raiseSyncPriorityLocked()
		r.broadcastExecuteLocked(ActionPause, payload)
	case ActionToggle:
		r.playback.IsPlaying = !r.playback.IsPlaying
		r.raiseSyncPriorityLocked()
		if r.playback.IsPlaying {
			r.broadcastExecuteLocked(ActionPlay, payload)
		} else {
			r.broadcastExecuteLocked(ActionPause, payload)
		}
	case ActionSkip:
		r.advanceLocked(ctx)
	case ActionSeek:
		var p struct {
			Time float64 `json:"time"`
		}
		_ = json.Unmarshal(payload, &p)
		r.playback.CurrentTime = p.Time
		r.lastSeekAt = r.cfg.Now()
		r.raiseSyncPriorityLocked()
		r.broadcastExecuteLocked(ActionSeek, payload)
	case ActionSetVolume:
		var p struct {
			Volume float64 `json:"volume"`
		}
		_ = json.Unmarshal(payload, &p)
		r.playback.Volume = p.Volume
		r.broadcastExecuteLocked(ActionSetVolume, payload)
	case ActionToggleMute:
		r.playback.IsMuted = !r.playback.IsMuted
		r.broadcastExecuteLocked(ActionToggleMute, payload)
	case ActionRate:
		r.broadcastExecuteLocked(ActionRate, payload)
	case ActionSelectSong:
		var p struct {
			SongID string `json:"songId"`
		}
		_ = json.Unmarshal(payload, &p)
		if err := r.selectSongLocked(ctx, p.SongID); err != nil {
			return err
		}
		r.broadcastExecuteLocked(ActionSelectSong, payload)
	case ActionSyncAll:
		r.syncAllLocked()
		return nil
	default:
		return nil
	}
	r.broadcastStateLocked()
	return nil
}

func (r *Room) handleTargetedCommandLocked(ctx context.Context, action string, payload json.RawMessage, targetDeviceID string) error {
	d, ok := r.devices[targetDeviceID]
	if !ok {
		return ErrDeviceNotFound
	}

	if action == ActionResetToDefault {
		d.Mode = jukebox.ModeDefault
		r.sendStateLocked(targetDeviceID)
		r.broadcastStateLocked()
		return nil
	}

	switch action {
	case ActionPlay, ActionPause, ActionToggle, ActionSetVolume, ActionToggleMute:
		d.Mode = jukebox.ModeIndividual
		log.AuditInfo(ctx, "room.targeted_command", "device moved to individual mode", map[string]any{
			log.FieldRoomID:   r.ID,
			log.FieldDeviceID: targetDeviceID,
			"action":          action,
		})
		r.sendExecuteLocked(targetDeviceID, action, payload)
	default:
		return nil
	}
	return nil
}

// HandleSync updates currentTime/duration from a player's sync
// report. It never sets isPlaying: that field is set only by
// HandleCommand, so a browser autoplay block on one player cannot
// flip the whole room to paused. Broadcasts are throttled to one per
// SyncBroadcastThrottle unless syncPriorityUntil is open.
func (r *Room) HandleSync(ctx context.Context, deviceID, currentSongID string, reportedIsPlaying bool, currentTime, duration float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.disposed {
		return
	}
	_ = reportedIsPlaying // authority rule: never applied to playback.IsPlaying

	now := r.cfg.Now()
	if now.After(r.lastSeekAt.Add(r.cfg.PostSeekSuppression)) {
		r.playback.CurrentTime = currentTime
	}
	r.playback.Duration = duration
	if currentSongID != "" {
		r.playback.CurrentSongID = currentSongID
	}

	if now.Before(r.syncPriorityUntil) {
		r.syncPriorityUntil = time.Time{} // consumed
		r.broadcastStateLocked()
		return
	}

	if now.Sub(r.lastStateBroadcastAt) >= r.cfg.SyncBroadcastThrottle {
		r.broadcastStateLocked()
		return
	}
	r.scheduleTrailingBroadcastLocked()
}

// HandleSongEnded advances to the next song or stops at end-of-queue,
// debounced by SongEndedDebounce to absorb duplicate reports from
// multiple player devices observing the same natural end.
func (r *Room) HandleSongEnded(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.disposed {
		return
	}
	now := r.cfg.Now()
	if now.Before(r.songEndedHandledUntil) {
		return
	}
	r.songEndedHandledUntil = now.Add(r.cfg.SongEndedDebounce)
	r.advanceLocked(ctx)
	r.broadcastStateLocked()
}

// HandlePing responds with (pong, clientTime, serverTime) for
// clock-skew estimation; it does not mutate playback state.
func (r *Room) HandlePing(ctx context.Context, deviceID string, clientTime int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.devices[deviceID]
	if !ok {
		return
	}
	now := r.cfg.Now()
	r.send(d, ServerMessage{Kind: ServerPong, ClientTime: clientTime, ServerTime: now.UnixMilli()})
}

// Dispose stops any scheduled trailing-broadcast timer. Safe to call once.
func (r *Room) Dispose() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.disposed {
		return
	}
	r.disposed = true
	if r.trailingTimer != nil {
		r.trailingTimer.Stop()
		r.trailingTimer = nil
	}
}

// BindPlaylist records the resolved playlistId. The binding is lazy:
// the Room never resolves or persists it itself.
func (r *Room) BindPlaylist(playlistID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.playlistID = playlistID
}

// PlaylistID returns the Room's currently bound playlist id, if any.
func (r *Room) PlaylistID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.playlistID
}

// Snapshot returns a copy of the Room's playback state and queue, for
// the /now-playing HTTP surface.
func (r *Room) Snapshot() (jukebox.PlaybackState, []jukebox.Song) {
	r.mu.Lock()
	defer r.mu.Unlock()
	queueCopy := append([]jukebox.Song(nil), r.queue...)
	return r.playback, queueCopy
}

// DeviceCount returns the number of devices currently attached, for
// the `GET /house/sessions` HTTP surface.
func (r *Room) DeviceCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.devices)
}

// --- internal, mu must already be held ---

func (r *Room) currentSongLocked() (jukebox.Song, bool) {
	for _, s := range r.queue {
		if s.ID == r.playback.CurrentSongID {
			return s, true
		}
	}
	return jukebox.Song{}, false
}

func (r *Room) currentSongStillValidLocked() bool {
	s, ok := r.currentSongLocked()
	return ok && s.Playable()
}

func (r *Room) setCurrentSongLocked(ctx context.Context, s jukebox.Song) {
	r.playback.CurrentSongID = s.ID
	r.playback.CurrentTime = 0
	r.playback.Duration = s.AudioDuration
	if r.callbacks.ReportPosition != nil && r.playlistID != "" {
		r.callbacks.ReportPosition(ctx, r.playlistID, s.OrderIndex)
	}
	r.sendPreloadToAllPlayersLocked()
}

func (r *Room) stopPlaybackLocked() {
	r.playback.CurrentSongID = ""
	r.playback.IsPlaying = false
	r.playback.CurrentTime = 0
	r.playback.Duration = 0
}

func (r *Room) advanceLocked(ctx context.Context) {
	prevID := r.playback.CurrentSongID
	prevOrderIndex := -math.MaxFloat64
	if s, ok := r.currentSongLocked(); ok {
		prevOrderIndex = s.OrderIndex
	}
	if prevID != "" && r.callbacks.MarkPlayed != nil {
		r.callbacks.MarkPlayed(ctx, prevID)
	}
	if next, ok := pickNextSong(r.queue, prevID, r.playlistEpoch, prevOrderIndex); ok {
		r.setCurrentSongLocked(ctx, next)
		r.playback.IsPlaying = true
	} else {
		r.stopPlaybackLocked()
	}
}

func (r *Room) selectSongLocked(ctx context.Context, songID string) error {
	for _, s := range r.queue {
		if s.ID == songID {
			if !s.Playable() {
				return ErrInvalidTransition
			}
			prevID := r.playback.CurrentSongID
			if prevID != "" && prevID != songID && r.callbacks.MarkPlayed != nil {
				r.callbacks.MarkPlayed(ctx, prevID)
			}
			r.setCurrentSongLocked(ctx, s)
			r.playback.IsPlaying = true
			return nil
		}
	}
	return ErrInvalidTransition
}

func (r *Room) raiseSyncPriorityLocked() {
	r.syncPriorityUntil = r.cfg.Now().Add(r.cfg.SyncPriorityWindow)
}

// syncAllLocked returns every player to default mode and re-sends the
// authoritative state and queue to every device.
func (r *Room) syncAllLocked() {
	for _, d := range r.devices {
		if d.Role == jukebox.RolePlayer {
			d.Mode = jukebox.ModeDefault
		}
	}
	for id := range r.devices {
		r.sendStateLocked(id)
		r.sendQueueLocked(id)
	}
}

func (r *Room) scheduleTrailingBroadcastLocked() {
	if r.pendingTrailingBroadcast {
		return
	}
	r.pendingTrailingBroadcast = true
	remaining := r.cfg.SyncBroadcastThrottle - r.cfg.Now().Sub(r.lastStateBroadcastAt)
	if remaining < 0 {
		remaining = 0
	}
	r.trailingTimer = time.AfterFunc(remaining, func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.pendingTrailingBroadcast = false
		if r.disposed {
			return
		}
		r.broadcastStateLocked()
	})
}

func (r *Room) deviceViewsLocked() []DeviceView {
	views := make([]DeviceView, 0, len(r.devices))
	for _, d := range r.devices {
		views = append(views, DeviceView{ID: d.ID, Name: d.Name, Role: d.Role, Mode: d.Mode})
	}
	sort.Slice(views, func(i, j int) bool { return views[i].ID < views[j].ID })
	return views
}

func (r *Room) stateMessageLocked() ServerMessage {
	playback := r.playback
	msg := ServerMessage{Kind: ServerState, Playback: &playback, Devices: r.deviceViewsLocked()}
	if s, ok := r.currentSongLocked(); ok {
		msg.CurrentSong = &s
	}
	return msg
}

func (r *Room) sendStateLocked(deviceID string) {
	d, ok := r.devices[deviceID]
	if !ok {
		return
	}
	r.send(d, r.stateMessageLocked())
}

// pruneClosedDevicesLocked drops devices whose socket has already
// closed, so a broadcast never addresses a dead connection.
func (r *Room) pruneClosedDevicesLocked() {
	for id, d := range r.devices {
		if d.Socket == nil || d.Socket.Closed() {
			delete(r.devices, id)
		}
	}
}

// broadcastStateLocked sends state to every device in the room,
// regardless of mode or role; only the execute broadcast respects
// role/mode targeting.
func (r *Room) broadcastStateLocked() {
	r.pruneClosedDevicesLocked()
	r.lastStateBroadcastAt = r.cfg.Now()
	msg := r.stateMessageLocked()
	for _, d := range r.devices {
		r.send(d, msg)
	}
}

func (r *Room) queueMessageLocked() ServerMessage {
	return ServerMessage{Kind: ServerQueue, Songs: append([]jukebox.Song(nil), r.queue...)}
}

func (r *Room) sendQueueLocked(deviceID string) {
	d, ok := r.devices[deviceID]
	if !ok {
		return
	}
	r.send(d, r.queueMessageLocked())
}

// broadcastQueueLocked sends the queue snapshot only when it actually
// changed since the last broadcast, so a no-op UpdateQueue call (the
// Room Event Sync refresh loop polls on every relevant event, not just
// ones that changed the queue) does not spam every connected device.
func (r *Room) broadcastQueueLocked() {
	r.pruneClosedDevicesLocked()
	hash, err := normalize.Hash(r.queue)
	if err == nil && hash == r.lastQueueHash && r.lastQueueHash != "" {
		return
	}
	if err == nil {
		r.lastQueueHash = hash
	}
	msg := r.queueMessageLocked()
	for _, d := range r.devices {
		r.send(d, msg)
	}
}

// sendCurrentSongHintLocked sends a newly-joined (or newly-promoted)
// player the `nextSong` hint for the song currently playing, so it can
// begin loading audio it has not seen before. It is distinct from the
// `preload` hint: this one names the *current* song, not the upcoming
// one.
func (r *Room) sendCurrentSongHintLocked(deviceID string) {
	d, ok := r.devices[deviceID]
	if !ok || d.Role != jukebox.RolePlayer {
		return
	}
	s, ok := r.currentSongLocked()
	if !ok {
		return
	}
	r.send(d, ServerMessage{
		Kind:     ServerNextSong,
		SongID:   s.ID,
		AudioURL: s.AudioURL,
		StartAt:  r.cfg.Now().Add(r.cfg.PreloadLeadTime).UnixMilli(),
	})
}

// sendPreloadLocked sends deviceID a `preload` hint for the song that
// will follow the current one, so a player can start buffering ahead
// of songEnded.
func (r *Room) sendPreloadLocked(deviceID string) {
	d, ok := r.devices[deviceID]
	if !ok || d.Role != jukebox.RolePlayer {
		return
	}
	prevOrderIndex := -math.MaxFloat64
	if s, ok := r.currentSongLocked(); ok {
		prevOrderIndex = s.OrderIndex
	}
	next, ok := pickNextSong(r.queue, r.playback.CurrentSongID, r.playlistEpoch, prevOrderIndex)
	if !ok {
		return
	}
	r.send(d, ServerMessage{Kind: ServerPreload, SongID: next.ID, AudioURL: next.AudioURL})
}

func (r *Room) sendPreloadToAllPlayersLocked() {
	for id, d := range r.devices {
		if d.Role == jukebox.RolePlayer {
			r.sendPreloadLocked(id)
		}
	}
}

// broadcastExecuteLocked sends the execute broadcast only to devices
// with role=player and an open socket, excluding individual-mode
// devices.
func (r *Room) broadcastExecuteLocked(action string, payload json.RawMessage) {
	msg := ServerMessage{Kind: ServerExecute, Action: action, Payload: payload, Scope: ScopeRoom}
	for _, d := range r.devices {
		if d.Role != jukebox.RolePlayer || d.Mode != jukebox.ModeDefault {
			continue
		}
		r.send(d, msg)
	}
}

func (r *Room) sendExecuteLocked(deviceID, action string, payload json.RawMessage) {
	d, ok := r.devices[deviceID]
	if !ok {
		return
	}
	r.send(d, ServerMessage{Kind: ServerExecute, Action: action, Payload: payload, Scope: ScopeDevice})
}

func (r *Room) send(d *jukebox.Device, msg ServerMessage) {
	if d.Socket == nil || d.Socket.Closed() {
		metrics.RecordRoomSendDropped("socket_closed")
		return
	}
	data, err := json.Marshal(msg)
	if err != nil {
		metrics.RecordRoomSendDropped("marshal_error")
		return
	}
	if err := d.Socket.Send(data); err != nil {
		metrics.RecordRoomSendDropped("send_error")
		logger := log.WithComponent("room")
		logger.Warn().
			Str(log.FieldRoomID, r.ID).
			Str(log.FieldDeviceID, d.ID).
			Err(err).
			Msg("room: device send failed")
		return
	}
	metrics.RecordRoomBroadcast(msg.Kind)
}
