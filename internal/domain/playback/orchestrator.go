package playback

import (
	"context"
	"sync"

	"chatvoice/internal/domain/chat"
	"chatvoice/internal/domain/eventbus"
	"chatvoice/internal/platform/logging"
)

// Mode is the orchestrator's playback mode.
type Mode int

const (
	ModeOff Mode = iota
	ModeSingle
	ModeGlobal
)

func (m Mode) String() string {
	switch m {
	case ModeSingle:
		return "single"
	case ModeGlobal:
		return "global"
	default:
		return "off"
	}
}

func (m Mode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// Resolver makes a message's audio available.
type Resolver interface {
	Ensure(ctx context.Context, messageID, text, userID string) ([]byte, bool)
}

// Player is the engine surface the orchestrator drives.
type Player interface {
	Start(ctx context.Context, req StartRequest) error
	Pause()
	Resume()
	Stop()
	Session() Session
}

// Cursor tracks "play all" progress over a snapshot of the conversation.
type Cursor struct {
	Active   bool           `json:"active"`
	Index    int            `json:"index"`
	Messages []chat.Message `json:"messages"`
}

// Snapshot is the orchestrator's externally visible state.
type Snapshot struct {
	Mode      Mode    `json:"mode"`
	MessageID string  `json:"messageId,omitempty"`
	Cursor    Cursor  `json:"cursor"`
	Session   Session `json:"session"`
}

// OrchestratorConfig wires an Orchestrator. Player and Resolver are required.
type OrchestratorConfig struct {
	Player   Player
	Resolver Resolver
	Bus      eventbus.Bus
	Logger   *logging.Logger
	UserID   string
}

// Orchestrator decides what plays in response to user actions: a click on
// one message, "play all", or anything that cancels playback. Every unit of
// work runs under a run context; starting new work or cancelling bumps the
// run so late callbacks from older work are ignored.
type Orchestrator struct {
	player   Player
	resolver Resolver
	bus      eventbus.Bus
	logger   *logging.Logger

	mu        sync.Mutex
	userID    string
	mode      Mode
	single    string
	cursor    Cursor
	run       uint64
	runCancel context.CancelFunc
}

func NewOrchestrator(cfg OrchestratorConfig) *Orchestrator {
	if cfg.Logger == nil {
		cfg.Logger = logging.NewDiscard()
	}
	return &Orchestrator{
		player:   cfg.Player,
		resolver: cfg.Resolver,
		bus:      cfg.Bus,
		logger:   cfg.Logger,
		userID:   cfg.UserID,
	}
}

// SetUserID changes the user id sent with synthesis requests.
func (o *Orchestrator) SetUserID(id string) {
	o.mu.Lock()
	o.userID = id
	o.mu.Unlock()
}

// Snapshot returns mode, cursor and engine session.
func (o *Orchestrator) Snapshot() Snapshot {
	o.mu.Lock()
	snap := Snapshot{
		Mode:      o.mode,
		MessageID: o.single,
		Cursor: Cursor{
			Active:   o.cursor.Active,
			Index:    o.cursor.Index,
			Messages: append([]chat.Message(nil), o.cursor.Messages...),
		},
	}
	if o.mode == ModeGlobal && o.cursor.Index < len(o.cursor.Messages) {
		snap.MessageID = o.cursor.Messages[o.cursor.Index].ID
	}
	o.mu.Unlock()
	snap.Session = o.player.Session()
	return snap
}

// Toggle handles a click on msg.
func (o *Orchestrator) Toggle(ctx context.Context, msg chat.Message) {
	o.mu.Lock()

	if o.mode == ModeGlobal {
		idx := indexOf(o.cursor.Messages, msg.ID)
		switch {
		case idx == o.cursor.Index:
			o.logger.InfoTag(logTag, "skipping %s", msg.ID)
			o.repointLocked(idx + 1)
			return
		case idx >= 0:
			o.logger.InfoTag(logTag, "jumping to %s", msg.ID)
			o.repointLocked(idx)
			return
		default:
			o.logger.InfoTag(logTag, "%s is outside the play-all snapshot, leaving play-all", msg.ID)
			o.cursor.Active = false
		}
	}

	if o.mode == ModeSingle && o.single == msg.ID {
		session := o.player.Session()
		o.mu.Unlock()
		if session.ActiveMessageID != msg.ID {
			// still resolving or loading
			return
		}
		switch session.State {
		case StatePlaying:
			o.player.Pause()
		case StatePaused:
			o.player.Resume()
		}
		return
	}

	runCtx, run := o.newRunLocked()
	o.mode = ModeSingle
	o.single = msg.ID
	userID := o.userID
	o.mu.Unlock()

	o.player.Stop()
	o.publishMode()
	go o.playSingle(runCtx, run, msg, userID)
}

// PlayAll plays every finished AI reply in messages, in order. It is a no-op
// when nothing is playable or play-all is already running.
func (o *Orchestrator) PlayAll(ctx context.Context, messages []chat.Message) {
	playable := chat.FilterPlayable(messages)

	o.mu.Lock()
	if o.mode == ModeGlobal {
		o.mu.Unlock()
		return
	}
	if len(playable) == 0 {
		o.mu.Unlock()
		o.logger.InfoTag(logTag, "play all: no AI messages to play")
		return
	}
	runCtx, run := o.newRunLocked()
	o.mode = ModeGlobal
	o.single = ""
	o.cursor = Cursor{Active: true, Index: 0, Messages: playable}
	o.mu.Unlock()

	o.logger.InfoTag(logTag, "play all: %d messages", len(playable))
	o.player.Stop()
	o.publishMode()
	go o.playFrom(runCtx, run, 0)
}

// StopAll ends play-all. It does nothing in other modes.
func (o *Orchestrator) StopAll() {
	o.mu.Lock()
	if o.mode != ModeGlobal {
		o.mu.Unlock()
		return
	}
	o.offLocked()
	o.mu.Unlock()

	o.player.Stop()
	o.publishMode()
}

// Cancel stops everything: play-all, single playback and pending
// resolutions. Used on session switch and when the user sends a message.
func (o *Orchestrator) Cancel(reason string) {
	o.mu.Lock()
	wasOff := o.mode == ModeOff
	o.offLocked()
	o.mu.Unlock()

	if !wasOff {
		o.logger.InfoTag(logTag, "playback cancelled: %s", reason)
	}
	o.player.Stop()
	o.publishMode()
}

// Stop halts whatever is playing.
func (o *Orchestrator) Stop() {
	o.Cancel("stop requested")
}

// Close cancels all work.
func (o *Orchestrator) Close() {
	o.Cancel("shutdown")
}

func (o *Orchestrator) newRunLocked() (context.Context, uint64) {
	if o.runCancel != nil {
		o.runCancel()
	}
	ctx, cancel := context.WithCancel(context.Background())
	o.run++
	o.runCancel = cancel
	return ctx, o.run
}

func (o *Orchestrator) offLocked() {
	if o.runCancel != nil {
		o.runCancel()
		o.runCancel = nil
	}
	o.run++
	o.mode = ModeOff
	o.single = ""
	o.cursor.Active = false
}

// repointLocked restarts play-all at index i. It unlocks o.mu.
func (o *Orchestrator) repointLocked(i int) {
	runCtx, run := o.newRunLocked()
	o.cursor.Index = i
	o.mu.Unlock()

	o.player.Stop()
	go o.playFrom(runCtx, run, i)
}

func (o *Orchestrator) current(run uint64) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.run == run
}

func (o *Orchestrator) playSingle(ctx context.Context, run uint64, msg chat.Message, userID string) {
	audio, ok := o.resolver.Ensure(ctx, msg.ID, msg.Text, userID)
	if !ok {
		o.logger.WarnTag(logTag, "no audio for %s", msg.ID)
		o.singleDone(run)
		return
	}
	if !o.current(run) {
		return
	}

	done := func() { o.singleDone(run) }
	err := o.player.Start(ctx, StartRequest{
		MessageID:  msg.ID,
		Text:       msg.Text,
		Audio:      audio,
		OnComplete: done,
		OnError:    func(error) { done() },
	})
	if err != nil {
		if ctx.Err() == nil {
			o.logger.WarnTag(logTag, "could not play %s: %v", msg.ID, err)
		}
		o.singleDone(run)
	}
}

func (o *Orchestrator) singleDone(run uint64) {
	o.mu.Lock()
	if o.run != run || o.mode != ModeSingle {
		o.mu.Unlock()
		return
	}
	o.offLocked()
	o.mu.Unlock()
	o.publishMode()
}

// playFrom plays the snapshot from index i, skipping messages whose audio
// cannot be resolved or loaded. The next step is scheduled from the engine's
// completion callback.
func (o *Orchestrator) playFrom(ctx context.Context, run uint64, i int) {
	for {
		o.mu.Lock()
		if o.run != run || !o.cursor.Active {
			o.mu.Unlock()
			return
		}
		if i >= len(o.cursor.Messages) {
			o.logger.InfoTag(logTag, "play all finished")
			o.offLocked()
			o.mu.Unlock()
			o.publishMode()
			return
		}
		o.cursor.Index = i
		msg := o.cursor.Messages[i]
		userID := o.userID
		o.mu.Unlock()
		o.publishMode()

		audio, ok := o.resolver.Ensure(ctx, msg.ID, msg.Text, userID)
		if ctx.Err() != nil || !o.current(run) {
			return
		}
		if !ok {
			o.logger.WarnTag(logTag, "skipping %s: no audio", msg.ID)
			i++
			continue
		}

		next := i + 1
		var once sync.Once
		advance := func() {
			once.Do(func() {
				go o.playFrom(ctx, run, next)
			})
		}
		err := o.player.Start(ctx, StartRequest{
			MessageID:  msg.ID,
			Text:       msg.Text,
			Audio:      audio,
			OnComplete: advance,
			OnError: func(err error) {
				o.logger.WarnTag(logTag, "playback of %s failed, moving on: %v", msg.ID, err)
				advance()
			},
		})
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			o.logger.WarnTag(logTag, "skipping %s: %v", msg.ID, err)
			i++
			continue
		}
		return
	}
}

func (o *Orchestrator) publishMode() {
	if o.bus == nil {
		return
	}
	o.mu.Lock()
	data := eventbus.ModeData{Mode: o.mode.String(), Total: len(o.cursor.Messages)}
	switch o.mode {
	case ModeSingle:
		data.MessageID = o.single
	case ModeGlobal:
		data.Index = o.cursor.Index
		if o.cursor.Index < len(o.cursor.Messages) {
			data.MessageID = o.cursor.Messages[o.cursor.Index].ID
		}
	}
	o.mu.Unlock()
	o.bus.Publish(eventbus.EventPlaybackMode, data)
}

func indexOf(messages []chat.Message, id string) int {
	for i, m := range messages {
		if m.ID == id {
			return i
		}
	}
	return -1
}
