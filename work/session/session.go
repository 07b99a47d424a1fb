package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/puzpuzpuz/xsync/v3"

	"kptv-catchup/work/catalog"
	"kptv-catchup/work/catchup"
	"kptv-catchup/work/config"
	"kptv-catchup/work/logger"
	"kptv-catchup/work/metrics"
	"kptv-catchup/work/types"
	"kptv-catchup/work/utils"
)

// Inspector resolves stream types that cannot be derived statically.
type Inspector interface {
	Inspect(ctx context.Context, url string, channel *types.Channel) types.StreamType
}

// Playback is what the player needs to start or resume a stream.
type Playback struct {
	SessionID  string                 `json:"sessionId"`
	ChannelUID int                    `json:"channelUid"`
	URL        string                 `json:"url"`
	StreamType string                 `json:"streamType"`
	Properties []types.StreamProperty `json:"properties"`
	State      catchup.State          `json:"state"`
}

// Session is one playback of one channel. A session owns its controller;
// every call on it is serialized by mu.
type Session struct {
	ID        string
	CreatedAt time.Time

	mu         sync.Mutex
	channel    types.Channel
	controller *catchup.Controller
	streamType types.StreamType
}

// Manager keeps the open sessions.
type Manager struct {
	cfg       *config.Config
	catalog   *catalog.Store
	inspector Inspector
	now       func() time.Time
	sessions  *xsync.MapOf[string, *Session]
}

// NewManager creates a session registry reading channels and guide data
// from store. inspector may be nil, in which case unknown streams stay
// unclassified.
func NewManager(cfg *config.Config, store *catalog.Store, inspector Inspector) *Manager {
	return &Manager{
		cfg:       cfg,
		catalog:   store,
		inspector: inspector,
		now:       time.Now,
		sessions:  xsync.NewMapOf[string, *Session](),
	}
}

// SetClock replaces the wall clock handed to new controllers.
func (m *Manager) SetClock(now func() time.Time) {
	m.now = now
}

// Count is the number of open sessions.
func (m *Manager) Count() int {
	return m.sessions.Size()
}

// Get returns an open session.
func (m *Manager) Get(id string) (*Session, bool) {
	return m.sessions.Load(id)
}

// StartLive opens a session for live playback of the channel with unique id uid.
func (m *Manager) StartLive(ctx context.Context, uid int) (*Playback, error) {
	channel, ok := m.catalog.GetChannel(uid)
	if !ok {
		return nil, fmt.Errorf("channel %d: %w", uid, types.ErrNotFound)
	}

	s := m.newSession(channel)

	s.mu.Lock()
	defer s.mu.Unlock()

	s.streamType = m.detect(ctx, s)
	s.controller.EnterLivePlayback(&s.channel, s.streamType)

	m.sessions.Store(s.ID, s)
	metrics.ActiveSessions.Set(float64(m.sessions.Size()))

	logger.Info("{session/session - StartLive} session %s: live %s (%s)", s.ID, channel.Name, s.streamType)
	return m.playback(s), nil
}

// Live returns an open session to live playback. The timeshift window of
// the session is kept.
func (m *Manager) Live(ctx context.Context, id string) (*Playback, error) {
	var pb *Playback
	err := m.with(id, func(s *Session) error {
		s.streamType = m.detect(ctx, s)
		s.controller.EnterLivePlayback(&s.channel, s.streamType)
		pb = m.playback(s)
		return nil
	})
	return pb, err
}

// StartEpg opens a session playing a programme picked from the guide. When
// timeshifted is nil the configured policy for the channel decides.
func (m *Manager) StartEpg(ctx context.Context, tag types.EpgTag, timeshifted *bool) (*Playback, error) {
	channel, ok := m.catalog.GetChannel(tag.ChannelUID)
	if !ok {
		return nil, fmt.Errorf("channel %d: %w", tag.ChannelUID, types.ErrNotFound)
	}

	s := m.newSession(channel)
	m.sessions.Store(s.ID, s)
	metrics.ActiveSessions.Set(float64(m.sessions.Size()))

	pb, err := m.PlayEpg(ctx, s.ID, tag, timeshifted)
	if err != nil {
		m.sessions.Delete(s.ID)
		metrics.ActiveSessions.Set(float64(m.sessions.Size()))
		return nil, err
	}
	return pb, nil
}

// PlayEpg moves an open session to a programme picked from the guide. The
// tag must belong to the session's channel and be playable as catchup.
func (m *Manager) PlayEpg(ctx context.Context, id string, tag types.EpgTag, timeshifted *bool) (*Playback, error) {
	s, ok := m.sessions.Load(id)
	if !ok {
		return nil, fmt.Errorf("session %s: %w", id, types.ErrNotFound)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if tag.ChannelUID == 0 {
		tag.ChannelUID = s.channel.UniqueID
	}
	if tag.ChannelUID != s.channel.UniqueID {
		return nil, fmt.Errorf("tag channel %d does not match session channel %d: %w",
			tag.ChannelUID, s.channel.UniqueID, types.ErrInvalidParameters)
	}
	if tag.StartTime <= 0 || tag.EndTime < tag.StartTime {
		return nil, fmt.Errorf("programme %d-%d: %w", tag.StartTime, tag.EndTime, types.ErrInvalidParameters)
	}
	if !s.controller.IsEpgTagPlayable(tag, &s.channel) {
		return nil, fmt.Errorf("programme %q on %s is not available for catchup: %w", tag.Title, s.channel.Name, types.ErrUnsupported)
	}

	asLive := s.controller.PlayEpgAsLive(&s.channel)
	if timeshifted != nil {
		asLive = *timeshifted
	}

	s.streamType = m.detect(ctx, s)
	s.controller.EnterCatchupFromEpgTag(tag, &s.channel, s.streamType, asLive)

	logger.Info("{session/session - PlayEpg} session %s: %q on %s (timeshifted=%v)", s.ID, tag.Title, s.channel.Name, asLive)
	return m.playback(s), nil
}

// Times reports the seekable window of a session.
func (m *Manager) Times(id string) (types.StreamTimes, error) {
	var times types.StreamTimes
	err := m.with(id, func(s *Session) error {
		return s.controller.GetStreamTimes(&times)
	})
	return times, err
}

// Length reports the length of the current catchup segment, or types.Unknown.
func (m *Manager) Length(id string) (int64, error) {
	length := types.Unknown
	err := m.with(id, func(s *Session) error {
		length = s.controller.GetLength()
		return nil
	})
	return length, err
}

// Seek moves the session cursor and returns the new position together with
// the URL to play from it.
func (m *Manager) Seek(id string, position int64, whence int) (int64, string, error) {
	var (
		pos int64
		url string
	)
	err := m.with(id, func(s *Session) error {
		var err error
		pos, err = s.controller.Seek(position, whence)
		if err != nil {
			return err
		}
		url = s.playbackURL()
		return nil
	})
	return pos, url, err
}

// Playback returns the current playback description of a session.
func (m *Manager) Playback(id string) (*Playback, error) {
	var pb *Playback
	err := m.with(id, func(s *Session) error {
		pb = m.playback(s)
		return nil
	})
	return pb, err
}

// Close ends a session and removes it from the registry.
func (m *Manager) Close(id string) error {
	s, ok := m.sessions.LoadAndDelete(id)
	if !ok {
		return fmt.Errorf("session %s: %w", id, types.ErrNotFound)
	}

	s.mu.Lock()
	s.controller.Close()
	s.mu.Unlock()

	metrics.ActiveSessions.Set(float64(m.sessions.Size()))
	logger.Info("{session/session - Close} session %s closed after %s", id, m.now().Sub(s.CreatedAt).Round(time.Second))
	return nil
}

// CloseAll ends every session, used on shutdown.
func (m *Manager) CloseAll() {
	m.sessions.Range(func(id string, _ *Session) bool {
		m.Close(id)
		return true
	})
}

func (m *Manager) newSession(channel types.Channel) *Session {
	ctrl := catchup.NewController(m.cfg, m.catalog)
	ctrl.SetClock(m.now)

	return &Session{
		ID:         uuid.NewString(),
		CreatedAt:  m.now(),
		channel:    channel,
		controller: ctrl,
	}
}

func (m *Manager) with(id string, fn func(s *Session) error) error {
	s, ok := m.sessions.Load(id)
	if !ok {
		return fmt.Errorf("session %s: %w", id, types.ErrNotFound)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(s)
}

// detect classifies the channel's test URL, asking the inspector only when
// the URL and properties are not conclusive.
func (m *Manager) detect(ctx context.Context, s *Session) types.StreamType {
	testURL, st := s.controller.StaticStreamType(&s.channel)
	if st != types.StreamTypeOther || m.inspector == nil {
		return st
	}

	logger.Debug("{session/session - detect} inspecting %s", utils.LogURL(m.cfg, testURL))
	return m.inspector.Inspect(ctx, testURL, &s.channel)
}

// playback must be called with s.mu held.
func (m *Manager) playback(s *Session) *Playback {
	url := s.playbackURL()
	props := s.controller.Negotiator().SetAllStreamProperties(&s.channel, url, s.streamType, s.controller.CatchupProperties(&s.channel))

	return &Playback{
		SessionID:  s.ID,
		ChannelUID: s.channel.UniqueID,
		URL:        url,
		StreamType: s.streamType.String(),
		Properties: props.Properties(),
		State:      s.controller.Snapshot(),
	}
}

func (s *Session) playbackURL() string {
	if url := s.controller.BuildPlaybackUrl(&s.channel); url != "" {
		return url
	}
	return s.channel.StreamURL
}
