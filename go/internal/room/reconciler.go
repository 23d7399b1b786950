package room

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/quizlive/go/internal/countdown"
	"github.com/mcdev12/quizlive/go/internal/models"
	"github.com/mcdev12/quizlive/go/internal/profile"
	"github.com/mcdev12/quizlive/go/internal/session"
)

// ErrFeedClosed is returned by Run when the feed ends before the room redirects.
var ErrFeedClosed = errors.New("room feed closed")

// State is where a reconciler is in its lifecycle
type State int

const (
	StateResolving State = iota
	StateLoading
	StateLive
	StateRedirected
)

func (s State) String() string {
	switch s {
	case StateResolving:
		return "resolving"
	case StateLoading:
		return "loading"
	case StateLive:
		return "live"
	case StateRedirected:
		return "redirected"
	default:
		return "unknown"
	}
}

// Leaver removes a participant from the primary store
type Leaver interface {
	Leave(ctx context.Context, userID, sessionID, participantID uuid.UUID) error
}

// Entry is a roster row decorated with the player's public profile
type Entry struct {
	models.Participant
	Username  string `json:"username,omitempty"`
	AvatarURL string `json:"avatar_url,omitempty"`
}

// View is what the waiting room renders
type View struct {
	SessionID     uuid.UUID            `json:"session_id"`
	ParticipantID uuid.UUID            `json:"participant_id"`
	Status        models.SessionStatus `json:"status"`
	Participants  []Entry              `json:"participants"`
}

// Config identifies the viewer. ParticipantID is resolved from UserID when zero.
type Config struct {
	SessionID     uuid.UUID
	UserID        uuid.UUID
	ParticipantID uuid.UUID
}

// Deps are the reconciler's collaborators. Profiles, Leaver and OnView may be nil.
type Deps struct {
	Reader   SessionReader
	Profiles profile.Lookup
	Leaver   Leaver
	Feed     Feed
	Navigate func(Navigation)
	OnView   func(View)
}

// Reconciler keeps one viewer's waiting room in step with the session and decides
// when the viewer must leave it.
type Reconciler struct {
	cfg      Config
	reader   SessionReader
	profiles *profile.Cache
	leaver   Leaver
	feed     Feed
	navigate func(Navigation)
	onView   func(View)

	mu            sync.Mutex
	state         State
	participantID uuid.UUID
	lastStatus    models.SessionStatus
	roster        []models.Participant
	removed       map[uuid.UUID]bool

	redirected chan struct{}
}

func NewReconciler(cfg Config, deps Deps) *Reconciler {
	r := &Reconciler{
		cfg:           cfg,
		reader:        deps.Reader,
		leaver:        deps.Leaver,
		feed:          deps.Feed,
		navigate:      deps.Navigate,
		onView:        deps.OnView,
		state:         StateResolving,
		participantID: cfg.ParticipantID,
		removed:       make(map[uuid.UUID]bool),
		redirected:    make(chan struct{}),
	}
	if deps.Profiles != nil {
		r.profiles = profile.NewCache(deps.Profiles)
	}
	if r.navigate == nil {
		r.navigate = func(Navigation) {}
	}
	return r
}

// State returns the current lifecycle state
func (r *Reconciler) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// ParticipantID returns the viewer's participant id once resolved
func (r *Reconciler) ParticipantID() uuid.UUID {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.participantID
}

// Redirected is closed once the reconciler has navigated away
func (r *Reconciler) Redirected() <-chan struct{} {
	return r.redirected
}

// Run resolves the viewer, loads the room and then consumes the feed until the viewer
// is redirected or ctx is done. The feed is closed on return.
func (r *Reconciler) Run(ctx context.Context) error {
	defer r.feed.Close()

	current, err := r.reader.GetSession(ctx, r.cfg.SessionID)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			r.redirect(Navigation{Route: RouteDashboard, Reason: ReasonNotFound})
			return nil
		}
		return fmt.Errorf("failed to load session: %w", err)
	}

	if !r.resolve(current) {
		r.redirect(Navigation{Route: RouteDashboard, Reason: ReasonKicked})
		return nil
	}

	r.setState(StateLoading)
	r.load(ctx, current)
	if r.State() == StateRedirected {
		return nil
	}
	r.setState(StateLive)

	updates := r.feed.Updates()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-r.redirected:
			return nil
		case update, ok := <-updates:
			if !ok {
				if r.State() == StateRedirected {
					return nil
				}
				return ErrFeedClosed
			}
			r.apply(ctx, update)
		}
	}
}

// resolve finds the viewer's participant in the session
func (r *Reconciler) resolve(current *models.GameSession) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.participantID != uuid.Nil {
		return current.HasParticipant(r.participantID)
	}
	p, ok := current.FindParticipantByUser(r.cfg.UserID)
	if !ok {
		return false
	}
	r.participantID = p.ID
	return true
}

func (r *Reconciler) load(ctx context.Context, current *models.GameSession) {
	r.mu.Lock()
	r.roster = append([]models.Participant{}, current.Participants...)
	models.SortByJoinOrder(r.roster)
	r.mu.Unlock()

	r.observeStatus(current.Status, current.CountdownStartedAt)
	if r.State() != StateRedirected {
		r.publish(ctx)
	}
}

func (r *Reconciler) apply(ctx context.Context, update Update) {
	switch {
	case update.Deleted:
		r.redirect(Navigation{Route: RouteDashboard, Reason: ReasonNotFound})
	case update.Snapshot != nil:
		r.applySnapshot(ctx, update.Snapshot)
	case update.Status != "":
		if r.observeStatus(update.Status, update.CountdownStartedAt) {
			r.publish(ctx)
		}
	case update.Change != nil:
		r.applyChange(ctx, *update.Change)
	}
}

func (r *Reconciler) applySnapshot(ctx context.Context, snapshot *models.GameSession) {
	if r.observeStatus(snapshot.Status, snapshot.CountdownStartedAt) && r.State() == StateRedirected {
		return
	}

	r.mu.Lock()
	r.roster = append([]models.Participant{}, snapshot.Participants...)
	models.SortByJoinOrder(r.roster)
	kicked := !snapshot.HasParticipant(r.participantID)
	r.mu.Unlock()

	if kicked {
		r.redirect(Navigation{Route: RouteDashboard, Reason: ReasonKicked})
		return
	}
	r.publish(ctx)
}

func (r *Reconciler) applyChange(ctx context.Context, change models.ChangeEvent) {
	p, err := change.DecodeParticipant()
	if err != nil {
		log.Warn().Err(err).Str("session_id", r.cfg.SessionID.String()).Msg("dropping undecodable participant change")
		return
	}

	r.mu.Lock()
	kicked := false
	switch change.EventType {
	case models.ChangeDelete:
		r.roster = removeParticipant(r.roster, p.ID)
		r.removed[p.ID] = true
		kicked = p.ID == r.participantID
	case models.ChangeInsert, models.ChangeUpdate:
		if r.removed[p.ID] {
			// a late replay of a row this room already saw deleted
			r.mu.Unlock()
			return
		}
		r.roster = upsertParticipant(r.roster, p)
		models.SortByJoinOrder(r.roster)
	}
	r.mu.Unlock()

	if kicked {
		r.redirect(Navigation{Route: RouteDashboard, Reason: ReasonKicked})
		return
	}
	r.publish(ctx)
}

// observeStatus acts on a status only when it moves forward from the last one seen.
// It reports whether the status changed. A known countdown stamp rides along on the
// redirect to the play screen.
func (r *Reconciler) observeStatus(status models.SessionStatus, countdownStartedAt *time.Time) bool {
	r.mu.Lock()
	last := r.lastStatus
	if status == last {
		r.mu.Unlock()
		return false
	}
	if last != "" && !last.CanTransitionTo(status) {
		r.mu.Unlock()
		log.Warn().
			Str("session_id", r.cfg.SessionID.String()).
			Str("last_status", string(last)).
			Str("observed_status", string(status)).
			Msg("ignoring backward status observation")
		return false
	}
	r.lastStatus = status
	r.mu.Unlock()

	switch status {
	case models.SessionStatusActive:
		nav := Navigation{Route: PlayRoute(r.cfg.SessionID), Reason: ReasonStarted}
		if countdownStartedAt != nil && !countdownStartedAt.IsZero() {
			nav.Query = countdown.PlayQuery(countdown.NewEvent(*countdownStartedAt))
		}
		r.redirect(nav)
	case models.SessionStatusFinished:
		r.redirect(Navigation{Route: ResultsRoute(r.cfg.SessionID), Reason: ReasonFinished})
	}
	return true
}

// HandleCountdown navigates to the play screen carrying the broadcast start time.
func (r *Reconciler) HandleCountdown(evt countdown.Event) error {
	if err := evt.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	if r.lastStatus == "" || r.lastStatus.CanTransitionTo(models.SessionStatusActive) {
		r.lastStatus = models.SessionStatusActive
	}
	r.mu.Unlock()

	r.redirect(Navigation{
		Route:  PlayRoute(r.cfg.SessionID),
		Reason: ReasonCountdown,
		Query:  countdown.PlayQuery(evt),
	})
	return nil
}

// Leave removes the viewer from the session and always navigates to the dashboard.
// A failed removal is logged; the server-side roster catches up on its own.
func (r *Reconciler) Leave(ctx context.Context) {
	participantID := r.ParticipantID()
	if r.leaver != nil && participantID != uuid.Nil {
		if err := r.leaver.Leave(ctx, r.cfg.UserID, r.cfg.SessionID, participantID); err != nil {
			log.Warn().
				Err(err).
				Str("session_id", r.cfg.SessionID.String()).
				Str("participant_id", participantID.String()).
				Msg("leave failed, navigating away anyway")
		}
	}
	r.redirect(Navigation{Route: RouteDashboard, Reason: ReasonLeft})
}

// View returns the current roster decorated with cached profiles
func (r *Reconciler) View(ctx context.Context) View {
	r.mu.Lock()
	roster := append([]models.Participant{}, r.roster...)
	view := View{
		SessionID:     r.cfg.SessionID,
		ParticipantID: r.participantID,
		Status:        r.lastStatus,
	}
	r.mu.Unlock()

	var profiles map[uuid.UUID]models.Profile
	if r.profiles != nil {
		ids := make([]uuid.UUID, 0, len(roster))
		for _, p := range roster {
			if p.UserID != nil {
				ids = append(ids, *p.UserID)
			}
		}
		profiles = r.profiles.Resolve(ctx, ids)
	}

	view.Participants = make([]Entry, len(roster))
	for i, p := range roster {
		entry := Entry{Participant: p}
		if p.UserID != nil {
			if prof, ok := profiles[*p.UserID]; ok {
				entry.Username = prof.Username
				entry.AvatarURL = prof.AvatarURL
			}
		}
		view.Participants[i] = entry
	}
	return view
}

func (r *Reconciler) publish(ctx context.Context) {
	if r.onView == nil {
		return
	}
	r.onView(r.View(ctx))
}

func (r *Reconciler) setState(s State) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != StateRedirected {
		r.state = s
	}
}

// redirect moves to the terminal state and navigates once
func (r *Reconciler) redirect(nav Navigation) {
	r.mu.Lock()
	if r.state == StateRedirected {
		r.mu.Unlock()
		return
	}
	r.state = StateRedirected
	close(r.redirected)
	r.mu.Unlock()

	log.Info().
		Str("session_id", r.cfg.SessionID.String()).
		Str("route", nav.Route).
		Str("reason", nav.Reason).
		Msg("leaving waiting room")
	r.navigate(nav)
}

func removeParticipant(roster []models.Participant, id uuid.UUID) []models.Participant {
	out := roster[:0]
	for _, p := range roster {
		if p.ID != id {
			out = append(out, p)
		}
	}
	return out
}

func upsertParticipant(roster []models.Participant, p models.Participant) []models.Participant {
	for i := range roster {
		if roster[i].ID == p.ID {
			roster[i] = p
			return roster
		}
	}
	return append(roster, p)
}
