/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

// Package session implements the authoritative coordinator for one
// prime-hunt game: lobby readiness, board issuance, concurrent
// submissions, the round deadline, and exactly-once scoring.
//
// All mutating operations serialize on a single mutex. The deadline
// timer competes for the same mutex as player submissions; whichever
// acquires it first performs the round-ending transition, and the
// loser observes the already-finished state (a late submission fails
// with ErrRoundNotActive, a stale timer is a no-op).
package session

import (
	"math/rand"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// Scoring values: +2 per correctly selected prime, -3 per wrong pick.
const (
	pointsPrime    = 2
	pointsNonPrime = -3
)

// State is the session lifecycle. The only reachable transitions are
// Waiting → InProgress → Finished → (Waiting, via Reset).
type State int

const (
	Waiting State = iota
	InProgress
	Finished
)

func (s State) String() string {
	switch s {
	case Waiting:
		return "waiting"
	case InProgress:
		return "in_progress"
	case Finished:
		return "finished"
	default:
		return "unknown"
	}
}

// EndReason records what ended a round.
type EndReason string

const (
	ReasonDeadline     EndReason = "deadline"
	ReasonAllSubmitted EndReason = "all_submitted"
	ReasonStopped      EndReason = "stopped"
)

// Config holds the per-game options. Zero values are not usable; see
// Validate.
type Config struct {
	GridSize      int
	MinValue      int
	MaxValue      int
	RoundDuration time.Duration
	KeepScores    bool
	Seed          int64
}

// Validate checks that the configured grid can contain both a prime
// and a non-prime, so a bad range fails at startup rather than at the
// first round.
func (c Config) Validate() error {
	_, err := NewGrid(c.GridSize, c.MinValue, c.MaxValue, rand.New(rand.NewSource(1)))
	return err
}

// Player holds the server-side view of one connected player.
type Player struct {
	ID        string
	Name      string
	Ready     bool
	Score     int
	Submitted bool
}

// PlayerView is the broadcastable subset of a Player.
type PlayerView struct {
	Name      string `json:"name"`
	Ready     bool   `json:"ready"`
	Score     int    `json:"score"`
	Submitted bool   `json:"submitted"`
}

// Snapshot is a point-in-time copy of the lobby, safe to hand to
// transports without holding the session lock.
type Snapshot struct {
	State   State
	Players []PlayerView
}

// RoundStart describes a newly issued board. Only cell values are
// included; primality never leaves the coordinator.
type RoundStart struct {
	Values   []int
	Deadline time.Time
	Duration time.Duration
}

// PlayerScore is one row of the final standings, in join order.
type PlayerScore struct {
	Name  string `json:"name"`
	Score int    `json:"score"`
}

// Result is the outcome of a finished round. Winners holds every
// player with the maximum score; ties are co-winners, not broken.
type Result struct {
	Scores  []PlayerScore
	Winners []string
	Reason  EndReason
}

// Hooks are invoked after the corresponding transition commits, with
// the session lock released, so transports can broadcast freely.
type Hooks struct {
	RoundStarted func(RoundStart)
	RoundEnded   func(Result)
}

type round struct {
	grid        Grid
	deadline    time.Time
	submissions map[string][]int
	done        chan struct{}
}

// Session is the authoritative game state for one lobby.
type Session struct {
	mu    sync.Mutex
	cfg   Config
	clock clockwork.Clock
	rng   *rand.Rand
	hooks Hooks

	state   State
	players []*Player
	round   *round
	gen     int
}

// New creates a session in the Waiting state. A nil clock selects the
// real clock. The configuration is validated up front.
func New(cfg Config, clock clockwork.Clock, hooks Hooks) (*Session, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	seed := cfg.Seed
	if seed == 0 {
		seed = clock.Now().UnixNano()
	}

	return &Session{
		cfg:   cfg,
		clock: clock,
		rng:   rand.New(rand.NewSource(seed)),
		hooks: hooks,
		state: Waiting,
	}, nil
}

// Join registers a player while the lobby is still waiting. Joining
// again with the same id updates the display name.
func (s *Session) Join(id, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != Waiting {
		return ErrAlreadyStarted
	}

	if p := s.findLocked(id); p != nil {
		p.Name = name
		return nil
	}

	s.players = append(s.players, &Player{ID: id, Name: name})
	return nil
}

// SetReady marks a player ready. When every connected player is ready
// (and at least one is connected), the round starts immediately.
func (s *Session) SetReady(id string) error {
	s.mu.Lock()

	if s.state != Waiting {
		s.mu.Unlock()
		return ErrAlreadyStarted
	}

	p := s.findLocked(id)
	if p == nil {
		s.mu.Unlock()
		return ErrUnknownPlayer
	}

	p.Ready = true

	started, err := s.maybeStartLocked()
	s.mu.Unlock()

	if err != nil {
		return err
	}
	if started != nil && s.hooks.RoundStarted != nil {
		s.hooks.RoundStarted(*started)
	}
	return nil
}

// Submit applies a player's selections exactly once and returns the
// points gained or lost. Validation is atomic: any out-of-bounds
// index rejects the whole submission with no score change. Duplicate
// indices within one submission count once. If every player has now
// submitted, the round ends early.
func (s *Session) Submit(id string, indices []int) (int, error) {
	s.mu.Lock()

	if s.state != InProgress {
		s.mu.Unlock()
		return 0, ErrRoundNotActive
	}

	p := s.findLocked(id)
	if p == nil {
		s.mu.Unlock()
		return 0, ErrUnknownPlayer
	}
	if p.Submitted {
		s.mu.Unlock()
		return 0, ErrAlreadySubmitted
	}

	grid := s.round.grid
	selected := make(map[int]struct{}, len(indices))
	for _, idx := range indices {
		if idx < 0 || idx >= len(grid) {
			s.mu.Unlock()
			return 0, ErrInvalidIndex
		}
		selected[idx] = struct{}{}
	}

	delta := 0
	uniq := make([]int, 0, len(selected))
	for idx := range selected {
		uniq = append(uniq, idx)
		if grid[idx].Prime {
			delta += pointsPrime
		} else {
			delta += pointsNonPrime
		}
	}

	p.Score += delta
	p.Submitted = true
	s.round.submissions[id] = uniq

	var ended *Result
	if s.allSubmittedLocked() {
		result := s.endRoundLocked(ReasonAllSubmitted)
		ended = &result
	}
	s.mu.Unlock()

	if ended != nil && s.hooks.RoundEnded != nil {
		s.hooks.RoundEnded(*ended)
	}
	return delta, nil
}

// Leave handles a player disconnecting. In the lobby the player is
// removed outright (which may complete the all-ready condition for
// the rest); mid-round the player forfeits their remaining
// submission but keeps their score, and the round can end early as
// if they had submitted. The session never aborts for the others.
func (s *Session) Leave(id string) error {
	s.mu.Lock()

	p := s.findLocked(id)
	if p == nil {
		s.mu.Unlock()
		return ErrUnknownPlayer
	}

	var started *RoundStart
	var ended *Result

	switch s.state {
	case InProgress:
		if !p.Submitted {
			p.Submitted = true
			if s.allSubmittedLocked() {
				result := s.endRoundLocked(ReasonAllSubmitted)
				ended = &result
			}
		}
	default:
		s.removeLocked(id)
		if s.state == Waiting {
			rs, err := s.maybeStartLocked()
			if err != nil {
				s.mu.Unlock()
				return err
			}
			started = rs
		}
	}
	s.mu.Unlock()

	if started != nil && s.hooks.RoundStarted != nil {
		s.hooks.RoundStarted(*started)
	}
	if ended != nil && s.hooks.RoundEnded != nil {
		s.hooks.RoundEnded(*ended)
	}
	return nil
}

// EndRound force-ends the current round. Calling it when no round is
// in progress is a no-op, so it is safe to invoke it twice or to race
// it against the deadline timer.
func (s *Session) EndRound() {
	s.mu.Lock()

	if s.state != InProgress {
		s.mu.Unlock()
		return
	}

	result := s.endRoundLocked(ReasonStopped)
	s.mu.Unlock()

	if s.hooks.RoundEnded != nil {
		s.hooks.RoundEnded(result)
	}
}

// Reset returns a finished session to the lobby: ready and submission
// flags cleared, scores preserved or zeroed per configuration. Reset
// while a round is running fails with ErrAlreadyStarted; Reset of a
// waiting session is a no-op.
func (s *Session) Reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case InProgress:
		return ErrAlreadyStarted
	case Waiting:
		return nil
	}

	s.state = Waiting
	s.round = nil
	for _, p := range s.players {
		p.Ready = false
		p.Submitted = false
		if !s.cfg.KeepScores {
			p.Score = 0
		}
	}
	return nil
}

// PlayerName looks up a registered player's display name.
func (s *Session) PlayerName(id string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if p := s.findLocked(id); p != nil {
		return p.Name, true
	}
	return "", false
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Snapshot copies the lobby for broadcasting.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := Snapshot{
		State:   s.state,
		Players: make([]PlayerView, 0, len(s.players)),
	}
	for _, p := range s.players {
		snap.Players = append(snap.Players, PlayerView{
			Name:      p.Name,
			Ready:     p.Ready,
			Score:     p.Score,
			Submitted: p.Submitted,
		})
	}
	return snap
}

func (s *Session) findLocked(id string) *Player {
	for _, p := range s.players {
		if p.ID == id {
			return p
		}
	}
	return nil
}

func (s *Session) removeLocked(id string) {
	dst := s.players[:0]
	for _, p := range s.players {
		if p.ID == id {
			continue
		}
		dst = append(dst, p)
	}
	s.players = dst
}

func (s *Session) allSubmittedLocked() bool {
	for _, p := range s.players {
		if !p.Submitted {
			return false
		}
	}
	return true
}

// maybeStartLocked starts the round if every connected player is
// ready and the lobby is not empty.
func (s *Session) maybeStartLocked() (*RoundStart, error) {
	if s.state != Waiting || len(s.players) == 0 {
		return nil, nil
	}
	for _, p := range s.players {
		if !p.Ready {
			return nil, nil
		}
	}
	rs, err := s.startRoundLocked()
	if err != nil {
		return nil, err
	}
	return &rs, nil
}

func (s *Session) startRoundLocked() (RoundStart, error) {
	grid, err := NewGrid(s.cfg.GridSize, s.cfg.MinValue, s.cfg.MaxValue, s.rng)
	if err != nil {
		return RoundStart{}, err
	}

	deadline := s.clock.Now().Add(s.cfg.RoundDuration)
	s.round = &round{
		grid:        grid,
		deadline:    deadline,
		submissions: make(map[string][]int),
		done:        make(chan struct{}),
	}
	for _, p := range s.players {
		p.Submitted = false
	}
	s.state = InProgress
	s.gen++

	timer := s.clock.NewTimer(s.cfg.RoundDuration)
	go s.watchDeadline(s.gen, timer, s.round.done)

	return RoundStart{
		Values:   grid.Values(),
		Deadline: deadline,
		Duration: s.cfg.RoundDuration,
	}, nil
}

// watchDeadline waits for the round timer. If the round ends early
// the done channel unblocks it and the timer is stopped and drained.
func (s *Session) watchDeadline(gen int, timer clockwork.Timer, done chan struct{}) {
	select {
	case <-timer.Chan():
		s.expire(gen)
	case <-done:
		if !timer.Stop() {
			select {
			case <-timer.Chan():
			default:
			}
		}
	}
}

// expire is the timer-driven producer competing for the session lock.
// The generation guard makes a timer that outlives its round (ended
// early, then reset and restarted) a no-op.
func (s *Session) expire(gen int) {
	s.mu.Lock()

	if s.gen != gen || s.state != InProgress {
		s.mu.Unlock()
		return
	}

	result := s.endRoundLocked(ReasonDeadline)
	s.mu.Unlock()

	if s.hooks.RoundEnded != nil {
		s.hooks.RoundEnded(result)
	}
}

// endRoundLocked performs the InProgress → Finished transition and
// computes the winner set. Callers must hold s.mu and have verified
// the state.
func (s *Session) endRoundLocked(reason EndReason) Result {
	s.state = Finished
	close(s.round.done)

	result := Result{Reason: reason}

	best := 0
	for i, p := range s.players {
		result.Scores = append(result.Scores, PlayerScore{Name: p.Name, Score: p.Score})
		if i == 0 || p.Score > best {
			best = p.Score
		}
	}
	for _, p := range s.players {
		if p.Score == best {
			result.Winners = append(result.Winners, p.Name)
		}
	}
	return result
}
