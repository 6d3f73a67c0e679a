package session

import (
	"errors"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
)

func testConfig() Config {
	return Config{
		GridSize:      9,
		MinValue:      2,
		MaxValue:      50,
		RoundDuration: 2 * time.Minute,
		Seed:          42,
	}
}

type recorder struct {
	starts chan RoundStart
	ends   chan Result
}

func newRecorder() *recorder {
	return &recorder{
		starts: make(chan RoundStart, 4),
		ends:   make(chan Result, 4),
	}
}

func (c *recorder) hooks() Hooks {
	return Hooks{
		RoundStarted: func(rs RoundStart) { c.starts <- rs },
		RoundEnded:   func(r Result) { c.ends <- r },
	}
}

func (c *recorder) waitStart(t *testing.T) RoundStart {
	t.Helper()
	select {
	case rs := <-c.starts:
		return rs
	case <-time.After(time.Second):
		t.Fatal("round did not start")
		return RoundStart{}
	}
}

func (c *recorder) waitEnd(t *testing.T) Result {
	t.Helper()
	select {
	case r := <-c.ends:
		return r
	case <-time.After(time.Second):
		t.Fatal("round did not end")
		return Result{}
	}
}

// injectRound puts a session into a running round with a hand-built
// grid, bypassing generation, so scoring can be checked against known
// cells.
func injectRound(s *Session, grid Grid) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = InProgress
	s.gen++
	s.round = &round{
		grid:        grid,
		submissions: make(map[string][]int),
		done:        make(chan struct{}),
	}
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	cfg := testConfig()
	cfg.MinValue = 50
	cfg.MaxValue = 2

	_, err := New(cfg, clockwork.NewFakeClock(), Hooks{})
	if !errors.Is(err, ErrInvalidGridConfig) {
		t.Fatalf("New error = %v, want %v", err, ErrInvalidGridConfig)
	}
}

func TestRoundStartsWhenAllReady(t *testing.T) {
	rec := newRecorder()
	s, err := New(testConfig(), clockwork.NewFakeClock(), rec.hooks())
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}

	if err := s.Join("a", "Alice"); err != nil {
		t.Fatalf("Join returned error: %v", err)
	}
	if err := s.Join("b", "Bob"); err != nil {
		t.Fatalf("Join returned error: %v", err)
	}

	if err := s.SetReady("a"); err != nil {
		t.Fatalf("SetReady returned error: %v", err)
	}
	if got := s.State(); got != Waiting {
		t.Fatalf("state after one ready = %v, want %v", got, Waiting)
	}
	if len(rec.starts) != 0 {
		t.Fatal("round started before all players were ready")
	}

	if err := s.SetReady("b"); err != nil {
		t.Fatalf("SetReady returned error: %v", err)
	}

	rs := rec.waitStart(t)
	if len(rs.Values) != 9 {
		t.Fatalf("round start carried %d values, want 9", len(rs.Values))
	}
	if got := s.State(); got != InProgress {
		t.Fatalf("state after all ready = %v, want %v", got, InProgress)
	}
}

func TestEmptyLobbyNeverStarts(t *testing.T) {
	rec := newRecorder()
	s, err := New(testConfig(), clockwork.NewFakeClock(), rec.hooks())
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}

	if err := s.Join("a", "Alice"); err != nil {
		t.Fatalf("Join returned error: %v", err)
	}
	if err := s.Leave("a"); err != nil {
		t.Fatalf("Leave returned error: %v", err)
	}

	if got := s.State(); got != Waiting {
		t.Fatalf("state = %v, want %v", got, Waiting)
	}
	if len(rec.starts) != 0 {
		t.Fatal("round started with no players")
	}
}

func TestJoinAfterStartRejected(t *testing.T) {
	rec := newRecorder()
	s, err := New(testConfig(), clockwork.NewFakeClock(), rec.hooks())
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}

	if err := s.Join("a", "Alice"); err != nil {
		t.Fatalf("Join returned error: %v", err)
	}
	if err := s.SetReady("a"); err != nil {
		t.Fatalf("SetReady returned error: %v", err)
	}
	rec.waitStart(t)

	if err := s.Join("b", "Bob"); !errors.Is(err, ErrAlreadyStarted) {
		t.Fatalf("Join error = %v, want %v", err, ErrAlreadyStarted)
	}
	if err := s.SetReady("b"); !errors.Is(err, ErrAlreadyStarted) {
		t.Fatalf("SetReady error = %v, want %v", err, ErrAlreadyStarted)
	}
}

func TestSetReadyUnknownPlayer(t *testing.T) {
	s, err := New(testConfig(), clockwork.NewFakeClock(), Hooks{})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}

	if err := s.SetReady("nobody"); !errors.Is(err, ErrUnknownPlayer) {
		t.Fatalf("SetReady error = %v, want %v", err, ErrUnknownPlayer)
	}
}

func TestSubmitScoring(t *testing.T) {
	rec := newRecorder()
	s, err := New(testConfig(), clockwork.NewFakeClock(), rec.hooks())
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}

	for _, p := range []struct{ id, name string }{{"a", "Alice"}, {"b", "Bob"}, {"c", "Carol"}} {
		if err := s.Join(p.id, p.name); err != nil {
			t.Fatalf("Join returned error: %v", err)
		}
	}

	injectRound(s, Grid{
		{Value: 2, Prime: true},
		{Value: 4},
		{Value: 7, Prime: true},
		{Value: 9},
	})

	// Both picks prime: 2 cells x +2.
	points, err := s.Submit("a", []int{0, 2})
	if err != nil {
		t.Fatalf("Submit returned error: %v", err)
	}
	if points != 4 {
		t.Fatalf("prime picks scored %d, want 4", points)
	}

	// A second submission is rejected and changes nothing.
	if _, err := s.Submit("a", []int{1}); !errors.Is(err, ErrAlreadySubmitted) {
		t.Fatalf("second Submit error = %v, want %v", err, ErrAlreadySubmitted)
	}

	// Both picks non-prime: 2 cells x -3.
	points, err = s.Submit("b", []int{1, 3})
	if err != nil {
		t.Fatalf("Submit returned error: %v", err)
	}
	if points != -6 {
		t.Fatalf("non-prime picks scored %d, want -6", points)
	}

	// Duplicate indices count once.
	points, err = s.Submit("c", []int{0, 0, 0})
	if err != nil {
		t.Fatalf("Submit returned error: %v", err)
	}
	if points != 2 {
		t.Fatalf("duplicate picks scored %d, want 2", points)
	}

	// Everyone has submitted, so the round ended early.
	result := rec.waitEnd(t)
	if result.Reason != ReasonAllSubmitted {
		t.Fatalf("end reason = %q, want %q", result.Reason, ReasonAllSubmitted)
	}
	if len(result.Winners) != 1 || result.Winners[0] != "Alice" {
		t.Fatalf("winners = %v, want [Alice]", result.Winners)
	}

	wantScores := map[string]int{"Alice": 4, "Bob": -6, "Carol": 2}
	for _, ps := range result.Scores {
		if ps.Score != wantScores[ps.Name] {
			t.Fatalf("%s scored %d, want %d", ps.Name, ps.Score, wantScores[ps.Name])
		}
	}
}

func TestSubmitInvalidIndexAtomic(t *testing.T) {
	s, err := New(testConfig(), clockwork.NewFakeClock(), Hooks{})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	if err := s.Join("a", "Alice"); err != nil {
		t.Fatalf("Join returned error: %v", err)
	}
	if err := s.Join("b", "Bob"); err != nil {
		t.Fatalf("Join returned error: %v", err)
	}

	injectRound(s, Grid{{Value: 2, Prime: true}, {Value: 4}})

	for _, indices := range [][]int{{-1}, {2}, {0, 5}} {
		if _, err := s.Submit("a", indices); !errors.Is(err, ErrInvalidIndex) {
			t.Fatalf("Submit(%v) error = %v, want %v", indices, err, ErrInvalidIndex)
		}
	}

	// The rejected submissions are not final: a clean one still works.
	points, err := s.Submit("a", []int{0})
	if err != nil {
		t.Fatalf("Submit returned error: %v", err)
	}
	if points != 2 {
		t.Fatalf("Submit scored %d, want 2", points)
	}
}

func TestSubmitOutsideRound(t *testing.T) {
	s, err := New(testConfig(), clockwork.NewFakeClock(), Hooks{})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	if err := s.Join("a", "Alice"); err != nil {
		t.Fatalf("Join returned error: %v", err)
	}

	if _, err := s.Submit("a", []int{0}); !errors.Is(err, ErrRoundNotActive) {
		t.Fatalf("Submit error = %v, want %v", err, ErrRoundNotActive)
	}
}

func TestDeadlineEndsRound(t *testing.T) {
	fc := clockwork.NewFakeClock()
	rec := newRecorder()
	s, err := New(testConfig(), fc, rec.hooks())
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}

	if err := s.Join("a", "Alice"); err != nil {
		t.Fatalf("Join returned error: %v", err)
	}
	if err := s.Join("b", "Bob"); err != nil {
		t.Fatalf("Join returned error: %v", err)
	}
	if err := s.SetReady("a"); err != nil {
		t.Fatalf("SetReady returned error: %v", err)
	}
	if err := s.SetReady("b"); err != nil {
		t.Fatalf("SetReady returned error: %v", err)
	}
	rs := rec.waitStart(t)

	points, err := s.Submit("a", pickPrimes(rs.Values))
	if err != nil {
		t.Fatalf("Submit returned error: %v", err)
	}
	if points <= 0 {
		t.Fatalf("prime-only picks scored %d, want > 0", points)
	}

	fc.Advance(2 * time.Minute)

	result := rec.waitEnd(t)
	if result.Reason != ReasonDeadline {
		t.Fatalf("end reason = %q, want %q", result.Reason, ReasonDeadline)
	}
	if len(result.Winners) != 1 || result.Winners[0] != "Alice" {
		t.Fatalf("winners = %v, want [Alice]", result.Winners)
	}

	// The losing producer of the race observes the finished state.
	if _, err := s.Submit("b", []int{0}); !errors.Is(err, ErrRoundNotActive) {
		t.Fatalf("late Submit error = %v, want %v", err, ErrRoundNotActive)
	}
}

func TestTieProducesCoWinners(t *testing.T) {
	rec := newRecorder()
	s, err := New(testConfig(), clockwork.NewFakeClock(), rec.hooks())
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	if err := s.Join("a", "Alice"); err != nil {
		t.Fatalf("Join returned error: %v", err)
	}
	if err := s.Join("b", "Bob"); err != nil {
		t.Fatalf("Join returned error: %v", err)
	}

	injectRound(s, Grid{
		{Value: 5, Prime: true},
		{Value: 6},
		{Value: 11, Prime: true},
	})

	if _, err := s.Submit("a", []int{0, 2}); err != nil {
		t.Fatalf("Submit returned error: %v", err)
	}
	if _, err := s.Submit("b", []int{0, 2}); err != nil {
		t.Fatalf("Submit returned error: %v", err)
	}

	result := rec.waitEnd(t)
	if len(result.Winners) != 2 {
		t.Fatalf("winners = %v, want both players", result.Winners)
	}
}

func TestEndRoundIdempotent(t *testing.T) {
	rec := newRecorder()
	s, err := New(testConfig(), clockwork.NewFakeClock(), rec.hooks())
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	if err := s.Join("a", "Alice"); err != nil {
		t.Fatalf("Join returned error: %v", err)
	}
	if err := s.SetReady("a"); err != nil {
		t.Fatalf("SetReady returned error: %v", err)
	}
	rec.waitStart(t)

	s.EndRound()
	rec.waitEnd(t)

	s.EndRound()
	if len(rec.ends) != 0 {
		t.Fatal("second EndRound produced another result")
	}
	if got := s.State(); got != Finished {
		t.Fatalf("state = %v, want %v", got, Finished)
	}
}

func TestLeaveMidRoundForfeits(t *testing.T) {
	rec := newRecorder()
	s, err := New(testConfig(), clockwork.NewFakeClock(), rec.hooks())
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	if err := s.Join("a", "Alice"); err != nil {
		t.Fatalf("Join returned error: %v", err)
	}
	if err := s.Join("b", "Bob"); err != nil {
		t.Fatalf("Join returned error: %v", err)
	}

	injectRound(s, Grid{{Value: 2, Prime: true}, {Value: 4}})

	if _, err := s.Submit("a", []int{0}); err != nil {
		t.Fatalf("Submit returned error: %v", err)
	}

	// Bob disconnects; his submission is forfeited and the round ends
	// as if everyone had answered. His score stays as-is.
	if err := s.Leave("b"); err != nil {
		t.Fatalf("Leave returned error: %v", err)
	}

	result := rec.waitEnd(t)
	if result.Reason != ReasonAllSubmitted {
		t.Fatalf("end reason = %q, want %q", result.Reason, ReasonAllSubmitted)
	}
	for _, ps := range result.Scores {
		if ps.Name == "Bob" && ps.Score != 0 {
			t.Fatalf("forfeited player scored %d, want 0", ps.Score)
		}
	}
}

func TestLeaveInLobbyUnblocksStart(t *testing.T) {
	rec := newRecorder()
	s, err := New(testConfig(), clockwork.NewFakeClock(), rec.hooks())
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	if err := s.Join("a", "Alice"); err != nil {
		t.Fatalf("Join returned error: %v", err)
	}
	if err := s.Join("b", "Bob"); err != nil {
		t.Fatalf("Join returned error: %v", err)
	}
	if err := s.SetReady("a"); err != nil {
		t.Fatalf("SetReady returned error: %v", err)
	}

	// Bob never readies up and leaves; Alice alone is now all-ready.
	if err := s.Leave("b"); err != nil {
		t.Fatalf("Leave returned error: %v", err)
	}

	rec.waitStart(t)
	if got := s.State(); got != InProgress {
		t.Fatalf("state = %v, want %v", got, InProgress)
	}
}

func TestResetClearsReadyAndScoresPerConfig(t *testing.T) {
	tcs := []struct {
		name       string
		keepScores bool
		wantScore  int
	}{
		{"scores reset", false, 0},
		{"scores kept", true, 2},
	}

	for _, tc := range tcs {
		t.Run(tc.name, func(t *testing.T) {
			cfg := testConfig()
			cfg.KeepScores = tc.keepScores

			rec := newRecorder()
			s, err := New(cfg, clockwork.NewFakeClock(), rec.hooks())
			if err != nil {
				t.Fatalf("New returned error: %v", err)
			}
			if err := s.Join("a", "Alice"); err != nil {
				t.Fatalf("Join returned error: %v", err)
			}

			injectRound(s, Grid{{Value: 2, Prime: true}, {Value: 4}})
			if _, err := s.Submit("a", []int{0}); err != nil {
				t.Fatalf("Submit returned error: %v", err)
			}
			rec.waitEnd(t)

			if err := s.Reset(); err != nil {
				t.Fatalf("Reset returned error: %v", err)
			}

			snap := s.Snapshot()
			if snap.State != Waiting {
				t.Fatalf("state after reset = %v, want %v", snap.State, Waiting)
			}
			if len(snap.Players) != 1 {
				t.Fatalf("player count = %d, want 1", len(snap.Players))
			}
			p := snap.Players[0]
			if p.Ready || p.Submitted {
				t.Fatalf("flags not cleared: ready=%t submitted=%t", p.Ready, p.Submitted)
			}
			if p.Score != tc.wantScore {
				t.Fatalf("score after reset = %d, want %d", p.Score, tc.wantScore)
			}
		})
	}
}

func TestResetDuringRoundRejected(t *testing.T) {
	s, err := New(testConfig(), clockwork.NewFakeClock(), Hooks{})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	if err := s.Join("a", "Alice"); err != nil {
		t.Fatalf("Join returned error: %v", err)
	}

	injectRound(s, Grid{{Value: 2, Prime: true}, {Value: 4}})

	if err := s.Reset(); !errors.Is(err, ErrAlreadyStarted) {
		t.Fatalf("Reset error = %v, want %v", err, ErrAlreadyStarted)
	}
}

func TestResetWhileWaitingIsNoop(t *testing.T) {
	s, err := New(testConfig(), clockwork.NewFakeClock(), Hooks{})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	if err := s.Reset(); err != nil {
		t.Fatalf("Reset returned error: %v", err)
	}
	if got := s.State(); got != Waiting {
		t.Fatalf("state = %v, want %v", got, Waiting)
	}
}

func TestStaleTimerIgnoredAfterReset(t *testing.T) {
	fc := clockwork.NewFakeClock()
	rec := newRecorder()
	s, err := New(testConfig(), fc, rec.hooks())
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	if err := s.Join("a", "Alice"); err != nil {
		t.Fatalf("Join returned error: %v", err)
	}
	if err := s.SetReady("a"); err != nil {
		t.Fatalf("SetReady returned error: %v", err)
	}
	rs := rec.waitStart(t)

	// End the first round early, reset, and start a second round.
	if _, err := s.Submit("a", pickPrimes(rs.Values)); err != nil {
		t.Fatalf("Submit returned error: %v", err)
	}
	first := rec.waitEnd(t)
	if first.Reason != ReasonAllSubmitted {
		t.Fatalf("end reason = %q, want %q", first.Reason, ReasonAllSubmitted)
	}
	if err := s.Reset(); err != nil {
		t.Fatalf("Reset returned error: %v", err)
	}
	if err := s.SetReady("a"); err != nil {
		t.Fatalf("SetReady returned error: %v", err)
	}
	rec.waitStart(t)

	// Advancing past the first round's deadline must end only the
	// second round, exactly once, driven by its own timer.
	fc.Advance(2 * time.Minute)
	second := rec.waitEnd(t)
	if second.Reason != ReasonDeadline {
		t.Fatalf("end reason = %q, want %q", second.Reason, ReasonDeadline)
	}
	if len(rec.ends) != 0 {
		t.Fatal("stale timer produced an extra round end")
	}
	if got := s.State(); got != Finished {
		t.Fatalf("state = %v, want %v", got, Finished)
	}
}

// pickPrimes returns the indices of every prime value on the board.
func pickPrimes(values []int) []int {
	var indices []int
	for i, v := range values {
		if IsPrime(v) {
			indices = append(indices, i)
		}
	}
	return indices
}
