package live

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/teslashibe/sitstraight/pkg/capture"
	"github.com/teslashibe/sitstraight/pkg/posture"
	"github.com/teslashibe/sitstraight/pkg/sampler"
	"github.com/teslashibe/sitstraight/pkg/scoring"
)

var epoch = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

// recorder captures every listener event.
type recorder struct {
	mu          sync.Mutex
	live        []bool
	transitions [][2]State
	updates     []ScoreUpdate
	ended       [][]posture.Sample
	captureErrs []error
	diagnostics []error
}

func (r *recorder) LiveStatusChanged(live bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.live = append(r.live, live)
}

func (r *recorder) StateChanged(from, to State) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.transitions = append(r.transitions, [2]State{from, to})
}

func (r *recorder) ScoreUpdated(u ScoreUpdate) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.updates = append(r.updates, u)
}

func (r *recorder) SessionEnded(history []posture.Sample) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ended = append(r.ended, history)
}

func (r *recorder) CaptureError(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.captureErrs = append(r.captureErrs, err)
}

func (r *recorder) ScoringDiagnostic(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.diagnostics = append(r.diagnostics, err)
}

func (r *recorder) countTransitionsTo(s State) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, tr := range r.transitions {
		if tr[1] == s {
			n++
		}
	}
	return n
}

func (r *recorder) snapshot() recorder {
	r.mu.Lock()
	defer r.mu.Unlock()
	return recorder{
		live:        append([]bool(nil), r.live...),
		transitions: append([][2]State(nil), r.transitions...),
		updates:     append([]ScoreUpdate(nil), r.updates...),
		ended:       append([][]posture.Sample(nil), r.ended...),
		captureErrs: append([]error(nil), r.captureErrs...),
		diagnostics: append([]error(nil), r.diagnostics...),
	}
}

type harness struct {
	clock    *sampler.ManualClock
	device   *capture.Mock
	session  *capture.Session
	scorer   *scoring.Client
	rec      *recorder
	ctrl     *Controller
	requests atomic.Int32
}

// newHarness wires a controller to a mock camera and an httptest scoring
// service. A nil handler always answers {"state":"slouch","score":20}.
func newHarness(t *testing.T, handler http.HandlerFunc) *harness {
	t.Helper()

	h := &harness{
		clock:  sampler.NewManualClock(epoch),
		device: capture.NewMock(640, 480),
		rec:    &recorder{},
	}

	if handler == nil {
		handler = func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, `{"state":"slouch","score":20}`)
		}
	}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h.requests.Add(1)
		handler(w, r)
	}))
	t.Cleanup(server.Close)

	scorer, err := scoring.NewClient(scoring.WithBaseURL(server.URL), scoring.WithTimeout(2*time.Second))
	if err != nil {
		t.Fatalf("scoring.NewClient: %v", err)
	}
	h.scorer = scorer

	h.session = capture.NewSession(h.device, capture.WithReadyPoll(time.Millisecond, 2*time.Second))
	h.ctrl = New(DefaultConfig(), h.session, scorer, sampler.New(h.clock, nil), h.rec)
	return h
}

func waitForState(t *testing.T, c *Controller, want State) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for c.State() != want {
		if time.Now().After(deadline) {
			t.Fatalf("state = %v, want %v", c.State(), want)
		}
		time.Sleep(time.Millisecond)
	}
}

func TestEndToEndSession(t *testing.T) {
	h := newHarness(t, nil)
	h.device.ReadyAfter = 2

	if err := h.ctrl.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if got := h.ctrl.State(); got != WarmingUp {
		t.Fatalf("state after Start = %v, want WarmingUp", got)
	}

	h.clock.Advance(799 * time.Millisecond)
	if got := h.ctrl.State(); got != WarmingUp {
		t.Fatalf("state before warm-up elapsed = %v", got)
	}
	if h.requests.Load() != 0 {
		t.Fatal("scored a frame during warm-up")
	}

	h.clock.Advance(time.Millisecond)
	if got := h.ctrl.State(); got != Live {
		t.Fatalf("state after warm-up = %v, want Live", got)
	}

	h.clock.Advance(350 * time.Millisecond)
	h.clock.Advance(350 * time.Millisecond)

	history := h.ctrl.History()
	want := []time.Duration{800 * time.Millisecond, 1150 * time.Millisecond, 1500 * time.Millisecond}
	if len(history) != len(want) {
		t.Fatalf("history has %d samples, want %d", len(history), len(want))
	}
	for i, sample := range history {
		if at := sample.Timestamp.Sub(epoch); at != want[i] {
			t.Errorf("sample %d at %v, want %v", i, at, want[i])
		}
		if sample.State != posture.Slouch || sample.Score != 20 {
			t.Errorf("sample %d = %+v", i, sample)
		}
	}

	rec := h.rec.snapshot()
	if len(rec.updates) != 3 {
		t.Fatalf("got %d score updates, want 3", len(rec.updates))
	}
	u := rec.updates[0]
	if u.State != posture.Slouch || u.Score != 20 {
		t.Errorf("update = %+v", u)
	}
	if math.Abs(u.Slider-(-0.6)) > 1e-9 {
		t.Errorf("slider = %v, want -0.6", u.Slider)
	}
	if u.Tilt != 6 {
		t.Errorf("tilt = %v, want 6", u.Tilt)
	}
	if u.Timeline != 20 {
		t.Errorf("timeline = %v, want 20", u.Timeline)
	}
	if u.Halo.Label != "Slouching" {
		t.Errorf("halo label = %q", u.Halo.Label)
	}

	wantTransitions := [][2]State{
		{Idle, AcquiringDevice},
		{AcquiringDevice, WarmingUp},
		{WarmingUp, Live},
	}
	if len(rec.transitions) != len(wantTransitions) {
		t.Fatalf("transitions = %v", rec.transitions)
	}
	for i := range wantTransitions {
		if rec.transitions[i] != wantTransitions[i] {
			t.Errorf("transition %d = %v, want %v", i, rec.transitions[i], wantTransitions[i])
		}
	}
	if len(rec.live) != 1 || !rec.live[0] {
		t.Errorf("live status events = %v, want [true]", rec.live)
	}
}

func TestStopEmitsSessionEndedOnce(t *testing.T) {
	h := newHarness(t, nil)

	if err := h.ctrl.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	h.clock.Advance(800 * time.Millisecond)
	h.clock.Advance(700 * time.Millisecond)

	collected := h.ctrl.History()

	h.ctrl.Stop()
	h.ctrl.Stop()

	rec := h.rec.snapshot()
	if len(rec.ended) != 1 {
		t.Fatalf("SessionEnded emitted %d times, want 1", len(rec.ended))
	}
	ended := rec.ended[0]
	if len(ended) != 3 || len(ended) != len(collected) {
		t.Fatalf("ended history has %d samples, want 3", len(ended))
	}
	for i := range ended {
		if ended[i] != collected[i] {
			t.Errorf("sample %d = %+v, want %+v", i, ended[i], collected[i])
		}
		if i > 0 && !ended[i].Timestamp.After(ended[i-1].Timestamp) {
			t.Errorf("history out of order at %d", i)
		}
	}

	if n := h.rec.countTransitionsTo(Stopping); n != 1 {
		t.Errorf("Stopping transitions = %d, want 1", n)
	}
	if got := h.device.Closes(); got != 1 {
		t.Errorf("device released %d times, want 1", got)
	}
	if got := h.ctrl.State(); got != Idle {
		t.Errorf("state = %v, want Idle", got)
	}
	if len(rec.live) != 2 || rec.live[1] {
		t.Errorf("live status events = %v, want [true false]", rec.live)
	}

	before := h.requests.Load()
	h.clock.Advance(2 * time.Second)
	if h.requests.Load() != before {
		t.Error("sampler kept firing after Stop")
	}
}

func TestStopWithoutSamplesEmitsNoSessionEnded(t *testing.T) {
	h := newHarness(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	if err := h.ctrl.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	h.clock.Advance(800 * time.Millisecond)
	h.ctrl.Stop()

	if rec := h.rec.snapshot(); len(rec.ended) != 0 {
		t.Errorf("SessionEnded emitted with empty history")
	}
}

func TestStartTwiceAcquiresOnce(t *testing.T) {
	h := newHarness(t, nil)

	if err := h.ctrl.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := h.ctrl.Start(context.Background()); err != nil {
		t.Fatalf("second Start failed: %v", err)
	}

	if n := h.rec.countTransitionsTo(AcquiringDevice); n != 1 {
		t.Errorf("AcquiringDevice transitions = %d, want 1", n)
	}
	if got := h.device.Opens(); got != 1 {
		t.Errorf("device opened %d times, want 1", got)
	}

	h.clock.Advance(800 * time.Millisecond)
	if err := h.ctrl.Start(context.Background()); err != nil {
		t.Fatalf("Start while live failed: %v", err)
	}
	if got := h.device.Opens(); got != 1 {
		t.Errorf("device opened %d times while live, want 1", got)
	}
}

func TestStopWhileIdleIsNoop(t *testing.T) {
	h := newHarness(t, nil)
	h.ctrl.Stop()

	rec := h.rec.snapshot()
	if len(rec.transitions) != 0 || len(rec.live) != 0 {
		t.Errorf("Stop while idle emitted events: %+v", &rec)
	}
}

func TestStopDuringWarmUp(t *testing.T) {
	h := newHarness(t, nil)

	if err := h.ctrl.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	h.clock.Advance(400 * time.Millisecond)
	h.ctrl.Stop()

	if got := h.ctrl.State(); got != Idle {
		t.Fatalf("state = %v, want Idle", got)
	}
	if h.clock.Pending() != 0 {
		t.Errorf("pending timers after Stop = %d", h.clock.Pending())
	}

	h.clock.Advance(5 * time.Second)

	if h.requests.Load() != 0 {
		t.Error("frames were scored after Stop during warm-up")
	}
	if len(h.ctrl.History()) != 0 {
		t.Error("history should be empty")
	}
	rec := h.rec.snapshot()
	if n := h.rec.countTransitionsTo(Live); n != 0 {
		t.Errorf("reached Live %d times", n)
	}
	if n := h.rec.countTransitionsTo(Stopping); n != 0 {
		t.Errorf("warm-up abort should go straight to Idle, saw %d Stopping transitions", n)
	}
	last := rec.transitions[len(rec.transitions)-1]
	if last != [2]State{WarmingUp, Idle} {
		t.Errorf("last transition = %v, want WarmingUp->Idle", last)
	}
	if got := h.device.Closes(); got != 1 {
		t.Errorf("device released %d times, want 1", got)
	}
}

func TestStopDuringAcquisition(t *testing.T) {
	h := newHarness(t, nil)
	h.device.ReadyAfter = 1 << 30

	done := make(chan error, 1)
	go func() {
		done <- h.ctrl.Start(context.Background())
	}()

	waitForState(t, h.ctrl, AcquiringDevice)
	h.ctrl.Stop()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Start returned %v after Stop, want nil", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Start did not return after Stop")
	}

	if got := h.ctrl.State(); got != Idle {
		t.Fatalf("state = %v, want Idle", got)
	}

	h.clock.Advance(5 * time.Second)

	if h.requests.Load() != 0 {
		t.Error("frames scored after aborted acquisition")
	}
	if got := h.device.Closes(); got != 1 {
		t.Errorf("stream closed %d times, want 1", got)
	}
	rec := h.rec.snapshot()
	if len(rec.captureErrs) != 0 {
		t.Errorf("aborted acquisition reported capture errors: %v", rec.captureErrs)
	}
	if n := h.rec.countTransitionsTo(WarmingUp); n != 0 {
		t.Errorf("reached WarmingUp after Stop")
	}
}

func TestCaptureDenied(t *testing.T) {
	h := newHarness(t, nil)
	h.device.OpenErr = errors.New("NotAllowedError")

	err := h.ctrl.Start(context.Background())
	if !errors.Is(err, capture.ErrDenied) {
		t.Fatalf("Start err = %v, want ErrDenied", err)
	}
	if got := h.ctrl.State(); got != Idle {
		t.Errorf("state = %v, want Idle", got)
	}

	rec := h.rec.snapshot()
	if len(rec.captureErrs) != 1 {
		t.Fatalf("capture errors = %d, want 1", len(rec.captureErrs))
	}
	if capture.Kind(rec.captureErrs[0]) != "denied" {
		t.Errorf("capture error kind = %q", capture.Kind(rec.captureErrs[0]))
	}
	if len(rec.live) != 2 || !rec.live[0] || rec.live[1] {
		t.Errorf("live status events = %v, want [true false]", rec.live)
	}

	h.device.OpenErr = nil
	if err := h.ctrl.Start(context.Background()); err != nil {
		t.Fatalf("retry Start failed: %v", err)
	}
	if got := h.ctrl.State(); got != WarmingUp {
		t.Errorf("state after retry = %v", got)
	}
}

func TestScoringFailureEmitsDiagnosticAndContinues(t *testing.T) {
	var status atomic.Int32
	status.Store(http.StatusInternalServerError)

	h := newHarness(t, func(w http.ResponseWriter, r *http.Request) {
		if code := int(status.Load()); code != http.StatusOK {
			w.WriteHeader(code)
			return
		}
		fmt.Fprint(w, `{"state":"aligned","score":90}`)
	})

	if err := h.ctrl.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	h.clock.Advance(800 * time.Millisecond)
	h.clock.Advance(350 * time.Millisecond)

	rec := h.rec.snapshot()
	if len(rec.diagnostics) != 2 {
		t.Fatalf("diagnostics = %d, want 2", len(rec.diagnostics))
	}
	for _, err := range rec.diagnostics {
		if scoring.Kind(err) != scoring.KindNetwork {
			t.Errorf("diagnostic kind = %q, want network", scoring.Kind(err))
		}
	}
	if len(h.ctrl.History()) != 0 {
		t.Error("history should be unchanged by failed calls")
	}
	if got := h.ctrl.State(); got != Live {
		t.Fatalf("state = %v, want Live", got)
	}

	status.Store(http.StatusOK)
	h.clock.Advance(350 * time.Millisecond)

	history := h.ctrl.History()
	if len(history) != 1 || history[0].State != posture.Aligned {
		t.Errorf("history = %+v, want one aligned sample", history)
	}
}

func TestDecodeFailureEmitsDiagnostic(t *testing.T) {
	h := newHarness(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "<html>gateway</html>")
	})

	if err := h.ctrl.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	h.clock.Advance(800 * time.Millisecond)

	rec := h.rec.snapshot()
	if len(rec.diagnostics) != 1 || scoring.Kind(rec.diagnostics[0]) != scoring.KindDecode {
		t.Errorf("diagnostics = %v, want one decode error", rec.diagnostics)
	}
}

func TestNotReadyFrameIsSkippedSilently(t *testing.T) {
	h := newHarness(t, nil)

	if err := h.ctrl.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	h.device.Streams()[0].Revoke()

	h.clock.Advance(800 * time.Millisecond)
	h.clock.Advance(700 * time.Millisecond)

	if h.requests.Load() != 0 {
		t.Error("scored a frame from a revoked stream")
	}
	rec := h.rec.snapshot()
	if len(rec.diagnostics) != 0 || len(rec.updates) != 0 {
		t.Errorf("not-ready frames should be silent: %+v", &rec)
	}
	stats := h.ctrl.Stats()
	if stats.Ticks != 3 || stats.SkippedFrames != 3 {
		t.Errorf("stats = %+v, want 3 ticks all skipped", stats)
	}
	if stats.State != Live {
		t.Errorf("state = %v, want Live", stats.State)
	}
}

func TestRestartClearsHistory(t *testing.T) {
	h := newHarness(t, nil)

	if err := h.ctrl.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	h.clock.Advance(800 * time.Millisecond)
	first := h.ctrl.SessionID()
	h.ctrl.Stop()

	if len(h.ctrl.History()) != 1 {
		t.Fatalf("history after stop = %d samples, want 1", len(h.ctrl.History()))
	}

	if err := h.ctrl.Start(context.Background()); err != nil {
		t.Fatalf("restart failed: %v", err)
	}
	if len(h.ctrl.History()) != 0 {
		t.Error("history should be cleared on start")
	}
	if h.ctrl.SessionID() == first {
		t.Error("restart should get a new session ID")
	}
	if _, ok := h.ctrl.Last(); ok {
		t.Error("last update should be cleared on start")
	}
}

func TestResultAfterStopIsDiscarded(t *testing.T) {
	entered := make(chan struct{}, 1)
	release := make(chan struct{})

	h := newHarness(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case entered <- struct{}{}:
		default:
		}
		select {
		case <-release:
		case <-r.Context().Done():
			return
		}
		fmt.Fprint(w, `{"state":"aligned","score":95}`)
	})
	t.Cleanup(func() { close(release) })

	if err := h.ctrl.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	advanced := make(chan struct{})
	go func() {
		h.clock.Advance(800 * time.Millisecond)
		close(advanced)
	}()

	select {
	case <-entered:
	case <-time.After(2 * time.Second):
		t.Fatal("scoring request never arrived")
	}

	h.ctrl.Stop()
	<-advanced

	if len(h.ctrl.History()) != 0 {
		t.Error("a result that landed after Stop was recorded")
	}
	rec := h.rec.snapshot()
	if len(rec.diagnostics) != 0 || len(rec.updates) != 0 || len(rec.ended) != 0 {
		t.Errorf("stale result produced events: %+v", &rec)
	}
}

func TestInFlightNeverExceedsOne(t *testing.T) {
	var inFlight, maxInFlight atomic.Int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := inFlight.Add(1)
		for {
			m := maxInFlight.Load()
			if n <= m || maxInFlight.CompareAndSwap(m, n) {
				break
			}
		}
		time.Sleep(25 * time.Millisecond)
		inFlight.Add(-1)
		fmt.Fprint(w, `{"state":"neutral","score":55}`)
	}))
	defer server.Close()

	scorer, err := scoring.NewClient(scoring.WithBaseURL(server.URL))
	if err != nil {
		t.Fatalf("scoring.NewClient: %v", err)
	}
	session := capture.NewSession(capture.NewMock(320, 240), capture.WithReadyPoll(time.Millisecond, time.Second))
	rec := &recorder{}
	ctrl := New(Config{Interval: 5 * time.Millisecond, WarmUp: time.Millisecond}, session, scorer, nil, rec)

	if err := ctrl.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	time.Sleep(200 * time.Millisecond)
	ctrl.Stop()

	if got := maxInFlight.Load(); got != 1 {
		t.Errorf("max in-flight scoring calls = %d, want 1", got)
	}
	stats := scorer.Stats()
	if stats.Busy == 0 {
		t.Error("expected overlapping ticks to be dropped as busy")
	}
	if len(rec.snapshot().diagnostics) != 0 {
		t.Error("busy drops must not surface diagnostics")
	}
	if len(ctrl.History()) == 0 {
		t.Error("expected some scored frames")
	}
}

func TestToggle(t *testing.T) {
	h := newHarness(t, nil)

	live, err := h.ctrl.Toggle(context.Background())
	if err != nil || !live {
		t.Fatalf("first Toggle = %v, %v; want true, nil", live, err)
	}
	live, err = h.ctrl.Toggle(context.Background())
	if err != nil || live {
		t.Fatalf("second Toggle = %v, %v; want false, nil", live, err)
	}
	if got := h.ctrl.State(); got != Idle {
		t.Errorf("state = %v, want Idle", got)
	}
}

func TestStatusText(t *testing.T) {
	if StatusText(true) != "Live Mode Active" || StatusText(false) != "Tracking posture" {
		t.Error("unexpected status captions")
	}
}
