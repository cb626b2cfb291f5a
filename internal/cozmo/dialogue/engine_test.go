package dialogue

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/cozmobot/cozmo/internal/cozmo/script"
	"github.com/cozmobot/cozmo/internal/cozmo/session"
)

func newTestEngine(t *testing.T) (*Engine, session.Store) {
	t.Helper()
	store := session.NewMemoryStore()
	eng, err := NewEngine(store, session.NewLocks(), script.Default(), Config{}, nil)
	if err != nil {
		t.Fatalf("NewEngine() error: %v", err)
	}
	return eng, store
}

func say(t *testing.T, eng *Engine, userID, text string, now time.Time) string {
	t.Helper()
	reply, err := eng.handleMessageAt(t.Context(), userID, "!room:test", text, now)
	if err != nil {
		t.Fatalf("handleMessageAt(%q) error: %v", text, err)
	}
	return reply
}

func TestEngine_FullConversation(t *testing.T) {
	eng, store := newTestEngine(t)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	reply := say(t, eng, "@alice:test", "hi", now)
	if reply != "How are you doing?" {
		t.Errorf("greeting reply = %q", reply)
	}

	reply = say(t, eng, "@alice:test", "I'm good, thanks!", now.Add(time.Minute))
	if !strings.Contains(reply, "What's your name?") {
		t.Errorf("wellbeing reply = %q, want name prompt", reply)
	}
	if !strings.Contains(reply, "doing well") {
		t.Errorf("wellbeing reply = %q, want positive acknowledgement", reply)
	}

	reply = say(t, eng, "@alice:test", "My name is carlos", now.Add(2*time.Minute))
	if !strings.Contains(reply, "Carlos") {
		t.Errorf("name reply = %q, want personalized with Carlos", reply)
	}

	sess, err := store.Get("@alice:test")
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if sess.Stage != session.StageFarewell {
		t.Errorf("stage = %q, want %q", sess.Stage, session.StageFarewell)
	}
	if sess.Name != "Carlos" {
		t.Errorf("name = %q, want Carlos", sess.Name)
	}

	reply = say(t, eng, "@alice:test", "bye", now.Add(3*time.Minute))
	if !strings.Contains(reply, "Goodbye, Carlos") {
		t.Errorf("farewell reply = %q, want personalized goodbye", reply)
	}

	// The completed session is gone; the next greeting starts fresh.
	if _, err := store.Get("@alice:test"); !errors.Is(err, session.ErrNotFound) {
		t.Fatalf("expected ErrNotFound after farewell, got %v", err)
	}
	reply = say(t, eng, "@alice:test", "hello", now.Add(4*time.Minute))
	if reply != "How are you doing?" {
		t.Errorf("restarted greeting reply = %q", reply)
	}
}

func TestEngine_RepromptsDoNotAdvance(t *testing.T) {
	eng, store := newTestEngine(t)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	// Non-greeting input at the greeting stage re-prompts and stays put,
	// no matter how often it repeats.
	for i := 0; i < 3; i++ {
		reply := say(t, eng, "@bob:test", "what is this", now.Add(time.Duration(i)*time.Minute))
		if !strings.Contains(reply, "Say 'hi'") {
			t.Errorf("reply %d = %q, want greeting re-prompt", i, reply)
		}
	}
	sess, err := store.Get("@bob:test")
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if sess.Stage != session.StageGreeting {
		t.Errorf("stage = %q, want %q", sess.Stage, session.StageGreeting)
	}

	// Same at the name stage with an unusable reply.
	say(t, eng, "@bob:test", "hi", now.Add(10*time.Minute))
	say(t, eng, "@bob:test", "fine", now.Add(11*time.Minute))
	reply := say(t, eng, "@bob:test", "that's none of your business, frankly", now.Add(12*time.Minute))
	if !strings.Contains(reply, "My name is") {
		t.Errorf("name re-prompt = %q", reply)
	}
	sess, _ = store.Get("@bob:test")
	if sess.Stage != session.StageNameRequest {
		t.Errorf("stage = %q, want %q", sess.Stage, session.StageNameRequest)
	}
	if sess.Name != "" {
		t.Errorf("name = %q, want empty", sess.Name)
	}
}

func TestEngine_WellbeingAlwaysAdvances(t *testing.T) {
	tests := []struct {
		name      string
		utterance string
		wantIn    string
	}{
		{"positive", "great", "doing well"},
		{"negative", "not good at all", "Sorry to hear"},
		{"unrecognized", "the weather is weird today", "nice to hear"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			eng, store := newTestEngine(t)
			now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

			say(t, eng, "@u:test", "hi", now)
			reply := say(t, eng, "@u:test", tt.utterance, now.Add(time.Minute))
			if !strings.Contains(reply, tt.wantIn) {
				t.Errorf("reply = %q, want to contain %q", reply, tt.wantIn)
			}
			sess, err := store.Get("@u:test")
			if err != nil {
				t.Fatalf("Get() error: %v", err)
			}
			if sess.Stage != session.StageNameRequest {
				t.Errorf("stage = %q, want %q", sess.Stage, session.StageNameRequest)
			}
		})
	}
}

func TestEngine_FarewellWithoutName(t *testing.T) {
	eng, store := newTestEngine(t)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	// Force a farewell-stage session with no captured name.
	sess, _, err := store.GetOrCreate("@carol:test", "!room:test", now)
	if err != nil {
		t.Fatalf("GetOrCreate() error: %v", err)
	}
	sess.Stage = session.StageFarewell
	if err := store.Save(sess); err != nil {
		t.Fatalf("Save() error: %v", err)
	}

	reply := say(t, eng, "@carol:test", "bye", now.Add(time.Minute))
	if !strings.Contains(reply, "Goodbye, friend") {
		t.Errorf("reply = %q, want default term of address", reply)
	}
}

func TestEngine_InvalidInput(t *testing.T) {
	eng, store := newTestEngine(t)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		text string
	}{
		{"empty", ""},
		{"whitespace", "   \t\n"},
		{"over limit", strings.Repeat("x", DefaultMaxMessageLength+1)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := eng.handleMessageAt(t.Context(), "@dave:test", "!room:test", tt.text, now)
			if !errors.Is(err, ErrInvalidInput) {
				t.Fatalf("expected ErrInvalidInput, got %v", err)
			}
			// No session may be created for rejected input.
			if _, err := store.Get("@dave:test"); !errors.Is(err, session.ErrNotFound) {
				t.Errorf("expected no session after invalid input, got %v", err)
			}
		})
	}

	// Exactly at the limit is still valid.
	if _, err := eng.handleMessageAt(t.Context(), "@dave:test", "!room:test", strings.Repeat("x", DefaultMaxMessageLength), now); err != nil {
		t.Errorf("expected at-limit message to be accepted, got %v", err)
	}
}

func TestEngine_UnknownStageDegrades(t *testing.T) {
	eng, store := newTestEngine(t)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	sess, _, err := store.GetOrCreate("@eve:test", "!room:test", now)
	if err != nil {
		t.Fatalf("GetOrCreate() error: %v", err)
	}
	sess.Stage = session.Stage("quantum")
	if err := store.Save(sess); err != nil {
		t.Fatalf("Save() error: %v", err)
	}

	reply := say(t, eng, "@eve:test", "hello?", now.Add(time.Minute))
	if !strings.Contains(reply, "didn't quite understand") {
		t.Errorf("reply = %q, want unrecognized fallback", reply)
	}

	// The bogus stage value is left alone so an operator can inspect it.
	sess, err = store.Get("@eve:test")
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if sess.Stage != session.Stage("quantum") {
		t.Errorf("stage = %q, want unchanged", sess.Stage)
	}
}

func TestEngine_TransitionPanicDegrades(t *testing.T) {
	eng, store := newTestEngine(t)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	say(t, eng, "@pat:test", "hi", now)

	// Break classification so the next transition panics inside the
	// engine's recover boundary.
	eng.classifier = nil

	reply := say(t, eng, "@pat:test", "good", now.Add(time.Minute))
	if reply != script.Default().Error {
		t.Errorf("reply = %q, want the generic apology", reply)
	}

	// The session records the activity but stage and name are untouched.
	sess, err := store.Get("@pat:test")
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if sess.Stage != session.StageWellbeing {
		t.Errorf("stage = %q, want unchanged %q", sess.Stage, session.StageWellbeing)
	}
	if !sess.LastActivityAt.Equal(now.Add(time.Minute)) {
		t.Errorf("LastActivityAt = %v, want %v", sess.LastActivityAt, now.Add(time.Minute))
	}

	// A repaired engine picks the conversation up where it left off.
	eng2, err := NewEngine(store, session.NewLocks(), script.Default(), Config{}, nil)
	if err != nil {
		t.Fatalf("NewEngine() error: %v", err)
	}
	reply = say(t, eng2, "@pat:test", "good", now.Add(2*time.Minute))
	if !strings.Contains(reply, "What's your name?") {
		t.Errorf("reply after recovery = %q, want name prompt", reply)
	}
}

func TestEngine_Reset(t *testing.T) {
	eng, store := newTestEngine(t)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	say(t, eng, "@fred:test", "hi", now)
	say(t, eng, "@fred:test", "good", now.Add(time.Minute))

	reply, err := eng.resetAt(t.Context(), "@fred:test", "!room:test", now.Add(2*time.Minute))
	if err != nil {
		t.Fatalf("resetAt() error: %v", err)
	}
	if !strings.Contains(reply, "hi") {
		t.Errorf("reset reply = %q, want opening prompt", reply)
	}

	sess, err := store.Get("@fred:test")
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if sess.Stage != session.StageGreeting {
		t.Errorf("stage after reset = %q, want %q", sess.Stage, session.StageGreeting)
	}
	if sess.Name != "" {
		t.Errorf("name after reset = %q, want empty", sess.Name)
	}
}

func TestEngine_NameIsKeptOnceSet(t *testing.T) {
	eng, store := newTestEngine(t)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	say(t, eng, "@gina:test", "hi", now)
	say(t, eng, "@gina:test", "good", now.Add(time.Minute))
	say(t, eng, "@gina:test", "my name is gina", now.Add(2*time.Minute))

	// A non-farewell message at the farewell stage re-prompts without
	// clobbering the stored name.
	say(t, eng, "@gina:test", "actually wait", now.Add(3*time.Minute))
	sess, err := store.Get("@gina:test")
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if sess.Name != "Gina" {
		t.Errorf("name = %q, want Gina", sess.Name)
	}
}

func TestEngine_OnProcessedHook(t *testing.T) {
	eng, _ := newTestEngine(t)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	var calls int
	eng.SetOnProcessed(func() { calls++ })

	say(t, eng, "@hank:test", "hi", now)
	say(t, eng, "@hank:test", "good", now.Add(time.Minute))
	if calls != 2 {
		t.Errorf("onProcessed calls = %d, want 2", calls)
	}

	// Invalid input is not a processed message.
	_, _ = eng.handleMessageAt(t.Context(), "@hank:test", "!room:test", "", now.Add(2*time.Minute))
	if calls != 2 {
		t.Errorf("onProcessed calls after invalid input = %d, want 2", calls)
	}
}

func TestEngine_TouchUpdatesActivity(t *testing.T) {
	eng, store := newTestEngine(t)
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	later := start.Add(30 * time.Minute)

	say(t, eng, "@iris:test", "hi", start)
	say(t, eng, "@iris:test", "hmm", later)

	sess, err := store.Get("@iris:test")
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if !sess.LastActivityAt.Equal(later) {
		t.Errorf("LastActivityAt = %v, want %v", sess.LastActivityAt, later)
	}
	if !sess.CreatedAt.Equal(start) {
		t.Errorf("CreatedAt = %v, want %v", sess.CreatedAt, start)
	}
}
