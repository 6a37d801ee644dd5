package upload

import (
	"context"
	"errors"
	"os"
	"strconv"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

func newSession(id SessionID, now time.Time) Session {
	return Session{
		ID:        id,
		Kind:      KindVideo,
		ScopeID:   "chapter-1",
		FileName:  "intro.mp4",
		Stage:     StageValidating,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// testSessionStore runs the behaviour every SessionStore must share.
func testSessionStore(t *testing.T, s SessionStore) {
	ctx := context.Background()
	now := time.Now().UTC()

	t.Run("get unknown", func(t *testing.T) {
		if _, err := s.Get(ctx, "missing"); !errors.Is(err, ErrSessionNotFound) {
			t.Fatalf("expected ErrSessionNotFound, got %v", err)
		}
	})

	t.Run("put get", func(t *testing.T) {
		if err := s.Put(ctx, newSession("s-put", now)); err != nil {
			t.Fatal(err)
		}
		got, err := s.Get(ctx, "s-put")
		if err != nil {
			t.Fatal(err)
		}
		if got.Stage != StageValidating || got.FileName != "intro.mp4" {
			t.Errorf("unexpected session %+v", got)
		}
	})

	t.Run("update forward", func(t *testing.T) {
		if err := s.Put(ctx, newSession("s-fwd", now)); err != nil {
			t.Fatal(err)
		}
		got, err := s.Update(ctx, "s-fwd", func(x *Session) error {
			x.Stage = StageUploading
			x.ProgressPercent = 40
			return nil
		})
		if err != nil {
			t.Fatal(err)
		}
		if got.Stage != StageUploading || got.ProgressPercent != 40 {
			t.Errorf("unexpected session %+v", got)
		}
	})

	t.Run("update rejects regression", func(t *testing.T) {
		if err := s.Put(ctx, newSession("s-back", now)); err != nil {
			t.Fatal(err)
		}
		if _, err := s.Update(ctx, "s-back", func(x *Session) error {
			x.Stage = StageProcessing
			x.ProgressPercent = 80
			return nil
		}); err != nil {
			t.Fatal(err)
		}
		_, err := s.Update(ctx, "s-back", func(x *Session) error {
			x.Stage = StageUploading
			return nil
		})
		if !errors.Is(err, ErrStageRegression) {
			t.Fatalf("expected ErrStageRegression, got %v", err)
		}
		got, _ := s.Get(ctx, "s-back")
		if got.Stage != StageProcessing {
			t.Errorf("rejected write leaked: %+v", got)
		}
	})

	t.Run("update after terminal", func(t *testing.T) {
		if err := s.Put(ctx, newSession("s-done", now)); err != nil {
			t.Fatal(err)
		}
		if _, err := s.Update(ctx, "s-done", failWith(newError(CodeCancelled, "stop"), now)); err != nil {
			t.Fatal(err)
		}
		_, err := s.Update(ctx, "s-done", func(x *Session) error {
			x.Stage = StageCompleted
			return nil
		})
		if !errors.Is(err, ErrSessionClosed) {
			t.Fatalf("expected ErrSessionClosed, got %v", err)
		}
		got, _ := s.Get(ctx, "s-done")
		if got.Error == nil || !errors.Is(got.Error, ErrCancelled) {
			t.Errorf("expected cancelled error to survive, got %+v", got.Error)
		}
	})

	t.Run("update fn error aborts", func(t *testing.T) {
		if err := s.Put(ctx, newSession("s-abort", now)); err != nil {
			t.Fatal(err)
		}
		boom := errors.New("boom")
		_, err := s.Update(ctx, "s-abort", func(x *Session) error {
			x.Stage = StageUploading
			return boom
		})
		if !errors.Is(err, boom) {
			t.Fatalf("expected fn error, got %v", err)
		}
		got, _ := s.Get(ctx, "s-abort")
		if got.Stage != StageValidating {
			t.Errorf("aborted write leaked: %+v", got)
		}
	})

	t.Run("update unknown", func(t *testing.T) {
		_, err := s.Update(ctx, "missing", func(*Session) error { return nil })
		if !errors.Is(err, ErrSessionNotFound) {
			t.Fatalf("expected ErrSessionNotFound, got %v", err)
		}
	})

	t.Run("delete", func(t *testing.T) {
		if err := s.Put(ctx, newSession("s-del", now)); err != nil {
			t.Fatal(err)
		}
		if err := s.Delete(ctx, "s-del"); err != nil {
			t.Fatal(err)
		}
		if _, err := s.Get(ctx, "s-del"); !errors.Is(err, ErrSessionNotFound) {
			t.Fatalf("expected ErrSessionNotFound after delete, got %v", err)
		}
		if err := s.Delete(ctx, "s-del"); err != nil {
			t.Errorf("second delete: %v", err)
		}
	})
}

func TestInMemoryStore(t *testing.T) {
	testSessionStore(t, NewInMemoryStore(DefaultRetention))
}

func TestRedisStore(t *testing.T) {
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TEST_REDIS_ADDR not set")
	}
	db, _ := strconv.Atoi(os.Getenv("TEST_REDIS_DB"))
	client := redis.NewClient(&redis.Options{Addr: addr, DB: db})
	t.Cleanup(func() { client.Close() })
	if err := client.Ping(context.Background()).Err(); err != nil {
		t.Skipf("redis not reachable: %v", err)
	}
	t.Cleanup(func() {
		ctx := context.Background()
		keys, _ := client.Keys(ctx, redisKeyPrefix+"s-*").Result()
		if len(keys) > 0 {
			client.Del(ctx, keys...)
		}
	})

	testSessionStore(t, NewRedisStore(client, DefaultRetention))

	t.Run("ttl follows stage", func(t *testing.T) {
		ctx := context.Background()
		s := NewRedisStore(client, Retention{Finished: time.Minute, MaxAge: time.Hour})
		if err := s.Put(ctx, newSession("s-ttl", time.Now().UTC())); err != nil {
			t.Fatal(err)
		}
		ttl := client.TTL(ctx, redisKey("s-ttl")).Val()
		if ttl <= time.Minute || ttl > time.Hour {
			t.Errorf("running session ttl = %v, want about an hour", ttl)
		}
		if _, err := s.Update(ctx, "s-ttl", failWith(newError(CodeTransfer, "x"), time.Now().UTC())); err != nil {
			t.Fatal(err)
		}
		ttl = client.TTL(ctx, redisKey("s-ttl")).Val()
		if ttl <= 0 || ttl > time.Minute {
			t.Errorf("finished session ttl = %v, want at most a minute", ttl)
		}
	})
}

func TestInMemoryStore_expiry(t *testing.T) {
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	clock := base
	s := NewInMemoryStore(Retention{Finished: 5 * time.Minute, MaxAge: time.Hour})
	s.now = func() time.Time { return clock }

	if err := s.Put(ctx, newSession("running", base)); err != nil {
		t.Fatal(err)
	}
	if err := s.Put(ctx, newSession("done", base)); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Update(ctx, "done", failWith(newError(CodeValidation, "bad"), base)); err != nil {
		t.Fatal(err)
	}

	clock = base.Add(4 * time.Minute)
	if _, err := s.Get(ctx, "done"); err != nil {
		t.Errorf("finished session should be readable during retention: %v", err)
	}

	clock = base.Add(6 * time.Minute)
	if _, err := s.Get(ctx, "done"); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("finished session should expire after retention, got %v", err)
	}
	if _, err := s.Get(ctx, "running"); err != nil {
		t.Errorf("running session should not expire before max age: %v", err)
	}
	if n := s.Sweep(); n != 1 {
		t.Errorf("Sweep removed %d, want 1", n)
	}

	clock = base.Add(61 * time.Minute)
	if _, err := s.Get(ctx, "running"); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("abandoned session should expire after max age, got %v", err)
	}
	if n := s.Sweep(); n != 1 {
		t.Errorf("Sweep removed %d, want 1", n)
	}
	if s.Len() != 0 {
		t.Errorf("expected empty store, got %d", s.Len())
	}
}

func TestInMemoryStore_Run(t *testing.T) {
	s := NewInMemoryStore(Retention{Finished: time.Millisecond, MaxAge: time.Hour})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	now := time.Now().UTC()
	if err := s.Put(ctx, newSession("x", now)); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Update(ctx, "x", failWith(newError(CodeTransfer, "x"), now)); err != nil {
		t.Fatal(err)
	}

	done := make(chan struct{})
	go func() {
		s.Run(ctx, 5*time.Millisecond)
		close(done)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for s.Len() != 0 {
		if time.Now().After(deadline) {
			t.Fatal("sweeper did not remove the expired session")
		}
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	<-done
}

func TestCheckTransition(t *testing.T) {
	at := func(stage Stage, pct int) Session { return Session{Stage: stage, ProgressPercent: pct} }
	tests := []struct {
		name       string
		prev, next Session
		want       error
	}{
		{"validating to uploading", at(StageValidating, 0), at(StageUploading, 0), nil},
		{"progress within stage", at(StageUploading, 10), at(StageUploading, 30), nil},
		{"uploading to processing", at(StageUploading, 79), at(StageProcessing, 80), nil},
		{"processing to completed", at(StageProcessing, 99), at(StageCompleted, 100), nil},
		{"validating straight to error", at(StageValidating, 0), at(StageError, 0), nil},
		{"error keeps progress", at(StageProcessing, 90), at(StageError, 90), nil},
		{"stage backwards", at(StageProcessing, 80), at(StageUploading, 80), ErrStageRegression},
		{"progress backwards", at(StageUploading, 50), at(StageUploading, 40), ErrStageRegression},
		{"after completed", at(StageCompleted, 100), at(StageError, 100), ErrSessionClosed},
		{"after error", at(StageError, 0), at(StageUploading, 10), ErrSessionClosed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := checkTransition(tt.prev, tt.next)
			if !errors.Is(err, tt.want) {
				t.Errorf("checkTransition = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestError_Is(t *testing.T) {
	err := newError(CodeValidation, "too big")
	if !errors.Is(err, ErrValidation) {
		t.Error("expected validation error to match ErrValidation")
	}
	if errors.Is(err, ErrTransfer) {
		t.Error("validation error must not match ErrTransfer")
	}
	if got := err.Error(); got != "validation: too big" {
		t.Errorf("Error() = %q", got)
	}
}
