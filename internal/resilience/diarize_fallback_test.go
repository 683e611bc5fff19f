package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/MrWong99/voxident/pkg/provider/diarize"
	diarizemock "github.com/MrWong99/voxident/pkg/provider/diarize/mock"
)

func TestDiarizeFallback_PrimaryPreferred(t *testing.T) {
	t.Parallel()
	primary := &diarizemock.Provider{Result: &diarize.Result{Language: "en"}}
	secondary := &diarizemock.Provider{Result: &diarize.Result{Language: "de"}}

	f := NewDiarizeFallback(primary, "assemblyai", FallbackConfig{})
	f.AddFallback("deepgram", secondary)

	res, err := f.Transcribe(context.Background(), "meeting.webm")
	if err != nil {
		t.Fatalf("transcribe: %v", err)
	}
	if res.Language != "en" {
		t.Fatalf("language = %q, want primary's result", res.Language)
	}
	if len(secondary.TranscribeCalls) != 0 {
		t.Fatal("fallback was called although the primary succeeded")
	}
}

func TestDiarizeFallback_FailsOverToSecondary(t *testing.T) {
	t.Parallel()
	primary := &diarizemock.Provider{Err: errTest}
	secondary := &diarizemock.Provider{Result: &diarize.Result{Language: "en", AudioDurationMS: 1500}}

	f := NewDiarizeFallback(primary, "assemblyai", FallbackConfig{})
	f.AddFallback("deepgram", secondary)

	res, err := f.Transcribe(context.Background(), "meeting.webm")
	if err != nil {
		t.Fatalf("transcribe: %v", err)
	}
	if res.AudioDurationMS != 1500 {
		t.Fatalf("result = %+v, want the fallback's result", res)
	}
	if len(primary.TranscribeCalls) != 1 || len(secondary.TranscribeCalls) != 1 {
		t.Fatalf("calls primary=%d secondary=%d, want 1 each",
			len(primary.TranscribeCalls), len(secondary.TranscribeCalls))
	}
}

func TestDiarizeFallback_OpenBreakerSkipsPrimary(t *testing.T) {
	t.Parallel()
	primary := &diarizemock.Provider{Err: errTest}
	secondary := &diarizemock.Provider{Result: &diarize.Result{Language: "en"}}

	f := NewDiarizeFallback(primary, "assemblyai", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 2, ResetTimeout: time.Hour},
	})
	f.AddFallback("deepgram", secondary)

	// Trip the primary's breaker.
	for i := 0; i < 2; i++ {
		if _, err := f.Transcribe(context.Background(), "a.webm"); err != nil {
			t.Fatalf("transcribe %d: %v", i, err)
		}
	}
	calls := len(primary.TranscribeCalls)

	if _, err := f.Transcribe(context.Background(), "b.webm"); err != nil {
		t.Fatalf("transcribe with open primary: %v", err)
	}
	if len(primary.TranscribeCalls) != calls {
		t.Fatal("primary was called while its breaker was open")
	}
}

func TestDiarizeFallback_AllFail(t *testing.T) {
	t.Parallel()
	primary := &diarizemock.Provider{Err: errTest}

	f := NewDiarizeFallback(primary, "assemblyai", FallbackConfig{})

	_, err := f.Transcribe(context.Background(), "meeting.webm")
	if !errors.Is(err, ErrAllFailed) {
		t.Fatalf("err = %v, want ErrAllFailed", err)
	}
}
