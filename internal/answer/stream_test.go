package answer

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/tutorialhub/answerd/internal/cache"
	"github.com/tutorialhub/answerd/models"
)

func collectEvents(t *testing.T, events <-chan StreamEvent) []StreamEvent {
	t.Helper()
	var out []StreamEvent
	deadline := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return out
			}
			out = append(out, ev)
		case <-deadline:
			t.Fatal("stream did not close in time")
		}
	}
}

func TestAnswerStreamEmitsPartialsThenComplete(t *testing.T) {
	searcher := &fakeSearcher{results: []models.SearchResult{chunk("c1", "Tab completion", "/features/tab", "Tab accepts the suggestion.")}}
	llm := &stubLLM{deltas: []string{"Tab ", "accepts ", "the suggestion."}}
	svc := newTestService(t, &fakeEmbedder{vec: []float32{0.1}}, llm, searcher, nil)

	events, err := svc.AnswerStream(context.Background(), Request{Question: "how does tab work"})
	if err != nil {
		t.Fatalf("AnswerStream: %v", err)
	}
	got := collectEvents(t, events)
	if len(got) != 4 {
		t.Fatalf("expected 3 partials + 1 complete, got %d events", len(got))
	}

	// Partials carry the accumulated text, monotonically growing.
	wantPartials := []string{"Tab ", "Tab accepts ", "Tab accepts the suggestion."}
	for i, want := range wantPartials {
		ev := got[i]
		if ev.Type != EventPartial || ev.IsComplete {
			t.Fatalf("event %d: expected non-terminal partial, got %+v", i, ev)
		}
		if ev.Answer != want {
			t.Fatalf("event %d: answer %q, want %q", i, ev.Answer, want)
		}
	}

	final := got[len(got)-1]
	if final.Type != EventComplete || !final.IsComplete {
		t.Fatalf("terminal event not complete: %+v", final)
	}
	if final.Answer != "Tab accepts the suggestion." {
		t.Fatalf("unexpected final answer: %q", final.Answer)
	}
	if len(final.Sources) != 1 || final.Sources[0].URL != "/features/tab" {
		t.Fatalf("final event missing sources: %+v", final.Sources)
	}
	if len(final.RelatedQuestions) != 3 {
		t.Fatalf("final event should carry the standard related questions: %v", final.RelatedQuestions)
	}
}

func TestAnswerStreamExactlyOneTerminalEvent(t *testing.T) {
	searcher := &fakeSearcher{results: []models.SearchResult{chunk("c1", "T", "/t", "c")}}

	for name, llm := range map[string]*stubLLM{
		"success": {deltas: []string{"a", "b"}},
		"failure": {err: errors.New("model unavailable")},
	} {
		svc := newTestService(t, &fakeEmbedder{vec: []float32{0.1}}, llm, searcher, nil)
		events, err := svc.AnswerStream(context.Background(), Request{Question: "q " + name})
		if err != nil {
			t.Fatalf("%s: AnswerStream: %v", name, err)
		}
		got := collectEvents(t, events)

		terminals := 0
		for i, ev := range got {
			if ev.Type == EventComplete || ev.Type == EventError {
				terminals++
				if i != len(got)-1 {
					t.Fatalf("%s: terminal event at position %d of %d", name, i, len(got))
				}
			}
		}
		if terminals != 1 {
			t.Fatalf("%s: expected exactly one terminal event, got %d", name, terminals)
		}
	}
}

func TestAnswerStreamErrorFrameOnGenerationFailure(t *testing.T) {
	searcher := &fakeSearcher{results: []models.SearchResult{chunk("c1", "T", "/t", "c")}}
	llm := &stubLLM{err: errors.New("upstream 500")}
	svc := newTestService(t, &fakeEmbedder{vec: []float32{0.1}}, llm, searcher, nil)

	events, err := svc.AnswerStream(context.Background(), Request{Question: "a doomed question"})
	if err != nil {
		t.Fatalf("pre-generation phases should succeed: %v", err)
	}
	got := collectEvents(t, events)
	if len(got) != 1 {
		t.Fatalf("expected a single error frame, got %d events", len(got))
	}
	if got[0].Type != EventError || got[0].Error == "" {
		t.Fatalf("unexpected terminal frame: %+v", got[0])
	}
	if got[0].IsComplete {
		t.Fatal("error frame must not claim completion")
	}
}

func TestAnswerStreamPreGenerationFailuresReturnError(t *testing.T) {
	var vErr *ValidationError
	svc := newTestService(t, &fakeEmbedder{vec: []float32{0.1}}, &stubLLM{}, &fakeSearcher{}, nil)
	if _, err := svc.AnswerStream(context.Background(), Request{Question: ""}); !errors.As(err, &vErr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}

	var embErr *EmbeddingError
	svc = newTestService(t, &fakeEmbedder{vec: []float32{0.1}, err: errors.New("boom")}, &stubLLM{}, &fakeSearcher{}, nil)
	if _, err := svc.AnswerStream(context.Background(), Request{Question: "valid question"}); !errors.As(err, &embErr) {
		t.Fatalf("expected EmbeddingError, got %v", err)
	}
}

func TestAnswerStreamFastPathSingleFrame(t *testing.T) {
	emb := &fakeEmbedder{vec: []float32{0.1}}
	svc := newTestService(t, emb, &stubLLM{}, &fakeSearcher{}, nil)

	events, err := svc.AnswerStream(context.Background(), Request{Question: "is cursor free?"})
	if err != nil {
		t.Fatalf("AnswerStream: %v", err)
	}
	got := collectEvents(t, events)
	if len(got) != 1 || got[0].Type != EventComplete || !got[0].IsComplete {
		t.Fatalf("expected one complete frame, got %+v", got)
	}
	if emb.calls != 0 {
		t.Fatal("fast path stream must not embed")
	}
}

func TestAnswerStreamNoResultsSingleFrame(t *testing.T) {
	llm := &stubLLM{}
	svc := newTestService(t, &fakeEmbedder{vec: []float32{0.1}}, llm, &fakeSearcher{}, nil)

	events, err := svc.AnswerStream(context.Background(), Request{Question: "nothing matches this"})
	if err != nil {
		t.Fatalf("AnswerStream: %v", err)
	}
	got := collectEvents(t, events)
	if len(got) != 1 || !got[0].IsComplete {
		t.Fatalf("expected one complete frame, got %+v", got)
	}
	if llm.calls != 0 {
		t.Fatal("generation must be skipped when retrieval finds nothing")
	}
}

func TestAnswerStreamStoresAnswerForBatchReuse(t *testing.T) {
	cacheSvc := cache.New(nil, discardLogger())
	searcher := &fakeSearcher{results: []models.SearchResult{chunk("c1", "T", "/t", "c")}}
	llm := &stubLLM{deltas: []string{"streamed ", "answer"}}
	svc := NewService(&fakeEmbedder{vec: []float32{0.1}}, llm, searcher, cacheSvc, nil, testMetrics(), discardLogger(), Options{CacheTTL: time.Minute})

	events, err := svc.AnswerStream(context.Background(), Request{Question: "shared question"})
	if err != nil {
		t.Fatalf("AnswerStream: %v", err)
	}
	collectEvents(t, events)

	// The streamed result now serves the batch path without another
	// generation call.
	result, err := svc.Answer(context.Background(), Request{Question: "shared question"})
	if err != nil {
		t.Fatalf("Answer: %v", err)
	}
	if result.Answer != "streamed answer" {
		t.Fatalf("expected cached streamed answer, got %q", result.Answer)
	}
	if llm.calls != 1 {
		t.Fatalf("expected a single generation call, got %d", llm.calls)
	}
}
