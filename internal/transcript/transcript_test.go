package transcript

import (
	"encoding/json"
	"testing"
)

func TestAppend_ReturnsIndex(t *testing.T) {
	tr := New()

	if idx := tr.Append(UserEntry("hello", "m-1")); idx != 0 {
		t.Errorf("first index = %d, want 0", idx)
	}
	if idx := tr.Append(SystemEntry("connected")); idx != 1 {
		t.Errorf("second index = %d, want 1", idx)
	}
	if tr.Len() != 2 {
		t.Errorf("Len = %d, want 2", tr.Len())
	}
}

func TestAppendOrExtendStreaming_CreatesThenExtends(t *testing.T) {
	tr := New()

	tr.AppendOrExtendStreaming("Hel")
	tr.AppendOrExtendStreaming("lo!")

	entries := tr.Entries()
	if len(entries) != 1 {
		t.Fatalf("len = %d, want 1 (fragments should extend one entry)", len(entries))
	}
	if entries[0].Content != "Hello!" {
		t.Errorf("Content = %q, want %q", entries[0].Content, "Hello!")
	}
	if !entries[0].Streaming {
		t.Error("entry should still be streaming")
	}
}

func TestAppendOrExtendStreaming_DoesNotExtendFinalized(t *testing.T) {
	tr := New()

	tr.AppendOrExtendStreaming("first")
	tr.FinalizeStreaming("first", nil)
	tr.AppendOrExtendStreaming("second")

	entries := tr.Entries()
	if len(entries) != 2 {
		t.Fatalf("len = %d, want 2", len(entries))
	}
	if entries[0].Streaming {
		t.Error("finalized entry should not be streaming")
	}
	if !entries[1].Streaming {
		t.Error("new fragment should open a new streaming entry")
	}
}

func TestFinalizeStreaming_FullTextWins(t *testing.T) {
	tr := New()

	// Simulate a duplicated fragment during transport.
	tr.AppendOrExtendStreaming("Hel")
	tr.AppendOrExtendStreaming("Hel")
	tr.AppendOrExtendStreaming("lo!")
	tr.FinalizeStreaming("Hello!", []string{"step 1", "step 2"})

	entries := tr.Entries()
	if len(entries) != 1 {
		t.Fatalf("len = %d, want 1", len(entries))
	}
	got := entries[0]
	if got.Content != "Hello!" {
		t.Errorf("Content = %q, want %q (full text must win)", got.Content, "Hello!")
	}
	if got.Streaming {
		t.Error("entry should be finalized")
	}
	if len(got.Trace) != 2 || got.Trace[0] != "step 1" {
		t.Errorf("Trace = %v, want two steps", got.Trace)
	}
}

func TestFinalizeStreaming_NoStreamingEntry(t *testing.T) {
	tr := New()
	tr.Append(UserEntry("question", "m-1"))

	// All fragments lost (e.g. across a reconnect); completion still
	// produces the assistant entry.
	tr.FinalizeStreaming("recovered answer", nil)

	entries := tr.Entries()
	if len(entries) != 2 {
		t.Fatalf("len = %d, want 2", len(entries))
	}
	if entries[1].Role != RoleAssistant || entries[1].Content != "recovered answer" {
		t.Errorf("tail = %+v, want finalized assistant entry", entries[1])
	}
	if entries[1].Streaming {
		t.Error("recovered entry should not be streaming")
	}
}

func TestAttachToolResult_TailAssistant(t *testing.T) {
	tr := New()
	tr.AppendOrExtendStreaming("Working on it")

	tr.AttachToolResult("search", json.RawMessage(`{"hits":3}`))

	entries := tr.Entries()
	if len(entries) != 1 {
		t.Fatalf("len = %d, want 1", len(entries))
	}
	if len(entries[0].Tools) != 1 {
		t.Fatalf("Tools len = %d, want 1", len(entries[0].Tools))
	}
	if entries[0].Tools[0].Name != "search" {
		t.Errorf("tool name = %q, want %q", entries[0].Tools[0].Name, "search")
	}
}

func TestAttachToolResult_CreatesPlaceholder(t *testing.T) {
	tr := New()
	tr.Append(UserEntry("run the tool", "m-1"))

	// Tool result arrives before the first reply fragment.
	tr.AttachToolResult("shell", json.RawMessage(`"ok"`))
	tr.AppendOrExtendStreaming("Done.")

	entries := tr.Entries()
	if len(entries) != 2 {
		t.Fatalf("len = %d, want 2", len(entries))
	}
	tail := entries[1]
	if tail.Role != RoleAssistant {
		t.Fatalf("tail role = %q, want assistant", tail.Role)
	}
	if len(tail.Tools) != 1 {
		t.Errorf("Tools len = %d, want 1", len(tail.Tools))
	}
	// The subsequent fragment must flow into the placeholder, not open a
	// second assistant entry.
	if tail.Content != "Done." {
		t.Errorf("Content = %q, want %q", tail.Content, "Done.")
	}
}

func TestSingleStreamingTail(t *testing.T) {
	tr := New()
	tr.Append(UserEntry("q1", "m-1"))
	tr.AppendOrExtendStreaming("a1")
	tr.FinalizeStreaming("a1", nil)
	tr.Append(UserEntry("q2", "m-2"))
	tr.AppendOrExtendStreaming("a2 partial")

	entries := tr.Entries()
	streaming := 0
	for i, e := range entries {
		if e.Streaming {
			streaming++
			if i != len(entries)-1 {
				t.Errorf("streaming entry at index %d is not the tail", i)
			}
		}
	}
	if streaming != 1 {
		t.Errorf("streaming entries = %d, want 1", streaming)
	}
}

func TestClear(t *testing.T) {
	tr := New()
	tr.Append(UserEntry("hello", ""))
	tr.AppendOrExtendStreaming("partial")

	tr.Clear()

	if tr.Len() != 0 {
		t.Errorf("Len = %d, want 0 after Clear", tr.Len())
	}
	if tr.Streaming() {
		t.Error("Streaming should be false after Clear")
	}
}

func TestEntries_SnapshotIsolation(t *testing.T) {
	tr := New()
	tr.AppendOrExtendStreaming("partial")
	tr.AttachToolResult("search", json.RawMessage(`1`))

	snap := tr.Entries()
	snap[0].Content = "mutated"
	snap[0].Tools[0].Name = "mutated"

	fresh := tr.Entries()
	if fresh[0].Content != "partial" {
		t.Error("snapshot mutation leaked into transcript content")
	}
	if fresh[0].Tools[0].Name != "search" {
		t.Error("snapshot mutation leaked into tool records")
	}
}
