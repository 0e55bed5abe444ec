package archive

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/clearline/assist/pkg/assist/controller"
	"github.com/clearline/assist/pkg/assist/transcript"
)

func TestFileArchiverWritesSession(t *testing.T) {
	dir := t.TempDir()
	f := FileArchiver{Dir: filepath.Join(dir, "sessions")}

	started := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	sess := controller.ArchivedSession{
		ID:        "sess_1",
		StartedAt: started,
		EndedAt:   started.Add(2 * time.Minute),
		Summary:   "Router rebooted, issue resolved",
		Entries: []transcript.Entry{
			{Speaker: transcript.SpeakerUser, Text: "my wifi is down", Timestamp: started},
			{Speaker: transcript.SpeakerAgent, Text: "Try rebooting the router.", Timestamp: started.Add(time.Minute)},
		},
	}
	if err := f.Archive(context.Background(), sess); err != nil {
		t.Fatalf("Archive: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, "sessions", "sess_1.json"))
	if err != nil {
		t.Fatalf("read archived file: %v", err)
	}
	var got controller.ArchivedSession
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.Summary != sess.Summary {
		t.Fatalf("summary = %q", got.Summary)
	}
	if len(got.Entries) != 2 || got.Entries[1].Text != "Try rebooting the router." {
		t.Fatalf("entries = %#v", got.Entries)
	}
}
