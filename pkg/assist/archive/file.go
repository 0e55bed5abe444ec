package archive

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/clearline/assist/pkg/assist/controller"
)

// FileArchiver writes each finished session as a JSON file in a directory.
// It is the default archiver for the command-line client, where a database
// is usually not around.
type FileArchiver struct {
	Dir string
}

func (f FileArchiver) Archive(_ context.Context, sess controller.ArchivedSession) error {
	if err := os.MkdirAll(f.Dir, 0o755); err != nil {
		return fmt.Errorf("archive: mkdir: %w", err)
	}
	data, err := json.MarshalIndent(sess, "", "  ")
	if err != nil {
		return fmt.Errorf("archive: marshal: %w", err)
	}
	path := filepath.Join(f.Dir, sess.ID+".json")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("archive: write %s: %w", path, err)
	}
	return nil
}
