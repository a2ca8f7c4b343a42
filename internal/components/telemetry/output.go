package telemetry

import (
	"log/slog"
	"os"
	"path/filepath"
)

// Output receives long diagnostic payloads (full HTTP exchanges, raw
// response bodies) that do not belong in a log line.
type Output interface {
	Write(id string, contents string)
}

// NopOutput discards everything, it is what production runs use.
type NopOutput struct{}

func (NopOutput) Write(string, string) {}

// FilesystemOutput writes every payload into its own file under directory.
type FilesystemOutput struct {
	directory string
}

// NewFilesystemOutput creates (and empties) dir.
func NewFilesystemOutput(dir string) (FilesystemOutput, error) {
	err := os.RemoveAll(dir)
	if err != nil {
		return FilesystemOutput{}, err
	}
	err = os.MkdirAll(dir, 0777)
	if err != nil {
		return FilesystemOutput{}, err
	}
	return FilesystemOutput{directory: dir}, nil
}

func (o FilesystemOutput) Write(id string, contents string) {
	err := os.WriteFile(filepath.Join(o.directory, id), []byte(contents), 0600)
	if err != nil {
		slog.Warn("failed to write message info file", "id", id, "err", err)
	}
}
