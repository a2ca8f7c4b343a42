package dispatch

import (
	"archive/zip"
	"bytes"
	"errors"
	"fmt"
	"io"
	"mime"
	"path"
	"strings"
)

var ErrArchiveUnreadable = errors.New("document archive unreadable")

// Document is a single file taken from the dispatch archive.
type Document struct {
	Name        string
	ContentType string
	Data        []byte
}

var contentTypes = map[string]string{
	".pdf":  "application/pdf",
	".xml":  "application/xml",
	".png":  "image/png",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".txt":  "text/plain",
	".html": "text/html",
	".json": "application/json",
}

func contentType(name string) string {
	ext := strings.ToLower(path.Ext(name))
	if ct, ok := contentTypes[ext]; ok {
		return ct
	}
	if ct := mime.TypeByExtension(ext); ct != "" {
		return ct
	}
	return "application/octet-stream"
}

// Unpack reads every regular file of a zip archive, in archive order.
func Unpack(archive []byte) ([]Document, error) {
	if len(archive) == 0 {
		return nil, fmt.Errorf("%w: empty", ErrArchiveUnreadable)
	}
	reader, err := zip.NewReader(bytes.NewReader(archive), int64(len(archive)))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrArchiveUnreadable, err)
	}

	var documents []Document
	for _, entry := range reader.File {
		if entry.FileInfo().IsDir() {
			continue
		}
		data, err := readEntry(entry)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrArchiveUnreadable, entry.Name, err)
		}
		documents = append(documents, Document{
			Name:        path.Base(entry.Name),
			ContentType: contentType(entry.Name),
			Data:        data,
		})
	}
	return documents, nil
}

func readEntry(entry *zip.File) ([]byte, error) {
	rc, err := entry.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}
