package wizard

import (
	"context"
	"fmt"
	"net/url"
	"path/filepath"
	"strings"

	"tmfiling-backend/internal/filing"
)

const (
	report_upload_transfer = "upload.transfer"
)

// the server only accepts jpeg representations, whatever the caller sent
const (
	upload_content_type   = "image/jpeg"
	upload_extension      = ".jpg"
	upload_default_name   = "marke"
	upload_failure_marker = "ui-fileupload-error"
)

// uploadFileName keeps the caller's base name but forces the extension the
// server expects.
func uploadFileName(name string) string {
	base := filepath.Base(strings.TrimSpace(name))
	base = strings.TrimSuffix(base, filepath.Ext(base))
	if base == "" || base == "." || base == string(filepath.Separator) {
		base = upload_default_name
	}
	return base + upload_extension
}

// upload opens the attachment dialog and transfers the mark image. Failure
// markers in the transfer response are reported as warnings, the wizard
// rejects a missing image itself when the trademark step is submitted.
func (e *Engine) upload(ctx context.Context, s Session, image filing.Image) (Session, error) {
	s, _, err := e.roundTrip(ctx, s, envelope{
		source:  component_upload_button,
		execute: scope_all,
		render:  scope_all,
		fields:  url.Values{},
	})
	if err != nil {
		return s, fmt.Errorf("open dialog: %w", err)
	}

	file := FilePart{
		Field:       component_upload + "_input",
		FileName:    uploadFileName(image.FileName),
		ContentType: upload_content_type,
		Data:        image.Data,
	}
	s, ex, err := e.roundTrip(ctx, s, envelope{
		source:  component_upload,
		execute: component_upload,
		render:  component_mark_panel,
		fields:  url.Values{},
		file:    &file,
		lenient: true,
	})
	if err != nil {
		return s, fmt.Errorf("transfer: %w", err)
	}

	if strings.Contains(ex.doc.Raw, upload_failure_marker) {
		s = e.warn(s, report_upload_transfer, "upload of %s reported a failure", file.FileName)
	}
	e.tel.ReportDebug(report_upload_transfer, file.FileName, len(file.Data))
	return s, nil
}
