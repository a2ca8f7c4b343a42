package wizard_test

import (
	"context"
	"testing"

	"tmfiling-backend/internal/filing"
	"tmfiling-backend/internal/wizard/wizardtest"

	"github.com/stretchr/testify/require"
)

func figurativeRequest() filing.Request {
	req := wordMarkRequest()
	req.Mark = filing.Mark{
		Type:        filing.MARK_FIGURATIVE,
		Description: "Stilisierter Leuchtturm",
		Image: &filing.Image{
			Data:     []byte{0x89, 'P', 'N', 'G', 0x0d, 0x0a, 0x1a, 0x0a},
			MimeType: "image/png",
			FileName: "leuchtturm.png",
		},
	}
	return req
}

func TestUploadSequence(t *testing.T) {
	h := newHarness(t, wizardtest.Options{HeaderIDs: defaultHeaders()}, nil)

	session, err := h.engine.Run(context.Background(), figurativeRequest())
	require.NoError(t, err)
	require.Empty(t, session.Warnings)

	var trademark []wizardtest.Request
	for _, r := range h.server.Requests() {
		if r.Step == "trademark" {
			trademark = append(trademark, r)
		}
	}
	require.Len(t, trademark, 4)

	require.Equal(t, "editor:markType", trademark[0].Source)
	require.Equal(t, "BILDMARKE", trademark[0].Form.Get("editor:markType_input"))

	require.Equal(t, "editor:markImageUploadButton", trademark[1].Source)
	require.Equal(t, "@all", trademark[1].Form.Get("javax.faces.partial.execute"))
	require.Equal(t, "@all", trademark[1].Form.Get("javax.faces.partial.render"))
	require.Nil(t, trademark[1].File)

	upload := trademark[2]
	require.Equal(t, h.server.Endpoints.Upload, upload.Path)
	require.NotNil(t, upload.File)
	require.Equal(t, "leuchtturm.jpg", upload.File.Name)
	require.Equal(t, "image/jpeg", upload.File.ContentType)
	require.Equal(t, 8, upload.File.Size)
	// tokens travel as multipart parts
	require.Equal(t, trademark[1].Issued.ViewState, upload.Sent.ViewState)

	require.Equal(t, "editor:btnNext", trademark[3].Source)
	require.Equal(t, "Stilisierter Leuchtturm", trademark[3].Form.Get("editor:markDescription"))
	require.Equal(t, upload.Issued.ViewState, trademark[3].Sent.ViewState)
}

func TestUploadFailureIsWarning(t *testing.T) {
	h := newHarness(t, wizardtest.Options{
		HeaderIDs:     defaultHeaders(),
		UploadFailure: true,
	}, nil)

	session, err := h.engine.Run(context.Background(), figurativeRequest())
	require.NoError(t, err)
	require.Equal(t, 8, session.Cursor)
	require.Len(t, session.Warnings, 1)
	require.Contains(t, session.Warnings[0], "leuchtturm.jpg")
	require.True(t, h.tel.Has("warning", "upload.transfer"))
}

func TestImageMarkWithoutImage(t *testing.T) {
	h := newHarness(t, wizardtest.Options{HeaderIDs: defaultHeaders()}, nil)

	req := figurativeRequest()
	req.Mark.Image = nil

	session, err := h.engine.Run(context.Background(), req)
	require.Error(t, err)
	require.Equal(t, 3, session.Cursor)
}
