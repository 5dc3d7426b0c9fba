package mail

import (
	"bytes"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/ledongthuc/pdf"
)

// pdfTextLimit caps extracted attachment text so a huge report cannot blow
// up downstream model calls.
const pdfTextLimit = 64 << 10

// PDFText extracts the plain text of a PDF attachment.
func PDFText(data []byte) (string, error) {
	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("opening pdf: %w", err)
	}

	content, err := r.GetPlainText()
	if err != nil {
		return "", fmt.Errorf("extracting pdf text: %w", err)
	}

	text, err := io.ReadAll(io.LimitReader(content, pdfTextLimit))
	if err != nil {
		return "", fmt.Errorf("reading pdf text: %w", err)
	}
	return strings.TrimSpace(string(text)), nil
}

// AttachmentText concatenates the extractable text of a message's PDF
// attachments. Non-PDF attachments and unreadable PDFs are skipped.
func AttachmentText(m Message) string {
	var parts []string
	for _, a := range m.Attachments {
		if !strings.EqualFold(a.MIMEType, "application/pdf") &&
			!strings.HasSuffix(strings.ToLower(a.Filename), ".pdf") {
			continue
		}
		text, err := PDFText(a.Data)
		if err != nil {
			slog.Warn("skipping unreadable pdf attachment", "filename", a.Filename, "error", err)
			continue
		}
		if text != "" {
			parts = append(parts, fmt.Sprintf("[Attachment: %s]\n%s", a.Filename, text))
		}
	}
	return strings.Join(parts, "\n\n")
}
