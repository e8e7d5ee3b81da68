package chatwoot

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"os"
	"path/filepath"
	"strings"
)

// ============================================================================
// Attachments
// ============================================================================

// Attachment is a file the backend stored alongside a message. FileType is
// the backend's coarse classification (image, audio, video, file); DataURL is
// the download location.
type Attachment struct {
	ID        int64  `json:"id"`
	FileType  string `json:"file_type"`
	Extension string `json:"extension,omitempty"`
	DataURL   string `json:"data_url"`
	ThumbURL  string `json:"thumb_url,omitempty"`
	FileSize  int64  `json:"file_size,omitempty"`
}

// AttachmentUpload describes one file to attach to an outgoing message. An
// empty MimeType is guessed from the file name.
type AttachmentUpload struct {
	FileName string
	MimeType string
	Data     []byte
}

// maxAttachmentSize mirrors the backend's per-file upload limit.
const maxAttachmentSize = 40 << 20

// AttachmentFromFile reads a local file into an AttachmentUpload.
func AttachmentFromFile(path string) (AttachmentUpload, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return AttachmentUpload{}, fmt.Errorf("read attachment: %w", err)
	}
	return AttachmentUpload{FileName: filepath.Base(path), Data: data}, nil
}

// CreateAttachmentMessage posts a message with file attachments to the active
// conversation. The message endpoint accepts multipart forms next to the
// plain JSON body: a content field plus one attachments[] part per file.
// Content may be empty when the files speak for themselves.
func (c *Client) CreateAttachmentMessage(ctx context.Context, content string, files ...AttachmentUpload) (*Message, error) {
	path, err := c.conversationPath()
	if err != nil {
		return nil, NewClientError(ErrorKindNetwork, err)
	}
	if len(files) == 0 {
		return nil, NewClientError(ErrorKindNetwork, fmt.Errorf("attachment message needs at least one file"))
	}
	for _, f := range files {
		if f.FileName == "" {
			return nil, NewClientError(ErrorKindNetwork, fmt.Errorf("attachment file name is required"))
		}
		if int64(len(f.Data)) > maxAttachmentSize {
			return nil, NewClientError(ErrorKindNetwork,
				fmt.Errorf("attachment %s exceeds the %d MB limit", f.FileName, maxAttachmentSize>>20))
		}
	}

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	if content != "" {
		if err := w.WriteField("content", content); err != nil {
			return nil, NewClientError(ErrorKindNetwork, fmt.Errorf("write content field: %w", err))
		}
	}
	for _, f := range files {
		part, err := w.CreatePart(attachmentPartHeader(f))
		if err != nil {
			return nil, NewClientError(ErrorKindNetwork, fmt.Errorf("create form file: %w", err))
		}
		if _, err := part.Write(f.Data); err != nil {
			return nil, NewClientError(ErrorKindNetwork, fmt.Errorf("write file data: %w", err))
		}
	}
	if err := w.Close(); err != nil {
		return nil, NewClientError(ErrorKindNetwork, fmt.Errorf("close form: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path+"/messages", &buf)
	if err != nil {
		return nil, NewClientError(ErrorKindNetwork, fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("Content-Type", w.FormDataContentType())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, NewClientError(ErrorKindNetwork, fmt.Errorf("POST %s: %w", path+"/messages", err))
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, NewClientError(ErrorKindNetwork, fmt.Errorf("read response: %w", err))
	}
	if resp.StatusCode >= 400 {
		return nil, NewClientError(ErrorKindBackend,
			fmt.Errorf("POST %s: %s: %s", path+"/messages", resp.Status, bodySnippet(data)))
	}
	return decodeJSON[Message](data)
}

// attachmentPartHeader builds the form-data header for one file part. The
// stock CreateFormFile helper pins every part to application/octet-stream,
// which makes the backend classify everything as a generic file, so the MIME
// type is set explicitly here.
func attachmentPartHeader(f AttachmentUpload) textproto.MIMEHeader {
	mimeType := f.MimeType
	if mimeType == "" {
		mimeType = guessMimeType(f.FileName)
	}
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition",
		fmt.Sprintf(`form-data; name="attachments[]"; filename="%s"`, escapeQuotes(f.FileName)))
	h.Set("Content-Type", mimeType)
	return h
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, `\"`)

func escapeQuotes(s string) string {
	return quoteEscaper.Replace(s)
}

// guessMimeType returns the MIME type for a file name's extension.
func guessMimeType(fileName string) string {
	ext := filepath.Ext(fileName)
	if ext == "" {
		return "application/octet-stream"
	}
	// Fallback for types not in Go's builtin registry
	fallback := map[string]string{
		".md": "text/markdown", ".yaml": "text/yaml", ".yml": "text/yaml",
		".webp": "image/webp", ".webm": "video/webm",
	}
	if m, ok := fallback[ext]; ok {
		return m
	}
	if t := mime.TypeByExtension(ext); t != "" {
		// Strip charset parameter ("text/plain; charset=utf-8" becomes "text/plain")
		if idx := strings.Index(t, ";"); idx > 0 {
			t = strings.TrimSpace(t[:idx])
		}
		return t
	}
	return "application/octet-stream"
}
