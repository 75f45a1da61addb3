// Package judge asks a vision model whether a rendered drawing satisfies a
// rule that cannot be checked from extracted text.
package judge

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"regexp"
	"strings"
)

// ErrUnavailable is returned when no judge is configured.
var ErrUnavailable = errors.New("judge unavailable")

// Image is an encoded raster sent to the model.
type Image struct {
	MIME string
	Data []byte
}

// PNG wraps PNG bytes.
func PNG(data []byte) Image { return Image{MIME: "image/png", Data: data} }

// MIMEForPath guesses an image type from the file extension.
func MIMEForPath(path string) string {
	switch strings.ToLower(strings.TrimPrefix(filepath.Ext(path), ".")) {
	case "jpg", "jpeg":
		return "image/jpeg"
	case "gif":
		return "image/gif"
	case "bmp":
		return "image/bmp"
	default:
		return "image/png"
	}
}

// DataURI renders the image as a base64 data URI.
func (i Image) DataURI() string {
	mime := i.MIME
	if mime == "" {
		mime = "image/png"
	}
	return "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(i.Data)
}

// Request is one rule check against one drawing raster.
type Request struct {
	Rule      string
	Prompt    string
	Candidate Image
	Reference *Image
}

// Verdict is the model's pass/fail answer.
type Verdict struct {
	Pass    bool   `json:"ok"`
	Comment string `json:"comment"`
}

// Comparison is the model's answer to "are these the same drawing".
type Comparison struct {
	Similar    bool    `json:"similar"`
	Confidence float64 `json:"confidence"`
}

// Judge is a vision model backend.
type Judge interface {
	Judge(ctx context.Context, req Request) (*Verdict, error)
	Compare(ctx context.Context, before, after Image) (*Comparison, error)
	Model() string
}

// RetryableError indicates a transient failure that can be retried.
type RetryableError struct {
	StatusCode int
	Message    string
}

func (e *RetryableError) Error() string {
	return fmt.Sprintf("retryable error (status %d): %s", e.StatusCode, truncate(e.Message, 200))
}

func retryableStatus(code int) bool {
	return code == http.StatusTooManyRequests || code >= 500
}

var codeBlockRe = regexp.MustCompile("(?s)^```(?:json)?\\s*(.*?)\\s*```$")

func stripCodeBlock(s string) string {
	s = strings.TrimSpace(s)
	if m := codeBlockRe.FindStringSubmatch(s); len(m) > 1 {
		return m[1]
	}
	return s
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
