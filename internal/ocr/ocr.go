package ocr

import (
	"context"
	"errors"
	"fmt"

	"github.com/nikhilbhutani/receiptsearch/internal/config"
)

// ErrorKind separates failures the queue should retry from failures that are
// final for this image.
type ErrorKind int

const (
	// Transient covers timeouts, throttling and 5xx-class provider errors.
	// The job message must not be acknowledged so the lease expiry redelivers it.
	Transient ErrorKind = iota
	// Permanent covers malformed or unsupported images. The receipt moves to
	// failed and the message is acknowledged.
	Permanent
)

// Error is a classified OCR failure.
type Error struct {
	Kind ErrorKind
	Err  error
}

func (e *Error) Error() string {
	if e.Kind == Permanent {
		return fmt.Sprintf("permanent ocr error: %v", e.Err)
	}
	return fmt.Sprintf("transient ocr error: %v", e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// IsPermanent reports whether err is a classified permanent OCR failure.
// Unclassified errors default to transient so nothing is dropped silently.
func IsPermanent(err error) bool {
	var oerr *Error
	return errors.As(err, &oerr) && oerr.Kind == Permanent
}

func transient(err error) *Error { return &Error{Kind: Transient, Err: err} }
func permanent(err error) *Error { return &Error{Kind: Permanent, Err: err} }

// Image is the raw bytes of a stored receipt image.
type Image struct {
	Data        []byte
	ContentType string
}

// Result is the provider's transcription output.
type Result struct {
	Text string
}

// Provider transcribes receipt images. Implementations classify their
// failures as Transient or Permanent via *Error.
type Provider interface {
	Name() string
	Extract(ctx context.Context, img Image) (*Result, error)
}

const extractPrompt = `Transcribe ALL text visible on this purchase receipt.
Return only the text content, one line per printed line, preserving the
original order. Do not add commentary.`

// NewProvider builds the configured vision provider.
func NewProvider(cfg config.OCRConfig) (Provider, error) {
	switch cfg.Provider {
	case "openai", "":
		return NewOpenAIProvider(cfg.OpenAIKey, cfg.Model), nil
	case "anthropic":
		return NewAnthropicProvider(cfg.AnthropicKey, cfg.Model), nil
	default:
		return nil, fmt.Errorf("unknown OCR provider: %s", cfg.Provider)
	}
}
