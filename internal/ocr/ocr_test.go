package ocr

import (
	"context"
	"errors"
	"fmt"
	"testing"

	openai "github.com/sashabaranov/go-openai"

	"github.com/nikhilbhutani/receiptsearch/internal/config"
)

func TestIsPermanent(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"permanent", permanent(errors.New("bad image")), true},
		{"transient", transient(errors.New("throttled")), false},
		{"wrapped permanent", fmt.Errorf("extract: %w", permanent(errors.New("bad"))), true},
		{"unclassified defaults transient", errors.New("connection reset"), false},
		{"nil", nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsPermanent(tt.err); got != tt.want {
				t.Errorf("IsPermanent(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestClassifyOpenAIError(t *testing.T) {
	for _, code := range []int{400, 413, 415, 422} {
		err := classifyOpenAIError(&openai.APIError{HTTPStatusCode: code})
		if err.Kind != Permanent {
			t.Errorf("status %d must be permanent", code)
		}
	}
	for _, code := range []int{429, 500, 502, 503} {
		err := classifyOpenAIError(&openai.APIError{HTTPStatusCode: code})
		if err.Kind != Transient {
			t.Errorf("status %d must be transient", code)
		}
	}
	if err := classifyOpenAIError(errors.New("dial tcp: timeout")); err.Kind != Transient {
		t.Error("network errors must be transient")
	}
}

func TestExtractRejectsUnsupportedContentType(t *testing.T) {
	p := NewOpenAIProvider("test-key", "")

	_, err := p.Extract(context.Background(), Image{
		Data:        []byte("%PDF-1.4"),
		ContentType: "application/zip",
	})
	if !IsPermanent(err) {
		t.Errorf("unsupported content type must fail permanently, got %v", err)
	}
}

func TestNewProvider(t *testing.T) {
	tests := []struct {
		provider string
		wantName string
		wantErr  bool
	}{
		{"openai", "openai", false},
		{"", "openai", false},
		{"anthropic", "anthropic", false},
		{"tesseract", "", true},
	}
	for _, tt := range tests {
		p, err := NewProvider(config.OCRConfig{Provider: tt.provider, OpenAIKey: "k", AnthropicKey: "k"})
		if tt.wantErr {
			if err == nil {
				t.Errorf("provider %q: expected error", tt.provider)
			}
			continue
		}
		if err != nil {
			t.Errorf("provider %q: %v", tt.provider, err)
			continue
		}
		if p.Name() != tt.wantName {
			t.Errorf("provider %q: got name %s", tt.provider, p.Name())
		}
	}
}

func TestErrorUnwrap(t *testing.T) {
	cause := errors.New("root cause")
	err := transient(cause)
	if !errors.Is(err, cause) {
		t.Error("classified error must unwrap to its cause")
	}
}
