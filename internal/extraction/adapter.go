package extraction

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/cuongbtq/rx-pipeline/internal/domain"
)

const reasonUnparseable = "unparseable extraction response"

// Completer is the chat transport the adapter depends on
type Completer interface {
	Complete(ctx context.Context, req CompletionRequest) (string, error)
}

// Adapter implements the classification and extraction operations on top
// of a chat model.
type Adapter struct {
	completer   Completer
	model       string
	visionModel string
	maxText     int
	logger      *slog.Logger
}

// NewAdapter wires the adapter to a completer; empty models fall back to gpt-4o-mini
func NewAdapter(completer Completer, cfg Config, logger *slog.Logger) *Adapter {
	model := cfg.Model
	if model == "" {
		model = "gpt-4o-mini"
	}
	vision := cfg.VisionModel
	if vision == "" {
		vision = model
	}
	return &Adapter{
		completer:   completer,
		model:       model,
		visionModel: vision,
		maxText:     cfg.MaxPromptTextSize,
		logger:      logger,
	}
}

// ClassifyImage asks the vision model whether the prescription is handwritten
func (a *Adapter) ClassifyImage(ctx context.Context, path, credential string) (domain.Classification, error) {
	dataURL, err := imageDataURL(path)
	if err != nil {
		return domain.Classification{}, err
	}

	raw, err := a.completer.Complete(ctx, CompletionRequest{
		Credential:   credential,
		Model:        a.visionModel,
		System:       classifyPrompt,
		User:         "Classify this prescription image.",
		ImageDataURL: dataURL,
	})
	if err != nil {
		return domain.Classification{}, fmt.Errorf("failed to classify image: %w", err)
	}

	classification, err := ParseClassification(raw)
	if err != nil {
		return domain.Classification{}, err
	}

	a.logger.Debug("Image classified",
		slog.String("file", filepath.Base(path)),
		slog.Bool("handwritten", classification.Handwritten),
	)
	return classification, nil
}

// ExtractFromImage runs structured extraction over a typed prescription image
func (a *Adapter) ExtractFromImage(ctx context.Context, path, credential string) (domain.Extraction, error) {
	dataURL, err := imageDataURL(path)
	if err != nil {
		return domain.Extraction{}, err
	}

	raw, err := a.completer.Complete(ctx, CompletionRequest{
		Credential:   credential,
		Model:        a.visionModel,
		System:       extractPrompt,
		User:         imageUserPrompt,
		ImageDataURL: dataURL,
	})
	if err != nil {
		return domain.Extraction{}, fmt.Errorf("failed to extract from image: %w", err)
	}

	return a.parse(raw)
}

// ExtractFromText runs structured extraction over document text
func (a *Adapter) ExtractFromText(ctx context.Context, text, credential string) (domain.Extraction, error) {
	if a.maxText > 0 {
		text = truncate(text, a.maxText)
	}

	raw, err := a.completer.Complete(ctx, CompletionRequest{
		Credential: credential,
		Model:      a.model,
		System:     extractPrompt,
		User:       textUserPrompt + text,
	})
	if err != nil {
		return domain.Extraction{}, fmt.Errorf("failed to extract from text: %w", err)
	}

	return a.parse(raw)
}

func (a *Adapter) parse(raw string) (domain.Extraction, error) {
	extraction, err := ParseResponse(raw)
	if errors.Is(err, ErrParse) {
		a.logger.Warn("Model response could not be parsed",
			slog.Int("raw_len", len(raw)),
			slog.Any("error", err),
		)
		return domain.Human(reasonUnparseable), nil
	}
	return extraction, err
}

func imageDataURL(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", domain.Permanentf("failed to read image: %v", err)
	}

	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
	return "data:" + domain.ContentTypeForExt(ext) + ";base64," + base64.StdEncoding.EncodeToString(data), nil
}
