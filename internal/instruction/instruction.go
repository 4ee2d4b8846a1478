// Package instruction loads the fixed system instruction that accompanies
// every job request, and computes its cost overhead.
package instruction

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/phrazzld/batchflow/internal/generation"
	"gopkg.in/yaml.v3"
)

// DefaultResponseMIMEType asks the service for structured JSON output.
const DefaultResponseMIMEType = "application/json"

// ErrInvalidInstruction is returned when the instruction file is unusable.
var ErrInvalidInstruction = errors.New("invalid instruction file")

// Estimator is the subset of the cost estimator the overhead needs.
type Estimator interface {
	Estimate(ctx context.Context, text string) (int, error)
}

// Load reads and validates a YAML instruction file:
//
//	name: legal-segmentation
//	system_prompt: |
//	  ...
//	response_mime_type: application/json
//	temperature: 0
func Load(path string) (generation.Instruction, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return generation.Instruction{}, fmt.Errorf("%w: %v", ErrInvalidInstruction, err)
	}
	return Parse(data)
}

// Parse decodes and validates instruction YAML.
func Parse(data []byte) (generation.Instruction, error) {
	var in generation.Instruction
	dec := yaml.NewDecoder(strings.NewReader(string(data)))
	dec.KnownFields(true)
	if err := dec.Decode(&in); err != nil {
		return generation.Instruction{}, fmt.Errorf("%w: %v", ErrInvalidInstruction, err)
	}

	in.SystemPrompt = strings.TrimSpace(in.SystemPrompt)
	if in.SystemPrompt == "" {
		return generation.Instruction{}, fmt.Errorf("%w: system_prompt is empty", ErrInvalidInstruction)
	}
	if in.ResponseMIMEType == "" {
		in.ResponseMIMEType = DefaultResponseMIMEType
	}
	if in.Temperature < 0 || in.Temperature > 2 {
		return generation.Instruction{}, fmt.Errorf("%w: temperature %v out of range [0,2]",
			ErrInvalidInstruction, in.Temperature)
	}
	return in, nil
}

// Overhead returns the cost units the system prompt adds to every request.
func Overhead(ctx context.Context, in generation.Instruction, est Estimator) (int, error) {
	cost, err := est.Estimate(ctx, in.SystemPrompt)
	if err != nil {
		return 0, fmt.Errorf("estimating system prompt cost: %w", err)
	}
	return cost, nil
}
