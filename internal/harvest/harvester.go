// Package harvest drives a device shell through its paginated configuration dump
// and returns the cleaned configuration text.
package harvest

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/bueste/switchbackup/internal/transport"
	"github.com/bueste/switchbackup/pkg/models"
)

// State is a step of the harvest state machine
type State int

const (
	StateIdle State = iota
	StateAwaitingInitialResponse
	StatePaging
	StateComplete
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAwaitingInitialResponse:
		return "awaiting_initial_response"
	case StatePaging:
		return "paging"
	case StateComplete:
		return "complete"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// HarvesterConfig contains harvester configuration
type HarvesterConfig struct {
	MaxIterations  int           `mapstructure:"max_iterations"`
	ReceiveTimeout time.Duration `mapstructure:"receive_timeout"`
	MaxOutputBytes int           `mapstructure:"max_output_bytes"`
	ChunkSize      int           `mapstructure:"chunk_size"`
	PromptPattern  string        `mapstructure:"prompt_pattern"`
}

// DefaultHarvesterConfig returns default harvester configuration
func DefaultHarvesterConfig() *HarvesterConfig {
	return &HarvesterConfig{
		MaxIterations:  2000,
		ReceiveTimeout: 20 * time.Second,
		MaxOutputBytes: 10 * 1024 * 1024, // 10MB
		ChunkSize:      8000,
	}
}

// Harvester runs the paging loop against an open session
type Harvester struct {
	config *HarvesterConfig
	prompt *regexp.Regexp
	logger *zap.Logger
}

// NewHarvester creates a new harvester
func NewHarvester(logger *zap.Logger, config *HarvesterConfig) (*Harvester, error) {
	if config == nil {
		config = DefaultHarvesterConfig()
	}
	if config.MaxIterations <= 0 {
		return nil, fmt.Errorf("%w: harvest.max_iterations must be positive", models.ErrFatalConfig)
	}
	if config.ReceiveTimeout <= 0 {
		return nil, fmt.Errorf("%w: harvest.receive_timeout must be positive", models.ErrFatalConfig)
	}

	h := &Harvester{config: config, logger: logger}
	if config.PromptPattern != "" {
		re, err := regexp.Compile(config.PromptPattern)
		if err != nil {
			return nil, fmt.Errorf("%w: harvest.prompt_pattern: %v", models.ErrFatalConfig, err)
		}
		h.prompt = re
	}
	return h, nil
}

// Harvest sends the vendor's configuration command, pages through the output until the vendor's
// completion rule fires and returns the sanitized text. The loop is bounded by MaxIterations
// receives; running out is ErrHarvestTimeout, never a partial result.
func (h *Harvester) Harvest(ctx context.Context, session transport.Session, profile models.DeviceProfile) (*models.HarvestResult, error) {
	vendor, err := VendorFor(profile.Vendor)
	if err != nil {
		return nil, err
	}
	vendor = vendor.WithPromptPattern(h.prompt)

	detector := vendor.NewDetector()
	detector.Reset()

	start := time.Now()
	state := StateIdle
	var (
		output   strings.Builder
		receives int
		pacing   int
	)

	fail := func(err error) (*models.HarvestResult, error) {
		h.logger.Warn("harvest failed",
			zap.String("alias", profile.Alias),
			zap.Stringer("state", state),
			zap.Int("receives", receives),
			zap.Int("pacing_sent", pacing),
			zap.Error(err),
		)
		state = StateFailed
		return nil, err
	}

	if err := session.Send(vendor.Command + "\n"); err != nil {
		return fail(fmt.Errorf("%w: sending %q: %v", models.ErrTransportRead, vendor.Command, err))
	}
	state = StateAwaitingInitialResponse

	for {
		if receives >= h.config.MaxIterations {
			return fail(fmt.Errorf("%w: no completion after %d receives", models.ErrHarvestTimeout, receives))
		}

		rctx, cancel := context.WithTimeout(ctx, h.config.ReceiveTimeout)
		chunk, err := session.Receive(rctx, h.config.ChunkSize)
		cancel()
		if err != nil {
			return fail(fmt.Errorf("receive %d: %w", receives+1, err))
		}
		receives++

		output.Write(chunk)
		if h.config.MaxOutputBytes > 0 && output.Len() > h.config.MaxOutputBytes {
			return fail(fmt.Errorf("%w: %w: %d bytes", models.ErrHarvestTimeout, models.ErrOutputTooLarge, output.Len()))
		}

		if detector.Observe(string(chunk)) {
			state = StateComplete
			break
		}

		state = StatePaging
		if err := session.Send(vendor.PacingKeystroke); err != nil {
			return fail(fmt.Errorf("%w: sending pacing keystroke: %v", models.ErrTransportRead, err))
		}
		pacing++
	}

	result := &models.HarvestResult{
		Alias:      profile.Alias,
		Content:    Sanitize(output.String()),
		Chunks:     receives,
		PacingSent: pacing,
		RawBytes:   output.Len(),
		Duration:   time.Since(start),
	}

	h.logger.Info("harvest complete",
		zap.String("alias", profile.Alias),
		zap.Stringer("state", state),
		zap.Int("receives", result.Chunks),
		zap.Int("pacing_sent", result.PacingSent),
		zap.Int("bytes", result.RawBytes),
		zap.Duration("took", result.Duration),
	)

	return result, nil
}
