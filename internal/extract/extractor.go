package extract

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/realtime-ipo-tracker/internal/tracker"
)

// Strategy is one way of pulling records out of a page.
type Strategy interface {
	Name() string
	TryExtract(page tracker.Page) ([]tracker.ExtractedRecord, error)
}

// Extractor runs strategies in order. It never returns an error: strategy failures
// are logged and the next strategy is tried.
type Extractor struct {
	strategies []Strategy
	logger     *zap.Logger
}

// New constructs an Extractor over the given strategies.
func New(logger *zap.Logger, strategies ...Strategy) *Extractor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Extractor{strategies: strategies, logger: logger.Named("extract")}
}

// Default returns the embedded-data strategy followed by the table fallback.
func Default(logger *zap.Logger) *Extractor {
	return New(logger, NextData{}, Table{})
}

// Extract returns the records produced by the first strategy that yields any, with
// that strategy's name. Both are empty when nothing matched.
func (e *Extractor) Extract(page tracker.Page) ([]tracker.ExtractedRecord, string) {
	for _, strategy := range e.strategies {
		records, err := e.try(strategy, page)
		if err != nil {
			e.logger.Warn("extraction strategy failed",
				zap.String("strategy", strategy.Name()),
				zap.String("label", page.Label),
				zap.Error(err))
			continue
		}
		if len(records) == 0 {
			e.logger.Debug("extraction strategy found nothing",
				zap.String("strategy", strategy.Name()),
				zap.String("label", page.Label))
			continue
		}
		for i := range records {
			records[i].Source = page.Label
		}
		return records, strategy.Name()
	}
	return nil, ""
}

func (e *Extractor) try(strategy Strategy, page tracker.Page) (records []tracker.ExtractedRecord, err error) {
	defer func() {
		if r := recover(); r != nil {
			records = nil
			err = fmt.Errorf("strategy %s panicked: %v", strategy.Name(), r)
		}
	}()
	return strategy.TryExtract(page)
}
