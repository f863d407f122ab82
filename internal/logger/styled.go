// internal/logger/styled.go
package logger

import (
	"fmt"
	"log/slog"

	"github.com/pterm/pterm"

	"github.com/ogpool/rpcpool/internal/core/domain"
	"github.com/ogpool/rpcpool/theme"
)

// StyledLogger wraps slog.Logger with theme-aware formatting methods for
// the pool's terminal output: endpoint identity, breaker transitions, and
// latency/count call-outs.
type StyledLogger struct {
	logger *slog.Logger
	theme  *theme.Theme
}

// NewStyledLogger creates a new styled logger with the given theme
func NewStyledLogger(logger *slog.Logger, theme *theme.Theme) *StyledLogger {
	return &StyledLogger{
		logger: logger,
		theme:  theme,
	}
}

func (sl *StyledLogger) Debug(msg string, args ...any) {
	sl.logger.Debug(msg, args...)
}

func (sl *StyledLogger) Info(msg string, args ...any) {
	sl.logger.Info(msg, args...)
}

func (sl *StyledLogger) Warn(msg string, args ...any) {
	sl.logger.Warn(msg, args...)
}

func (sl *StyledLogger) Error(msg string, args ...any) {
	sl.logger.Error(msg, args...)
}

func (sl *StyledLogger) InfoWithCount(msg string, count int, args ...any) {
	styledMsg := fmt.Sprintf("%s %s", msg, pterm.NewStyle(sl.theme.Secondary).Sprint("(", count, ")"))
	sl.logger.Info(styledMsg, args...)
}

func (sl *StyledLogger) InfoWithEndpoint(msg string, endpoint string, args ...any) {
	styledMsg := fmt.Sprintf("%s %s", msg, pterm.NewStyle(sl.theme.Primary).Sprint(endpoint))
	sl.logger.Info(styledMsg, args...)
}

func (sl *StyledLogger) WarnWithEndpoint(msg string, endpoint string, args ...any) {
	styledMsg := fmt.Sprintf("%s %s", msg, pterm.NewStyle(sl.theme.Primary).Sprint(endpoint))
	sl.logger.Warn(styledMsg, args...)
}

func (sl *StyledLogger) ErrorWithEndpoint(msg string, endpoint string, args ...any) {
	styledMsg := fmt.Sprintf("%s %s", msg, pterm.NewStyle(sl.theme.Primary).Sprint(endpoint))
	sl.logger.Error(styledMsg, args...)
}

func (sl *StyledLogger) InfoWithNumbers(msg string, numbers ...int64) {
	var formattedNums []string
	for _, num := range numbers {
		formattedNums = append(formattedNums, pterm.NewStyle(sl.theme.Secondary).Sprint(num))
	}
	styledMsg := fmt.Sprintf(msg, toInterfaceSlice(formattedNums)...)
	sl.logger.Info(styledMsg)
}

// InfoWithLatency reports a call's round-trip time, styled by fixed
// thresholds: above 500ms as danger, above 150ms as warning, otherwise
// good.
func (sl *StyledLogger) InfoWithLatency(msg string, endpoint string, latencyMs int64, args ...any) {
	style := sl.theme.Good
	if latencyMs > 500 {
		style = sl.theme.Danger
	} else if latencyMs > 150 {
		style = sl.theme.Warning
	}
	styledMsg := fmt.Sprintf("%s %s %s", msg, pterm.NewStyle(sl.theme.Primary).Sprint(endpoint),
		pterm.NewStyle(style).Sprint(latencyMs, "ms"))
	sl.logger.Info(styledMsg, args...)
}

// WarnBreakerTransition logs a circuit breaker state change (§4.2); the
// colour follows the target state: OPEN as danger, CLOSED as good, and
// HALF_OPEN as warning.
func (sl *StyledLogger) WarnBreakerTransition(endpoint string, from, to domain.BreakerState, args ...any) {
	style := sl.theme.Warning
	switch to {
	case domain.BreakerOpen:
		style = sl.theme.Danger
	case domain.BreakerClosed:
		style = sl.theme.Good
	}
	styledMsg := fmt.Sprintf("breaker %s: %s -> %s", pterm.NewStyle(sl.theme.Primary).Sprint(endpoint),
		from, pterm.NewStyle(style).Sprint(to))
	sl.logger.Warn(styledMsg, args...)
}

// WarnComponentIsolated logs the Integration Error Handler isolating a
// component after crossing its failure threshold (§4.8).
func (sl *StyledLogger) WarnComponentIsolated(component string, args ...any) {
	styledMsg := fmt.Sprintf("component isolated: %s", pterm.NewStyle(sl.theme.Danger).Sprint(component))
	sl.logger.Warn(styledMsg, args...)
}

// InfoComponentRecovered logs a component's re-integration after enough
// consecutive healthy probes (§4.8).
func (sl *StyledLogger) InfoComponentRecovered(component string, args ...any) {
	styledMsg := fmt.Sprintf("component recovered: %s", pterm.NewStyle(sl.theme.Good).Sprint(component))
	sl.logger.Info(styledMsg, args...)
}

// GetUnderlying returns the underlying slog.Logger for cases where direct access is needed
func (sl *StyledLogger) GetUnderlying() *slog.Logger {
	return sl.logger
}

// WithAttrs creates a new StyledLogger with additional structured attributes
func (sl *StyledLogger) WithAttrs(attrs ...slog.Attr) *StyledLogger {
	args := make([]any, 0, len(attrs)*2)
	for _, attr := range attrs {
		args = append(args, attr.Key, attr.Value)
	}

	return &StyledLogger{
		logger: sl.logger.With(args...),
		theme:  sl.theme,
	}
}

// With creates a new StyledLogger with additional key-value pairs
func (sl *StyledLogger) With(args ...any) *StyledLogger {
	return &StyledLogger{
		logger: sl.logger.With(args...),
		theme:  sl.theme,
	}
}

// Helper function to convert string slice to interface slice
func toInterfaceSlice(strs []string) []interface{} {
	result := make([]interface{}, len(strs))
	for i, s := range strs {
		result[i] = s
	}
	return result
}

// NewWithTheme creates both a regular logger and a styled logger
func NewWithTheme(cfg *Config) (*slog.Logger, *StyledLogger, func(), error) {
	logger, cleanup, err := New(cfg)
	if err != nil {
		return nil, nil, nil, err
	}

	appTheme := theme.GetTheme(cfg.Theme)
	styledLogger := NewStyledLogger(logger, appTheme)

	return logger, styledLogger, cleanup, nil
}
