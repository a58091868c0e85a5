package monitoring

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/sony/gobreaker"

	"github.com/dwarvesf/escrow-backend/internal/builder"
	"github.com/dwarvesf/escrow-backend/internal/model"
	"github.com/dwarvesf/escrow-backend/internal/utils/logger"
)

const builderAPIName = "builder_api"

// CircuitBreakerBuilder wraps builder.IBuilder with circuit breaker and timeout handling
type CircuitBreakerBuilder struct {
	wrapped        builder.IBuilder
	circuitBreaker *gobreaker.CircuitBreaker
	metrics        *ExternalAPIMetrics
	logger         *logger.Logger
	timeoutConfig  TimeoutConfig
}

// NewCircuitBreakerBuilder creates a new circuit breaker wrapper for the builder API
func NewCircuitBreakerBuilder(wrapped builder.IBuilder, config CircuitBreakerConfig, metrics *ExternalAPIMetrics, logger *logger.Logger) *CircuitBreakerBuilder {
	return NewCircuitBreakerBuilderWithTimeout(wrapped, config, DefaultTimeoutConfig, metrics, logger)
}

// NewCircuitBreakerBuilderWithTimeout creates a new circuit breaker wrapper with custom timeout config
func NewCircuitBreakerBuilderWithTimeout(wrapped builder.IBuilder, config CircuitBreakerConfig, timeoutConfig TimeoutConfig, metrics *ExternalAPIMetrics, logger *logger.Logger) *CircuitBreakerBuilder {
	cb := &CircuitBreakerBuilder{
		wrapped:       wrapped,
		metrics:       metrics,
		logger:        logger,
		timeoutConfig: timeoutConfig,
	}

	if err := validateCircuitBreakerConfig(config); err != nil {
		logger.Warn("invalid circuit breaker config, using defaults", map[string]string{
			"service": builderAPIName,
			"error":   err.Error(),
		})
		config = CircuitBreakerConfigs[builderAPIName]
	}

	settings := gobreaker.Settings{
		Name:        builderAPIName,
		MaxRequests: config.MaxRequests,
		Interval:    config.Interval,
		Timeout:     config.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= uint32(config.ConsecutiveFailureThreshold)
		},
		// rejected input is the caller's fault and must not open the breaker
		IsSuccessful: func(err error) bool {
			return err == nil || classifyError(err) == ErrorTypeClientError
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Info("Circuit breaker state change", map[string]string{
				"service": name,
				"from":    from.String(),
				"to":      to.String(),
			})
			metrics.UpdateCircuitBreakerState(name, to)
		},
	}

	cb.circuitBreaker = gobreaker.NewCircuitBreaker(settings)
	metrics.UpdateCircuitBreakerState(builderAPIName, gobreaker.StateClosed)
	return cb
}

func (cb *CircuitBreakerBuilder) State() gobreaker.State {
	return cb.circuitBreaker.State()
}

func (cb *CircuitBreakerBuilder) BuildLock(ctx context.Context, params builder.LockParams) (*builder.UnsignedTx, error) {
	result, err := cb.execute(ctx, "build_lock", func(ctx context.Context) (interface{}, error) {
		return cb.wrapped.BuildLock(ctx, params)
	})
	if err != nil {
		return nil, err
	}
	return result.(*builder.UnsignedTx), nil
}

func (cb *CircuitBreakerBuilder) BuildUnlock(ctx context.Context, params builder.UnlockParams) (*builder.UnsignedTx, error) {
	result, err := cb.execute(ctx, "build_unlock", func(ctx context.Context) (interface{}, error) {
		return cb.wrapped.BuildUnlock(ctx, params)
	})
	if err != nil {
		return nil, err
	}
	return result.(*builder.UnsignedTx), nil
}

func (cb *CircuitBreakerBuilder) Submit(ctx context.Context, signed builder.SignedTx) (string, error) {
	result, err := cb.execute(ctx, "submit", func(ctx context.Context) (interface{}, error) {
		return cb.wrapped.Submit(ctx, signed)
	})
	if err != nil {
		return "", err
	}
	return result.(string), nil
}

func (cb *CircuitBreakerBuilder) Ping(ctx context.Context) error {
	_, err := cb.execute(ctx, "health_check", func(ctx context.Context) (interface{}, error) {
		return nil, cb.wrapped.Ping(ctx)
	})
	return err
}

func (cb *CircuitBreakerBuilder) execute(ctx context.Context, operation string, fn func(context.Context) (interface{}, error)) (interface{}, error) {
	result, err := cb.circuitBreaker.Execute(func() (interface{}, error) {
		return cb.executeWithTimeout(ctx, operation, fn)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			cb.metrics.RecordAPICall(builderAPIName, operation, "rejected", 0)
		}
		if !model.IsUpstream(err) {
			err = &model.UpstreamError{Op: operation, Err: err}
		}
		return nil, err
	}
	return result, nil
}

// executeWithTimeout executes a function with timeout and metrics recording
func (cb *CircuitBreakerBuilder) executeWithTimeout(parent context.Context, operation string, fn func(context.Context) (interface{}, error)) (interface{}, error) {
	start := time.Now()

	var timeout time.Duration
	switch operation {
	case "health_check":
		timeout = cb.timeoutConfig.HealthCheckTimeout
	default:
		timeout = cb.timeoutConfig.RequestTimeout
	}

	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	type outcome struct {
		result interface{}
		err    error
	}
	done := make(chan outcome, 1)

	go func() {
		result, err := fn(ctx)
		done <- outcome{result: result, err: err}
	}()

	select {
	case out := <-done:
		duration := time.Since(start).Seconds()
		status := "success"
		if out.err != nil {
			status = "error"
			cb.logError(operation, duration, out.err)
		}
		cb.metrics.RecordAPICall(builderAPIName, operation, status, duration)
		return out.result, out.err

	case <-ctx.Done():
		cb.metrics.RecordTimeout(builderAPIName, operation)
		cb.logError(operation, time.Since(start).Seconds(), ctx.Err())
		return nil, &model.UpstreamError{Op: operation, Err: fmt.Errorf("timeout: %v", ctx.Err())}
	}
}

func (cb *CircuitBreakerBuilder) logError(operation string, duration float64, err error) {
	cb.logger.Error("External API call failed", map[string]string{
		"service":    builderAPIName,
		"operation":  operation,
		"duration":   strconv.FormatFloat(duration, 'f', 3, 64),
		"error":      err.Error(),
		"error_type": string(classifyError(err)),
		"cb_state":   cb.circuitBreaker.State().String(),
	})
}

// classifyError classifies errors into different types for metrics and logging
func classifyError(err error) APIErrorType {
	if err == nil {
		return ""
	}

	errMsg := strings.ToLower(err.Error())

	switch {
	case strings.Contains(errMsg, "timeout"),
		strings.Contains(errMsg, "deadline exceeded"),
		strings.Contains(errMsg, "context canceled"):
		return ErrorTypeTimeout
	case strings.Contains(errMsg, "connection"),
		strings.Contains(errMsg, "network"),
		strings.Contains(errMsg, "unreachable"),
		strings.Contains(errMsg, "no such host"):
		return ErrorTypeNetworkError
	case strings.Contains(errMsg, "status 5"),
		strings.Contains(errMsg, "internal server error"),
		strings.Contains(errMsg, "bad gateway"),
		strings.Contains(errMsg, "service unavailable"):
		return ErrorTypeServerError
	case strings.Contains(errMsg, "status 4"),
		strings.Contains(errMsg, "bad request"),
		strings.Contains(errMsg, "unauthorized"),
		strings.Contains(errMsg, "not found"):
		return ErrorTypeClientError
	}

	return ErrorTypeUnknown
}

// validateCircuitBreakerConfig validates circuit breaker configuration
func validateCircuitBreakerConfig(config CircuitBreakerConfig) error {
	if config.MaxRequests == 0 {
		return fmt.Errorf("max_requests must be greater than 0")
	}

	if config.ConsecutiveFailureThreshold <= 0 {
		return fmt.Errorf("consecutive_failure_threshold must be greater than 0")
	}

	if config.Timeout < 0 {
		return fmt.Errorf("timeout must be non-negative")
	}

	if config.Interval < 0 {
		return fmt.Errorf("interval must be non-negative")
	}

	return nil
}
