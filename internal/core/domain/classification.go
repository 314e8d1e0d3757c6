package domain

import "time"

// Category is the stable taxonomy a failure is classified into.
type Category string

const (
	CategoryNetwork                Category = "network"
	CategoryAuthentication         Category = "authentication"
	CategoryAuthorization          Category = "authorization"
	CategoryRateLimit              Category = "rate_limit"
	CategoryDataValidation         Category = "data_validation"
	CategoryBusinessLogic          Category = "business_logic"
	CategorySystem                 Category = "system"
	CategoryConfiguration          Category = "configuration"
	CategoryTimeout                Category = "timeout"
	CategoryDependency             Category = "dependency"
	CategoryResourceExhaustion     Category = "resource_exhaustion"
	CategoryConcurrentModification Category = "concurrent_modification"
)

// Categories lists every category in taxonomy order.
var Categories = []Category{
	CategoryNetwork,
	CategoryAuthentication,
	CategoryAuthorization,
	CategoryRateLimit,
	CategoryDataValidation,
	CategoryBusinessLogic,
	CategorySystem,
	CategoryConfiguration,
	CategoryTimeout,
	CategoryDependency,
	CategoryResourceExhaustion,
	CategoryConcurrentModification,
}

type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
	SeverityInfo     Severity = "info"
)

// Strategy is the backoff shape suggested for a failure or configured on a policy.
type Strategy string

const (
	StrategyImmediate          Strategy = "immediate"
	StrategyLinearBackoff      Strategy = "linear_backoff"
	StrategyExponentialBackoff Strategy = "exponential_backoff"
	StrategyFibonacciBackoff   Strategy = "fibonacci_backoff"
	StrategyFixedInterval      Strategy = "fixed_interval"
	StrategyNoRetry            Strategy = "no_retry"
)

// Valid reports whether s is one of the known strategies.
func (s Strategy) Valid() bool {
	switch s {
	case StrategyImmediate, StrategyLinearBackoff, StrategyExponentialBackoff,
		StrategyFibonacciBackoff, StrategyFixedInterval, StrategyNoRetry:
		return true
	}
	return false
}

// DefaultRuleName is reported when no classifier rule matched.
const DefaultRuleName = "default"

// RawError is the failure as it was observed, before classification.
type RawError struct {
	Message    string `json:"message"`
	Stack      string `json:"stack,omitempty"`
	Code       int    `json:"code,omitempty"`
	HTTPStatus int    `json:"http_status,omitempty"`
	GRPCCode   string `json:"grpc_code,omitempty"`
}

// CallContext describes the call that failed.
type CallContext struct {
	Service   string         `json:"service"`
	Timestamp time.Time      `json:"timestamp"`
	Values    map[string]any `json:"values,omitempty"`
}

// Classification is the verdict for a single failure. It is never mutated after creation.
type Classification struct {
	ID          string        `json:"id"`
	Category    Category      `json:"category"`
	Severity    Severity      `json:"severity"`
	Retryable   bool          `json:"retryable"`
	Strategy    Strategy      `json:"strategy"`
	MatchedRule string        `json:"matched_rule"`
	RetryAfter  time.Duration `json:"retry_after,omitempty"`
	Raw         RawError      `json:"raw_error"`
	Context     CallContext   `json:"context"`
}

// CountsTowardBreaker reports whether the failure should move a circuit breaker.
func (c Classification) CountsTowardBreaker() bool {
	return c.Severity == SeverityCritical || c.Category == CategorySystem
}
