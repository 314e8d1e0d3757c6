package classifier

import (
	"context"
	"errors"
	"net"
	"os"
	"regexp"
	"syscall"

	"google.golang.org/grpc/codes"

	"github.com/vietddude/resilience/internal/core/domain"
)

// Rule is one entry of the ordered rule table. A rule matches on status code
// (HTTP or gRPC) or, when no status matched any rule, on a typed matcher or a
// case-insensitive message pattern.
type Rule struct {
	Name      string
	Category  domain.Category
	Severity  domain.Severity
	Retryable bool
	Strategy  domain.Strategy

	HTTPCodes []int
	GRPCCodes []codes.Code
	Patterns  []*regexp.Regexp
	Match     func(err error) bool
}

func (r Rule) matchesStatus(httpStatus int, grpcCode codes.Code, hasGRPC bool) bool {
	if httpStatus != 0 {
		for _, c := range r.HTTPCodes {
			if c == httpStatus {
				return true
			}
		}
	}
	if hasGRPC {
		for _, c := range r.GRPCCodes {
			if c == grpcCode {
				return true
			}
		}
	}
	return false
}

func (r Rule) matchesMessage(err error, message string) bool {
	if r.Match != nil && err != nil && r.Match(err) {
		return true
	}
	for _, p := range r.Patterns {
		if p.MatchString(message) {
			return true
		}
	}
	return false
}

func patterns(exprs ...string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, len(exprs))
	for i, e := range exprs {
		out[i] = regexp.MustCompile("(?i)" + e)
	}
	return out
}

func isErrno(err error, targets ...syscall.Errno) bool {
	var errno syscall.Errno
	if !errors.As(err, &errno) {
		return false
	}
	for _, t := range targets {
		if errno == t {
			return true
		}
	}
	return false
}

func isNetworkError(err error) bool {
	if isErrno(err, syscall.ECONNREFUSED, syscall.ECONNRESET, syscall.ECONNABORTED,
		syscall.EHOSTUNREACH, syscall.ENETUNREACH, syscall.EPIPE) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return false
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	var opErr *net.OpError
	return errors.As(err, &opErr)
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	if isErrno(err, syscall.ETIMEDOUT) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func isResourceExhausted(err error) bool {
	return isErrno(err, syscall.ENOMEM, syscall.ENOSPC, syscall.EMFILE, syscall.ENFILE)
}

// DefaultRules is the fixed priority list. Order is part of the contract:
// message patterns overlap (a message can mention both a timeout and an
// internal server error) and the first matching rule wins.
var DefaultRules = []Rule{
	{
		Name:      "network",
		Category:  domain.CategoryNetwork,
		Severity:  domain.SeverityHigh,
		Retryable: true,
		Strategy:  domain.StrategyExponentialBackoff,
		GRPCCodes: []codes.Code{codes.Unavailable},
		Patterns: patterns(
			`ECONNREFUSED`, `ECONNRESET`, `ENOTFOUND`, `EHOSTUNREACH`, `ENETUNREACH`,
			`EPIPE`, `EAI_AGAIN`, `socket hang up`, `connection refused`,
			`connection reset`, `no such host`, `network is unreachable`,
			`broken pipe`, `network error`,
		),
		Match: isNetworkError,
	},
	{
		Name:      "authentication",
		Category:  domain.CategoryAuthentication,
		Severity:  domain.SeverityHigh,
		Retryable: false,
		Strategy:  domain.StrategyNoRetry,
		HTTPCodes: []int{401},
		GRPCCodes: []codes.Code{codes.Unauthenticated},
		Patterns: patterns(
			`unauthori[sz]ed`, `unauthenticated`, `authentication failed`,
			`invalid (api )?token`, `token (has )?expired`, `invalid api key`,
			`invalid credentials`,
		),
	},
	{
		Name:      "authorization",
		Category:  domain.CategoryAuthorization,
		Severity:  domain.SeverityHigh,
		Retryable: false,
		Strategy:  domain.StrategyNoRetry,
		HTTPCodes: []int{403},
		GRPCCodes: []codes.Code{codes.PermissionDenied},
		Patterns: patterns(
			`forbidden`, `permission denied`, `access denied`, `insufficient permissions`,
			`not authori[sz]ed to`,
		),
	},
	{
		Name:      "rate_limit",
		Category:  domain.CategoryRateLimit,
		Severity:  domain.SeverityMedium,
		Retryable: true,
		Strategy:  domain.StrategyExponentialBackoff,
		HTTPCodes: []int{429},
		GRPCCodes: []codes.Code{codes.ResourceExhausted},
		Patterns: patterns(
			`rate limit`, `rate-limit`, `too many requests`, `quota exceeded`, `throttl`,
		),
	},
	{
		Name:      "data_validation",
		Category:  domain.CategoryDataValidation,
		Severity:  domain.SeverityLow,
		Retryable: false,
		Strategy:  domain.StrategyNoRetry,
		HTTPCodes: []int{400, 422},
		GRPCCodes: []codes.Code{codes.InvalidArgument, codes.OutOfRange},
		Patterns: patterns(
			`validation`, `invalid (input|parameter|argument|format|request)`, `malformed`,
			`bad request`, `is required`, `schema`,
		),
	},
	{
		Name:      "timeout",
		Category:  domain.CategoryTimeout,
		Severity:  domain.SeverityMedium,
		Retryable: true,
		Strategy:  domain.StrategyLinearBackoff,
		HTTPCodes: []int{408, 504},
		GRPCCodes: []codes.Code{codes.DeadlineExceeded},
		Patterns: patterns(
			`timeout`, `timed out`, `ETIMEDOUT`, `ESOCKETTIMEDOUT`, `deadline exceeded`,
		),
		Match: isTimeout,
	},
	{
		Name:      "system",
		Category:  domain.CategorySystem,
		Severity:  domain.SeverityHigh,
		Retryable: true,
		Strategy:  domain.StrategyExponentialBackoff,
		HTTPCodes: []int{500, 502, 503},
		GRPCCodes: []codes.Code{codes.Internal, codes.DataLoss},
		Patterns: patterns(
			`internal server error`, `service unavailable`, `bad gateway`,
			`system error`, `unexpected error`,
		),
	},
	{
		Name:      "database",
		Category:  domain.CategoryDependency,
		Severity:  domain.SeverityHigh,
		Retryable: true,
		Strategy:  domain.StrategyExponentialBackoff,
		Patterns: patterns(
			`database`, `deadlock`, `sqlstate`, `connection pool`, `neo4j`,
			`postgres`, `supabase`,
		),
	},
	{
		Name:      "resource_exhaustion",
		Category:  domain.CategoryResourceExhaustion,
		Severity:  domain.SeverityCritical,
		Retryable: true,
		Strategy:  domain.StrategyFibonacciBackoff,
		HTTPCodes: []int{507},
		Patterns: patterns(
			`out of memory`, `ENOMEM`, `ENOSPC`, `EMFILE`, `disk full`,
			`no space left`, `too many open files`, `resource exhausted`,
		),
		Match: isResourceExhausted,
	},
	{
		Name:      "concurrent_modification",
		Category:  domain.CategoryConcurrentModification,
		Severity:  domain.SeverityMedium,
		Retryable: true,
		Strategy:  domain.StrategyImmediate,
		HTTPCodes: []int{409},
		GRPCCodes: []codes.Code{codes.Aborted},
		Patterns: patterns(
			`conflict`, `concurrent modification`, `version mismatch`, `optimistic lock`,
		),
	},
	{
		Name:      "configuration",
		Category:  domain.CategoryConfiguration,
		Severity:  domain.SeverityCritical,
		Retryable: false,
		Strategy:  domain.StrategyNoRetry,
		Patterns: patterns(
			`misconfigured`, `not configured`, `configuration error`,
			`missing environment variable`,
		),
	},
	{
		Name:      "business_logic",
		Category:  domain.CategoryBusinessLogic,
		Severity:  domain.SeverityLow,
		Retryable: false,
		Strategy:  domain.StrategyNoRetry,
		HTTPCodes: []int{404, 410},
		GRPCCodes: []codes.Code{codes.NotFound, codes.AlreadyExists, codes.FailedPrecondition},
		Patterns: patterns(
			`business rule`, `not allowed in current state`, `insufficient funds`,
		),
	},
}
