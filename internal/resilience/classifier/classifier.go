// Package classifier maps arbitrary downstream failures onto the stable
// error taxonomy using an ordered, first-match-wins rule table.
package classifier

import (
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"syscall"
	"time"

	"github.com/google/uuid"
	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/vietddude/resilience/internal/core/domain"
)

// UnknownService is used when the call context names no dependency.
const UnknownService = "unknown"

// Context value keys the classifier understands.
const (
	KeyHTTPStatus = "status"
	KeyStack      = "stack"
)

// StatusCoder is implemented by errors that carry an HTTP status.
type StatusCoder interface {
	StatusCode() int
}

// RetryAfterer is implemented by errors that carry a server retry hint.
type RetryAfterer interface {
	RetryAfter() time.Duration
}

type coder interface {
	Code() int
}

type stackCarrier interface {
	Stack() string
}

// Classifier is a stateless matcher over an ordered rule table.
type Classifier struct {
	rules []Rule
	log   *slog.Logger
}

// New creates a classifier over DefaultRules.
func New() *Classifier {
	return NewWithRules(DefaultRules)
}

// NewWithRules creates a classifier over a custom rule table. The order of
// rules is kept as given.
func NewWithRules(rules []Rule) *Classifier {
	r := make([]Rule, len(rules))
	copy(r, rules)
	return &Classifier{rules: r, log: slog.Default()}
}

// SetLogger overrides the logger used to report recovered classification panics.
func (c *Classifier) SetLogger(l *slog.Logger) {
	if l != nil {
		c.log = l
	}
}

// RuleNames returns the rule names in evaluation order.
func (c *Classifier) RuleNames() []string {
	names := make([]string, len(c.rules))
	for i, r := range c.rules {
		names[i] = r.Name
	}
	return names
}

// Classify produces a Classification for err. It never panics: a rule that
// blows up yields the default classification.
func (c *Classifier) Classify(err error, cc domain.CallContext) (out domain.Classification) {
	if cc.Service == "" {
		cc.Service = UnknownService
	}
	if cc.Timestamp.IsZero() {
		cc.Timestamp = time.Now()
	}
	out = domain.Classification{ID: uuid.New().String(), Context: cc}

	defer func() {
		if r := recover(); r != nil {
			c.log.Error("Classifier panicked, using default", "service", cc.Service, "panic", r)
			if out.Raw.Message == "" {
				out.Raw.Message = fmt.Sprintf("%T", err)
			}
			applyDefault(&out)
		}
	}()

	raw := rawError(err, cc)
	out.Raw = raw
	out.RetryAfter = retryHint(err)

	grpcCode, hasGRPC := grpcStatus(err)
	if rule, ok := c.matchStatus(raw.HTTPStatus, grpcCode, hasGRPC); ok {
		applyRule(&out, rule)
		return out
	}
	if rule, ok := c.matchMessage(err, raw.Message); ok {
		applyRule(&out, rule)
		return out
	}

	applyDefault(&out)
	return out
}

func (c *Classifier) matchStatus(httpStatus int, grpcCode codes.Code, hasGRPC bool) (Rule, bool) {
	if httpStatus == 0 && !hasGRPC {
		return Rule{}, false
	}
	for _, r := range c.rules {
		if r.matchesStatus(httpStatus, grpcCode, hasGRPC) {
			return r, true
		}
	}
	return Rule{}, false
}

func (c *Classifier) matchMessage(err error, message string) (Rule, bool) {
	for _, r := range c.rules {
		if r.matchesMessage(err, message) {
			return r, true
		}
	}
	return Rule{}, false
}

func applyRule(out *domain.Classification, r Rule) {
	out.Category = r.Category
	out.Severity = r.Severity
	out.Retryable = r.Retryable
	out.Strategy = r.Strategy
	out.MatchedRule = r.Name
}

func applyDefault(out *domain.Classification) {
	out.Category = domain.CategorySystem
	out.Severity = domain.SeverityMedium
	out.Retryable = true
	out.Strategy = domain.StrategyExponentialBackoff
	out.MatchedRule = domain.DefaultRuleName
}

func rawError(err error, cc domain.CallContext) domain.RawError {
	raw := domain.RawError{Message: message(err)}

	var sc StatusCoder
	if errors.As(err, &sc) {
		raw.HTTPStatus = sc.StatusCode()
	} else {
		raw.HTTPStatus = intValue(cc.Values[KeyHTTPStatus])
	}

	var errno syscall.Errno
	var cd coder
	switch {
	case errors.As(err, &errno):
		raw.Code = int(errno)
	case errors.As(err, &cd):
		raw.Code = cd.Code()
	}

	var st stackCarrier
	if errors.As(err, &st) {
		raw.Stack = st.Stack()
	} else if s, ok := cc.Values[KeyStack].(string); ok {
		raw.Stack = s
	}

	if code, ok := grpcStatus(err); ok {
		raw.GRPCCode = code.String()
	}
	return raw
}

// message falls back to the dynamic type when an error renders as empty.
func message(err error) string {
	if err == nil {
		return "<nil>"
	}
	if msg := err.Error(); msg != "" {
		return msg
	}
	return fmt.Sprintf("%T", err)
}

func grpcStatus(err error) (codes.Code, bool) {
	if err == nil {
		return codes.OK, false
	}
	st, ok := status.FromError(err)
	if !ok || st.Code() == codes.OK {
		return codes.OK, false
	}
	return st.Code(), true
}

func retryHint(err error) time.Duration {
	var ra RetryAfterer
	if errors.As(err, &ra) {
		return ra.RetryAfter()
	}
	if err == nil {
		return 0
	}
	st, ok := status.FromError(err)
	if !ok {
		return 0
	}
	for _, d := range st.Details() {
		if info, ok := d.(*errdetails.RetryInfo); ok && info.GetRetryDelay() != nil {
			return info.GetRetryDelay().AsDuration()
		}
	}
	return 0
}

func intValue(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case int32:
		return int(n)
	case int64:
		return int(n)
	case float64:
		return int(n)
	case string:
		i, _ := strconv.Atoi(n)
		return i
	}
	return 0
}
