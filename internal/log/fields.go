package log

// Common field names for structured logging
const (
	FieldComponent     = "component"
	FieldRequestID     = "request_id"
	FieldClientIP      = "client_ip"
	FieldMethod        = "method"
	FieldPath          = "path"
	FieldQuery         = "query"
	FieldStatusCode    = "status_code"
	FieldDuration      = "duration_ms"
	FieldDurationHuman = "duration_human"
	FieldUserAgent     = "user_agent"
	FieldReferer       = "referer"
	FieldSuccess       = "success"
	FieldError         = "error"
	FieldOperation     = "operation"
	FieldBank          = "bank"
	FieldClientID      = "client_id"
	FieldConsentID     = "consent_id"
	FieldConsentStatus = "consent_status"
	FieldReason        = "reason"
	FieldAccountID     = "account_id"
	FieldCount         = "count"
	FieldAttempt       = "attempt"
	FieldCategory      = "category"
	FieldPeriodDays    = "period_days"
)

// Components defines standard component names
const (
	ComponentApp         = "app"
	ComponentHTTP        = "http"
	ComponentBank        = "bank"
	ComponentToken       = "token"
	ComponentConsent     = "consent"
	ComponentAggregation = "aggregation"
	ComponentAnalytics   = "analytics"
	ComponentCashback    = "cashback"
	ComponentStorage     = "storage"
	ComponentAMQP        = "amqp"
	ComponentPoller      = "consent_poller"
	ComponentCache       = "cache"
	ComponentSecurity    = "security"
	ComponentRateLimit   = "rate_limit"
	ComponentTrace       = "trace"
	ComponentCLI         = "cli"
	ComponentWorker      = "worker"
)

// Operations defines standard operation names
const (
	OpIssueToken       = "issue_token"
	OpRequestConsent   = "request_consent"
	OpConsentStatus    = "consent_status"
	OpListAccounts     = "list_accounts"
	OpGetBalances      = "get_balances"
	OpListTransactions = "list_transactions"
	OpAggregate        = "aggregate"
	OpSummarize        = "summarize"
	OpActivate         = "activate"
	OpPublish          = "publish"
	OpPoll             = "poll"
	OpPurge            = "purge"
	OpValidate         = "validate"
	OpParse            = "parse"
	OpShutdown         = "shutdown"
	OpStartup          = "startup"
)

// ErrorTypes defines standard error type categories
const (
	ErrorTypeValidation    = "validation_error"
	ErrorTypeConfiguration = "configuration_error"
	ErrorTypeDatabase      = "database_error"
	ErrorTypeNetwork       = "network_error"
	ErrorTypeAuth          = "auth_error"
	ErrorTypeTimeout       = "timeout_error"
	ErrorTypeConsent       = "consent_error"
	ErrorTypeInternal      = "internal_error"
)

// LogFields provides a builder pattern for structured log fields
type LogFields map[string]any

// NewFields creates a new LogFields instance
func NewFields() LogFields {
	return make(LogFields)
}

// WithComponent adds component field
func (f LogFields) WithComponent(component string) LogFields {
	f[FieldComponent] = component
	return f
}

// WithRequestID adds request ID field
func (f LogFields) WithRequestID(requestID string) LogFields {
	f[FieldRequestID] = requestID
	return f
}

// WithClientIP adds client IP field
func (f LogFields) WithClientIP(ip string) LogFields {
	f[FieldClientIP] = ip
	return f
}

// WithError adds error field
func (f LogFields) WithError(err error) LogFields {
	if err != nil {
		f[FieldError] = err.Error()
	}
	return f
}

// WithOperation adds operation field
func (f LogFields) WithOperation(op string) LogFields {
	f[FieldOperation] = op
	return f
}

// WithBank adds the bank and, when known, the caller-supplied client id.
func (f LogFields) WithBank(bank, clientID string) LogFields {
	f[FieldBank] = bank
	if clientID != "" {
		f[FieldClientID] = clientID
	}
	return f
}

// WithConsent adds consent fields
func (f LogFields) WithConsent(consentID, status string) LogFields {
	if consentID != "" {
		f[FieldConsentID] = consentID
	}
	f[FieldConsentStatus] = status
	return f
}

// WithHTTPRequest adds HTTP request fields
func (f LogFields) WithHTTPRequest(method, path, query, userAgent, referer string) LogFields {
	f[FieldMethod] = method
	f[FieldPath] = path
	f[FieldQuery] = query
	f[FieldUserAgent] = userAgent
	f[FieldReferer] = referer
	return f
}

// WithHTTPResponse adds HTTP response fields
func (f LogFields) WithHTTPResponse(statusCode int, durationMs int64, success bool) LogFields {
	f[FieldStatusCode] = statusCode
	f[FieldDuration] = durationMs
	f[FieldSuccess] = success
	return f
}

// ToSlice converts LogFields to a slice for slog
func (f LogFields) ToSlice() []any {
	slice := make([]any, 0, len(f)*2)
	for k, v := range f {
		slice = append(slice, k, v)
	}
	return slice
}
