package recovery

type ErrorType string

const (
	ErrorTypeNetwork        ErrorType = "Network"
	ErrorTypeRateLimit      ErrorType = "RateLimit"
	ErrorTypeAuthentication ErrorType = "Authentication"
	ErrorTypeRepository     ErrorType = "Repository"
	ErrorTypeAI             ErrorType = "AI"
	ErrorTypeValidation     ErrorType = "Validation"
	ErrorTypeFileSystem     ErrorType = "FileSystem"
	ErrorTypeUnknown        ErrorType = "Unknown"
)

type Severity string

const (
	SeverityLow    Severity = "Low"
	SeverityMedium Severity = "Medium"
	SeverityHigh   Severity = "High"
)

// Analysis is the classification of one failure.
type Analysis struct {
	ErrorType     ErrorType `json:"error_type"`
	IsRecoverable bool      `json:"is_recoverable"`
	Severity      Severity  `json:"severity"`
	Category      string    `json:"category"`
	Message       string    `json:"message"`
	RetryCount    int       `json:"retry_count"`
}

type ActionKind string

const (
	ActionRetry ActionKind = "Retry"
	ActionFail  ActionKind = "Fail"
	ActionSkip  ActionKind = "Skip"
)

// Action is the recovery decision for an analysed failure.
type Action struct {
	Action           ActionKind `json:"action"`
	ShouldRetry      bool       `json:"should_retry"`
	ShouldNotifyUser bool       `json:"should_notify_user"`
	DelaySeconds     int        `json:"delay_seconds"`
	Recommendation   string     `json:"recommendation"`
}
