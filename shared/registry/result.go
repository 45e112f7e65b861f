package registry

import "encoding/json"

// Error codes shared across module boundaries. Each operation documents the
// closed subset it can return.
const (
	CodeModuleNotFound    = "MODULE_NOT_FOUND"
	CodeRouteNotFound     = "ROUTE_NOT_FOUND"
	CodeInvalidRequest    = "INVALID_REQUEST"
	CodeJobNotFound       = "JOB_NOT_FOUND"
	CodeOrderNotFound     = "ORDER_NOT_FOUND"
	CodeItemNotFound      = "ITEM_NOT_FOUND"
	CodeTargetNotFound    = "TARGET_NOT_FOUND"
	CodeInvalidStatus     = "INVALID_STATUS"
	CodeInvalidTransition = "INVALID_STATUS_TRANSITION"
	CodeMaterialMismatch  = "MATERIAL_MISMATCH"
	CodeThicknessMismatch = "THICKNESS_MISMATCH"
	CodeInvalidQuantity   = "INVALID_QUANTITY"
	CodeInvalidMerge      = "INVALID_MERGE"
	CodeInvalidSplit      = "INVALID_SPLIT"
	CodeJobNotPending     = "JOB_NOT_PENDING"
	CodeCannotDelete      = "CANNOT_DELETE"
	CodeJobError          = "JOB_ERROR"
	CodeOrderError        = "ORDER_ERROR"
	CodeProductionError   = "PRODUCTION_ERROR"
)

// ServiceError is the failure half of a Result.
type ServiceError struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

func (e *ServiceError) Error() string {
	if e == nil {
		return ""
	}
	return e.Code + ": " + e.Message
}

// Result is the only value that crosses a module boundary, for synchronous
// registry calls and domain-service calls alike. Exactly one of Data or Err
// is meaningful, discriminated by Success. There is no panic or error channel
// across boundaries.
type Result struct {
	Success bool          `json:"success"`
	Data    any           `json:"data,omitempty"`
	Err     *ServiceError `json:"error,omitempty"`
}

func OK(data any) Result {
	return Result{Success: true, Data: data}
}

func Fail(code string, message string) Result {
	return Result{Success: false, Err: &ServiceError{Code: code, Message: message}}
}

func FailWith(code string, message string, details map[string]any) Result {
	return Result{Success: false, Err: &ServiceError{Code: code, Message: message, Details: details}}
}

// Internal wraps an unexpected failure as the operation's *_ERROR code,
// carrying the cause under details.error.
func Internal(code string, err error) Result {
	return FailWith(code, "internal error", map[string]any{"error": err.Error()})
}

// Decode copies a successful result's data into dest through JSON. Callers in
// other modules decode into their own structs instead of importing the
// producing module's types.
func Decode(res Result, dest any) error {
	if !res.Success {
		return res.Err
	}
	raw, err := json.Marshal(res.Data)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, dest)
}
