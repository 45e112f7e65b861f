package registry

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"
)

// HTTPBridge exposes a module's registry handler over HTTP. The request body
// becomes Request.Data and the path (with the mount prefix stripped) becomes
// Request.Path, so the module serves identical semantics to in-process
// callers and external clients.
type HTTPBridge struct {
	StripPrefix string
	Handler     Handler
}

func NewHTTPBridge(stripPrefix string, handler Handler) *HTTPBridge {
	return &HTTPBridge{StripPrefix: stripPrefix, Handler: handler}
}

func (b *HTTPBridge) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
	if err != nil {
		writeResult(w, Fail(CodeInvalidRequest, "request body unreadable"))
		return
	}

	path := r.URL.Path
	if b.StripPrefix != "" {
		path = strings.TrimPrefix(path, b.StripPrefix)
	}

	res := b.Handler.Handle(r.Context(), Request{
		Method: r.Method,
		Path:   path,
		Data:   body,
	})
	writeResult(w, res)
}

func writeResult(w http.ResponseWriter, res Result) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusFor(res))
	_ = json.NewEncoder(w).Encode(res)
}

func statusFor(res Result) int {
	if res.Success {
		return http.StatusOK
	}
	if res.Err == nil {
		return http.StatusInternalServerError
	}
	switch res.Err.Code {
	case CodeModuleNotFound, CodeRouteNotFound, CodeJobNotFound, CodeOrderNotFound, CodeItemNotFound, CodeTargetNotFound:
		return http.StatusNotFound
	case CodeInvalidRequest, CodeInvalidStatus, CodeInvalidQuantity, CodeInvalidMerge, CodeInvalidSplit:
		return http.StatusBadRequest
	case CodeInvalidTransition, CodeMaterialMismatch, CodeThicknessMismatch, CodeJobNotPending, CodeCannotDelete:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
