package middleware

import (
	"encoding/json"
	stderrors "errors"
	"io"
	"net/http"

	"github.com/campusnet/forum/internal/common/errors"
)

type Validator interface {
	Validate() error
}

// DecodeJSON reads a single JSON document from the request body into v and
// runs v.Validate when v implements Validator.
func DecodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		switch {
		case stderrors.As(err, &tooLarge):
			return errors.InvalidArgument("request body too large")
		case stderrors.Is(err, io.EOF):
			return errors.InvalidArgument("request body is empty")
		default:
			return errors.InvalidArgument("malformed request body")
		}
	}

	if val, ok := v.(Validator); ok {
		if err := val.Validate(); err != nil {
			var appErr *errors.AppError
			if stderrors.As(err, &appErr) {
				return appErr
			}
			return errors.InvalidArgument("validation failed: " + err.Error())
		}
	}
	return nil
}
