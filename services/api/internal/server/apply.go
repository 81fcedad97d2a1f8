package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/url"

	"aluastro/internal/csrftoken"
	"aluastro/internal/util"
	"aluastro/pkg/domain"
	"aluastro/pkg/schema"
	"aluastro/services/api/internal/app"
	"aluastro/services/api/internal/intake"
)

const (
	maxTextFieldBytes = 64 << 10
	maxFormFields     = 32
)

var (
	errBadBody     = errors.New("invalid request body")
	errBodyTooBig  = errors.New("request body too large")
	errDuplicateCV = errors.New("only one cv file may be uploaded")
)

// requestError carries a client-facing message for an unparseable body.
type requestError struct {
	kind error
	msg  string
}

func (e *requestError) Error() string { return e.msg }

func (e *requestError) Unwrap() error { return e.kind }

func badBody(format string, args ...any) error {
	return &requestError{kind: errBadBody, msg: fmt.Sprintf(format, args...)}
}

func (s *Server) handleApply(w http.ResponseWriter, r *http.Request) {
	if !s.allowRate(w, r, s.applyLimiter, "apply", applyRateLimitMessage) {
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, s.maxBodyBytes)

	in, upload, err := s.readApplication(r)
	if err != nil {
		s.writeApplyError(w, r, err)
		return
	}
	if s.csrf != nil {
		if err := s.csrf.Verify(csrftoken.FromRequest(r, in.CSRFToken)); err != nil {
			s.writeApplyError(w, r, err)
			return
		}
	}

	application, err := s.app.Submit(r.Context(), in, upload)
	if err != nil {
		s.writeApplyError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, domain.ApplyResponse{
		ID:      application.ID,
		Message: app.SubmittedMessage,
	})
}

// readApplication coerces the body into schema input. Multipart bodies are
// streamed part by part so an oversized or disallowed CV is rejected
// without buffering the rest of the request.
func (s *Server) readApplication(r *http.Request) (schema.Input, *intake.Upload, error) {
	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil {
		return schema.Input{}, nil, badBody("Content-Type header is missing or malformed.")
	}
	switch mediaType {
	case "multipart/form-data":
		return s.readMultipart(r)
	case "application/x-www-form-urlencoded":
		if err := r.ParseForm(); err != nil {
			return schema.Input{}, nil, classifyBodyError(err, "Form body could not be parsed.")
		}
		return schema.FromForm(r.PostForm), nil, nil
	case "application/json":
		var raw map[string]any
		dec := json.NewDecoder(r.Body)
		dec.UseNumber()
		if err := dec.Decode(&raw); err != nil {
			return schema.Input{}, nil, classifyBodyError(err, "Request body must be a JSON object.")
		}
		if raw == nil {
			return schema.Input{}, nil, badBody("Request body must be a JSON object.")
		}
		return schema.FromMap(raw), nil, nil
	default:
		return schema.Input{}, nil, badBody("Unsupported Content-Type %q.", mediaType)
	}
}

func (s *Server) readMultipart(r *http.Request) (schema.Input, *intake.Upload, error) {
	mr, err := r.MultipartReader()
	if err != nil {
		return schema.Input{}, nil, badBody("Multipart body could not be parsed.")
	}
	values := url.Values{}
	var upload *intake.Upload
	fields := 0
	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return schema.Input{}, nil, classifyBodyError(err, "Multipart body could not be parsed.")
		}
		name := part.FormName()
		if part.FileName() != "" || name == intake.FieldName {
			upload, err = s.readFilePart(part, name, upload)
			_ = part.Close()
			if err != nil {
				return schema.Input{}, nil, err
			}
			continue
		}
		fields++
		if fields > maxFormFields {
			_ = part.Close()
			return schema.Input{}, nil, badBody("Too many form fields.")
		}
		value, err := readTextPart(part)
		_ = part.Close()
		if err != nil {
			return schema.Input{}, nil, err
		}
		if name != "" {
			values.Add(name, value)
		}
	}
	return schema.FromForm(values), upload, nil
}

func (s *Server) readFilePart(part *multipart.Part, name string, current *intake.Upload) (*intake.Upload, error) {
	if name != intake.FieldName {
		return nil, badBody("Unexpected file field %q; the CV must be sent as %q.", name, intake.FieldName)
	}
	// browsers send an empty cv part when no file was chosen
	if part.FileName() == "" {
		if _, err := io.Copy(io.Discard, part); err != nil {
			return current, classifyBodyError(err, "Multipart body could not be parsed.")
		}
		return current, nil
	}
	if current != nil {
		return nil, &requestError{kind: errDuplicateCV, msg: "Only one CV file may be uploaded."}
	}
	return s.intake.Read(part.FileName(), part.Header.Get("Content-Type"), part)
}

func readTextPart(part *multipart.Part) (string, error) {
	data, err := io.ReadAll(io.LimitReader(part, maxTextFieldBytes+1))
	if err != nil {
		return "", classifyBodyError(err, "Multipart body could not be parsed.")
	}
	if len(data) > maxTextFieldBytes {
		return "", &requestError{kind: errBodyTooBig, msg: fmt.Sprintf("Form field %q is too large.", part.FormName())}
	}
	return string(data), nil
}

func classifyBodyError(err error, msg string) error {
	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) {
		return &requestError{kind: errBodyTooBig, msg: "Request body is too large."}
	}
	return badBody("%s", msg)
}

func (s *Server) writeApplyError(w http.ResponseWriter, r *http.Request, err error) {
	logger := util.LoggerFromContext(r.Context())
	var (
		verr   *schema.ValidationError
		reqErr *requestError
		stErr  *app.StoreError
	)
	switch {
	case errors.As(err, &verr):
		writeError(w, r, http.StatusBadRequest, CodeValidation, "Some fields are invalid.", map[string]any{
			"fields": verr.Fields,
		})
	case errors.Is(err, intake.ErrUnsupportedFileType):
		writeError(w, r, http.StatusUnsupportedMediaType, CodeUnsupportedFileType,
			"CV must be a PDF or Word document.", map[string]any{"field": intake.FieldName})
	case errors.Is(err, intake.ErrFileTooLarge):
		writeError(w, r, http.StatusRequestEntityTooLarge, CodeFileTooLarge,
			fmt.Sprintf("CV must be at most %s.", formatBytes(s.intake.MaxBytes())), map[string]any{"field": intake.FieldName})
	case errors.Is(err, csrftoken.ErrInvalidToken):
		logger.Info("csrf token rejected", "err", err)
		writeError(w, r, http.StatusForbidden, CodeCSRFInvalid, "Form session expired, please reload the page and try again.", nil)
	case errors.As(err, &reqErr):
		if errors.Is(reqErr, errBodyTooBig) {
			writeError(w, r, http.StatusRequestEntityTooLarge, CodeRequestTooLarge, reqErr.msg, nil)
			return
		}
		writeError(w, r, http.StatusBadRequest, CodeInvalidRequest, reqErr.msg, nil)
	case errors.As(err, &stErr):
		logger.Error("application submission failed", "op", stErr.Op, "err", stErr.Err)
		writeError(w, r, http.StatusInternalServerError, CodeServerError, serverErrorMessage, nil)
	default:
		logger.Error("application submission failed", "err", err)
		writeError(w, r, http.StatusInternalServerError, CodeServerError, serverErrorMessage, nil)
	}
}

func formatBytes(n int64) string {
	const mib = 1 << 20
	if n >= mib && n%mib == 0 {
		return fmt.Sprintf("%d MB", n/mib)
	}
	return fmt.Sprintf("%d bytes", n)
}
