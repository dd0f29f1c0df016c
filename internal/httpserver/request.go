package httpserver

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"

	"pastebin-lite/internal/paste"
)

// maxSafeInteger is the largest integer a JSON client can represent exactly.
const maxSafeInteger = 1<<53 - 1

const (
	msgContent  = "Content is required and must be non-empty"
	msgTTL      = "ttl_seconds must be an integer >= 1"
	msgMaxViews = "max_views must be an integer >= 1"
)

var fieldMessages = map[string]string{
	"Content":    msgContent,
	"TTLSeconds": msgTTL,
	"MaxViews":   msgMaxViews,
}

// requestError is a validation failure reported to the client verbatim.
type requestError struct {
	status int
	msg    string
}

func (e *requestError) Error() string { return e.msg }

func badRequest(msg string) error {
	return &requestError{status: http.StatusBadRequest, msg: msg}
}

// createParams is a creation request after type checks, before range checks.
type createParams struct {
	Content    string `validate:"notblank"`
	TTLSeconds *int64 `validate:"omitempty,min=1,max=2147483647"`
	MaxViews   *int64 `validate:"omitempty,min=1,max=9007199254740991"`
}

func (p createParams) input() paste.CreateInput {
	return paste.CreateInput{Content: p.Content, TTLSeconds: p.TTLSeconds, MaxViews: p.MaxViews}
}

type createBody struct {
	Content    json.RawMessage `json:"content"`
	TTLSeconds json.RawMessage `json:"ttl_seconds"`
	MaxViews   json.RawMessage `json:"max_views"`
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	_ = v.RegisterValidation("notblank", func(fl validator.FieldLevel) bool {
		return strings.TrimSpace(fl.Field().String()) != ""
	})
	return v
}

// decodeCreateJSON reads a JSON creation request. Numbers must be JSON
// integers; strings, null and fractions are rejected.
func (s *Server) decodeCreateJSON(w http.ResponseWriter, r *http.Request) (createParams, error) {
	// JSON escaping can expand each content byte up to six.
	r.Body = http.MaxBytesReader(w, r.Body, int64(s.maxBytes)*6+4096)

	var body createBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return createParams{}, &requestError{status: http.StatusRequestEntityTooLarge, msg: "Request body too large"}
		}
		return createParams{}, badRequest("Request body must be a JSON object")
	}

	var params createParams
	if raw := bytes.TrimSpace(body.Content); len(raw) == 0 || raw[0] != '"' {
		return createParams{}, badRequest(msgContent)
	} else if err := json.Unmarshal(raw, &params.Content); err != nil {
		return createParams{}, badRequest(msgContent)
	}

	var ok bool
	if params.TTLSeconds, ok = jsonInteger(body.TTLSeconds); !ok {
		return createParams{}, badRequest(msgTTL)
	}
	if params.MaxViews, ok = jsonInteger(body.MaxViews); !ok {
		return createParams{}, badRequest(msgMaxViews)
	}
	return params, s.checkCreate(params)
}

// decodeCreateForm reads the HTML form. Empty limit fields mean "no limit".
func (s *Server) decodeCreateForm(w http.ResponseWriter, r *http.Request) (createParams, error) {
	r.Body = http.MaxBytesReader(w, r.Body, int64(s.maxBytes)*3+4096)
	if err := r.ParseForm(); err != nil {
		return createParams{}, badRequest("Unable to parse form")
	}

	params := createParams{Content: r.FormValue("content")}
	var ok bool
	if params.TTLSeconds, ok = formInteger(r.FormValue("ttl_seconds")); !ok {
		return params, badRequest(msgTTL)
	}
	if params.MaxViews, ok = formInteger(r.FormValue("max_views")); !ok {
		return params, badRequest(msgMaxViews)
	}
	return params, s.checkCreate(params)
}

func (s *Server) checkCreate(p createParams) error {
	if err := s.validate.Struct(p); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			if msg, ok := fieldMessages[verrs[0].StructField()]; ok {
				return badRequest(msg)
			}
		}
		return badRequest(err.Error())
	}
	if len(p.Content) > s.maxBytes {
		return badRequest(fmt.Sprintf("Content exceeds %d byte limit", s.maxBytes))
	}
	return nil
}

func jsonInteger(raw json.RawMessage) (*int64, bool) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return nil, true
	}
	if raw[0] != '-' && (raw[0] < '0' || raw[0] > '9') {
		return nil, false
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, false
	}
	if f != math.Trunc(f) || math.Abs(f) > maxSafeInteger {
		return nil, false
	}
	v := int64(f)
	return &v, true
}

func formInteger(raw string) (*int64, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, true
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return nil, false
	}
	return &v, true
}
