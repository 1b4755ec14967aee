package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/snarfed/oauth-dropins/internal/classify"
	"github.com/snarfed/oauth-dropins/internal/flow"
	"github.com/snarfed/oauth-dropins/internal/providers"
)

// AppError define la estructura estándar para errores de la aplicación.
type AppError struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	Detail     string `json:"detail,omitempty"`
	HTTPStatus int    `json:"-"` // No se serializa, usado para el header
	Err        error  `json:"-"` // Causa original, útil para logs
}

// Error implementa la interfaz error.
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap permite acceder al error original.
func (e *AppError) Unwrap() error { return e.Err }

// New crea un nuevo AppError.
func New(status int, code, message string) *AppError {
	return &AppError{Code: code, Message: message, HTTPStatus: status}
}

// WithCause devuelve una copia con la causa seteada.
func (e *AppError) WithCause(err error) *AppError {
	cp := *e
	cp.Err = err
	return &cp
}

// WithDetail devuelve una copia con detalle adicional.
func (e *AppError) WithDetail(detail string) *AppError {
	cp := *e
	cp.Detail = detail
	return &cp
}

// Errores base de la API.
var (
	ErrUnknownProvider = New(http.StatusNotFound, "unknown_provider", "ese proveedor no existe")
	ErrMissingConfig   = New(http.StatusInternalServerError, "missing_configuration", "el proveedor no está configurado en este deployment")
	ErrInvalidCallback = New(http.StatusBadRequest, "invalid_callback", "callback inválido, expirado o repetido")
	ErrBadRequest      = New(http.StatusBadRequest, "bad_request", "parámetros inválidos")
	// El proveedor reportó un error en el callback (server_error, etc).
	// Es un resultado del handshake, no una falla nuestra: 400, no 502.
	ErrProviderReported = New(http.StatusBadRequest, "provider_reported", "el proveedor reportó un error en el handshake")
	ErrDeadCredential  = New(http.StatusUnauthorized, "dead_credential", "el proveedor rechazó la credencial")
	ErrUpstream        = New(http.StatusBadGateway, "provider_error", "el proveedor respondió con un error")
	ErrInternal        = New(http.StatusInternalServerError, "internal_error", "error interno")
)

// FromError mapea errores de las capas inferiores a AppError. Los errores
// de red/upstream pasan por el clasificador: credenciales muertas salen
// como 401 sin importar el status con que el proveedor las disfrazó.
func FromError(err error, classifier *classify.Classifier) *AppError {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}

	switch {
	case errors.Is(err, providers.ErrUnknownProvider):
		return ErrUnknownProvider.WithCause(err)
	case errors.Is(err, providers.ErrMissingConfiguration):
		return ErrMissingConfig.WithCause(err)
	case errors.Is(err, flow.ErrBadCallback):
		return ErrInvalidCallback.WithCause(err)
	case errors.Is(err, flow.ErrProviderDenied):
		return ErrProviderReported.WithCause(err).WithDetail(err.Error())
	}

	var he *classify.HTTPError
	if errors.As(err, &he) && classifier != nil {
		code, body := classifier.Classify(err)
		if code == "401" {
			return ErrDeadCredential.WithCause(err).WithDetail(body)
		}
		return ErrUpstream.WithCause(err).WithDetail(body)
	}

	return ErrInternal.WithCause(err)
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Detail  string `json:"detail,omitempty"`
}

// WriteError escribe la respuesta JSON de un error.
func WriteError(w http.ResponseWriter, appErr *AppError) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(appErr.HTTPStatus)
	_ = json.NewEncoder(w).Encode(errorResponse{
		Code:    appErr.Code,
		Message: appErr.Message,
		Detail:  appErr.Detail,
	})
}
