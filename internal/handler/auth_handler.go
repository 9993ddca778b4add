package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"otp-auth-service/internal/service"
	"otp-auth-service/internal/util"
)

const maxBodyBytes = 1 << 16

// AuthHandler exposes the registration and login flows over HTTP.
type AuthHandler struct {
	auth   *service.AuthService
	logger *zap.Logger
}

func NewAuthHandler(auth *service.AuthService, logger *zap.Logger) *AuthHandler {
	return &AuthHandler{auth: auth, logger: logger}
}

// Response is the envelope of every API reply.
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
	Message string      `json:"message,omitempty"`
}

func successResponse(data interface{}, message string) Response {
	return Response{Success: true, Data: data, Message: message}
}

func errorResponse(code, message string) Response {
	return Response{Success: false, Error: code, Message: message}
}

type mobileBody struct {
	MobileNumber string `json:"mobile_number"`
}

type verifyBody struct {
	MobileNumber string `json:"mobile_number"`
	Code         string `json:"code"`
}

type profileBody struct {
	UserID    string `json:"user_id"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Email     string `json:"email"`
}

type issuedData struct {
	ExpiresIn int `json:"expires_in"`
}

type userData struct {
	UserID string `json:"user_id,omitempty"`
}

func (h *AuthHandler) RegisterRoutes(router chi.Router) {
	router.Route("/auth", func(r chi.Router) {
		r.Post("/register-login", h.RegisterOrLogin)
		r.Post("/verify-otp", h.VerifyOTP)
		r.Put("/complete-registration", h.CompleteRegistration)
		r.Post("/login", h.Login)
		r.Post("/verify-otp-login", h.VerifyOTPLogin)
	})
}

// RegisterOrLogin handles POST /api/v1/auth/register-login
func (h *AuthHandler) RegisterOrLogin(w http.ResponseWriter, r *http.Request) {
	var body mobileBody
	if !h.decode(w, r, &body) {
		return
	}

	out, err := h.auth.RegisterOrLogin(r.Context(), service.RegisterRequest{
		MobileNumber: body.MobileNumber,
		ClientIP:     clientIP(r),
	})
	if err != nil {
		h.respondWithServiceError(w, err, "Mobile number not registered.")
		return
	}

	if out.Kind == service.OutcomeAlreadyExists {
		h.respondWithJSON(w, http.StatusOK, successResponse(nil, "User exists. Please log in."))
		return
	}
	h.respondWithJSON(w, http.StatusCreated,
		successResponse(issuedData{ExpiresIn: int(out.ExpiresIn / time.Second)}, "OTP sent to your mobile number."))
}

// VerifyOTP handles POST /api/v1/auth/verify-otp
func (h *AuthHandler) VerifyOTP(w http.ResponseWriter, r *http.Request) {
	var body verifyBody
	if !h.decode(w, r, &body) {
		return
	}

	out, err := h.auth.VerifyRegistration(r.Context(), service.VerifyRequest{
		MobileNumber: body.MobileNumber,
		Code:         body.Code,
		ClientIP:     clientIP(r),
	})
	if err != nil {
		h.respondWithServiceError(w, err, "User not found.")
		return
	}

	if out.Kind == service.OutcomeAlreadyRegistered {
		h.respondWithJSON(w, http.StatusOK, successResponse(nil, "OTP verified. User already registered."))
		return
	}
	h.respondWithJSON(w, http.StatusOK,
		successResponse(userData{UserID: out.UserID}, "OTP verified. Please provide your personal information."))
}

// CompleteRegistration handles PUT /api/v1/auth/complete-registration
func (h *AuthHandler) CompleteRegistration(w http.ResponseWriter, r *http.Request) {
	var body profileBody
	if !h.decode(w, r, &body) {
		return
	}

	out, err := h.auth.CompleteRegistration(r.Context(), service.ProfileRequest{
		UserID:    body.UserID,
		FirstName: body.FirstName,
		LastName:  body.LastName,
		Email:     body.Email,
		ClientIP:  clientIP(r),
	})
	if err != nil {
		h.respondWithServiceError(w, err, "User not found.")
		return
	}

	h.respondWithJSON(w, http.StatusOK, successResponse(out.User, "Registration complete."))
}

// Login handles POST /api/v1/auth/login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var body mobileBody
	if !h.decode(w, r, &body) {
		return
	}

	out, err := h.auth.Login(r.Context(), service.LoginRequest{
		MobileNumber: body.MobileNumber,
		ClientIP:     clientIP(r),
	})
	if err != nil {
		h.respondWithServiceError(w, err, "Mobile number not registered.")
		return
	}

	h.respondWithJSON(w, http.StatusOK,
		successResponse(issuedData{ExpiresIn: int(out.ExpiresIn / time.Second)}, "OTP sent to your mobile number."))
}

// VerifyOTPLogin handles POST /api/v1/auth/verify-otp-login
func (h *AuthHandler) VerifyOTPLogin(w http.ResponseWriter, r *http.Request) {
	var body verifyBody
	if !h.decode(w, r, &body) {
		return
	}

	out, err := h.auth.VerifyLogin(r.Context(), service.VerifyRequest{
		MobileNumber: body.MobileNumber,
		Code:         body.Code,
		ClientIP:     clientIP(r),
	})
	if err != nil {
		h.respondWithServiceError(w, err, "Mobile number not registered.")
		return
	}

	h.respondWithJSON(w, http.StatusOK, successResponse(userData{UserID: out.UserID}, "Login successful."))
}

func (h *AuthHandler) decode(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		h.logger.Debug("Rejected request body", util.String("path", r.URL.Path), zap.Error(err))
		h.respondWithJSON(w, http.StatusBadRequest, errorResponse("invalid_request", "Invalid request body."))
		return false
	}
	return true
}

func (h *AuthHandler) respondWithJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("Failed to encode JSON response", util.ErrorField(err))
	}
}

// respondWithServiceError maps flow errors onto statuses. notFound is the
// endpoint's wording for a missing user.
func (h *AuthHandler) respondWithServiceError(w http.ResponseWriter, err error, notFound string) {
	var fe *service.FormatError
	switch {
	case errors.As(err, &fe):
		h.respondWithJSON(w, http.StatusBadRequest,
			errorResponse("invalid_format", fmt.Sprintf("Invalid %s. It %s.", fieldLabel(fe.Field), fe.Reason)))
	case errors.Is(err, service.ErrInvalidFormat):
		h.respondWithJSON(w, http.StatusBadRequest, errorResponse("invalid_format", "Invalid request."))
	case errors.Is(err, service.ErrTooManyFailures):
		h.respondWithJSON(w, http.StatusForbidden,
			errorResponse("blocked", "Too many failed attempts. Your IP has been blocked."))
	case errors.Is(err, service.ErrBlocked):
		h.respondWithJSON(w, http.StatusForbidden, errorResponse("blocked", "Your IP is blocked. Try again later."))
	case errors.Is(err, service.ErrInvalidCode):
		h.respondWithJSON(w, http.StatusBadRequest, errorResponse("invalid_code", "Invalid OTP code."))
	case errors.Is(err, service.ErrNotFound):
		h.respondWithJSON(w, http.StatusNotFound, errorResponse("not_found", notFound))
	case errors.Is(err, service.ErrAlreadyExists):
		h.respondWithJSON(w, http.StatusConflict, errorResponse("already_exists", "User already exists."))
	default:
		h.logger.Error("Request failed", zap.Error(err))
		h.respondWithJSON(w, http.StatusInternalServerError, errorResponse("internal", "Internal server error."))
	}
}

func fieldLabel(field string) string {
	switch field {
	case "code":
		return "OTP code"
	case "email":
		return "email"
	}
	return strings.ReplaceAll(field, "_", " ")
}

// clientIP reads the peer address. Forwarding headers only reach it through
// trustedRealIP.
func clientIP(r *http.Request) string {
	return hostOf(r.RemoteAddr)
}

func hostOf(addr string) string {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	return host
}
