package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"stayledger/internal/domain"
	"stayledger/internal/export"
	"stayledger/internal/models"
	"stayledger/internal/service"

	"github.com/go-playground/validator/v10"
)

const maxBodyBytes = 1 << 20

type availabilityRequest struct {
	PropertyID int64  `json:"propertyId" validate:"required,gt=0"`
	CheckIn    string `json:"checkIn" validate:"required,datetime=2006-01-02"`
	CheckOut   string `json:"checkOut" validate:"required,datetime=2006-01-02"`
	Guests     int    `json:"guests" validate:"gte=0"`
}

type createBookingRequest struct {
	PropertyID int64  `json:"propertyId" validate:"required,gt=0"`
	CheckIn    string `json:"checkIn" validate:"required,datetime=2006-01-02"`
	CheckOut   string `json:"checkOut" validate:"required,datetime=2006-01-02"`
	Guests     int    `json:"guests" validate:"required,gt=0"`
	OrderID    string `json:"orderId" validate:"omitempty,max=64"`
}

type decisionRequest struct {
	Action string `json:"action" validate:"required,oneof=approve reject"`
	Reason string `json:"reason"`
}

type cancelRequest struct {
	Reason string `json:"reason" validate:"required"`
}

type adjustRefundRequest struct {
	Amount int64  `json:"amount" validate:"required,gt=0"`
	Reason string `json:"reason" validate:"required"`
}

type refundResponse struct {
	Refunded int64           `json:"refunded"`
	Payment  *models.Payment `json:"payment"`
	Booking  *models.Booking `json:"booking"`
}

func (s *HTTPServer) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *HTTPServer) handleReadyz(w http.ResponseWriter, r *http.Request) {
	if s.svc.DB != nil {
		if err := s.svc.DB.Ping(r.Context()); err != nil {
			s.logger.Warn().Err(err).Msg("readiness check failed")
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *HTTPServer) handleAvailability(w http.ResponseWriter, r *http.Request) {
	var req availabilityRequest
	if r.Method == http.MethodGet {
		q := r.URL.Query()
		req.CheckIn = strings.TrimSpace(q.Get("checkIn"))
		req.CheckOut = strings.TrimSpace(q.Get("checkOut"))
		var err error
		if req.PropertyID, err = queryInt(q.Get("propertyId")); err != nil {
			s.writeError(w, r, domain.Validation("propertyId must be a number"))
			return
		}
		guests, err := queryInt(q.Get("guests"))
		if err != nil {
			s.writeError(w, r, domain.Validation("guests must be a number"))
			return
		}
		req.Guests = int(guests)
	} else if !s.decode(w, r, &req) {
		return
	}
	if err := s.validateStruct(req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if req.Guests == 0 {
		req.Guests = 1
	}

	checkIn, checkOut, err := parseStay(req.CheckIn, req.CheckOut)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	res, err := s.svc.Availability.Check(r.Context(), service.AvailabilityRequest{
		PropertyID: req.PropertyID,
		CheckIn:    checkIn,
		CheckOut:   checkOut,
		Guests:     req.Guests,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *HTTPServer) handleCreateBooking(w http.ResponseWriter, r *http.Request, userID int64) {
	var req createBookingRequest
	if !s.decode(w, r, &req) {
		return
	}
	if err := s.validateStruct(req); err != nil {
		s.writeError(w, r, err)
		return
	}
	checkIn, checkOut, err := parseStay(req.CheckIn, req.CheckOut)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	res, err := s.svc.Bookings.CreateBooking(r.Context(), userID, service.CreateBookingRequest{
		PropertyID: req.PropertyID,
		CheckIn:    checkIn,
		CheckOut:   checkOut,
		Guests:     req.Guests,
		OrderID:    strings.TrimSpace(req.OrderID),
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

func (s *HTTPServer) handleGetBooking(w http.ResponseWriter, r *http.Request, userID int64) {
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}
	res, err := s.svc.Bookings.GetBooking(r.Context(), userID, id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *HTTPServer) handleDecision(w http.ResponseWriter, r *http.Request, userID int64) {
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}
	var req decisionRequest
	if !s.decode(w, r, &req) {
		return
	}
	if err := s.validateStruct(req); err != nil {
		s.writeError(w, r, err)
		return
	}

	var (
		booking *models.Booking
		err     error
	)
	if req.Action == "approve" {
		booking, err = s.svc.Bookings.Approve(r.Context(), userID, id)
	} else {
		booking, err = s.svc.Bookings.Reject(r.Context(), userID, id, req.Reason)
	}
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"booking": booking})
}

func (s *HTTPServer) handleCancel(w http.ResponseWriter, r *http.Request, userID int64) {
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}
	var req cancelRequest
	if !s.decode(w, r, &req) {
		return
	}
	if err := s.validateStruct(req); err != nil {
		s.writeError(w, r, err)
		return
	}
	res, err := s.svc.Bookings.Cancel(r.Context(), userID, id, req.Reason)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *HTTPServer) handleComplete(w http.ResponseWriter, r *http.Request, userID int64) {
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}
	booking, err := s.svc.Bookings.Complete(r.Context(), userID, id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"booking": booking})
}

func (s *HTTPServer) handleNoShow(w http.ResponseWriter, r *http.Request, userID int64) {
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}
	booking, err := s.svc.Bookings.MarkNoShow(r.Context(), userID, id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"booking": booking})
}

func (s *HTTPServer) handleConfirmPayment(w http.ResponseWriter, r *http.Request, userID int64) {
	var req service.ConfirmPaymentRequest
	if !s.decode(w, r, &req) {
		return
	}
	if err := s.validateStruct(req); err != nil {
		s.writeError(w, r, err)
		return
	}
	res, err := s.svc.Payments.Confirm(r.Context(), userID, req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *HTTPServer) handleTransactions(w http.ResponseWriter, r *http.Request, userID int64) {
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}
	txns, err := s.svc.Payments.Transactions(r.Context(), userID, id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"transactions": txns})
}

func (s *HTTPServer) handleCreateReview(w http.ResponseWriter, r *http.Request, userID int64) {
	var req service.CreateReviewRequest
	if !s.decode(w, r, &req) {
		return
	}
	if err := s.validateStruct(req); err != nil {
		s.writeError(w, r, err)
		return
	}
	res, err := s.svc.Reviews.CreateReview(r.Context(), userID, req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

func (s *HTTPServer) handleCreditHistory(w http.ResponseWriter, r *http.Request, userID int64) {
	entries, err := s.svc.Reviews.CreditHistory(r.Context(), userID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"history": entries})
}

func (s *HTTPServer) handleAdjustRefund(w http.ResponseWriter, r *http.Request, adminID int64) {
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}
	var req adjustRefundRequest
	if !s.decode(w, r, &req) {
		return
	}
	if err := s.validateStruct(req); err != nil {
		s.writeError(w, r, err)
		return
	}
	res, err := s.svc.Payments.AdjustRefund(r.Context(), adminID, id, req.Amount, req.Reason)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, refundResponse{Refunded: res.Refunded, Payment: res.Payment, Booking: res.Booking})
}

func (s *HTTPServer) handleReconcile(w http.ResponseWriter, r *http.Request, _ int64) {
	report, err := s.svc.Reconciler.Run(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *HTTPServer) handleListCases(w http.ResponseWriter, r *http.Request, adminID int64) {
	cases, err := s.svc.Reconciler.OpenCases(r.Context(), adminID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"cases": cases})
}

func (s *HTTPServer) handleResolveCase(w http.ResponseWriter, r *http.Request, adminID int64) {
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}
	var req service.CaseResolution
	if !s.decode(w, r, &req) {
		return
	}
	if err := s.validateStruct(req); err != nil {
		s.writeError(w, r, err)
		return
	}
	repairs, err := s.svc.Reconciler.ResolveCase(r.Context(), adminID, id, req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if repairs == nil {
		repairs = []service.Repair{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"repairs": repairs})
}

func (s *HTTPServer) handleLedgerExport(w http.ResponseWriter, r *http.Request, _ int64) {
	q := r.URL.Query()
	from, err := models.ParseDate(strings.TrimSpace(q.Get("from")))
	if err != nil {
		s.writeError(w, r, domain.Validation("from must be YYYY-MM-DD"))
		return
	}
	to, err := models.ParseDate(strings.TrimSpace(q.Get("to")))
	if err != nil {
		s.writeError(w, r, domain.Validation("to must be YYYY-MM-DD"))
		return
	}
	// the range is inclusive of the last day
	to = to.AddDate(0, 0, 1)
	if !from.Before(to) {
		s.writeError(w, r, domain.Validation("from must not be after to"))
		return
	}

	f, err := s.svc.Exporter.Build(r.Context(), from, to)
	if err != nil {
		s.writeError(w, r, domain.Internal(err, "build ledger export"))
		return
	}
	defer f.Close()

	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", export.FileName(from, to)))
	w.WriteHeader(http.StatusOK)
	if _, err := f.WriteTo(w); err != nil {
		s.logger.Error().Err(err).Msg("write ledger export")
	}
}

// decode reads a JSON body into dst and reports a validation error on failure.
func (s *HTTPServer) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		s.writeError(w, r, domain.Validation("invalid JSON body: %v", err))
		return false
	}
	return true
}

func (s *HTTPServer) validateStruct(v any) error {
	err := s.validate.Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return domain.Validation("invalid request: %v", err)
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fieldMessage(fe))
	}
	return domain.Validation("%s", strings.Join(msgs, "; "))
}

func fieldMessage(fe validator.FieldError) string {
	name := lowerFirst(fe.Field())
	switch fe.Tag() {
	case "required":
		return name + " is required"
	case "datetime":
		return name + " must be a YYYY-MM-DD date"
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", name, fe.Param())
	case "gt", "gte", "min":
		return fmt.Sprintf("%s must be at least %s", name, boundFor(fe))
	case "max", "lte":
		return fmt.Sprintf("%s must be at most %s", name, fe.Param())
	default:
		return fmt.Sprintf("%s is invalid (%s)", name, fe.Tag())
	}
}

func boundFor(fe validator.FieldError) string {
	if fe.Tag() != "gt" {
		return fe.Param()
	}
	n, err := strconv.ParseInt(fe.Param(), 10, 64)
	if err != nil {
		return "above " + fe.Param()
	}
	return strconv.FormatInt(n+1, 10)
}

func lowerFirst(s string) string {
	if s == "" {
		return s
	}
	return strings.ToLower(s[:1]) + s[1:]
}

func (s *HTTPServer) pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		s.writeError(w, r, domain.Validation("invalid id %q", r.PathValue("id")))
		return 0, false
	}
	return id, true
}

func queryInt(raw string) (int64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	return strconv.ParseInt(raw, 10, 64)
}

func parseStay(checkIn, checkOut string) (time.Time, time.Time, error) {
	in, err := models.ParseDate(checkIn)
	if err != nil {
		return time.Time{}, time.Time{}, domain.Validation("checkIn must be a YYYY-MM-DD date")
	}
	out, err := models.ParseDate(checkOut)
	if err != nil {
		return time.Time{}, time.Time{}, domain.Validation("checkOut must be a YYYY-MM-DD date")
	}
	return in, out, nil
}
