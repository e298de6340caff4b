package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hackgods/availability-engine/internal/availability"
	"github.com/hackgods/availability-engine/internal/recurrence"
	"github.com/hackgods/availability-engine/internal/schedule"
)

func (h *handler) getAvailability(w http.ResponseWriter, r *http.Request) {
	practitionerID, err := strconv.ParseInt(chi.URLParam(r, "practitionerID"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_practitioner_id", "practitionerID must be an integer")
		return
	}
	productID, err := strconv.ParseInt(chi.URLParam(r, "productID"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_product_id", "productID must be an integer")
		return
	}

	start, end, ok := parseWindow(w, r, "start", "end")
	if !ok {
		return
	}
	opts, ok := parseAvailabilityOptions(w, r)
	if !ok {
		return
	}

	profile, err := h.catalog.GetPractitionerProfile(r.Context(), practitionerID)
	if err != nil {
		h.handleAvailabilityError(w, r, err)
		return
	}
	product, err := h.catalog.GetProduct(r.Context(), productID)
	if err != nil {
		h.handleAvailabilityError(w, r, err)
		return
	}
	if product.PractitionerID != practitionerID {
		writeError(w, http.StatusNotFound, "product_not_found", "product is not offered by this practitioner")
		return
	}

	calc := availability.NewCalculator(product, profile, h.catalog, h.logger, availability.WithNow(h.now))
	slots, err := calc.GetAvailability(r.Context(), start, end, opts...)
	if err != nil {
		h.handleAvailabilityError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, toAvailabilityResponse(practitionerID, productID, slots, calc.AssignableAdvocate()))
}

func (h *handler) getMassAvailability(w http.ResponseWriter, r *http.Request) {
	var req MassAvailabilityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
		return
	}
	if len(req.Practitioners) == 0 {
		writeError(w, http.StatusBadRequest, "invalid_request_body", "practitioners must not be empty")
		return
	}

	var opts []availability.Option
	if req.MemberID != 0 {
		opts = append(opts, availability.WithMember(req.MemberID))
	}
	if req.Limit != nil {
		opts = append(opts, availability.WithLimit(*req.Limit))
	}

	ids := make([]int64, 0, len(req.Practitioners))
	for _, p := range req.Practitioners {
		ids = append(ids, p.PractitionerID)
	}
	profiles, err := h.catalog.GetPractitionerProfiles(r.Context(), ids)
	if err != nil {
		h.handleAvailabilityError(w, r, err)
		return
	}

	pairs := make([]availability.PractitionerProduct, 0, len(req.Practitioners))
	for _, p := range req.Practitioners {
		profile, ok := profiles[p.PractitionerID]
		if !ok {
			writeError(w, http.StatusNotFound, "practitioner_not_found", fmt.Sprintf("practitioner %d not found", p.PractitionerID))
			return
		}
		product, err := h.catalog.GetProduct(r.Context(), p.ProductID)
		if err != nil {
			h.handleAvailabilityError(w, r, err)
			return
		}
		if product.PractitionerID != p.PractitionerID {
			writeError(w, http.StatusNotFound, "product_not_found", fmt.Sprintf("product %d is not offered by practitioner %d", p.ProductID, p.PractitionerID))
			return
		}
		pairs = append(pairs, availability.PractitionerProduct{Product: product, Profile: profile})
	}

	result, err := h.mass.GetMassAvailability(r.Context(), req.Start, req.End, pairs, opts...)
	if err != nil {
		h.handleAvailabilityError(w, r, err)
		return
	}

	resp := MassAvailabilityResponse{Results: make([]AvailabilityResponse, 0, len(pairs))}
	for _, p := range pairs {
		resp.Results = append(resp.Results, toAvailabilityResponse(p.Profile.UserID, p.Product.ID, result[p.Key()], p.Profile.AssignableAdvocate))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *handler) createRecurringBlock(w http.ResponseWriter, r *http.Request) {
	var req CreateRecurringBlockRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
		return
	}

	id, err := h.blocks.CreateScheduleRecurringBlock(r.Context(), schedule.CreateScheduleRecurringBlockParams{
		StartsAt:       req.StartsAt,
		EndsAt:         req.EndsAt,
		Frequency:      recurrence.Frequency(req.Frequency),
		Until:          req.Until,
		ScheduleID:     req.ScheduleID,
		WeekDaysIndex:  req.WeekDaysIndex,
		MemberTimezone: req.MemberTimezone,
		UserID:         req.UserID,
	})
	if err != nil {
		h.handleBlockError(w, r, err)
		return
	}

	block, err := h.blocks.GetScheduleRecurringBlockByID(r.Context(), id)
	if err != nil {
		h.handleBlockError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, toRecurringBlockResponse(*block))
}

func (h *handler) getRecurringBlock(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_recurring_block_id", "id must be an integer")
		return
	}

	block, err := h.blocks.GetScheduleRecurringBlockByID(r.Context(), id)
	if err != nil {
		h.handleBlockError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, toRecurringBlockResponse(*block))
}

func (h *handler) listRecurringBlocks(w http.ResponseWriter, r *http.Request) {
	userID, err := strconv.ParseInt(chi.URLParam(r, "userID"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_user_id", "userID must be an integer")
		return
	}
	start, until, ok := parseWindow(w, r, "start", "until")
	if !ok {
		return
	}

	blocks, err := h.blocks.GetScheduleRecurringBlockByUserAndDateRange(r.Context(), userID, start, until)
	if err != nil {
		h.handleBlockError(w, r, err)
		return
	}

	resp := make([]RecurringBlockResponse, 0, len(blocks))
	for _, b := range blocks {
		resp = append(resp, toRecurringBlockResponse(b))
	}
	writeJSON(w, http.StatusOK, resp)
}

// deleteRecurringBlock refuses with 409 while any booked appointment still
// falls inside the block.
func (h *handler) deleteRecurringBlock(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_recurring_block_id", "id must be an integer")
		return
	}
	userID, err := strconv.ParseInt(r.URL.Query().Get("user_id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_user_id", "user_id query parameter is required")
		return
	}

	if err := h.blocks.DetectBookedAppointmentsInBlock(r.Context(), id, userID); err != nil {
		h.handleBlockError(w, r, err)
		return
	}

	deleted, err := h.blocks.DeleteScheduleRecurringBlock(r.Context(), id, userID)
	if err != nil {
		h.handleBlockError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, DeleteRecurringBlockResponse{ID: deleted})
}

func parseWindow(w http.ResponseWriter, r *http.Request, startKey, endKey string) (time.Time, time.Time, bool) {
	q := r.URL.Query()
	start, err := time.Parse(time.RFC3339, q.Get(startKey))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_"+startKey, startKey+" must be an RFC3339 timestamp")
		return time.Time{}, time.Time{}, false
	}
	end, err := time.Parse(time.RFC3339, q.Get(endKey))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_"+endKey, endKey+" must be an RFC3339 timestamp")
		return time.Time{}, time.Time{}, false
	}
	return start, end, true
}

func parseAvailabilityOptions(w http.ResponseWriter, r *http.Request) ([]availability.Option, bool) {
	q := r.URL.Query()
	var opts []availability.Option

	if v := q.Get("member_id"); v != "" {
		memberID, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_member_id", "member_id must be an integer")
			return nil, false
		}
		opts = append(opts, availability.WithMember(memberID))
	}
	if v := q.Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_limit", "limit must be an integer")
			return nil, false
		}
		opts = append(opts, availability.WithLimit(limit))
	}
	return opts, true
}

func (h *handler) handleAvailabilityError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, availability.ErrInvalidLimit):
		writeError(w, http.StatusBadRequest, "invalid_limit", err.Error())
	case errors.Is(err, availability.ErrInvalidWindow):
		writeError(w, http.StatusBadRequest, "invalid_window", err.Error())
	case errors.Is(err, availability.ErrInvalidProduct):
		writeError(w, http.StatusBadRequest, "invalid_product", err.Error())
	case errors.Is(err, availability.ErrPractitionerNotFound):
		writeError(w, http.StatusNotFound, "practitioner_not_found", err.Error())
	case errors.Is(err, availability.ErrProductNotFound):
		writeError(w, http.StatusNotFound, "product_not_found", err.Error())
	default:
		h.internalError(w, r, err)
	}
}

func (h *handler) handleBlockError(w http.ResponseWriter, r *http.Request, err error) {
	var booked *schedule.BookedAppointmentsError

	switch {
	case errors.Is(err, schedule.ErrInvalidRecurringBlock):
		writeError(w, http.StatusBadRequest, "invalid_recurring_block", err.Error())
	case errors.Is(err, schedule.ErrRecurringBlockNotFound):
		writeError(w, http.StatusNotFound, "recurring_block_not_found", err.Error())
	case errors.Is(err, schedule.ErrScheduleNotFound):
		writeError(w, http.StatusNotFound, "schedule_not_found", err.Error())
	case errors.Is(err, schedule.ErrScheduleRecurringBlockConflict):
		writeError(w, http.StatusConflict, "recurring_block_conflict", err.Error())
	case errors.As(err, &booked):
		writeError(w, http.StatusConflict, "booked_appointments_in_block",
			fmt.Sprintf("%d booked appointment(s) must be cancelled first", booked.Count))
	case errors.Is(err, schedule.ErrMaterializationInProgress):
		writeError(w, http.StatusConflict, "schedule_being_updated", "schedule is currently being updated, please retry shortly")
	default:
		h.internalError(w, r, err)
	}
}

func (h *handler) internalError(w http.ResponseWriter, r *http.Request, err error) {
	h.logger.Error().Err(err).
		Str("request_id", GetRequestID(r.Context())).
		Str("path", r.URL.Path).
		Msg("request failed")
	writeError(w, http.StatusInternalServerError, "internal_error", "internal server error")
}
