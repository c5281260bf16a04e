package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"tally/internal/commands"
	"tally/internal/core"
	"tally/internal/llm"
)

// ChatRequest is one natural-language message from the user.
type ChatRequest struct {
	UserID  int64  `json:"user_id"`
	Message string `json:"message"`
}

// ChatResponse pairs the user-facing reply with the structured outcome.
type ChatResponse struct {
	ReplyText string           `json:"reply_text"`
	Ok        bool             `json:"ok"`
	Intent    string           `json:"intent,omitempty"`
	Result    *commands.Result `json:"result,omitempty"`
}

func (d *Dispatcher) handleChat(w http.ResponseWriter, r *http.Request) {
	var req ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.UserID <= 0 || req.Message == "" {
		respondError(w, http.StatusBadRequest, "user_id and message are required")
		return
	}

	intent, err := d.llm.ExtractIntent(r.Context(), req.Message)
	if err != nil {
		slog.ErrorContext(r.Context(), "Intent extraction failed", "error", err)
		respondJSON(w, http.StatusOK, ChatResponse{
			ReplyText: "Sorry, I couldn't process that. Please try again.",
		})
		return
	}

	cmd, err := intentToCommand(req.UserID, intent)
	if err != nil {
		respondJSON(w, http.StatusOK, ChatResponse{
			ReplyText: "I didn't catch that. Try something like 'lent 30 to Alice' or 'settle up with Bob'.",
			Intent:    intent.Kind,
		})
		return
	}

	result, err := d.commands.Dispatch(r.Context(), cmd)
	if err != nil {
		slog.ErrorContext(r.Context(), "Command dispatch failed",
			"command", cmd.Kind(), "error", err)
		respondError(w, http.StatusInternalServerError, "command failed")
		return
	}

	respondJSON(w, http.StatusOK, ChatResponse{
		ReplyText: result.Reply,
		Ok:        result.Ok,
		Intent:    intent.Kind,
		Result:    result,
	})
}

// intentToCommand maps an extracted intent onto one command variant.
// Unknown or underspecified intents are an error, the caller answers with a
// rephrase hint.
func intentToCommand(userID int64, intent *llm.Intent) (commands.Command, error) {
	amount := func() (core.Money, error) {
		cents, err := core.ParseDecimalToCents(intent.Amount)
		if err != nil {
			return core.Money{}, err
		}
		return core.Money{Cents: cents}, nil
	}
	optionalAmount := func() (*core.Money, error) {
		if intent.Amount == "" {
			return nil, nil
		}
		m, err := amount()
		if err != nil {
			return nil, err
		}
		return &m, nil
	}

	switch intent.Kind {
	case "record_borrowed":
		m, err := amount()
		if err != nil {
			return nil, err
		}
		return commands.RecordBorrowed{
			UserID:       userID,
			Counterparty: intent.Counterparty,
			Amount:       m,
			Category:     intent.Category,
			Description:  intent.Description,
		}, nil
	case "record_lent":
		m, err := amount()
		if err != nil {
			return nil, err
		}
		return commands.RecordLent{
			UserID:       userID,
			Counterparty: intent.Counterparty,
			Amount:       m,
			Category:     intent.Category,
			Description:  intent.Description,
		}, nil
	case "receive_payment":
		m, err := optionalAmount()
		if err != nil {
			return nil, err
		}
		return commands.ReceivePayment{UserID: userID, Counterparty: intent.Counterparty, Amount: m}, nil
	case "settle_up":
		m, err := optionalAmount()
		if err != nil {
			return nil, err
		}
		return commands.SettleUp{UserID: userID, Counterparty: intent.Counterparty, Amount: m}, nil
	case "create_recurring_rule":
		m, err := amount()
		if err != nil {
			return nil, err
		}
		name := intent.RuleName
		if name == "" {
			name = intent.Description
		}
		return commands.CreateRecurringRule{
			UserID:        userID,
			Name:          name,
			Amount:        m,
			Recurrence:    core.RecurrenceKind(intent.Recurrence),
			RecurrenceDay: intent.Day,
		}, nil
	case "mark_paid":
		return commands.MarkOccurrencePaid{
			UserID:       userID,
			OccurrenceID: intent.OccurrenceID,
			GenerateNext: intent.GenerateNext,
		}, nil
	case "undo_paid":
		return commands.UndoOccurrencePaid{UserID: userID, OccurrenceID: intent.OccurrenceID}, nil
	case "list_dues":
		return commands.ListPendingDues{UserID: userID, Counterparty: intent.Counterparty}, nil
	case "list_occurrences":
		return commands.ListPendingOccurrences{UserID: userID}, nil
	case "show_dashboard":
		return commands.ShowDashboard{UserID: userID}, nil
	default:
		return nil, fmt.Errorf("unparseable intent %q", intent.Kind)
	}
}

// CommandEnvelope is the wire form of one command for clients that already
// speak the command schema: a kind tag plus the union of the variant fields.
// Amounts are cents, matching the command types; a nil amount on the
// settlement kinds means settle everything owed.
type CommandEnvelope struct {
	UserID        int64  `json:"user_id"`
	Kind          string `json:"kind"`
	Counterparty  string `json:"counterparty,omitempty"`
	AmountCents   *int64 `json:"amount_cents,omitempty"`
	Category      string `json:"category,omitempty"`
	Merchant      string `json:"merchant,omitempty"`
	Description   string `json:"description,omitempty"`
	Name          string `json:"name,omitempty"`
	Recurrence    string `json:"recurrence,omitempty"`
	RecurrenceDay int    `json:"recurrence_day,omitempty"`
	OccurrenceID  int64  `json:"occurrence_id,omitempty"`
	GenerateNext  bool   `json:"generate_next,omitempty"`
}

func (d *Dispatcher) handleCommand(w http.ResponseWriter, r *http.Request) {
	var env CommandEnvelope
	if err := json.NewDecoder(r.Body).Decode(&env); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if env.UserID <= 0 {
		respondError(w, http.StatusBadRequest, "user_id is required")
		return
	}

	cmd, err := envelopeToCommand(env)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	d.dispatchAndRespond(w, r, cmd)
}

func envelopeToCommand(env CommandEnvelope) (commands.Command, error) {
	money := func() core.Money {
		if env.AmountCents == nil {
			return core.Money{}
		}
		return core.Money{Cents: *env.AmountCents}
	}
	optional := func() *core.Money {
		if env.AmountCents == nil {
			return nil
		}
		return &core.Money{Cents: *env.AmountCents}
	}

	switch env.Kind {
	case "record_borrowed":
		return commands.RecordBorrowed{
			UserID:       env.UserID,
			Counterparty: env.Counterparty,
			Amount:       money(),
			Category:     env.Category,
			Merchant:     env.Merchant,
			Description:  env.Description,
		}, nil
	case "record_lent":
		return commands.RecordLent{
			UserID:       env.UserID,
			Counterparty: env.Counterparty,
			Amount:       money(),
			Category:     env.Category,
			Merchant:     env.Merchant,
			Description:  env.Description,
		}, nil
	case "receive_payment":
		return commands.ReceivePayment{UserID: env.UserID, Counterparty: env.Counterparty, Amount: optional()}, nil
	case "settle_up":
		return commands.SettleUp{UserID: env.UserID, Counterparty: env.Counterparty, Amount: optional()}, nil
	case "create_recurring_rule":
		return commands.CreateRecurringRule{
			UserID:        env.UserID,
			Name:          env.Name,
			Amount:        money(),
			Recurrence:    core.RecurrenceKind(env.Recurrence),
			RecurrenceDay: env.RecurrenceDay,
		}, nil
	case "mark_occurrence_paid":
		return commands.MarkOccurrencePaid{
			UserID:       env.UserID,
			OccurrenceID: env.OccurrenceID,
			GenerateNext: env.GenerateNext,
		}, nil
	case "undo_occurrence_paid":
		return commands.UndoOccurrencePaid{UserID: env.UserID, OccurrenceID: env.OccurrenceID}, nil
	case "list_pending_dues":
		return commands.ListPendingDues{UserID: env.UserID, Counterparty: env.Counterparty}, nil
	case "list_pending_occurrences":
		return commands.ListPendingOccurrences{UserID: env.UserID}, nil
	case "show_dashboard":
		return commands.ShowDashboard{UserID: env.UserID}, nil
	default:
		return nil, fmt.Errorf("unknown command kind %q", env.Kind)
	}
}

func (d *Dispatcher) handleListCounterparties(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDParam(w, r)
	if !ok {
		return
	}
	cps, err := d.ledger.ListCounterparties(r.Context(), userID)
	if err != nil {
		respondDomainError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, cps)
}

func (d *Dispatcher) handleBalance(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDParam(w, r)
	if !ok {
		return
	}
	balance, err := d.ledger.Balance(r.Context(), userID, chi.URLParam(r, "name"))
	if err != nil {
		respondDomainError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"balance_cents": balance.Cents,
		"balance":       balance.String(),
	})
}

// ContactRequest updates a counterparty's contact metadata.
type ContactRequest struct {
	UserID int64  `json:"user_id"`
	Email  string `json:"email"`
	Phone  string `json:"phone"`
}

func (d *Dispatcher) handleUpdateContact(w http.ResponseWriter, r *http.Request) {
	var req ContactRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.UserID <= 0 {
		respondError(w, http.StatusBadRequest, "user_id is required")
		return
	}
	if err := d.ledger.UpdateContact(r.Context(), req.UserID, chi.URLParam(r, "name"), req.Email, req.Phone); err != nil {
		respondDomainError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "updated"})
}

// RecordDueRequest logs one shared expense. Direction is "borrowed" when the
// counterparty fronted the money, "lent" when the user did.
type RecordDueRequest struct {
	UserID       int64  `json:"user_id"`
	Counterparty string `json:"counterparty"`
	Amount       string `json:"amount"`
	Direction    string `json:"direction"`
	Category     string `json:"category"`
	Merchant     string `json:"merchant"`
	Description  string `json:"description"`
}

func (d *Dispatcher) handleRecordDue(w http.ResponseWriter, r *http.Request) {
	var req RecordDueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	cents, err := core.ParseDecimalToCents(req.Amount)
	if err != nil {
		respondError(w, http.StatusBadRequest, "amount must be a positive decimal")
		return
	}

	var cmd commands.Command
	switch req.Direction {
	case "borrowed":
		cmd = commands.RecordBorrowed{
			UserID:       req.UserID,
			Counterparty: req.Counterparty,
			Amount:       core.Money{Cents: cents},
			Category:     req.Category,
			Merchant:     req.Merchant,
			Description:  req.Description,
		}
	case "lent":
		cmd = commands.RecordLent{
			UserID:       req.UserID,
			Counterparty: req.Counterparty,
			Amount:       core.Money{Cents: cents},
			Category:     req.Category,
			Merchant:     req.Merchant,
			Description:  req.Description,
		}
	default:
		respondError(w, http.StatusBadRequest, "direction must be 'borrowed' or 'lent'")
		return
	}

	d.dispatchAndRespond(w, r, cmd)
}

func (d *Dispatcher) handleListPendingDues(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDParam(w, r)
	if !ok {
		return
	}
	dues, err := d.ledger.PendingDues(r.Context(), userID, r.URL.Query().Get("counterparty"))
	if err != nil {
		respondDomainError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, dues)
}

// SettleRequest settles dues with a counterparty. Amount empty settles
// everything outstanding.
type SettleRequest struct {
	UserID       int64  `json:"user_id"`
	Counterparty string `json:"counterparty"`
	Amount       string `json:"amount"`
	AsPayment    bool   `json:"as_payment"` // true = counterparty paid the user back
}

func (d *Dispatcher) handleSettle(w http.ResponseWriter, r *http.Request) {
	var req SettleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	var amount *core.Money
	if req.Amount != "" {
		cents, err := core.ParseDecimalToCents(req.Amount)
		if err != nil {
			respondError(w, http.StatusBadRequest, "amount must be a positive decimal")
			return
		}
		amount = &core.Money{Cents: cents}
	}

	var cmd commands.Command
	if req.AsPayment {
		cmd = commands.ReceivePayment{UserID: req.UserID, Counterparty: req.Counterparty, Amount: amount}
	} else {
		cmd = commands.SettleUp{UserID: req.UserID, Counterparty: req.Counterparty, Amount: amount}
	}
	d.dispatchAndRespond(w, r, cmd)
}

// CreateRuleRequest registers a recurring obligation.
type CreateRuleRequest struct {
	UserID     int64  `json:"user_id"`
	Name       string `json:"name"`
	Amount     string `json:"amount"`
	Recurrence string `json:"recurrence"`
	Day        int    `json:"day"`
}

func (d *Dispatcher) handleCreateRule(w http.ResponseWriter, r *http.Request) {
	var req CreateRuleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	cents, err := core.ParseDecimalToCents(req.Amount)
	if err != nil {
		respondError(w, http.StatusBadRequest, "amount must be a positive decimal")
		return
	}

	d.dispatchAndRespond(w, r, commands.CreateRecurringRule{
		UserID:        req.UserID,
		Name:          req.Name,
		Amount:        core.Money{Cents: cents},
		Recurrence:    core.RecurrenceKind(req.Recurrence),
		RecurrenceDay: req.Day,
	})
}

func (d *Dispatcher) handleListRules(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDParam(w, r)
	if !ok {
		return
	}
	activeOnly := r.URL.Query().Get("active") == "true"
	rules, err := d.schedule.ListRules(r.Context(), userID, activeOnly)
	if err != nil {
		respondDomainError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, rules)
}

func (d *Dispatcher) handleDeactivateRule(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDParam(w, r)
	if !ok {
		return
	}
	ruleID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid rule id")
		return
	}
	if err := d.schedule.DeactivateRule(r.Context(), userID, ruleID); err != nil {
		respondDomainError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "deactivated"})
}

func (d *Dispatcher) handleListPendingOccurrences(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDParam(w, r)
	if !ok {
		return
	}
	occs, err := d.schedule.PendingOccurrences(r.Context(), userID)
	if err != nil {
		respondDomainError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, occs)
}

// MarkPaidRequest pays one scheduled occurrence.
type MarkPaidRequest struct {
	UserID       int64 `json:"user_id"`
	GenerateNext bool  `json:"generate_next"`
}

func (d *Dispatcher) handleMarkPaid(w http.ResponseWriter, r *http.Request) {
	occID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid occurrence id")
		return
	}
	var req MarkPaidRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	d.dispatchAndRespond(w, r, commands.MarkOccurrencePaid{
		UserID:       req.UserID,
		OccurrenceID: occID,
		GenerateNext: req.GenerateNext,
	})
}

func (d *Dispatcher) handleUndoPaid(w http.ResponseWriter, r *http.Request) {
	occID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid occurrence id")
		return
	}
	var req MarkPaidRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	d.dispatchAndRespond(w, r, commands.UndoOccurrencePaid{
		UserID:       req.UserID,
		OccurrenceID: occID,
	})
}

func (d *Dispatcher) handleDashboard(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDParam(w, r)
	if !ok {
		return
	}
	summary, err := d.dashboard.Summary(r.Context(), userID, time.Now())
	if err != nil {
		respondDomainError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, summary)
}

func (d *Dispatcher) dispatchAndRespond(w http.ResponseWriter, r *http.Request, cmd commands.Command) {
	result, err := d.commands.Dispatch(r.Context(), cmd)
	if err != nil {
		slog.ErrorContext(r.Context(), "Command dispatch failed",
			"command", cmd.Kind(), "error", err)
		respondError(w, http.StatusInternalServerError, "command failed")
		return
	}
	status := http.StatusOK
	if !result.Ok {
		status = http.StatusUnprocessableEntity
	}
	respondJSON(w, status, result)
}

func userIDParam(w http.ResponseWriter, r *http.Request) (int64, bool) {
	userID, err := strconv.ParseInt(r.URL.Query().Get("user_id"), 10, 64)
	if err != nil || userID <= 0 {
		respondError(w, http.StatusBadRequest, "user_id query parameter is required")
		return 0, false
	}
	return userID, true
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

func respondDomainError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, core.ErrCounterpartyNotFound), errors.Is(err, core.ErrNotFound):
		respondError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, core.ErrNothingOwed),
		errors.Is(err, core.ErrNoPendingDues),
		errors.Is(err, core.ErrNotPaid),
		errors.Is(err, core.ErrNotPending),
		errors.Is(err, core.ErrInvalidRecurrence),
		errors.Is(err, core.ErrInvalidAmount),
		errors.Is(err, core.ErrEmptyName):
		respondError(w, http.StatusUnprocessableEntity, err.Error())
	default:
		slog.ErrorContext(r.Context(), "Request failed", "error", err)
		respondError(w, http.StatusInternalServerError, "internal error")
	}
}
