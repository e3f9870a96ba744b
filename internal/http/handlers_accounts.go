package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

func (s *Server) handleCreateAccount(w http.ResponseWriter, r *http.Request) {
	var req accountRequest
	if err := decodeJSON(w, r, &req); err != nil {
		BadRequestError(err.Error()).Write(w)
		return
	}
	account, err := req.toAccount()
	if err != nil {
		writeError(w, r, err)
		return
	}

	created, err := s.accounts.CreateAccount(r.Context(), OwnerFromContext(r.Context()), account)
	if err != nil {
		writeError(w, r, err)
		return
	}
	NewJSONResponse().
		Status(http.StatusCreated).
		Header("Location", "/api/accounts/"+created.ID).
		Body(toAccountResponse(created)).
		Write(w)
}

func (s *Server) handleListAccounts(w http.ResponseWriter, r *http.Request) {
	accounts, err := s.accounts.ListAccounts(r.Context(), OwnerFromContext(r.Context()))
	if err != nil {
		writeError(w, r, err)
		return
	}
	resp := make([]accountResponse, 0, len(accounts))
	for _, a := range accounts {
		resp = append(resp, toAccountResponse(a))
	}
	NewJSONResponse().Body(resp).Write(w)
}

func (s *Server) handleGetAccount(w http.ResponseWriter, r *http.Request) {
	account, err := s.accounts.GetAccount(r.Context(), OwnerFromContext(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	NewJSONResponse().Body(toAccountResponse(account)).Write(w)
}

func (s *Server) handleSetBudget(w http.ResponseWriter, r *http.Request) {
	var req budgetRequest
	if err := decodeJSON(w, r, &req); err != nil {
		BadRequestError(err.Error()).Write(w)
		return
	}
	limit, err := req.toLimit()
	if err != nil {
		writeError(w, r, err)
		return
	}

	budget, err := s.accounts.SetBudget(r.Context(), OwnerFromContext(r.Context()), limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	NewJSONResponse().Body(toBudgetResponse(budget)).Write(w)
}

func (s *Server) handleGetBudget(w http.ResponseWriter, r *http.Request) {
	summary, err := s.accounts.GetBudget(r.Context(), OwnerFromContext(r.Context()))
	if err != nil {
		writeError(w, r, err)
		return
	}
	NewJSONResponse().Body(toBudgetSummaryResponse(summary)).Write(w)
}
