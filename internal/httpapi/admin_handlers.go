package httpapi

import (
	"net/http"

	"hwid-license-server/internal/lifecycle"
)

func (a *API) handleList(w http.ResponseWriter, r *http.Request) {
	list, err := a.eng.List(r.Context())
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, list)
}

func (a *API) handleActivate(w http.ResponseWriter, r *http.Request) {
	var req daysReq
	if !a.decode(w, r, &req, "missing key or days") {
		return
	}
	res, err := a.eng.Activate(r.Context(), req.Key, *req.Days)
	a.adminResult(w, r, "activate", res, err)
}

func (a *API) handleAddDays(w http.ResponseWriter, r *http.Request) {
	var req daysReq
	if !a.decode(w, r, &req, "missing key or days") {
		return
	}
	res, err := a.eng.AddDays(r.Context(), req.Key, *req.Days)
	a.adminResult(w, r, "add_days", res, err)
}

func (a *API) handleBan(w http.ResponseWriter, r *http.Request) {
	var req keyReq
	if !a.decode(w, r, &req, "missing key") {
		return
	}
	res, err := a.eng.Ban(r.Context(), req.Key)
	a.adminResult(w, r, "ban", res, err)
}

func (a *API) handleUnban(w http.ResponseWriter, r *http.Request) {
	var req keyReq
	if !a.decode(w, r, &req, "missing key") {
		return
	}
	res, err := a.eng.Unban(r.Context(), req.Key)
	a.adminResult(w, r, "unban", res, err)
}

func (a *API) adminResult(w http.ResponseWriter, r *http.Request, action string, res lifecycle.Result, err error) {
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.metrics.ObserveAdmin(action, string(res.Status))
	writeJSON(w, r, http.StatusOK, res)
}
