package httpapi

import (
	"net/http"
)

type hwidReq struct {
	HWID string `json:"hwid" validate:"required"`
}

type keyReq struct {
	Key string `json:"key" validate:"required"`
}

type daysReq struct {
	Key  string `json:"key" validate:"required"`
	Days *int   `json:"days" validate:"required"`
}

func (a *API) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req hwidReq
	if !a.decode(w, r, &req, "missing hwid") {
		return
	}
	res, err := a.eng.Register(r.Context(), req.HWID)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.metrics.ObserveRegister(string(res.Status))
	writeJSON(w, r, http.StatusOK, res)
}

func (a *API) handleCheck(w http.ResponseWriter, r *http.Request) {
	var req hwidReq
	if !a.decode(w, r, &req, "missing hwid") {
		return
	}
	res, err := a.eng.Check(r.Context(), req.HWID)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.metrics.ObserveCheck(string(res.Status))
	writeJSON(w, r, http.StatusOK, res)
}
