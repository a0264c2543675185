package transport

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/karstnet/karst/pkg/record"
	"github.com/karstnet/karst/pkg/spend"
	"github.com/karstnet/karst/pkg/store"
)

// Routes registers the node protocol endpoints on mux.
func Routes(mux *http.ServeMux, api NodeAPI, logger *zap.Logger) {
	mux.HandleFunc("/karst/v1/record", putRecordHandler(api, logger))
	mux.HandleFunc("/karst/v1/record/get", getRecordHandler(api, logger))
	mux.HandleFunc("/karst/v1/replicate", replicateHandler(api, logger))
	mux.HandleFunc("/karst/v1/manifest", manifestHandler(api, logger))
	mux.HandleFunc("/karst/v1/spend", submitSpendHandler(api, logger))
	mux.HandleFunc("/karst/v1/spend/view", spendViewHandler(api, logger))
	mux.HandleFunc("/karst/v1/ping", pingHandler(api, logger))
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return false
	}
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return false
	}
	return true
}

func writeError(w http.ResponseWriter, code int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(errorResponse{Error: err.Error()})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

// statusFor maps the error taxonomy onto HTTP codes so clients can map
// them back to sentinels.
func statusFor(err error) int {
	switch {
	case errors.Is(err, record.ErrMalformed), errors.Is(err, record.ErrBadSignature):
		return http.StatusBadRequest
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, spend.ErrDoubleSpend):
		return http.StatusConflict
	case errors.Is(err, store.ErrCapacityExceeded):
		return http.StatusInsufficientStorage
	default:
		return http.StatusInternalServerError
	}
}

func putRecordHandler(api NodeAPI, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req putRecordRequest
		if !decode(w, r, &req) {
			return
		}
		if err := api.PutRecord(r.Context(), req.From, req.Record); err != nil {
			logger.Debug("put rejected",
				zap.String("addr", req.Record.Address.Short()), zap.Error(err))
			writeError(w, statusFor(err), err)
			return
		}
		w.WriteHeader(http.StatusOK)
	}
}

func getRecordHandler(api NodeAPI, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req addrRequest
		if !decode(w, r, &req) {
			return
		}
		rec, err := api.GetRecord(r.Context(), req.From, req.Address)
		if err != nil {
			writeError(w, statusFor(err), err)
			return
		}
		writeJSON(w, recordResponse{Record: rec})
	}
}

func replicateHandler(api NodeAPI, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req addrRequest
		if !decode(w, r, &req) {
			return
		}
		if err := api.ReplicateRequest(r.Context(), req.From, req.Address); err != nil {
			writeError(w, statusFor(err), err)
			return
		}
		w.WriteHeader(http.StatusOK)
	}
}

func manifestHandler(api NodeAPI, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req manifestRequest
		if !decode(w, r, &req) {
			return
		}
		entries, err := api.Manifest(r.Context(), req.From, req.Entries)
		if err != nil {
			writeError(w, statusFor(err), err)
			return
		}
		writeJSON(w, manifestResponse{Entries: entries})
	}
}

func submitSpendHandler(api NodeAPI, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req spendRequest
		if !decode(w, r, &req) {
			return
		}
		if err := api.SubmitSpend(r.Context(), req.From, req.Spend); err != nil {
			writeError(w, statusFor(err), err)
			return
		}
		w.WriteHeader(http.StatusOK)
	}
}

func spendViewHandler(api NodeAPI, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req addrRequest
		if !decode(w, r, &req) {
			return
		}
		view, err := api.SpendView(r.Context(), req.From, req.Address)
		if err != nil {
			writeError(w, statusFor(err), err)
			return
		}
		writeJSON(w, spendViewResponse{View: view})
	}
}

func pingHandler(api NodeAPI, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req pingRequest
		if !decode(w, r, &req) {
			return
		}
		if err := api.Ping(r.Context(), req.From); err != nil {
			writeError(w, statusFor(err), err)
			return
		}
		w.WriteHeader(http.StatusOK)
	}
}
