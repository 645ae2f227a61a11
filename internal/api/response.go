package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
)

// API ids reported in every envelope.
const (
	apiUpload = "api.survey.file.upload"
	apiRead   = "api.survey.file.read"
	apiURL    = "api.survey.file.url"
	apiDelete = "api.survey.file.delete"
	apiList   = "api.survey.file.list"
)

type envelope struct {
	ID           string `json:"id"`
	Ver          string `json:"ver"`
	Ts           string `json:"ts"`
	Params       params `json:"params"`
	ResponseCode int    `json:"responseCode"`
	Result       any    `json:"result"`
}

type params struct {
	ResMsgID       string  `json:"resmsgid"`
	Status         string  `json:"status"`
	Err            *string `json:"err"`
	ErrMsg         *string `json:"errmsg"`
	SuccessMessage *string `json:"successmessage"`
}

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func success(w http.ResponseWriter, apiID string, status int, message string, result any) {
	respondJSON(w, status, envelope{
		ID:  apiID,
		Ver: "1.0",
		Ts:  time.Now().UTC().Format(time.RFC3339Nano),
		Params: params{
			ResMsgID:       uuid.NewString(),
			Status:         "successful",
			SuccessMessage: &message,
		},
		ResponseCode: status,
		Result:       result,
	})
}

func failure(w http.ResponseWriter, apiID string, status int, code, message string) {
	respondJSON(w, status, envelope{
		ID:  apiID,
		Ver: "1.0",
		Ts:  time.Now().UTC().Format(time.RFC3339Nano),
		Params: params{
			ResMsgID: uuid.NewString(),
			Status:   "failed",
			Err:      &code,
			ErrMsg:   &message,
		},
		ResponseCode: status,
		Result:       struct{}{},
	})
}
