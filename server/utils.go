package server

import (
	"net/http"
	"net/url"

	"chainfeed/utils"

	log "github.com/sirupsen/logrus"
)

func sendError(w http.ResponseWriter, errorCode int, message string) {
	log.Info(message)
	w.WriteHeader(errorCode)
	resp := map[string]string{
		"error": message,
	}
	jsonResp := utils.ToJson(resp)
	w.Write(jsonResp)
}

func getQueryItem(values url.Values, key string) *string {
	value := values[key]
	result := ""
	if len(value) == 1 {
		result = value[0]
	}
	return &result
}
