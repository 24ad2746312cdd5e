package main

import (
	"encoding/json"
	"errors"

	"github.com/dyike/CortexAdvisor/internal/service"
)

type Response struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
	Data any    `json:"data,omitempty"`
}

func Dispatch(svc *service.Service, method string, paramsJson string) string {
	if svc == nil {
		return jsonResp(503, "SDK not initialized", nil)
	}
	result, err := svc.Call(method, paramsJson)
	if errors.Is(err, service.ErrMethodNotFound) {
		return jsonResp(404, "Method not found", nil)
	}
	if err != nil {
		return jsonResp(500, err.Error(), nil)
	}
	return jsonResp(200, "Ok", result)
}

func jsonResp(code int, msg string, data any) string {
	resp := Response{Code: code, Msg: msg, Data: data}
	b, _ := json.Marshal(resp)
	return string(b)
}
