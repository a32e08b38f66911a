package api

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// APIResponse is the envelope of every API reply.
type APIResponse struct {
	Status bool        `json:"status"`
	Msg    string      `json:"msg"`
	Obj    interface{} `json:"obj"`
}

func successResponse(c echo.Context, msg string, obj interface{}) error {
	return c.JSON(http.StatusOK, APIResponse{
		Status: true,
		Msg:    msg,
		Obj:    obj,
	})
}

// resultResponse answers 200 for every gateway outcome; the envelope status
// mirrors the result's success flag.
func resultResponse(c echo.Context, msg string, success bool, obj interface{}) error {
	return c.JSON(http.StatusOK, APIResponse{
		Status: success,
		Msg:    msg,
		Obj:    obj,
	})
}

func errorResponse(c echo.Context, status int, msg string) error {
	return c.JSON(status, APIResponse{
		Status: false,
		Msg:    msg,
		Obj:    nil,
	})
}
