package handlers

import "github.com/gin-gonic/gin"

const (
	CodeOk       string = "OK"
	CodeAccepted string = "ACCEPTED"

	ErrCodeBadRequest      string = "ERR_BAD_REQUEST"
	ErrCodeUnknownError    string = "ERR_UNKNOWN_ERROR"
	ErrCodeNotReady        string = "ERR_DAEMON_NOT_READY"
	ErrCodePassInProgress  string = "ERR_PASS_IN_PROGRESS"
	ErrCodeLogsRetrieval   string = "ERR_LOGS_RETRIEVAL_FAILED"
	ErrCodeHistoryRetrieve string = "ERR_HISTORY_RETRIEVAL_FAILED"
)

type ControlPlaneResponse struct {
	Code string `json:"code"`
}

type ControlPlaneError struct {
	ErrorCode string `json:"code"`
	Error     string `json:"error"`
}

func AbortWithError(c *gin.Context, status int, code string, err error) {
	c.Abort()
	c.Error(err)
	c.PureJSON(status, ControlPlaneError{
		ErrorCode: code,
		Error:     err.Error(),
	})
}
