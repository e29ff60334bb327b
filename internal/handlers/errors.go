package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/huangang/kickoff/backend/internal/services"
	"github.com/huangang/kickoff/backend/pkg/logger"
	"github.com/huangang/kickoff/backend/pkg/response"
)

// appError maps a service error onto the API error taxonomy.
func appError(err error) *response.AppError {
	msg := err.Error()
	switch services.KindOf(err) {
	case services.KindValidation:
		return response.NewBadRequest(msg)
	case services.KindForbidden:
		return response.NewForbidden(msg)
	case services.KindNotFound:
		return response.NewNotFound(msg)
	case services.KindNotConnected, services.KindPreconditionUnmet, services.KindInvalidTransition:
		return response.NewConflict(msg)
	case services.KindRemoteRejected:
		return response.NewBadGateway(msg)
	}
	return response.NewServerError(msg)
}

func respondError(c *gin.Context, err error) {
	appErr := appError(err)
	if appErr.HTTPStatus >= 500 {
		logger.Error().Err(err).Str("path", c.Request.URL.Path).Msg("[API] Request failed")
	}
	response.Error(c, appErr)
}
