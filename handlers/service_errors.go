package handlers

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/normalman743/apiforward/services"
	"github.com/normalman743/apiforward/utils"
)

// HandleServiceError maps domain errors to HTTP responses.
func HandleServiceError(w http.ResponseWriter, err error, logger *zap.Logger) {
	if err == nil {
		return
	}

	details := services.GetErrorDetails(err)

	switch services.GetErrorType(err) {
	case services.ErrorTypeInvalidRequest:
		writeOrLog(logger, utils.WriteBadRequest(w, err.Error(), details))

	case services.ErrorTypeModelNotFound:
		writeOrLog(logger, utils.WriteNotFound(w, err.Error()))

	case services.ErrorTypeRateLimited:
		retryAfter, _ := details["retry_after"].(string)
		writeOrLog(logger, utils.WriteTooManyRequests(w, err.Error(), retryAfter))

	case services.ErrorTypeTimeout:
		writeOrLog(logger, utils.WriteGatewayTimeout(w, err.Error()))

	case services.ErrorTypeServerError, services.ErrorTypeNetworkError:
		writeOrLog(logger, utils.WriteBadGateway(w, err.Error()))

	case services.ErrorTypeAuthFailed:
		// The gateway's credential for the upstream is broken; from the
		// caller's perspective the upstream is unusable.
		logger.Error("provider authentication failed", zap.Error(err))
		writeOrLog(logger, utils.WriteBadGateway(w, "upstream provider rejected the gateway credentials"))

	case services.ErrorTypeCanceled:
		// The client disconnected; there is no one left to answer.
		logger.Debug("request canceled by client", zap.Error(err))

	case services.ErrorTypeCircuitOpen, services.ErrorTypeExhausted:
		writeOrLog(logger, utils.WriteServiceUnavailable(w, err.Error()))

	default:
		logger.Error("internal server error", zap.Error(err))
		writeOrLog(logger, utils.WriteInternalError(w, "An internal error occurred"))
	}
}

func writeOrLog(logger *zap.Logger, err error) {
	if err != nil {
		logger.Error("failed to write error response", zap.Error(err))
	}
}
