package provider

import (
	"context"
	"errors"
	"net"
	"net/http"

	"github.com/cohere-ai/cohere-go/v2/core"
	anthropic "github.com/liushuangls/go-anthropic/v2"
	openai "github.com/sashabaranov/go-openai"
	"google.golang.org/api/googleapi"
)

// StatusCode extracts the HTTP status carried by a provider SDK error
func StatusCode(err error) (int, bool) {
	var (
		oaiAPI    *openai.APIError
		oaiReq    *openai.RequestError
		antReq    *anthropic.RequestError
		antAPI    *anthropic.APIError
		cohereAPI *core.APIError
		googleAPI *googleapi.Error
	)
	switch {
	case errors.As(err, &oaiAPI):
		return oaiAPI.HTTPStatusCode, oaiAPI.HTTPStatusCode > 0
	case errors.As(err, &oaiReq):
		return oaiReq.HTTPStatusCode, oaiReq.HTTPStatusCode > 0
	case errors.As(err, &antReq):
		return antReq.StatusCode, antReq.StatusCode > 0
	case errors.As(err, &antAPI):
		switch {
		case antAPI.IsRateLimitErr():
			return http.StatusTooManyRequests, true
		case antAPI.IsOverloadedErr(), antAPI.IsApiErr():
			return http.StatusServiceUnavailable, true
		default:
			return http.StatusBadRequest, true
		}
	case errors.As(err, &cohereAPI):
		return cohereAPI.StatusCode, cohereAPI.StatusCode > 0
	case errors.As(err, &googleAPI):
		return googleAPI.Code, googleAPI.Code > 0
	}
	return 0, false
}

// isTransportFailure reports whether err happened below the provider API: network, timeout or status
func isTransportFailure(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return true
	}
	var nerr net.Error
	if errors.As(err, &nerr) {
		return true
	}
	_, ok := StatusCode(err)
	return ok
}
