// Package llm contains the provider adapters translating the neutral
// completion contract into the upstream wire protocols.
package llm

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-resty/resty/v2"

	apperrors "github.com/kirbydesk/simplify-engine/internal/errors"
)

// apiErrorBody is the error envelope shared (loosely) by all upstream APIs.
type apiErrorBody struct {
	Error struct {
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error"`
}

// postJSON sends one JSON request with adapter-level retry: network failure
// and HTTP 429/5xx back off exponentially (2^attempt seconds) up to
// maxRetries attempts; any other non-2xx status raises immediately with the
// upstream error message surfaced.
func postJSON(ctx context.Context, client *resty.Client, url string, headers map[string]string, payload, result any, maxRetries int) error {
	for attempt := 1; ; attempt++ {
		resp, err := client.R().
			SetContext(ctx).
			SetHeader("Content-Type", "application/json").
			SetHeaders(headers).
			SetBody(payload).
			SetResult(result).
			Post(url)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if attempt < maxRetries {
				if berr := backoff(ctx, attempt); berr != nil {
					return berr
				}
				continue
			}
			return apperrors.Wrapf(err, apperrors.ErrCodeTransient, "api request failed")
		}
		if resp.IsSuccess() {
			return nil
		}

		code := resp.StatusCode()
		msg := upstreamMessage(resp.Body())
		if code == 429 || code >= 500 {
			if attempt < maxRetries {
				if berr := backoff(ctx, attempt); berr != nil {
					return berr
				}
				continue
			}
			return apperrors.Transientf("API error (HTTP %d): %s", code, msg)
		}
		return apperrors.Providerf("API error (HTTP %d): %s", code, msg)
	}
}

func upstreamMessage(body []byte) string {
	var envelope apiErrorBody
	if err := json.Unmarshal(body, &envelope); err == nil {
		if envelope.Error.Message != "" {
			return envelope.Error.Message
		}
		if envelope.Error.Status != "" {
			return envelope.Error.Status
		}
	}
	return "Unknown error"
}

func backoff(ctx context.Context, attempt int) error {
	timer := time.NewTimer(time.Duration(1<<attempt) * time.Second)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
