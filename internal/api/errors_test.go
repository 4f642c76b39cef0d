package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandleError(t *testing.T) {
	cases := []struct {
		name    string
		err     error
		code    int
		message string
	}{
		{"app error", ErrTooManyRequests, http.StatusTooManyRequests, "rate limit exceeded"},
		{"wrapped app error", fmt.Errorf("pricing: %w", NewBadRequestError("messageCount must be positive")), http.StatusBadRequest, "messageCount must be positive"},
		{"plain error", errors.New("boom"), http.StatusInternalServerError, "internal server error"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			HandleError(rec, tc.err)

			assert.Equal(t, tc.code, rec.Code)
			assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

			var body Response
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, tc.message, body.Error)
			assert.Nil(t, body.Data)
		})
	}
}

func TestJSONPaginated(t *testing.T) {
	rec := httptest.NewRecorder()
	JSONPaginated(rec, http.StatusOK, []string{"a"}, 41, 3, 20)

	assert.JSONEq(t, `{"data":["a"],"total_count":41,"page":3,"page_size":20}`, rec.Body.String())
}
