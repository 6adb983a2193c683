package serviceutil

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRequireAccessToken(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	testCases := []struct {
		name   string
		token  string
		header string
		status int
	}{
		{name: "disabled", token: "", header: "", status: http.StatusNoContent},
		{name: "missing", token: "secret", header: "", status: http.StatusUnauthorized},
		{name: "wrong", token: "secret", header: "Bearer nope", status: http.StatusUnauthorized},
		{name: "correct", token: "secret", header: "Bearer secret", status: http.StatusNoContent},
	}

	for _, test := range testCases {
		t.Run(test.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/", nil)
			if test.header != "" {
				req.Header.Set("Authorization", test.header)
			}
			rec := httptest.NewRecorder()
			RequireAccessToken(test.token, ok).ServeHTTP(rec, req)
			require.Equal(t, test.status, rec.Code)
		})
	}
}
