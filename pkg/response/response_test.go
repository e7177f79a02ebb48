package response

import (
	"fmt"
	"net/http"
	"testing"

	appErr "woodland-client/pkg/errors"

	"github.com/stretchr/testify/assert"
)

func TestStatusOf(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{appErr.ErrGameNotOpen, http.StatusNotFound},
		{appErr.ErrMissingCredential, http.StatusUnauthorized},
		{fmt.Errorf("%w: status 401", appErr.ErrUnauthorized), http.StatusUnauthorized},
		{appErr.ErrSubmitInFlight, http.StatusConflict},
		{appErr.ErrNoStep, http.StatusConflict},
		{&appErr.RejectionError{Status: 400, Detail: "Not your turn"}, http.StatusUnprocessableEntity},
		{fmt.Errorf("%w: dial tcp", appErr.ErrNetwork), http.StatusBadGateway},
		{fmt.Errorf("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, StatusOf(tc.err), tc.err.Error())
	}
}
