package chatsync

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/chatsync/internal/api"
)

func TestClassify(t *testing.T) {
	cases := []struct {
		name string
		err  error
		code int
		msg  string
	}{
		{"nil", nil, http.StatusOK, ""},
		{"empty", ErrEmptyMessage, http.StatusBadRequest, ErrEmptyMessage.Error()},
		{"wrapped partner", fmt.Errorf("op: %w", ErrInvalidPartner), http.StatusBadRequest, ErrInvalidPartner.Error()},
		{"no room", ErrNoOpenRoom, http.StatusConflict, ErrNoOpenRoom.Error()},
		{"backend 403", &api.StatusError{Op: "x", Code: http.StatusForbidden, Message: "not partners"}, http.StatusForbidden, "not partners"},
		{"backend 500", fmt.Errorf("op: %w", &api.StatusError{Op: "x", Code: 500}), http.StatusBadGateway, "Internal Server Error"},
		{"timeout", fmt.Errorf("op: %w", context.DeadlineExceeded), http.StatusGatewayTimeout, "backend timeout"},
		{"other", errors.New("dial tcp: refused"), http.StatusBadGateway, "backend unavailable"},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			code, msg := Classify(c.err)
			assert.Equal(t, c.code, code)
			assert.Equal(t, c.msg, msg)
		})
	}
}
