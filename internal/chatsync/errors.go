package chatsync

import (
	"context"
	"errors"
	"net/http"

	"github.com/chatsync/internal/api"
)

// Classify сопоставляет ошибку действия пользователя HTTP-статусу и тексту для UI.
func Classify(err error) (int, string) {
	if err == nil {
		return http.StatusOK, ""
	}
	for _, s := range []error{ErrEmptyMessage, ErrRoomRequired, ErrInvalidPartner} {
		if errors.Is(err, s) {
			return http.StatusBadRequest, s.Error()
		}
	}
	if errors.Is(err, ErrNoOpenRoom) {
		return http.StatusConflict, ErrNoOpenRoom.Error()
	}
	var se *api.StatusError
	if errors.As(err, &se) {
		msg := se.Message
		if msg == "" {
			msg = http.StatusText(se.Code)
		}
		if se.Code >= 400 && se.Code < 500 {
			return se.Code, msg
		}
		return http.StatusBadGateway, msg
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return http.StatusGatewayTimeout, "backend timeout"
	}
	return http.StatusBadGateway, "backend unavailable"
}
