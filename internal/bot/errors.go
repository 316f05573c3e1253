package bot

import (
	"errors"
	"fmt"

	"github.com/whoson/whosonbot/internal/engine"
	"github.com/whoson/whosonbot/internal/store"
)

// ErrorToUserMessage converts technical errors to user-friendly messages
// suitable for an interaction reply.
func ErrorToUserMessage(err error) string {
	switch {
	case errors.Is(err, store.ErrServerExists):
		return "That server is already being tracked in this guild."
	case errors.Is(err, store.ErrServerNotFound), errors.Is(err, store.ErrGuildNotFound):
		return "No tracked server matches that name or address. Use `/list` to see what is tracked."
	case errors.Is(err, engine.ErrSweepInProgress):
		return "An update for this guild is already running. Try again in a moment."
	case errors.Is(err, ErrInvalidAddress):
		return "That does not look like a valid server address. Use `host` or `host:port`."
	case errors.Is(err, ErrNicknameTooLong):
		return fmt.Sprintf("Server nickname too long (max %d characters).", maxNicknameLength)
	case errors.Is(err, ErrInvalidNickname):
		return "That nickname contains characters that cannot be used."
	case errors.Is(err, ErrInvalidServerType):
		return "Server type must be `auto`, `java`, or `bedrock`."
	default:
		return "An unexpected error occurred. Please try again later."
	}
}
