package server

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"unicode"
	"unicode/utf8"

	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
)

const (
	maxNicknameLength = 20
	maxTopicLength    = 280
)

var validatorOnce sync.Once

func registerValidators() {
	validatorOnce.Do(func() {
		engine, ok := binding.Validator.Engine().(*validator.Validate)
		if !ok {
			return
		}
		_ = engine.RegisterValidation("nickname", func(fl validator.FieldLevel) bool {
			_, err := validateNickname(fl.Field().String())
			return err == nil
		})
		_ = engine.RegisterValidation("topic", func(fl validator.FieldLevel) bool {
			_, err := validateTopic(fl.Field().String())
			return err == nil
		})
	})
}

func validateNickname(name string) (string, error) {
	trimmed := normalizeText(name)
	if trimmed == "" {
		return "", errors.New("nickname is required")
	}
	if utf8.RuneCountInString(trimmed) > maxNicknameLength {
		return "", fmt.Errorf("nickname must be %d characters or fewer", maxNicknameLength)
	}
	if !isSafeText(trimmed) {
		return "", errors.New("nickname contains unsupported characters")
	}
	return trimmed, nil
}

func validateTopic(text string) (string, error) {
	trimmed := normalizeText(text)
	if trimmed == "" {
		return "", errors.New("topic is required")
	}
	if utf8.RuneCountInString(trimmed) > maxTopicLength {
		return "", fmt.Errorf("topic must be %d characters or fewer", maxTopicLength)
	}
	for _, r := range trimmed {
		if unicode.IsControl(r) {
			return "", errors.New("topic contains control characters")
		}
	}
	return trimmed, nil
}

func normalizeText(text string) string {
	return strings.Join(strings.Fields(text), " ")
}

// isSafeText allows letters and digits of any script plus a little punctuation.
func isSafeText(text string) bool {
	for _, r := range text {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			continue
		}
		switch r {
		case ' ', '-', '_', '\'', '.', '!', '?', '&', '(', ')':
			continue
		default:
			return false
		}
	}
	return true
}
