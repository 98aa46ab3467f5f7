package server

import (
	"insider/internal/coordinator"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
)

type bindMessages map[string]map[string]string

var requestMessages = bindMessages{
	"Nickname": {
		"required": "nickname is required",
		"nickname": "nickname must be 1-20 letters, digits or simple punctuation",
	},
	"PlayerID":   {"required": "player_id is required"},
	"AnswererID": {"required": "answerer_id is required"},
	"Difficulty": {"oneof": "difficulty must be easy, normal or hard"},
	"Text":       {"required": "text is required", "topic": "topic text is too long or contains control characters"},
	"VoteType":   {"required": "vote_type is required"},
	"Value":      {"required": "value is required"},
	"Round":      {"gte": "round must be positive", "lte": "round is out of range"},
	"ToPhase":    {"required": "to_phase is required"},
}

func bindJSON(c *gin.Context, req any) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		writeError(c, &coordinator.Error{
			Code:    coordinator.CodeValidation,
			Message: resolveBindError(err, requestMessages, "invalid request body"),
			Err:     err,
		})
		return false
	}
	return true
}

func bindQuery(c *gin.Context, req any) bool {
	if err := c.ShouldBindQuery(req); err != nil {
		writeError(c, &coordinator.Error{
			Code:    coordinator.CodeValidation,
			Message: resolveBindError(err, requestMessages, "invalid query"),
			Err:     err,
		})
		return false
	}
	return true
}

func resolveBindError(err error, messages bindMessages, fallback string) string {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		for _, verr := range verrs {
			if fieldMsgs, ok := messages[verr.Field()]; ok {
				if msg, ok := fieldMsgs[verr.Tag()]; ok {
					return msg
				}
			}
		}
	}
	if fallback != "" {
		return fallback
	}
	return "invalid request"
}
