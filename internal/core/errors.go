package core

import (
	"errors"

	"gwi.com/pdf-assistant/internal/store"
)

var (
	ErrValidation      = store.ErrValidation
	ErrSessionNotFound = store.ErrSessionNotFound

	ErrModelCall          = errors.New("model call failed")
	ErrAnalysis           = errors.New("analysis failed")
	ErrMissingAPIKey      = errors.New("model API key is not configured")
	ErrAnnotationNotFound = errors.New("annotation not found")
	ErrQuotaExceeded      = errors.New("shared session chat quota exceeded")
	ErrShareNotFound      = errors.New("shared session not found or password mismatch")
)

// Fixed texts shown in place of a reply.
const (
	chatErrorText       = "죄송합니다. 응답을 생성하는 중 오류가 발생했습니다. 잠시 후 다시 시도해주세요."
	annotationErrorText = "응답 중 오류가 발생했습니다. 잠시 후 다시 시도해주세요."
	imageChatErrorText  = "요청 처리 중 오류가 발생했습니다. 잠시 후 다시 시도해주세요."
	sharedFallbackText  = "응답을 생성하지 못했습니다."

	annotationImageDone   = "요청과 참고 이미지를 반영해 이미지를 생성했습니다."
	annotationImageFailed = "이미지를 생성하지 못했습니다. 다시 시도해주세요."
	imageChatImageDone    = "요청에 맞는 이미지를 생성했습니다."
	imageChatImageFailed  = "이미지를 생성하지 못했습니다. 프롬프트를 조금 더 구체적으로 입력해 주세요."
)
