package core

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gwi.com/pdf-assistant/internal/imaging"
	"gwi.com/pdf-assistant/internal/store"
)

func (f *fixture) imageChatService() *ImageChatService {
	return NewImageChatService(f.view, f.gen, f.rec, testImageModel, nil)
}

func TestImageChatTextReply(t *testing.T) {
	f := newFixture(t)
	f.gen.generate = func(Request) (*Reply, error) { return &Reply{Text: "TEXT"}, nil }
	f.gen.stream = func(Request) (TextStream, error) { return newStream("색감을 ", "밝게 하세요"), nil }
	svc := f.imageChatService()

	msgs, err := svc.Send(context.Background(), "s1", "포스터 구성 조언해줘", "", nil)

	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "색감을 밝게 하세요", msgs[1].Content)
	assert.Equal(t, msgs, svc.History("s1"))
	assert.Empty(t, svc.History("s2"), "histories are per session")

	req := f.gen.streamed[0]
	assert.Equal(t, imageChatSystemPrompt, req.System)
	assert.Equal(t, "이전 대화:\n[사용자] 포스터 구성 조언해줘\n\n사용자 최신 요청: 포스터 구성 조언해줘", req.Parts[0].Text)
	assert.Contains(t, f.gen.generated[0].Parts[0].Text, "이미지 첨부 여부: NO")
}

func TestImageChatAttachmentOnlyFallsBackToImage(t *testing.T) {
	f := newFixture(t)
	attachment := imaging.EncodeDataURL("image/jpeg", []byte{9, 9})
	result := imaging.DataURL{MIMEType: "image/png", Data: []byte{7}}
	f.gen.generate = func(req Request) (*Reply, error) {
		if req.Model == testImageModel {
			return &Reply{Images: []imaging.DataURL{result}}, nil
		}
		return nil, errBoom
	}
	svc := f.imageChatService()

	msgs, err := svc.Send(context.Background(), "", "", attachment, nil)

	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, store.Message{Role: store.RoleUser, Content: imageChatAttachmentOnly, ImageDataURL: attachment}, msgs[0])
	assert.Equal(t, imageChatImageDone, msgs[1].Content)
	assert.Equal(t, result.String(), msgs[1].ImageDataURL)
	assert.Equal(t, msgs, svc.History(""))
	assert.Contains(t, f.view.Snapshot().ImageChatBySession, defaultImageChatKey)

	imageReq := f.gen.generated[len(f.gen.generated)-1]
	assert.Equal(t, imageChatImagePrompt(imageChatAttachmentOnly, true), imageReq.Parts[0].Text)
	assert.Equal(t, []byte{9, 9}, blobOf(imageReq, "image/jpeg"))
}

func TestImageChatImageFailureTexts(t *testing.T) {
	f := newFixture(t)
	f.gen.generate = func(req Request) (*Reply, error) {
		if req.Model == testImageModel {
			return &Reply{}, nil
		}
		return &Reply{Text: "IMAGE"}, nil
	}
	svc := f.imageChatService()

	msgs, err := svc.Send(context.Background(), "s1", "인포그래픽 만들어줘", "", nil)
	require.NoError(t, err)
	assert.Equal(t, imageChatImageFailed, msgs[1].Content)

	f.gen.generate = func(req Request) (*Reply, error) {
		if req.Model == testImageModel {
			return nil, errBoom
		}
		return &Reply{Text: "IMAGE"}, nil
	}
	msgs, err = svc.Send(context.Background(), "s1", "다시", "", nil)
	require.NoError(t, err)
	require.Len(t, msgs, 4)
	assert.Equal(t, imageChatErrorText, msgs[3].Content)
}

func TestImageChatValidation(t *testing.T) {
	f := newFixture(t)
	svc := f.imageChatService()

	_, err := svc.Send(context.Background(), "s1", "  ", "", nil)
	assert.ErrorIs(t, err, ErrValidation)

	_, err = svc.Send(context.Background(), "s1", "hi", "data:image/png,notbase64", nil)
	assert.ErrorIs(t, err, ErrValidation)
	assert.Empty(t, svc.History("s1"))
}
