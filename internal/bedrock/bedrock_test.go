package bedrock

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeInvoker struct {
	lastModel string
	lastBody  []byte
	respBody  []byte
	err       error
}

func (f *fakeInvoker) InvokeModel(ctx context.Context, params *bedrockruntime.InvokeModelInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelOutput, error) {
	f.lastModel = *params.ModelId
	f.lastBody = params.Body
	if f.err != nil {
		return nil, f.err
	}
	return &bedrockruntime.InvokeModelOutput{Body: f.respBody}, nil
}

func TestGenerateImage(t *testing.T) {
	png := []byte("fake-png-bytes")
	resp, _ := json.Marshal(map[string]any{
		"images": []string{base64.StdEncoding.EncodeToString(png)},
	})
	api := &fakeInvoker{respBody: resp}
	c := NewWithAPI(api, "amazon.nova-canvas-v1:0", "vision-model")

	img, err := c.GenerateImage(context.Background(), "a red fox", "2048x2048")
	require.NoError(t, err)
	assert.Equal(t, png, img.Data)
	assert.Equal(t, "image/png", img.MediaType)
	assert.Equal(t, "amazon.nova-canvas-v1:0", api.lastModel)

	var req textToImageRequest
	require.NoError(t, json.Unmarshal(api.lastBody, &req))
	assert.Equal(t, "TEXT_IMAGE", req.TaskType)
	assert.Equal(t, "a red fox", req.TextToImageParams.Text)
	assert.Equal(t, 1, req.ImageConfig.NumberOfImages)
	assert.Equal(t, 2048, req.ImageConfig.Width)
	assert.Equal(t, 2048, req.ImageConfig.Height)
}

func TestGenerateImage_NoImages(t *testing.T) {
	api := &fakeInvoker{respBody: []byte(`{"images":[]}`)}
	c := NewWithAPI(api, "img", "vis")

	_, err := c.GenerateImage(context.Background(), "prompt", "1024x1024")
	assert.ErrorContains(t, err, "no images")
}

func TestGenerateImage_ModelError(t *testing.T) {
	api := &fakeInvoker{err: errors.New("throttled")}
	c := NewWithAPI(api, "img", "vis")

	_, err := c.GenerateImage(context.Background(), "prompt", "1024x1024")
	assert.ErrorContains(t, err, "invocation failed")
}

func TestAnalyzeImage(t *testing.T) {
	api := &fakeInvoker{respBody: []byte(`{"content":[{"text":"a red fox on snow"}]}`)}
	c := NewWithAPI(api, "img", "us.anthropic.claude-sonnet-4-20250514-v1:0")

	out, err := c.AnalyzeImage(context.Background(), []byte("png-bytes"), "image/png", "describe this image")
	require.NoError(t, err)
	assert.Equal(t, "a red fox on snow", out)
	assert.Equal(t, "us.anthropic.claude-sonnet-4-20250514-v1:0", api.lastModel)

	var req visionRequest
	require.NoError(t, json.Unmarshal(api.lastBody, &req))
	assert.Equal(t, "bedrock-2023-05-31", req.AnthropicVersion)
	require.Len(t, req.Messages, 1)
	require.Len(t, req.Messages[0].Content, 2)
	assert.Equal(t, "image", req.Messages[0].Content[0].Type)
	assert.Equal(t, "image/png", req.Messages[0].Content[0].Source.MediaType)
	assert.Equal(t, base64.StdEncoding.EncodeToString([]byte("png-bytes")), req.Messages[0].Content[0].Source.Data)
	assert.Equal(t, "describe this image", req.Messages[0].Content[1].Text)
}

func TestAnalyzeImage_EmptyContent(t *testing.T) {
	api := &fakeInvoker{respBody: []byte(`{"content":[]}`)}
	c := NewWithAPI(api, "img", "vis")

	_, err := c.AnalyzeImage(context.Background(), []byte("x"), "image/png", "describe")
	assert.ErrorContains(t, err, "no content")
}

func TestParseResolution(t *testing.T) {
	tests := []struct {
		in   string
		w, h int
	}{
		{"1024x1024", 1024, 1024},
		{"2048x2048", 2048, 2048},
		{"512x768", 512, 768},
		{"", 1024, 1024},
		{"bogus", 1024, 1024},
		{"0x100", 1024, 1024},
		{"-1x512", 1024, 1024},
	}
	for _, tt := range tests {
		w, h := parseResolution(tt.in)
		assert.Equal(t, tt.w, w, tt.in)
		assert.Equal(t, tt.h, h, tt.in)
	}
}
