// Package bedrock backs image generation and analysis with Amazon
// Bedrock: Nova Canvas for text-to-image, Claude for vision.
package bedrock

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"

	"github.com/pixelmint/pixelmint/internal/generation"
)

const (
	defaultDimension = 1024
	maxVisionTokens  = 2000
)

// InvokeAPI is the slice of the Bedrock runtime client we use.
type InvokeAPI interface {
	InvokeModel(ctx context.Context, params *bedrockruntime.InvokeModelInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelOutput, error)
}

// Client implements both generation backends over Bedrock InvokeModel.
type Client struct {
	api         InvokeAPI
	imageModel  string
	visionModel string
}

// New creates a Bedrock client using the default AWS credential chain.
func New(ctx context.Context, region, imageModel, visionModel string) (*Client, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return NewWithAPI(bedrockruntime.NewFromConfig(awsCfg), imageModel, visionModel), nil
}

// NewWithAPI creates a client over an existing runtime API, used in tests.
func NewWithAPI(api InvokeAPI, imageModel, visionModel string) *Client {
	return &Client{api: api, imageModel: imageModel, visionModel: visionModel}
}

type textToImageRequest struct {
	TaskType          string            `json:"taskType"`
	TextToImageParams textToImageParams `json:"textToImageParams"`
	ImageConfig       imageConfig       `json:"imageGenerationConfig"`
}

type textToImageParams struct {
	Text string `json:"text"`
}

type imageConfig struct {
	NumberOfImages int    `json:"numberOfImages"`
	Quality        string `json:"quality"`
	Height         int    `json:"height"`
	Width          int    `json:"width"`
}

type textToImageResponse struct {
	Images []string `json:"images"`
	Error  string   `json:"error,omitempty"`
}

// GenerateImage produces one PNG via Nova Canvas.
func (c *Client) GenerateImage(ctx context.Context, prompt, resolution string) (*generation.Image, error) {
	width, height := parseResolution(resolution)

	body, err := json.Marshal(textToImageRequest{
		TaskType:          "TEXT_IMAGE",
		TextToImageParams: textToImageParams{Text: prompt},
		ImageConfig: imageConfig{
			NumberOfImages: 1,
			Quality:        "standard",
			Height:         height,
			Width:          width,
		},
	})
	if err != nil {
		return nil, err
	}

	out, err := c.api.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(c.imageModel),
		ContentType: aws.String("application/json"),
		Body:        body,
	})
	if err != nil {
		return nil, fmt.Errorf("image model invocation failed: %w", err)
	}

	var resp textToImageResponse
	if err := json.Unmarshal(out.Body, &resp); err != nil {
		return nil, fmt.Errorf("failed to parse image model response: %w", err)
	}
	if resp.Error != "" {
		return nil, fmt.Errorf("image model error: %s", resp.Error)
	}
	if len(resp.Images) == 0 {
		return nil, fmt.Errorf("image model returned no images")
	}

	data, err := base64.StdEncoding.DecodeString(resp.Images[0])
	if err != nil {
		return nil, fmt.Errorf("failed to decode image payload: %w", err)
	}
	return &generation.Image{Data: data, MediaType: "image/png"}, nil
}

type visionRequest struct {
	AnthropicVersion string          `json:"anthropic_version"`
	MaxTokens        int             `json:"max_tokens"`
	Messages         []visionMessage `json:"messages"`
}

type visionMessage struct {
	Role    string         `json:"role"`
	Content []visionContent `json:"content"`
}

type visionContent struct {
	Type   string       `json:"type"`
	Source *visionImage `json:"source,omitempty"`
	Text   string       `json:"text,omitempty"`
}

type visionImage struct {
	Type      string `json:"type"`
	MediaType string `json:"media_type"`
	Data      string `json:"data"`
}

type visionResponse struct {
	Content []struct {
		Text string `json:"text"`
	} `json:"content"`
}

// AnalyzeImage sends the image and instruction to the vision model and
// returns its text answer.
func (c *Client) AnalyzeImage(ctx context.Context, data []byte, mediaType, instruction string) (string, error) {
	body, err := json.Marshal(visionRequest{
		AnthropicVersion: "bedrock-2023-05-31",
		MaxTokens:        maxVisionTokens,
		Messages: []visionMessage{{
			Role: "user",
			Content: []visionContent{
				{
					Type: "image",
					Source: &visionImage{
						Type:      "base64",
						MediaType: mediaType,
						Data:      base64.StdEncoding.EncodeToString(data),
					},
				},
				{Type: "text", Text: instruction},
			},
		}},
	})
	if err != nil {
		return "", err
	}

	out, err := c.api.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(c.visionModel),
		ContentType: aws.String("application/json"),
		Body:        body,
	})
	if err != nil {
		return "", fmt.Errorf("vision model invocation failed: %w", err)
	}

	var resp visionResponse
	if err := json.Unmarshal(out.Body, &resp); err != nil {
		return "", fmt.Errorf("failed to parse vision model response: %w", err)
	}
	if len(resp.Content) == 0 {
		return "", fmt.Errorf("vision model returned no content")
	}
	return resp.Content[0].Text, nil
}

func parseResolution(resolution string) (width, height int) {
	width, height = defaultDimension, defaultDimension
	parts := strings.SplitN(resolution, "x", 2)
	if len(parts) != 2 {
		return width, height
	}
	w, errW := strconv.Atoi(parts[0])
	h, errH := strconv.Atoi(parts[1])
	if errW != nil || errH != nil || w <= 0 || h <= 0 {
		return defaultDimension, defaultDimension
	}
	return w, h
}

var (
	_ generation.ImageBackend  = (*Client)(nil)
	_ generation.VisionBackend = (*Client)(nil)
)
