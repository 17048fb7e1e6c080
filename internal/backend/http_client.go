package backend

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/disintegration/imaging"

	"story-video-pipeline/internal/config"
)

const thumbnailWidth = 300

type artifactUploader interface {
	Upload(ctx context.Context, key string, body []byte, contentType string) (string, error)
}

// HTTPGenerator calls a remote generation service over JSON. Generated images
// are decoded, re-encoded as PNG, and written next to a thumbnail; videos are
// written as received. When an S3 bucket is configured, artifacts are
// mirrored there under their artifact key.
type HTTPGenerator struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	s3         artifactUploader
}

// NewHTTPGenerator builds a client from config.
func NewHTTPGenerator(ctx context.Context, cfg config.Config) (*HTTPGenerator, error) {
	timeout := cfg.BackendTimeout
	if timeout == 0 {
		timeout = 5 * time.Minute
	}

	var s3Upload artifactUploader
	if cfg.ArtifactS3Bucket != "" {
		client, err := newS3Client(ctx, cfg)
		if err != nil {
			return nil, err
		}
		s3Upload = &s3Uploader{client: client, bucket: cfg.ArtifactS3Bucket}
	}

	return &HTTPGenerator{
		baseURL:    cfg.BackendBaseURL,
		apiKey:     cfg.BackendAPIKey,
		httpClient: &http.Client{Timeout: timeout},
		s3:         s3Upload,
	}, nil
}

func newS3Client(ctx context.Context, cfg config.Config) (*s3.Client, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.ArtifactS3Region),
	}
	if cfg.ArtifactS3Endpoint != "" {
		resolver := aws.EndpointResolverWithOptionsFunc(func(service, region string, _ ...interface{}) (aws.Endpoint, error) {
			if service == s3.ServiceID {
				return aws.Endpoint{
					URL:               cfg.ArtifactS3Endpoint,
					HostnameImmutable: cfg.ArtifactS3PathStyle,
					SigningRegion:     cfg.ArtifactS3Region,
					Source:            aws.EndpointSourceCustom,
				}, nil
			}
			return aws.Endpoint{}, &aws.EndpointNotFoundError{}
		})
		opts = append(opts, awsconfig.WithEndpointResolverWithOptions(resolver))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load aws config: %w", err)
	}
	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.ArtifactS3PathStyle
	}), nil
}

type s3Uploader struct {
	client *s3.Client
	bucket string
}

func (s *s3Uploader) Upload(ctx context.Context, key string, body []byte, contentType string) (string, error) {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return "", fmt.Errorf("failed to put object: %w", err)
	}
	return fmt.Sprintf("s3://%s/%s", s.bucket, key), nil
}

type generateRequest struct {
	Prompt          string   `json:"prompt"`
	AspectRatio     string   `json:"aspect_ratio,omitempty"`
	ImageSize       string   `json:"image_size,omitempty"`
	DurationSeconds int      `json:"duration_seconds,omitempty"`
	ReferenceImages []string `json:"reference_images,omitempty"`
	StartImage      string   `json:"start_image,omitempty"`
}

type generateResponse struct {
	Image    string `json:"image,omitempty"`
	Video    string `json:"video,omitempty"`
	VideoURI string `json:"video_uri,omitempty"`
	Error    string `json:"error,omitempty"`
}

func (g *HTTPGenerator) Generate(ctx context.Context, req Request) (Result, error) {
	switch req.MediaType {
	case "image":
		return g.generateImage(ctx, req)
	case "video":
		return g.generateVideo(ctx, req)
	default:
		return Result{}, Invalid(fmt.Sprintf("unsupported media type %q", req.MediaType))
	}
}

func (g *HTTPGenerator) generateImage(ctx context.Context, req Request) (Result, error) {
	body := generateRequest{
		Prompt:      req.Prompt,
		AspectRatio: req.AspectRatio,
		ImageSize:   req.ImageSize,
	}
	for _, path := range req.ReferenceImages {
		encoded, err := encodeFile(path)
		if err != nil {
			return Result{}, Invalid(fmt.Sprintf("reference image %s: %v", path, err))
		}
		body.ReferenceImages = append(body.ReferenceImages, encoded)
	}

	resp, err := g.call(ctx, "/v1/generate/image", body)
	if err != nil {
		return Result{}, err
	}
	if resp.Image == "" {
		return Result{}, Unavailable("provider returned no image", nil)
	}
	raw, err := base64.StdEncoding.DecodeString(resp.Image)
	if err != nil {
		return Result{}, Unavailable("provider returned undecodable image", err)
	}

	img, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return Result{}, Unavailable("provider returned a broken image", err)
	}

	buf := &bytes.Buffer{}
	if err := imaging.Encode(buf, img, imaging.PNG); err != nil {
		return Result{}, fmt.Errorf("failed to encode png: %w", err)
	}
	if err := writeArtifact(req.OutputPath, buf.Bytes()); err != nil {
		return Result{}, err
	}
	if err := writeThumbnail(req.OutputPath, img); err != nil {
		return Result{}, err
	}

	if g.s3 != nil && req.ArtifactKey != "" {
		if _, err := g.s3.Upload(ctx, req.ArtifactKey, buf.Bytes(), "image/png"); err != nil {
			return Result{}, fmt.Errorf("failed to upload artifact: %w", err)
		}
	}
	return Result{OutputPath: req.OutputPath}, nil
}

func (g *HTTPGenerator) generateVideo(ctx context.Context, req Request) (Result, error) {
	body := generateRequest{
		Prompt:          req.Prompt,
		AspectRatio:     req.AspectRatio,
		DurationSeconds: req.DurationSeconds,
	}
	if req.StartImage != "" {
		encoded, err := encodeFile(req.StartImage)
		if err != nil {
			return Result{}, Invalid(fmt.Sprintf("start image %s: %v", req.StartImage, err))
		}
		body.StartImage = encoded
	}

	resp, err := g.call(ctx, "/v1/generate/video", body)
	if err != nil {
		return Result{}, err
	}
	if resp.Video == "" {
		return Result{}, Unavailable("provider returned no video", nil)
	}
	raw, err := base64.StdEncoding.DecodeString(resp.Video)
	if err != nil {
		return Result{}, Unavailable("provider returned undecodable video", err)
	}
	if err := writeArtifact(req.OutputPath, raw); err != nil {
		return Result{}, err
	}

	if g.s3 != nil && req.ArtifactKey != "" {
		if _, err := g.s3.Upload(ctx, req.ArtifactKey, raw, "video/mp4"); err != nil {
			return Result{}, fmt.Errorf("failed to upload artifact: %w", err)
		}
	}
	return Result{OutputPath: req.OutputPath, VideoURI: resp.VideoURI}, nil
}

func (g *HTTPGenerator) call(ctx context.Context, path string, body generateRequest) (*generateResponse, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if g.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+g.apiKey)
	}

	resp, err := g.httpClient.Do(req)
	if err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return nil, Timeout("provider call timed out", err)
		}
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, Timeout("provider call timed out", err)
		}
		return nil, Unavailable("provider unreachable", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 256<<20))
	if err != nil {
		return nil, Unavailable("failed to read provider response", err)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, RateLimited("provider quota exhausted")
	case resp.StatusCode == http.StatusBadRequest:
		return nil, Invalid(fmt.Sprintf("provider rejected request: %s", truncate(data, 200)))
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusRequestTimeout:
		return nil, Unavailable(fmt.Sprintf("provider status %d", resp.StatusCode), nil)
	case resp.StatusCode != http.StatusOK:
		return nil, &Error{
			Kind:      KindBackend,
			Retryable: false,
			Message:   fmt.Sprintf("provider status %d: %s", resp.StatusCode, truncate(data, 200)),
		}
	}

	var out generateResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, Unavailable("provider returned invalid JSON", err)
	}
	if out.Error != "" {
		return nil, Unavailable("provider error: "+out.Error, nil)
	}
	return &out, nil
}

func encodeFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(data), nil
}

func writeArtifact(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create artifact directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write artifact: %w", err)
	}
	return nil
}

// writeThumbnail saves a small preview next to the artifact for the task
// list UI.
func writeThumbnail(artifactPath string, img image.Image) error {
	thumb := imaging.Resize(img, thumbnailWidth, 0, imaging.Lanczos)
	dir := filepath.Join(filepath.Dir(artifactPath), ".thumbnails")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create thumbnail directory: %w", err)
	}
	path := filepath.Join(dir, filepath.Base(artifactPath))
	if err := imaging.Save(thumb, path); err != nil {
		return fmt.Errorf("failed to write thumbnail: %w", err)
	}
	return nil
}

func truncate(data []byte, n int) string {
	if len(data) > n {
		return string(data[:n]) + "..."
	}
	return string(data)
}
