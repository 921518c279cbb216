package facestream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"facegate/internal/domain"
	"facegate/internal/ports"
)

const (
	defaultAPIBaseURL = "http://127.0.0.1:8765/v1"
	defaultTimeout    = 5 * time.Second
)

// Config controls the face inference websocket.
type Config struct {
	APIKey        string
	APIBaseURL    string
	MinConfidence float64
	MaxFaces      int
	Timeout       time.Duration
}

// Detector implements ports.FaceDetector against a remote inference service.
// One connection is shared by all calls and redialed after a transport failure.
type Detector struct {
	cfg    Config
	dialer *websocket.Dialer

	mu   sync.Mutex
	conn *websocket.Conn
}

func NewDetector(cfg Config) *Detector {
	if cfg.APIBaseURL == "" {
		cfg.APIBaseURL = defaultAPIBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	return &Detector{cfg: cfg, dialer: websocket.DefaultDialer}
}

func (d *Detector) Detect(ctx context.Context, frame domain.Frame) ([]domain.FaceRegion, error) {
	if strings.TrimSpace(d.cfg.APIKey) == "" {
		return nil, fmt.Errorf("%w: FACEGATE_FACESTREAM_API_KEY is not configured", ports.ErrDetectorRejected)
	}
	if len(frame.Data) == 0 {
		return nil, errors.New("frame has no image data")
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	conn, err := d.connLocked(ctx)
	if err != nil {
		return nil, err
	}

	deadline := time.Now().Add(d.cfg.Timeout)
	if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.Before(deadline) {
		deadline = ctxDeadline
	}
	_ = conn.SetWriteDeadline(deadline)
	_ = conn.SetReadDeadline(deadline)

	// Unblock the read as soon as the caller gives up.
	stop := context.AfterFunc(ctx, func() {
		_ = conn.SetReadDeadline(time.Unix(1, 0))
	})
	defer stop()

	if err := conn.WriteMessage(websocket.BinaryMessage, frame.Data); err != nil {
		d.dropLocked()
		return nil, fmt.Errorf("failed to send frame: %w", err)
	}

	_, payload, err := conn.ReadMessage()
	if err != nil {
		d.dropLocked()
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("failed to read detection reply: %w", err)
	}

	var response detectResponse
	if err := json.Unmarshal(payload, &response); err != nil {
		return nil, fmt.Errorf("invalid detection reply: %w", err)
	}

	switch {
	case strings.EqualFold(response.Type, "Error"):
		message := strings.TrimSpace(response.Message)
		if message == "" {
			message = "facestream returned an unknown error"
		}
		return nil, errors.New(message)
	case strings.EqualFold(response.Type, "Faces"):
		return toRegions(response.Faces), nil
	default:
		return nil, fmt.Errorf("unexpected reply type %q", response.Type)
	}
}

// Close ends the shared connection, if any.
func (d *Detector) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.conn == nil {
		return nil
	}
	_ = d.conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second),
	)
	err := d.conn.Close()
	d.conn = nil
	return err
}

func (d *Detector) connLocked(ctx context.Context) (*websocket.Conn, error) {
	if d.conn != nil {
		return d.conn, nil
	}

	wsURL, err := buildDetectURL(d.cfg)
	if err != nil {
		return nil, err
	}

	headers := http.Header{}
	headers.Set("Authorization", "Token "+d.cfg.APIKey)

	dialCtx, cancel := context.WithTimeout(ctx, d.cfg.Timeout)
	defer cancel()

	conn, resp, err := d.dialer.DialContext(dialCtx, wsURL, headers)
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			return nil, fmt.Errorf("failed to connect to facestream websocket: %w (%s)", ports.ErrDetectorRejected, resp.Status)
		}
		return nil, fmt.Errorf("failed to connect to facestream websocket: %w", err)
	}
	d.conn = conn
	return conn, nil
}

func (d *Detector) dropLocked() {
	if d.conn == nil {
		return
	}
	_ = d.conn.Close()
	d.conn = nil
}

type detectResponse struct {
	Type    string       `json:"type"`
	Message string       `json:"message"`
	Faces   []remoteFace `json:"faces"`
}

type remoteFace struct {
	X          int     `json:"x"`
	Y          int     `json:"y"`
	Width      int     `json:"width"`
	Height     int     `json:"height"`
	Confidence float64 `json:"confidence"`
}

func toRegions(faces []remoteFace) []domain.FaceRegion {
	if len(faces) == 0 {
		return nil
	}
	regions := make([]domain.FaceRegion, 0, len(faces))
	for _, face := range faces {
		regions = append(regions, domain.FaceRegion{
			X:          face.X,
			Y:          face.Y,
			Width:      face.Width,
			Height:     face.Height,
			Confidence: face.Confidence,
		})
	}
	return regions
}

func buildDetectURL(cfg Config) (string, error) {
	base := strings.TrimSpace(cfg.APIBaseURL)
	if base == "" {
		base = defaultAPIBaseURL
	}

	if strings.HasPrefix(base, "https://") {
		base = "wss://" + strings.TrimPrefix(base, "https://")
	} else if strings.HasPrefix(base, "http://") {
		base = "ws://" + strings.TrimPrefix(base, "http://")
	}
	base = strings.TrimRight(base, "/")

	detectURL, err := url.Parse(base + "/detect")
	if err != nil {
		return "", fmt.Errorf("invalid facestream API base URL: %w", err)
	}

	query := detectURL.Query()
	if cfg.MinConfidence > 0 {
		query.Set("min_confidence", strconv.FormatFloat(cfg.MinConfidence, 'f', -1, 64))
	}
	if cfg.MaxFaces > 0 {
		query.Set("max_faces", strconv.Itoa(cfg.MaxFaces))
	}
	detectURL.RawQuery = query.Encode()
	return detectURL.String(), nil
}
